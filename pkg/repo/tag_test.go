package repo

import (
	"testing"

	"github.com/strandvcs/strand/pkg/object"
)

func TestCreateTag_Lightweight(t *testing.T) {
	r, h := initRepoWithCommit(t)

	tag, err := r.CreateTag("v0.1.0", "")
	if err != nil {
		t.Fatalf("CreateTag: %v", err)
	}
	if tag.Annotated {
		t.Error("lightweight tag reported annotated")
	}
	// A lightweight tag's ref stores the commit itself.
	if tag.Hash != h {
		t.Errorf("Hash = %s, want %s", tag.Hash, h)
	}
}

func TestCreateAnnotatedTag(t *testing.T) {
	r, h := initRepoWithCommit(t)

	tag, err := r.CreateAnnotatedTag("v1.0.0", "", "first release")
	if err != nil {
		t.Fatalf("CreateAnnotatedTag: %v", err)
	}
	if !tag.Annotated {
		t.Fatal("tag not annotated")
	}
	if tag.Hash == h {
		t.Fatal("annotated tag ref should store the tag object, not the commit")
	}

	obj, err := r.Store.ReadTag(tag.Hash)
	if err != nil {
		t.Fatalf("ReadTag: %v", err)
	}
	if obj.TargetHash != h || obj.TargetType != object.TypeCommit {
		t.Errorf("tag object = %+v", obj)
	}
	if obj.Message != "first release" || obj.Name != "v1.0.0" {
		t.Errorf("tag object = %+v", obj)
	}
	if obj.Tagger == "" || obj.TagTime == 0 {
		t.Errorf("tagger metadata missing: %+v", obj)
	}
}

func TestCreateAnnotatedTag_RequiresMessage(t *testing.T) {
	r, _ := initRepoWithCommit(t)

	if _, err := r.CreateAnnotatedTag("v1", "", "   "); err == nil {
		t.Fatal("blank message should be rejected")
	}
}

func TestCreateTag_DuplicateRejected(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	if _, err := r.CreateTag("v1", ""); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}
	if _, err := r.CreateTag("v1", ""); err == nil {
		t.Fatal("duplicate tag should fail")
	}
}

func TestListTags_ReportsAnnotation(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	if _, err := r.CreateTag("light", ""); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}
	if _, err := r.CreateAnnotatedTag("annot", "", "msg"); err != nil {
		t.Fatalf("CreateAnnotatedTag: %v", err)
	}

	tags, err := r.ListTags()
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("got %d tags, want 2", len(tags))
	}
	// Sorted by name: annot, light.
	if tags[0].Name != "annot" || !tags[0].Annotated {
		t.Errorf("tags[0] = %+v", tags[0])
	}
	if tags[1].Name != "light" || tags[1].Annotated {
		t.Errorf("tags[1] = %+v", tags[1])
	}
}

func TestDeleteTag(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	annotated, err := r.CreateAnnotatedTag("v1", "", "msg")
	if err != nil {
		t.Fatalf("CreateAnnotatedTag: %v", err)
	}

	if err := r.DeleteTag("v1"); err != nil {
		t.Fatalf("DeleteTag: %v", err)
	}
	tags, err := r.ListTags()
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("tags = %+v, want none", tags)
	}
	// The tag object itself is retained in the store.
	if !r.Store.Has(annotated.Hash) {
		t.Error("tag object should survive ref deletion")
	}

	if err := r.DeleteTag("v1"); err == nil {
		t.Error("deleting a missing tag should fail")
	}
}
