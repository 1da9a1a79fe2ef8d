package repo

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/strandvcs/strand/pkg/object"
)

// Tag is a named tag. Hash is what the ref stores: the target commit for
// a lightweight tag, or the tag object for an annotated one.
type Tag struct {
	Name      string
	Hash      object.Hash
	Annotated bool
}

// CreateTag creates a lightweight tag pointing at the given commit-ish
// (HEAD when empty). The tag must not already exist.
func (r *Repo) CreateTag(name, at string) (Tag, error) {
	return r.createTag(name, at, "")
}

// CreateAnnotatedTag creates a tag object carrying a message and tagger,
// with the tag ref pointing at the tag object.
func (r *Repo) CreateAnnotatedTag(name, at, message string) (Tag, error) {
	if err := requireNonEmpty("tag message", strings.TrimSpace(message)); err != nil {
		return Tag{}, fmt.Errorf("create tag: %w", err)
	}
	return r.createTag(name, at, message)
}

func (r *Repo) createTag(name, at, message string) (Tag, error) {
	if err := validBranchName(name); err != nil {
		return Tag{}, fmt.Errorf("create tag: %w", err)
	}
	ref := "refs/tags/" + name
	if _, exists, err := r.readRef(ref); err != nil {
		return Tag{}, fmt.Errorf("create tag: %w", err)
	} else if exists {
		return Tag{}, fmt.Errorf("create tag: %q already exists", name)
	}

	if at == "" {
		at = "HEAD"
	}
	target, err := r.ResolveCommit(at)
	if err != nil {
		return Tag{}, fmt.Errorf("create tag: resolve %q: %w", at, err)
	}

	refTarget := target
	annotated := message != ""
	if annotated {
		tagHash, err := r.Store.WriteTag(&object.TagObj{
			TargetHash: target,
			TargetType: object.TypeCommit,
			Name:       name,
			Tagger:     r.reflogIdentity(),
			TagTime:    time.Now().Unix(),
			Message:    message,
		})
		if err != nil {
			return Tag{}, fmt.Errorf("create tag: write tag object: %w", err)
		}
		refTarget = tagHash
	}

	if err := r.UpdateRefCAS(ref, refTarget, "tag: "+name, ""); err != nil {
		return Tag{}, fmt.Errorf("create tag: %w", err)
	}
	return Tag{Name: name, Hash: refTarget, Annotated: annotated}, nil
}

// ListTags returns all tags sorted by name.
func (r *Repo) ListTags() ([]Tag, error) {
	refs, err := r.ListRefs("refs/tags")
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}

	tags := make([]Tag, 0, len(refs))
	for ref, h := range refs {
		objType, _, err := r.Store.Read(h)
		if err != nil {
			return nil, fmt.Errorf("list tags: read %s: %w", h, err)
		}
		tags = append(tags, Tag{
			Name:      strings.TrimPrefix(ref, "refs/tags/"),
			Hash:      h,
			Annotated: objType == object.TypeTag,
		})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}

// DeleteTag removes a tag ref. The tag object of an annotated tag stays
// in the store.
func (r *Repo) DeleteTag(name string) error {
	ref := "refs/tags/" + name
	if _, exists, err := r.readRef(ref); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	} else if !exists {
		return fmt.Errorf("delete tag: %q: %w", name, ErrNotFound)
	}
	if err := os.Remove(r.refPath(ref)); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if err := os.Remove(r.reflogPath(ref)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete tag: remove reflog: %w", err)
	}
	return nil
}
