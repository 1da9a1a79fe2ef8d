package repo

import (
	"errors"
	"strings"
	"testing"
)

func TestCreateBranch_AtHEAD(t *testing.T) {
	r, h := initRepoWithCommit(t)

	b, err := r.CreateBranch("dev", "")
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if b.Name != "dev" || b.Tip != h {
		t.Errorf("branch = %+v", b)
	}

	entries, err := r.ReadReflog("refs/heads/dev")
	if err != nil {
		t.Fatalf("ReadReflog: %v", err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Reason, "branch: created from ") {
		t.Errorf("reflog = %+v", entries)
	}
}

func TestCreateBranch_AtCommit(t *testing.T) {
	r, first := initRepoWithCommit(t)
	writeAndAdd(t, r, "main.txt", []byte("v2\n"))
	mustCommit(t, r, "second")

	b, err := r.CreateBranch("old", string(first))
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if b.Tip != first {
		t.Errorf("Tip = %s, want %s", b.Tip, first)
	}
}

func TestCreateBranch_DuplicateRejected(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	if _, err := r.CreateBranch("dev", ""); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if _, err := r.CreateBranch("dev", ""); err == nil {
		t.Fatal("duplicate branch should fail")
	}
}

func TestCreateBranch_InvalidNames(t *testing.T) {
	r, _ := initRepoWithCommit(t)

	for _, name := range []string{"", "has space", "a..b", "/leading", "trailing/", "x.lock", "ast*risk", "ques?tion"} {
		if _, err := r.CreateBranch(name, ""); err == nil {
			t.Errorf("CreateBranch(%q) should fail", name)
		}
	}
}

func TestListBranches_Sorted(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := r.CreateBranch(name, ""); err != nil {
			t.Fatalf("CreateBranch(%s): %v", name, err)
		}
	}

	branches, err := r.ListBranches()
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}
	want := []string{"alpha", "main", "mid", "zeta"}
	if len(branches) != len(want) {
		t.Fatalf("got %d branches, want %d", len(branches), len(want))
	}
	for i, b := range branches {
		if b.Name != want[i] {
			t.Errorf("branch[%d] = %q, want %q", i, b.Name, want[i])
		}
	}
}

func TestDeleteBranch_CheckedOutRejected(t *testing.T) {
	r, _ := initRepoWithCommit(t)

	if err := r.DeleteBranch("main", false); err == nil {
		t.Fatal("deleting the checked-out branch should fail")
	}
}

func TestDeleteBranch_UnmergedNeedsForce(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	commitOnBranch(t, r, "dev", "dev.txt", []byte("d\n"), "dev work")
	if err := r.Checkout("main", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout(main): %v", err)
	}

	if err := r.DeleteBranch("dev", false); err == nil {
		t.Fatal("unmerged branch delete without force should fail")
	}
	if err := r.DeleteBranch("dev", true); err != nil {
		t.Fatalf("forced delete: %v", err)
	}
	if _, err := r.LookupBranch("dev"); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup after delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteBranch_MergedDeletesCleanly(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	if _, err := r.CreateBranch("same", ""); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}

	if err := r.DeleteBranch("same", false); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}
	// The branch's reflog goes with it.
	entries, err := r.ReadReflog("refs/heads/same")
	if err != nil {
		t.Fatalf("ReadReflog: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("reflog survived deletion: %+v", entries)
	}
}

func TestCurrentBranch(t *testing.T) {
	r, h := initRepoWithCommit(t)

	b, err := r.CurrentBranch()
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if b.Name != "main" || b.Tip != h {
		t.Errorf("branch = %+v", b)
	}

	// Detached HEAD has no current branch.
	if err := r.Checkout(string(h), CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if _, err := r.CurrentBranch(); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
