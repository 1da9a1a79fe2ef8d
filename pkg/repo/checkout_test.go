package repo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckout_SwitchBranch(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	commitOnBranch(t, r, "dev", "dev.txt", []byte("dev\n"), "dev work")
	if err := r.Checkout("main", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout(main): %v", err)
	}

	// dev.txt is gone on main, back on dev it returns.
	if _, err := os.Stat(filepath.Join(r.RootDir, "dev.txt")); !os.IsNotExist(err) {
		t.Error("dev.txt should not exist on main")
	}
	if err := r.Checkout("dev", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout(dev): %v", err)
	}
	if got := readWorktree(t, r, "dev.txt"); got != "dev\n" {
		t.Errorf("dev.txt = %q", got)
	}

	head, err := r.ResolveHead()
	if err != nil {
		t.Fatalf("ResolveHead: %v", err)
	}
	if head.Detached || head.Branch != "refs/heads/dev" {
		t.Errorf("head = %+v, want on dev", head)
	}
}

func TestCheckout_ReflogReason(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	if _, err := r.CreateBranch("dev", ""); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := r.Checkout("dev", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	entries, err := r.ReadReflog("HEAD")
	if err != nil {
		t.Fatalf("ReadReflog: %v", err)
	}
	last := entries[len(entries)-1]
	if last.Reason != "checkout: moving from main to dev" {
		t.Errorf("reason = %q", last.Reason)
	}
}

func TestCheckout_SameBranchIsReferenceOnly(t *testing.T) {
	r, _ := initRepoWithCommit(t)

	// A local modification survives: no tree walk without Force.
	if err := os.WriteFile(filepath.Join(r.RootDir, "main.txt"), []byte("scratch\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	before, err := r.ReadReflog("HEAD")
	if err != nil {
		t.Fatalf("ReadReflog: %v", err)
	}
	if err := r.Checkout("main", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout(main): %v", err)
	}

	if got := readWorktree(t, r, "main.txt"); got != "scratch\n" {
		t.Errorf("main.txt = %q, want local change kept", got)
	}
	after, err := r.ReadReflog("HEAD")
	if err != nil {
		t.Fatalf("ReadReflog: %v", err)
	}
	if len(after) != len(before)+1 {
		t.Fatalf("reflog grew by %d entries, want 1", len(after)-len(before))
	}
	if last := after[len(after)-1]; last.Reason != "checkout: moving from main to main" {
		t.Errorf("reason = %q", last.Reason)
	}
}

func TestCheckout_SameBranchForceRestoresWorktree(t *testing.T) {
	r, tip := initRepoWithCommit(t)

	if err := os.WriteFile(filepath.Join(r.RootDir, "main.txt"), []byte("scratch\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var touched []string
	err := r.Checkout("main", CheckoutOptions{
		Force:  true,
		Notify: func(p string) { touched = append(touched, p) },
	})
	if err != nil {
		t.Fatalf("forced checkout: %v", err)
	}

	if got := readWorktree(t, r, "main.txt"); got != "one\ntwo\nthree\n" {
		t.Errorf("main.txt = %q, want committed content restored", got)
	}
	if len(touched) != 1 || touched[0] != "main.txt" {
		t.Errorf("touched = %v, want [main.txt]", touched)
	}

	entries, err := r.ReadReflog("HEAD")
	if err != nil {
		t.Fatalf("ReadReflog: %v", err)
	}
	last := entries[len(entries)-1]
	if last.Reason != "checkout: moving from main to main" || last.NewHash != tip {
		t.Errorf("reflog entry = %+v", last)
	}
}

func TestCheckout_DetachOnCommitHash(t *testing.T) {
	r, first := initRepoWithCommit(t)
	writeAndAdd(t, r, "main.txt", []byte("v2\n"))
	mustCommit(t, r, "second")

	if err := r.Checkout(string(first), CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout(hash): %v", err)
	}

	head, err := r.ResolveHead()
	if err != nil {
		t.Fatalf("ResolveHead: %v", err)
	}
	if !head.Detached || head.Hash != first {
		t.Errorf("head = %+v, want detached at %s", head, first)
	}
	// The worktree reflects the old commit.
	if got := readWorktree(t, r, "main.txt"); got != "one\ntwo\nthree\n" {
		t.Errorf("main.txt = %q", got)
	}
}

func TestCheckout_DirtyWorktreeRefused(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	commitOnBranch(t, r, "dev", "main.txt", []byte("dev version\n"), "dev edit")
	if err := r.Checkout("main", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout(main): %v", err)
	}

	// Local, uncommitted modification to a file the checkout would change.
	if err := os.WriteFile(filepath.Join(r.RootDir, "main.txt"), []byte("precious local work\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	err := r.Checkout("dev", CheckoutOptions{})
	var conflict *CheckoutConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want CheckoutConflictError", err)
	}
	if len(conflict.Paths) != 1 || conflict.Paths[0] != "main.txt" {
		t.Errorf("Paths = %v", conflict.Paths)
	}

	// Nothing was mutated.
	if got := readWorktree(t, r, "main.txt"); got != "precious local work\n" {
		t.Errorf("local change lost: %q", got)
	}
	head, err := r.ResolveHead()
	if err != nil {
		t.Fatalf("ResolveHead: %v", err)
	}
	if head.Branch != "refs/heads/main" {
		t.Errorf("HEAD moved to %q", head.Branch)
	}
}

func TestCheckout_ForceOverwritesDirty(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	commitOnBranch(t, r, "dev", "main.txt", []byte("dev version\n"), "dev edit")
	if err := r.Checkout("main", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout(main): %v", err)
	}
	if err := os.WriteFile(filepath.Join(r.RootDir, "main.txt"), []byte("scratch\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := r.Checkout("dev", CheckoutOptions{Force: true}); err != nil {
		t.Fatalf("forced checkout: %v", err)
	}
	if got := readWorktree(t, r, "main.txt"); got != "dev version\n" {
		t.Errorf("main.txt = %q", got)
	}
}

func TestCheckout_NotifyReportsTouchedPaths(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	commitOnBranch(t, r, "dev", "dev.txt", []byte("dev\n"), "dev work")
	if err := r.Checkout("main", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout(main): %v", err)
	}

	var touched []string
	err := r.Checkout("dev", CheckoutOptions{Notify: func(p string) { touched = append(touched, p) }})
	if err != nil {
		t.Fatalf("Checkout(dev): %v", err)
	}
	if len(touched) != 1 || touched[0] != "dev.txt" {
		t.Errorf("touched = %v, want [dev.txt]", touched)
	}
}

func TestCheckoutBranch_StaleTipKeepsSymbolicHead(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	commitOnBranch(t, r, "dev", "dev.txt", []byte("v1\n"), "dev v1")
	if err := r.Checkout("main", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout(main): %v", err)
	}

	stale, err := r.LookupBranch("dev")
	if err != nil {
		t.Fatalf("LookupBranch: %v", err)
	}

	// The branch moves after the lookup.
	commitOnBranch(t, r, "dev", "dev.txt", []byte("v2\n"), "dev v2")
	if err := r.Checkout("main", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout(main): %v", err)
	}

	// Checking out the stale snapshot realizes the recorded tip's tree
	// but leaves HEAD symbolic on the branch, with the reflog recording
	// the tip hash instead of the moved ref target.
	if err := r.CheckoutBranch(stale, CheckoutOptions{}); err != nil {
		t.Fatalf("CheckoutBranch: %v", err)
	}
	head, err := r.ResolveHead()
	if err != nil {
		t.Fatalf("ResolveHead: %v", err)
	}
	if head.Detached || head.Branch != "refs/heads/dev" {
		t.Errorf("head = %+v, want symbolic on dev", head)
	}
	if got := readWorktree(t, r, "dev.txt"); got != "v1\n" {
		t.Errorf("dev.txt = %q", got)
	}

	entries, err := r.ReadReflog("HEAD")
	if err != nil {
		t.Fatalf("ReadReflog: %v", err)
	}
	if last := entries[len(entries)-1]; last.NewHash != stale.Tip {
		t.Errorf("reflog NewHash = %s, want recorded tip %s", last.NewHash, stale.Tip)
	}
}

func TestCheckoutBranch_FreshTipSwitchesNormally(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	commitOnBranch(t, r, "dev", "dev.txt", []byte("v1\n"), "dev v1")
	if err := r.Checkout("main", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout(main): %v", err)
	}

	b, err := r.LookupBranch("dev")
	if err != nil {
		t.Fatalf("LookupBranch: %v", err)
	}
	if err := r.CheckoutBranch(b, CheckoutOptions{}); err != nil {
		t.Fatalf("CheckoutBranch: %v", err)
	}

	head, err := r.ResolveHead()
	if err != nil {
		t.Fatalf("ResolveHead: %v", err)
	}
	if head.Detached || head.Branch != "refs/heads/dev" {
		t.Errorf("head = %+v, want on dev", head)
	}
}

func TestCheckoutPaths_RestoresFromIndex(t *testing.T) {
	r, _ := initRepoWithCommit(t)

	if err := os.WriteFile(filepath.Join(r.RootDir, "main.txt"), []byte("scribble\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := r.CheckoutPaths([]string{filepath.Join(r.RootDir, "main.txt")}); err != nil {
		t.Fatalf("CheckoutPaths: %v", err)
	}
	if got := readWorktree(t, r, "main.txt"); got != "one\ntwo\nthree\n" {
		t.Errorf("main.txt = %q", got)
	}
}
