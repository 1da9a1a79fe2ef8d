package repo

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/strandvcs/strand/pkg/object"
)

// helper: commitOnBranch checks out branch (creating it at HEAD if
// missing), writes content to name and commits.
func commitOnBranch(t *testing.T, r *Repo, branch, name string, content []byte, message string) object.Hash {
	t.Helper()
	if _, err := r.LookupBranch(branch); errors.Is(err, ErrNotFound) {
		if _, err := r.CreateBranch(branch, ""); err != nil {
			t.Fatalf("CreateBranch(%s): %v", branch, err)
		}
	}
	if err := r.Checkout(branch, CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout(%s): %v", branch, err)
	}
	writeAndAdd(t, r, name, content)
	return mustCommit(t, r, message)
}

func readWorktree(t *testing.T, r *Repo, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(r.RootDir, name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

func TestAnalyzeMerge_UpToDate(t *testing.T) {
	r, first := initRepoWithCommit(t)
	writeAndAdd(t, r, "main.txt", []byte("v2\n"))
	mustCommit(t, r, "second")

	a, err := r.AnalyzeMerge([]object.Hash{first})
	if err != nil {
		t.Fatalf("AnalyzeMerge: %v", err)
	}
	if !a.IsUpToDate() {
		t.Errorf("analysis = %s, want up-to-date", a)
	}
}

func TestAnalyzeMerge_FastForward(t *testing.T) {
	r, first := initRepoWithCommit(t)
	ahead := commitOnBranch(t, r, "topic", "topic.txt", []byte("t\n"), "on topic")

	// Back on main, which is strictly behind topic.
	if err := r.Checkout("main", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout(main): %v", err)
	}
	if head, _ := r.ResolveHead(); head.Hash != first {
		t.Fatalf("setup: main at %s, want %s", head.Hash, first)
	}

	a, err := r.AnalyzeMerge([]object.Hash{ahead})
	if err != nil {
		t.Fatalf("AnalyzeMerge: %v", err)
	}
	if !a.CanFastForward() || a.IsUpToDate() {
		t.Errorf("analysis = %s, want fast-forward", a)
	}
}

func TestAnalyzeMerge_Normal(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	other := commitOnBranch(t, r, "feature", "feature.txt", []byte("f\n"), "on feature")
	commitOnBranch(t, r, "main", "main-only.txt", []byte("m\n"), "diverge main")

	a, err := r.AnalyzeMerge([]object.Hash{other})
	if err != nil {
		t.Fatalf("AnalyzeMerge: %v", err)
	}
	if !a.RequiresNormal() {
		t.Errorf("analysis = %s, want normal", a)
	}
}

func TestMerge_UpToDateTouchesNothing(t *testing.T) {
	r, first := initRepoWithCommit(t)
	writeAndAdd(t, r, "main.txt", []byte("v2\n"))
	mustCommit(t, r, "second")

	before, err := r.ReadReflog("refs/heads/main")
	if err != nil {
		t.Fatalf("ReadReflog: %v", err)
	}

	result, err := r.Merge([]string{string(first)}, MergeOptions{})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Status != MergeUpToDate {
		t.Fatalf("status = %s, want up-to-date", result.Status)
	}

	after, err := r.ReadReflog("refs/heads/main")
	if err != nil {
		t.Fatalf("ReadReflog: %v", err)
	}
	if len(after) != len(before) {
		t.Error("up-to-date merge wrote a reflog entry")
	}
}

func TestMerge_FastForwardMovesPointerWithoutCommit(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	ahead := commitOnBranch(t, r, "topic", "topic.txt", []byte("t\n"), "on topic")
	if err := r.Checkout("main", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout(main): %v", err)
	}

	result, err := r.Merge([]string{"topic"}, MergeOptions{})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Status != MergeFastForward {
		t.Fatalf("status = %s, want fast-forward", result.Status)
	}
	if result.CommitHash != ahead {
		t.Errorf("CommitHash = %s, want %s", result.CommitHash, ahead)
	}

	// No merge commit: the history is exactly the topic history.
	head, err := r.ResolveHead()
	if err != nil {
		t.Fatalf("ResolveHead: %v", err)
	}
	if head.Hash != ahead {
		t.Errorf("HEAD = %s, want %s", head.Hash, ahead)
	}
	commits, err := r.Log(head.Hash, 0)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(commits) != 2 {
		t.Errorf("got %d commits, want 2 (no merge commit)", len(commits))
	}

	// The target tree is realized in the worktree.
	if got := readWorktree(t, r, "topic.txt"); got != "t\n" {
		t.Errorf("topic.txt = %q", got)
	}

	entries, err := r.ReadReflog("refs/heads/main")
	if err != nil {
		t.Fatalf("ReadReflog: %v", err)
	}
	last := entries[len(entries)-1]
	if last.Reason != "merge topic: fast-forward" {
		t.Errorf("reason = %q", last.Reason)
	}
}

func TestMerge_FastForwardOnlyRefusesDiverged(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	commitOnBranch(t, r, "feature", "feature.txt", []byte("f\n"), "on feature")
	commitOnBranch(t, r, "main", "main-only.txt", []byte("m\n"), "diverge main")

	_, err := r.Merge([]string{"feature"}, MergeOptions{Strategy: MergeFastForwardOnly})
	if !errors.Is(err, ErrNonFastForward) {
		t.Fatalf("err = %v, want ErrNonFastForward", err)
	}
}

func TestMerge_FastForwardOnlyRefusesAlreadyMerged(t *testing.T) {
	r, _ := initRepoWithCommit(t)

	// master stays at the first commit while main moves ahead, so master
	// is already reachable from HEAD.
	if _, err := r.CreateBranch("master", ""); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	writeAndAdd(t, r, "main.txt", []byte("v2\n"))
	second := mustCommit(t, r, "second")

	// No pointer move is possible, so ff-only refuses even though the
	// head is an ancestor.
	_, err := r.Merge([]string{"master"}, MergeOptions{Strategy: MergeFastForwardOnly})
	if !errors.Is(err, ErrNonFastForward) {
		t.Fatalf("err = %v, want ErrNonFastForward", err)
	}

	head, err := r.ResolveHead()
	if err != nil {
		t.Fatalf("ResolveHead: %v", err)
	}
	if head.Hash != second {
		t.Errorf("HEAD = %s, want unchanged %s", head.Hash, second)
	}

	// The default strategy still reports up-to-date for the same head.
	result, err := r.Merge([]string{"master"}, MergeOptions{})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Status != MergeUpToDate {
		t.Errorf("status = %s, want up-to-date", result.Status)
	}
}

func TestMerge_NoFastForwardCreatesCommit(t *testing.T) {
	r, first := initRepoWithCommit(t)
	ahead := commitOnBranch(t, r, "topic", "topic.txt", []byte("t\n"), "on topic")
	if err := r.Checkout("main", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout(main): %v", err)
	}

	result, err := r.Merge([]string{"topic"}, MergeOptions{Strategy: MergeNoFastForward})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Status != MergeNonFastForward {
		t.Fatalf("status = %s, want merged", result.Status)
	}

	c, err := r.Store.ReadCommit(result.CommitHash)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if len(c.Parents) != 2 || c.Parents[0] != first || c.Parents[1] != ahead {
		t.Errorf("Parents = %v, want [%s %s]", c.Parents, first, ahead)
	}
}

func TestMerge_CleanCreatesMergeCommit(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	theirTip := commitOnBranch(t, r, "feature", "feature.txt", []byte("f\n"), "on feature")
	ourTip := commitOnBranch(t, r, "main", "main-only.txt", []byte("m\n"), "diverge main")

	result, err := r.Merge([]string{"feature"}, MergeOptions{})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Status != MergeNonFastForward {
		t.Fatalf("status = %s, want merged", result.Status)
	}

	c, err := r.Store.ReadCommit(result.CommitHash)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if len(c.Parents) != 2 || c.Parents[0] != ourTip || c.Parents[1] != theirTip {
		t.Errorf("Parents = %v, want [%s %s]", c.Parents, ourTip, theirTip)
	}
	if c.Message != "Merge branch 'feature'" {
		t.Errorf("Message = %q", c.Message)
	}

	// Both sides' files are present.
	if got := readWorktree(t, r, "feature.txt"); got != "f\n" {
		t.Errorf("feature.txt = %q", got)
	}
	if got := readWorktree(t, r, "main-only.txt"); got != "m\n" {
		t.Errorf("main-only.txt = %q", got)
	}

	// The operation is finished: no pending state remains.
	pending, err := r.MergeInProgress()
	if err != nil {
		t.Fatalf("MergeInProgress: %v", err)
	}
	if pending {
		t.Error("merge state not cleared after auto-commit")
	}

	entries, err := r.ReadReflog("refs/heads/main")
	if err != nil {
		t.Fatalf("ReadReflog: %v", err)
	}
	last := entries[len(entries)-1]
	if !strings.HasPrefix(last.Reason, "commit (merge): ") {
		t.Errorf("reason = %q", last.Reason)
	}
}

func TestMerge_NoCommitLeavesStagedState(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	theirTip := commitOnBranch(t, r, "feature", "feature.txt", []byte("f\n"), "on feature")
	commitOnBranch(t, r, "main", "main-only.txt", []byte("m\n"), "diverge main")

	result, err := r.Merge([]string{"feature"}, MergeOptions{NoCommit: true})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Status != MergeNonFastForward || result.CommitHash != "" {
		t.Fatalf("result = %+v, want staged merge without commit", result)
	}

	pending, err := r.MergeInProgress()
	if err != nil {
		t.Fatalf("MergeInProgress: %v", err)
	}
	if !pending {
		t.Fatal("MERGE_HEAD missing after --no-commit merge")
	}

	// A later plain commit finishes the merge with two parents and the
	// prepared message.
	h, err := r.Commit("")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	c, err := r.Store.ReadCommit(h)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if len(c.Parents) != 2 || c.Parents[1] != theirTip {
		t.Errorf("Parents = %v", c.Parents)
	}
	if c.Message != "Merge branch 'feature'" {
		t.Errorf("Message = %q", c.Message)
	}
}

func TestMerge_ConflictStagesAllThreeSides(t *testing.T) {
	r, _ := initRepoWithCommit(t)

	// Both sides edit the same line of main.txt.
	theirTip := commitOnBranch(t, r, "feature", "main.txt", []byte("one\nFEATURE\nthree\n"), "feature edit")
	commitOnBranch(t, r, "main", "main.txt", []byte("one\nMAIN\nthree\n"), "main edit")

	result, err := r.Merge([]string{"feature"}, MergeOptions{})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Status != MergeConflicts {
		t.Fatalf("status = %s, want conflicts", result.Status)
	}
	if len(result.ConflictedPaths) != 1 || result.ConflictedPaths[0] != "main.txt" {
		t.Fatalf("ConflictedPaths = %v", result.ConflictedPaths)
	}

	// Conflict markers in the worktree, labeled by branch.
	content := readWorktree(t, r, "main.txt")
	for _, marker := range []string{"<<<<<<< main", "MAIN", "=======", "FEATURE", ">>>>>>> feature"} {
		if !strings.Contains(content, marker) {
			t.Errorf("worktree missing %q:\n%s", marker, content)
		}
	}

	// All three stages recorded.
	idx, err := r.ReadIndex()
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	for _, stage := range []int{StageAncestor, StageOurs, StageTheirs} {
		if idx.Entry("main.txt", stage) == nil {
			t.Errorf("stage %d missing", stage)
		}
	}
	if idx.IsFullyMerged() {
		t.Error("index should hold conflicts")
	}

	// MERGE_HEAD names the merged commit; HEAD has not moved.
	heads, err := r.readMergeHeads()
	if err != nil {
		t.Fatalf("readMergeHeads: %v", err)
	}
	if len(heads) != 1 || heads[0].Hash != theirTip || heads[0].Kind != MergeKindMerge {
		t.Errorf("merge heads = %+v", heads)
	}

	// Committing now fails until the conflict is resolved.
	if _, err := r.Commit("premature"); !errors.Is(err, ErrIndexConflicts) {
		t.Errorf("premature commit err = %v, want ErrIndexConflicts", err)
	}

	// Resolve, stage, commit: the merge commit carries both parents.
	writeAndAdd(t, r, "main.txt", []byte("one\nRESOLVED\nthree\n"))
	h, err := r.Commit("")
	if err != nil {
		t.Fatalf("Commit after resolve: %v", err)
	}
	c, err := r.Store.ReadCommit(h)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if len(c.Parents) != 2 || c.Parents[1] != theirTip {
		t.Errorf("Parents = %v", c.Parents)
	}

	pending, err := r.MergeInProgress()
	if err != nil {
		t.Fatalf("MergeInProgress: %v", err)
	}
	if pending {
		t.Error("merge state survived the concluding commit")
	}
}

func TestMerge_DeleteVersusModifyConflicts(t *testing.T) {
	r, _ := initRepoWithCommit(t)

	// Feature deletes main.txt; main modifies it.
	if _, err := r.CreateBranch("feature", ""); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := r.Checkout("feature", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if err := r.Remove([]string{filepath.Join(r.RootDir, "main.txt")}, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	writeAndAdd(t, r, "keep.txt", []byte("keep\n"))
	mustCommit(t, r, "delete main.txt")

	commitOnBranch(t, r, "main", "main.txt", []byte("one\nEDITED\nthree\n"), "edit main.txt")

	result, err := r.Merge([]string{"feature"}, MergeOptions{})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Status != MergeConflicts {
		t.Fatalf("status = %s, want conflicts", result.Status)
	}

	idx, err := r.ReadIndex()
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	// Modify-vs-delete: ancestor and ours exist, theirs is absent.
	if idx.Entry("main.txt", StageAncestor) == nil || idx.Entry("main.txt", StageOurs) == nil {
		t.Error("stages 1 and 2 should be present")
	}
	if idx.Entry("main.txt", StageTheirs) != nil {
		t.Error("stage 3 should be absent for the deleting side")
	}

	// Our modified content survives in the worktree.
	if got := readWorktree(t, r, "main.txt"); !strings.Contains(got, "EDITED") {
		t.Errorf("main.txt = %q", got)
	}
}

func TestMerge_OctopusFoldsAllHeads(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	tipA := commitOnBranch(t, r, "branch-a", "a.txt", []byte("a\n"), "on a")
	if err := r.Checkout("main", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	tipB := commitOnBranch(t, r, "branch-b", "b.txt", []byte("b\n"), "on b")
	commitOnBranch(t, r, "main", "main-only.txt", []byte("m\n"), "diverge main")

	result, err := r.Merge([]string{"branch-a", "branch-b"}, MergeOptions{})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Status != MergeNonFastForward {
		t.Fatalf("status = %s", result.Status)
	}

	c, err := r.Store.ReadCommit(result.CommitHash)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if len(c.Parents) != 3 || c.Parents[1] != tipA || c.Parents[2] != tipB {
		t.Errorf("Parents = %v", c.Parents)
	}
	if c.Message != "Merge branches 'branch-a', 'branch-b'" {
		t.Errorf("Message = %q", c.Message)
	}

	for _, f := range []string{"a.txt", "b.txt", "main-only.txt"} {
		if _, err := os.Stat(filepath.Join(r.RootDir, f)); err != nil {
			t.Errorf("%s missing after octopus merge: %v", f, err)
		}
	}
}

func TestMerge_UnbornBranchFastForwards(t *testing.T) {
	r, tip := initRepoWithCommit(t)

	// Point HEAD at a branch with no commits; merging an existing branch
	// births it by fast-forward.
	if err := os.WriteFile(filepath.Join(r.StrandDir, "HEAD"), []byte("ref: refs/heads/newborn\n"), 0o644); err != nil {
		t.Fatalf("write HEAD: %v", err)
	}

	result, err := r.Merge([]string{"main"}, MergeOptions{})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Status != MergeFastForward {
		t.Fatalf("status = %s, want fast-forward", result.Status)
	}

	head, err := r.ResolveHead()
	if err != nil {
		t.Fatalf("ResolveHead: %v", err)
	}
	if head.Unborn || head.Branch != "refs/heads/newborn" || head.Hash != tip {
		t.Errorf("head = %+v, want newborn at %s", head, tip)
	}
}

func TestMerge_RefusedWhileOperationPending(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	commitOnBranch(t, r, "feature", "main.txt", []byte("one\nFEATURE\nthree\n"), "feature edit")
	commitOnBranch(t, r, "main", "main.txt", []byte("one\nMAIN\nthree\n"), "main edit")

	if result, err := r.Merge([]string{"feature"}, MergeOptions{}); err != nil || result.Status != MergeConflicts {
		t.Fatalf("setup merge: %v / %+v", err, result)
	}

	if _, err := r.Merge([]string{"feature"}, MergeOptions{}); err == nil {
		t.Fatal("second merge during pending conflict should fail")
	}
}
