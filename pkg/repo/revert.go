package repo

import (
	"fmt"

	"github.com/strandvcs/strand/pkg/object"
)

// PickOptions controls Revert and CherryPick.
type PickOptions struct {
	// Mainline selects the parent (1-based) to diff against when the
	// target commit is a merge. Zero means the sole parent; reverting or
	// picking a merge commit without Mainline is an error.
	Mainline int

	// NoCommit leaves the clean result staged instead of committing it.
	NoCommit bool

	Signer CommitSigner
}

// Revert applies the inverse of the named commit on top of HEAD as a
// synthetic three-way merge: the reverted commit's tree is the base and
// its mainline parent's tree is the side being integrated. A clean result
// commits immediately; conflicts are staged with REVERT_HEAD recorded.
func (r *Repo) Revert(spec string, opts PickOptions) (*MergeResult, error) {
	return r.applyPick(spec, opts, MergeKindRevert)
}

// CherryPick applies the change introduced by the named commit on top of
// HEAD: its mainline parent's tree is the base and the commit's own tree
// is the side being integrated. A clean result commits immediately;
// conflicts are staged with CHERRY_PICK_HEAD recorded.
func (r *Repo) CherryPick(spec string, opts PickOptions) (*MergeResult, error) {
	return r.applyPick(spec, opts, MergeKindCherryPick)
}

func (r *Repo) applyPick(spec string, opts PickOptions, kind MergeHeadKind) (*MergeResult, error) {
	op := string(kind)
	if err := r.requireNoPendingOperation(op); err != nil {
		return nil, err
	}

	target, err := r.ResolveCommit(spec)
	if err != nil {
		return nil, fmt.Errorf("%s: resolve %q: %w", op, spec, err)
	}
	commit, err := r.Store.ReadCommit(target)
	if err != nil {
		return nil, fmt.Errorf("%s: read commit %s: %w", op, target, err)
	}

	parentHash, err := mainlineParent(commit, opts.Mainline)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, shortHash(target), err)
	}

	head, err := r.ResolveHead()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if head.Unborn && kind == MergeKindRevert {
		return nil, fmt.Errorf("%s: %w", op, ErrUnbornBranch)
	}

	// The synthetic three-way: cherry-pick integrates parent→commit,
	// revert integrates commit→parent.
	baseHash, theirsHash := parentHash, target
	if kind == MergeKindRevert {
		baseHash, theirsHash = target, parentHash
	}

	oursFiles, err := r.commitFiles(head.Hash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	baseFiles, err := r.commitFiles(baseHash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	theirsFiles, err := r.commitFiles(theirsHash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	label := fmt.Sprintf("%s... %s", shortHash(target), summaryLine(commit.Message))
	merged, conflicts, reports, err := r.mergeFileMaps(baseFiles, oursFiles, theirsFiles, headLabel(head), label)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	message := pickMessage(kind, target, commit)

	if err := r.applyMergeOutcome(oursFiles, merged, conflicts); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	mh := MergeHead{Hash: target, Kind: kind, Label: label}
	if err := r.writeMergeState([]MergeHead{mh}, message); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := &MergeResult{Status: MergeNonFastForward, Files: reports}
	if len(conflicts) > 0 {
		result.Status = MergeConflicts
		result.ConflictedPaths = conflictPaths(conflicts)
		return result, nil
	}
	if opts.NoCommit {
		return result, nil
	}

	commitHash, err := r.CommitWithOptions(message, CommitOptions{Signer: opts.Signer})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	result.CommitHash = commitHash
	return result, nil
}

// mainlineParent returns the selected parent of commit, or empty for a
// root commit (its "parent tree" is the empty tree).
func mainlineParent(commit *object.CommitObj, mainline int) (object.Hash, error) {
	switch {
	case len(commit.Parents) == 0:
		if mainline > 0 {
			return "", fmt.Errorf("mainline %d given but commit has no parents", mainline)
		}
		return "", nil
	case len(commit.Parents) == 1:
		if mainline > 1 {
			return "", fmt.Errorf("mainline %d given but commit has 1 parent", mainline)
		}
		return commit.Parents[0], nil
	default:
		if mainline < 1 || mainline > len(commit.Parents) {
			return "", fmt.Errorf("commit is a merge; a mainline parent between 1 and %d is required", len(commit.Parents))
		}
		return commit.Parents[mainline-1], nil
	}
}

func pickMessage(kind MergeHeadKind, target object.Hash, commit *object.CommitObj) string {
	if kind == MergeKindRevert {
		return fmt.Sprintf("Revert %q\n\nThis reverts commit %s.", summaryLine(commit.Message), target)
	}
	return commit.Message
}
