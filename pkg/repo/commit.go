package repo

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/strandvcs/strand/pkg/object"
)

// CommitSigner signs canonical commit payload bytes and returns an encoded
// signature string to be persisted in CommitObj.Signature.
type CommitSigner func(payload []byte) (string, error)

// CommitOptions controls commit creation.
type CommitOptions struct {
	// Author overrides the configured identity for the author field.
	Author string

	// AllowEmptyCommit permits a commit whose tree equals its first
	// parent's tree. Without it such a commit fails with ErrEmptyCommit.
	AllowEmptyCommit bool

	// AmendPreviousCommit replaces the current tip instead of adding a
	// child: the new commit takes the tip's parents, and the branch moves
	// from the old tip to the replacement.
	AmendPreviousCommit bool

	// Signer, when set, signs the commit payload.
	Signer CommitSigner
}

// Commit creates a commit from the current index with default options.
func (r *Repo) Commit(message string) (object.Hash, error) {
	return r.CommitWithOptions(message, CommitOptions{})
}

// CommitWithOptions creates a new commit from the current index.
//
//  1. Read the index; reject unresolved conflict stages.
//  2. Build the tree from stage-0 entries.
//  3. Assemble parents: HEAD tip plus any pending merge heads, or the
//     tip's own parents when amending.
//  4. Reject empty commits unless allowed.
//  5. Write the commit object (signing it when a signer is set).
//  6. Advance the current branch (or detached HEAD) with a CAS update and
//     a classified reflog reason.
//  7. Clear pending merge/cherry-pick/revert state.
func (r *Repo) CommitWithOptions(message string, opts CommitOptions) (object.Hash, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = strings.TrimSpace(r.pendingMessage())
	}
	if err := requireNonEmpty("commit message", message); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	idx, err := r.ReadIndex()
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	if !idx.IsFullyMerged() {
		return "", fmt.Errorf("commit: %w (paths: %s)",
			ErrIndexConflicts, strings.Join(idx.ConflictedPaths(), ", "))
	}

	treeHash, err := r.BuildTree(idx)
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	head, err := r.ResolveHead()
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	mergeHeads, err := r.readMergeHeads()
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	parents, firstParentTree, err := r.commitParents(head, mergeHeads, opts)
	if err != nil {
		return "", err
	}

	if !opts.AllowEmptyCommit && len(mergeHeads) == 0 && treeHash == firstParentTree {
		return "", fmt.Errorf("commit: %w", ErrEmptyCommit)
	}

	author := strings.TrimSpace(opts.Author)
	if author == "" {
		author = r.reflogIdentity()
	}
	now := time.Now()

	commitObj := &object.CommitObj{
		TreeHash:      treeHash,
		Parents:       parents,
		Author:        author,
		AuthorTime:    now.Unix(),
		Committer:     r.reflogIdentity(),
		CommitterTime: now.Unix(),
		Message:       message,
	}
	if opts.Signer != nil {
		payload := object.CommitSigningPayload(commitObj)
		signature, err := opts.Signer(payload)
		if err != nil {
			return "", fmt.Errorf("commit: sign: %w", err)
		}
		commitObj.Signature = signature
	}

	commitHash, err := r.Store.WriteCommit(commitObj)
	if err != nil {
		return "", fmt.Errorf("commit: write commit: %w", err)
	}

	reason := commitReflogReason(head, mergeHeads, opts) + ": " + summaryLine(message)
	if err := r.advanceHead(head, commitHash, reason); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	if len(mergeHeads) > 0 {
		if err := r.clearMergeState(); err != nil {
			return "", fmt.Errorf("commit: %w", err)
		}
	}

	return commitHash, nil
}

// commitParents determines the new commit's parent list and the tree hash
// of its first parent (empty for a root commit).
func (r *Repo) commitParents(head Head, mergeHeads []MergeHead, opts CommitOptions) ([]object.Hash, object.Hash, error) {
	if opts.AmendPreviousCommit {
		if head.Unborn {
			return nil, "", fmt.Errorf("commit: cannot amend: %w", ErrUnbornBranch)
		}
		if len(mergeHeads) > 0 {
			return nil, "", fmt.Errorf("commit: cannot amend while a merge is in progress")
		}
		tip, err := r.Store.ReadCommit(head.Hash)
		if err != nil {
			return nil, "", fmt.Errorf("commit: read tip %s: %w", head.Hash, err)
		}
		firstParentTree := object.Hash("")
		if len(tip.Parents) > 0 {
			parent, err := r.Store.ReadCommit(tip.Parents[0])
			if err != nil {
				return nil, "", fmt.Errorf("commit: read parent %s: %w", tip.Parents[0], err)
			}
			firstParentTree = parent.TreeHash
		}
		return tip.Parents, firstParentTree, nil
	}

	var parents []object.Hash
	firstParentTree := object.Hash("")
	if !head.Unborn {
		parents = append(parents, head.Hash)
		tip, err := r.Store.ReadCommit(head.Hash)
		if err != nil {
			return nil, "", fmt.Errorf("commit: read tip %s: %w", head.Hash, err)
		}
		firstParentTree = tip.TreeHash
	}

	// Pending merge heads become extra parents. Cherry-pick and revert
	// record state for the message only; they do not add parents.
	for _, mh := range mergeHeads {
		if mh.Kind == MergeKindMerge {
			parents = append(parents, mh.Hash)
		}
	}
	return parents, firstParentTree, nil
}

// commitReflogReason classifies the reflog reason prefix for a commit.
func commitReflogReason(head Head, mergeHeads []MergeHead, opts CommitOptions) string {
	switch {
	case opts.AmendPreviousCommit:
		return "commit (amend)"
	case head.Unborn:
		return "commit (initial)"
	default:
		for _, mh := range mergeHeads {
			if mh.Kind == MergeKindMerge {
				return "commit (merge)"
			}
		}
		return "commit"
	}
}

// advanceHead moves the checked-out branch (or detached HEAD) to
// commitHash with a CAS against the previous tip.
func (r *Repo) advanceHead(head Head, commitHash object.Hash, reason string) error {
	if head.Unborn {
		if err := r.UpdateRefCAS(head.Branch, commitHash, reason, ""); err != nil {
			return err
		}
		return r.appendReflog("HEAD", "", commitHash, r.reflogIdentity(), reason)
	}
	if head.Detached {
		return r.UpdateRefCAS("HEAD", commitHash, reason, head.Hash)
	}
	if err := r.UpdateRefCAS(head.Branch, commitHash, reason, head.Hash); err != nil {
		return err
	}
	// The HEAD reflog mirrors movements of the checked-out branch.
	return r.appendReflog("HEAD", head.Hash, commitHash, r.reflogIdentity(), reason)
}

// Log walks the commit history from start, following first-parent links,
// returning up to limit commits newest first. A limit <= 0 means no limit.
func (r *Repo) Log(start object.Hash, limit int) ([]*object.CommitObj, error) {
	var commits []*object.CommitObj
	current := start

	for limit <= 0 || len(commits) < limit {
		c, err := r.Store.ReadCommit(current)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				break
			}
			return nil, fmt.Errorf("log: read commit %s: %w", current, err)
		}
		commits = append(commits, c)

		if len(c.Parents) == 0 {
			break
		}
		current = c.Parents[0]
	}

	return commits, nil
}
