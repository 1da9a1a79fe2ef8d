package repo

import (
	"fmt"
	"strings"
)

// ResetMode selects how much state Reset rewrites.
type ResetMode int

const (
	// ResetSoft moves HEAD's branch only; index and worktree stay.
	ResetSoft ResetMode = iota
	// ResetMixed moves the branch and resets the index to the target
	// tree; the worktree stays.
	ResetMixed
	// ResetHard moves the branch and resets both index and worktree.
	ResetHard
)

func (m ResetMode) String() string {
	switch m {
	case ResetSoft:
		return "soft"
	case ResetMixed:
		return "mixed"
	case ResetHard:
		return "hard"
	default:
		return "unknown"
	}
}

// Reset moves the current branch (or detached HEAD) to the target commit.
// Any pending merge, cherry-pick or revert state is cleared; a reset is
// how an unfinished operation is abandoned.
//
// Hard resets overwrite local modifications unconditionally, which is the
// point of a hard reset.
func (r *Repo) Reset(target string, mode ResetMode) error {
	head, err := r.ResolveHead()
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if head.Unborn {
		return fmt.Errorf("reset: %w", ErrUnbornBranch)
	}

	targetHash, err := r.ResolveCommit(target)
	if err != nil {
		return fmt.Errorf("reset: resolve %q: %w", target, err)
	}

	if mode == ResetMixed || mode == ResetHard {
		newFiles, err := r.commitFiles(targetHash)
		if err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		if mode == ResetHard {
			oldFiles, err := r.commitFiles(head.Hash)
			if err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			if err := r.realizeFiles(oldFiles, newFiles, true); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
		}
		if err := r.resetIndexToFiles(newFiles); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}

	reason := fmt.Sprintf("reset: moving to %s", strings.TrimSpace(target))
	if head.Detached {
		if err := r.UpdateRefCAS("HEAD", targetHash, reason, head.Hash); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	} else {
		if err := r.UpdateRefCAS(head.Branch, targetHash, reason, head.Hash); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		if err := r.appendReflog("HEAD", head.Hash, targetHash, r.reflogIdentity(), reason); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}

	if err := r.clearMergeState(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// ResetPaths unstages the given paths: their index entries are restored
// to the HEAD tree (conflict stages included), leaving the worktree
// untouched. HEAD does not move.
func (r *Repo) ResetPaths(paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	head, err := r.ResolveHead()
	if err != nil {
		return fmt.Errorf("reset paths: %w", err)
	}
	headFiles, err := r.commitFiles(head.Hash)
	if err != nil {
		return fmt.Errorf("reset paths: %w", err)
	}

	idx, err := r.ReadIndex()
	if err != nil {
		return fmt.Errorf("reset paths: %w", err)
	}

	for _, p := range paths {
		rel, err := r.repoRelPath(p)
		if err != nil {
			return fmt.Errorf("reset paths: resolve %q: %w", p, err)
		}
		if f, tracked := headFiles[rel]; tracked {
			idx.SetMerged(&IndexEntry{
				Path:     rel,
				BlobHash: f.BlobHash,
				Mode:     normalizeFileMode(f.Mode),
			})
		} else {
			idx.removePath(rel)
		}
	}

	if err := r.WriteIndex(idx); err != nil {
		return fmt.Errorf("reset paths: %w", err)
	}
	return nil
}
