// Package repo implements the repository mutation engine: the reference
// store with its reflog, the staging index with conflict stages, and the
// commit, checkout, merge, revert, cherry-pick and reset state transitions
// over the content-addressed object store.
//
// A Repo is not safe for concurrent use from multiple goroutines; every
// mutation assumes exclusive access to the reference store, index and
// working tree for its duration.
package repo

import (
	"fmt"
	"sync"

	"github.com/go-git/go-billy/v5"

	"github.com/strandvcs/strand/pkg/object"
)

// Repo represents an opened Strand repository.
type Repo struct {
	RootDir   string        // working directory root ("" for bare repositories)
	StrandDir string        // .strand/ directory (the repository root when bare)
	Store     *object.Store // content-addressed object store
	Bare      bool

	// wt is the working-tree filesystem, chrooted at RootDir. Nil for
	// bare repositories. All worktree reads and writes go through it.
	wt billy.Filesystem

	mergeTraversalStateOnce sync.Once
	mergeTraversalState     *mergeBaseTraversalState
}

// Worktree returns the working-tree filesystem, or ErrBareRepository when
// the repository has none.
func (r *Repo) Worktree() (billy.Filesystem, error) {
	if r.Bare || r.wt == nil {
		return nil, ErrBareRepository
	}
	return r.wt, nil
}

func (r *Repo) getMergeTraversalState() *mergeBaseTraversalState {
	r.mergeTraversalStateOnce.Do(func() {
		r.mergeTraversalState = newMergeBaseTraversalState()
	})
	return r.mergeTraversalState
}

// reflogIdentity returns the signature recorded in reflog entries, taken
// from the configured user identity.
func (r *Repo) reflogIdentity() string {
	cfg, err := r.ReadConfig()
	if err != nil {
		return defaultIdentity
	}
	return cfg.Identity()
}

func shortHash(h object.Hash) string {
	s := string(h)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// summaryLine returns the first line of a commit message for reflog use.
func summaryLine(message string) string {
	for i := 0; i < len(message); i++ {
		if message[i] == '\n' {
			return message[:i]
		}
	}
	return message
}

func requireNonEmpty(what, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", what)
	}
	return nil
}
