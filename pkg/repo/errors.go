package repo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/strandvcs/strand/pkg/object"
)

// Sentinel errors for precondition and resolution failures. Expected
// outcomes of an operation (conflicts, up-to-date, fast-forward) are never
// errors; they are carried in result values.
var (
	// ErrNotFound reports an absent object or reference that an operation
	// required.
	ErrNotFound = errors.New("not found")

	// ErrBareRepository reports an operation that needs a working tree or
	// index against a bare repository.
	ErrBareRepository = errors.New("bare repository has no working tree")

	// ErrUnbornBranch reports an operation that needs an existing tip
	// commit while HEAD points at a branch with no commits yet.
	ErrUnbornBranch = errors.New("branch has no commits yet")

	// ErrEmptyCommit reports a commit attempt that would not change the
	// tree while AllowEmptyCommit is unset.
	ErrEmptyCommit = errors.New("nothing to commit")

	// ErrNonFastForward reports a fast-forward-only merge that cannot be
	// resolved by moving the branch pointer.
	ErrNonFastForward = errors.New("merge cannot be fast-forwarded")

	// ErrIndexConflicts reports an index with unresolved conflict stages
	// where a fully merged index was required.
	ErrIndexConflicts = errors.New("index has unresolved conflicts")

	// ErrCorruptRepository reports missing or malformed repository
	// metadata (for example a missing HEAD). This indicates corruption or
	// a logic bug, not user error.
	ErrCorruptRepository = errors.New("repository is corrupt")

	// ErrReferenceResolution reports a symbolic reference chain that is
	// cyclic or nested deeper than the fixed walk bound.
	ErrReferenceResolution = errors.New("symbolic reference chain too deep")

	// ErrRefCASMismatch reports a reference update whose expected old
	// value no longer matches the stored one.
	ErrRefCASMismatch = errors.New("ref compare-and-swap mismatch")

	ErrRefUpdatedButReflogAppendFailed = errors.New("ref updated but reflog append failed")
)

// CheckoutConflictError reports worktree paths with local modifications
// that a checkout (or merge) would overwrite. The operation performed no
// worktree mutation.
type CheckoutConflictError struct {
	Paths []string
}

func (e *CheckoutConflictError) Error() string {
	if e == nil || len(e.Paths) == 0 {
		return "checkout would overwrite local changes"
	}
	return fmt.Sprintf(
		"checkout would overwrite local changes to %d path(s): %s",
		len(e.Paths),
		strings.Join(e.Paths, ", "),
	)
}

// RefUpdateReflogError indicates the ref file update succeeded, but
// appending the corresponding reflog entry failed. The reference update
// remains committed.
type RefUpdateReflogError struct {
	Ref     string
	OldHash object.Hash
	NewHash object.Hash
	Err     error
}

func (e *RefUpdateReflogError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf(
		"update ref %q: %s (old=%s new=%s): %v",
		e.Ref,
		ErrRefUpdatedButReflogAppendFailed,
		e.OldHash,
		e.NewHash,
		e.Err,
	)
}

func (e *RefUpdateReflogError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *RefUpdateReflogError) Is(target error) bool {
	return target == ErrRefUpdatedButReflogAppendFailed
}
