package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/strandvcs/strand/pkg/object"
)

const symbolicPrefix = "ref: "

// maxSymbolicDepth bounds the symbolic reference walk. Chains deeper than
// this (including cycles, which can never terminate) fail with
// ErrReferenceResolution instead of looping.
const maxSymbolicDepth = 5

const (
	refLockRetryDelay = 5 * time.Millisecond
	refLockWaitLimit  = 2 * time.Second
)

// RefKind distinguishes the two reference variants.
type RefKind int

const (
	// RefDirect points at an object hash.
	RefDirect RefKind = iota
	// RefSymbolic points at another reference by name.
	RefSymbolic
)

// Ref is a named pointer: either direct (Target set) or symbolic
// (SymTarget set).
type Ref struct {
	Name      string
	Kind      RefKind
	Target    object.Hash
	SymTarget string
}

// Head describes the resolved state of HEAD.
//
// On a born branch: Branch is the branch ref name and Hash its tip.
// Detached: Detached is true, Hash is the commit, Branch is empty.
// Unborn: Unborn is true, Branch names the not-yet-existing branch ref and
// Hash is empty.
type Head struct {
	Branch   string
	Hash     object.Hash
	Detached bool
	Unborn   bool
}

// refPath maps a ref name to its file under the repository directory.
// "HEAD" and other uppercase pseudo-refs live at the top level; everything
// else is expected to start with "refs/".
func (r *Repo) refPath(name string) string {
	return filepath.Join(r.StrandDir, filepath.FromSlash(name))
}

// readRef reads a single reference file without following symbolic
// targets. The second return value reports whether the ref exists.
func (r *Repo) readRef(name string) (Ref, bool, error) {
	data, err := os.ReadFile(r.refPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Ref{}, false, nil
		}
		return Ref{}, false, fmt.Errorf("read ref %q: %w", name, err)
	}

	content := strings.TrimSpace(string(data))
	if target, ok := strings.CutPrefix(content, symbolicPrefix); ok {
		return Ref{Name: name, Kind: RefSymbolic, SymTarget: strings.TrimSpace(target)}, true, nil
	}
	return Ref{Name: name, Kind: RefDirect, Target: object.Hash(content)}, true, nil
}

// ResolveHead walks the symbolic chain starting at HEAD until it reaches a
// direct reference or a dangling symbolic target.
//
// Outcomes:
//   - terminal direct ref reached → Head with Branch (or Detached) and Hash
//   - terminal symbolic target missing → Head{Unborn: true} naming the branch
//   - HEAD file itself missing → ErrCorruptRepository
//   - chain deeper than maxSymbolicDepth (or cyclic) → ErrReferenceResolution
func (r *Repo) ResolveHead() (Head, error) {
	ref, exists, err := r.readRef("HEAD")
	if err != nil {
		return Head{}, err
	}
	if !exists {
		return Head{}, fmt.Errorf("resolve HEAD: missing HEAD file: %w", ErrCorruptRepository)
	}

	name := "HEAD"
	for depth := 0; ; depth++ {
		if ref.Kind == RefDirect {
			return Head{
				Branch:   branchOrEmpty(name),
				Hash:     ref.Target,
				Detached: name == "HEAD",
			}, nil
		}

		if depth >= maxSymbolicDepth {
			return Head{}, fmt.Errorf("resolve HEAD: %w (bound %d)", ErrReferenceResolution, maxSymbolicDepth)
		}

		name = ref.SymTarget
		next, exists, err := r.readRef(name)
		if err != nil {
			return Head{}, err
		}
		if !exists {
			return Head{Branch: name, Unborn: true}, nil
		}
		ref = next
	}
}

func branchOrEmpty(name string) string {
	if name == "HEAD" {
		return ""
	}
	return name
}

// ResolveRef resolves a ref name to an object hash, following symbolic
// references (depth-bounded).
//
// Resolution order:
//  1. "HEAD" → ResolveHead (unborn HEAD fails with ErrUnbornBranch).
//  2. Names starting with "refs/" are read as-is.
//  3. Short names try refs/heads/<name>, then refs/tags/<name>.
func (r *Repo) ResolveRef(name string) (object.Hash, error) {
	if name == "HEAD" {
		head, err := r.ResolveHead()
		if err != nil {
			return "", err
		}
		if head.Unborn {
			return "", fmt.Errorf("resolve HEAD: %w", ErrUnbornBranch)
		}
		return head.Hash, nil
	}

	candidates := []string{name}
	if !strings.HasPrefix(name, "refs/") {
		candidates = []string{"refs/heads/" + name, "refs/tags/" + name}
	}

	for _, candidate := range candidates {
		h, found, err := r.resolveRefName(candidate)
		if err != nil {
			return "", err
		}
		if found {
			return h, nil
		}
	}
	return "", fmt.Errorf("resolve ref %q: %w", name, ErrNotFound)
}

func (r *Repo) resolveRefName(name string) (object.Hash, bool, error) {
	for depth := 0; depth <= maxSymbolicDepth; depth++ {
		ref, exists, err := r.readRef(name)
		if err != nil {
			return "", false, err
		}
		if !exists {
			return "", false, nil
		}
		if ref.Kind == RefDirect {
			return ref.Target, true, nil
		}
		name = ref.SymTarget
	}
	return "", false, fmt.Errorf("resolve ref %q: %w (bound %d)", name, ErrReferenceResolution, maxSymbolicDepth)
}

// ResolveCommit resolves a commit-ish spec (ref name, tag, or raw hash) to
// a commit hash, peeling annotated tags.
func (r *Repo) ResolveCommit(spec string) (object.Hash, error) {
	spec = strings.TrimSpace(spec)
	if err := requireNonEmpty("commit spec", spec); err != nil {
		return "", err
	}

	h, err := r.ResolveRef(spec)
	if err != nil {
		// Fall back to a raw hash present in the store.
		if isHexHash(spec) && r.Store.Has(object.Hash(spec)) {
			h = object.Hash(spec)
		} else {
			return "", err
		}
	}
	return r.peelToCommit(h)
}

// peelToCommit follows annotated tag objects until a commit is reached.
func (r *Repo) peelToCommit(h object.Hash) (object.Hash, error) {
	for depth := 0; depth <= maxSymbolicDepth; depth++ {
		objType, data, err := r.Store.Read(h)
		if err != nil {
			return "", fmt.Errorf("peel %s: %w", h, err)
		}
		switch objType {
		case object.TypeCommit:
			return h, nil
		case object.TypeTag:
			tag, err := object.UnmarshalTag(data)
			if err != nil {
				return "", fmt.Errorf("peel %s: %w", h, err)
			}
			h = tag.TargetHash
		default:
			return "", fmt.Errorf("peel %s: object is a %s, not a commit", h, objType)
		}
	}
	return "", fmt.Errorf("peel: tag chain too deep: %w", ErrReferenceResolution)
}

func isHexHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ListRefs lists direct references under .strand/refs. Names are returned
// relative to the repository directory, e.g. "refs/heads/main".
func (r *Repo) ListRefs(prefix string) (map[string]object.Hash, error) {
	root := filepath.Join(r.StrandDir, "refs")
	dir := root
	if strings.TrimSpace(prefix) != "" {
		dir = filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(prefix, "refs/")))
	}

	refs := make(map[string]object.Hash)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(path, ".lock") {
			return nil
		}

		rel, err := filepath.Rel(r.StrandDir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		refs[filepath.ToSlash(rel)] = object.Hash(strings.TrimSpace(string(data)))
		return nil
	})
	if os.IsNotExist(err) {
		return refs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}

// UpdateRef writes a hash to the named ref with a reflog entry. See
// UpdateRefCAS for atomicity semantics.
func (r *Repo) UpdateRef(name string, h object.Hash, reason string) error {
	return r.UpdateRefCAS(name, h, reason)
}

// UpdateRefCAS atomically replaces a reference's target using lockfile +
// rename semantics and appends one reflog entry. If expectedOld is
// provided, the update only succeeds when the stored value matches it
// (empty hash meaning "must not exist"). A symbolic ref updated this way
// moves the reference itself; the chain is not expanded.
//
// Reflog append happens after the ref rename; if the append fails, the ref
// update remains committed and a RefUpdateReflogError is returned.
func (r *Repo) UpdateRefCAS(name string, h object.Hash, reason string, expectedOld ...object.Hash) error {
	if len(expectedOld) > 1 {
		return fmt.Errorf("update ref %q: expected at most one old hash", name)
	}
	hasExpectedOld := len(expectedOld) == 1
	wantOldHash := object.Hash("")
	if hasExpectedOld {
		wantOldHash = expectedOld[0]
	}

	refPath := r.refPath(name)
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("update ref %q: mkdir: %w", name, err)
	}

	lockPath := refPath + ".lock"
	lockFile, err := acquireRefLock(lockPath)
	if err != nil {
		return fmt.Errorf("update ref %q: lock: %w", name, err)
	}
	cleanupLock := true
	defer func() {
		if lockFile != nil {
			_ = lockFile.Close()
		}
		if cleanupLock {
			_ = os.Remove(lockPath)
		}
	}()

	oldHash, err := readRefHash(refPath)
	if err != nil {
		return fmt.Errorf("update ref %q: read old hash: %w", name, err)
	}
	if hasExpectedOld && oldHash != wantOldHash {
		return fmt.Errorf(
			"update ref %q: %w (expected %s, found %s)",
			name,
			ErrRefCASMismatch,
			wantOldHash,
			oldHash,
		)
	}

	if _, err := lockFile.WriteString(string(h) + "\n"); err != nil {
		return fmt.Errorf("update ref %q: write: %w", name, err)
	}
	if err := lockFile.Sync(); err != nil {
		return fmt.Errorf("update ref %q: sync: %w", name, err)
	}
	if err := lockFile.Close(); err != nil {
		lockFile = nil
		return fmt.Errorf("update ref %q: close: %w", name, err)
	}
	lockFile = nil

	if err := os.Rename(lockPath, refPath); err != nil {
		return fmt.Errorf("update ref %q: rename: %w", name, err)
	}
	cleanupLock = false

	if err := r.appendReflog(name, oldHash, h, r.reflogIdentity(), reason); err != nil {
		return &RefUpdateReflogError{
			Ref:     name,
			OldHash: oldHash,
			NewHash: h,
			Err:     err,
		}
	}

	return nil
}

// setSymbolicHEAD rewrites HEAD as a symbolic reference to target and
// appends a HEAD reflog entry recording the commit movement.
func (r *Repo) setSymbolicHEAD(target string, oldHash, newHash object.Hash, reason string) error {
	content := symbolicPrefix + target + "\n"
	if err := os.WriteFile(r.refPath("HEAD"), []byte(content), 0o644); err != nil {
		return fmt.Errorf("set HEAD to %q: %w", target, err)
	}
	if err := r.appendReflog("HEAD", oldHash, newHash, r.reflogIdentity(), reason); err != nil {
		return &RefUpdateReflogError{Ref: "HEAD", OldHash: oldHash, NewHash: newHash, Err: err}
	}
	return nil
}

// detachHEAD rewrites HEAD as a direct reference to hash with a reflog
// entry.
func (r *Repo) detachHEAD(oldHash, newHash object.Hash, reason string) error {
	if err := os.WriteFile(r.refPath("HEAD"), []byte(string(newHash)+"\n"), 0o644); err != nil {
		return fmt.Errorf("detach HEAD: %w", err)
	}
	if err := r.appendReflog("HEAD", oldHash, newHash, r.reflogIdentity(), reason); err != nil {
		return &RefUpdateReflogError{Ref: "HEAD", OldHash: oldHash, NewHash: newHash, Err: err}
	}
	return nil
}

func acquireRefLock(lockPath string) (*os.File, error) {
	deadline := time.Now().Add(refLockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if os.IsExist(err) {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("timeout waiting for lock %q", lockPath)
			}
			time.Sleep(refLockRetryDelay)
			continue
		}
		return nil, err
	}
}

func readRefHash(refPath string) (object.Hash, error) {
	data, err := os.ReadFile(refPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	content := strings.TrimSpace(string(data))
	if strings.HasPrefix(content, symbolicPrefix) {
		// Symbolic refs CAS against the empty hash; the stored symbolic
		// target is preserved in the reflog's old side as unset.
		return "", nil
	}
	return object.Hash(content), nil
}
