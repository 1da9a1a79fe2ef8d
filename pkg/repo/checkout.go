package repo

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5/util"

	"github.com/strandvcs/strand/pkg/object"
)

// CheckoutOptions controls Checkout.
type CheckoutOptions struct {
	// Force overwrites local modifications instead of refusing with a
	// CheckoutConflictError.
	Force bool

	// Notify, when set, is called once per worktree path the checkout
	// creates, updates or removes.
	Notify func(path string)
}

// Checkout switches HEAD and the working tree to the target, which may be
// a branch name (HEAD becomes symbolic) or any commit-ish (HEAD detaches).
//
//  1. Resolve HEAD and the target.
//  2. Checking out the branch HEAD already points at takes a
//     reference-only path (reflog entry, no tree walk) unless Force,
//     which realizes the full tree and discards local modifications.
//  3. Realize the target tree: refuse (without mutating) when local
//     modifications would be overwritten, unless Force.
//  4. Reset the index to the target tree.
//  5. Rewrite HEAD with a "checkout: moving from X to Y" reflog entry.
func (r *Repo) Checkout(target string, opts CheckoutOptions) error {
	head, err := r.ResolveHead()
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}

	branchRef := ""
	var targetHash object.Hash
	if b, err := r.LookupBranch(target); err == nil {
		branchRef = "refs/heads/" + b.Name
		targetHash = b.Tip
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("checkout: %w", err)
	} else {
		targetHash, err = r.ResolveCommit(target)
		if err != nil {
			return fmt.Errorf("checkout: resolve %q: %w", target, err)
		}
	}

	if branchRef != "" && !head.Detached && head.Branch == branchRef {
		return r.checkoutCurrentBranch(head, target, targetHash, opts)
	}

	return r.checkoutCommit(head, target, branchRef, targetHash, opts)
}

// checkoutCurrentBranch re-checks out the branch HEAD already points at.
// Without Force this is reference-only: one reflog entry, no tree walk.
// With Force the whole tree is realized, restoring any locally modified
// tracked files.
func (r *Repo) checkoutCurrentBranch(head Head, label string, tip object.Hash, opts CheckoutOptions) error {
	if opts.Force {
		newFiles, err := r.commitFiles(tip)
		if err != nil {
			return fmt.Errorf("checkout: %w", err)
		}
		// An empty old set marks every tracked path as touched, so dirty
		// files are rewritten even though the commit has not changed.
		if err := r.realizeFilesNotify(map[string]TreeFileEntry{}, newFiles, true, opts.Notify); err != nil {
			return fmt.Errorf("checkout: %w", err)
		}
		if err := r.resetIndexToFiles(newFiles); err != nil {
			return fmt.Errorf("checkout: %w", err)
		}
	}
	reason := fmt.Sprintf("checkout: moving from %s to %s", checkoutFromLabel(head), label)
	if err := r.appendReflog("HEAD", head.Hash, tip, r.reflogIdentity(), reason); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	return nil
}

// CheckoutBranch checks out a previously looked-up branch. If the branch
// has moved since b was read (its stored tip no longer matches), the
// recorded tip is checked out by-commit: the worktree lands on b.Tip and
// the reflog records that hash, but HEAD stays symbolic on the branch
// rather than silently landing on a different tip.
func (r *Repo) CheckoutBranch(b Branch, opts CheckoutOptions) error {
	head, err := r.ResolveHead()
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}

	branchRef := "refs/heads/" + b.Name
	current, err := r.ResolveRef(branchRef)
	if err != nil {
		return fmt.Errorf("checkout: resolve branch %q: %w", b.Name, err)
	}

	if current != b.Tip {
		return r.checkoutCommit(head, shortHash(b.Tip), branchRef, b.Tip, opts)
	}
	if !head.Detached && head.Branch == branchRef {
		return r.checkoutCurrentBranch(head, b.Name, b.Tip, opts)
	}
	return r.checkoutCommit(head, b.Name, branchRef, b.Tip, opts)
}

func (r *Repo) checkoutCommit(head Head, targetName, branchRef string, targetHash object.Hash, opts CheckoutOptions) error {
	oldFiles, err := r.commitFiles(head.Hash)
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	newFiles, err := r.commitFiles(targetHash)
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}

	if err := r.realizeFilesNotify(oldFiles, newFiles, opts.Force, opts.Notify); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	if err := r.resetIndexToFiles(newFiles); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}

	reason := fmt.Sprintf("checkout: moving from %s to %s", checkoutFromLabel(head), targetName)
	if branchRef != "" {
		if err := r.setSymbolicHEAD(branchRef, head.Hash, targetHash, reason); err != nil {
			return fmt.Errorf("checkout: %w", err)
		}
	} else {
		if err := r.detachHEAD(head.Hash, targetHash, reason); err != nil {
			return fmt.Errorf("checkout: %w", err)
		}
	}
	return nil
}

func checkoutFromLabel(head Head) string {
	switch {
	case head.Unborn:
		return strings.TrimPrefix(head.Branch, "refs/heads/")
	case head.Detached:
		return shortHash(head.Hash)
	default:
		return strings.TrimPrefix(head.Branch, "refs/heads/")
	}
}

// CheckoutPaths restores the given paths in the working tree from the
// index (stage 0), falling back to the HEAD tree for paths not staged.
// HEAD does not move.
func (r *Repo) CheckoutPaths(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	idx, err := r.ReadIndex()
	if err != nil {
		return fmt.Errorf("checkout paths: %w", err)
	}

	head, err := r.ResolveHead()
	if err != nil {
		return fmt.Errorf("checkout paths: %w", err)
	}
	headFiles, err := r.commitFiles(head.Hash)
	if err != nil {
		return fmt.Errorf("checkout paths: %w", err)
	}

	for _, p := range paths {
		rel, err := r.repoRelPath(p)
		if err != nil {
			return fmt.Errorf("checkout paths: resolve %q: %w", p, err)
		}

		var blobHash object.Hash
		var mode FileMode
		if e := idx.Entry(rel, StageMerged); e != nil {
			blobHash, mode = e.BlobHash, e.Mode
		} else if f, ok := headFiles[rel]; ok {
			blobHash, mode = f.BlobHash, f.Mode
		} else {
			return fmt.Errorf("checkout paths: %q: %w", rel, ErrNotFound)
		}

		if err := r.writeWorktreeFile(rel, blobHash, mode); err != nil {
			return fmt.Errorf("checkout paths: %w", err)
		}
	}
	return nil
}

// realizeFiles transforms the working tree from the old file set to the
// new one. See realizeFilesNotify.
func (r *Repo) realizeFiles(oldFiles, newFiles map[string]TreeFileEntry, force bool) error {
	return r.realizeFilesNotify(oldFiles, newFiles, force, nil)
}

// realizeFilesNotify removes paths present only in old, writes paths that
// are new or changed, and leaves everything else untouched. Unless force
// is set, it first scans for local modifications on every path it would
// touch and refuses with a CheckoutConflictError before mutating anything.
func (r *Repo) realizeFilesNotify(oldFiles, newFiles map[string]TreeFileEntry, force bool, notify func(string)) error {
	wt, err := r.Worktree()
	if err != nil {
		return err
	}

	var touched []string
	for _, p := range collectPaths(oldFiles, newFiles) {
		o, inOld := oldFiles[p]
		n, inNew := newFiles[p]
		if inOld && inNew && o.BlobHash == n.BlobHash && normalizeFileMode(o.Mode) == normalizeFileMode(n.Mode) {
			continue
		}
		touched = append(touched, p)
	}

	if !force {
		var dirty []string
		for _, p := range touched {
			clobbers, err := r.wouldClobber(p, oldFiles, newFiles)
			if err != nil {
				return err
			}
			if clobbers {
				dirty = append(dirty, p)
			}
		}
		if len(dirty) > 0 {
			sort.Strings(dirty)
			return &CheckoutConflictError{Paths: dirty}
		}
	}

	for _, p := range touched {
		n, inNew := newFiles[p]
		if !inNew {
			if err := wt.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove %q: %w", p, err)
			}
			r.removeEmptyParents(path.Dir(p))
		} else {
			if err := r.writeWorktreeFile(p, n.BlobHash, n.Mode); err != nil {
				return err
			}
		}
		if notify != nil {
			notify(p)
		}
	}
	return nil
}

// wouldClobber reports whether the worktree content at p differs from the
// old tracked content, i.e. whether touching p would lose a local change.
func (r *Repo) wouldClobber(p string, oldFiles, newFiles map[string]TreeFileEntry) (bool, error) {
	info, err := r.wt.Lstat(p)
	if errors.Is(err, os.ErrNotExist) {
		// Locally deleted; writing the new content loses nothing.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %q: %w", p, err)
	}
	if info.IsDir() {
		return true, nil
	}

	var content []byte
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := r.wt.Readlink(p)
		if err != nil {
			return false, fmt.Errorf("readlink %q: %w", p, err)
		}
		content = []byte(target)
	} else {
		content, err = util.ReadFile(r.wt, p)
		if err != nil {
			return false, fmt.Errorf("read %q: %w", p, err)
		}
	}
	onDisk := object.HashObject(object.TypeBlob, content)

	o, inOld := oldFiles[p]
	if inOld {
		return onDisk != o.BlobHash, nil
	}
	// Untracked file in the way: only a conflict when the incoming
	// content differs.
	if n, inNew := newFiles[p]; inNew {
		return onDisk != n.BlobHash, nil
	}
	return false, nil
}

func (r *Repo) writeWorktreeFile(p string, blobHash object.Hash, mode FileMode) error {
	blob, err := r.Store.ReadBlob(blobHash)
	if err != nil {
		return fmt.Errorf("read blob for %q: %w", p, err)
	}

	dir := path.Dir(p)
	if dir != "." {
		if err := r.wt.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %q: %w", dir, err)
		}
	}

	if normalizeFileMode(mode) == ModeSymlink {
		if err := r.wt.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("replace symlink %q: %w", p, err)
		}
		if err := r.wt.Symlink(string(blob.Data), p); err != nil {
			return fmt.Errorf("symlink %q: %w", p, err)
		}
		return nil
	}
	if err := util.WriteFile(r.wt, p, blob.Data, filePermFromMode(mode)); err != nil {
		return fmt.Errorf("write %q: %w", p, err)
	}
	return nil
}

// resetIndexToFiles rewrites the index to exactly match the given file
// set at stage 0, discarding any previous entries and conflict stages.
func (r *Repo) resetIndexToFiles(files map[string]TreeFileEntry) error {
	idx := &Index{}
	for p, f := range files {
		var modTime, size int64
		if info, err := r.wt.Lstat(p); err == nil {
			modTime = info.ModTime().Unix()
			size = info.Size()
		}
		idx.Entries = append(idx.Entries, &IndexEntry{
			Path:     p,
			Stage:    StageMerged,
			BlobHash: f.BlobHash,
			Mode:     normalizeFileMode(f.Mode),
			ModTime:  modTime,
			Size:     size,
		})
	}
	return r.WriteIndex(idx)
}

// removeEmptyParents removes now-empty directories up to the repository
// root. Paths are worktree-relative.
func (r *Repo) removeEmptyParents(dir string) {
	for dir != "." && dir != "/" && dir != "" {
		entries, err := r.wt.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := r.wt.Remove(dir); err != nil {
			return
		}
		dir = path.Dir(dir)
	}
}
