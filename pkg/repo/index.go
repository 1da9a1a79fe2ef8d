package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5/util"
	"github.com/gofrs/flock"

	"github.com/strandvcs/strand/pkg/object"
)

// Index stages. Stage 0 is the normal merged entry; stages 1-3 record the
// three sides of an unresolved conflict (common ancestor, ours, theirs).
const (
	StageMerged   = 0
	StageAncestor = 1
	StageOurs     = 2
	StageTheirs   = 3
)

// IndexEntry records one staged file at one stage.
type IndexEntry struct {
	Path     string      `json:"path"`
	Stage    int         `json:"stage"`
	BlobHash object.Hash `json:"blob_hash"`
	Mode     FileMode    `json:"mode"`
	ModTime  int64       `json:"mod_time"`
	Size     int64       `json:"size"`
}

// Index holds the full staging area. Entries are kept sorted by
// (path, stage); at most one entry exists per (path, stage) pair, and a
// path has either a single stage-0 entry or some subset of stages 1-3.
type Index struct {
	Entries []*IndexEntry `json:"entries"`
}

func (r *Repo) indexPath() string {
	return filepath.Join(r.StrandDir, "index")
}

// ReadIndex loads the staging area from .strand/index. A missing file
// yields an empty index.
func (r *Repo) ReadIndex() (*Index, error) {
	if r.Bare {
		return nil, fmt.Errorf("read index: %w", ErrBareRepository)
	}

	data, err := os.ReadFile(r.indexPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Index{}, nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("read index: unmarshal: %w", err)
	}
	idx.sort()
	return &idx, nil
}

// WriteIndex atomically writes the staging area to .strand/index, holding
// the index file lock for the duration of the write.
func (r *Repo) WriteIndex(idx *Index) error {
	if r.Bare {
		return fmt.Errorf("write index: %w", ErrBareRepository)
	}
	idx.sort()

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("write index: marshal: %w", err)
	}

	lock := flock.New(r.indexPath() + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("write index: lock: %w", err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(r.StrandDir, ".index-tmp-*")
	if err != nil {
		return fmt.Errorf("write index: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write index: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write index: close: %w", err)
	}
	if err := os.Rename(tmpName, r.indexPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write index: rename: %w", err)
	}
	return nil
}

func (idx *Index) sort() {
	sort.Slice(idx.Entries, func(i, j int) bool {
		if idx.Entries[i].Path != idx.Entries[j].Path {
			return idx.Entries[i].Path < idx.Entries[j].Path
		}
		return idx.Entries[i].Stage < idx.Entries[j].Stage
	})
}

// Entry returns the entry for (path, stage), or nil.
func (idx *Index) Entry(path string, stage int) *IndexEntry {
	for _, e := range idx.Entries {
		if e.Path == path && e.Stage == stage {
			return e
		}
	}
	return nil
}

// EntriesForPath returns all entries for path across stages.
func (idx *Index) EntriesForPath(path string) []*IndexEntry {
	var out []*IndexEntry
	for _, e := range idx.Entries {
		if e.Path == path {
			out = append(out, e)
		}
	}
	return out
}

// SetMerged replaces every entry for path with a single stage-0 entry.
// Recording a merged result for a path resolves its conflict.
func (idx *Index) SetMerged(e *IndexEntry) {
	e.Stage = StageMerged
	idx.removePath(e.Path)
	idx.Entries = append(idx.Entries, e)
	idx.sort()
}

// SetConflict replaces every entry for path with the given higher-stage
// entries. Nil sides (a file absent on that side) are skipped.
func (idx *Index) SetConflict(path string, ancestor, ours, theirs *IndexEntry) {
	idx.removePath(path)
	for stage, e := range map[int]*IndexEntry{
		StageAncestor: ancestor,
		StageOurs:     ours,
		StageTheirs:   theirs,
	} {
		if e == nil {
			continue
		}
		e.Path = path
		e.Stage = stage
		idx.Entries = append(idx.Entries, e)
	}
	idx.sort()
}

func (idx *Index) removePath(path string) {
	kept := idx.Entries[:0]
	for _, e := range idx.Entries {
		if e.Path != path {
			kept = append(kept, e)
		}
	}
	idx.Entries = kept
}

// IsFullyMerged reports whether the index contains no conflict stages.
func (idx *Index) IsFullyMerged() bool {
	for _, e := range idx.Entries {
		if e.Stage != StageMerged {
			return false
		}
	}
	return true
}

// ConflictedPaths returns the sorted set of paths with unresolved conflict
// stages.
func (idx *Index) ConflictedPaths() []string {
	seen := make(map[string]bool)
	var paths []string
	for _, e := range idx.Entries {
		if e.Stage != StageMerged && !seen[e.Path] {
			seen[e.Path] = true
			paths = append(paths, e.Path)
		}
	}
	sort.Strings(paths)
	return paths
}

// mergedEntries returns the stage-0 view of the index keyed by path.
func (idx *Index) mergedEntries() map[string]*IndexEntry {
	out := make(map[string]*IndexEntry)
	for _, e := range idx.Entries {
		if e.Stage == StageMerged {
			out[e.Path] = e
		}
	}
	return out
}

// Add stages the given worktree paths at stage 0. Each path is resolved
// relative to the repo root; directories are walked recursively. Staging a
// conflicted path resolves it: the higher stages are dropped in favor of
// the worktree content. Missing paths that are currently tracked are
// staged as deletions.
func (r *Repo) Add(paths []string) error {
	wt, err := r.Worktree()
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	idx, err := r.ReadIndex()
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}

	for _, p := range paths {
		relPath, err := r.repoRelPath(p)
		if err != nil {
			return fmt.Errorf("add: resolve path %q: %w", p, err)
		}

		info, err := wt.Lstat(relPath)
		if errors.Is(err, os.ErrNotExist) {
			if len(idx.EntriesForPath(relPath)) == 0 {
				return fmt.Errorf("add: %q: %w", relPath, ErrNotFound)
			}
			idx.removePath(relPath)
			continue
		}
		if err != nil {
			return fmt.Errorf("add: stat %q: %w", relPath, err)
		}

		if info.IsDir() {
			if err := r.addDir(idx, relPath); err != nil {
				return err
			}
			continue
		}
		if err := r.addFile(idx, relPath); err != nil {
			return err
		}
	}

	if err := r.WriteIndex(idx); err != nil {
		return fmt.Errorf("add: %w", err)
	}
	return nil
}

func (r *Repo) addDir(idx *Index, dir string) error {
	return util.Walk(r.wt, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("add: walk %q: %w", dir, err)
		}
		rel := filepath.ToSlash(path)
		if info.IsDir() {
			if rel == strandDirName || strings.HasPrefix(rel, strandDirName+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		return r.addFile(idx, rel)
	})
}

func (r *Repo) addFile(idx *Index, relPath string) error {
	info, err := r.wt.Lstat(relPath)
	if err != nil {
		return fmt.Errorf("add: stat %q: %w", relPath, err)
	}

	var content []byte
	mode := fileModeOf(info)
	if mode == ModeSymlink {
		target, err := r.wt.Readlink(relPath)
		if err != nil {
			return fmt.Errorf("add: readlink %q: %w", relPath, err)
		}
		content = []byte(target)
	} else {
		content, err = util.ReadFile(r.wt, relPath)
		if err != nil {
			return fmt.Errorf("add: read %q: %w", relPath, err)
		}
	}

	blobHash, err := r.Store.WriteBlob(&object.Blob{Data: content})
	if err != nil {
		return fmt.Errorf("add: write blob %q: %w", relPath, err)
	}

	idx.SetMerged(&IndexEntry{
		Path:     relPath,
		BlobHash: blobHash,
		Mode:     mode,
		ModTime:  info.ModTime().Unix(),
		Size:     info.Size(),
	})
	return nil
}

// Remove unstages the given paths and, unless keepWorktree is set, deletes
// them from the working tree.
func (r *Repo) Remove(paths []string, keepWorktree bool) error {
	wt, err := r.Worktree()
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	idx, err := r.ReadIndex()
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}

	for _, p := range paths {
		relPath, err := r.repoRelPath(p)
		if err != nil {
			return fmt.Errorf("remove: resolve path %q: %w", p, err)
		}
		if len(idx.EntriesForPath(relPath)) == 0 {
			return fmt.Errorf("remove: %q is not tracked: %w", relPath, ErrNotFound)
		}
		idx.removePath(relPath)

		if !keepWorktree {
			if err := wt.Remove(relPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove: delete %q: %w", relPath, err)
			}
		}
	}

	if err := r.WriteIndex(idx); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

// repoRelPath converts a path (absolute, or relative to CWD) into a
// slash-separated path relative to the repository root.
func (r *Repo) repoRelPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(r.RootDir, p)
		if err != nil {
			return "", fmt.Errorf("cannot make %q relative to %q: %w", p, r.RootDir, err)
		}
		return filepath.ToSlash(rel), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}

	abs := filepath.Join(cwd, p)
	rel, err := filepath.Rel(r.RootDir, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}
	return filepath.ToSlash(rel), nil
}
