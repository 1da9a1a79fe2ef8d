package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5/util"

	"github.com/strandvcs/strand/pkg/object"
)

// StatusCode classifies one side (index or worktree) of a path's state.
type StatusCode int

const (
	StatusClean StatusCode = iota
	StatusAdded
	StatusModified
	StatusDeleted
	StatusUntracked
	StatusConflicted
)

func (c StatusCode) String() string {
	switch c {
	case StatusClean:
		return "clean"
	case StatusAdded:
		return "added"
	case StatusModified:
		return "modified"
	case StatusDeleted:
		return "deleted"
	case StatusUntracked:
		return "untracked"
	case StatusConflicted:
		return "conflicted"
	default:
		return "unknown"
	}
}

// StatusEntry reports one path's state: IndexStatus compares HEAD to the
// index, WorkStatus compares the index to the working tree.
type StatusEntry struct {
	Path        string
	IndexStatus StatusCode
	WorkStatus  StatusCode
}

// Status compares HEAD, index and working tree, returning one entry per
// path that is not clean on both sides, sorted by path.
func (r *Repo) Status() ([]StatusEntry, error) {
	if _, err := r.Worktree(); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	head, err := r.ResolveHead()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	headFiles, err := r.commitFiles(head.Hash)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	idx, err := r.ReadIndex()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	worktree, err := r.worktreeBlobHashes()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	staged := idx.mergedEntries()
	conflicted := make(map[string]bool)
	for _, p := range idx.ConflictedPaths() {
		conflicted[p] = true
	}

	paths := make(map[string]bool)
	for p := range headFiles {
		paths[p] = true
	}
	for p := range staged {
		paths[p] = true
	}
	for p := range conflicted {
		paths[p] = true
	}
	for p := range worktree {
		paths[p] = true
	}

	var entries []StatusEntry
	for p := range paths {
		e := StatusEntry{Path: p}

		if conflicted[p] {
			e.IndexStatus = StatusConflicted
			e.WorkStatus = StatusConflicted
			entries = append(entries, e)
			continue
		}

		headEntry, inHead := headFiles[p]
		idxEntry, inIndex := staged[p]
		workHash, inWork := worktree[p]

		switch {
		case inHead && inIndex:
			if headEntry.BlobHash != idxEntry.BlobHash {
				e.IndexStatus = StatusModified
			}
		case !inHead && inIndex:
			e.IndexStatus = StatusAdded
		case inHead && !inIndex:
			e.IndexStatus = StatusDeleted
		}

		switch {
		case inIndex && inWork:
			if idxEntry.BlobHash != workHash {
				e.WorkStatus = StatusModified
			}
		case inIndex && !inWork:
			e.WorkStatus = StatusDeleted
		case !inIndex && !inHead && inWork:
			e.WorkStatus = StatusUntracked
		case !inIndex && inHead && inWork:
			// Tracked by HEAD but unstaged (index dropped it): the
			// worktree copy is untracked relative to the index.
			e.WorkStatus = StatusUntracked
		}

		if e.IndexStatus != StatusClean || e.WorkStatus != StatusClean {
			entries = append(entries, e)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// worktreeBlobHashes walks the working tree and hashes every regular file
// and symlink, skipping the metadata directory.
func (r *Repo) worktreeBlobHashes() (map[string]object.Hash, error) {
	hashes := make(map[string]object.Hash)
	err := util.Walk(r.wt, ".", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		rel := filepath.ToSlash(p)
		if info.IsDir() {
			if rel == strandDirName || strings.HasPrefix(rel, strandDirName+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if rel == "." || strings.HasPrefix(rel, strandDirName+"/") {
			return nil
		}

		var content []byte
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := r.wt.Readlink(rel)
			if err != nil {
				return fmt.Errorf("readlink %q: %w", rel, err)
			}
			content = []byte(target)
		} else {
			content, err = util.ReadFile(r.wt, rel)
			if err != nil {
				return fmt.Errorf("read %q: %w", rel, err)
			}
		}
		hashes[rel] = object.HashObject(object.TypeBlob, content)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}
