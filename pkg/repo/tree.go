package repo

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/strandvcs/strand/pkg/object"
)

// TreeFileEntry represents a single file in a flattened tree.
type TreeFileEntry struct {
	Path     string
	BlobHash object.Hash
	Mode     FileMode
}

// BuildTree converts the merged (stage-0) index entries into a
// hierarchical tree, writing TreeObj objects to the store and returning
// the root hash. The index must be fully merged; conflicted paths cannot
// be written as a tree.
func (r *Repo) BuildTree(idx *Index) (object.Hash, error) {
	if !idx.IsFullyMerged() {
		return "", fmt.Errorf("build tree: %w", ErrIndexConflicts)
	}
	return r.buildTreeDir(idx.mergedEntries(), "")
}

// buildTreeDir builds a TreeObj for the given directory prefix and writes
// it to the store.
func (r *Repo) buildTreeDir(entries map[string]*IndexEntry, prefix string) (object.Hash, error) {
	files := make(map[string]*IndexEntry) // name -> entry
	subdirs := make(map[string]struct{})  // immediate child dir names

	for p, entry := range entries {
		var rel string
		if prefix == "" {
			rel = p
		} else {
			if !strings.HasPrefix(p, prefix+"/") {
				continue
			}
			rel = p[len(prefix)+1:]
		}

		slash := strings.IndexByte(rel, '/')
		if slash < 0 {
			files[rel] = entry
		} else {
			subdirs[rel[:slash]] = struct{}{}
		}
	}

	names := make([]string, 0, len(files)+len(subdirs))
	for name := range files {
		names = append(names, name)
	}
	for name := range subdirs {
		if _, isFile := files[name]; !isFile {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var treeEntries []object.TreeEntry
	for _, name := range names {
		if entry, isFile := files[name]; isFile {
			treeEntries = append(treeEntries, object.TreeEntry{
				Name:     name,
				Mode:     string(normalizeFileMode(entry.Mode)),
				BlobHash: entry.BlobHash,
			})
		} else {
			childPrefix := name
			if prefix != "" {
				childPrefix = prefix + "/" + name
			}
			subHash, err := r.buildTreeDir(entries, childPrefix)
			if err != nil {
				return "", fmt.Errorf("build tree %q: %w", childPrefix, err)
			}
			treeEntries = append(treeEntries, object.TreeEntry{
				Name:        name,
				IsDir:       true,
				Mode:        object.TreeModeDir,
				SubtreeHash: subHash,
			})
		}
	}

	h, err := r.Store.WriteTree(&object.TreeObj{Entries: treeEntries})
	if err != nil {
		return "", fmt.Errorf("write tree (prefix=%q): %w", prefix, err)
	}
	return h, nil
}

// FlattenTree walks a tree object recursively, returning all file entries
// with their full slash-separated paths.
func (r *Repo) FlattenTree(h object.Hash) ([]TreeFileEntry, error) {
	return r.flattenTreeRec(h, "")
}

func (r *Repo) flattenTreeRec(h object.Hash, prefix string) ([]TreeFileEntry, error) {
	treeObj, err := r.Store.ReadTree(h)
	if err != nil {
		return nil, fmt.Errorf("flatten tree: read %s: %w", h, err)
	}

	var result []TreeFileEntry
	for _, entry := range treeObj.Entries {
		fullPath := entry.Name
		if prefix != "" {
			fullPath = path.Join(prefix, entry.Name)
		}

		if entry.IsDir {
			sub, err := r.flattenTreeRec(entry.SubtreeHash, fullPath)
			if err != nil {
				return nil, err
			}
			result = append(result, sub...)
		} else {
			result = append(result, TreeFileEntry{
				Path:     fullPath,
				BlobHash: entry.BlobHash,
				Mode:     FileMode(entry.Mode),
			})
		}
	}
	return result, nil
}

// commitFiles flattens a commit's tree into a path-keyed map. An empty
// hash yields an empty map, which stands in for the empty tree of an
// unborn branch or a root commit's missing parent.
func (r *Repo) commitFiles(commitHash object.Hash) (map[string]TreeFileEntry, error) {
	out := make(map[string]TreeFileEntry)
	if commitHash == "" {
		return out, nil
	}
	commit, err := r.Store.ReadCommit(commitHash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", commitHash, err)
	}
	files, err := r.FlattenTree(commit.TreeHash)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		out[f.Path] = f
	}
	return out, nil
}
