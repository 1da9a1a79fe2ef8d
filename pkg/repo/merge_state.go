package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/strandvcs/strand/pkg/object"
)

// MergeHeadKind classifies the pending operation a recorded merge head
// belongs to.
type MergeHeadKind string

const (
	MergeKindMerge      MergeHeadKind = "merge"
	MergeKindCherryPick MergeHeadKind = "cherry-pick"
	MergeKindRevert     MergeHeadKind = "revert"
)

// MergeHead records one side of an in-progress merge, cherry-pick or
// revert: the commit being integrated and the human-readable label used in
// conflict markers and the final commit message.
type MergeHead struct {
	Hash  object.Hash
	Kind  MergeHeadKind
	Label string
}

func mergeStateFile(kind MergeHeadKind) string {
	switch kind {
	case MergeKindCherryPick:
		return "CHERRY_PICK_HEAD"
	case MergeKindRevert:
		return "REVERT_HEAD"
	default:
		return "MERGE_HEAD"
	}
}

// writeMergeState persists the pending heads and the prepared commit
// message. Heads of kind merge go to MERGE_HEAD (one per line); cherry-pick
// and revert use their own head files so a later Commit can tell the
// operations apart.
func (r *Repo) writeMergeState(heads []MergeHead, message string) error {
	byFile := make(map[string][]MergeHead)
	for _, h := range heads {
		f := mergeStateFile(h.Kind)
		byFile[f] = append(byFile[f], h)
	}

	for file, fileHeads := range byFile {
		var b strings.Builder
		for _, h := range fileHeads {
			b.WriteString(string(h.Hash))
			b.WriteByte('\t')
			b.WriteString(h.Label)
			b.WriteByte('\n')
		}
		path := filepath.Join(r.StrandDir, file)
		if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", file, err)
		}
	}

	msgPath := filepath.Join(r.StrandDir, "MERGE_MSG")
	if err := os.WriteFile(msgPath, []byte(message), 0o644); err != nil {
		return fmt.Errorf("write MERGE_MSG: %w", err)
	}
	return nil
}

// readMergeHeads returns the recorded pending heads across all three head
// files, or nil when no operation is in progress.
func (r *Repo) readMergeHeads() ([]MergeHead, error) {
	var heads []MergeHead
	for _, kind := range []MergeHeadKind{MergeKindMerge, MergeKindCherryPick, MergeKindRevert} {
		path := filepath.Join(r.StrandDir, mergeStateFile(kind))
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", mergeStateFile(kind), err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			hash, label, _ := strings.Cut(line, "\t")
			heads = append(heads, MergeHead{
				Hash:  object.Hash(hash),
				Kind:  kind,
				Label: label,
			})
		}
	}
	return heads, nil
}

// pendingMessage returns the prepared MERGE_MSG contents, if any.
func (r *Repo) pendingMessage() string {
	data, err := os.ReadFile(filepath.Join(r.StrandDir, "MERGE_MSG"))
	if err != nil {
		return ""
	}
	return string(data)
}

// clearMergeState removes all pending-operation files. Missing files are
// not an error: clearing is idempotent.
func (r *Repo) clearMergeState() error {
	files := []string{"MERGE_HEAD", "CHERRY_PICK_HEAD", "REVERT_HEAD", "MERGE_MSG"}
	for _, f := range files {
		if err := os.Remove(filepath.Join(r.StrandDir, f)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clear merge state: remove %s: %w", f, err)
		}
	}
	return nil
}

// MergeInProgress reports whether a merge, cherry-pick or revert is
// pending.
func (r *Repo) MergeInProgress() (bool, error) {
	heads, err := r.readMergeHeads()
	if err != nil {
		return false, err
	}
	return len(heads) > 0, nil
}
