package repo

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/strandvcs/strand/pkg/object"
)

// ReflogEntry is one recorded movement of a reference.
type ReflogEntry struct {
	Ref       string
	OldHash   object.Hash // empty when the ref did not exist before
	NewHash   object.Hash
	Who       string // "Name <email>"
	Timestamp time.Time
	Reason    string
}

func (r *Repo) reflogPath(ref string) string {
	return filepath.Join(r.StrandDir, "logs", filepath.FromSlash(ref))
}

// appendReflog appends one entry to the log of ref, creating the log file
// on first use. Entries are single lines:
//
//	<old> <new> <unix-ts> <who>\t<reason>
//
// A missing old side is written as the zero hash so every line has the
// same shape.
func (r *Repo) appendReflog(ref string, oldHash, newHash object.Hash, who, reason string) error {
	logPath := r.reflogPath(ref)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("reflog %q: mkdir: %w", ref, err)
	}

	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reflog %q: open: %w", ref, err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s %s %d %s\t%s\n",
		hashOrZero(oldHash),
		hashOrZero(newHash),
		time.Now().Unix(),
		who,
		strings.ReplaceAll(reason, "\n", " "),
	)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("reflog %q: write: %w", ref, err)
	}
	return f.Sync()
}

// ReadReflog returns the entries for ref, oldest first. A ref with no log
// returns an empty slice.
func (r *Repo) ReadReflog(ref string) ([]ReflogEntry, error) {
	f, err := os.Open(r.reflogPath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read reflog %q: %w", ref, err)
	}
	defer f.Close()

	var entries []ReflogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := parseReflogLine(ref, line)
		if err != nil {
			return nil, fmt.Errorf("read reflog %q: %w", ref, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read reflog %q: %w", ref, err)
	}
	return entries, nil
}

func parseReflogLine(ref, line string) (ReflogEntry, error) {
	head, reason, _ := strings.Cut(line, "\t")
	fields := strings.SplitN(head, " ", 4)
	if len(fields) < 3 {
		return ReflogEntry{}, fmt.Errorf("malformed entry %q: %w", line, ErrCorruptRepository)
	}

	ts, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return ReflogEntry{}, fmt.Errorf("malformed timestamp in %q: %w", line, ErrCorruptRepository)
	}

	entry := ReflogEntry{
		Ref:       ref,
		OldHash:   zeroToEmpty(object.Hash(fields[0])),
		NewHash:   zeroToEmpty(object.Hash(fields[1])),
		Timestamp: time.Unix(ts, 0),
		Reason:    reason,
	}
	if len(fields) == 4 {
		entry.Who = fields[3]
	}
	return entry, nil
}

func hashOrZero(h object.Hash) object.Hash {
	if h == "" {
		return object.ZeroHash
	}
	return h
}

func zeroToEmpty(h object.Hash) object.Hash {
	if h == object.ZeroHash {
		return ""
	}
	return h
}
