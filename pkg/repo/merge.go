package repo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/strandvcs/strand/pkg/diff3"
	"github.com/strandvcs/strand/pkg/object"
)

// MergeStrategy selects how a merge is allowed to complete.
type MergeStrategy int

const (
	// MergeDefault fast-forwards when possible and otherwise creates a
	// merge commit.
	MergeDefault MergeStrategy = iota
	// MergeFastForwardOnly refuses with ErrNonFastForward unless the
	// merge is a pure pointer move.
	MergeFastForwardOnly
	// MergeNoFastForward always creates a merge commit, even when a
	// fast-forward would suffice.
	MergeNoFastForward
)

// MergeStatus is the outcome class of a merge.
type MergeStatus int

const (
	// MergeUpToDate: nothing to do; no reference moved, no reflog entry.
	MergeUpToDate MergeStatus = iota
	// MergeFastForward: the branch pointer moved; no commit was created.
	MergeFastForward
	// MergeNonFastForward: a merge commit was created (or is ready to be
	// committed when NoCommit was set).
	MergeNonFastForward
	// MergeConflicts: conflicts were recorded in the index and worktree;
	// no commit was created. This is a result, not an error.
	MergeConflicts
)

func (s MergeStatus) String() string {
	switch s {
	case MergeUpToDate:
		return "up-to-date"
	case MergeFastForward:
		return "fast-forward"
	case MergeNonFastForward:
		return "merged"
	case MergeConflicts:
		return "conflicts"
	default:
		return "unknown"
	}
}

// MergeOptions controls Merge.
type MergeOptions struct {
	Strategy MergeStrategy

	// Message overrides the generated merge commit message.
	Message string

	// NoCommit stops a clean normal merge before committing, leaving the
	// result staged with MERGE_HEAD recorded.
	NoCommit bool

	Signer CommitSigner
}

// FileMergeReport records the merge outcome for a single file.
type FileMergeReport struct {
	Path          string
	Status        string // "clean", "conflict", "added", "deleted"
	ConflictCount int
}

// MergeResult is the overall result of a merge, revert or cherry-pick.
type MergeResult struct {
	Status          MergeStatus
	Analysis        MergeAnalysis
	CommitHash      object.Hash // new tip: fast-forward target or merge commit
	Files           []FileMergeReport
	ConflictedPaths []string
}

// Merge merges the named commit-ish specs into the current HEAD.
//
//  1. Refuse when an operation is already in progress or the index holds
//     unresolved conflicts.
//  2. Resolve each spec to a commit; analyze against HEAD. FastForwardOnly
//     fails with ErrNonFastForward unless a pointer move is all that is
//     needed, even when the head is already merged.
//  3. Up-to-date: return without touching anything.
//  4. Fast-forward (single head, strategy permitting): move the branch
//     pointer and realize the target tree; no commit object is created.
//  5. Otherwise three-way merge each head against its base with HEAD,
//     folding the results together; clean results auto-commit (unless
//     NoCommit), conflicts are staged at stages 1-3 with MERGE_HEAD left
//     for a later Commit.
func (r *Repo) Merge(specs []string, opts MergeOptions) (*MergeResult, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("merge: no heads given")
	}
	if err := r.requireNoPendingOperation("merge"); err != nil {
		return nil, err
	}

	heads := make([]object.Hash, len(specs))
	for i, spec := range specs {
		h, err := r.ResolveCommit(spec)
		if err != nil {
			return nil, fmt.Errorf("merge: resolve %q: %w", spec, err)
		}
		heads[i] = h
	}

	analysis, err := r.AnalyzeMerge(heads)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	// FastForwardOnly demands a pure pointer move. Anything else is
	// refused, including heads that are already reachable from HEAD.
	if opts.Strategy == MergeFastForwardOnly && !(analysis.CanFastForward() && len(heads) == 1) {
		return nil, fmt.Errorf("merge %q: %w", strings.Join(specs, " "), ErrNonFastForward)
	}

	if analysis.IsUpToDate() {
		return &MergeResult{Status: MergeUpToDate, Analysis: analysis}, nil
	}

	if analysis.CanFastForward() && opts.Strategy != MergeNoFastForward && len(heads) == 1 {
		result, err := r.fastForwardMerge(specs[0], heads[0])
		if err != nil {
			return nil, err
		}
		result.Analysis = analysis
		return result, nil
	}

	result, err := r.normalMerge(specs, heads, opts)
	if err != nil {
		return nil, err
	}
	result.Analysis = analysis
	return result, nil
}

// requireNoPendingOperation rejects a new history-rewriting operation
// while a merge, cherry-pick or revert is unfinished or the index holds
// conflicts.
func (r *Repo) requireNoPendingOperation(op string) error {
	pending, err := r.MergeInProgress()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if pending {
		return fmt.Errorf("%s: another operation is in progress (commit or abort it first)", op)
	}
	idx, err := r.ReadIndex()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !idx.IsFullyMerged() {
		return fmt.Errorf("%s: %w", op, ErrIndexConflicts)
	}
	return nil
}

// fastForwardMerge moves HEAD (and its branch) to target and realizes the
// target tree. No commit object is created.
func (r *Repo) fastForwardMerge(label string, target object.Hash) (*MergeResult, error) {
	head, err := r.ResolveHead()
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	oldFiles, err := r.commitFiles(head.Hash)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if head.Unborn {
		oldFiles = map[string]TreeFileEntry{}
	}
	newFiles, err := r.commitFiles(target)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	if err := r.realizeFiles(oldFiles, newFiles, false); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	reason := fmt.Sprintf("merge %s: fast-forward", label)
	if head.Detached {
		if err := r.UpdateRefCAS("HEAD", target, reason, head.Hash); err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
	} else {
		expectOld := head.Hash // "" when unborn
		if err := r.UpdateRefCAS(head.Branch, target, reason, expectOld); err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		if err := r.appendReflog("HEAD", head.Hash, target, r.reflogIdentity(), reason); err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
	}

	return &MergeResult{Status: MergeFastForward, CommitHash: target}, nil
}

// normalMerge three-way merges every head into HEAD's tree, sequentially
// folding octopus heads into the accumulated result.
func (r *Repo) normalMerge(specs []string, heads []object.Hash, opts MergeOptions) (*MergeResult, error) {
	head, err := r.ResolveHead()
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if head.Unborn {
		return nil, fmt.Errorf("merge: %w", ErrUnbornBranch)
	}

	oursFiles, err := r.commitFiles(head.Hash)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	originalFiles := cloneFileMap(oursFiles)

	result := &MergeResult{Status: MergeNonFastForward}
	var allConflicts []stagedConflict
	oursLabel := headLabel(head)

	var mergeHeads []MergeHead
	for i, theirs := range heads {
		base, err := r.FindMergeBase(head.Hash, theirs)
		if err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		baseFiles, err := r.commitFiles(base)
		if err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		theirsFiles, err := r.commitFiles(theirs)
		if err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}

		merged, conflicts, reports, err := r.mergeFileMaps(baseFiles, oursFiles, theirsFiles, oursLabel, specs[i])
		if err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		oursFiles = merged
		allConflicts = append(allConflicts, conflicts...)
		result.Files = append(result.Files, reports...)

		mergeHeads = append(mergeHeads, MergeHead{
			Hash:  theirs,
			Kind:  MergeKindMerge,
			Label: specs[i],
		})
	}

	message := strings.TrimSpace(opts.Message)
	if message == "" {
		message = mergeMessage(specs)
	}

	if err := r.applyMergeOutcome(originalFiles, oursFiles, allConflicts); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if err := r.writeMergeState(mergeHeads, message); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	if len(allConflicts) > 0 {
		result.Status = MergeConflicts
		result.ConflictedPaths = conflictPaths(allConflicts)
		return result, nil
	}

	if opts.NoCommit {
		return result, nil
	}

	commitHash, err := r.CommitWithOptions(message, CommitOptions{Signer: opts.Signer})
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	result.CommitHash = commitHash
	return result, nil
}

func mergeMessage(specs []string) string {
	quoted := make([]string, len(specs))
	for i, s := range specs {
		quoted[i] = fmt.Sprintf("'%s'", s)
	}
	if len(quoted) == 1 {
		return fmt.Sprintf("Merge branch %s", quoted[0])
	}
	return fmt.Sprintf("Merge branches %s", strings.Join(quoted, ", "))
}

func headLabel(head Head) string {
	if head.Detached || head.Branch == "" {
		return "HEAD"
	}
	return strings.TrimPrefix(head.Branch, "refs/heads/")
}

// stagedConflict records the three sides of one conflicted path for the
// index's higher stages. Empty hashes mean the file is absent on that
// side.
type stagedConflict struct {
	path       string
	baseHash   object.Hash
	oursHash   object.Hash
	theirsHash object.Hash
	mode       FileMode
}

func conflictPaths(conflicts []stagedConflict) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, c := range conflicts {
		if !seen[c.path] {
			seen[c.path] = true
			paths = append(paths, c.path)
		}
	}
	sort.Strings(paths)
	return paths
}

func cloneFileMap(m map[string]TreeFileEntry) map[string]TreeFileEntry {
	out := make(map[string]TreeFileEntry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mergeFileMaps three-way merges theirs into ours relative to base,
// producing the merged file map. Conflicted files keep marker-rendered
// content in the map (so the worktree shows the conflict) and are also
// reported as stagedConflicts.
func (r *Repo) mergeFileMaps(base, ours, theirs map[string]TreeFileEntry, oursLabel, theirsLabel string) (map[string]TreeFileEntry, []stagedConflict, []FileMergeReport, error) {
	merged := make(map[string]TreeFileEntry)
	var conflicts []stagedConflict
	var reports []FileMergeReport

	for _, path := range collectPaths(base, ours, theirs) {
		b, inBase := base[path]
		o, inOurs := ours[path]
		t, inTheirs := theirs[path]

		switch {
		case inOurs && inTheirs:
			if o.BlobHash == t.BlobHash {
				merged[path] = o
				continue
			}
			var baseHash object.Hash
			if inBase {
				baseHash = b.BlobHash
			}
			entry, conflictCount, err := r.mergeBlobs(path, baseHash, o, t, oursLabel, theirsLabel)
			if err != nil {
				return nil, nil, nil, err
			}
			merged[path] = entry
			if conflictCount > 0 {
				reports = append(reports, FileMergeReport{Path: path, Status: "conflict", ConflictCount: conflictCount})
				conflicts = append(conflicts, stagedConflict{
					path:       path,
					baseHash:   baseHash,
					oursHash:   o.BlobHash,
					theirsHash: t.BlobHash,
					mode:       normalizeFileMode(o.Mode),
				})
			} else {
				reports = append(reports, FileMergeReport{Path: path, Status: "clean"})
			}

		case inOurs && !inTheirs:
			if !inBase {
				// New in ours only.
				merged[path] = o
				reports = append(reports, FileMergeReport{Path: path, Status: "added"})
				continue
			}
			if o.BlobHash == b.BlobHash {
				// Theirs deleted an unmodified file: clean delete.
				reports = append(reports, FileMergeReport{Path: path, Status: "deleted"})
				continue
			}
			// Modify vs delete: conflict keeping our content.
			merged[path] = o
			reports = append(reports, FileMergeReport{Path: path, Status: "conflict", ConflictCount: 1})
			conflicts = append(conflicts, stagedConflict{
				path:     path,
				baseHash: b.BlobHash,
				oursHash: o.BlobHash,
				mode:     normalizeFileMode(o.Mode),
			})

		case !inOurs && inTheirs:
			if !inBase {
				merged[path] = t
				reports = append(reports, FileMergeReport{Path: path, Status: "added"})
				continue
			}
			if t.BlobHash == b.BlobHash {
				reports = append(reports, FileMergeReport{Path: path, Status: "deleted"})
				continue
			}
			// Delete vs modify: conflict keeping their content.
			merged[path] = t
			reports = append(reports, FileMergeReport{Path: path, Status: "conflict", ConflictCount: 1})
			conflicts = append(conflicts, stagedConflict{
				path:       path,
				baseHash:   b.BlobHash,
				theirsHash: t.BlobHash,
				mode:       normalizeFileMode(t.Mode),
			})

		default:
			// Deleted on both sides (or only ever in base).
			if inBase {
				reports = append(reports, FileMergeReport{Path: path, Status: "deleted"})
			}
		}
	}

	return merged, conflicts, reports, nil
}

// mergeBlobs content-merges one path, writes the merged bytes as a blob
// and returns the resulting entry plus the conflict count.
func (r *Repo) mergeBlobs(path string, baseHash object.Hash, o, t TreeFileEntry, oursLabel, theirsLabel string) (TreeFileEntry, int, error) {
	var baseData []byte
	if baseHash != "" {
		var err error
		baseData, err = r.readBlobData(baseHash)
		if err != nil {
			return TreeFileEntry{}, 0, fmt.Errorf("read base of %q: %w", path, err)
		}
	}
	oursData, err := r.readBlobData(o.BlobHash)
	if err != nil {
		return TreeFileEntry{}, 0, fmt.Errorf("read ours of %q: %w", path, err)
	}
	theirsData, err := r.readBlobData(t.BlobHash)
	if err != nil {
		return TreeFileEntry{}, 0, fmt.Errorf("read theirs of %q: %w", path, err)
	}

	res := diff3.Merge(baseData, oursData, theirsData, oursLabel, theirsLabel)
	blobHash, err := r.Store.WriteBlob(&object.Blob{Data: res.Merged})
	if err != nil {
		return TreeFileEntry{}, 0, fmt.Errorf("write merged blob %q: %w", path, err)
	}

	mode := normalizeFileMode(o.Mode)
	if mode == ModeFile && normalizeFileMode(t.Mode) == ModeExecutable {
		mode = ModeExecutable
	}
	return TreeFileEntry{Path: path, BlobHash: blobHash, Mode: mode}, res.Conflicts, nil
}

func (r *Repo) readBlobData(h object.Hash) ([]byte, error) {
	blob, err := r.Store.ReadBlob(h)
	if err != nil {
		return nil, err
	}
	return blob.Data, nil
}

func collectPaths(maps ...map[string]TreeFileEntry) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, m := range maps {
		for p := range m {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	sort.Strings(paths)
	return paths
}

// applyMergeOutcome realizes the merged file map into the worktree and
// rewrites the index: stage 0 for merged paths, stages 1-3 for conflicts.
func (r *Repo) applyMergeOutcome(oldFiles, merged map[string]TreeFileEntry, conflicts []stagedConflict) error {
	if err := r.realizeFiles(oldFiles, merged, false); err != nil {
		return err
	}

	idx := &Index{}
	conflicted := make(map[string]stagedConflict, len(conflicts))
	for _, c := range conflicts {
		conflicted[c.path] = c
	}

	for path, entry := range merged {
		if c, isConflict := conflicted[path]; isConflict {
			idx.SetConflict(path,
				conflictStageEntry(c.baseHash, c.mode),
				conflictStageEntry(c.oursHash, c.mode),
				conflictStageEntry(c.theirsHash, c.mode),
			)
			continue
		}
		idx.SetMerged(&IndexEntry{
			Path:     path,
			BlobHash: entry.BlobHash,
			Mode:     normalizeFileMode(entry.Mode),
		})
	}
	// Delete-side conflicts have no entry in merged but still need their
	// stages recorded.
	for path, c := range conflicted {
		if _, present := merged[path]; !present {
			idx.SetConflict(path,
				conflictStageEntry(c.baseHash, c.mode),
				conflictStageEntry(c.oursHash, c.mode),
				conflictStageEntry(c.theirsHash, c.mode),
			)
		}
	}

	return r.WriteIndex(idx)
}

func conflictStageEntry(h object.Hash, mode FileMode) *IndexEntry {
	if h == "" {
		return nil
	}
	return &IndexEntry{BlobHash: h, Mode: mode}
}
