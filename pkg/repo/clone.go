package repo

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/strandvcs/strand/pkg/object"
	"github.com/strandvcs/strand/pkg/remote"
)

// FetchHead records one fetched remote head as written to FETCH_HEAD.
type FetchHead struct {
	RefName  string      // remote ref name, e.g. "refs/heads/main"
	Target   object.Hash // fetched tip
	URL      string      // remote URL the head came from
	ForMerge bool        // head matching the current branch, eligible for merge
}

// FetchOptions controls Clone and Fetch.
type FetchOptions struct {
	// Progress is forwarded to the transport; returning false cancels
	// the transfer with remote.ErrCancelled.
	Progress remote.TransferProgress

	// Credentials is consulted when the remote rejects a request.
	Credentials remote.CredentialsFn

	Logger *zerolog.Logger
}

func (o FetchOptions) clientOptions() remote.Options {
	return remote.Options{
		Progress:    o.Progress,
		Credentials: o.Credentials,
		Logger:      o.Logger,
	}
}

// Clone fetches a remote repository into a fresh directory at path,
// records the remote as "origin", and checks out the remote default
// branch ("main", falling back to any head).
func Clone(ctx context.Context, remoteURL, path string, opts FetchOptions) (*Repo, error) {
	r, err := Init(path)
	if err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	if err := r.SetRemote("origin", remoteURL); err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}

	heads, err := r.Fetch(ctx, "origin", opts)
	if err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	if len(heads) == 0 {
		// Empty remote: a valid clone with an unborn default branch.
		return r, nil
	}

	pick := heads[0]
	for _, h := range heads {
		if h.RefName == "refs/heads/"+defaultBranchName {
			pick = h
			break
		}
	}

	branchName := strings.TrimPrefix(pick.RefName, "refs/heads/")
	reason := fmt.Sprintf("clone: from %s", remoteURL)
	if err := r.UpdateRefCAS("refs/heads/"+branchName, pick.Target, reason, ""); err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	if branchName != defaultBranchName {
		if err := r.setSymbolicHEAD("refs/heads/"+branchName, "", pick.Target, reason); err != nil {
			return nil, fmt.Errorf("clone: %w", err)
		}
	}

	newFiles, err := r.commitFiles(pick.Target)
	if err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	if err := r.realizeFiles(map[string]TreeFileEntry{}, newFiles, true); err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	if err := r.resetIndexToFiles(newFiles); err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	if branchName == defaultBranchName {
		// HEAD already points here symbolically; record the movement.
		if err := r.appendReflog("HEAD", "", pick.Target, r.reflogIdentity(), reason); err != nil {
			return nil, fmt.Errorf("clone: %w", err)
		}
	}
	return r, nil
}

// Fetch downloads all heads of the named remote, updates the
// remote-tracking refs under refs/remotes/<name>/, and rewrites
// FETCH_HEAD. The head matching the current branch is marked ForMerge.
//
// A cancelled transfer (remote.ErrCancelled) leaves already-received
// objects in the store but updates no refs.
func (r *Repo) Fetch(ctx context.Context, remoteName string, opts FetchOptions) ([]FetchHead, error) {
	remoteURL, err := r.RemoteURL(remoteName)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	client, err := remote.NewClient(remoteURL, opts.clientOptions())
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	remoteRefs, err := client.ListRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	var wants []object.Hash
	for ref, h := range remoteRefs {
		if strings.HasPrefix(ref, "refs/heads/") && !r.Store.Has(h) {
			wants = append(wants, h)
		}
	}

	if len(wants) > 0 {
		haves, err := r.localHaves()
		if err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		if _, err := remote.FetchIntoStore(ctx, client, r.Store, wants, haves); err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
	}

	currentBranchRef := ""
	if head, err := r.ResolveHead(); err == nil && !head.Detached {
		currentBranchRef = head.Branch
	}

	var heads []FetchHead
	for ref, h := range remoteRefs {
		if !strings.HasPrefix(ref, "refs/heads/") {
			continue
		}
		branch := strings.TrimPrefix(ref, "refs/heads/")
		trackingRef := "refs/remotes/" + remoteName + "/" + branch
		if err := r.UpdateRef(trackingRef, h, fmt.Sprintf("fetch %s: storing head", remoteName)); err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		heads = append(heads, FetchHead{
			RefName:  ref,
			Target:   h,
			URL:      remoteURL,
			ForMerge: ref == currentBranchRef,
		})
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i].RefName < heads[j].RefName })

	if err := r.writeFetchHead(heads); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return heads, nil
}

// MergeFetchedHeads merges every FETCH_HEAD entry marked ForMerge into
// the current branch (the pull step after a fetch).
func (r *Repo) MergeFetchedHeads(opts MergeOptions) (*MergeResult, error) {
	heads, err := r.ReadFetchHead()
	if err != nil {
		return nil, fmt.Errorf("merge fetched heads: %w", err)
	}

	var specs []string
	for _, h := range heads {
		if h.ForMerge {
			specs = append(specs, string(h.Target))
		}
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("merge fetched heads: no heads marked for merge: %w", ErrNotFound)
	}
	return r.Merge(specs, opts)
}

// Push uploads the named branch (current branch when empty) to the
// remote and CAS-updates the remote ref from its last known value.
func (r *Repo) Push(ctx context.Context, remoteName, branchName string, opts FetchOptions) error {
	remoteURL, err := r.RemoteURL(remoteName)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	client, err := remote.NewClient(remoteURL, opts.clientOptions())
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}

	if branchName == "" {
		b, err := r.CurrentBranch()
		if err != nil {
			return fmt.Errorf("push: %w", err)
		}
		branchName = b.Name
	}
	b, err := r.LookupBranch(branchName)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}

	ref := "refs/heads/" + branchName
	remoteRefs, err := client.ListRefs(ctx)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}

	var stopRoots []object.Hash
	var oldHash *object.Hash
	if remoteTip, known := remoteRefs[ref]; known {
		if remoteTip == b.Tip {
			return nil
		}
		stopRoots = append(stopRoots, remoteTip)
		oldHash = &remoteTip
	}

	objects, err := remote.CollectObjectsForPush(r.Store, []object.Hash{b.Tip}, stopRoots)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	if err := client.PushObjects(ctx, objects); err != nil {
		return fmt.Errorf("push: %w", err)
	}

	newHash := b.Tip
	if _, err := client.UpdateRefs(ctx, []remote.RefUpdate{{Name: ref, Old: oldHash, New: &newHash}}); err != nil {
		return fmt.Errorf("push: %w", err)
	}

	trackingRef := "refs/remotes/" + remoteName + "/" + branchName
	if err := r.UpdateRef(trackingRef, b.Tip, "update by push"); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

// localHaves returns the tips of all local refs, used to bound fetch
// negotiation.
func (r *Repo) localHaves() ([]object.Hash, error) {
	refs, err := r.ListRefs("")
	if err != nil {
		return nil, err
	}
	var haves []object.Hash
	for _, h := range refs {
		if r.Store.Has(h) {
			haves = append(haves, h)
		}
	}
	return haves, nil
}

func (r *Repo) fetchHeadPath() string {
	return filepath.Join(r.StrandDir, "FETCH_HEAD")
}

// writeFetchHead rewrites FETCH_HEAD. One line per head:
//
//	<hash>\t<for-merge|not-for-merge>\t<refname>\t<url>
func (r *Repo) writeFetchHead(heads []FetchHead) error {
	var b strings.Builder
	for _, h := range heads {
		flag := "not-for-merge"
		if h.ForMerge {
			flag = "for-merge"
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\n", h.Target, flag, h.RefName, h.URL)
	}
	if err := os.WriteFile(r.fetchHeadPath(), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write FETCH_HEAD: %w", err)
	}
	return nil
}

// ReadFetchHead parses FETCH_HEAD. A missing file yields no heads.
func (r *Repo) ReadFetchHead() ([]FetchHead, error) {
	f, err := os.Open(r.fetchHeadPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read FETCH_HEAD: %w", err)
	}
	defer f.Close()

	var heads []FetchHead
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			return nil, fmt.Errorf("read FETCH_HEAD: malformed line %q: %w", line, ErrCorruptRepository)
		}
		heads = append(heads, FetchHead{
			Target:   object.Hash(fields[0]),
			ForMerge: fields[1] == "for-merge",
			RefName:  fields[2],
			URL:      fields[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read FETCH_HEAD: %w", err)
	}
	return heads, nil
}
