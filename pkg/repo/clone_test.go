package repo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/strandvcs/strand/pkg/object"
	"github.com/strandvcs/strand/pkg/remote"
)

func TestFetchHead_Roundtrip(t *testing.T) {
	r := initTestRepo(t)

	heads := []FetchHead{
		{RefName: "refs/heads/dev", Target: object.Hash("aaaa"), URL: "https://x/strand/o/r", ForMerge: false},
		{RefName: "refs/heads/main", Target: object.Hash("bbbb"), URL: "https://x/strand/o/r", ForMerge: true},
	}
	if err := r.writeFetchHead(heads); err != nil {
		t.Fatalf("writeFetchHead: %v", err)
	}

	got, err := r.ReadFetchHead()
	if err != nil {
		t.Fatalf("ReadFetchHead: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d heads, want 2", len(got))
	}
	for i := range heads {
		if got[i] != heads[i] {
			t.Errorf("head[%d] = %+v, want %+v", i, got[i], heads[i])
		}
	}
}

func TestReadFetchHead_MissingFileIsEmpty(t *testing.T) {
	r := initTestRepo(t)

	heads, err := r.ReadFetchHead()
	if err != nil {
		t.Fatalf("ReadFetchHead: %v", err)
	}
	if len(heads) != 0 {
		t.Errorf("heads = %+v, want none", heads)
	}
}

func TestReadFetchHead_MalformedLine(t *testing.T) {
	r := initTestRepo(t)
	if err := os.WriteFile(r.fetchHeadPath(), []byte("not a fetch head line\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := r.ReadFetchHead(); !errors.Is(err, ErrCorruptRepository) {
		t.Errorf("err = %v, want ErrCorruptRepository", err)
	}
}

func TestMergeFetchedHeads_NoneMarkedForMerge(t *testing.T) {
	r, _ := initRepoWithCommit(t)
	heads := []FetchHead{
		{RefName: "refs/heads/other", Target: object.Hash("cccc"), URL: "u", ForMerge: false},
	}
	if err := r.writeFetchHead(heads); err != nil {
		t.Fatalf("writeFetchHead: %v", err)
	}

	if _, err := r.MergeFetchedHeads(MergeOptions{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// fakeRemote is an in-memory server speaking just enough of the wire
// protocol for Clone, Fetch and Push.
type fakeRemote struct {
	mu      sync.Mutex
	refs    map[string]object.Hash
	objects map[object.Hash]remote.ObjectRecord
	pushes  int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		refs:    make(map[string]object.Hash),
		objects: make(map[object.Hash]remote.ObjectRecord),
	}
}

// seedFrom loads every object reachable from tip out of a local store.
func (f *fakeRemote) seedFrom(t *testing.T, store *object.Store, tip object.Hash) {
	t.Helper()
	records, err := remote.CollectObjectsForPush(store, []object.Hash{tip}, nil)
	if err != nil {
		t.Fatalf("collect objects: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range records {
		f.objects[rec.Hash] = rec
	}
}

func (f *fakeRemote) setRef(name string, h object.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[name] = h
}

func (f *fakeRemote) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/strand/team/proj/refs", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			f.mu.Lock()
			out := make(map[string]string, len(f.refs))
			for name, h := range f.refs {
				out[name] = string(h)
			}
			f.mu.Unlock()
			json.NewEncoder(w).Encode(out)
		case http.MethodPost:
			var payload struct {
				Updates []struct {
					Name string  `json:"name"`
					Old  *string `json:"old"`
					New  *string `json:"new"`
				} `json:"updates"`
			}
			if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			updated := make(map[string]string)
			f.mu.Lock()
			for _, u := range payload.Updates {
				if u.Old != nil && f.refs[u.Name] != object.Hash(*u.Old) {
					f.mu.Unlock()
					w.WriteHeader(http.StatusConflict)
					json.NewEncoder(w).Encode(map[string]string{"code": "cas_mismatch", "error": "ref update conflict"})
					return
				}
				if u.New == nil || *u.New == "" {
					delete(f.refs, u.Name)
					updated[u.Name] = ""
					continue
				}
				f.refs[u.Name] = object.Hash(*u.New)
				updated[u.Name] = *u.New
			}
			f.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{"updated": updated})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/strand/team/proj/objects/batch", func(w http.ResponseWriter, req *http.Request) {
		var payload struct {
			Wants []string `json:"wants"`
			Haves []string `json:"haves"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		haveSet := make(map[object.Hash]bool, len(payload.Haves))
		for _, h := range payload.Haves {
			haveSet[object.Hash(h)] = true
		}
		type wireObj struct {
			Hash string `json:"hash"`
			Type string `json:"type"`
			Data []byte `json:"data"`
		}
		var objs []wireObj
		f.mu.Lock()
		for h, rec := range f.objects {
			if !haveSet[h] {
				objs = append(objs, wireObj{Hash: string(h), Type: string(rec.Type), Data: rec.Data})
			}
		}
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"objects": objs, "truncated": false})
	})
	mux.HandleFunc("/strand/team/proj/objects", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Header.Get("Content-Encoding") == "zstd" {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			body, err = dec.DecodeAll(body, nil)
			dec.Close()
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		var payload struct {
			Objects []struct {
				Hash string `json:"hash"`
				Type string `json:"type"`
				Data []byte `json:"data"`
			} `json:"objects"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		for _, obj := range payload.Objects {
			f.objects[object.Hash(obj.Hash)] = remote.ObjectRecord{
				Hash: object.Hash(obj.Hash),
				Type: object.ObjectType(obj.Type),
				Data: obj.Data,
			}
		}
		f.pushes++
		f.mu.Unlock()
		w.Write([]byte("{}"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes
}

func TestClone_ChecksOutDefaultBranch(t *testing.T) {
	src, tip := initRepoWithCommit(t)
	fake := newFakeRemote()
	fake.seedFrom(t, src.Store, tip)
	fake.setRef("refs/heads/main", tip)
	srv := fake.server(t)

	var progressCalls int
	dest := filepath.Join(t.TempDir(), "proj")
	r, err := Clone(context.Background(), srv.URL+"/team/proj", dest, FetchOptions{
		Progress: func(bytes int64, objects int) bool {
			progressCalls++
			return true
		},
	})
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	head, err := r.ResolveHead()
	if err != nil {
		t.Fatalf("ResolveHead: %v", err)
	}
	if head.Branch != "refs/heads/main" || head.Hash != tip {
		t.Errorf("head = %+v, want main at %.8s", head, tip)
	}

	data, err := os.ReadFile(filepath.Join(r.RootDir, "main.txt"))
	if err != nil {
		t.Fatalf("read worktree: %v", err)
	}
	if string(data) != "one\ntwo\nthree\n" {
		t.Errorf("worktree content = %q", data)
	}

	url, err := r.RemoteURL("origin")
	if err != nil {
		t.Fatalf("RemoteURL: %v", err)
	}
	if url != srv.URL+"/team/proj" {
		t.Errorf("origin = %q", url)
	}

	// The clone leaves a clean status and a populated index.
	entries, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("status after clone = %+v, want clean", entries)
	}
	if progressCalls == 0 {
		t.Error("progress callback never invoked")
	}
}

func TestClone_EmptyRemote(t *testing.T) {
	fake := newFakeRemote()
	srv := fake.server(t)

	dest := filepath.Join(t.TempDir(), "proj")
	r, err := Clone(context.Background(), srv.URL+"/team/proj", dest, FetchOptions{})
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	head, err := r.ResolveHead()
	if err != nil {
		t.Fatalf("ResolveHead: %v", err)
	}
	if !head.Unborn || head.Branch != "refs/heads/main" {
		t.Errorf("head = %+v, want unborn main", head)
	}
}

func TestFetch_TracksRemoteHeads(t *testing.T) {
	src, tip := initRepoWithCommit(t)
	commitOnBranch(t, src, "dev", "dev.txt", []byte("d\n"), "dev work")
	devTip, err := src.LookupBranch("dev")
	if err != nil {
		t.Fatalf("LookupBranch: %v", err)
	}

	fake := newFakeRemote()
	fake.seedFrom(t, src.Store, tip)
	fake.seedFrom(t, src.Store, devTip.Tip)
	fake.setRef("refs/heads/main", tip)
	fake.setRef("refs/heads/dev", devTip.Tip)
	srv := fake.server(t)

	r := initTestRepo(t)
	if err := r.SetRemote("origin", srv.URL+"/team/proj"); err != nil {
		t.Fatalf("SetRemote: %v", err)
	}

	heads, err := r.Fetch(context.Background(), "origin", FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(heads) != 2 {
		t.Fatalf("heads = %+v, want 2", heads)
	}
	// Sorted by ref name: dev before main; only the current branch's
	// counterpart is marked for merge.
	if heads[0].RefName != "refs/heads/dev" || heads[0].ForMerge {
		t.Errorf("heads[0] = %+v", heads[0])
	}
	if heads[1].RefName != "refs/heads/main" || !heads[1].ForMerge {
		t.Errorf("heads[1] = %+v", heads[1])
	}

	refs, err := r.ListRefs("refs/remotes/")
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	if refs["refs/remotes/origin/main"] != tip || refs["refs/remotes/origin/dev"] != devTip.Tip {
		t.Errorf("tracking refs = %+v", refs)
	}

	// FETCH_HEAD reads back what Fetch reported.
	fromFile, err := r.ReadFetchHead()
	if err != nil {
		t.Fatalf("ReadFetchHead: %v", err)
	}
	if len(fromFile) != 2 || fromFile[1].Target != tip || !fromFile[1].ForMerge {
		t.Errorf("FETCH_HEAD = %+v", fromFile)
	}
}

func TestFetch_CancelledByProgress(t *testing.T) {
	src, tip := initRepoWithCommit(t)
	fake := newFakeRemote()
	fake.seedFrom(t, src.Store, tip)
	fake.setRef("refs/heads/main", tip)
	srv := fake.server(t)

	r := initTestRepo(t)
	if err := r.SetRemote("origin", srv.URL+"/team/proj"); err != nil {
		t.Fatalf("SetRemote: %v", err)
	}

	_, err := r.Fetch(context.Background(), "origin", FetchOptions{
		Progress: func(int64, int) bool { return false },
	})
	if !errors.Is(err, remote.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}

	// No tracking refs were written.
	refs, err := r.ListRefs("refs/remotes/")
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("tracking refs after cancel = %+v", refs)
	}
}

func TestPush_UploadsBranch(t *testing.T) {
	r, tip := initRepoWithCommit(t)
	fake := newFakeRemote()
	srv := fake.server(t)
	if err := r.SetRemote("origin", srv.URL+"/team/proj"); err != nil {
		t.Fatalf("SetRemote: %v", err)
	}

	if err := r.Push(context.Background(), "origin", "", FetchOptions{}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if fake.refs["refs/heads/main"] != tip {
		t.Errorf("remote ref = %s, want %s", fake.refs["refs/heads/main"], tip)
	}
	// One commit, one tree, one blob.
	if len(fake.objects) != 3 {
		t.Errorf("remote has %d objects, want 3", len(fake.objects))
	}

	refs, err := r.ListRefs("refs/remotes/")
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	if refs["refs/remotes/origin/main"] != tip {
		t.Errorf("tracking ref = %+v", refs)
	}

	// Pushing again is a no-op: the remote tip already matches.
	before := fake.pushCount()
	if err := r.Push(context.Background(), "origin", "main", FetchOptions{}); err != nil {
		t.Fatalf("second Push: %v", err)
	}
	if fake.pushCount() != before {
		t.Error("up-to-date push should not upload objects")
	}
}

func TestPull_FastForwardsAfterFetch(t *testing.T) {
	src, tip := initRepoWithCommit(t)
	fake := newFakeRemote()
	fake.seedFrom(t, src.Store, tip)
	fake.setRef("refs/heads/main", tip)
	srv := fake.server(t)

	dest := filepath.Join(t.TempDir(), "proj")
	r, err := Clone(context.Background(), srv.URL+"/team/proj", dest, FetchOptions{})
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	// The source advances; the fake remote learns about it.
	writeAndAdd(t, src, "main.txt", []byte("one\ntwo\nthree\nfour\n"))
	newTip := mustCommit(t, src, "add a line")
	fake.seedFrom(t, src.Store, newTip)
	fake.setRef("refs/heads/main", newTip)

	if _, err := r.Fetch(context.Background(), "origin", FetchOptions{}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	result, err := r.MergeFetchedHeads(MergeOptions{})
	if err != nil {
		t.Fatalf("MergeFetchedHeads: %v", err)
	}
	if result.Status != MergeFastForward {
		t.Fatalf("status = %v, want fast-forward", result.Status)
	}

	head, err := r.ResolveHead()
	if err != nil {
		t.Fatalf("ResolveHead: %v", err)
	}
	if head.Hash != newTip {
		t.Errorf("head = %.8s, want %.8s", head.Hash, newTip)
	}
	data, err := os.ReadFile(filepath.Join(r.RootDir, "main.txt"))
	if err != nil {
		t.Fatalf("read worktree: %v", err)
	}
	if string(data) != "one\ntwo\nthree\nfour\n" {
		t.Errorf("worktree = %q", data)
	}
}
