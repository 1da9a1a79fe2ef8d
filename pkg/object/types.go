package object

// Hash is a 64-character hex-encoded SHA-256 digest.
type Hash string

// ZeroHash is the placeholder hash used in reflog entries for "no value".
const ZeroHash Hash = "0000000000000000000000000000000000000000000000000000000000000000"

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
	TypeTag    ObjectType = "tag"
)

const (
	// Tree mode constants compatible with Git's canonical mode strings.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
	TreeModeSymlink    = "120000"
	TreeModeSubmodule  = "160000"
)

// Blob holds raw file data.
type Blob struct {
	Data []byte
}

// TreeEntry is one entry in a tree object. Directories carry SubtreeHash;
// files, symlinks (target stored as blob data) and submodules (pinned commit
// hash) carry BlobHash.
type TreeEntry struct {
	Name        string
	IsDir       bool
	Mode        string
	BlobHash    Hash
	SubtreeHash Hash
}

// TreeObj holds a sorted list of tree entries.
type TreeObj struct {
	Entries []TreeEntry // sorted by Name
}

// CommitObj represents a commit pointing to a tree with metadata.
// Author and Committer use the conventional "Name <email>" form.
type CommitObj struct {
	TreeHash      Hash
	Parents       []Hash
	Author        string
	AuthorTime    int64
	Committer     string
	CommitterTime int64
	Signature     string
	Message       string
}

// TagObj is an annotated tag pointing at another object.
type TagObj struct {
	TargetHash Hash
	TargetType ObjectType
	Name       string
	Tagger     string
	TagTime    int64
	Message    string
}
