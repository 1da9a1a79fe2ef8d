package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/strandvcs/strand/pkg/object"
)

const (
	strandDirName     = ".strand"
	defaultBranchName = "main"
)

// Init creates a new Strand repository at path. It creates the .strand/
// directory structure: HEAD, objects/, refs/heads/ and the reflog root.
// HEAD starts as a symbolic reference to an unborn default branch. Returns
// an error if a .strand/ directory already exists.
func Init(path string) (*Repo, error) {
	return initRepo(path, false)
}

// InitBare creates a bare repository: path itself becomes the repository
// directory and no working tree is attached.
func InitBare(path string) (*Repo, error) {
	return initRepo(path, true)
}

func initRepo(path string, bare bool) (*Repo, error) {
	strandDir := filepath.Join(path, strandDirName)
	if bare {
		strandDir = path
	}

	if _, err := os.Stat(filepath.Join(strandDir, "HEAD")); err == nil {
		return nil, fmt.Errorf("init: repository already exists at %s", strandDir)
	}

	dirs := []string{
		filepath.Join(strandDir, "objects"),
		filepath.Join(strandDir, "refs", "heads"),
		filepath.Join(strandDir, "refs", "tags"),
		filepath.Join(strandDir, "logs", "refs", "heads"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}

	headPath := filepath.Join(strandDir, "HEAD")
	headContent := symbolicPrefix + "refs/heads/" + defaultBranchName + "\n"
	if err := os.WriteFile(headPath, []byte(headContent), 0o644); err != nil {
		return nil, fmt.Errorf("init: write HEAD: %w", err)
	}

	r := &Repo{
		StrandDir: strandDir,
		Store:     object.NewStore(strandDir),
		Bare:      bare,
	}
	if !bare {
		r.RootDir = path
		r.wt = osfs.New(path)
	}

	cfg := &Config{}
	cfg.Core.Bare = bare
	cfg.Core.DefaultBranch = defaultBranchName
	if err := r.WriteConfig(cfg); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}

	return r, nil
}

// Open searches upward from path for a .strand/ directory and opens the
// repository. A directory that itself contains HEAD and objects/ (but no
// working tree) is opened as a bare repository.
func Open(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open: abs path: %w", err)
	}

	cur := abs
	for {
		strandDir := filepath.Join(cur, strandDirName)
		if info, err := os.Stat(strandDir); err == nil && info.IsDir() {
			return &Repo{
				RootDir:   cur,
				StrandDir: strandDir,
				Store:     object.NewStore(strandDir),
				wt:        osfs.New(cur),
			}, nil
		}

		// A bare repository is its own metadata directory.
		if isBareRepoDir(cur) {
			return &Repo{
				StrandDir: cur,
				Store:     object.NewStore(cur),
				Bare:      true,
			}, nil
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, fmt.Errorf("open %q: not a strand repository (or any parent up to /): %w", path, ErrNotFound)
		}
		cur = parent
	}
}

func isBareRepoDir(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "HEAD")); err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, "objects"))
	return err == nil && info.IsDir()
}
