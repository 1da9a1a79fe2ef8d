package repo

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/strandvcs/strand/pkg/object"
)

// Branch is a named branch and the tip it pointed at when read. The tip
// is a snapshot; the stored ref may move afterwards.
type Branch struct {
	Name string
	Tip  object.Hash
}

func validBranchName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("branch name is required")
	}
	if strings.ContainsAny(name, " \t\n~^:?*[\\") || strings.Contains(name, "..") {
		return fmt.Errorf("invalid branch name %q", name)
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("invalid branch name %q", name)
	}
	return nil
}

// CreateBranch creates a branch pointing at the given commit-ish, or at
// HEAD when at is empty. The branch must not already exist.
func (r *Repo) CreateBranch(name, at string) (Branch, error) {
	if err := validBranchName(name); err != nil {
		return Branch{}, fmt.Errorf("create branch: %w", err)
	}
	if _, err := r.LookupBranch(name); err == nil {
		return Branch{}, fmt.Errorf("create branch: %q already exists", name)
	}

	if at == "" {
		at = "HEAD"
	}
	tip, err := r.ResolveCommit(at)
	if err != nil {
		return Branch{}, fmt.Errorf("create branch: resolve %q: %w", at, err)
	}

	ref := "refs/heads/" + name
	reason := fmt.Sprintf("branch: created from %s", at)
	if err := r.UpdateRefCAS(ref, tip, reason, ""); err != nil {
		return Branch{}, fmt.Errorf("create branch: %w", err)
	}
	return Branch{Name: name, Tip: tip}, nil
}

// LookupBranch reads a branch by short name.
func (r *Repo) LookupBranch(name string) (Branch, error) {
	ref, exists, err := r.readRef("refs/heads/" + name)
	if err != nil {
		return Branch{}, fmt.Errorf("lookup branch %q: %w", name, err)
	}
	if !exists {
		return Branch{}, fmt.Errorf("lookup branch %q: %w", name, ErrNotFound)
	}
	if ref.Kind != RefDirect {
		return Branch{}, fmt.Errorf("lookup branch %q: symbolic branch refs are not supported", name)
	}
	return Branch{Name: name, Tip: ref.Target}, nil
}

// ListBranches returns all branches sorted by name.
func (r *Repo) ListBranches() ([]Branch, error) {
	refs, err := r.ListRefs("refs/heads")
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	branches := make([]Branch, 0, len(refs))
	for ref, tip := range refs {
		branches = append(branches, Branch{
			Name: strings.TrimPrefix(ref, "refs/heads/"),
			Tip:  tip,
		})
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, nil
}

// DeleteBranch removes a branch. The checked-out branch cannot be
// deleted; a branch not merged into HEAD requires force.
func (r *Repo) DeleteBranch(name string, force bool) error {
	b, err := r.LookupBranch(name)
	if err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}

	head, err := r.ResolveHead()
	if err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	ref := "refs/heads/" + name
	if !head.Detached && head.Branch == ref {
		return fmt.Errorf("delete branch: %q is checked out", name)
	}

	if !force && !head.Unborn {
		merged, err := r.IsAncestor(b.Tip, head.Hash)
		if err != nil {
			return fmt.Errorf("delete branch: %w", err)
		}
		if !merged {
			return fmt.Errorf("delete branch: %q is not merged into HEAD (use force to discard %s)", name, shortHash(b.Tip))
		}
	}

	if err := os.Remove(r.refPath(ref)); err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	// The branch's reflog goes with it.
	if err := os.Remove(r.reflogPath(ref)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete branch: remove reflog: %w", err)
	}
	return nil
}

// CurrentBranch returns the checked-out branch, or ErrNotFound when HEAD
// is detached. An unborn branch is returned with an empty tip.
func (r *Repo) CurrentBranch() (Branch, error) {
	head, err := r.ResolveHead()
	if err != nil {
		return Branch{}, err
	}
	if head.Detached {
		return Branch{}, fmt.Errorf("current branch: HEAD is detached: %w", ErrNotFound)
	}
	return Branch{
		Name: strings.TrimPrefix(head.Branch, "refs/heads/"),
		Tip:  head.Hash,
	}, nil
}
