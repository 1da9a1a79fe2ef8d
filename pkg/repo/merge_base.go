package repo

import (
	"container/heap"
	"fmt"

	"github.com/strandvcs/strand/pkg/object"
)

// Traversal safety limits. A repository whose history exceeds these is
// treated as corrupt rather than looping forever.
const (
	maxMergeBaseSteps = 1_000_000
	maxMergeBaseDepth = 1_000_000
)

// Test hooks; may only tighten the hard bounds above.
var (
	mergeBaseStepsLimit = maxMergeBaseSteps
	mergeBaseDepthLimit = maxMergeBaseDepth
)

func mergeBaseLimits() (maxSteps, maxDepth int) {
	maxSteps = clampTraversalLimit(mergeBaseStepsLimit, maxMergeBaseSteps)
	maxDepth = clampTraversalLimit(mergeBaseDepthLimit, maxMergeBaseDepth)
	return maxSteps, maxDepth
}

func clampTraversalLimit(limit, hardMax int) int {
	if limit <= 0 || limit > hardMax {
		return hardMax
	}
	return limit
}

// IsAncestor reports whether ancestor is reachable from descendant by
// following parent links. A commit is its own ancestor.
func (r *Repo) IsAncestor(ancestor, descendant object.Hash) (bool, error) {
	if ancestor == "" || descendant == "" {
		return false, nil
	}
	state := r.getMergeTraversalState()
	genAncestor, err := state.generation(r, ancestor)
	if err != nil {
		return false, err
	}
	genDescendant, err := state.generation(r, descendant)
	if err != nil {
		return false, err
	}
	return r.isAncestorPruned(state, ancestor, descendant, genAncestor, genDescendant)
}

// isAncestorPruned walks backward from descendant, pruning any commit
// whose generation is at or below the ancestor's (such a commit cannot
// have the ancestor behind it unless it IS the ancestor).
func (r *Repo) isAncestorPruned(state *mergeBaseTraversalState, ancestor, descendant object.Hash, genAncestor, genDescendant uint64) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	if genAncestor > genDescendant {
		return false, nil
	}

	maxSteps, maxDepth := mergeBaseLimits()
	visited := map[object.Hash]struct{}{descendant: {}}
	type item struct {
		hash  object.Hash
		depth int
	}
	queue := []item{{hash: descendant}}
	steps := 0

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		steps++
		if steps > maxSteps {
			return false, fmt.Errorf("ancestor check: traversal exceeded %d steps", maxSteps)
		}

		if cur.hash == ancestor {
			return true, nil
		}

		gen, err := state.generation(r, cur.hash)
		if err != nil {
			return false, err
		}
		if gen <= genAncestor {
			continue
		}

		commit, err := state.readCommit(r, cur.hash)
		if err != nil {
			return false, err
		}
		for _, p := range commit.Parents {
			if p == "" {
				continue
			}
			if _, seen := visited[p]; seen {
				continue
			}
			if cur.depth+1 > maxDepth {
				return false, fmt.Errorf("ancestor check: traversal exceeded depth %d", maxDepth)
			}
			visited[p] = struct{}{}
			queue = append(queue, item{hash: p, depth: cur.depth + 1})
		}
	}
	return false, nil
}

// FindMergeBase returns a best common ancestor of a and b, or empty when
// the two commits share no history.
//
// The search is generation-pruned: after the fast containment checks, the
// full ancestor set of a is collected, then a best-first walk from b
// (deepest generation first) returns the first commit found in that set.
// Expanding by descending generation guarantees the first hit is a
// maximal common ancestor. Results are memoized per repository.
func (r *Repo) FindMergeBase(a, b object.Hash) (object.Hash, error) {
	if a == "" || b == "" {
		return "", nil
	}
	if a == b {
		return a, nil
	}

	state := r.getMergeTraversalState()
	if cached, ok := state.loadMergeBase(a, b); ok {
		if cached.found {
			return cached.base, nil
		}
		return "", nil
	}

	genA, err := state.generation(r, a)
	if err != nil {
		return "", err
	}
	genB, err := state.generation(r, b)
	if err != nil {
		return "", err
	}

	// Fast path: one side contains the other (the common linear-history
	// case), so the shallower commit is the base.
	if ok, err := r.isAncestorPruned(state, a, b, genA, genB); err != nil {
		return "", err
	} else if ok {
		state.storeMergeBase(a, b, a, true)
		return a, nil
	}
	if ok, err := r.isAncestorPruned(state, b, a, genB, genA); err != nil {
		return "", err
	} else if ok {
		state.storeMergeBase(a, b, b, true)
		return b, nil
	}

	base, found, err := r.searchMergeBase(state, a, b, genB)
	if err != nil {
		return "", err
	}
	state.storeMergeBase(a, b, base, found)
	if !found {
		return "", nil
	}
	return base, nil
}

func (r *Repo) searchMergeBase(state *mergeBaseTraversalState, a, b object.Hash, genB uint64) (object.Hash, bool, error) {
	maxSteps, _ := mergeBaseLimits()

	ancestorsOfA, err := r.collectAncestors(state, a, maxSteps)
	if err != nil {
		return "", false, err
	}

	visited := map[object.Hash]struct{}{b: {}}
	frontier := generationMaxHeap{{hash: b, generation: genB}}
	heap.Init(&frontier)
	steps := 0

	for frontier.Len() > 0 {
		cur := heap.Pop(&frontier).(generationHeapItem)

		steps++
		if steps > maxSteps {
			return "", false, fmt.Errorf("find merge base: traversal exceeded %d steps", maxSteps)
		}

		if _, common := ancestorsOfA[cur.hash]; common {
			return cur.hash, true, nil
		}

		commit, err := state.readCommit(r, cur.hash)
		if err != nil {
			return "", false, err
		}
		for _, p := range commit.Parents {
			if p == "" {
				continue
			}
			if _, seen := visited[p]; seen {
				continue
			}
			visited[p] = struct{}{}
			gen, err := state.generation(r, p)
			if err != nil {
				return "", false, err
			}
			heap.Push(&frontier, generationHeapItem{hash: p, generation: gen})
		}
	}
	return "", false, nil
}

func (r *Repo) collectAncestors(state *mergeBaseTraversalState, start object.Hash, maxSteps int) (map[object.Hash]struct{}, error) {
	ancestors := map[object.Hash]struct{}{start: {}}
	queue := []object.Hash{start}
	steps := 0

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		steps++
		if steps > maxSteps {
			return nil, fmt.Errorf("find merge base: ancestor collection exceeded %d steps", maxSteps)
		}

		commit, err := state.readCommit(r, cur)
		if err != nil {
			return nil, err
		}
		for _, p := range commit.Parents {
			if p == "" {
				continue
			}
			if _, seen := ancestors[p]; seen {
				continue
			}
			ancestors[p] = struct{}{}
			queue = append(queue, p)
		}
	}
	return ancestors, nil
}
