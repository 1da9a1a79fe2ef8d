package repo

import (
	"fmt"
	"sync"

	"github.com/strandvcs/strand/pkg/object"
)

// mergeBaseTraversalState memoizes commit reads, generation numbers and
// merge-base answers across queries on the same Repo. Commits are
// immutable, so nothing here ever needs invalidation.
type mergeBaseTraversalState struct {
	mu sync.RWMutex

	commits     map[object.Hash]*object.CommitObj
	generations map[object.Hash]uint64
	mergeBases  map[mergeBasePair]mergeBaseAnswer
}

type mergeBasePair struct {
	left  object.Hash
	right object.Hash
}

type mergeBaseAnswer struct {
	base  object.Hash
	found bool
}

func newMergeBaseTraversalState() *mergeBaseTraversalState {
	return &mergeBaseTraversalState{
		commits:     make(map[object.Hash]*object.CommitObj),
		generations: make(map[object.Hash]uint64),
		mergeBases:  make(map[mergeBasePair]mergeBaseAnswer),
	}
}

func mergeBasePairKey(a, b object.Hash) mergeBasePair {
	if a <= b {
		return mergeBasePair{left: a, right: b}
	}
	return mergeBasePair{left: b, right: a}
}

func (s *mergeBaseTraversalState) loadMergeBase(a, b object.Hash) (mergeBaseAnswer, bool) {
	key := mergeBasePairKey(a, b)
	s.mu.RLock()
	answer, ok := s.mergeBases[key]
	s.mu.RUnlock()
	return answer, ok
}

func (s *mergeBaseTraversalState) storeMergeBase(a, b, base object.Hash, found bool) {
	key := mergeBasePairKey(a, b)
	s.mu.Lock()
	s.mergeBases[key] = mergeBaseAnswer{base: base, found: found}
	s.mu.Unlock()
}

func (s *mergeBaseTraversalState) readCommit(r *Repo, h object.Hash) (*object.CommitObj, error) {
	s.mu.RLock()
	cached, ok := s.commits[h]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	commit, err := r.Store.ReadCommit(h)
	if err != nil {
		return nil, fmt.Errorf("merge base: read commit %s: %w", h, err)
	}

	s.mu.Lock()
	if existing, exists := s.commits[h]; exists {
		s.mu.Unlock()
		return existing, nil
	}
	s.commits[h] = commit
	s.mu.Unlock()
	return commit, nil
}

func (s *mergeBaseTraversalState) loadGeneration(h object.Hash) (uint64, bool) {
	s.mu.RLock()
	g, ok := s.generations[h]
	s.mu.RUnlock()
	return g, ok
}

func (s *mergeBaseTraversalState) storeGeneration(h object.Hash, g uint64) {
	s.mu.Lock()
	s.generations[h] = g
	s.mu.Unlock()
}

// generation computes a commit's generation number: root commits are 1,
// every other commit is 1 + max(parent generations). Computed iteratively
// with an explicit stack so deep linear histories cannot overflow the
// goroutine stack; a cycle in the parent graph is reported as corruption.
func (s *mergeBaseTraversalState) generation(r *Repo, h object.Hash) (uint64, error) {
	if h == "" {
		return 0, nil
	}
	if g, ok := s.loadGeneration(h); ok {
		return g, nil
	}

	type frame struct {
		hash     object.Hash
		expanded bool
	}
	stack := []frame{{hash: h}}
	onStack := map[object.Hash]bool{h: true}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]

		if _, ok := s.loadGeneration(top.hash); ok {
			delete(onStack, top.hash)
			stack = stack[:len(stack)-1]
			continue
		}

		commit, err := s.readCommit(r, top.hash)
		if err != nil {
			return 0, err
		}

		if !top.expanded {
			top.expanded = true
			for _, p := range commit.Parents {
				if p == "" {
					continue
				}
				if _, ok := s.loadGeneration(p); ok {
					continue
				}
				if onStack[p] {
					return 0, fmt.Errorf("merge base: commit graph cycle at %s: %w", p, ErrCorruptRepository)
				}
				onStack[p] = true
				stack = append(stack, frame{hash: p})
			}
			continue
		}

		// All parents resolved.
		var gen uint64 = 1
		for _, p := range commit.Parents {
			if p == "" {
				continue
			}
			pg, ok := s.loadGeneration(p)
			if !ok {
				return 0, fmt.Errorf("merge base: generation of %s unresolved: %w", p, ErrCorruptRepository)
			}
			if pg+1 > gen {
				gen = pg + 1
			}
		}
		s.storeGeneration(top.hash, gen)
		delete(onStack, top.hash)
		stack = stack[:len(stack)-1]
	}

	g, ok := s.loadGeneration(h)
	if !ok {
		return 0, fmt.Errorf("merge base: generation of %s unresolved: %w", h, ErrCorruptRepository)
	}
	return g, nil
}
