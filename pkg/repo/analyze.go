package repo

import (
	"fmt"
	"strings"

	"github.com/strandvcs/strand/pkg/object"
)

// MergeAnalysis is a bitset describing how a set of candidate heads
// relates to the current HEAD.
type MergeAnalysis uint

const (
	// AnalysisUpToDate: every candidate is already reachable from HEAD;
	// merging would change nothing.
	AnalysisUpToDate MergeAnalysis = 1 << iota

	// AnalysisFastForward: HEAD can reach the (single) candidate by
	// moving the branch pointer forward, with no new commit. Also set
	// when HEAD is unborn.
	AnalysisFastForward

	// AnalysisNormal: a true merge commit would be required.
	AnalysisNormal
)

func (a MergeAnalysis) IsUpToDate() bool     { return a&AnalysisUpToDate != 0 }
func (a MergeAnalysis) CanFastForward() bool { return a&AnalysisFastForward != 0 }
func (a MergeAnalysis) RequiresNormal() bool { return a&AnalysisNormal != 0 }

func (a MergeAnalysis) String() string {
	var parts []string
	if a.IsUpToDate() {
		parts = append(parts, "up-to-date")
	}
	if a.CanFastForward() {
		parts = append(parts, "fast-forward")
	}
	if a.RequiresNormal() {
		parts = append(parts, "normal")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// AnalyzeMerge classifies how merging the candidate heads into the
// current HEAD would proceed, without mutating anything.
//
// Rules:
//   - no candidates → error
//   - all candidates already in HEAD's history → UpToDate
//   - HEAD unborn → FastForward
//   - single candidate with HEAD in its history → FastForward
//   - otherwise → Normal
func (r *Repo) AnalyzeMerge(heads []object.Hash) (MergeAnalysis, error) {
	if len(heads) == 0 {
		return 0, fmt.Errorf("analyze merge: no heads given")
	}

	head, err := r.ResolveHead()
	if err != nil {
		return 0, fmt.Errorf("analyze merge: %w", err)
	}
	if head.Unborn {
		return AnalysisFastForward, nil
	}

	allReachable := true
	for _, h := range heads {
		if h == "" {
			return 0, fmt.Errorf("analyze merge: empty head hash")
		}
		reachable, err := r.IsAncestor(h, head.Hash)
		if err != nil {
			return 0, fmt.Errorf("analyze merge: %w", err)
		}
		if !reachable {
			allReachable = false
			break
		}
	}
	if allReachable {
		return AnalysisUpToDate, nil
	}

	if len(heads) == 1 {
		ff, err := r.IsAncestor(head.Hash, heads[0])
		if err != nil {
			return 0, fmt.Errorf("analyze merge: %w", err)
		}
		if ff {
			return AnalysisFastForward, nil
		}
	}
	return AnalysisNormal, nil
}
