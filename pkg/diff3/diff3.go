// Package diff3 implements a line-level Myers diff and a three-way merge
// on top of it. The merge engine is consumed by the repository mutation
// layer as a pure function from (base, ours, theirs) to merged content.
package diff3

import (
	"bytes"
	"strings"
)

// Result holds the outcome of a three-way merge.
type Result struct {
	Merged    []byte // Full merged content, with conflict markers if any.
	Conflicts int    // Number of conflicted regions.
}

// HasConflicts reports whether the merge produced any conflicted region.
func (r Result) HasConflicts() bool { return r.Conflicts > 0 }

// Merge performs a three-way merge of base, ours, and theirs. The labels
// name the two sides in conflict markers (e.g. "HEAD" and a branch name).
//
// Algorithm:
//  1. Split all three inputs into lines.
//  2. Compute diff(base, ours) and diff(base, theirs).
//  3. Convert each diff into chunks: contiguous runs of unchanged or
//     changed regions relative to the base.
//  4. Walk the two chunk sequences aligned by base position; regions
//     changed on one side take that side, regions changed identically on
//     both sides merge cleanly, diverging regions emit a conflict.
func Merge(base, ours, theirs []byte, oursLabel, theirsLabel string) Result {
	baseLines := splitLines(string(base))
	oursChunks := buildChunks(baseLines, splitLines(string(ours)))
	theirsChunks := buildChunks(baseLines, splitLines(string(theirs)))

	m := merger{
		base:        baseLines,
		oursLabel:   labelOrDefault(oursLabel, "ours"),
		theirsLabel: labelOrDefault(theirsLabel, "theirs"),
	}
	return m.run(oursChunks, theirsChunks)
}

func labelOrDefault(label, fallback string) string {
	if strings.TrimSpace(label) == "" {
		return fallback
	}
	return label
}

// splitLines splits s into lines. A trailing newline does not produce an
// extra empty element.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// chunk covers a contiguous region of the base and carries the replacement
// lines from one side.
type chunk struct {
	baseStart, baseEnd int      // range [baseStart, baseEnd) in base
	lines              []string // replacement lines for this region
	changed            bool     // true if this region differs from base
}

// buildChunks converts a two-way diff (base → side) into a chunk list.
func buildChunks(base, side []string) []chunk {
	ops := MyersDiff(base, side)

	var chunks []chunk
	baseIdx := 0

	i := 0
	for i < len(ops) {
		op := ops[i]

		if op.Type == Equal {
			chunks = append(chunks, chunk{
				baseStart: baseIdx,
				baseEnd:   baseIdx + 1,
				lines:     []string{op.Line},
			})
			baseIdx++
			i++
			continue
		}

		// Accumulate a contiguous changed region (deletes and/or inserts).
		chunkStart := baseIdx
		var sideLines []string
		for i < len(ops) && ops[i].Type != Equal {
			if ops[i].Type == Delete {
				baseIdx++
			} else {
				sideLines = append(sideLines, ops[i].Line)
			}
			i++
		}

		chunks = append(chunks, chunk{
			baseStart: chunkStart,
			baseEnd:   baseIdx,
			lines:     sideLines,
			changed:   true,
		})
	}

	return chunks
}

type merger struct {
	base        []string
	oursLabel   string
	theirsLabel string

	out       bytes.Buffer
	conflicts int
}

func (m *merger) run(oursChunks, theirsChunks []chunk) Result {
	oi := 0
	ti := 0

	for oi < len(oursChunks) || ti < len(theirsChunks) {
		var oc, tc *chunk
		if oi < len(oursChunks) {
			oc = &oursChunks[oi]
		}
		if ti < len(theirsChunks) {
			tc = &theirsChunks[ti]
		}

		if oc == nil {
			m.writeLines(tc.lines)
			ti++
			continue
		}
		if tc == nil {
			m.writeLines(oc.lines)
			oi++
			continue
		}

		if oc.baseStart == tc.baseStart && oc.baseEnd == tc.baseEnd {
			m.mergeAligned(oc, tc)
			oi++
			ti++
			continue
		}

		// Misaligned: one side's change spans multiple chunks on the other
		// side. Collect every chunk overlapping the combined region and
		// merge the region as a whole.
		regionEnd := max(oc.baseEnd, tc.baseEnd)

		var oursRegion, theirsRegion []chunk
		for oi < len(oursChunks) && oursChunks[oi].baseStart < regionEnd {
			oursRegion = append(oursRegion, oursChunks[oi])
			if oursChunks[oi].baseEnd > regionEnd {
				regionEnd = oursChunks[oi].baseEnd
			}
			oi++
		}
		for ti < len(theirsChunks) && theirsChunks[ti].baseStart < regionEnd {
			theirsRegion = append(theirsRegion, theirsChunks[ti])
			if theirsChunks[ti].baseEnd > regionEnd {
				regionEnd = theirsChunks[ti].baseEnd
			}
			ti++
		}

		m.mergeRegion(assembleRegion(oursRegion), assembleRegion(theirsRegion),
			anyChanged(oursRegion), anyChanged(theirsRegion))
	}

	return Result{Merged: m.out.Bytes(), Conflicts: m.conflicts}
}

func (m *merger) mergeAligned(oc, tc *chunk) {
	switch {
	case !oc.changed && !tc.changed:
		m.writeLines(oc.lines)
	case oc.changed && !tc.changed:
		m.writeLines(oc.lines)
	case !oc.changed && tc.changed:
		m.writeLines(tc.lines)
	default:
		if linesEqual(oc.lines, tc.lines) {
			m.writeLines(oc.lines)
		} else {
			m.writeConflict(oc.lines, tc.lines)
		}
	}
}

func (m *merger) mergeRegion(oursOut, theirsOut []string, oursChanged, theirsChanged bool) {
	switch {
	case oursChanged && theirsChanged:
		if linesEqual(oursOut, theirsOut) {
			m.writeLines(oursOut)
		} else {
			m.writeConflict(oursOut, theirsOut)
		}
	case oursChanged:
		m.writeLines(oursOut)
	default:
		m.writeLines(theirsOut)
	}
}

func (m *merger) writeLines(lines []string) {
	for _, l := range lines {
		m.out.WriteString(l)
		m.out.WriteByte('\n')
	}
}

func (m *merger) writeConflict(oursLines, theirsLines []string) {
	m.conflicts++
	m.out.WriteString("<<<<<<< " + m.oursLabel + "\n")
	m.writeLines(oursLines)
	m.out.WriteString("=======\n")
	m.writeLines(theirsLines)
	m.out.WriteString(">>>>>>> " + m.theirsLabel + "\n")
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func assembleRegion(chunks []chunk) []string {
	var lines []string
	for _, c := range chunks {
		lines = append(lines, c.lines...)
	}
	return lines
}

func anyChanged(chunks []chunk) bool {
	for _, c := range chunks {
		if c.changed {
			return true
		}
	}
	return false
}
