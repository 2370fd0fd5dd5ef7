// Package merge classifies files as textual or binary and performs a
// three-way (or degraded two-way) line merge, falling back to
// git-style conflict markers when changes overlap.
package merge

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// textExtensions is the curated set of suffixes treated as textual
// regardless of what MIME sniffing says. ".txt" is deliberately
// excluded: plain-text user content is opaque to this package and
// handled by conflict policy instead of automatic merge.
var textExtensions = map[string]bool{
	".md": true, ".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".java": true, ".c": true, ".cpp": true, ".h": true, ".hpp": true,
	".cs": true, ".rb": true, ".go": true, ".rs": true, ".php": true,
	".html": true, ".css": true, ".scss": true, ".sass": true, ".less": true,
	".xml": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".ini": true, ".cfg": true, ".conf": true, ".sh": true, ".bash": true,
	".zsh": true, ".fish": true, ".sql": true, ".r": true, ".m": true,
	".swift": true, ".kt": true, ".scala": true, ".clj": true,
	".hs": true, ".ml": true, ".ex": true, ".exs": true, ".erl": true,
	".pl": true, ".pm": true, ".lua": true, ".vim": true, ".el": true,
	".tex": true, ".rst": true, ".adoc": true, ".org": true,
	".cmake": true, ".gradle": true, ".properties": true, ".env": true,
	".gitignore": true, ".dockerignore": true, ".editorconfig": true,
	".eslintrc": true, ".prettierrc": true,
}

// LooksTextual reports whether path should be treated as a textual
// file eligible for automatic merge, based on its extension and (for
// extensions outside the curated set) MIME sniffing.
func LooksTextual(path string) bool {
	suffix := strings.ToLower(filepath.Ext(path))
	if suffix == ".txt" {
		return false
	}
	if textExtensions[suffix] {
		return true
	}
	mimeType := mime.TypeByExtension(suffix)
	return strings.HasPrefix(mimeType, "text/")
}

// LooksBinary scans the first 8KiB of content for a null byte, the
// standard heuristic for distinguishing binary from text content.
func LooksBinary(content []byte) bool {
	sampleSize := len(content)
	if sampleSize > 8192 {
		sampleSize = 8192
	}
	for _, b := range content[:sampleSize] {
		if b == 0 {
			return true
		}
	}
	return false
}

// Result is the outcome of a merge attempt.
type Result struct {
	Success   bool
	Content   string
	Conflicts []string
}

const (
	conflictLocalMarker  = "<<<<<<< LOCAL\n"
	conflictSepMarker    = "=======\n"
	conflictRemoteMarker = ">>>>>>> REMOTE\n"
)

// ThreeWay merges base, left ("LOCAL"), and right ("REMOTE") line by
// line. If one side is unchanged from base, the other side wins
// outright. Otherwise the base->left and base->right edit ranges are
// compared: if they are pairwise disjoint the result is assembled by
// walking base partitioned at the union of both sides' change
// boundaries; any overlap falls back to a conflict-marked document
// carrying the full left and right bodies.
func ThreeWay(base, left, right string) Result {
	if left == right {
		return Result{Success: true, Content: left}
	}

	opsLeft := lineOpcodes(base, left)
	opsRight := lineOpcodes(base, right)

	if allEqual(opsLeft) {
		return Result{Success: true, Content: right}
	}
	if allEqual(opsRight) {
		return Result{Success: true, Content: left}
	}

	merged, ok := mergeDisjoint(splitLines(base), opsLeft, opsRight)
	if ok {
		return Result{Success: true, Content: strings.Join(merged, "")}
	}

	return Result{
		Success:   false,
		Content:   conflictMarkedContent(left, right),
		Conflicts: []string{"automatic merge failed - manual resolution required"},
	}
}

// TwoWayDegraded is invoked when no common ancestor is available (the
// prior state has no record on one side): it runs the same three-way
// routine against an empty base, so any overlapping addition falls
// back to a conflict exactly as it would with a real base.
func TwoWayDegraded(left, right string) Result {
	return ThreeWay("", left, right)
}

// lineRange is a half-open [Start, End) range of base line indices
// that one side replaced, along with the replacement lines.
type lineRange struct {
	Start, End int
	Lines      []string
}

// lineOpcodes computes the base-index change ranges for base->other,
// encoding each line as one rune via diffmatchpatch's line-to-char
// trick so the underlying Myers diff operates at line granularity.
func lineOpcodes(base, other string) []lineRange {
	dmp := diffmatchpatch.New()
	baseChars, otherChars, lineArray := dmp.DiffLinesToChars(base, other)
	diffs := dmp.DiffMain(baseChars, otherChars, false)

	var ranges []lineRange
	baseIdx := 0
	for _, d := range diffs {
		count := len([]rune(d.Text))
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			baseIdx += count
		case diffmatchpatch.DiffDelete:
			if len(ranges) > 0 && ranges[len(ranges)-1].Start == baseIdx && ranges[len(ranges)-1].End == baseIdx {
				// An insert immediately followed by a delete at the same
				// point is a replacement; widen the insert's range.
				ranges[len(ranges)-1].End = baseIdx + count
			} else {
				ranges = append(ranges, lineRange{Start: baseIdx, End: baseIdx + count})
			}
			baseIdx += count
		case diffmatchpatch.DiffInsert:
			lines := decodeLines(d.Text, lineArray)
			if len(ranges) > 0 && ranges[len(ranges)-1].End == baseIdx {
				last := &ranges[len(ranges)-1]
				last.Lines = append(last.Lines, lines...)
			} else {
				ranges = append(ranges, lineRange{Start: baseIdx, End: baseIdx, Lines: lines})
			}
		}
	}
	// A pure-delete range keeps nil Lines (deletion); a pure insertion
	// stays as a zero-length range at its base point.
	return ranges
}

func decodeLines(encoded string, lineArray []string) []string {
	runes := []rune(encoded)
	lines := make([]string, len(runes))
	for i, r := range runes {
		lines[i] = lineArray[int(r)]
	}
	return lines
}

func allEqual(ranges []lineRange) bool {
	return len(ranges) == 0
}

// mergeDisjoint walks baseLines partitioned at the union of every
// range boundary from both sides. A segment untouched by either side
// emits the base lines; a segment touched by exactly one side emits
// that side's replacement; pure insertions are emitted at their base
// point. Two changes conflict when their base ranges intersect, or
// when both sides insert at the same point (so a degraded merge over
// an empty base always conflicts rather than interleaving additions).
func mergeDisjoint(baseLines []string, opsLeft, opsRight []lineRange) ([]string, bool) {
	for _, a := range opsLeft {
		for _, b := range opsRight {
			if a.Start < b.End && b.Start < a.End {
				return nil, false
			}
			if a.Start == a.End && b.Start == b.End && a.Start == b.Start {
				return nil, false
			}
		}
	}

	boundary := map[int]bool{0: true, len(baseLines): true}
	for _, r := range opsLeft {
		boundary[r.Start] = true
		boundary[r.End] = true
	}
	for _, r := range opsRight {
		boundary[r.Start] = true
		boundary[r.End] = true
	}
	points := make([]int, 0, len(boundary))
	for p := range boundary {
		points = append(points, p)
	}
	sortInts(points)

	leftByStart := rangesByStart(opsLeft)
	rightByStart := rangesByStart(opsRight)

	var result []string
	for i, p := range points {
		result = append(result, insertionsAt(leftByStart, p)...)
		result = append(result, insertionsAt(rightByStart, p)...)
		if i == len(points)-1 {
			break
		}
		start, end := p, points[i+1]
		if lr, ok := findRange(leftByStart, start, end); ok {
			result = append(result, lr.Lines...)
			continue
		}
		if rr, ok := findRange(rightByStart, start, end); ok {
			result = append(result, rr.Lines...)
			continue
		}
		result = append(result, baseLines[start:end]...)
	}
	return result, true
}

func insertionsAt(byStart map[int][]lineRange, p int) []string {
	var lines []string
	for _, r := range byStart[p] {
		if r.Start == r.End {
			lines = append(lines, r.Lines...)
		}
	}
	return lines
}

func rangesByStart(ranges []lineRange) map[int][]lineRange {
	m := make(map[int][]lineRange)
	for _, r := range ranges {
		m[r.Start] = append(m[r.Start], r)
	}
	return m
}

func findRange(byStart map[int][]lineRange, start, end int) (lineRange, bool) {
	for _, r := range byStart[start] {
		if r.End == end {
			return r, true
		}
	}
	return lineRange{}, false
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func conflictMarkedContent(left, right string) string {
	var b strings.Builder
	b.WriteString(conflictLocalMarker)
	b.WriteString(left)
	if !strings.HasSuffix(left, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(conflictSepMarker)
	b.WriteString(right)
	if !strings.HasSuffix(right, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(conflictRemoteMarker)
	return b.String()
}
