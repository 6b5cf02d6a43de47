package watcher

import (
	"fmt"
	"strings"
)

// Diffing bounds. Files longer than maxDiffLines on either side get a
// placeholder instead of a scan; the excerpt shows at most excerptLines
// added and excerptLines removed lines before the summary tail.
const (
	maxDiffLines = 2000
	maxLookahead = 50
	excerptLines = 10
)

// diffResult carries the excerpt and the full add/remove counts.
type diffResult struct {
	Excerpt      string
	LinesAdded   int
	LinesRemoved int
}

// diffLines compares two texts line by line with a single forward scan and
// limited lookahead. At a mismatch it looks for the first reappearance of
// each side's current line in the other side and advances the side with the
// nearer match, emitting the skipped lines; when neither side matches it
// emits a remove+add pair and advances both. Deliberately not Myers: cheap,
// stable under duplicated lines, and bounded.
func diffLines(before, after string) diffResult {
	a := strings.Split(before, "\n")
	b := strings.Split(after, "\n")

	if len(a) > maxDiffLines || len(b) > maxDiffLines {
		added, removed := 0, 0
		if len(b) > len(a) {
			added = len(b) - len(a)
		} else {
			removed = len(a) - len(b)
		}
		return diffResult{
			Excerpt:      fmt.Sprintf("(file too large to diff: %d -> %d lines)", len(a), len(b)),
			LinesAdded:   added,
			LinesRemoved: removed,
		}
	}

	var added, removed []string
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case i >= len(a):
			added = append(added, b[j])
			j++
		case j >= len(b):
			removed = append(removed, a[i])
			i++
		case a[i] == b[j]:
			i++
			j++
		default:
			// Where does a[i] come back in b, and b[j] in a?
			inB := lookahead(b, j, a[i])
			inA := lookahead(a, i, b[j])
			switch {
			case inB < 0 && inA < 0:
				removed = append(removed, a[i])
				added = append(added, b[j])
				i++
				j++
			case inA < 0 || (inB >= 0 && inB <= inA):
				added = append(added, b[j:j+inB]...)
				j += inB
			default:
				removed = append(removed, a[i:i+inA]...)
				i += inA
			}
		}
	}
	return diffResult{
		Excerpt:      renderExcerpt(added, removed),
		LinesAdded:   len(added),
		LinesRemoved: len(removed),
	}
}

// lookahead returns the distance from start to the next occurrence of line,
// or -1 when it does not appear within maxLookahead.
func lookahead(lines []string, start int, line string) int {
	limit := start + maxLookahead
	if limit > len(lines) {
		limit = len(lines)
	}
	for k := start + 1; k < limit; k++ {
		if lines[k] == line {
			return k - start
		}
	}
	return -1
}

// renderExcerpt formats up to excerptLines of each kind plus a summary tail
// for what was cut.
func renderExcerpt(added, removed []string) string {
	var sb strings.Builder
	for idx, line := range removed {
		if idx >= excerptLines {
			break
		}
		sb.WriteString("- ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	for idx, line := range added {
		if idx >= excerptLines {
			break
		}
		sb.WriteString("+ ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	moreAdded := len(added) - excerptLines
	moreRemoved := len(removed) - excerptLines
	if moreAdded > 0 || moreRemoved > 0 {
		if moreAdded < 0 {
			moreAdded = 0
		}
		if moreRemoved < 0 {
			moreRemoved = 0
		}
		sb.WriteString(fmt.Sprintf("... (+%d more added, -%d more removed)\n", moreAdded, moreRemoved))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// countLines is the line count used for whole-file adds and unlinks.
func countLines(content string) int {
	return len(strings.Split(content, "\n"))
}
