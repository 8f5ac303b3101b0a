package report

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffStats counts changed lines between two drafts.
type DiffStats struct {
	LinesAdded   int
	LinesDeleted int
}

// Changed reports whether any line differs.
func (d DiffStats) Changed() bool {
	return d.LinesAdded > 0 || d.LinesDeleted > 0
}

func (d DiffStats) String() string {
	return fmt.Sprintf("+%d/-%d lines", d.LinesAdded, d.LinesDeleted)
}

// Diff compares two drafts line by line.
func Diff(before, after string) DiffStats {
	if before == after {
		return DiffStats{}
	}

	dmp := diffmatchpatch.New()
	chars1, chars2, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var stats DiffStats
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			stats.LinesAdded += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			stats.LinesDeleted += countLines(d.Text)
		}
	}
	return stats
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	// Last line without a trailing newline
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
