package workspace

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const maxDiffLines = 5000

type DiffSummary struct {
	Added    int      `json:"added"`
	Removed  int      `json:"removed"`
	Preview  []string `json:"preview,omitempty"`
	Skipped  bool     `json:"skipped,omitempty"`
	previewN int
}

// LineDiff compares before and after line by line. Preview holds up to previewLines changed lines prefixed with + or -.
func LineDiff(before, after string, previewLines int) DiffSummary {
	summary := DiffSummary{previewN: previewLines}
	if lineCount(before)+lineCount(after) > maxDiffLines {
		summary.Skipped = true
		return summary
	}
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			continue
		}
		lines := strings.Split(d.Text, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		for _, line := range lines {
			prefix := "+"
			if d.Type == diffmatchpatch.DiffDelete {
				prefix = "-"
				summary.Removed++
			} else {
				summary.Added++
			}
			summary.addPreview(prefix + line)
		}
	}
	return summary
}

func (s *DiffSummary) addPreview(line string) {
	if len(s.Preview) < s.previewN {
		s.Preview = append(s.Preview, line)
	}
}

func lineCount(value string) int {
	if value == "" {
		return 0
	}
	return strings.Count(value, "\n") + 1
}
