package process

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// FileDiff is the unified diff of one file with line statistics
type FileDiff struct {
	FilePath     string
	Unified      string
	LinesAdded   int
	LinesRemoved int
}

// GenerateFileDiff computes the unified diff between two versions of a file.
// It returns nil when the contents are equal.
func GenerateFileDiff(filePath, oldContent, newContent string) (*FileDiff, error) {
	if oldContent == newContent {
		return nil, nil
	}
	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldContent),
		B:        difflib.SplitLines(newContent),
		FromFile: "a/" + filePath,
		ToFile:   "b/" + filePath,
		Context:  3,
	})
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", filePath, err)
	}

	d := &FileDiff{FilePath: filePath, Unified: unified}
	for _, line := range strings.Split(unified, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			d.LinesAdded++
		case strings.HasPrefix(line, "-"):
			d.LinesRemoved++
		}
	}
	return d, nil
}

// FormatDiff formats a FileDiff as a short summary for the session log
func FormatDiff(diff *FileDiff) string {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	fmt.Fprintf(w, "● Update(%s)\n", diff.FilePath)

	summary := []string{}
	if diff.LinesAdded > 0 {
		summary = append(summary, fmt.Sprintf("Added %d lines", diff.LinesAdded))
	}
	if diff.LinesRemoved > 0 {
		summary = append(summary, fmt.Sprintf("Removed %d lines", diff.LinesRemoved))
	}
	if len(summary) > 0 {
		fmt.Fprintf(w, "  └─ %s\n", strings.Join(summary, ", "))
	}

	w.Flush()
	return buf.String()
}
