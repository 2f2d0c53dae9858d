package model

import "strings"

// FileChange is a single file's before/after snapshot within a Diff
type FileChange struct {
	Path    string // relative to the session root
	Before  string
	After   string
	Existed bool // false when the turn created the file
	Deleted bool // true when the turn removed the file
}

// Diff describes the change applied by one turn
type Diff struct {
	Text        string // unified diff
	Description string
	Files       []FileChange
	Commit      string // hash when the change was committed
}

// Paths returns the changed file paths in order
func (d *Diff) Paths() []string {
	if d == nil {
		return nil
	}
	paths := make([]string, 0, len(d.Files))
	for _, f := range d.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// Summary returns a one-line summary used in the log
func (d *Diff) Summary() string {
	if d == nil {
		return ""
	}
	var sb strings.Builder
	if d.Description != "" {
		sb.WriteString(d.Description)
	} else {
		sb.WriteString("changed " + strings.Join(d.Paths(), ", "))
	}
	if d.Commit != "" {
		sb.WriteString(" (commit " + d.Commit + ")")
	}
	return sb.String()
}
