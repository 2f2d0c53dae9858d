package session

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/clive/pair/internal/errors"
	"github.com/clive/pair/internal/model"
)

// Mode selects the system prompt used for turns
type Mode string

const (
	ModeCode Mode = "code"
	ModePKM  Mode = "pkm"
	ModeCBT  Mode = "cbt"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, bool) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeCode, ModePKM, ModeCBT:
		return m, true
	}
	return "", false
}

// Reverter undoes a previously applied change
type Reverter interface {
	Revert(ctx context.Context, diff *model.Diff) error
}

// State is the mutable session state shared by background contexts.
// The tracked set and the last diff are guarded by separate locks so a
// toggle never waits on a turn.
type State struct {
	root        string
	testCommand string
	lintCommand string

	trackedMu sync.Mutex
	tracked   map[string]struct{}

	diffMu   sync.Mutex
	lastDiff *model.Diff

	modeMu sync.RWMutex
	mode   Mode

	notesMu sync.Mutex
	notes   []string
}

// Options configures a new State
type Options struct {
	TestCommand string
	LintCommand string
	Mode        Mode
}

// New creates session state rooted at root
func New(root string, opts Options) (*State, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSetup, "resolve session root")
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeCode
	}
	return &State{
		root:        abs,
		testCommand: opts.TestCommand,
		lintCommand: opts.LintCommand,
		tracked:     make(map[string]struct{}),
		mode:        mode,
	}, nil
}

// Root returns the absolute session root
func (s *State) Root() string { return s.root }

// TestCommand returns the configured test command
func (s *State) TestCommand() string { return s.testCommand }

// LintCommand returns the configured lint command
func (s *State) LintCommand() string { return s.lintCommand }

// Mode returns the current chat mode
func (s *State) Mode() Mode {
	s.modeMu.RLock()
	defer s.modeMu.RUnlock()
	return s.mode
}

// SetMode switches the chat mode
func (s *State) SetMode(m Mode) {
	s.modeMu.Lock()
	s.mode = m
	s.modeMu.Unlock()
}

// ToggleTracked adds path if absent and removes it if present. It returns
// whether path is tracked afterwards.
func (s *State) ToggleTracked(path string) (bool, error) {
	rel, err := s.relative(path)
	if err != nil {
		return false, err
	}
	s.trackedMu.Lock()
	defer s.trackedMu.Unlock()
	if _, ok := s.tracked[rel]; ok {
		delete(s.tracked, rel)
		return false, nil
	}
	s.tracked[rel] = struct{}{}
	return true, nil
}

// IsTracked reports whether path is in the working set
func (s *State) IsTracked(path string) bool {
	rel, err := s.relative(path)
	if err != nil {
		return false
	}
	s.trackedMu.Lock()
	defer s.trackedMu.Unlock()
	_, ok := s.tracked[rel]
	return ok
}

// ListTracked returns the working set sorted by path
func (s *State) ListTracked() []string {
	s.trackedMu.Lock()
	out := make([]string, 0, len(s.tracked))
	for p := range s.tracked {
		out = append(out, p)
	}
	s.trackedMu.Unlock()
	sort.Strings(out)
	return out
}

// Add expands pattern against the root and tracks every matching file.
// A literal path matching nothing is tracked as a new file. It returns the
// paths newly added.
func (s *State) Add(pattern string) ([]string, error) {
	rel, err := s.relative(pattern)
	if err != nil {
		return nil, err
	}

	var matches []string
	if doublestar.ValidatePattern(rel) && hasMeta(rel) {
		matches, err = doublestar.Glob(os.DirFS(s.root), rel, doublestar.WithFilesOnly())
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeAction, "expand "+pattern)
		}
		if len(matches) == 0 {
			return nil, errors.Newf(errors.CodeAction, "No files matched '%s'", pattern)
		}
	} else {
		info, statErr := os.Stat(filepath.Join(s.root, filepath.FromSlash(rel)))
		switch {
		case statErr == nil && info.IsDir():
			matches, err = doublestar.Glob(os.DirFS(s.root), rel+"/**", doublestar.WithFilesOnly())
			if err != nil {
				return nil, errors.Wrap(err, errors.CodeAction, "expand "+pattern)
			}
		default:
			matches = []string{rel}
		}
	}

	s.trackedMu.Lock()
	defer s.trackedMu.Unlock()
	var added []string
	for _, m := range matches {
		if _, ok := s.tracked[m]; ok {
			continue
		}
		s.tracked[m] = struct{}{}
		added = append(added, m)
	}
	sort.Strings(added)
	return added, nil
}

// Remove drops tracked paths matching pattern and returns them
func (s *State) Remove(pattern string) ([]string, error) {
	rel, err := s.relative(pattern)
	if err != nil {
		return nil, err
	}
	if !doublestar.ValidatePattern(rel) {
		return nil, errors.Newf(errors.CodeAction, "invalid pattern '%s'", pattern)
	}

	s.trackedMu.Lock()
	defer s.trackedMu.Unlock()
	var removed []string
	for p := range s.tracked {
		if p == rel || doublestar.MatchUnvalidated(rel, p) || strings.HasPrefix(p, rel+"/") {
			delete(s.tracked, p)
			removed = append(removed, p)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

// Clear drops every tracked path
func (s *State) Clear() []string {
	s.trackedMu.Lock()
	defer s.trackedMu.Unlock()
	removed := make([]string, 0, len(s.tracked))
	for p := range s.tracked {
		removed = append(removed, p)
	}
	s.tracked = make(map[string]struct{})
	sort.Strings(removed)
	return removed
}

// RecordTurnResult stores the diff produced by a turn. Only the exclusive
// task calls this.
func (s *State) RecordTurnResult(d *model.Diff) {
	s.diffMu.Lock()
	s.lastDiff = d
	s.diffMu.Unlock()
}

// LastDiff returns the most recent diff, or nil
func (s *State) LastDiff() *model.Diff {
	s.diffMu.Lock()
	defer s.diffMu.Unlock()
	return s.lastDiff
}

// RevertLast reverts the last applied diff through r and clears it. It
// fails when there is nothing to undo.
func (s *State) RevertLast(ctx context.Context, r Reverter) (*model.Diff, error) {
	s.diffMu.Lock()
	defer s.diffMu.Unlock()
	if s.lastDiff == nil {
		return nil, errors.New(errors.CodeAction, "No change to undo")
	}
	d := s.lastDiff
	if err := r.Revert(ctx, d); err != nil {
		return nil, err
	}
	s.lastDiff = nil
	return d, nil
}

// AddNote records context to include in the next turn's prompt
func (s *State) AddNote(note string) {
	s.notesMu.Lock()
	s.notes = append(s.notes, note)
	s.notesMu.Unlock()
}

// TakeNotes returns and clears the recorded notes
func (s *State) TakeNotes() []string {
	s.notesMu.Lock()
	defer s.notesMu.Unlock()
	notes := s.notes
	s.notes = nil
	return notes
}

// relative converts path to a clean slash-separated path under the root
func (s *State) relative(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New(errors.CodeAction, "empty path")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	rel, err := filepath.Rel(s.root, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Newf(errors.CodeAction, "%s is not inside %s", path, s.root)
	}
	return filepath.ToSlash(rel), nil
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}
