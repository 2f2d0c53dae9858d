package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/clive/pair/internal/engine"
	"github.com/clive/pair/internal/errors"
	"github.com/clive/pair/internal/metrics"
	"github.com/clive/pair/internal/model"
	"github.com/clive/pair/internal/process"
	"github.com/clive/pair/internal/prompts"
	"github.com/clive/pair/internal/session"
)

// Session holds everything built by setup
type Session struct {
	ID           string
	State        *session.State
	Engine       engine.Engine
	Committer    Committer // nil without a repository
	AutoCommit   bool
	Reverter     session.Reverter
	Runner       *process.Runner
	Renderer     *prompts.Renderer
	History      HistoryStore // nil when history is unavailable
	InitialFiles []string
	Close        func() error
}

// HistoryStore persists turns and serves input history
type HistoryStore interface {
	HistoryRecorder
	RecentPrompts(ctx context.Context, root string, limit int) ([]string, error)
}

// SetupFunc builds the session. It runs off the presentation loop.
type SetupFunc func(ctx context.Context) (*Session, error)

var errNotReady = errors.New(errors.CodeRejected, "session is not ready")

// Orchestrator is the non-blocking API the presentation loop calls. Every
// method returns immediately; results arrive as messages on Channel.
type Orchestrator struct {
	ch      *Channel
	disp    *Dispatcher
	setup   SetupFunc
	sess    atomic.Pointer[Session]
	turns   atomic.Pointer[TurnExecutor]
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates an orchestrator. Call Start to run setup.
func New(setup SetupFunc, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	ch := NewChannel()
	return &Orchestrator{
		ch:      ch,
		disp:    NewDispatcher(ch, logger, m),
		setup:   setup,
		logger:  logger.With("component", "orchestrator"),
		metrics: m,
	}
}

// Channel returns the message channel the loop drains
func (o *Orchestrator) Channel() *Channel { return o.ch }

// Busy reports whether an exclusive task is running
func (o *Orchestrator) Busy() bool { return o.disp.Busy() }

// Ready reports whether setup has completed
func (o *Orchestrator) Ready() bool { return o.sess.Load() != nil }

// Start runs setup in the background. On success the working set and a
// ReadyNotice are posted; on failure only an ErrorNotice.
func (o *Orchestrator) Start() {
	o.disp.RunConcurrent("setup", func(ctx context.Context) error {
		s, err := o.setup(ctx)
		if err != nil {
			return errors.Wrap(err, errors.CodeSetup, "setup failed")
		}
		for _, p := range s.InitialFiles {
			if _, err := s.State.Add(p); err != nil {
				o.post("setup", model.Log(errors.UserText(err)+"\n"))
			}
		}
		o.turns.Store(NewTurnExecutor(TurnConfig{
			Channel:   o.ch,
			State:     s.State,
			Engine:    s.Engine,
			Committer: s.autoCommitter(),
			History:   s.History,
			SessionID: s.ID,
			Logger:    o.logger,
			Metrics:   o.metrics,
		}))
		o.sess.Store(s)
		o.logger.Info("session ready", "engine", s.Engine.Name(), "files", len(s.State.ListTracked()))
		o.post("setup", model.WorkingSet(s.State.ListTracked()))
		o.post("setup", model.Ready())
		return nil
	})
}

func (s *Session) autoCommitter() Committer {
	if !s.AutoCommit || s.Committer == nil {
		return nil
	}
	return s.Committer
}

func (o *Orchestrator) post(source string, msg model.Message) {
	msg.Source = source
	o.ch.Send(msg)
}

func (o *Orchestrator) session() (*Session, error) {
	s := o.sess.Load()
	if s == nil {
		return nil, errNotReady
	}
	return s, nil
}

// SubmitPrompt starts an assistant turn
func (o *Orchestrator) SubmitPrompt(prompt string) error {
	if _, err := o.session(); err != nil {
		return err
	}
	turns := o.turns.Load()
	return o.disp.RunExclusive("turn", func(ctx context.Context) error {
		return turns.Run(ctx, prompt)
	})
}

// Commit commits outstanding changes
func (o *Orchestrator) Commit(message string) error {
	s, err := o.session()
	if err != nil {
		return err
	}
	if message == "" {
		message = "pair: commit working tree"
	}
	return o.disp.RunExclusive("commit", func(ctx context.Context) error {
		if s.Committer == nil {
			return errors.New(errors.CodeAction, "Not in a git repository; nothing to commit")
		}
		hash, err := s.Committer.Commit(ctx, message, nil)
		if err != nil {
			return err
		}
		o.post("commit", model.Log(fmt.Sprintf("Commit %s %s\n", hash, message)))
		return nil
	})
}

// RunTests runs command, or the configured test command when empty
func (o *Orchestrator) RunTests(command string) error {
	s, err := o.session()
	if err != nil {
		return err
	}
	if command == "" {
		command = s.State.TestCommand()
	}
	return o.disp.RunExclusive("test", func(ctx context.Context) error {
		if command == "" {
			return errors.New(errors.CodeAction, "No test command configured; set test_cmd or use /test <command>")
		}
		out, err := s.Runner.Run(ctx, command)
		if err != nil {
			o.addRunNote(s, command, out)
			return err
		}
		o.post("test", model.Log(out))
		return nil
	})
}

// Lint lints files, or the working set when none are given
func (o *Orchestrator) Lint(files []string) error {
	s, err := o.session()
	if err != nil {
		return err
	}
	return o.disp.RunExclusive("lint", func(ctx context.Context) error {
		targets := files
		if len(targets) == 0 {
			targets = s.State.ListTracked()
		}
		report, err := s.Runner.Lint(ctx, s.State.LintCommand(), targets)
		if err != nil {
			if report != "" {
				o.addRunNote(s, s.State.LintCommand(), report)
			}
			return err
		}
		o.post("lint", model.Log(fmt.Sprintf("Lint passed for %d files\n", len(targets))))
		return nil
	})
}

// Run executes a shell command and adds its output to the next prompt
func (o *Orchestrator) Run(command string) error {
	s, err := o.session()
	if err != nil {
		return err
	}
	if strings.TrimSpace(command) == "" {
		return errors.New(errors.CodeAction, "Usage: /run <command>")
	}
	return o.disp.RunExclusive("run", func(ctx context.Context) error {
		out, err := s.Runner.Run(ctx, command)
		o.addRunNote(s, command, out)
		if err != nil {
			return err
		}
		o.post("run", model.Log(out))
		return nil
	})
}

func (o *Orchestrator) addRunNote(s *Session, command, output string) {
	note, err := s.Renderer.RunOutput(command, output)
	if err != nil {
		o.logger.Warn("render run note", "error", err)
		return
	}
	s.State.AddNote(note)
}

// Toggle flips path in or out of the working set. It may run while a
// turn is in progress.
func (o *Orchestrator) Toggle(path string) error {
	s, err := o.session()
	if err != nil {
		return err
	}
	o.disp.RunConcurrent("toggle", func(ctx context.Context) error {
		tracked, err := s.State.ToggleTracked(path)
		if err != nil {
			return err
		}
		if tracked {
			o.post("toggle", model.Log(fmt.Sprintf("Added %s to the chat\n", path)))
		} else {
			o.post("toggle", model.Log(fmt.Sprintf("Removed %s from the chat\n", path)))
		}
		o.post("toggle", model.WorkingSet(s.State.ListTracked()))
		return nil
	})
	return nil
}

// Add tracks files matching each pattern
func (o *Orchestrator) Add(patterns []string) error {
	s, err := o.session()
	if err != nil {
		return err
	}
	if len(patterns) == 0 {
		return errors.New(errors.CodeAction, "Usage: /add <file or glob>...")
	}
	o.disp.RunConcurrent("add", func(ctx context.Context) error {
		var added []string
		var failed []string
		for _, p := range patterns {
			got, err := s.State.Add(p)
			if err != nil {
				failed = append(failed, errors.UserText(err))
				continue
			}
			added = append(added, got...)
		}
		for _, p := range added {
			o.post("add", model.Log(fmt.Sprintf("Added %s to the chat\n", p)))
		}
		if len(added) > 0 {
			if note, err := s.Renderer.AddedFiles(added); err == nil {
				s.State.AddNote(note)
			}
			o.post("add", model.WorkingSet(s.State.ListTracked()))
		}
		if len(failed) > 0 {
			return errors.New(errors.CodeAction, strings.Join(failed, "\n"))
		}
		return nil
	})
	return nil
}

// Drop untracks files matching each pattern, or every file when none
func (o *Orchestrator) Drop(patterns []string) error {
	s, err := o.session()
	if err != nil {
		return err
	}
	o.disp.RunConcurrent("drop", func(ctx context.Context) error {
		var removed []string
		if len(patterns) == 0 {
			removed = s.State.Clear()
		}
		for _, p := range patterns {
			got, err := s.State.Remove(p)
			if err != nil {
				return err
			}
			removed = append(removed, got...)
		}
		if len(removed) == 0 {
			return errors.New(errors.CodeAction, "No matching files in the chat")
		}
		for _, p := range removed {
			o.post("drop", model.Log(fmt.Sprintf("Removed %s from the chat\n", p)))
		}
		o.post("drop", model.WorkingSet(s.State.ListTracked()))
		return nil
	})
	return nil
}

// Undo reverts the last applied change. It is refused while a turn runs, and
// no exclusive task can start until the revert finishes.
func (o *Orchestrator) Undo() error {
	s, err := o.session()
	if err != nil {
		return err
	}
	return o.disp.RunGuarded("undo", func(ctx context.Context) error {
		d, err := s.State.RevertLast(ctx, s.Reverter)
		if err != nil {
			return err
		}
		o.post("undo", model.Log("Undid: "+d.Summary()+"\n"))
		if note, err := s.Renderer.UndoReply(d.Commit); err == nil {
			s.State.AddNote(note)
		}
		return nil
	})
}

// ShowDiff posts the last applied diff
func (o *Orchestrator) ShowDiff() error {
	s, err := o.session()
	if err != nil {
		return err
	}
	o.disp.RunConcurrent("diff", func(ctx context.Context) error {
		d := s.State.LastDiff()
		if d == nil {
			o.post("diff", model.Log("No changes to display\n"))
			return nil
		}
		o.post("diff", model.Log("```diff\n"+d.Text+"```\n"))
		return nil
	})
	return nil
}

// SetMode switches the chat mode
func (o *Orchestrator) SetMode(name string) error {
	s, err := o.session()
	if err != nil {
		return err
	}
	mode, ok := session.ParseMode(name)
	if !ok {
		return errors.Newf(errors.CodeAction, "Unknown mode %q", name)
	}
	o.disp.RunConcurrent("mode", func(ctx context.Context) error {
		s.State.SetMode(mode)
		o.post("mode", model.Log(fmt.Sprintf("Switched to %s mode\n", mode)))
		return nil
	})
	return nil
}

// RecentPrompts returns previous prompts for input history. It blocks and
// must not be called on the presentation loop.
func (o *Orchestrator) RecentPrompts(ctx context.Context, limit int) ([]string, error) {
	s, err := o.session()
	if err != nil || s.History == nil {
		return nil, err
	}
	return s.History.RecentPrompts(ctx, s.State.Root(), limit)
}

// Shutdown cancels running tasks, waits for them and releases the session
func (o *Orchestrator) Shutdown() {
	o.disp.Shutdown()
	o.ch.Close()
	if s := o.sess.Load(); s != nil && s.Close != nil {
		if err := s.Close(); err != nil {
			o.logger.Warn("close session", "error", err)
		}
	}
}
