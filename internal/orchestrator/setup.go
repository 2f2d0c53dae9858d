package orchestrator

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/clive/pair/internal/config"
	"github.com/clive/pair/internal/engine"
	"github.com/clive/pair/internal/errors"
	"github.com/clive/pair/internal/process"
	"github.com/clive/pair/internal/prompts"
	"github.com/clive/pair/internal/session"
	"github.com/clive/pair/internal/store"
	"github.com/clive/pair/internal/vcs"
)

// NewSessionID returns a fresh session identifier
func NewSessionID() string {
	return uuid.NewString()
}

// ConfigSetup returns a SetupFunc building a session from cfg. Missing
// optional pieces (repository, history database) degrade the session
// instead of failing it.
func ConfigSetup(cfg *config.Config, root, sessionID string, files []string, logger *slog.Logger) SetupFunc {
	return func(ctx context.Context) (*Session, error) {
		renderer, err := prompts.NewRenderer(cfg.PromptsDir)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeSetup, "load prompt templates")
		}

		mode, _ := session.ParseMode(cfg.Mode)
		state, err := session.New(root, session.Options{
			TestCommand: cfg.TestCommand,
			LintCommand: cfg.LintCommand,
			Mode:        mode,
		})
		if err != nil {
			return nil, err
		}

		eng, err := newEngine(cfg, renderer)
		if err != nil {
			return nil, err
		}

		s := &Session{
			ID:           sessionID,
			State:        state,
			Engine:       eng,
			AutoCommit:   cfg.AutoCommit,
			Reverter:     vcs.FileReverter{Root: state.Root()},
			Runner:       &process.Runner{Dir: state.Root(), MaxParallel: 4},
			Renderer:     renderer,
			InitialFiles: files,
		}

		repo, err := vcs.Open(state.Root(), vcs.Author{Name: cfg.AuthorName, Email: cfg.AuthorEmail})
		switch {
		case err == nil:
			s.Committer = repo
			s.Reverter = repo
			logger.Info("git repository found", "root", repo.Root())
		case stderrors.Is(err, vcs.ErrNotRepo):
			logger.Info("no git repository; commits disabled")
		default:
			logger.Warn("open git repository", "error", err)
		}

		var db *store.DB
		if cfg.HistoryDB != "" {
			db, err = store.Open(cfg.HistoryDB)
			if err != nil {
				logger.Warn("open history database", "path", cfg.HistoryDB, "error", err)
			} else {
				s.History = db
			}
		}
		s.Close = func() error {
			if db != nil {
				return db.Close()
			}
			return nil
		}
		return s, nil
	}
}

func newEngine(cfg *config.Config, renderer *prompts.Renderer) (engine.Engine, error) {
	switch cfg.Engine {
	case config.EngineAnthropic:
		return engine.NewAnthropicEngine(engine.AnthropicOptions{
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}, renderer)
	case config.EngineCommand:
		return &engine.CommandEngine{Command: cfg.LLMCommand, Renderer: renderer}, nil
	default:
		return nil, errors.Newf(errors.CodeSetup, "unknown engine %q", cfg.Engine)
	}
}
