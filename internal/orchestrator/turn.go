package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/clive/pair/internal/engine"
	"github.com/clive/pair/internal/errors"
	"github.com/clive/pair/internal/metrics"
	"github.com/clive/pair/internal/model"
	"github.com/clive/pair/internal/session"
	"github.com/clive/pair/internal/store"
)

// TurnPhase is the lifecycle state of a TurnExecutor
type TurnPhase int32

const (
	PhaseIdle TurnPhase = iota
	PhaseStreaming
	PhaseFinalizing
	PhaseDone
)

func (p TurnPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Committer commits files to version control
type Committer interface {
	Commit(ctx context.Context, message string, paths []string) (string, error)
}

// HistoryRecorder persists finished turns
type HistoryRecorder interface {
	RecordTurn(ctx context.Context, t store.Turn) (int64, error)
}

// TurnExecutor drives one assistant turn from prompt to recorded diff. It
// only runs inside an exclusive task.
type TurnExecutor struct {
	ch        *Channel
	state     *session.State
	engine    engine.Engine
	committer Committer // nil disables auto-commit
	history   HistoryRecorder
	sessionID string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	phase     atomic.Int32
}

// TurnConfig wires a TurnExecutor
type TurnConfig struct {
	Channel   *Channel
	State     *session.State
	Engine    engine.Engine
	Committer Committer
	History   HistoryRecorder
	SessionID string
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// NewTurnExecutor creates an idle executor
func NewTurnExecutor(cfg TurnConfig) *TurnExecutor {
	return &TurnExecutor{
		ch:        cfg.Channel,
		state:     cfg.State,
		engine:    cfg.Engine,
		committer: cfg.Committer,
		history:   cfg.History,
		sessionID: cfg.SessionID,
		logger:    cfg.Logger.With("component", "turn"),
		metrics:   cfg.Metrics,
	}
}

// Phase returns the current lifecycle state
func (t *TurnExecutor) Phase() TurnPhase {
	return TurnPhase(t.phase.Load())
}

func (t *TurnExecutor) send(msg model.Message) {
	msg.Source = "turn"
	t.ch.Send(msg)
}

// Run streams the assistant reply for prompt. Each fragment is posted as a
// LogAppend as soon as it arrives. A stream failure is posted as exactly
// one ErrorNotice and does not abort finalization.
func (t *TurnExecutor) Run(ctx context.Context, prompt string) error {
	t.phase.Store(int32(PhaseStreaming))
	defer t.phase.Store(int32(PhaseDone))

	started := time.Now()
	rec := store.Turn{
		SessionID: t.sessionID,
		Root:      t.state.Root(),
		Prompt:    prompt,
		StartedAt: started,
	}

	turn, err := t.engine.Start(ctx, engine.Request{
		Root:   t.state.Root(),
		Prompt: prompt,
		Files:  t.state.ListTracked(),
		Mode:   string(t.state.Mode()),
		Notes:  t.state.TakeNotes(),
	})
	if err != nil {
		rec.Status = store.StatusError
		t.finish(rec, started)
		return errors.Wrap(err, errors.CodeStream, "start turn")
	}
	defer turn.Close()

	var output strings.Builder
	var streamErr error
	for {
		chunk, err := turn.Next()
		if err != nil {
			streamErr = err
			break
		}
		if chunk.EOS {
			break
		}
		if chunk.Text == "" {
			continue
		}
		output.WriteString(chunk.Text)
		t.metrics.AddChunk()
		t.send(model.Log(chunk.Text))
	}

	t.phase.Store(int32(PhaseFinalizing))
	rec.Output = output.String()
	rec.Status = store.StatusOK
	if streamErr != nil {
		rec.Status = store.StatusStreamError
		t.logger.Warn("stream failed", "error", streamErr)
		t.send(model.Error(streamErr.Error()))
	}

	if ur, ok := turn.(engine.UsageReporter); ok {
		u := ur.Usage()
		if u.Err != nil {
			t.logger.Debug("token usage incomplete", "error", u.Err)
		}
		t.metrics.AddTokens(t.engine.Name(), u.InputTokens, u.OutputTokens)
	}

	diff, err := turn.Result()
	if err != nil {
		t.logger.Error("collect changes", "error", err)
		t.send(model.Error("Could not collect changes: " + errors.UserText(err)))
	}
	if diff != nil {
		t.commit(ctx, diff)
		t.state.RecordTurnResult(diff)
		t.send(model.DiffReady(diff))
		rec.Description = diff.Description
		rec.Diff = diff.Text
		rec.Commit = diff.Commit
	}

	t.finish(rec, started)
	return nil
}

// commit records the diff in version control when auto-commit is enabled.
// Failure leaves the change applied and uncommitted.
func (t *TurnExecutor) commit(ctx context.Context, diff *model.Diff) {
	if t.committer == nil {
		return
	}
	hash, err := t.committer.Commit(ctx, "pair: "+diff.Description, diff.Paths())
	if err != nil {
		t.logger.Warn("auto-commit failed", "error", err)
		msg := model.Log("Commit failed: " + errors.UserText(err) + "\n")
		msg.Source = "commit"
		t.ch.Send(msg)
		return
	}
	diff.Commit = hash
}

func (t *TurnExecutor) finish(rec store.Turn, started time.Time) {
	rec.FinishedAt = time.Now()
	t.metrics.ObserveTurn(rec.Status, rec.FinishedAt.Sub(started))
	t.logger.Info("turn finished",
		"status", rec.Status,
		"duration_ms", rec.FinishedAt.Sub(started).Milliseconds(),
		"output_bytes", len(rec.Output),
		"commit", rec.Commit,
	)
	if t.history == nil {
		return
	}
	if _, err := t.history.RecordTurn(context.Background(), rec); err != nil {
		t.logger.Warn("record turn", "error", err)
	}
}
