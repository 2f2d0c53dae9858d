package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clive/pair/internal/engine"
	"github.com/clive/pair/internal/model"
	"github.com/clive/pair/internal/process"
	"github.com/clive/pair/internal/prompts"
	"github.com/clive/pair/internal/session"
	"github.com/clive/pair/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine replays scripted turns. When gate is non-nil each fragment
// waits for a receive on it.
type fakeEngine struct {
	mu       sync.Mutex
	chunks   []string
	err      error
	diff     *model.Diff
	gate     chan struct{}
	startErr error
	requests []engine.Request
	closed   int
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Start(ctx context.Context, req engine.Request) (engine.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &fakeTurn{engine: f, chunks: append([]string(nil), f.chunks...)}, nil
}

func (f *fakeEngine) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeTurn struct {
	engine *fakeEngine
	chunks []string
	seq    int
	done   bool
}

func (t *fakeTurn) Next() (model.StreamChunk, error) {
	if len(t.chunks) > 0 {
		if t.engine.gate != nil {
			<-t.engine.gate
		}
		text := t.chunks[0]
		t.chunks = t.chunks[1:]
		t.seq++
		return model.StreamChunk{Seq: t.seq, Text: text}, nil
	}
	if t.engine.err != nil {
		return model.StreamChunk{}, t.engine.err
	}
	t.seq++
	return model.StreamChunk{Seq: t.seq, EOS: true}, nil
}

func (t *fakeTurn) Close() error {
	t.engine.mu.Lock()
	t.engine.closed++
	t.engine.mu.Unlock()
	return nil
}

func (t *fakeTurn) Result() (*model.Diff, error) {
	return t.engine.diff, nil
}

type fakeCommitter struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (c *fakeCommitter) Commit(ctx context.Context, message string, paths []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, paths)
	if c.err != nil {
		return "", c.err
	}
	return "abc1234", nil
}

// fakeReverter counts reverts. When gate is non-nil Revert signals entered
// and then waits for a receive on gate.
type fakeReverter struct {
	mu      sync.Mutex
	calls   int
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func (r *fakeReverter) Revert(ctx context.Context, d *model.Diff) error {
	if r.gate != nil {
		close(r.entered)
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

type fakeHistory struct {
	mu    sync.Mutex
	turns []store.Turn
}

func (h *fakeHistory) RecordTurn(ctx context.Context, t store.Turn) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, t)
	return int64(len(h.turns)), nil
}

func (h *fakeHistory) RecentPrompts(ctx context.Context, root string, limit int) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for i := len(h.turns) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.turns[i].Prompt)
	}
	return out, nil
}

// collector drains a channel on its own goroutine, like the presentation loop
type collector struct {
	mu   sync.Mutex
	msgs []model.Message
	done chan struct{}
}

func collect(ch *Channel) *collector {
	c := &collector{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		for {
			msgs, ok := ch.Wait(context.Background())
			if !ok {
				return
			}
			c.mu.Lock()
			c.msgs = append(c.msgs, msgs...)
			c.mu.Unlock()
		}
	}()
	return c
}

func (c *collector) snapshot() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.msgs...)
}

// waitFor polls until cond holds for the collected messages
func (c *collector) waitFor(t *testing.T, cond func([]model.Message) bool) []model.Message {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := c.snapshot(); cond(msgs) {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met; messages: %+v", c.snapshot())
	return nil
}

func count(msgs []model.Message, kind model.Kind) int {
	n := 0
	for _, m := range msgs {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

func kinds(msgs []model.Message) []model.Kind {
	out := make([]model.Kind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind
	}
	return out
}

func hasKind(kind model.Kind, n int) func([]model.Message) bool {
	return func(msgs []model.Message) bool { return count(msgs, kind) >= n }
}

// newTestSession builds a ready session around fakes
func newTestSession(t *testing.T, eng engine.Engine) *Session {
	t.Helper()
	state, err := session.New(t.TempDir(), session.Options{TestCommand: "echo tests ok"})
	require.NoError(t, err)
	renderer, err := prompts.NewRenderer("")
	require.NoError(t, err)
	return &Session{
		ID:       "test-session",
		State:    state,
		Engine:   eng,
		Reverter: &fakeReverter{},
		Runner:   &process.Runner{Dir: state.Root()},
		Renderer: renderer,
		History:  &fakeHistory{},
	}
}

// startOrchestrator runs setup with s and waits for the ReadyNotice
func startOrchestrator(t *testing.T, s *Session) (*Orchestrator, *collector) {
	t.Helper()
	o := New(func(ctx context.Context) (*Session, error) { return s, nil }, discardLogger(), nil)
	c := collect(o.Channel())
	o.Start()
	c.waitFor(t, hasKind(model.KindReady, 1))
	t.Cleanup(o.Shutdown)
	return o, c
}
