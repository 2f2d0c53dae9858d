package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clive/pair/internal/errors"
	"github.com/clive/pair/internal/model"
	"github.com/clive/pair/internal/process"
	"github.com/clive/pair/internal/store"
)

func newExecutor(t *testing.T, eng *fakeEngine, committer Committer) (*TurnExecutor, *Channel, *Session) {
	t.Helper()
	s := newTestSession(t, eng)
	ch := NewChannel()
	te := NewTurnExecutor(TurnConfig{
		Channel:   ch,
		State:     s.State,
		Engine:    eng,
		Committer: committer,
		History:   s.History,
		SessionID: s.ID,
		Logger:    discardLogger(),
	})
	return te, ch, s
}

func TestTurn_StreamsInOrder(t *testing.T) {
	eng := &fakeEngine{chunks: []string{"Hel", "", "lo", " world"}}
	te, ch, s := newExecutor(t, eng, nil)
	assert.Equal(t, PhaseIdle, te.Phase())

	require.NoError(t, te.Run(context.Background(), "say hello"))
	assert.Equal(t, PhaseDone, te.Phase())

	msgs := ch.Drain()
	require.Equal(t, []model.Kind{model.KindLog, model.KindLog, model.KindLog}, kinds(msgs), "empty fragments are skipped")
	assert.Equal(t, "Hel", msgs[0].Text)
	assert.Equal(t, "lo", msgs[1].Text)
	assert.Equal(t, " world", msgs[2].Text)
	assert.Nil(t, s.State.LastDiff())
	assert.Equal(t, 1, eng.closeCount(), "stream closed exactly once")

	h := s.History.(*fakeHistory)
	require.Len(t, h.turns, 1)
	assert.Equal(t, "Hello world", h.turns[0].Output)
	assert.Equal(t, store.StatusOK, h.turns[0].Status)
}

func TestTurn_EmptyStream(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestSession(t, eng)
	o, c := startOrchestrator(t, s)

	require.NoError(t, o.SubmitPrompt("nothing to say"))
	c.waitFor(t, hasKind(model.KindTaskDone, 1))
	o.disp.Wait()

	msgs := c.snapshot()
	require.Equal(t, []model.Kind{model.KindWorkingSet, model.KindReady}, kinds(msgs[:2]))
	assert.Equal(t, []model.Kind{model.KindTaskDone}, kinds(msgs[2:]), "no log lines and one TaskDone")
	assert.Nil(t, s.State.LastDiff())
	assert.Equal(t, 1, eng.closeCount())
}

func TestTurn_StreamFailure(t *testing.T) {
	eng := &fakeEngine{
		chunks: []string{"partial"},
		err:    &process.StreamError{ExitCode: 1, Diagnostic: "model overloaded"},
	}
	te, ch, s := newExecutor(t, eng, nil)

	require.NoError(t, te.Run(context.Background(), "p"))
	msgs := ch.Drain()
	require.Equal(t, []model.Kind{model.KindLog, model.KindError}, kinds(msgs))
	assert.Equal(t, "model overloaded", msgs[1].Text)
	assert.Equal(t, 1, eng.closeCount())
	assert.Equal(t, store.StatusStreamError, s.History.(*fakeHistory).turns[0].Status)
}

func TestTurn_StreamFailureWithoutDiagnostic(t *testing.T) {
	eng := &fakeEngine{err: &process.StreamError{ExitCode: 7}}
	te, ch, _ := newExecutor(t, eng, nil)

	require.NoError(t, te.Run(context.Background(), "p"))
	msgs := ch.Drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, "exit code 7", msgs[0].Text)
}

func TestTurn_StartFailure(t *testing.T) {
	eng := &fakeEngine{startErr: errors.New(errors.CodeStream, "bad template")}
	te, ch, _ := newExecutor(t, eng, nil)

	err := te.Run(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, errors.CodeStream, errors.CodeOf(err))
	assert.Empty(t, ch.Drain())
	assert.Equal(t, PhaseDone, te.Phase())
}

func TestTurn_DiffRecordedAndCommitted(t *testing.T) {
	diff := &model.Diff{
		Text:        "--- a/x.go\n+++ b/x.go\n",
		Description: "edit x.go",
		Files:       []model.FileChange{{Path: "x.go", Before: "a", After: "b", Existed: true}},
	}
	eng := &fakeEngine{chunks: []string{"done"}, diff: diff}
	committer := &fakeCommitter{}
	te, ch, s := newExecutor(t, eng, committer)

	require.NoError(t, te.Run(context.Background(), "edit x"))
	msgs := ch.Drain()
	require.Equal(t, []model.Kind{model.KindLog, model.KindDiff}, kinds(msgs))
	assert.Same(t, diff, msgs[1].Diff)
	assert.Equal(t, "abc1234", diff.Commit)
	assert.Equal(t, [][]string{{"x.go"}}, committer.calls)
	assert.Same(t, diff, s.State.LastDiff())
	assert.Equal(t, "abc1234", s.History.(*fakeHistory).turns[0].Commit)
}

func TestTurn_CommitFailureKeepsDiff(t *testing.T) {
	diff := &model.Diff{Description: "edit x.go", Files: []model.FileChange{{Path: "x.go"}}}
	eng := &fakeEngine{diff: diff}
	committer := &fakeCommitter{err: errors.New(errors.CodeAction, "Nothing to commit")}
	te, ch, s := newExecutor(t, eng, committer)

	require.NoError(t, te.Run(context.Background(), "edit x"))
	msgs := ch.Drain()
	require.Equal(t, []model.Kind{model.KindLog, model.KindDiff}, kinds(msgs))
	assert.Equal(t, "Commit failed: Nothing to commit\n", msgs[0].Text)
	assert.Empty(t, diff.Commit)
	assert.Same(t, diff, s.State.LastDiff())
}

func TestTurn_RequestCarriesSessionContext(t *testing.T) {
	eng := &fakeEngine{}
	te, _, s := newExecutor(t, eng, nil)
	_, err := s.State.ToggleTracked("b.go")
	require.NoError(t, err)
	_, err = s.State.ToggleTracked("a.go")
	require.NoError(t, err)
	s.State.AddNote("I ran this command")

	require.NoError(t, te.Run(context.Background(), "prompt"))
	require.Len(t, eng.requests, 1)
	req := eng.requests[0]
	assert.Equal(t, []string{"a.go", "b.go"}, req.Files)
	assert.Equal(t, "code", req.Mode)
	assert.Equal(t, []string{"I ran this command"}, req.Notes)
	assert.Nil(t, s.State.TakeNotes(), "notes are consumed by the turn")
}

func TestTurnPhaseString(t *testing.T) {
	assert.Equal(t, "streaming", PhaseStreaming.String())
	assert.Equal(t, "finalizing", PhaseFinalizing.String())
}
