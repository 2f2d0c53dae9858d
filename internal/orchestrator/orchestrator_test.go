package orchestrator

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clive/pair/internal/errors"
	"github.com/clive/pair/internal/model"
)

func TestStart_Ready(t *testing.T) {
	s := newTestSession(t, &fakeEngine{})
	require.NoError(t, os.WriteFile(filepath.Join(s.State.Root(), "main.go"), []byte("package main"), 0o644))
	s.InitialFiles = []string{"main.go"}

	o, c := startOrchestrator(t, s)
	msgs := c.snapshot()
	require.Equal(t, []model.Kind{model.KindWorkingSet, model.KindReady}, kinds(msgs))
	assert.Equal(t, []string{"main.go"}, msgs[0].Files)
	assert.True(t, o.Ready())
}

func TestNotReady(t *testing.T) {
	o := New(func(ctx context.Context) (*Session, error) {
		return nil, errors.New(errors.CodeSetup, "unused")
	}, discardLogger(), nil)
	assert.False(t, o.Ready())
	err := o.Toggle("a.go")
	assert.True(t, errors.IsCode(err, errors.CodeRejected))
	assert.False(t, stderrors.Is(err, ErrBusy))
}

func TestStart_SetupFailure(t *testing.T) {
	o := New(func(ctx context.Context) (*Session, error) {
		return nil, errors.New(errors.CodeSetup, "ANTHROPIC_API_KEY is not set")
	}, discardLogger(), nil)
	c := collect(o.Channel())
	o.Start()
	o.disp.Wait()
	defer o.Shutdown()

	msgs := c.waitFor(t, hasKind(model.KindError, 1))
	assert.Equal(t, 0, count(msgs, model.KindReady), "no ReadyNotice after a setup failure")
	assert.Equal(t, 0, count(msgs, model.KindTaskDone), "input must stay disabled")
	assert.Contains(t, msgs[0].Text, "ANTHROPIC_API_KEY is not set")

	assert.False(t, o.Ready())
	assert.Error(t, o.SubmitPrompt("hello"))
}

func TestSubmitPrompt_Scenario(t *testing.T) {
	diff := &model.Diff{Text: "diff", Description: "edit x.go", Files: []model.FileChange{{Path: "x.go"}}}
	eng := &fakeEngine{chunks: []string{"Hel", "lo"}, diff: diff}
	o, c := startOrchestrator(t, newTestSession(t, eng))

	require.NoError(t, o.SubmitPrompt("hi"))
	msgs := c.waitFor(t, hasKind(model.KindTaskDone, 1))

	// drop the setup messages
	msgs = msgs[2:]
	require.Equal(t, []model.Kind{model.KindLog, model.KindLog, model.KindDiff, model.KindTaskDone}, kinds(msgs))
	assert.Equal(t, "Hel", msgs[0].Text)
	assert.Equal(t, "lo", msgs[1].Text)
	assert.Equal(t, "turn", msgs[3].Source)
	assert.False(t, o.Busy())
}

func TestSubmitPrompt_RejectedWhileBusy(t *testing.T) {
	eng := &fakeEngine{chunks: []string{"slow"}, gate: make(chan struct{})}
	o, c := startOrchestrator(t, newTestSession(t, eng))

	require.NoError(t, o.SubmitPrompt("first"))
	err := o.SubmitPrompt("second")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrBusy))

	close(eng.gate)
	c.waitFor(t, hasKind(model.KindTaskDone, 1))
	assert.Len(t, eng.requests, 1, "rejected prompt never reaches the engine")
}

func TestToggle_DuringTurn(t *testing.T) {
	eng := &fakeEngine{chunks: []string{"a", "b"}, gate: make(chan struct{})}
	s := newTestSession(t, eng)
	o, c := startOrchestrator(t, s)

	require.NoError(t, o.SubmitPrompt("long task"))
	eng.gate <- struct{}{}
	c.waitFor(t, hasKind(model.KindLog, 1))

	require.NoError(t, o.Toggle("x.go"))
	msgs := c.waitFor(t, hasKind(model.KindWorkingSet, 2))
	assert.Equal(t, 0, count(msgs, model.KindTaskDone), "toggle completed while the turn was running")
	assert.True(t, s.State.IsTracked("x.go"))
	assert.Equal(t, []string{"x.go"}, msgs[len(msgs)-1].Files)

	eng.gate <- struct{}{}
	c.waitFor(t, hasKind(model.KindTaskDone, 1))
}

func TestUndo(t *testing.T) {
	s := newTestSession(t, &fakeEngine{})
	reverter := s.Reverter.(*fakeReverter)
	o, c := startOrchestrator(t, s)

	require.NoError(t, o.Undo())
	msgs := c.waitFor(t, hasKind(model.KindLog, 1))
	assert.Equal(t, "No change to undo", msgs[len(msgs)-1].Text)
	assert.Equal(t, 0, reverter.calls)
	o.disp.Wait()

	s.State.RecordTurnResult(&model.Diff{Description: "edit a.go", Commit: "abc1234"})
	require.NoError(t, o.Undo())
	msgs = c.waitFor(t, hasKind(model.KindLog, 2))
	assert.Equal(t, "Undid: edit a.go (commit abc1234)\n", msgs[len(msgs)-1].Text)
	assert.Equal(t, 1, reverter.calls)
	assert.Nil(t, s.State.LastDiff())

	o.disp.Wait()
	notes := s.State.TakeNotes()
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "I reverted the last edits (commit abc1234)")
}

func TestUndo_RefusedWhileBusy(t *testing.T) {
	eng := &fakeEngine{chunks: []string{"x"}, gate: make(chan struct{})}
	s := newTestSession(t, eng)
	s.State.RecordTurnResult(&model.Diff{})
	o, c := startOrchestrator(t, s)

	require.NoError(t, o.SubmitPrompt("p"))
	err := o.Undo()
	assert.True(t, stderrors.Is(err, ErrBusy))
	assert.Equal(t, 0, s.Reverter.(*fakeReverter).calls)

	close(eng.gate)
	c.waitFor(t, hasKind(model.KindTaskDone, 1))
}

func TestUndo_BlocksTurnUntilReverted(t *testing.T) {
	eng := &fakeEngine{chunks: []string{"x"}}
	s := newTestSession(t, eng)
	reverter := &fakeReverter{gate: make(chan struct{}), entered: make(chan struct{})}
	s.Reverter = reverter
	s.State.RecordTurnResult(&model.Diff{Description: "edit a.go"})
	o, c := startOrchestrator(t, s)

	require.NoError(t, o.Undo())
	<-reverter.entered
	assert.True(t, o.Busy())

	for _, submit := range []func() error{
		func() error { return o.SubmitPrompt("p") },
		func() error { return o.Commit("") },
		func() error { return o.RunTests("") },
	} {
		err := submit()
		assert.True(t, stderrors.Is(err, ErrBusy))
	}
	assert.True(t, stderrors.Is(o.Undo(), ErrBusy))

	close(reverter.gate)
	c.waitFor(t, func(msgs []model.Message) bool {
		return count(msgs, model.KindLog) == 1
	})
	o.disp.Wait()
	assert.False(t, o.Busy())
	assert.Empty(t, eng.requests, "no turn ran during the revert")
	assert.Equal(t, 0, count(c.snapshot(), model.KindTaskDone))

	require.NoError(t, o.SubmitPrompt("p"))
	c.waitFor(t, hasKind(model.KindTaskDone, 1))
}

func TestRunTests(t *testing.T) {
	s := newTestSession(t, &fakeEngine{})
	o, c := startOrchestrator(t, s)

	require.NoError(t, o.RunTests(""))
	msgs := c.waitFor(t, hasKind(model.KindTaskDone, 1))
	assert.Equal(t, "tests ok\n", msgs[len(msgs)-2].Text)

	require.NoError(t, o.RunTests("echo FAIL: TestX; exit 1"))
	msgs = c.waitFor(t, hasKind(model.KindTaskDone, 2))
	last := msgs[len(msgs)-2:]
	require.Equal(t, []model.Kind{model.KindLog, model.KindTaskDone}, kinds(last), "action failure is one LogAppend")
	assert.Equal(t, "FAIL: TestX", last[0].Text)
	assert.Equal(t, 0, count(msgs, model.KindError))

	notes := s.State.TakeNotes()
	require.Len(t, notes, 1)
	assert.True(t, strings.HasPrefix(notes[0], "I ran this command:\n\necho FAIL: TestX; exit 1"))
}

func TestCommit_NoRepository(t *testing.T) {
	o, c := startOrchestrator(t, newTestSession(t, &fakeEngine{}))
	require.NoError(t, o.Commit(""))
	msgs := c.waitFor(t, hasKind(model.KindTaskDone, 1))
	assert.Contains(t, msgs[len(msgs)-2].Text, "Not in a git repository")
}

func TestCommit_WithCommitter(t *testing.T) {
	s := newTestSession(t, &fakeEngine{})
	s.Committer = &fakeCommitter{}
	o, c := startOrchestrator(t, s)

	require.NoError(t, o.Commit("wip"))
	msgs := c.waitFor(t, hasKind(model.KindTaskDone, 1))
	assert.Equal(t, "Commit abc1234 wip\n", msgs[len(msgs)-2].Text)
}

func TestAutoCommitOnlyWhenEnabled(t *testing.T) {
	s := newTestSession(t, &fakeEngine{})
	s.Committer = &fakeCommitter{}
	assert.Nil(t, s.autoCommitter())
	s.AutoCommit = true
	assert.NotNil(t, s.autoCommitter())
}

func TestAddDropAndMode(t *testing.T) {
	s := newTestSession(t, &fakeEngine{})
	for _, f := range []string{"a.go", "b.go"} {
		require.NoError(t, os.WriteFile(filepath.Join(s.State.Root(), f), []byte(f), 0o644))
	}
	o, c := startOrchestrator(t, s)

	require.NoError(t, o.Add([]string{"*.go"}))
	msgs := c.waitFor(t, hasKind(model.KindWorkingSet, 2))
	assert.Equal(t, []string{"a.go", "b.go"}, msgs[len(msgs)-1].Files)
	notes := s.State.TakeNotes()
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "a.go, b.go")

	require.NoError(t, o.Drop([]string{"a.go"}))
	msgs = c.waitFor(t, hasKind(model.KindWorkingSet, 3))
	assert.Equal(t, []string{"b.go"}, msgs[len(msgs)-1].Files)

	require.NoError(t, o.Drop(nil))
	msgs = c.waitFor(t, hasKind(model.KindWorkingSet, 4))
	assert.Empty(t, msgs[len(msgs)-1].Files)

	assert.Error(t, o.SetMode("ask"))
	require.NoError(t, o.SetMode("cbt"))
	c.waitFor(t, func(m []model.Message) bool {
		return len(m) > 0 && m[len(m)-1].Text == "Switched to cbt mode\n"
	})
	assert.Equal(t, "cbt", string(s.State.Mode()))
}

func TestShowDiff(t *testing.T) {
	s := newTestSession(t, &fakeEngine{})
	o, c := startOrchestrator(t, s)

	require.NoError(t, o.ShowDiff())
	msgs := c.waitFor(t, hasKind(model.KindLog, 1))
	assert.Equal(t, "No changes to display\n", msgs[len(msgs)-1].Text)

	s.State.RecordTurnResult(&model.Diff{Text: "-a\n+b\n"})
	require.NoError(t, o.ShowDiff())
	msgs = c.waitFor(t, hasKind(model.KindLog, 2))
	assert.Equal(t, "```diff\n-a\n+b\n```\n", msgs[len(msgs)-1].Text)
}

func TestRecentPrompts(t *testing.T) {
	eng := &fakeEngine{}
	o, c := startOrchestrator(t, newTestSession(t, eng))
	require.NoError(t, o.SubmitPrompt("first"))
	c.waitFor(t, hasKind(model.KindTaskDone, 1))
	require.NoError(t, o.SubmitPrompt("second"))
	c.waitFor(t, hasKind(model.KindTaskDone, 2))

	prompts, err := o.RecentPrompts(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, prompts)
}
