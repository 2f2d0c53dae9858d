package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clive/pair/internal/prompts"
)

func newRenderer(t *testing.T) *prompts.Renderer {
	t.Helper()
	r, err := prompts.NewRenderer("")
	require.NoError(t, err)
	return r
}

func drain(t *testing.T, turn Turn) string {
	t.Helper()
	var sb strings.Builder
	for {
		chunk, err := turn.Next()
		require.NoError(t, err)
		if chunk.EOS {
			return sb.String()
		}
		sb.WriteString(chunk.Text)
	}
}

func TestCommandEngine_EditProducesDiff(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("old\n"), 0o644))

	e := &CommandEngine{
		// echo the prompt's last line and rewrite a.txt
		Command:  `tail -n 1; printf 'new\n' > a.txt; printf 'created\n' > b.txt`,
		Renderer: newRenderer(t),
	}
	turn, err := e.Start(context.Background(), Request{
		Root:   root,
		Prompt: "change a",
		Files:  []string{"a.txt", "b.txt"},
		Mode:   "code",
	})
	require.NoError(t, err)
	defer turn.Close()

	assert.Equal(t, "change a\n", drain(t, turn))

	d, err := turn.Result()
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "edit a.txt, b.txt", d.Description)
	assert.Contains(t, d.Text, "-old\n")
	assert.Contains(t, d.Text, "+new\n")
	require.Len(t, d.Files, 2)
	assert.True(t, d.Files[0].Existed)
	assert.Equal(t, "old\n", d.Files[0].Before)
	assert.False(t, d.Files[1].Existed)
	assert.Equal(t, "created\n", d.Files[1].After)
}

func TestCommandEngine_NoEditNoDiff(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("same\n"), 0o644))

	e := &CommandEngine{Command: `cat >/dev/null; printf 'just talking'`, Renderer: newRenderer(t)}
	turn, err := e.Start(context.Background(), Request{Root: root, Prompt: "hi", Files: []string{"a.txt"}, Mode: "code"})
	require.NoError(t, err)
	defer turn.Close()

	assert.Equal(t, "just talking", drain(t, turn))
	d, err := turn.Result()
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestCommandEngine_PromptIncludesFilesAndNotes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("content of a"), 0o644))

	e := &CommandEngine{Command: "cat", Renderer: newRenderer(t)}
	turn, err := e.Start(context.Background(), Request{
		Root:   root,
		Prompt: "question",
		Files:  []string{"a.txt", "missing.txt"},
		Mode:   "pkm",
		Notes:  []string{"I ran this command"},
	})
	require.NoError(t, err)
	defer turn.Close()

	out := drain(t, turn)
	assert.Contains(t, out, "personal knowledge manager")
	assert.Contains(t, out, "a.txt\n```\ncontent of a\n```")
	assert.NotContains(t, out, "missing.txt")
	assert.Contains(t, out, "I ran this command")
}

func TestCommandEngine_UnknownMode(t *testing.T) {
	e := &CommandEngine{Command: "cat", Renderer: newRenderer(t)}
	_, err := e.Start(context.Background(), Request{Root: t.TempDir(), Prompt: "x", Mode: "ask"})
	assert.Error(t, err)
}
