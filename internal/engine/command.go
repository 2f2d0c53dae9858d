package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/clive/pair/internal/errors"
	"github.com/clive/pair/internal/model"
	"github.com/clive/pair/internal/process"
	"github.com/clive/pair/internal/prompts"
)

// CommandEngine pipes the rendered prompt to a shell command and streams
// its stdout. Edits the command makes to working-set files become the
// turn's diff.
type CommandEngine struct {
	Command  string
	Renderer *prompts.Renderer
}

func (e *CommandEngine) Name() string { return "command" }

// Start snapshots the working set, renders the prompt and starts the command
func (e *CommandEngine) Start(ctx context.Context, req Request) (Turn, error) {
	before, err := snapshot(req.Root, req.Files)
	if err != nil {
		return nil, err
	}

	var files []prompts.File
	for _, p := range req.Files {
		if s := before[p]; s.exists {
			files = append(files, prompts.File{Path: p, Content: s.content})
		}
	}
	text, err := e.Renderer.Turn(req.Mode, files, req.Notes, req.Prompt)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStream, "render prompt")
	}

	return &commandTurn{
		CommandStream: process.StartCommand(ctx, req.Root, e.Command, text),
		root:          req.Root,
		paths:         req.Files,
		before:        before,
	}, nil
}

type commandTurn struct {
	*process.CommandStream
	root   string
	paths  []string
	before map[string]fileState
}

// Result compares the working set against the snapshot taken at start
func (t *commandTurn) Result() (*model.Diff, error) {
	after, err := snapshot(t.root, t.paths)
	if err != nil {
		return nil, err
	}
	return buildDiff(t.paths, t.before, after)
}

type fileState struct {
	content string
	exists  bool
}

func snapshot(root string, paths []string) (map[string]fileState, error) {
	out := make(map[string]fileState, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(p)))
		switch {
		case err == nil:
			out[p] = fileState{content: string(data), exists: true}
		case os.IsNotExist(err):
			out[p] = fileState{}
		default:
			return nil, errors.Wrap(err, errors.CodeStream, "read "+p)
		}
	}
	return out, nil
}

// buildDiff returns nil when nothing changed
func buildDiff(paths []string, before, after map[string]fileState) (*model.Diff, error) {
	d := &model.Diff{}
	var text strings.Builder
	var changed []string
	for _, p := range paths {
		b, a := before[p], after[p]
		if b == a {
			continue
		}
		fd, err := process.GenerateFileDiff(p, b.content, a.content)
		if err != nil {
			return nil, err
		}
		if fd != nil {
			text.WriteString(fd.Unified)
		} else {
			// existence changed but content did not, e.g. an empty file
			fmt.Fprintf(&text, "--- a/%s\n+++ b/%s\n", p, p)
		}
		d.Files = append(d.Files, model.FileChange{
			Path:    p,
			Before:  b.content,
			After:   a.content,
			Existed: b.exists,
			Deleted: b.exists && !a.exists,
		})
		changed = append(changed, p)
	}
	if len(changed) == 0 {
		return nil, nil
	}
	d.Text = text.String()
	d.Description = "edit " + strings.Join(changed, ", ")
	return d, nil
}
