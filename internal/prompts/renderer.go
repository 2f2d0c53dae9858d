package prompts

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// Template names. A prompts directory may override any of them with a
// file named <name>.tmpl.
const (
	TemplateTurn       = "turn"
	TemplateAddedFiles = "added_files"
	TemplateRunOutput  = "run_output"
	TemplateUndoReply  = "undo_reply"
)

// File is one working-set file included in a turn prompt
type File struct {
	Path    string
	Content string
}

// TurnData is the input to the turn template
type TurnData struct {
	System string
	Files  []File
	Notes  []string
	Prompt string
}

// Renderer renders prompt templates. It is built once from configuration
// and passed to whoever needs it.
type Renderer struct {
	tmpl    *template.Template
	systems map[string]string
}

var funcs = template.FuncMap{
	"join": strings.Join,
}

// NewRenderer parses the built-in templates and, when dir is non-empty,
// overrides them with dir/*.tmpl.
func NewRenderer(dir string) (*Renderer, error) {
	root := template.New("prompts").Funcs(funcs)
	builtin := map[string]string{
		TemplateTurn:       turnTemplate,
		TemplateAddedFiles: addedFilesTemplate,
		TemplateRunOutput:  runOutputTemplate,
		TemplateUndoReply:  undoReplyTemplate,
	}
	for name, text := range builtin {
		if _, err := root.New(name).Parse(text); err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
	}

	r := &Renderer{
		tmpl: root,
		systems: map[string]string{
			"code": codeSystem,
			"pkm":  pkmSystem,
			"cbt":  cbtSystem,
		},
	}

	if dir == "" {
		return r, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.tmpl"))
	if err != nil {
		return nil, fmt.Errorf("list templates in %s: %w", dir, err)
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read template: %w", err)
		}
		name := strings.TrimSuffix(filepath.Base(p), ".tmpl")
		if strings.HasPrefix(name, "system_") {
			r.systems[strings.TrimPrefix(name, "system_")] = string(data)
			continue
		}
		if _, err := root.New(name).Parse(string(data)); err != nil {
			return nil, fmt.Errorf("parse template %s: %w", p, err)
		}
	}
	return r, nil
}

// System returns the system prompt for a chat mode
func (r *Renderer) System(mode string) (string, error) {
	s, ok := r.systems[mode]
	if !ok {
		return "", fmt.Errorf("no system prompt for mode %q", mode)
	}
	return s, nil
}

// Render executes the named template
func (r *Renderer) Render(name string, data any) (string, error) {
	t := r.tmpl.Lookup(name)
	if t == nil {
		return "", fmt.Errorf("template %q not found", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Turn renders the full turn prompt
func (r *Renderer) Turn(mode string, files []File, notes []string, prompt string) (string, error) {
	system, err := r.System(mode)
	if err != nil {
		return "", err
	}
	return r.Render(TemplateTurn, TurnData{System: system, Files: files, Notes: notes, Prompt: prompt})
}

// AddedFiles renders the note recorded when files join the chat
func (r *Renderer) AddedFiles(files []string) (string, error) {
	return r.Render(TemplateAddedFiles, map[string]any{"Files": files})
}

// RunOutput renders the note recorded after a shell command
func (r *Renderer) RunOutput(command, output string) (string, error) {
	return r.Render(TemplateRunOutput, map[string]any{"Command": command, "Output": output})
}

// UndoReply renders the note recorded after an undo
func (r *Renderer) UndoReply(commit string) (string, error) {
	return r.Render(TemplateUndoReply, map[string]any{"Commit": commit})
}
