package tui

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/clive/pair/internal/errors"
	"github.com/clive/pair/internal/model"
)

// command is one entry of the slash command table
type command struct {
	name string
	args string
	desc string
	run  func(m *Model, args string) tea.Cmd
}

// commands is populated in init because the handlers refer back to it
var commands []command

func init() {
	commands = []command{
		{"/add", "<file or glob>...", "Add files to the chat", (*Model).cmdAdd},
		{"/drop", "[file or glob]...", "Remove files from the chat, or all files", (*Model).cmdDrop},
		{"/ls", "", "List files in the chat", (*Model).cmdList},
		{"/commit", "[message]", "Commit outstanding changes", (*Model).cmdCommit},
		{"/undo", "", "Undo the last change made by the assistant", (*Model).cmdUndo},
		{"/diff", "", "Show the last change", (*Model).cmdDiff},
		{"/test", "[command]", "Run the test command", (*Model).cmdTest},
		{"/lint", "[file]...", "Lint files in the chat, or the given files", (*Model).cmdLint},
		{"/run", "<command>", "Run a shell command and add its output to the chat (alias: !)", (*Model).cmdRun},
		{"/code", "", "Switch to code mode", modeCommand("code")},
		{"/pkm", "", "Switch to knowledge management mode", modeCommand("pkm")},
		{"/cbt", "", "Switch to reflective coaching mode", modeCommand("cbt")},
		{"/clear", "", "Clear the output", (*Model).cmdClear},
		{"/help", "", "Show commands", (*Model).cmdHelp},
		{"/quit", "", "Exit", (*Model).cmdQuit},
		{"/exit", "", "Exit", (*Model).cmdQuit},
	}
}

// matchCommand resolves word to a command. An exact name wins; otherwise
// the word must be a prefix of exactly one name.
func matchCommand(word string) (command, error) {
	var matches []command
	for _, c := range commands {
		if c.name == word {
			return c, nil
		}
		if strings.HasPrefix(c.name, word) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return command{}, errors.Newf(errors.CodeAction, "Invalid command: %s", word)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, c := range matches {
			names[i] = c.name
		}
		sort.Strings(names)
		return command{}, errors.Newf(errors.CodeAction, "Ambiguous command: %s matches %s", word, strings.Join(names, ", "))
	}
}

// executeCommand parses and executes one line of user input
func (m *Model) executeCommand(input string) tea.Cmd {
	input = strings.TrimSpace(input)

	if rest, ok := strings.CutPrefix(input, "!"); ok {
		m.appendLine(model.OutputTypeCommand, input)
		return m.cmdRun(strings.TrimSpace(rest))
	}

	if !strings.HasPrefix(input, "/") {
		return m.submitPrompt(input)
	}

	word, args, _ := strings.Cut(input, " ")
	c, err := matchCommand(word)
	if err != nil {
		m.appendLine(model.OutputTypeError, errors.UserText(err))
		return nil
	}
	m.appendLine(model.OutputTypeCommand, input)
	return c.run(m, strings.TrimSpace(args))
}

func (m *Model) submitPrompt(prompt string) tea.Cmd {
	m.appendLine(model.OutputTypeUserInput, prompt)
	return m.exclusive(func() error { return m.backend.SubmitPrompt(prompt) })
}

// exclusive disables input and starts a slot-holding task. Input comes
// back with the task's TaskDone, or right away when it is rejected.
func (m *Model) exclusive(start func() error) tea.Cmd {
	m.inputEnabled = false
	if err := start(); err != nil {
		m.inputEnabled = true
		m.appendLine(model.OutputTypeError, errors.UserText(err))
		return nil
	}
	return m.startSpinner()
}

// concurrent starts a task that may run alongside a turn
func (m *Model) concurrent(start func() error) tea.Cmd {
	if err := start(); err != nil {
		m.appendLine(model.OutputTypeError, errors.UserText(err))
	}
	return nil
}

func (m *Model) cmdAdd(args string) tea.Cmd {
	return m.concurrent(func() error { return m.backend.Add(strings.Fields(args)) })
}

func (m *Model) cmdDrop(args string) tea.Cmd {
	return m.concurrent(func() error { return m.backend.Drop(strings.Fields(args)) })
}

func (m *Model) cmdList(string) tea.Cmd {
	var tracked, other []string
	for _, f := range m.files {
		if f.Tracked {
			tracked = append(tracked, "  "+f.Path)
		} else {
			other = append(other, "  "+f.Path)
		}
	}
	if len(tracked) == 0 && len(other) == 0 {
		m.appendLine(model.OutputTypeSystem, "No files in the chat")
		return nil
	}
	var sb strings.Builder
	if len(tracked) > 0 {
		sb.WriteString("Files in chat:\n" + strings.Join(tracked, "\n"))
	}
	if len(other) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("Dropped this session:\n" + strings.Join(other, "\n"))
	}
	m.appendLine(model.OutputTypeSystem, sb.String())
	return nil
}

func (m *Model) cmdCommit(args string) tea.Cmd {
	return m.exclusive(func() error { return m.backend.Commit(args) })
}

func (m *Model) cmdUndo(string) tea.Cmd {
	if !m.inputEnabled {
		m.appendLine(model.OutputTypeError, "Cannot undo while a task is running")
		return nil
	}
	return m.concurrent(m.backend.Undo)
}

func (m *Model) cmdDiff(string) tea.Cmd {
	return m.concurrent(m.backend.ShowDiff)
}

func (m *Model) cmdTest(args string) tea.Cmd {
	return m.exclusive(func() error { return m.backend.RunTests(args) })
}

func (m *Model) cmdLint(args string) tea.Cmd {
	return m.exclusive(func() error { return m.backend.Lint(strings.Fields(args)) })
}

func (m *Model) cmdRun(args string) tea.Cmd {
	if args == "" {
		m.appendLine(model.OutputTypeError, "Usage: /run <command>")
		return nil
	}
	return m.exclusive(func() error { return m.backend.Run(args) })
}

func modeCommand(mode string) func(m *Model, args string) tea.Cmd {
	return func(m *Model, args string) tea.Cmd {
		if err := m.backend.SetMode(mode); err != nil {
			m.appendLine(model.OutputTypeError, errors.UserText(err))
			return nil
		}
		m.mode = mode
		return nil
	}
}

func (m *Model) cmdClear(string) tea.Cmd {
	m.lines = nil
	m.refreshViewport()
	return nil
}

func (m *Model) cmdHelp(string) tea.Cmd {
	var sb strings.Builder
	for _, c := range commands {
		name := c.name
		if c.args != "" {
			name += " " + c.args
		}
		fmt.Fprintf(&sb, "%-28s %s\n", name, c.desc)
	}
	sb.WriteString("\nAnything else is sent to the assistant.")
	m.appendLine(model.OutputTypeSystem, sb.String())
	return nil
}

func (m *Model) cmdQuit(string) tea.Cmd {
	return tea.Quit
}

// suggestions returns commands matching a partially typed name
func suggestions(input string) []command {
	if !strings.HasPrefix(input, "/") || strings.Contains(input, " ") {
		return nil
	}
	var out []command
	for _, c := range commands {
		if strings.HasPrefix(c.name, input) {
			out = append(out, c)
		}
	}
	return out
}
