package tui

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/clive/pair/internal/model"
	"github.com/clive/pair/internal/orchestrator"
	"github.com/clive/pair/internal/process"
)

// Backend is the orchestrator API the model drives. Every method returns
// without blocking except RecentPrompts, which only runs inside a tea.Cmd.
type Backend interface {
	Channel() *orchestrator.Channel
	SubmitPrompt(prompt string) error
	Commit(message string) error
	RunTests(command string) error
	Lint(files []string) error
	Run(command string) error
	Toggle(path string) error
	Add(patterns []string) error
	Drop(patterns []string) error
	Undo() error
	ShowDiff() error
	SetMode(name string) error
	RecentPrompts(ctx context.Context, limit int) ([]string, error)
}

// Options configures the root model
type Options struct {
	Root         string
	Mode         string
	Debug        bool
	HistoryLimit int
}

// channelBatchMsg carries every message drained by one wait on the channel
type channelBatchMsg struct {
	msgs   []model.Message
	closed bool
}

type historyLoadedMsg struct {
	prompts []string
	err     error
}

type focusArea int

const (
	focusInput focusArea = iota
	focusSidebar
)

const (
	maxOutputLines = 500
	sidebarWidth   = 30
	debugWidth     = 44
)

// Model is the root Bubble Tea model
type Model struct {
	// Terminal dimensions
	width  int
	height int
	ready  bool

	backend      Backend
	ch           *orchestrator.Channel
	root         string
	mode         string
	historyLimit int

	// Command input. inputEnabled is false until the session is ready and
	// while an exclusive task runs.
	input              textinput.Model
	inputEnabled       bool
	sessionReady       bool
	setupFailed        bool
	focus              focusArea
	commandHistory     []string
	historyIndex       int
	selectedSuggestion int

	// Output
	lines    []model.OutputLine
	viewport viewport.Model
	markdown *glamour.TermRenderer

	// Busy indicator
	spinner   spinner.Model
	spinning  bool
	busySince time.Time

	// Working set sidebar
	files   []model.FileEntry
	fileIdx int

	debug DebugPanel
	keys  KeyMap
}

// NewRootModel creates the root model. Input stays disabled until the
// backend posts its ReadyNotice.
func NewRootModel(b Backend, opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "Ask for a change, or /help for commands"
	ti.Prompt = "❯ "
	ti.PromptStyle = InputPromptStyle
	ti.CharLimit = 0
	ti.Width = 80
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = StatusRunningStyle

	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = 100
	}
	mode := opts.Mode
	if mode == "" {
		mode = "code"
	}

	return Model{
		backend:      b,
		ch:           b.Channel(),
		root:         opts.Root,
		mode:         mode,
		historyLimit: limit,
		input:        ti,
		spinner:      sp,
		spinning:     true,
		debug:        NewDebugPanel(opts.Debug),
		keys:         DefaultKeyMap(),
	}
}

// Init starts the message pump and the startup spinner
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		waitForMessages(m.ch),
		m.spinner.Tick,
	)
}

// waitForMessages blocks until the channel has messages and returns all of
// them as one batch. The model re-arms it after every batch, so exactly
// one wait is outstanding.
func waitForMessages(ch *orchestrator.Channel) tea.Cmd {
	return func() tea.Msg {
		msgs, ok := ch.Wait(context.Background())
		return channelBatchMsg{msgs: msgs, closed: !ok}
	}
}

// loadHistoryCmd seeds input history from previous sessions
func (m Model) loadHistoryCmd() tea.Cmd {
	b, limit := m.backend, m.historyLimit
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		prompts, err := b.RecentPrompts(ctx, limit)
		return historyLoadedMsg{prompts: prompts, err: err}
	}
}

// Update handles one event
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.layout()
		m.refreshViewport()

	case channelBatchMsg:
		for _, x := range msg.msgs {
			if cmd := m.handleMessage(x); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
		m.refreshViewport()
		if !msg.closed {
			cmds = append(cmds, waitForMessages(m.ch))
		}

	case historyLoadedMsg:
		if msg.err == nil && len(msg.prompts) > 0 {
			older := make([]string, 0, len(msg.prompts)+len(m.commandHistory))
			for i := len(msg.prompts) - 1; i >= 0; i-- {
				older = append(older, msg.prompts[i])
			}
			m.commandHistory = append(older, m.commandHistory...)
			m.historyIndex = len(m.commandHistory)
		}

	case spinner.TickMsg:
		if !m.busy() {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, tea.Batch(cmds...)
}

// handleMessage applies one message from the background. It is the only
// place render state changes in response to background work.
func (m *Model) handleMessage(msg model.Message) tea.Cmd {
	m.debug.AddMessage(msg)

	switch msg.Kind {
	case model.KindReady:
		if m.sessionReady {
			return nil
		}
		m.sessionReady = true
		m.inputEnabled = true
		return m.loadHistoryCmd()

	case model.KindLog:
		if msg.Source == "turn" {
			m.appendAssistant(msg.Text)
		} else {
			m.appendLine(model.OutputTypeSystem, strings.TrimRight(msg.Text, "\n"))
		}

	case model.KindDiff:
		m.appendLine(model.OutputTypeDiff, diffSummary(msg.Diff))

	case model.KindTaskDone:
		if m.sessionReady {
			m.inputEnabled = true
		}

	case model.KindError:
		if !m.sessionReady {
			m.setupFailed = true
		}
		m.appendLine(model.OutputTypeError, strings.TrimRight(msg.Text, "\n"))

	case model.KindWorkingSet:
		m.setWorkingSet(msg.Files)
	}
	return nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Undo):
		cmd := m.cmdUndo("")
		m.refreshViewport()
		return m, cmd
	case key.Matches(msg, m.keys.Debug):
		m.debug.Toggle()
		m.layout()
		return m, nil
	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	if m.focus == focusSidebar {
		return m.handleSidebarKey(msg)
	}

	sugg := suggestions(m.input.Value())

	switch {
	case key.Matches(msg, m.keys.Enter):
		if !m.inputEnabled {
			return m, nil
		}
		value := m.input.Value()
		if strings.TrimSpace(value) == "" {
			return m, nil
		}
		m.input.SetValue("")
		m.selectedSuggestion = 0
		m.commandHistory = append(m.commandHistory, value)
		m.historyIndex = len(m.commandHistory)
		cmd := m.executeCommand(value)
		m.refreshViewport()
		return m, cmd

	case key.Matches(msg, m.keys.Tab):
		if len(sugg) > 0 {
			idx := min(m.selectedSuggestion, len(sugg)-1)
			m.input.SetValue(sugg[idx].name + " ")
			m.input.CursorEnd()
			m.selectedSuggestion = 0
			return m, nil
		}
		if len(m.files) > 0 {
			m.focus = focusSidebar
			m.input.Blur()
		}
		return m, nil

	case key.Matches(msg, m.keys.Escape):
		m.input.SetValue("")
		m.selectedSuggestion = 0
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(sugg) > 0 {
			if m.selectedSuggestion > 0 {
				m.selectedSuggestion--
			}
			return m, nil
		}
		if m.historyIndex > 0 {
			m.historyIndex--
			m.input.SetValue(m.commandHistory[m.historyIndex])
			m.input.CursorEnd()
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if len(sugg) > 0 {
			if m.selectedSuggestion < len(sugg)-1 {
				m.selectedSuggestion++
			}
			return m, nil
		}
		if m.historyIndex < len(m.commandHistory)-1 {
			m.historyIndex++
			m.input.SetValue(m.commandHistory[m.historyIndex])
			m.input.CursorEnd()
		} else if m.historyIndex == len(m.commandHistory)-1 {
			m.historyIndex = len(m.commandHistory)
			m.input.SetValue("")
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.selectedSuggestion = 0
	return m, cmd
}

func (m Model) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Tab):
		m.focus = focusInput
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.Up):
		if m.fileIdx > 0 {
			m.fileIdx--
		}
	case key.Matches(msg, m.keys.Down):
		if m.fileIdx < len(m.files)-1 {
			m.fileIdx++
		}
	case key.Matches(msg, m.keys.Toggle):
		if len(m.files) > 0 {
			path := m.files[m.fileIdx].Path
			cmd := m.concurrent(func() error { return m.backend.Toggle(path) })
			m.refreshViewport()
			return m, cmd
		}
	}
	return m, nil
}

// busy reports whether setup or an exclusive task is in progress
func (m Model) busy() bool {
	return !m.inputEnabled && !m.setupFailed
}

func (m *Model) startSpinner() tea.Cmd {
	m.busySince = time.Now()
	if m.spinning {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

// appendAssistant extends the current assistant block with a fragment
func (m *Model) appendAssistant(text string) {
	if n := len(m.lines); n > 0 && m.lines[n-1].Type == model.OutputTypeAssistant {
		m.lines[n-1].Text += text
		return
	}
	m.appendLine(model.OutputTypeAssistant, text)
}

func (m *Model) appendLine(t model.OutputType, text string) {
	m.lines = append(m.lines, model.OutputLine{Text: text, Type: t, Timestamp: time.Now()})
	if len(m.lines) > maxOutputLines {
		m.lines = m.lines[len(m.lines)-maxOutputLines:]
	}
}

// setWorkingSet replaces the tracked set. Files dropped during the session
// stay listed so they can be toggled back.
func (m *Model) setWorkingSet(files []string) {
	tracked := make(map[string]bool, len(files))
	for _, f := range files {
		tracked[f] = true
	}
	seen := make(map[string]bool, len(m.files))
	for i := range m.files {
		m.files[i].Tracked = tracked[m.files[i].Path]
		seen[m.files[i].Path] = true
	}
	for _, f := range files {
		if !seen[f] {
			m.files = append(m.files, model.FileEntry{Path: f, Tracked: true})
		}
	}
	sort.Slice(m.files, func(i, j int) bool { return m.files[i].Path < m.files[j].Path })
	if m.fileIdx >= len(m.files) {
		m.fileIdx = max(len(m.files)-1, 0)
	}
}

func (m Model) trackedCount() int {
	n := 0
	for _, f := range m.files {
		if f.Tracked {
			n++
		}
	}
	return n
}

// diffSummary describes an applied diff for the log
func diffSummary(d *model.Diff) string {
	if d == nil {
		return ""
	}
	var sb strings.Builder
	for _, f := range d.Files {
		if f.Deleted {
			sb.WriteString("● Delete(" + f.Path + ")\n")
			continue
		}
		fd, err := process.GenerateFileDiff(f.Path, f.Before, f.After)
		if err != nil || fd == nil {
			continue
		}
		sb.WriteString(process.FormatDiff(fd))
	}
	if d.Commit != "" {
		sb.WriteString("Commit " + d.Commit + " " + d.Description)
	} else if d.Description != "" {
		sb.WriteString("Applied " + d.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// layout sizes the viewport, input and markdown renderer for the terminal
func (m *Model) layout() {
	if !m.ready {
		return
	}
	outputWidth := m.outputWidth()
	bodyHeight := m.height - 6
	m.viewport.Width = max(outputWidth-6, 10)
	m.viewport.Height = max(bodyHeight-4, 1)
	m.input.Width = max(m.width-8, 10)

	wrap := max(m.viewport.Width-6, 20)
	if r, err := glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithWordWrap(wrap),
	); err == nil {
		m.markdown = r
	}
}

func (m Model) outputWidth() int {
	w := m.width - sidebarWidth - 2
	if m.debug.IsEnabled() {
		w -= debugWidth
	}
	return w
}

func (m *Model) refreshViewport() {
	m.viewport.SetContent(m.renderOutputContent())
	m.viewport.GotoBottom()
}
