package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/clive/pair/internal/model"
)

// View renders the model
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.renderHeader()
	bodyHeight := m.height - 6

	panes := []string{
		m.renderSidebar(sidebarWidth, bodyHeight),
		m.renderOutput(m.outputWidth(), bodyHeight),
	}
	if m.debug.IsEnabled() {
		panes = append(panes, m.debug.Render(debugWidth, bodyHeight))
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top, panes...)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		body,
		m.renderInput(),
		m.renderStatusBar(),
	)
}

func (m Model) renderHeader() string {
	title := HeaderStyle.Render("PAIR")

	var project string
	if m.root != "" {
		project = lipgloss.NewStyle().
			Foreground(ColorFgMuted).
			Render(filepath.Base(m.root))
	}

	mode := lipgloss.NewStyle().
		Foreground(ColorOrange).
		Render(" · " + m.mode + " mode")

	return lipgloss.NewStyle().
		Width(m.width).
		Render(title+"  "+project+mode) + "\n"
}

// renderInput renders the command input with suggestions
func (m Model) renderInput() string {
	var result strings.Builder

	if m.focus == focusInput {
		if sugg := suggestions(m.input.Value()); len(sugg) > 0 {
			var content strings.Builder
			for i, s := range sugg {
				itemStyle := lipgloss.NewStyle().
					Foreground(ColorFgPrimary).
					Padding(0, 1)
				if i == m.selectedSuggestion {
					itemStyle = itemStyle.Background(ColorBgHighlight).Bold(true)
				}
				content.WriteString(itemStyle.Render(s.name))
				content.WriteString(DimStyle.Render(" - " + s.desc))
				content.WriteString("\n")
			}
			result.WriteString(lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(ColorBorder).
				Padding(0, 1).
				Width(m.width - 4).
				Render(strings.TrimSuffix(content.String(), "\n")))
			result.WriteString("\n")
		}
	}

	border := ColorBorder
	if m.focus == focusInput && m.inputEnabled {
		border = ColorGreen
	}
	result.WriteString(InputStyle.
		BorderForeground(border).
		Width(m.width - 4).
		Render(m.input.View()))
	return result.String()
}

// renderSidebar renders the working set
func (m Model) renderSidebar(width, height int) string {
	title := SidebarTitleStyle.Render("FILES")
	content := title + "\n\n"

	if len(m.files) == 0 {
		content += DimStyle.Render("No files in the chat.\nUse /add <file>.")
	}

	for i, f := range m.files {
		style := FileDroppedStyle
		if f.Tracked {
			style = FileTrackedStyle
		}
		if m.focus == focusSidebar && i == m.fileIdx {
			style = style.Inherit(FileSelectedStyle)
		}
		content += style.Render(f.StatusIcon()+" "+truncate(f.Path, width-6)) + "\n"
	}

	if m.focus == focusSidebar {
		content += "\n" + DimStyle.Render("space toggle · esc back")
	}

	return SidebarStyle.
		Width(width).
		Height(height).
		Render(content)
}

// renderStreamingIndicator renders the spinner shown while a task runs
func (m Model) renderStreamingIndicator() string {
	if !m.busy() {
		return ""
	}
	label := "Starting"
	if m.sessionReady {
		label = "Working"
	}
	elapsed := time.Duration(0)
	if !m.busySince.IsZero() {
		elapsed = time.Since(m.busySince)
	}
	return m.spinner.View() +
		lipgloss.NewStyle().Foreground(ColorYellow).Render(" "+label+"… ") +
		DimStyle.Render(fmt.Sprintf("(%ds)", int(elapsed.Seconds())))
}

// renderOutput renders the output area with a fixed-height viewport
func (m Model) renderOutput(width, height int) string {
	title := OutputHeaderStyle.Render("OUTPUT")
	if indicator := m.renderStreamingIndicator(); indicator != "" {
		title += "  " + indicator
	}

	contentHeight := max(height-4, 1)
	contentWidth := max(width-6, 10)

	var content string
	if len(m.lines) == 0 {
		content = DimStyle.
			Width(contentWidth).
			Render("No output yet.\n\nAdd files with /add, then describe the change you want.")
	} else {
		content = m.viewport.View()
	}

	inner := lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		lipgloss.NewStyle().
			Width(contentWidth).
			Height(contentHeight).
			MaxHeight(contentHeight).
			Render(content),
	)

	return OutputStyle.
		Width(width).
		Height(height).
		Render(inner)
}

// renderStatusBar renders the bottom status bar
func (m Model) renderStatusBar() string {
	var status string
	switch {
	case m.setupFailed:
		status = ErrorStyle.Render("✗ Setup failed")
	case !m.sessionReady:
		status = StatusIdleStyle.Render("◌ Starting")
	case m.busy():
		status = StatusRunningStyle.Render("● Working")
	default:
		status = StatusIdleStyle.Render("○ Ready")
	}

	files := DimStyle.Render(fmt.Sprintf(" │ Files: %d", m.trackedCount()))

	sep := DimStyle.Render(" │ ")
	var hints []string
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		hints = append(hints, HelpKeyStyle.Render(h.Key)+" "+HelpDescStyle.Render(h.Desc))
	}

	return StatusBarStyle.Render(status + files + sep + strings.Join(hints, sep))
}

// renderOutputContent renders the output lines with block-level styling
func (m Model) renderOutputContent() string {
	var sb strings.Builder

	wrapWidth := max(m.viewport.Width-4, 20)

	for _, line := range m.lines {
		text := strings.TrimRight(line.Text, "\n")

		switch line.Type {
		case model.OutputTypeAssistant:
			sb.WriteString(AssistantStyle.Width(wrapWidth).Render(m.renderMarkdown(text, wrapWidth-4)))

		case model.OutputTypeUserInput:
			sb.WriteString(UserInputStyle.Width(wrapWidth).Render(
				UserTextStyle.Render(wrapText("> "+text, wrapWidth-4)),
			))

		case model.OutputTypeCommand:
			sb.WriteString(lipgloss.NewStyle().Foreground(ColorFgSecondary).Width(wrapWidth).Render(wrapText("❯ "+text, wrapWidth)))

		case model.OutputTypeDiff:
			sb.WriteString(DiffStyle.Width(wrapWidth).Render(
				DiffTextStyle.Render(wrapText(text, wrapWidth-4)),
			))

		case model.OutputTypeError:
			sb.WriteString(ErrorStyle.Width(wrapWidth).Render("● " + wrapText(text, wrapWidth-2)))

		default:
			sb.WriteString(SystemStyle.Width(wrapWidth).Render(
				SystemTextStyle.Render(wrapText(text, wrapWidth-4)),
			))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// renderMarkdown renders assistant text, falling back to plain wrapping
// before the terminal size is known or when rendering fails
func (m Model) renderMarkdown(text string, width int) string {
	if m.markdown == nil {
		return lipgloss.NewStyle().Foreground(ColorFgPrimary).Render(wrapText(text, width))
	}
	out, err := m.markdown.Render(text)
	if err != nil {
		return wrapText(text, width)
	}
	return strings.Trim(out, "\n")
}

func truncate(s string, max int) string {
	if max < 1 || len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

// wrapText wraps text to fit within a given width, preserving word boundaries
func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}

	var result strings.Builder
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			result.WriteString("\n")
		}
		if len(line) <= width {
			result.WriteString(line)
			continue
		}

		currentLine := ""
		for _, word := range strings.Fields(line) {
			if currentLine != "" && len(currentLine)+1+len(word) <= width {
				currentLine += " " + word
				continue
			}
			if currentLine != "" {
				result.WriteString(currentLine)
				result.WriteString("\n")
			}
			for len(word) > width {
				result.WriteString(word[:width])
				result.WriteString("\n")
				word = word[width:]
			}
			currentLine = word
		}
		result.WriteString(currentLine)
	}
	return result.String()
}
