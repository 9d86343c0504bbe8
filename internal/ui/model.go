package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/desertwitch/imgfs/internal/filesystem"
	"github.com/desertwitch/imgfs/internal/shell"
	"github.com/dustin/go-humanize"
)

const (
	maxOutputLines = 1000
	maxLogLines    = 100
	maxHistory     = 100
	statsInterval  = time.Second
)

//nolint:gochecknoglobals
var (
	// titleStyle defines the style for a panel's title.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	// borderStyle defines the style for a panel's borders.
	borderStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4"))

	// infoStyle defines the style for a panel's text.
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	// errorStyle defines the style for failed command output.
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87"))

	// helpStyle defines the style for the help panel's text.
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Padding(0, 1)
)

// StatsMsg is a [tea.Msg] carrying fresh [filesystem.Stats] of the image.
type StatsMsg struct {
	t     time.Time
	stats filesystem.Stats
}

// TeaModel is the principal [tea.Model] of the interactive shell.
type TeaModel struct {
	width  int
	height int

	cancel context.CancelFunc

	uiHandler *Handler
	imageName string
	exec      func(line string) (string, error)
	statsFunc func() filesystem.Stats

	fullWidthWithBorders int

	stats      filesystem.Stats
	statsTime  time.Time
	usageBar   progress.Model
	input      textinput.Model
	outputView viewport.Model
	logsView   viewport.Model
	output     []string
	logs       []string
	history    []string
	historyPos int

	ready bool
}

// NewTeaModel returns an initial new [TeaModel] driving exec, with the
// status line fed by statsFunc.
//
//nolint:mnd
func NewTeaModel(uiHandler *Handler, imageName string, exec func(string) (string, error),
	statsFunc func() filesystem.Stats, cancel context.CancelFunc,
) TeaModel {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "type 'help' for commands"
	input.CharLimit = 4096
	input.Width = 78
	input.Focus()

	return TeaModel{
		uiHandler:  uiHandler,
		imageName:  imageName,
		exec:       exec,
		statsFunc:  statsFunc,
		cancel:     cancel,
		stats:      statsFunc(),
		usageBar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		input:      input,
		outputView: viewport.New(80, 15),
		logsView:   viewport.New(80, 5),
		output:     make([]string, 0, maxOutputLines),
		logs:       make([]string, 0, maxLogLines),
	}
}

// Init initializes the model within a [tea.Program].
func (m TeaModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		updateStats(m.statsFunc),
	)
}

// updateStats produces a [tea.Cmd] which returns a [StatsMsg] after the
// [statsInterval].
func updateStats(statsFunc func() filesystem.Stats) tea.Cmd {
	return tea.Tick(statsInterval, func(t time.Time) tea.Msg {
		return StatsMsg{t: t, stats: statsFunc()}
	})
}

// Update is the principal message handling method of the model.
// It sets the internal state of the model, for later rendering.
//
//nolint:mnd,funlen,ireturn
func (m TeaModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancel()

			return m, tea.Quit

		case "esc":
			return m, tea.Quit

		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()

			if line == "" {
				return m, nil
			}

			if quit := m.run(line); quit {
				return m, tea.Quit
			}

			return m, nil

		case "up":
			if m.historyPos > 0 {
				m.historyPos--
				m.input.SetValue(m.history[m.historyPos])
				m.input.CursorEnd()
			}

			return m, nil

		case "down":
			if m.historyPos < len(m.history)-1 {
				m.historyPos++
				m.input.SetValue(m.history[m.historyPos])
				m.input.CursorEnd()
			} else {
				m.historyPos = len(m.history)
				m.input.Reset()
			}

			return m, nil

		case "pgup", "pgdown":
			m.outputView, cmd = m.outputView.Update(msg)

			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.fullWidthWithBorders = m.width - 2

		// Status (3), input (3), help (1) and two titled panels (3 each).
		available := max(m.height-15, 4)
		logsHeight := max(available/4, 2)

		m.outputView.Width = m.fullWidthWithBorders
		m.outputView.Height = available - logsHeight
		m.logsView.Width = m.fullWidthWithBorders
		m.logsView.Height = logsHeight
		m.input.Width = m.fullWidthWithBorders - len(m.input.Prompt) - 1
		m.usageBar.Width = max(m.fullWidthWithBorders/3, 10)

		m.refreshOutput()
		m.refreshLogs()

		if !m.ready {
			m.ready = true
			if m.uiHandler != nil {
				m.uiHandler.Ready.Store(true)
			}
		}

		return m, nil

	case StatsMsg:
		m.stats = msg.stats
		m.statsTime = msg.t

		return m, updateStats(m.statsFunc)

	case LogMsg:
		if len(m.logs) >= maxLogLines {
			m.logs = m.logs[1:]
		}
		m.logs = append(m.logs, string(msg))
		m.refreshLogs()

		return m, nil
	}

	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// run executes a command line and records it with its output. It returns
// whether the command asked to quit.
func (m *TeaModel) run(line string) bool {
	if len(m.history) == 0 || m.history[len(m.history)-1] != line {
		m.history = append(m.history, line)
		if len(m.history) > maxHistory {
			m.history = m.history[1:]
		}
	}
	m.historyPos = len(m.history)

	out, err := m.exec(line)
	if errors.Is(err, shell.ErrQuit) {
		return true
	}

	m.appendOutput(infoStyle.Render(m.input.Prompt + line))

	if err != nil {
		m.appendOutput(errorStyle.Render("error: " + err.Error()))
	} else if out != "" {
		m.appendOutput(strings.Split(out, "\n")...)
	}

	m.stats = m.statsFunc()
	m.refreshOutput()

	return false
}

func (m *TeaModel) appendOutput(lines ...string) {
	m.output = append(m.output, lines...)
	if over := len(m.output) - maxOutputLines; over > 0 {
		m.output = m.output[over:]
	}
}

func (m *TeaModel) refreshOutput() {
	m.outputView.SetContent(lipgloss.NewStyle().
		Width(m.outputView.Width).
		Render(strings.Join(m.output, "\n")))
	m.outputView.GotoBottom()
}

func (m *TeaModel) refreshLogs() {
	m.logsView.SetContent(lipgloss.NewStyle().
		Width(m.logsView.Width).
		Render(strings.Join(m.logs, "\n")))
	m.logsView.GotoBottom()
}

// View is the principal rendering function of the model.
func (m TeaModel) View() string {
	if !m.ready {
		return "Loading the shell..."
	}

	statusSection := borderStyle.
		Width(m.fullWidthWithBorders).
		Render(m.statusLine())

	outputSection := borderStyle.
		Width(m.fullWidthWithBorders).
		Render(
			lipgloss.JoinVertical(
				lipgloss.Left,
				titleStyle.Width(m.fullWidthWithBorders).Render("Output"),
				m.outputView.View(),
			),
		)

	logsSection := borderStyle.
		Width(m.fullWidthWithBorders).
		Render(
			lipgloss.JoinVertical(
				lipgloss.Left,
				titleStyle.Width(m.fullWidthWithBorders).Render("Logs"),
				m.logsView.View(),
			),
		)

	inputSection := borderStyle.
		Width(m.fullWidthWithBorders).
		Render(m.input.View())

	helpSection := helpStyle.
		Width(m.fullWidthWithBorders).
		Render("enter: run • up/down: history • pgup/pgdown: scroll • esc: quit shell • ctrl+c: quit program")

	return lipgloss.JoinVertical(
		lipgloss.Left,
		statusSection,
		outputSection,
		logsSection,
		inputSection,
		helpSection,
	)
}

// statusLine renders the image name, its space usage and free inodes.
func (m TeaModel) statusLine() string {
	var usedPct float64
	if m.stats.DataBlocks > 0 {
		usedPct = float64(m.stats.UsedBlocks) / float64(m.stats.DataBlocks)
	}

	details := fmt.Sprintf("%s used of %s • %s inodes free",
		humanize.IBytes(m.stats.UsedBytes),
		humanize.IBytes(m.stats.TotalBytes),
		humanize.Comma(int64(m.stats.FreeInodes)),
	)

	return lipgloss.JoinHorizontal(
		lipgloss.Center,
		titleStyle.Render(" "+m.imageName+" "),
		" ",
		m.usageBar.ViewAs(usedPct),
		" ",
		infoStyle.Render(details),
	)
}
