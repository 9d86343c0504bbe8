package ui

import (
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertwitch/imgfs/internal/filesystem"
	"github.com/desertwitch/imgfs/internal/schema"
	"github.com/desertwitch/imgfs/internal/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T) (TeaModel, *filesystem.Handler, *bool) {
	t.Helper()

	fs, err := filesystem.Create(&schema.OS{}, &schema.Unix{}, filepath.Join(t.TempDir(), "ui.img"), 1<<20,
		filesystem.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	canceled := false
	exec := func(line string) (string, error) {
		return shell.Execute(fs, line)
	}

	m := NewTeaModel(&Handler{}, "ui.img", exec, fs.Stats, func() { canceled = true })

	return m, fs, &canceled
}

func update(t *testing.T, m TeaModel, msg tea.Msg) (TeaModel, tea.Cmd) {
	t.Helper()

	next, cmd := m.Update(msg)

	model, ok := next.(TeaModel)
	require.True(t, ok)

	return model, cmd
}

func typeLine(t *testing.T, m TeaModel, line string) (TeaModel, tea.Cmd) {
	t.Helper()

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(line)})

	return update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
}

// TestTeaModel_Success_Commands tests running commands through the prompt.
func TestTeaModel_Success_Commands(t *testing.T) {
	t.Parallel()

	m, fs, _ := newTestModel(t)

	assert.Equal(t, "Loading the shell...", m.View())

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	assert.True(t, m.ready)
	assert.True(t, m.uiHandler.Ready.Load())

	m, cmd := typeLine(t, m, "mkdir /docs")
	assert.Nil(t, cmd)
	assert.Empty(t, m.input.Value())

	m, _ = typeLine(t, m, "ls")

	output := strings.Join(m.output, "\n")
	assert.Contains(t, output, "Created directory: /docs")
	assert.Contains(t, output, "docs/")

	entries, err := fs.List("/")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.Equal(t, uint32(2), m.stats.UsedInodes)
	assert.Contains(t, m.View(), "ui.img")
}

// TestTeaModel_Success_Errors tests that failing commands are shown, not
// fatal.
func TestTeaModel_Success_Errors(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestModel(t)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})

	m, cmd := typeLine(t, m, "read /missing")
	assert.Nil(t, cmd)
	assert.Contains(t, strings.Join(m.output, "\n"), "error: ")
}

// TestTeaModel_Success_History tests recalling previous command lines.
func TestTeaModel_Success_History(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestModel(t)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})

	m, _ = typeLine(t, m, "touch /a")
	m, _ = typeLine(t, m, "touch /b")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, "touch /b", m.input.Value())

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, "touch /a", m.input.Value())

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, "touch /b", m.input.Value())

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Empty(t, m.input.Value())
}

// TestTeaModel_Success_Quit tests the quit paths.
func TestTeaModel_Success_Quit(t *testing.T) {
	t.Parallel()

	m, _, canceled := newTestModel(t)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})

	_, cmd := typeLine(t, m, "quit")
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.False(t, *canceled)

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.True(t, *canceled)
}

// TestTeaModel_Success_Logs tests that log lines are kept bounded.
func TestTeaModel_Success_Logs(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestModel(t)

	for i := range maxLogLines + 5 {
		m, _ = update(t, m, LogMsg(strings.Repeat("x", i%3+1)))
	}

	assert.Len(t, m.logs, maxLogLines)
}

// TestTeaModel_Success_Stats tests the periodic status refresh.
func TestTeaModel_Success_Stats(t *testing.T) {
	t.Parallel()

	m, fs, _ := newTestModel(t)
	require.NoError(t, fs.Touch("/f"))

	m, cmd := update(t, m, StatsMsg{stats: fs.Stats()})
	require.NotNil(t, cmd)
	assert.Equal(t, uint32(2), m.stats.UsedInodes)
}

// TestHandler_Success tests that a handler can be built around an image.
func TestHandler_Success(t *testing.T) {
	t.Parallel()

	fs, err := filesystem.Create(&schema.OS{}, &schema.Unix{}, filepath.Join(t.TempDir(), "h.img"), 1<<20,
		filesystem.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	h := NewHandler(t.Context(), func() {}, "h.img", fs)
	require.NotNil(t, h.LogWriter)
	h.LogWriter.Stop()

	assert.False(t, h.Ready.Load())
}
