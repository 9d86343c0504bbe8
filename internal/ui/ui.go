// Package ui implements the interactive shell using [tea].
package ui

import (
	"context"
	"fmt"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertwitch/imgfs/internal/filesystem"
	"github.com/desertwitch/imgfs/internal/shell"
)

// Handler is the principal implementation of a user interface [Handler].
type Handler struct {
	program *tea.Program

	LogWriter *TeaLogWriter

	Ready  atomic.Bool
	Failed atomic.Bool
}

// NewHandler returns a pointer to a new user interface [Handler] for the
// mounted image fs.
func NewHandler(ctx context.Context, cancel context.CancelFunc, imageName string, fs *filesystem.Handler) *Handler {
	handler := &Handler{}

	exec := func(line string) (string, error) {
		return shell.Execute(fs, line)
	}

	model := NewTeaModel(handler, imageName, exec, fs.Stats, cancel)
	handler.program = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	handler.LogWriter = NewTeaLogWriter(handler.program)

	return handler
}

// Launch starts the interactive shell (the [tea.Program]) and blocks until it
// is quit.
func (uiHandler *Handler) Launch() error {
	defer uiHandler.LogWriter.Stop()

	if _, err := uiHandler.program.Run(); err != nil {
		uiHandler.Failed.Store(true)

		return fmt.Errorf("(ui) %w", err)
	}

	return nil
}
