package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/desertwitch/imgfs/internal/configuration"
	"github.com/desertwitch/imgfs/internal/filesystem"
	"github.com/desertwitch/imgfs/internal/images"
	"github.com/desertwitch/imgfs/internal/monitoring"
	"github.com/desertwitch/imgfs/internal/queue"
	"github.com/desertwitch/imgfs/internal/server"
	"github.com/desertwitch/imgfs/internal/shell"
	"github.com/desertwitch/imgfs/internal/ui"
)

const shellPrompt = "imgfs> "

// App wires the image registry to the front ends of the binary.
type App struct {
	cfg      *configuration.Config
	registry *images.Registry
	logs     *logRouter
}

// NewApp returns a pointer to a new [App].
func NewApp(cfg *configuration.Config, registry *images.Registry, logs *logRouter) *App {
	return &App{
		cfg:      cfg,
		registry: registry,
		logs:     logs,
	}
}

// Open creates the named image when createMB is positive, or mounts it
// otherwise.
func (app *App) Open(name string, createMB int64) (*filesystem.Handler, error) {
	if createMB > 0 {
		fs, err := app.registry.Create(name, createMB)
		if err != nil {
			return nil, fmt.Errorf("(app-open) %w", err)
		}

		return fs, nil
	}

	fs, err := app.registry.Mount(name)
	if err != nil {
		return nil, fmt.Errorf("(app-open) %w", err)
	}

	return fs, nil
}

// Serve runs the HTTP API until ctx is cancelled.
func (app *App) Serve(ctx context.Context) error {
	srv, err := server.NewServer(app.registry, monitoring.NewMetrics())
	if err != nil {
		return fmt.Errorf("(app-serve) %w", err)
	}

	if err := srv.Run(ctx, app.cfg.ListenAddr); err != nil {
		return fmt.Errorf("(app-serve) %w", err)
	}

	return nil
}

// RunScript executes the commands of the script file against fs and prints
// each output to out.
func (app *App) RunScript(ctx context.Context, fs *filesystem.Handler, path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("(app-script) %w", err)
	}
	defer f.Close()

	jobs, err := queue.ParseScript(f)
	if err != nil {
		return fmt.Errorf("(app-script) %w", err)
	}

	runner := queue.NewRunner(func(line string) (string, error) {
		return shell.Execute(fs, line)
	}, queue.RunnerOptions{})
	runner.Enqueue(jobs...)

	results, runErr := runner.Run(ctx)

	for _, res := range results {
		fmt.Fprintf(out, "%s%s\n", shellPrompt, res.Job.Command)

		if res.Err != nil {
			fmt.Fprintf(out, "Error: %v\n", res.Err)

			continue
		}

		if res.Output != "" {
			fmt.Fprintln(out, res.Output)
		}
	}

	progress := runner.Progress()
	slog.Info("Script finished.",
		"jobs", progress.TotalItems,
		"success", progress.SuccessItems,
		"failed", progress.FailedItems,
		"skipped", progress.SkippedItems,
		"took", progress.FinishTime.Sub(progress.StartTime).Round(time.Millisecond),
	)

	if runErr != nil {
		return fmt.Errorf("(app-script) %w", runErr)
	}

	return nil
}

// RunShell reads commands line by line from in until it ends, a quit command
// is given or ctx is cancelled.
func (app *App) RunShell(ctx context.Context, fs *filesystem.Handler, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, shellPrompt)

		if !scanner.Scan() {
			fmt.Fprintln(out)

			break
		}

		if ctx.Err() != nil {
			return nil
		}

		res, err := shell.Execute(fs, scanner.Text())
		if errors.Is(err, shell.ErrQuit) {
			return nil
		}

		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)

			continue
		}

		if res != "" {
			fmt.Fprintln(out, res)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("(app-shell) %w", err)
	}

	return nil
}

// LaunchUI shows the interactive shell for fs. Logs are routed into the UI
// while it is shown.
func (app *App) LaunchUI(ctx context.Context, cancel context.CancelFunc, name string, fs *filesystem.Handler) error {
	uiHandler := ui.NewHandler(ctx, cancel, name, fs)

	app.logs.Attach(logUI, uiHandler.LogWriter, false)
	app.logs.Detach(logTerminal)

	defer func() {
		app.logs.Attach(logTerminal, os.Stderr, false)
		app.logs.Detach(logUI)
	}()

	if err := uiHandler.Launch(); err != nil {
		return fmt.Errorf("(app-ui) %w", err)
	}

	return nil
}
