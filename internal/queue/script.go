package queue

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/desertwitch/imgfs/internal/shell"
)

// ErrJobsFailed is returned by [Runner.Run] when at least one job failed.
var ErrJobsFailed = errors.New("script jobs failed")

// Job is a single command line of a script.
type Job struct {
	Line    int
	Command string
}

// Result is the outcome of a processed [Job].
type Result struct {
	Job    *Job
	Output string
	Err    error
}

// ParseScript reads a script into jobs, one per line. Empty lines and lines
// starting with '#' are ignored.
func ParseScript(r io.Reader) ([]*Job, error) {
	var jobs []*Job

	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		jobs = append(jobs, &Job{Line: n, Command: line})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("(queue-parse) %w", err)
	}

	return jobs, nil
}

// RunnerOptions configure a [Runner].
type RunnerOptions struct {
	// ContinueOnError keeps processing after a failed job. Otherwise the
	// remaining jobs are skipped.
	ContinueOnError bool
}

// Runner executes script jobs in order through an executor, usually
// [shell.Execute] bound to a mounted image.
type Runner struct {
	queue   *GenericQueue[*Job]
	exec    func(line string) (string, error)
	opts    RunnerOptions
	results []Result
}

// NewRunner returns a pointer to a new [Runner].
func NewRunner(exec func(line string) (string, error), opts RunnerOptions) *Runner {
	return &Runner{
		queue: NewGenericQueue[*Job](),
		exec:  exec,
		opts:  opts,
	}
}

// Enqueue adds jobs to the runner.
func (r *Runner) Enqueue(jobs ...*Job) {
	r.queue.Enqueue(jobs...)
}

// Progress returns the [Progress] of the runner's queue.
func (r *Runner) Progress() Progress {
	return r.queue.Progress()
}

// Run processes all enqueued jobs and returns their results in order. A
// quit command ends the script early. An error wrapping [ErrJobsFailed] is
// returned when any job failed.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	r.results = r.results[:0]

	err := r.queue.DequeueAndProcess(ctx, r.process)
	if err != nil {
		return r.results, fmt.Errorf("(queue-run) %w", err)
	}

	if failed := len(r.queue.GetFailed()); failed > 0 {
		return r.results, fmt.Errorf("(queue-run) %w: %d of %d", ErrJobsFailed, failed, len(r.results))
	}

	return r.results, nil
}

func (r *Runner) process(job *Job) int {
	out, err := r.exec(job.Command)

	if errors.Is(err, shell.ErrQuit) {
		slog.Info("Script ended by quit command.", "line", job.Line)

		return DecisionStop
	}

	r.results = append(r.results, Result{Job: job, Output: out, Err: err})

	if err != nil {
		slog.Error("Job failed.", "line", job.Line, "cmd", job.Command, "err", err)

		if !r.opts.ContinueOnError {
			r.queue.SkipRemaining()
		}

		return DecisionFailed
	}

	slog.Debug("Job completed.", "line", job.Line, "cmd", job.Command)

	return DecisionSuccess
}
