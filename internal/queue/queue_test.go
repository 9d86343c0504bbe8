package queue

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/desertwitch/imgfs/internal/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewGenericQueue_Success tests the queue factory function.
func TestNewGenericQueue_Success(t *testing.T) {
	t.Parallel()

	q := NewGenericQueue[string]()

	assert.NotNil(t, q)
	assert.Empty(t, q.items)
	assert.NotNil(t, q.inProgress)
	assert.False(t, q.HasRemainingItems())
	assert.False(t, q.Progress().HasStarted)
}

// TestEnqueueDequeue_Success tests enqueueing and dequeueing, including
// the start and finish bookkeeping.
func TestEnqueueDequeue_Success(t *testing.T) {
	t.Parallel()

	q := NewGenericQueue[string]()
	q.Enqueue("item1", "item2")

	item, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "item1", item)
	assert.True(t, q.hasStarted)
	assert.False(t, q.hasFinished)

	item, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "item2", item)
	assert.True(t, q.hasFinished)

	_, ok = q.Dequeue()
	assert.False(t, ok)

	q.Enqueue("item3")
	assert.False(t, q.hasFinished)
	assert.True(t, q.finishTime.IsZero())
}

// TestDequeueAndProcess_Success tests decisions and the resulting progress.
func TestDequeueAndProcess_Success(t *testing.T) {
	t.Parallel()

	q := NewGenericQueue[int]()
	q.Enqueue(1, 2, 3, 4)

	err := q.DequeueAndProcess(context.Background(), func(i int) int {
		if i%2 == 0 {
			return DecisionFailed
		}

		return DecisionSuccess
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, q.GetSuccessful())
	assert.Equal(t, []int{2, 4}, q.GetFailed())

	p := q.Progress()
	assert.True(t, p.HasFinished)
	assert.Equal(t, 4, p.TotalItems)
	assert.Equal(t, 4, p.ProcessedItems)
	assert.Equal(t, 0, p.InProgressItems)
	assert.InDelta(t, 100, p.ProgressPct, 0)
	assert.Zero(t, p.TimeLeft)
	assert.Equal(t, "items/sec", p.SpeedUnit)
}

// TestDequeueAndProcess_Success_Stop tests that a stop decision skips the
// remaining items.
func TestDequeueAndProcess_Success_Stop(t *testing.T) {
	t.Parallel()

	q := NewGenericQueue[int]()
	q.Enqueue(1, 2, 3)

	require.NoError(t, q.DequeueAndProcess(context.Background(), func(i int) int {
		if i == 2 {
			return DecisionStop
		}

		return DecisionSuccess
	}))

	p := q.Progress()
	assert.Equal(t, 2, p.SuccessItems)
	assert.Equal(t, 1, p.SkippedItems)
	assert.False(t, q.HasRemainingItems())
}

// TestDequeueAndProcess_Fail_Canceled tests that a canceled context skips
// the remaining items and returns the context error.
func TestDequeueAndProcess_Fail_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	q := NewGenericQueue[int]()
	q.Enqueue(1, 2, 3)

	err := q.DequeueAndProcess(ctx, func(i int) int {
		if i == 1 {
			cancel()
		}

		return DecisionSuccess
	})
	require.ErrorIs(t, err, context.Canceled)

	p := q.Progress()
	assert.Equal(t, 1, p.SuccessItems)
	assert.Equal(t, 2, p.SkippedItems)
}

// TestParseScript_Success tests skipping of blank and comment lines.
func TestParseScript_Success(t *testing.T) {
	t.Parallel()

	jobs, err := ParseScript(strings.NewReader("# setup\nmkdir /docs\n\n  touch /docs/a  \n"))
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, Job{Line: 2, Command: "mkdir /docs"}, *jobs[0])
	assert.Equal(t, Job{Line: 4, Command: "touch /docs/a"}, *jobs[1])
}

// TestRunner_Success tests running a script through an executor, ended
// early by a quit command.
func TestRunner_Success(t *testing.T) {
	t.Parallel()

	var seen []string

	r := NewRunner(func(line string) (string, error) {
		seen = append(seen, line)
		if line == "quit" {
			return "", shell.ErrQuit
		}

		return "ok: " + line, nil
	}, RunnerOptions{})

	jobs, err := ParseScript(strings.NewReader("a\nb\nquit\nc\n"))
	require.NoError(t, err)
	r.Enqueue(jobs...)

	results, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "quit"}, seen)
	require.Len(t, results, 2)
	assert.Equal(t, "ok: b", results[1].Output)

	p := r.Progress()
	assert.Equal(t, 3, p.SuccessItems)
	assert.Equal(t, 1, p.SkippedItems)
}

// TestRunner_Fail tests that a failing job stops the script unless errors
// are tolerated.
func TestRunner_Fail(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	exec := func(line string) (string, error) {
		if line == "bad" {
			return "", errBoom
		}

		return line, nil
	}

	jobs := []*Job{{1, "good"}, {2, "bad"}, {3, "after"}}

	r := NewRunner(exec, RunnerOptions{})
	r.Enqueue(jobs...)

	results, err := r.Run(context.Background())
	require.ErrorIs(t, err, ErrJobsFailed)
	require.Len(t, results, 2)
	require.ErrorIs(t, results[1].Err, errBoom)
	assert.Equal(t, 1, r.Progress().SkippedItems)

	jobs = []*Job{{1, "good"}, {2, "bad"}, {3, "after"}}

	r = NewRunner(exec, RunnerOptions{ContinueOnError: true})
	r.Enqueue(jobs...)

	results, err = r.Run(context.Background())
	require.ErrorIs(t, err, ErrJobsFailed)
	require.Len(t, results, 3)
	assert.Equal(t, "after", results[2].Output)
	assert.Equal(t, 1, r.Progress().FailedItems)
}
