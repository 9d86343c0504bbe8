package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// GenericQueue is a generic queue that can hold any comparable type of items.
type GenericQueue[T comparable] struct {
	sync.RWMutex
	hasStarted  bool
	hasFinished bool
	startTime   time.Time
	finishTime  time.Time
	head        int
	items       []T
	success     []T
	failed      []T
	skipped     []T
	inProgress  map[T]struct{}
}

// NewGenericQueue returns a pointer to a new [GenericQueue].
func NewGenericQueue[T comparable]() *GenericQueue[T] {
	return &GenericQueue[T]{
		inProgress: make(map[T]struct{}),
	}
}

// HasRemainingItems returns whether a queue has remaining items to process.
func (q *GenericQueue[T]) HasRemainingItems() bool {
	q.RLock()
	defer q.RUnlock()

	return q.head < len(q.items)
}

// GetSuccessful returns a copy of all successfully processed items.
func (q *GenericQueue[T]) GetSuccessful() []T {
	q.RLock()
	defer q.RUnlock()

	return append([]T(nil), q.success...)
}

// GetFailed returns a copy of all failed items.
func (q *GenericQueue[T]) GetFailed() []T {
	q.RLock()
	defer q.RUnlock()

	return append([]T(nil), q.failed...)
}

// Enqueue adds items to the queue. A finished queue is reopened.
func (q *GenericQueue[T]) Enqueue(items ...T) {
	q.Lock()
	defer q.Unlock()

	if q.hasFinished {
		q.finishTime = time.Time{}
		q.hasFinished = false
	}

	q.items = append(q.items, items...)
}

// Dequeue returns the item at the queue head and advances the head. The
// queue counts as started with the first and as finished with the last
// dequeued item.
func (q *GenericQueue[T]) Dequeue() (T, bool) { //nolint:ireturn
	q.Lock()
	defer q.Unlock()

	if q.head >= len(q.items) {
		var zeroVal T

		return zeroVal, false
	}

	if !q.hasStarted {
		q.startTime = time.Now()
		q.hasStarted = true
	}

	item := q.items[q.head]
	q.head++

	if q.head == len(q.items) {
		q.finishTime = time.Now()
		q.hasFinished = true
	}

	return item, true
}

// SetProcessing sets given items as in progress (processing).
func (q *GenericQueue[T]) SetProcessing(items ...T) {
	q.Lock()
	defer q.Unlock()

	for _, item := range items {
		q.inProgress[item] = struct{}{}
	}
}

// SetSuccess sets given in-progress items as successfully processed.
func (q *GenericQueue[T]) SetSuccess(items ...T) {
	q.Lock()
	defer q.Unlock()

	for _, item := range items {
		delete(q.inProgress, item)
		q.success = append(q.success, item)
	}
}

// SetFailed sets given in-progress items as failed.
func (q *GenericQueue[T]) SetFailed(items ...T) {
	q.Lock()
	defer q.Unlock()

	for _, item := range items {
		delete(q.inProgress, item)
		q.failed = append(q.failed, item)
	}
}

// SkipRemaining marks all items not yet dequeued as skipped and finishes the
// queue.
func (q *GenericQueue[T]) SkipRemaining() {
	q.Lock()
	defer q.Unlock()

	if q.head >= len(q.items) {
		return
	}

	q.skipped = append(q.skipped, q.items[q.head:]...)
	q.head = len(q.items)
	q.finishTime = time.Now()
	q.hasFinished = true
}

// Progress returns the [Progress] for the [GenericQueue].
func (q *GenericQueue[T]) Progress() Progress {
	q.RLock()
	defer q.RUnlock()

	totalItems := len(q.items)
	processedItems := min(len(q.success)+len(q.failed)+len(q.skipped), totalItems)

	var progressPct float64
	if totalItems > 0 {
		progressPct = float64(processedItems) / float64(totalItems) * 100 //nolint:mnd
		progressPct = max(float64(0), min(progressPct, float64(100)))     //nolint:mnd
	}

	var eta time.Time
	var timeLeft time.Duration
	var speed float64

	if q.hasStarted && processedItems > 0 {
		end := time.Now()
		if q.hasFinished && len(q.inProgress) == 0 {
			end = q.finishTime
		}

		elapsed := end.Sub(q.startTime)
		speed = float64(processedItems) / max(elapsed.Seconds(), 1)

		if remaining := totalItems - processedItems; remaining > 0 && speed > 0 {
			timeLeft = time.Duration(float64(remaining) / speed * float64(time.Second))
			eta = time.Now().Add(timeLeft)
		}
	}

	return Progress{
		HasStarted:      q.hasStarted,
		HasFinished:     q.hasFinished,
		StartTime:       q.startTime,
		FinishTime:      q.finishTime,
		ProgressPct:     progressPct,
		TotalItems:      totalItems,
		ProcessedItems:  processedItems,
		InProgressItems: len(q.inProgress),
		SuccessItems:    len(q.success),
		FailedItems:     len(q.failed),
		SkippedItems:    len(q.skipped),
		ETA:             eta,
		TimeLeft:        timeLeft,
		Speed:           speed,
		SpeedUnit:       "items/sec",
	}
}

// DequeueAndProcess sequentially dequeues and processes items using the given
// processFunc. An error is only returned in case of a context cancellation,
// in which case the remaining items are marked as skipped. The processFunc is
// otherwise expected to return only its decision for that item.
//
// Possible decisions to be returned: [DecisionSuccess], [DecisionFailed],
// [DecisionStop].
func (q *GenericQueue[T]) DequeueAndProcess(ctx context.Context, processFunc func(T) int) error {
	for {
		if ctx.Err() != nil {
			q.SkipRemaining()

			return fmt.Errorf("(queue-proc) %w", ctx.Err())
		}

		item, ok := q.Dequeue()
		if !ok {
			return nil
		}

		q.SetProcessing(item)

		switch processFunc(item) {
		case DecisionFailed:
			q.SetFailed(item)

		case DecisionStop:
			q.SetSuccess(item)
			q.SkipRemaining()

			return nil

		default:
			q.SetSuccess(item)
		}
	}
}
