// Package queue implements the batch runner: a progress-tracking job queue,
// and the execution of command scripts through it.
package queue

import "time"

const (
	// DecisionSuccess is returned by a processFunc when an item was processed.
	DecisionSuccess = 1

	// DecisionFailed is returned by a processFunc when an item failed.
	DecisionFailed = 0

	// DecisionStop is returned by a processFunc when processing should end
	// after the item. The item counts as processed successfully, and the
	// remaining items are marked as skipped.
	DecisionStop = -1
)

// Progress is a snapshot of the processing state of a queue. It is meant to
// be passed by value.
type Progress struct {
	HasStarted      bool
	HasFinished     bool
	StartTime       time.Time
	FinishTime      time.Time
	ProgressPct     float64
	TotalItems      int
	ProcessedItems  int
	InProgressItems int
	SuccessItems    int
	FailedItems     int
	SkippedItems    int
	ETA             time.Time
	TimeLeft        time.Duration
	Speed           float64
	SpeedUnit       string
}
