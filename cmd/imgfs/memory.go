package main

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const memoryPollInterval = 250 * time.Millisecond

// memoryObserver records the peak heap allocation while the program runs.
type memoryObserver struct {
	sync.RWMutex
	peak     uint64
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// newMemoryObserver starts sampling until ctx ends or
// [memoryObserver.Stop] is called.
func newMemoryObserver(ctx context.Context) *memoryObserver {
	obs := &memoryObserver{
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
	go obs.sample(ctx)

	return obs
}

// Peak returns the highest sampled heap allocation in bytes.
func (o *memoryObserver) Peak() uint64 {
	o.RLock()
	defer o.RUnlock()

	return o.peak
}

// Stop ends the sampling and logs the peak allocation.
func (o *memoryObserver) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopChan)
		<-o.doneChan
		slog.Debug("Memory consumption peaked.", "heap", humanize.IBytes(o.Peak()))
	})
}

func (o *memoryObserver) sample(ctx context.Context) {
	defer close(o.doneChan)

	ticker := time.NewTicker(memoryPollInterval)
	defer ticker.Stop()

	o.record()

	for {
		select {
		case <-o.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.record()
		}
	}
}

func (o *memoryObserver) record() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	o.Lock()
	o.peak = max(o.peak, m.HeapAlloc)
	o.Unlock()
}
