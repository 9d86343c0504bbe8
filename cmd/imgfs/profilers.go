package main

import (
	"context"
	"log/slog"
	"os"
	"runtime/pprof"
)

// profiler writes a CPU profile for the lifetime of its context, or an
// allocation profile when the context ends. An empty path disables it.
//
//nolint:containedctx
type profiler struct {
	ctx      context.Context
	cancel   context.CancelFunc
	doneChan chan struct{}
}

func newCPUProfiler(ctx context.Context, path string) *profiler {
	p := newProfiler(ctx)
	go p.cpu(path)

	return p
}

func newAllocProfiler(ctx context.Context, path string) *profiler {
	p := newProfiler(ctx)
	go p.allocs(path)

	return p
}

func newProfiler(ctx context.Context) *profiler {
	p := &profiler{doneChan: make(chan struct{})}
	p.ctx, p.cancel = context.WithCancel(ctx)

	return p
}

func (p *profiler) cpu(path string) {
	defer close(p.doneChan)

	if path == "" {
		return
	}

	f, err := os.Create(path)
	if err != nil {
		slog.Error("Could not create cpu profile.", "path", path, "err", err)

		return
	}
	defer f.Close()

	if err := pprof.StartCPUProfile(f); err != nil {
		slog.Error("Could not start cpu profile.", "err", err)

		return
	}
	defer pprof.StopCPUProfile()

	<-p.ctx.Done()
}

func (p *profiler) allocs(path string) {
	defer close(p.doneChan)

	if path == "" {
		return
	}

	<-p.ctx.Done()

	f, err := os.Create(path)
	if err != nil {
		slog.Error("Could not create allocs profile.", "path", path, "err", err)

		return
	}
	defer f.Close()

	if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
		slog.Error("Could not write allocs profile.", "err", err)
	}
}

// Stop ends the profile and waits until it is written.
func (p *profiler) Stop() {
	p.cancel()
	<-p.doneChan
}
