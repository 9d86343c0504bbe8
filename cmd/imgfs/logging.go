package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

const (
	logTerminal = "terminal"
	logUI       = "ui"
)

type sinkSet struct {
	sync.RWMutex
	sinks map[string]slog.Handler
}

// logScope is one WithAttrs or WithGroup step of a derived logger.
type logScope struct {
	attrs []slog.Attr
	group string
}

// logRouter is a [slog.Handler] fanning records out to named sinks. Sinks
// can be swapped at runtime, which lets the UI take over the log output
// while it is shown and hand it back to the terminal when it quits. Derived
// handlers share the sinks of their root.
type logRouter struct {
	set    *sinkSet
	scopes []logScope
	level  slog.Leveler
}

func newLogRouter(level slog.Leveler) *logRouter {
	return &logRouter{
		set:   &sinkSet{sinks: make(map[string]slog.Handler)},
		level: level,
	}
}

func (r *logRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= r.level.Level()
}

func (r *logRouter) Handle(ctx context.Context, rec slog.Record) error {
	r.set.RLock()
	defer r.set.RUnlock()

	for _, h := range r.set.sinks {
		for _, s := range r.scopes {
			if s.group != "" {
				h = h.WithGroup(s.group)
			} else {
				h = h.WithAttrs(s.attrs)
			}
		}

		_ = h.Handle(ctx, rec.Clone())
	}

	return nil
}

func (r *logRouter) derive(s logScope) *logRouter {
	scopes := make([]logScope, len(r.scopes), len(r.scopes)+1)
	copy(scopes, r.scopes)

	return &logRouter{
		set:    r.set,
		scopes: append(scopes, s),
		level:  r.level,
	}
}

func (r *logRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return r
	}

	return r.derive(logScope{attrs: attrs})
}

func (r *logRouter) WithGroup(name string) slog.Handler {
	if name == "" {
		return r
	}

	return r.derive(logScope{group: name})
}

// Attach writes all further records to w under the given sink name,
// replacing a sink of the same name.
func (r *logRouter) Attach(name string, w io.Writer, noColor bool) {
	r.set.Lock()
	defer r.set.Unlock()

	r.set.sinks[name] = tint.NewHandler(w, &tint.Options{
		Level:      r.level,
		TimeFormat: time.Kitchen,
		NoColor:    noColor,
	})
}

// Detach removes the named sink.
func (r *logRouter) Detach(name string) {
	r.set.Lock()
	defer r.set.Unlock()

	delete(r.set.sinks, name)
}

// Sinks returns the number of attached sinks.
func (r *logRouter) Sinks() int {
	r.set.RLock()
	defer r.set.RUnlock()

	return len(r.set.sinks)
}
