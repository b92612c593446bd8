// Package registry keeps the live trackers of a process so that they can all
// be flushed when the process exits, is signalled or panics.
//
// The registry is owned by the entry point and handed to every tracker at
// construction. Entries are only added and iterated; nothing is removed
// during a run.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"

	"github.com/vincentbai/navtrace/internal/logging"
)

// Flusher persists whatever a tracker has buffered. Implementations must be
// idempotent: the registry may call Flush once per exit path.
type Flusher interface {
	Flush(reason string)
}

type Registry struct {
	mu      sync.Mutex
	entries []Flusher
	logger  *slog.Logger
	exit    func(code int)
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logging.Component(logger, "registry"),
		exit:   os.Exit,
	}
}

func (r *Registry) Register(f Flusher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, f)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// FlushAll flushes every registered tracker in registration order. A panic
// in one tracker is logged and does not stop the others.
func (r *Registry) FlushAll(reason string) {
	r.mu.Lock()
	entries := append([]Flusher(nil), r.entries...)
	r.mu.Unlock()

	r.logger.Debug("flushing trackers", slog.String("reason", reason), slog.Int("count", len(entries)))
	for _, f := range entries {
		r.flushOne(f, reason)
	}
}

func (r *Registry) flushOne(f Flusher, reason string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tracker flush panicked", slog.String("reason", reason), slog.Any("panic", rec))
		}
	}()
	f.Flush(reason)
}

// HandleSignals flushes all trackers on SIGINT or SIGTERM and exits with the
// conventional 128+signal status. It returns a stop function that releases
// the signal handlers; cancelling ctx does the same.
func (r *Registry) HandleSignals(ctx context.Context) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	var once sync.Once
	stop = func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}

	go func() {
		select {
		case sig := <-ch:
			r.logger.Info("signal received, flushing sessions", slog.String("signal", sig.String()))
			r.FlushAll(sig.String())
			stop()
			r.exit(exitCode(sig))
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop
}

func exitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 1
}

// Recover is deferred by entry points. On panic it flushes every tracker and
// re-panics so the process still dies with the original stack.
func (r *Registry) Recover() {
	rec := recover()
	if rec == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "[navtrace] panic: %v\n%s\n", rec, debug.Stack())
	r.FlushAll("panic")
	panic(rec)
}
