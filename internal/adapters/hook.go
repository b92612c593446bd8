package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/vincentbai/navtrace/internal/models"
)

// Hook stands in for a driver when navigations are pushed by an in-page
// script instead of being polled. The final location is the last URL the
// script reported, so finalizing never adds a duplicate event.
type Hook struct {
	sessionID string
	framework models.Framework
	now       func() time.Time

	mu   sync.Mutex
	last string
}

func NewHook(sessionID string, framework models.Framework) *Hook {
	if framework == "" {
		framework = models.FrameworkPlaywright
	}
	return &Hook{sessionID: sessionID, framework: framework, now: time.Now, last: models.NullLocation}
}

func (h *Hook) Framework() models.Framework { return h.framework }

func (h *Hook) ResolveSessionID() string {
	if h.sessionID != "" {
		return h.sessionID
	}
	return FallbackSessionID(h.now())
}

func (h *Hook) CurrentLocation(context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, nil
}

// Attach is a no-op: hook sessions are fed through Observe.
func (h *Hook) Attach(Sink) {}

// Observe remembers the latest location posted by the script.
func (h *Hook) Observe(location string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = location
}
