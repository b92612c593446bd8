// Package adapters connects driver families to a navigation recorder. Each
// family picks its own session id and location source at construction, so
// nothing downstream has to probe which kind of driver it was handed.
package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vincentbai/navtrace/internal/models"
)

// SessionResolver yields the id a session is stored under.
type SessionResolver interface {
	ResolveSessionID() string
}

// Sink receives locations observed by driver hooks.
type Sink interface {
	Record(location, rawType string) bool
}

type Adapter interface {
	SessionResolver
	Framework() models.Framework
	// CurrentLocation queries the driver for where it is right now.
	CurrentLocation(ctx context.Context) (string, error)
	// Attach routes hook notifications into sink.
	Attach(sink Sink)
}

// FallbackSessionID is used when the driver does not expose a session id.
func FallbackSessionID(now time.Time) string {
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

type discardSink struct{}

func (discardSink) Record(string, string) bool { return false }
