// Package recorder turns raw location notifications into a deduplicated,
// classified sequence of navigation events for one test session.
//
// A Recorder moves UNINITIALIZED -> ACTIVE -> FINALIZED. Once finalized it
// ignores every further notification, so late callbacks from a driver cannot
// grow a session that has already been written out.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vincentbai/navtrace/internal/logging"
	"github.com/vincentbai/navtrace/internal/models"
	"github.com/vincentbai/navtrace/internal/normalize"
)

// State is the lifecycle position of a Recorder.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateFinalized:
		return "finalized"
	}
	return "invalid"
}

// LocationSource reports where the driver currently is: a URL for browser
// drivers, a screen name for mobile ones.
type LocationSource interface {
	CurrentLocation(ctx context.Context) (string, error)
}

// Options configure a Recorder. Empty spec and test names start as "unknown".
type Options struct {
	SessionID  string
	SpecFile   string
	TestName   string
	Framework  models.Framework
	Normalizer normalize.Normalizer
	Logger     *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Recorder holds one session's navigations. It is safe for concurrent use.
type Recorder struct {
	mu         sync.Mutex
	session    models.Session
	current    string
	state      State
	finalizing bool

	normalizer normalize.Normalizer
	logger     *slog.Logger
	now        func() time.Time
}

func New(opts Options) *Recorder {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	norm := opts.Normalizer
	if norm == nil {
		norm = normalize.ScreenNormalizer{}
	}
	specFile, testName := opts.SpecFile, opts.TestName
	if specFile == "" {
		specFile = models.Unknown
	}
	if testName == "" {
		testName = models.Unknown
	}
	r := &Recorder{
		session: models.Session{
			SessionID:    opts.SessionID,
			SpecFile:     specFile,
			TestName:     testName,
			Framework:    opts.Framework,
			TrackingType: opts.Framework.TrackingType(),
			Timestamp:    now().UTC(),
		},
		current:    models.NullLocation,
		normalizer: norm,
		now:        now,
	}
	r.logger = logging.Component(opts.Logger, "recorder").With(slog.String("session_id", opts.SessionID))
	return r
}

// Attach marks the driver as available without recording an event.
func (r *Recorder) Attach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateUninitialized {
		r.state = StateActive
	}
}

// Record appends a navigation event if location differs from the current one
// and is not the null sentinel. It reports whether an event was appended.
func (r *Recorder) Record(location, rawType string) bool {
	return r.RecordAt(location, rawType, time.Time{})
}

// RecordAt is Record with the time the client observed the change. A zero
// time means now.
func (r *Recorder) RecordAt(location, rawType string, at time.Time) bool {
	normalized := r.normalizer.Normalize(location)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordLocked(normalized, models.Classify(rawType), at)
}

func (r *Recorder) recordLocked(location string, navType models.NavigationType, at time.Time) bool {
	if r.state == StateFinalized {
		return false
	}
	if location == models.NullLocation || location == r.current {
		return false
	}
	if at.IsZero() {
		at = r.now()
	}

	event := models.NavigationEvent{
		PreviousLocation: r.current,
		CurrentLocation:  location,
		Timestamp:        at.UTC(),
		NavigationType:   navType,
		SpecFile:         r.session.SpecFile,
		TestName:         r.session.TestName,
	}
	r.session.Navigations = append(r.session.Navigations, event)
	r.current = location
	r.state = StateActive

	r.logger.Debug("navigation recorded",
		slog.String("from", event.PreviousLocation),
		slog.String("to", event.CurrentLocation),
		slog.String("type", string(navType)))
	return true
}

// RecordFinal records the driver's current location tagged final and
// finalizes the recorder. Only the first call has any effect; a failing
// source is logged and the recorder is finalized anyway.
func (r *Recorder) RecordFinal(ctx context.Context, source LocationSource) bool {
	r.mu.Lock()
	if r.state == StateFinalized || r.finalizing {
		r.mu.Unlock()
		return false
	}
	r.finalizing = true
	r.mu.Unlock()

	location := models.NullLocation
	if source != nil {
		loc, err := source.CurrentLocation(ctx)
		if err != nil {
			r.logger.Warn("final location query failed", slog.Any("error", err))
		} else {
			location = r.normalizer.Normalize(loc)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	recorded := r.recordLocked(location, models.NavFinal, time.Time{})
	r.state = StateFinalized
	return recorded
}

// Finalize stops recording without querying the driver.
func (r *Recorder) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateFinalized
}

// SetMetadata updates the session provenance. Events recorded before the
// metadata was known carry "unknown" and are rewritten.
func (r *Recorder) SetMetadata(specFile, testName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if specFile != "" {
		r.session.SpecFile = specFile
	}
	if testName != "" {
		r.session.TestName = testName
	}
	for i := range r.session.Navigations {
		e := &r.session.Navigations[i]
		if e.SpecFile == models.Unknown || e.SpecFile == "" {
			e.SpecFile = r.session.SpecFile
		}
		if e.TestName == models.Unknown || e.TestName == "" {
			e.TestName = r.session.TestName
		}
	}
}

// SetSessionID replaces a fallback session id once the driver reports one.
func (r *Recorder) SetSessionID(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session.SessionID = id
}

// Snapshot returns a copy of the session with NavigationCount set.
func (r *Recorder) Snapshot() models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.session.Clone()
	s.NavigationCount = len(s.Navigations)
	return s
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) CurrentLocation() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.session.Navigations)
}
