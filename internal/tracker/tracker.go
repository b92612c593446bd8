// Package tracker owns one test session end to end: it records navigations
// through a driver adapter, persists the session when the test finishes and
// optionally uploads it.
//
// Everything except UploadTrackingResults is best effort. Failures are
// logged and never reach the test that owns the tracker.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vincentbai/navtrace/internal/adapters"
	"github.com/vincentbai/navtrace/internal/logging"
	"github.com/vincentbai/navtrace/internal/models"
	"github.com/vincentbai/navtrace/internal/normalize"
	"github.com/vincentbai/navtrace/internal/recorder"
	"github.com/vincentbai/navtrace/internal/registry"
	"github.com/vincentbai/navtrace/internal/store"
	"github.com/vincentbai/navtrace/internal/uploader"
)

// flushTimeout bounds the final location query made from exit paths.
const flushTimeout = 5 * time.Second

// Mirror receives every persisted session, typically the sqlite index.
// previous names keys the session was indexed under before its metadata
// changed.
type Mirror interface {
	UpsertSession(session models.Session, previous ...models.SessionKey) error
}

type Options struct {
	Adapter    adapters.Adapter
	SpecFile   string
	TestName   string
	Normalizer normalize.Normalizer
	Persister  *store.Persister
	Mirror     Mirror
	Registry   *registry.Registry
	Logger     *slog.Logger

	PollInterval time.Duration

	// Uploader is required for AutoUpload and UploadTrackingResults.
	Uploader      *uploader.Uploader
	AutoUpload    bool
	UploadOptions uploader.Options

	Now func() time.Time
}

type Tracker struct {
	adapter   adapters.Adapter
	recorder  *recorder.Recorder
	poller    *recorder.Poller
	persister *store.Persister
	mirror    Mirror
	uploader  *uploader.Uploader
	logger    *slog.Logger

	autoUpload    bool
	uploadOptions uploader.Options

	cleanupOnce sync.Once

	// persistMu serialises saves; savedKey is the key of the last one.
	persistMu sync.Mutex
	savedKey  *models.SessionKey
}

// New builds a tracker, attaches it to the adapter's hooks and registers it
// for exit-time flushing.
func New(opts Options) *Tracker {
	framework := opts.Adapter.Framework()
	norm := opts.Normalizer
	if norm == nil {
		if framework.TrackingType() == models.TrackingMobile {
			norm = normalize.ScreenNormalizer{}
		} else {
			norm, _ = normalize.NewURLNormalizer("")
		}
	}

	sessionID := opts.Adapter.ResolveSessionID()
	logger := logging.Component(opts.Logger, "tracker").With(slog.String("session_id", sessionID))
	rec := recorder.New(recorder.Options{
		SessionID:  sessionID,
		SpecFile:   opts.SpecFile,
		TestName:   opts.TestName,
		Framework:  framework,
		Normalizer: norm,
		Logger:     opts.Logger,
		Now:        opts.Now,
	})

	t := &Tracker{
		adapter:       opts.Adapter,
		recorder:      rec,
		poller:        recorder.NewPoller(rec, opts.Adapter, opts.PollInterval, opts.Logger),
		persister:     opts.Persister,
		mirror:        opts.Mirror,
		uploader:      opts.Uploader,
		logger:        logger,
		autoUpload:    opts.AutoUpload,
		uploadOptions: opts.UploadOptions,
	}
	if t.uploadOptions.SessionID == "" {
		t.uploadOptions.SessionID = sessionID
	}

	opts.Adapter.Attach(rec)
	rec.Attach()
	if opts.Registry != nil {
		opts.Registry.Register(t)
	}
	return t
}

func (t *Tracker) Recorder() *recorder.Recorder { return t.recorder }

func (t *Tracker) SessionID() string { return t.recorder.Snapshot().SessionID }

// Start records the driver's initial location.
func (t *Tracker) Start(ctx context.Context) bool {
	location, err := t.adapter.CurrentLocation(ctx)
	if err != nil {
		t.logger.Debug("initial location query failed", slog.Any("error", err))
		return false
	}
	return t.recorder.Record(location, string(models.NavInitial))
}

// TrackNavigation polls the driver once, subject to the poll throttle.
func (t *Tracker) TrackNavigation(ctx context.Context, rawType string) bool {
	return t.poller.TrackNavigation(ctx, rawType)
}

// Run polls the driver until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	t.poller.Run(ctx, interval, string(models.NavNavigationDetected))
}

// Record appends a location reported by an external hook.
func (t *Tracker) Record(location, rawType string) bool {
	return t.recorder.Record(location, rawType)
}

func (t *Tracker) RecordAt(location, rawType string, at time.Time) bool {
	return t.recorder.RecordAt(location, rawType, at)
}

func (t *Tracker) SetMetadata(specFile, testName string) {
	t.recorder.SetMetadata(specFile, testName)
}

// SaveResults persists the session as it stands without finalizing it.
func (t *Tracker) SaveResults() {
	t.persist(t.recorder.Snapshot())
}

// Cleanup records the final location, persists the session and, when
// configured, uploads it. Only the first call does anything.
func (t *Tracker) Cleanup(ctx context.Context) {
	t.cleanupOnce.Do(func() {
		t.recorder.RecordFinal(ctx, t.adapter)
		session := t.recorder.Snapshot()
		t.persist(session)

		if t.autoUpload && t.uploader != nil {
			if _, err := t.uploader.Upload(ctx, &session, t.uploadOptions); err != nil {
				t.logger.Error("automatic upload failed", slog.Any("error", err))
			}
		}
	})
}

// Flush implements registry.Flusher.
func (t *Tracker) Flush(reason string) {
	t.logger.Debug("flushing session", slog.String("reason", reason))
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	t.Cleanup(ctx)
}

// UploadTrackingResults uploads the current session. Unlike every other
// tracker operation its errors are returned.
func (t *Tracker) UploadTrackingResults(ctx context.Context, opts uploader.Options) (*uploader.Response, error) {
	if t.uploader == nil {
		return nil, uploader.ErrMissingEndpoint
	}
	if opts.SessionID == "" && opts.BuildID == "" {
		opts.SessionID = t.uploadOptions.SessionID
		opts.BuildID = t.uploadOptions.BuildID
	}
	session := t.recorder.Snapshot()
	return t.uploader.Upload(ctx, &session, opts)
}

func (t *Tracker) persist(session models.Session) {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	var previous []models.SessionKey
	if t.savedKey != nil && *t.savedKey != session.Key() {
		previous = append(previous, *t.savedKey)
	}
	key := session.Key()
	t.savedKey = &key

	if t.persister != nil {
		result, err := t.persister.Persist(session, previous...)
		if err != nil {
			t.logger.Error("failed to persist session",
				slog.Any("error", err),
				slog.String("backup", result.BackupPath))
		} else {
			t.logger.Info("session saved",
				slog.String("path", result.Path),
				slog.Int("navigations", len(session.Navigations)),
				slog.Bool("replaced", result.Replaced))
		}
	}
	if t.mirror != nil {
		if err := t.mirror.UpsertSession(session, previous...); err != nil {
			t.logger.Warn("failed to index session", slog.Any("error", err))
		}
	}
}
