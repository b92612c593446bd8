// Package server is the local collector that in-page hooks post navigation
// batches to. Each session id gets its own tracker; sessions are persisted
// after every batch and finalized explicitly or when the server shuts down.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/vincentbai/navtrace/internal/adapters"
	"github.com/vincentbai/navtrace/internal/database"
	"github.com/vincentbai/navtrace/internal/logging"
	"github.com/vincentbai/navtrace/internal/models"
	"github.com/vincentbai/navtrace/internal/normalize"
	"github.com/vincentbai/navtrace/internal/registry"
	"github.com/vincentbai/navtrace/internal/store"
	"github.com/vincentbai/navtrace/internal/tracker"
	"github.com/vincentbai/navtrace/internal/uploader"
)

//go:embed hook.js
var hookScript []byte

type Options struct {
	// StorePath maps a tracking type's default file name to the store path.
	StorePath  func(defaultFile string) string
	Normalizer normalize.Normalizer
	Registry   *registry.Registry
	Uploader   *uploader.Uploader
	AutoUpload bool
	BuildID    string
	Logger     *slog.Logger
}

type liveSession struct {
	tracker *tracker.Tracker
	hook    *adapters.Hook
}

type Server struct {
	db       *database.Database
	address  string
	server   *http.Server
	opts     Options
	registry *registry.Registry
	metrics  *metrics
	logger   *slog.Logger

	mu         sync.Mutex
	sessions   map[string]*liveSession
	persisters map[models.TrackingType]*store.Persister
}

// NewServer builds a collector listening on address. db may be nil, in which
// case sessions are only written to the JSON stores.
func NewServer(db *database.Database, address string, opts Options) *Server {
	if opts.StorePath == nil {
		opts.StorePath = func(defaultFile string) string { return defaultFile }
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.New(opts.Logger)
	}
	return &Server{
		db:         db,
		address:    address,
		opts:       opts,
		registry:   reg,
		metrics:    newMetrics(),
		logger:     logging.Component(opts.Logger, "server"),
		sessions:   make(map[string]*liveSession),
		persisters: make(map[models.TrackingType]*store.Persister),
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleEvents(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var batch models.Batch
	if err := json.NewDecoder(request.Body).Decode(&batch); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if len(batch.Events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if batch.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	s.metrics.batches.Inc()

	live := s.session(batch)
	live.tracker.SetMetadata(batch.SpecFile, batch.TestName)

	recorded := 0
	for _, event := range batch.Events {
		var at time.Time
		if event.TSUTC > 0 {
			at = time.UnixMilli(event.TSUTC)
		}
		live.hook.Observe(event.URL)
		if live.tracker.RecordAt(event.URL, event.Type, at) {
			recorded++
			s.metrics.navigations.WithLabelValues(string(models.Classify(event.Type))).Inc()
		} else {
			s.metrics.dropped.Inc()
		}
	}
	if recorded > 0 {
		live.tracker.SaveResults()
	}
	w.WriteHeader(http.StatusNoContent) // success, no body
}

func (s *Server) handleFinalize(w http.ResponseWriter, request *http.Request) {
	id := request.PathValue("id")
	s.mu.Lock()
	live, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	live.tracker.Cleanup(request.Context())
	s.metrics.finalized.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHook(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(hookScript)
}

// session returns the live session for the batch, creating its tracker on
// first sight.
func (s *Server) session(batch models.Batch) *liveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if live, ok := s.sessions[batch.SessionID]; ok {
		return live
	}

	hook := adapters.NewHook(batch.SessionID, batch.Framework)
	opts := tracker.Options{
		Adapter:       hook,
		SpecFile:      batch.SpecFile,
		TestName:      batch.TestName,
		Normalizer:    s.opts.Normalizer,
		Persister:     s.persisterLocked(hook.Framework().TrackingType()),
		Registry:      s.registry,
		Logger:        s.opts.Logger,
		Uploader:      s.opts.Uploader,
		AutoUpload:    s.opts.AutoUpload,
		UploadOptions: uploader.Options{BuildID: s.opts.BuildID},
	}
	if s.db != nil {
		opts.Mirror = s.db
	}
	live := &liveSession{tracker: tracker.New(opts), hook: hook}
	s.sessions[batch.SessionID] = live
	s.metrics.sessions.Inc()
	s.logger.Info("session opened",
		slog.String("session_id", batch.SessionID),
		slog.String("framework", string(hook.Framework())))
	return live
}

func (s *Server) persisterLocked(tt models.TrackingType) *store.Persister {
	if p, ok := s.persisters[tt]; ok {
		return p
	}
	p := store.NewPersister(s.opts.StorePath(tt.DefaultFileName()), s.opts.Logger)
	s.persisters[tt] = p
	return p
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("POST /sessions/{id}/finalize", s.handleFinalize)
	mux.HandleFunc("GET /hook.js", s.handleHook)
	mux.Handle("GET /metrics", s.metrics.handler())
	return mux
}

// Start serves until ctx is cancelled or the process receives SIGINT or
// SIGTERM, then shuts down and flushes every open session.
func (s *Server) Start(ctx context.Context) error {
	mux := s.setupRoutes()
	s.server = &http.Server{
		Addr:         s.address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("navtrace collector listening", slog.String("address", s.address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return err
		}
	case <-ctx.Done():
	}
	s.logger.Info("shutting down collector", slog.Int("open_sessions", s.registry.Len()))

	shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownContext)
	s.registry.FlushAll("shutdown")
	if err != nil {
		return err
	}
	s.logger.Info("collector exited")
	return nil
}
