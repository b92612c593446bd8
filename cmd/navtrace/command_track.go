package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/vincentbai/navtrace/internal/adapters"
	"github.com/vincentbai/navtrace/internal/database"
	"github.com/vincentbai/navtrace/internal/models"
	"github.com/vincentbai/navtrace/internal/normalize"
	"github.com/vincentbai/navtrace/internal/registry"
	"github.com/vincentbai/navtrace/internal/store"
	"github.com/vincentbai/navtrace/internal/tracker"
	"github.com/vincentbai/navtrace/internal/uploader"
	"github.com/vincentbai/navtrace/internal/webdriver"
)

// TrackCommand follows a remote WebDriver or Appium session by polling it.
type TrackCommand struct {
	stderr io.Writer
}

func NewTrackCommand(stderr io.Writer) *TrackCommand {
	return &TrackCommand{stderr: stderr}
}

func (c *TrackCommand) Run(args []string) error {
	var common commonFlags
	var remote, sessionID, frameworkName, specFile, testName, dbPath string
	var interval, duration time.Duration
	fs := newFlagSet("track", c.stderr)
	common.register(fs)
	fs.StringVar(&remote, "webdriver", "", "WebDriver/Appium server URL (required)")
	fs.StringVar(&sessionID, "session", "", "session id on the remote end (required)")
	fs.StringVar(&frameworkName, "framework", "webdriverio", "appium or webdriverio")
	fs.StringVar(&specFile, "spec", "", "spec file the session belongs to")
	fs.StringVar(&testName, "test", "", "test name")
	fs.DurationVar(&interval, "interval", 0, "poll interval (default from config, 300ms)")
	fs.DurationVar(&duration, "duration", 0, "stop after this long (default: until interrupted)")
	fs.StringVar(&dbPath, "db", "", "also index the session in this sqlite database")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if remote == "" || sessionID == "" {
		return errors.New("--webdriver and --session are required")
	}
	framework, ok := models.ParseFramework(frameworkName)
	if !ok {
		return fmt.Errorf("unknown framework %q", frameworkName)
	}

	cfg, logger, err := common.load(c.stderr)
	if err != nil {
		return err
	}
	if interval <= 0 {
		interval = cfg.PollInterval
	}

	client := webdriver.NewClient(remote, sessionID, nil)
	var adapter adapters.Adapter
	var norm normalize.Normalizer
	switch framework {
	case models.FrameworkAppium:
		adapter = adapters.NewAppium(client, normalize.DefaultScreenResolver(), logger)
		norm = normalize.ScreenNormalizer{}
	case models.FrameworkWebDriverIO:
		adapter = adapters.NewWebDriverIO(client, logger)
		urls, err := normalize.NewURLNormalizer(cfg.InternalHostPattern)
		if err != nil {
			return err
		}
		norm = urls
	default:
		return fmt.Errorf("%s sessions are tracked in-process; use `navtrace serve` and the hook script", framework)
	}

	if dbPath == "" {
		dbPath = cfg.DatabasePath
	}
	var db *database.Database
	if dbPath != "" {
		db, err = openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	reg := registry.New(logger)
	defer reg.FlushAll("exit")
	defer reg.Recover()

	opts := tracker.Options{
		Adapter:       adapter,
		SpecFile:      specFile,
		TestName:      testName,
		Normalizer:    norm,
		Persister:     store.NewPersister(cfg.StorePath(framework.TrackingType().DefaultFileName()), logger),
		Registry:      reg,
		Logger:        logger,
		PollInterval:  interval,
		AutoUpload:    cfg.AutoUpload,
		UploadOptions: uploader.Options{BuildID: cfg.BuildID},
	}
	if db != nil {
		opts.Mirror = db
	}
	if cfg.AutoUpload {
		opts.Uploader = newUploader(cfg, logger)
	}
	t := tracker.New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if duration > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, duration)
		defer cancelTimeout()
	}
	// SIGINT and SIGTERM flush the session and exit from the handler.
	stopSignals := reg.HandleSignals(ctx)
	defer stopSignals()

	logger.Info("tracking session",
		slog.String("session_id", t.SessionID()),
		slog.String("framework", string(framework)),
		slog.Duration("interval", interval))
	t.Start(ctx)
	t.Run(ctx, interval)

	finalCtx, cancelFinal := context.WithTimeout(context.Background(), cfg.APITimeout)
	defer cancelFinal()
	t.Cleanup(finalCtx)
	return nil
}
