package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/pflag"

	"github.com/vincentbai/navtrace/internal/config"
	"github.com/vincentbai/navtrace/internal/database"
	"github.com/vincentbai/navtrace/internal/logging"
	"github.com/vincentbai/navtrace/internal/uploader"
)

type commandRunner interface {
	Run(args []string) error
}

func buildCommands(stdout, stderr io.Writer) map[string]commandRunner {
	return map[string]commandRunner{
		"serve":  NewServeCommand(stderr),
		"track":  NewTrackCommand(stderr),
		"report": NewReportCommand(stdout, stderr),
		"upload": NewUploadCommand(stdout, stderr),
	}
}

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath string
	debug      bool
}

func (c *commonFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&c.configPath, "config", "c", config.DefaultFileName, "path to the TOML config file")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging")
}

func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// load reads the configuration and builds the root logger.
func (c *commonFlags) load(stderr io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, err
	}
	if c.debug {
		cfg.Debug = true
	}
	logger := logging.New(logging.Options{Debug: cfg.Debug, Verbose: cfg.Verbose, Output: stderr})
	return cfg, logger, nil
}

func newUploader(cfg *config.Config, logger *slog.Logger) *uploader.Uploader {
	if !cfg.HasCredentials() {
		logger.Warn("upload credentials missing, set LT_USERNAME and LT_ACCESS_KEY")
	}
	if cfg.APIVerbose {
		logger = logging.WithLevel(logger, slog.LevelDebug)
	}
	return uploader.New(uploader.Config{
		URL:           cfg.APIURL,
		Username:      cfg.Username,
		AccessKey:     cfg.AccessKey,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
		Timeout:       cfg.APITimeout,
		Logger:        logger,
	})
}

// openDatabase opens the session index. An empty path selects the
// platform application directory.
func openDatabase(path string) (*database.Database, error) {
	if path == "" {
		dir, err := applicationDirectory()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "navtrace.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return database.NewDatabase(path)
}

func applicationDirectory() (string, error) {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDirectory, "Library", "Application Support", "navtrace"), nil
	case "windows":
		return filepath.Join(homeDirectory, "AppData", "Roaming", "navtrace"), nil
	default: // linux and others
		return filepath.Join(homeDirectory, ".local", "share", "navtrace"), nil
	}
}
