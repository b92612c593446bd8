package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/vincentbai/navtrace/internal/database"
	"github.com/vincentbai/navtrace/internal/normalize"
	"github.com/vincentbai/navtrace/internal/registry"
	"github.com/vincentbai/navtrace/internal/server"
)

type ServeCommand struct {
	stderr io.Writer
}

func NewServeCommand(stderr io.Writer) *ServeCommand {
	return &ServeCommand{stderr: stderr}
}

func (c *ServeCommand) Run(args []string) error {
	var common commonFlags
	var address, dbPath, outputDir string
	var noDB bool
	fs := newFlagSet("serve", c.stderr)
	common.register(fs)
	fs.StringVar(&address, "address", "", "listen address (default from config, 127.0.0.1:8123)")
	fs.StringVar(&dbPath, "db", "", "session index database path")
	fs.BoolVar(&noDB, "no-db", false, "do not index sessions in sqlite")
	fs.StringVar(&outputDir, "output-dir", "", "directory for the JSON stores")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := common.load(c.stderr)
	if err != nil {
		return err
	}
	if address != "" {
		cfg.ServerAddress = address
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if dbPath == "" {
		dbPath = cfg.DatabasePath
	}

	norm, err := normalize.NewURLNormalizer(cfg.InternalHostPattern)
	if err != nil {
		return err
	}

	var db *database.Database
	if !noDB {
		db, err = openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Debug("session index opened", slog.String("path", dbPath))
	}

	reg := registry.New(logger)
	defer reg.FlushAll("exit")
	defer reg.Recover()

	opts := server.Options{
		StorePath:  cfg.StorePath,
		Normalizer: norm,
		Registry:   reg,
		AutoUpload: cfg.AutoUpload,
		BuildID:    cfg.BuildID,
		Logger:     logger,
	}
	if cfg.AutoUpload {
		opts.Uploader = newUploader(cfg, logger)
	}
	return server.NewServer(db, cfg.ServerAddress, opts).Start(context.Background())
}
