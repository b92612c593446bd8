package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/vincentbai/navtrace/internal/models"
	"github.com/vincentbai/navtrace/internal/report"
)

type ReportCommand struct {
	stdout io.Writer
	stderr io.Writer
	// open is swapped in tests.
	open func(path string) error
}

func NewReportCommand(stdout, stderr io.Writer) *ReportCommand {
	return &ReportCommand{stdout: stdout, stderr: stderr, open: report.Open}
}

func (c *ReportCommand) Run(args []string) error {
	var common commonFlags
	var open, watch bool
	var themeName, outputDir, title, dbPath string
	fs := newFlagSet("report", c.stderr)
	common.register(fs)
	fs.BoolVar(&open, "open", false, "open the report in the browser")
	fs.BoolVar(&watch, "watch", false, "regenerate when the input changes")
	fs.StringVar(&themeName, "theme", "light", "light or dark")
	fs.StringVarP(&outputDir, "output", "o", "", "output directory (default <output dir>/report)")
	fs.StringVar(&title, "title", report.DefaultTitle, "report title")
	fs.StringVar(&dbPath, "db", "", "read sessions from a navtrace database instead of JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	theme, err := report.ParseTheme(themeName)
	if err != nil {
		return err
	}

	cfg, logger, err := common.load(c.stderr)
	if err != nil {
		return err
	}
	if outputDir == "" {
		outputDir = filepath.Join(cfg.OutputDir, "report")
	}

	inputs := fs.Args()
	if dbPath == "" && len(inputs) == 0 {
		inputs = report.DiscoverInputs(cfg.OutputDir)
		if len(inputs) == 0 {
			return fmt.Errorf("no tracking results found in %s", cfg.OutputDir)
		}
	}
	if dbPath != "" && watch {
		return errors.New("--watch needs JSON inputs")
	}

	gen, err := report.NewGenerator()
	if err != nil {
		return err
	}
	opts := report.Options{Title: title, Theme: theme}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	generate := func() (string, error) {
		var sessions []models.Session
		var err error
		if dbPath != "" {
			sessions, err = report.LoadDatabase(dbPath)
		} else {
			sessions, err = report.Load(ctx, inputs...)
		}
		if err != nil {
			return "", err
		}
		data := report.Build(sessions, opts)
		path, err := gen.Write(outputDir, data)
		if err != nil {
			return "", err
		}
		if err := report.WriteSummary(c.stdout, data); err != nil {
			return "", err
		}
		fmt.Fprintf(c.stdout, "Report written to %s\n", path)
		return path, nil
	}

	path, err := generate()
	if err != nil {
		return err
	}
	if open {
		if err := c.open(path); err != nil {
			logger.Warn("could not open report", slog.Any("error", err))
		}
	}
	if !watch {
		return nil
	}

	logger.Info("watching for changes", slog.Any("inputs", inputs))
	return report.Watch(ctx, inputs, func() error {
		_, err := generate()
		return err
	}, logger)
}
