package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vincentbai/navtrace/internal/models"
	"github.com/vincentbai/navtrace/internal/report"
	"github.com/vincentbai/navtrace/internal/store"
	"github.com/vincentbai/navtrace/internal/uploader"
)

// UploadCommand sends stored sessions to the ingestion API. Unlike tracking,
// upload failures fail the command.
type UploadCommand struct {
	stdout io.Writer
	stderr io.Writer
}

func NewUploadCommand(stdout, stderr io.Writer) *UploadCommand {
	return &UploadCommand{stdout: stdout, stderr: stderr}
}

func (c *UploadCommand) Run(args []string) error {
	var common commonFlags
	var sessionID, buildID string
	fs := newFlagSet("upload", c.stderr)
	common.register(fs)
	fs.StringVar(&sessionID, "session-id", "", "test id to key the upload on (default: each session's id)")
	fs.StringVar(&buildID, "build-id", "", "build id to key the upload on")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := common.load(c.stderr)
	if err != nil {
		return err
	}
	if buildID == "" {
		buildID = cfg.BuildID
	}

	inputs := fs.Args()
	if len(inputs) == 0 {
		inputs = report.DiscoverInputs(cfg.OutputDir)
		if len(inputs) == 0 {
			return fmt.Errorf("no tracking results found in %s", cfg.OutputDir)
		}
	}

	up := newUploader(cfg, logger)
	ctx := context.Background()
	uploaded, skipped := 0, 0
	var errs []error
	for _, path := range inputs {
		// A missing store reads as empty; an explicit input must exist.
		if _, err := os.Stat(path); err != nil {
			return err
		}
		sessions, err := store.ReadFile(path)
		if err != nil {
			return err
		}
		for i := range sessions {
			session := &sessions[i]
			opts := uploader.Options{SessionID: sessionID, BuildID: buildID}
			if opts.SessionID == "" && opts.BuildID == "" {
				opts.SessionID = session.SessionID
			}
			resp, err := up.Upload(ctx, session, opts)
			switch {
			case errors.Is(err, uploader.ErrMissingCredentials), errors.Is(err, uploader.ErrMissingEndpoint):
				return err
			case err != nil:
				logger.Error("upload failed", slog.String("session_id", session.SessionID), slog.Any("error", err))
				errs = append(errs, fmt.Errorf("%s: %w", sessionLabel(session), err))
			case resp == nil:
				skipped++
			default:
				uploaded++
			}
		}
	}

	fmt.Fprintf(c.stdout, "Uploaded %d sessions, skipped %d invalid\n", uploaded, skipped)
	return errors.Join(errs...)
}

func sessionLabel(s *models.Session) string {
	return s.SpecFile + " / " + s.TestName + " (" + s.SessionID + ")"
}
