package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vincentbai/navtrace/internal/models"
	"github.com/vincentbai/navtrace/internal/report"
	"github.com/vincentbai/navtrace/internal/uploader"
)

// setupTestEnv isolates a command from the developer's config and
// credentials and returns a config path that does not exist.
func setupTestEnv(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	for _, key := range []string{"LT_USERNAME", "LT_ACCESS_KEY", "NAVTRACE_API_URL", "NAVTRACE_BUILD_ID", "NAVTRACE_OUTPUT_FILE", "NAVTRACE_AUTO_UPLOAD"} {
		t.Setenv(key, "")
	}
	t.Setenv("NAVTRACE_OUTPUT_DIR", dir)
	return dir, filepath.Join(dir, "missing.toml")
}

func writeStore(t *testing.T, path string, sessions ...models.Session) {
	t.Helper()
	data, err := json.Marshal(sessions)
	if err != nil {
		t.Fatalf("Failed to marshal sessions: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write store: %v", err)
	}
}

func testSession(id string) models.Session {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return models.Session{
		SessionID:    id,
		SpecFile:     "checkout.spec.ts",
		TestName:     "pays by card",
		Framework:    models.FrameworkWebDriverIO,
		TrackingType: models.TrackingURL,
		Navigations: []models.NavigationEvent{
			{
				PreviousLocation: "null",
				CurrentLocation:  "/cart",
				Timestamp:        ts,
				NavigationType:   models.NavGoto,
				SpecFile:         "checkout.spec.ts",
				TestName:         "pays by card",
			},
			{
				PreviousLocation: "/cart",
				CurrentLocation:  "/pay",
				Timestamp:        ts.Add(time.Second),
				NavigationType:   models.NavLinkClick,
				SpecFile:         "checkout.spec.ts",
				TestName:         "pays by card",
			},
		},
		NavigationCount: 2,
		Timestamp:       ts,
		SaveTimestamp:   ts.Add(2 * time.Second),
	}
}

func TestRunUsage(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{name: "no args", args: nil, wantCode: 2, wantStderr: "Usage:"},
		{name: "help", args: []string{"help"}, wantCode: 0, wantStdout: "Commands:"},
		{name: "help flag", args: []string{"--help"}, wantCode: 0, wantStdout: "Commands:"},
		{name: "unknown", args: []string{"frobnicate"}, wantCode: 2, wantStderr: "unknown command: frobnicate"},
		{name: "command help", args: []string{"report", "--help"}, wantCode: 0, wantStderr: "--theme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
			if code := run(tt.args, stdout, stderr); code != tt.wantCode {
				t.Fatalf("Expected exit code %d, got %d (stderr: %s)", tt.wantCode, code, stderr.String())
			}
			if tt.wantStdout != "" && !strings.Contains(stdout.String(), tt.wantStdout) {
				t.Errorf("Expected stdout to contain %q, got %q", tt.wantStdout, stdout.String())
			}
			if tt.wantStderr != "" && !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Errorf("Expected stderr to contain %q, got %q", tt.wantStderr, stderr.String())
			}
		})
	}
}

func TestRunReportsCommandErrors(t *testing.T) {
	stderr := &bytes.Buffer{}
	if code := run([]string{"track"}, io.Discard, stderr); code != 1 {
		t.Fatalf("Expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "navtrace track:") {
		t.Errorf("Expected prefixed error, got %q", stderr.String())
	}
}

func TestTrackCommandValidation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing remote", args: []string{"--session", "abc"}, wantErr: "required"},
		{name: "missing session", args: []string{"--webdriver", "http://127.0.0.1:4444"}, wantErr: "required"},
		{name: "unknown framework", args: []string{"--webdriver", "http://x", "--session", "a", "--framework", "cypress"}, wantErr: "unknown framework"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewTrackCommand(io.Discard).Run(tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTrackCommandRejectsPlaywright(t *testing.T) {
	_, cfgPath := setupTestEnv(t)
	err := NewTrackCommand(io.Discard).Run([]string{
		"--config", cfgPath,
		"--webdriver", "http://127.0.0.1:4444",
		"--session", "abc",
		"--framework", "playwright",
	})
	if err == nil || !strings.Contains(err.Error(), "navtrace serve") {
		t.Fatalf("Expected playwright to be redirected to serve, got %v", err)
	}
}

func TestReportCommandWritesReport(t *testing.T) {
	dir, cfgPath := setupTestEnv(t)
	input := filepath.Join(dir, "url-tracking-results.json")
	writeStore(t, input, testSession("s1"), testSession("s2"))
	outDir := filepath.Join(dir, "out")

	stdout := &bytes.Buffer{}
	cmd := NewReportCommand(stdout, io.Discard)
	var opened string
	cmd.open = func(path string) error {
		opened = path
		return nil
	}
	err := cmd.Run([]string{"--config", cfgPath, "--output", outDir, "--theme", "dark", "--title", "Nightly", "--open", input})
	if err != nil {
		t.Fatalf("Expected report to succeed, got %v", err)
	}

	index := filepath.Join(outDir, report.IndexFile)
	html, err := os.ReadFile(index)
	if err != nil {
		t.Fatalf("Expected report file: %v", err)
	}
	if !strings.Contains(string(html), "Nightly") {
		t.Error("Expected title in report")
	}
	if !strings.Contains(string(html), "/pay") {
		t.Error("Expected navigations in report")
	}
	if opened != index {
		t.Errorf("Expected %s to be opened, got %q", index, opened)
	}
	if !strings.Contains(stdout.String(), "Report written to") {
		t.Errorf("Expected summary on stdout, got %q", stdout.String())
	}
}

func TestReportCommandDiscoversInputs(t *testing.T) {
	dir, cfgPath := setupTestEnv(t)
	writeStore(t, filepath.Join(dir, "url-tracking-results.json"), testSession("s1"))

	if err := NewReportCommand(io.Discard, io.Discard).Run([]string{"--config", cfgPath}); err != nil {
		t.Fatalf("Expected report to succeed, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "report", report.IndexFile)); err != nil {
		t.Errorf("Expected report in default output directory: %v", err)
	}
}

func TestReportCommandErrors(t *testing.T) {
	dir, cfgPath := setupTestEnv(t)
	corrupt := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no inputs", args: nil, wantErr: "no tracking results"},
		{name: "bad theme", args: []string{"--theme", "sepia"}, wantErr: "theme"},
		{name: "missing input", args: []string{filepath.Join(dir, "nope.json")}, wantErr: "nope.json"},
		{name: "corrupt input", args: []string{corrupt}, wantErr: "corrupt.json"},
		{name: "watch database", args: []string{"--db", filepath.Join(dir, "x.db"), "--watch"}, wantErr: "--watch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", cfgPath}, tt.args...)
			err := NewReportCommand(io.Discard, io.Discard).Run(args)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestUploadCommandMissingCredentials(t *testing.T) {
	dir, cfgPath := setupTestEnv(t)
	input := filepath.Join(dir, "url-tracking-results.json")
	writeStore(t, input, testSession("s1"))

	err := NewUploadCommand(io.Discard, io.Discard).Run([]string{"--config", cfgPath, input})
	if !errors.Is(err, uploader.ErrMissingCredentials) {
		t.Fatalf("Expected ErrMissingCredentials, got %v", err)
	}
}

func TestUploadCommandUploadsSessions(t *testing.T) {
	dir, cfgPath := setupTestEnv(t)

	var requests atomic.Int32
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var payload uploader.Payload
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
			mu.Lock()
			keys = append(keys, payload.KeyValue)
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	t.Setenv("LT_USERNAME", "user")
	t.Setenv("LT_ACCESS_KEY", "key")
	t.Setenv("NAVTRACE_API_URL", srv.URL)
	t.Setenv("NAVTRACE_RETRY_ATTEMPTS", "1")

	invalid := testSession("empty")
	invalid.Navigations = nil
	invalid.NavigationCount = 0
	writeStore(t, filepath.Join(dir, "url-tracking-results.json"), testSession("s1"), invalid, testSession("s2"))

	stdout := &bytes.Buffer{}
	if err := NewUploadCommand(stdout, io.Discard).Run([]string{"--config", cfgPath}); err != nil {
		t.Fatalf("Expected upload to succeed, got %v", err)
	}
	if got := requests.Load(); got != 2 {
		t.Fatalf("Expected 2 requests, got %d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(keys, ",") != "s1,s2" {
		t.Errorf("Expected sessions keyed by their ids, got %v", keys)
	}
	if !strings.Contains(stdout.String(), "Uploaded 2 sessions, skipped 1 invalid") {
		t.Errorf("Unexpected output: %q", stdout.String())
	}
}

func TestUploadCommandBuildID(t *testing.T) {
	dir, cfgPath := setupTestEnv(t)

	keys := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload uploader.Payload
		json.NewDecoder(r.Body).Decode(&payload)
		keys <- payload.KeyValue
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	t.Setenv("LT_USERNAME", "user")
	t.Setenv("LT_ACCESS_KEY", "key")
	t.Setenv("NAVTRACE_API_URL", srv.URL)
	input := filepath.Join(dir, "url-tracking-results.json")
	writeStore(t, input, testSession("s1"))

	if err := NewUploadCommand(io.Discard, io.Discard).Run([]string{"--config", cfgPath, "--build-id", "nightly-42", input}); err != nil {
		t.Fatalf("Expected upload to succeed, got %v", err)
	}
	if key := <-keys; key != "nightly-42" {
		t.Errorf("Expected build id as key, got %q", key)
	}
}

func TestUploadCommandAPIError(t *testing.T) {
	dir, cfgPath := setupTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	t.Setenv("LT_USERNAME", "user")
	t.Setenv("LT_ACCESS_KEY", "key")
	t.Setenv("NAVTRACE_API_URL", srv.URL)
	t.Setenv("NAVTRACE_RETRY_ATTEMPTS", "1")
	input := filepath.Join(dir, "url-tracking-results.json")
	writeStore(t, input, testSession("s1"))

	err := NewUploadCommand(io.Discard, io.Discard).Run([]string{"--config", cfgPath, input})
	var apiErr *uploader.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected APIError 400, got %v", err)
	}
}

func TestApplicationDirectory(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir, err := applicationDirectory()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if filepath.Base(dir) != "navtrace" {
		t.Errorf("Expected navtrace directory, got %s", dir)
	}
}
