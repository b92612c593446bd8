// Package uploader sends finished sessions to the remote ingestion API.
//
// Unlike local persistence, upload failures are returned to the caller: the
// caller opted into the upload and needs to know that it did not happen.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vincentbai/navtrace/internal/logging"
	"github.com/vincentbai/navtrace/internal/models"
)

var (
	ErrMissingCredentials = errors.New("upload requires username and access key")
	ErrMissingEndpoint    = errors.New("upload requires an API URL")
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Body)
}

// Config holds the endpoint, credentials and retry policy shared by every
// upload.
type Config struct {
	URL           string
	Username      string
	AccessKey     string
	RetryAttempts int
	RetryDelay    time.Duration
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Options carry per-upload identifiers used to resolve the test id.
type Options struct {
	SessionID string
	BuildID   string
	Metadata  map[string]any
}

// Payload is the request body.
type Payload struct {
	KeyName  string              `json:"keyName"`
	KeyValue string              `json:"keyValue"`
	Data     PayloadData         `json:"data"`
	Type     models.TrackingType `json:"type"`
}

// PayloadData wraps the encoded navigations.
type PayloadData struct {
	Navigations []models.WireEvent `json:"navigations"`
}

// Response is the decoded success body.
type Response struct {
	StatusCode int
	Attempts   int
	Body       map[string]any
}

// Uploader posts sessions to the ingestion API.
type Uploader struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
	// notify observes every scheduled retry.
	notify func(err error, wait time.Duration)
}

func New(cfg Config) *Uploader {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Uploader{
		cfg:    cfg,
		client: client,
		logger: logging.Component(cfg.Logger, "uploader"),
		now:    time.Now,
	}
}

// Validate reports whether the session can be uploaded: it needs at least one
// navigation and every navigation needs its location pair, a timestamp, a
// known navigation type and provenance.
func Validate(session *models.Session) bool {
	_, ok := validate(session)
	return ok
}

func validate(session *models.Session) (string, bool) {
	if session == nil {
		return "session is nil", false
	}
	if len(session.Navigations) == 0 {
		return "no navigations", false
	}
	tt := session.ResolvedTrackingType()
	prevField, curField := "previous_url", "current_url"
	if tt == models.TrackingMobile {
		prevField, curField = "previous_screen", "current_screen"
	}
	for i, e := range session.Navigations {
		switch {
		case e.PreviousLocation == "":
			return fmt.Sprintf("navigation %d missing %s", i, prevField), false
		case e.CurrentLocation == "" || e.CurrentLocation == models.NullLocation:
			return fmt.Sprintf("navigation %d missing %s", i, curField), false
		case e.Timestamp.IsZero():
			return fmt.Sprintf("navigation %d missing timestamp", i), false
		case !e.NavigationType.Valid():
			return fmt.Sprintf("navigation %d has invalid navigation_type %q", i, e.NavigationType), false
		case e.SpecFile == "" || e.TestName == "":
			return fmt.Sprintf("navigation %d missing spec_file/test_name", i), false
		}
	}
	return "", true
}

// ResolveTestID picks the id the API keys the upload on: explicit session id,
// then build id, then a test id nested anywhere in the metadata, then
// "<testName>_<epochMillis>".
func (u *Uploader) ResolveTestID(session *models.Session, opts Options) string {
	if opts.SessionID != "" {
		return opts.SessionID
	}
	if opts.BuildID != "" {
		return opts.BuildID
	}
	if id, ok := findTestID(opts.Metadata); ok {
		return id
	}
	name := models.Unknown
	if session != nil && session.TestName != "" {
		name = session.TestName
	}
	return fmt.Sprintf("%s_%d", name, u.now().UnixMilli())
}

func findTestID(v any) (string, bool) {
	switch m := v.(type) {
	case map[string]any:
		for _, key := range []string{"test_id", "testId", "testID"} {
			if s, ok := m[key].(string); ok && s != "" {
				return s, true
			}
		}
		for _, child := range m {
			if id, ok := findTestID(child); ok {
				return id, true
			}
		}
	case []any:
		for _, child := range m {
			if id, ok := findTestID(child); ok {
				return id, true
			}
		}
	}
	return "", false
}

// Upload validates and posts the session. A session failing validation is
// skipped with a warning and (nil, nil) is returned.
func (u *Uploader) Upload(ctx context.Context, session *models.Session, opts Options) (*Response, error) {
	if u.cfg.Username == "" || u.cfg.AccessKey == "" {
		return nil, ErrMissingCredentials
	}
	if u.cfg.URL == "" {
		return nil, ErrMissingEndpoint
	}
	if reason, ok := validate(session); !ok {
		u.logger.Warn("session failed validation, upload skipped", slog.String("reason", reason))
		return nil, nil
	}

	tt := session.ResolvedTrackingType()
	payload := Payload{
		KeyName:  "test_id",
		KeyValue: u.ResolveTestID(session, opts),
		Data:     PayloadData{Navigations: tt.Encode(session.Navigations)},
		Type:     tt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = u.cfg.RetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(u.cfg.RetryAttempts-1)), ctx)

	var resp *Response
	attempts := 0
	operation := func() error {
		attempts++
		u.logger.Debug("uploading navigations",
			slog.String("test_id", payload.KeyValue),
			slog.Int("attempt", attempts),
			slog.Int("navigations", len(payload.Data.Navigations)))
		r, err := u.post(ctx, body)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		u.logger.Warn("upload attempt failed, retrying",
			slog.Int("attempt", attempts),
			slog.Duration("wait", wait),
			slog.Any("error", err))
		if u.notify != nil {
			u.notify(err, wait)
		}
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		u.logger.Error("upload failed", slog.Int("attempts", attempts), slog.Any("error", err))
		return nil, err
	}
	resp.Attempts = attempts
	u.logger.Info("navigations uploaded", slog.String("test_id", payload.KeyValue), slog.Int("attempts", attempts))
	return resp, nil
}

func (u *Uploader) post(ctx context.Context, body []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(u.cfg.Username, u.cfg.AccessKey)

	httpResp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &APIError{StatusCode: httpResp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	resp := &Response{StatusCode: httpResp.StatusCode}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &resp.Body); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp, nil
}
