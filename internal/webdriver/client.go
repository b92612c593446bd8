// Package webdriver is a minimal W3C WebDriver client covering the commands
// navtrace needs to follow a session: current URL, page source and session
// capabilities. Appium and WebDriverIO remotes both speak this protocol.
package webdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// Error is a protocol error returned in the response value.
type Error struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("webdriver: status %d", e.StatusCode)
	}
	return fmt.Sprintf("webdriver: %s: %s", e.Code, e.Message)
}

type Client struct {
	baseURL   string
	sessionID string
	http      *http.Client
}

// NewClient targets the remote end at baseURL (for example
// http://127.0.0.1:4723 or http://hub:4444/wd/hub) and an existing session.
func NewClient(baseURL, sessionID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		sessionID: sessionID,
		http:      httpClient,
	}
}

func (c *Client) SessionID() string { return c.sessionID }

// CurrentURL returns the browsing context's URL.
func (c *Client) CurrentURL(ctx context.Context) (string, error) {
	var value string
	if err := c.get(ctx, "url", &value); err != nil {
		return "", err
	}
	return value, nil
}

// PageSource returns the serialized DOM, or the UI hierarchy XML on Appium.
func (c *Client) PageSource(ctx context.Context) (string, error) {
	var value string
	if err := c.get(ctx, "source", &value); err != nil {
		return "", err
	}
	return value, nil
}

// Capabilities returns the capabilities the session was created with.
func (c *Client) Capabilities(ctx context.Context) (map[string]any, error) {
	var value map[string]any
	if err := c.get(ctx, "", &value); err != nil {
		return nil, err
	}
	return value, nil
}

func (c *Client) get(ctx context.Context, command string, value any) error {
	endpoint := c.baseURL + "/session/" + url.PathEscape(c.sessionID)
	if command != "" {
		endpoint += "/" + command
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode >= 400 {
			return &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 400 {
		protoErr := &Error{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(envelope.Value, protoErr)
		return protoErr
	}
	if err := json.Unmarshal(envelope.Value, value); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	return nil
}
