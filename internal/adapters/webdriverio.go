package adapters

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vincentbai/navtrace/internal/logging"
	"github.com/vincentbai/navtrace/internal/models"
	"github.com/vincentbai/navtrace/internal/webdriver"
)

// commandTypes maps WebDriverIO commands that can move the browser to the
// navigation type they produce.
var commandTypes = map[string]models.NavigationType{
	"url":        models.NavGoto,
	"navigateto": models.NavGoto,
	"click":      models.NavLinkClick,
	"back":       models.NavBack,
	"forward":    models.NavForward,
	"refresh":    models.NavRefresh,
}

type WebDriverIO struct {
	client *webdriver.Client
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	sink Sink
}

func NewWebDriverIO(client *webdriver.Client, logger *slog.Logger) *WebDriverIO {
	return &WebDriverIO{
		client: client,
		logger: logging.Component(logger, "webdriverio"),
		now:    time.Now,
		sink:   discardSink{},
	}
}

func (w *WebDriverIO) Framework() models.Framework { return models.FrameworkWebDriverIO }

func (w *WebDriverIO) ResolveSessionID() string {
	if w.client != nil && w.client.SessionID() != "" {
		return w.client.SessionID()
	}
	return FallbackSessionID(w.now())
}

func (w *WebDriverIO) CurrentLocation(ctx context.Context) (string, error) {
	return w.client.CurrentURL(ctx)
}

func (w *WebDriverIO) Attach(sink Sink) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sink = sink
}

// OnCommand is called after a WebDriverIO command completes. Commands that
// can navigate trigger a URL query; the rest are ignored.
func (w *WebDriverIO) OnCommand(ctx context.Context, name string) bool {
	navType, ok := commandTypes[strings.ToLower(name)]
	if !ok {
		return false
	}
	location, err := w.client.CurrentURL(ctx)
	if err != nil {
		w.logger.Debug("url query after command failed", slog.String("command", name), slog.Any("error", err))
		return false
	}
	w.mu.Lock()
	sink := w.sink
	w.mu.Unlock()
	return sink.Record(location, string(navType))
}
