package adapters

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vincentbai/navtrace/internal/logging"
	"github.com/vincentbai/navtrace/internal/models"
	"github.com/vincentbai/navtrace/internal/normalize"
	"github.com/vincentbai/navtrace/internal/webdriver"
)

// Appium follows a mobile session by resolving page sources to screen names.
type Appium struct {
	client  *webdriver.Client
	screens *normalize.ScreenResolver
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	sink Sink
}

func NewAppium(client *webdriver.Client, screens *normalize.ScreenResolver, logger *slog.Logger) *Appium {
	if screens == nil {
		screens = normalize.DefaultScreenResolver()
	}
	return &Appium{
		client:  client,
		screens: screens,
		logger:  logging.Component(logger, "appium"),
		now:     time.Now,
		sink:    discardSink{},
	}
}

func (a *Appium) Framework() models.Framework { return models.FrameworkAppium }

func (a *Appium) ResolveSessionID() string {
	if a.client != nil && a.client.SessionID() != "" {
		return a.client.SessionID()
	}
	return FallbackSessionID(a.now())
}

func (a *Appium) CurrentLocation(ctx context.Context) (string, error) {
	source, err := a.client.PageSource(ctx)
	if err != nil {
		return "", err
	}
	return a.screens.FromPageSource(source), nil
}

func (a *Appium) Attach(sink Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = sink
}

// OnElementTapped records the screen owning a tapped element. Elements not in
// the table are ignored.
func (a *Appium) OnElementTapped(elementID string) bool {
	screen, ok := a.screens.FromElement(elementID)
	if !ok {
		a.logger.Debug("tapped element has no known screen", slog.String("element", elementID))
		return false
	}
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	return sink.Record(screen, string(models.NavUserInteraction))
}

// Platform reports the session's platformName and automationName.
func (a *Appium) Platform(ctx context.Context) (platform, automation string, err error) {
	caps, err := a.client.Capabilities(ctx)
	if err != nil {
		return "", "", err
	}
	return capability(caps, "platformName"), capability(caps, "automationName"), nil
}

func capability(caps map[string]any, name string) string {
	for _, key := range []string{name, "appium:" + name} {
		if s, ok := caps[key].(string); ok && s != "" {
			return s
		}
	}
	return models.Unknown
}
