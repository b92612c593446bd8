package adapters

import (
	"context"
	"time"

	"github.com/vincentbai/navtrace/internal/models"
)

// Page is the part of a Playwright page the tracker needs. Bindings to an
// actual Playwright client implement it.
type Page interface {
	URL() string
	// ContextID identifies the browser context the page belongs to.
	ContextID() string
	OnFrameNavigated(func(url string, isMainFrame bool))
}

type Playwright struct {
	page Page
	now  func() time.Time
}

func NewPlaywright(page Page) *Playwright {
	return &Playwright{page: page, now: time.Now}
}

func (p *Playwright) Framework() models.Framework { return models.FrameworkPlaywright }

func (p *Playwright) ResolveSessionID() string {
	if id := p.page.ContextID(); id != "" {
		return id
	}
	return FallbackSessionID(p.now())
}

func (p *Playwright) CurrentLocation(context.Context) (string, error) {
	return p.page.URL(), nil
}

// Attach subscribes to main-frame navigations. Subframe navigations are not
// page navigations and are dropped.
func (p *Playwright) Attach(sink Sink) {
	p.page.OnFrameNavigated(func(url string, isMainFrame bool) {
		if isMainFrame {
			sink.Record(url, "framenavigated")
		}
	})
}
