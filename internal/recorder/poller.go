package recorder

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/vincentbai/navtrace/internal/logging"
)

// DefaultPollInterval is the minimum gap between two driver polls.
const DefaultPollInterval = 300 * time.Millisecond

// Poller drives a Recorder from a polling source such as an Appium page
// source. Polls arriving inside the minimum interval are dropped, not
// queued.
type Poller struct {
	recorder *Recorder
	source   LocationSource
	limiter  *rate.Limiter
	now      func() time.Time
	logger   *slog.Logger
}

func NewPoller(rec *Recorder, source LocationSource, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		recorder: rec,
		source:   source,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		now:      time.Now,
		logger:   logging.Component(logger, "poller"),
	}
}

// TrackNavigation polls the source once and records the result. It reports
// whether a new event was appended; throttled polls and driver errors both
// report false.
func (p *Poller) TrackNavigation(ctx context.Context, rawType string) bool {
	if !p.limiter.AllowN(p.now(), 1) {
		return false
	}
	return p.poll(ctx, rawType)
}

func (p *Poller) poll(ctx context.Context, rawType string) bool {
	location, err := p.source.CurrentLocation(ctx)
	if err != nil {
		p.logger.Debug("location query failed", slog.Any("error", err))
		return false
	}
	return p.recorder.Record(location, rawType)
}

// Run polls on every tick until ctx is done. The ticker already spaces the
// polls, so they bypass the throttle, which is meant for event-driven
// callers of TrackNavigation.
func (p *Poller) Run(ctx context.Context, interval time.Duration, rawType string) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, rawType)
		}
	}
}
