package models

import (
	"strings"
	"time"
)

// NullLocation is the canonical stand-in for "no location" (blank page,
// undefined URL, first event of a session).
const NullLocation = "null"

// Unknown marks provenance that has not been resolved yet.
const Unknown = "unknown"

// TimestampLayout is ISO-8601 with millisecond precision, matching what
// browsers produce with Date.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

type TrackingType string

const (
	TrackingURL    TrackingType = "url-tracker"
	TrackingMobile TrackingType = "mobile-navigation-tracker"
)

// DefaultFileName is the store file each tracking type writes to when no
// explicit path is configured.
func (t TrackingType) DefaultFileName() string {
	if t == TrackingMobile {
		return "navigation-tracking.json"
	}
	return "url-tracking-results.json"
}

type Framework string

const (
	FrameworkAppium      Framework = "appium"
	FrameworkPlaywright  Framework = "playwright"
	FrameworkWebDriverIO Framework = "webdriverio"
)

// TrackingType reports which schema variant the framework records.
func (f Framework) TrackingType() TrackingType {
	if f == FrameworkAppium {
		return TrackingMobile
	}
	return TrackingURL
}

func ParseFramework(s string) (Framework, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "appium":
		return FrameworkAppium, true
	case "playwright":
		return FrameworkPlaywright, true
	case "webdriverio", "wdio":
		return FrameworkWebDriverIO, true
	}
	return "", false
}

type NavigationEvent struct {
	PreviousLocation string
	CurrentLocation  string
	Timestamp        time.Time
	NavigationType   NavigationType
	SpecFile         string
	TestName         string
}

type Session struct {
	SessionID       string
	SpecFile        string
	TestName        string
	Framework       Framework
	TrackingType    TrackingType
	Navigations     []NavigationEvent
	NavigationCount int
	Timestamp       time.Time
	SaveTimestamp   time.Time
}

// SessionKey identifies a session slot in the persisted store.
type SessionKey struct {
	SpecFile  string
	TestName  string
	SessionID string
}

func (s *Session) Key() SessionKey {
	return SessionKey{SpecFile: s.SpecFile, TestName: s.TestName, SessionID: s.SessionID}
}

// Clone returns a deep copy so that callers can persist a snapshot while the
// recorder keeps appending.
func (s *Session) Clone() Session {
	c := *s
	c.Navigations = append([]NavigationEvent(nil), s.Navigations...)
	return c
}

// ResolvedTrackingType falls back to the framework's variant, then to URL
// tracking, for records written without an explicit tag.
func (s *Session) ResolvedTrackingType() TrackingType {
	if s.TrackingType != "" {
		return s.TrackingType
	}
	if s.Framework != "" {
		return s.Framework.TrackingType()
	}
	return TrackingURL
}

func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
