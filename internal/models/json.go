package models

import (
	"encoding/json"
	"time"
)

// WireEvent is the on-disk and on-the-wire shape of a NavigationEvent. URL
// sessions use the *_url fields, mobile sessions the *_screen fields; the
// *_location pair is accepted on input only.
type WireEvent struct {
	SpecFile         string         `json:"spec_file"`
	TestName         string         `json:"test_name"`
	PreviousURL      *string        `json:"previous_url,omitempty"`
	CurrentURL       *string        `json:"current_url,omitempty"`
	PreviousScreen   *string        `json:"previous_screen,omitempty"`
	CurrentScreen    *string        `json:"current_screen,omitempty"`
	PreviousLocation *string        `json:"previous_location,omitempty"`
	CurrentLocation  *string        `json:"current_location,omitempty"`
	Timestamp        string         `json:"timestamp"`
	NavigationType   NavigationType `json:"navigation_type"`
}

// Encode converts events to the field naming of the tracking type.
func (t TrackingType) Encode(events []NavigationEvent) []WireEvent {
	out := make([]WireEvent, 0, len(events))
	for _, e := range events {
		prev, cur := e.PreviousLocation, e.CurrentLocation
		w := WireEvent{
			SpecFile:       e.SpecFile,
			TestName:       e.TestName,
			Timestamp:      FormatTimestamp(e.Timestamp),
			NavigationType: e.NavigationType,
		}
		if t == TrackingMobile {
			w.PreviousScreen, w.CurrentScreen = &prev, &cur
		} else {
			w.PreviousURL, w.CurrentURL = &prev, &cur
		}
		out = append(out, w)
	}
	return out
}

func firstSet(values ...*string) string {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return ""
}

func (w WireEvent) Event() NavigationEvent {
	e := NavigationEvent{
		PreviousLocation: firstSet(w.PreviousURL, w.PreviousScreen, w.PreviousLocation),
		CurrentLocation:  firstSet(w.CurrentURL, w.CurrentScreen, w.CurrentLocation),
		NavigationType:   w.NavigationType,
		SpecFile:         w.SpecFile,
		TestName:         w.TestName,
	}
	if ts, err := ParseTimestamp(w.Timestamp); err == nil {
		e.Timestamp = ts
	}
	return e
}

func (e NavigationEvent) MarshalJSON() ([]byte, error) {
	prev, cur := e.PreviousLocation, e.CurrentLocation
	return json.Marshal(WireEvent{
		SpecFile:         e.SpecFile,
		TestName:         e.TestName,
		PreviousLocation: &prev,
		CurrentLocation:  &cur,
		Timestamp:        FormatTimestamp(e.Timestamp),
		NavigationType:   e.NavigationType,
	})
}

func (e *NavigationEvent) UnmarshalJSON(data []byte) error {
	var w WireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = w.Event()
	return nil
}

type sessionWire struct {
	SpecFile        string       `json:"spec_file"`
	TestName        string       `json:"test_name"`
	SessionID       string       `json:"session_id"`
	Framework       Framework    `json:"framework,omitempty"`
	TrackingType    TrackingType `json:"tracking_type,omitempty"`
	Timestamp       string       `json:"timestamp"`
	SaveTimestamp   string       `json:"save_timestamp,omitempty"`
	NavigationCount int          `json:"navigation_count"`
	Navigations     []WireEvent  `json:"navigations"`
}

func (s Session) MarshalJSON() ([]byte, error) {
	tt := s.ResolvedTrackingType()
	return json.Marshal(sessionWire{
		SpecFile:        s.SpecFile,
		TestName:        s.TestName,
		SessionID:       s.SessionID,
		Framework:       s.Framework,
		TrackingType:    tt,
		Timestamp:       FormatTimestamp(s.Timestamp),
		SaveTimestamp:   FormatTimestamp(s.SaveTimestamp),
		NavigationCount: s.NavigationCount,
		Navigations:     tt.Encode(s.Navigations),
	})
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var w sessionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	navs := make([]NavigationEvent, 0, len(w.Navigations))
	tt := w.TrackingType
	for _, we := range w.Navigations {
		if tt == "" && we.PreviousScreen != nil {
			tt = TrackingMobile
		}
		navs = append(navs, we.Event())
	}
	*s = Session{
		SessionID:       w.SessionID,
		SpecFile:        w.SpecFile,
		TestName:        w.TestName,
		Framework:       w.Framework,
		TrackingType:    tt,
		Navigations:     navs,
		NavigationCount: w.NavigationCount,
	}
	s.Timestamp, _ = parseOptional(w.Timestamp)
	s.SaveTimestamp, _ = parseOptional(w.SaveTimestamp)
	return nil
}

func parseOptional(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return ParseTimestamp(s)
}
