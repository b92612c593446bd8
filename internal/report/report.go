// Package report turns persisted sessions into an HTML report and a terminal
// summary.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vincentbai/navtrace/internal/models"
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

func ParseTheme(s string) (Theme, error) {
	switch Theme(strings.ToLower(strings.TrimSpace(s))) {
	case "", ThemeLight:
		return ThemeLight, nil
	case ThemeDark:
		return ThemeDark, nil
	}
	return "", fmt.Errorf("unknown theme %q (want light or dark)", s)
}

const DefaultTitle = "Navigation Tracking Report"

type Options struct {
	Title string
	Theme Theme
	// Now stamps the report; defaults to time.Now.
	Now func() time.Time
}

type TypeCount struct {
	Type  models.NavigationType
	Count int
}

type Summary struct {
	Sessions        int
	SpecFiles       int
	Navigations     int
	UniqueLocations int
	Types           []TypeCount
	Frameworks      map[string]int
	TrackingTypes   map[models.TrackingType]int
}

type SpecGroup struct {
	SpecFile    string
	Sessions    []models.Session
	Navigations int
}

// Data is everything the templates render.
type Data struct {
	Title       string
	Theme       Theme
	GeneratedAt time.Time
	Summary     Summary
	Specs       []SpecGroup
}

// Build groups sessions by spec file, keeping the order in which spec files
// and sessions first appear, and computes the summary counts.
func Build(sessions []models.Session, opts Options) Data {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}
	theme := opts.Theme
	if theme == "" {
		theme = ThemeLight
	}

	data := Data{
		Title:       title,
		Theme:       theme,
		GeneratedAt: now(),
		Summary: Summary{
			Frameworks:    make(map[string]int),
			TrackingTypes: make(map[models.TrackingType]int),
		},
	}

	groups := make(map[string]int)
	locations := make(map[string]bool)
	types := make(map[models.NavigationType]int)
	for _, s := range sessions {
		spec := s.SpecFile
		if spec == "" {
			spec = models.Unknown
		}
		i, ok := groups[spec]
		if !ok {
			i = len(data.Specs)
			groups[spec] = i
			data.Specs = append(data.Specs, SpecGroup{SpecFile: spec})
		}
		data.Specs[i].Sessions = append(data.Specs[i].Sessions, s)
		data.Specs[i].Navigations += len(s.Navigations)

		framework := string(s.Framework)
		if framework == "" {
			framework = models.Unknown
		}
		data.Summary.Frameworks[framework]++
		data.Summary.TrackingTypes[s.ResolvedTrackingType()]++
		data.Summary.Navigations += len(s.Navigations)
		for _, e := range s.Navigations {
			locations[e.CurrentLocation] = true
			types[e.NavigationType]++
		}
	}
	data.Summary.Sessions = len(sessions)
	data.Summary.SpecFiles = len(data.Specs)
	data.Summary.UniqueLocations = len(locations)

	for t, n := range types {
		data.Summary.Types = append(data.Summary.Types, TypeCount{Type: t, Count: n})
	}
	sort.Slice(data.Summary.Types, func(i, j int) bool {
		a, b := data.Summary.Types[i], data.Summary.Types[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Type < b.Type
	})
	return data
}
