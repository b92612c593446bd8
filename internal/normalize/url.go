// Package normalize canonicalizes driver locations before they reach the
// recorder: URLs for browser drivers, logical screen names for mobile ones.
package normalize

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/vincentbai/navtrace/internal/models"
)

// Normalizer maps a raw location to its canonical form, returning
// models.NullLocation for anything that is not a real location.
type Normalizer interface {
	Normalize(raw string) string
}

var emptyLocations = map[string]bool{
	"":            true,
	"null":        true,
	"undefined":   true,
	"about:blank": true,
}

type URLNormalizer struct {
	internalHosts *regexp.Regexp
}

// NewURLNormalizer compiles the internal test-host pattern. Hosts matching it
// are upgraded from http to https. An empty pattern disables the upgrade.
func NewURLNormalizer(internalHostPattern string) (*URLNormalizer, error) {
	n := &URLNormalizer{}
	if internalHostPattern == "" {
		return n, nil
	}
	re, err := regexp.Compile(internalHostPattern)
	if err != nil {
		return nil, err
	}
	n.internalHosts = re
	return n, nil
}

func (n *URLNormalizer) Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if emptyLocations[strings.ToLower(raw)] {
		return models.NullLocation
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Opaque != "" {
		return models.NullLocation
	}

	if u.Scheme == "http" && n.internalHosts != nil && n.internalHosts.MatchString(u.Hostname()) {
		u.Scheme = "https"
	}
	if u.Path == "" && u.Host != "" {
		u.Path = "/"
	}
	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = strings.TrimSuffix(u.RawPath, "/")
	}
	return u.String()
}

// ScreenNormalizer is the identity normalizer for already-resolved screen
// names.
type ScreenNormalizer struct{}

func (ScreenNormalizer) Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if emptyLocations[strings.ToLower(raw)] {
		return models.NullLocation
	}
	return raw
}
