package models

import "strings"

type NavigationType string

const (
	NavGoto               NavigationType = "goto"
	NavNavigation         NavigationType = "navigation"
	NavBack               NavigationType = "back"
	NavForward            NavigationType = "forward"
	NavRefresh            NavigationType = "refresh"
	NavSPARoute           NavigationType = "spa_route"
	NavSPAReplace         NavigationType = "spa_replace"
	NavHashChange         NavigationType = "hash_change"
	NavLinkClick          NavigationType = "link_click"
	NavFormSubmit         NavigationType = "form_submit"
	NavRedirect           NavigationType = "redirect"
	NavPopstate           NavigationType = "popstate"
	NavPageLoad           NavigationType = "page_load"
	NavDOMReady           NavigationType = "dom_ready"
	NavNetworkIdle        NavigationType = "network_idle"
	NavTimeout            NavigationType = "timeout"
	NavFinal              NavigationType = "final"
	NavManualRecord       NavigationType = "manual_record"
	NavFallback           NavigationType = "fallback"
	NavDummy              NavigationType = "dummy"
	NavCommand            NavigationType = "command"
	NavInitial            NavigationType = "initial"
	NavUserInteraction    NavigationType = "user_interaction"
	NavTestStart          NavigationType = "test_start"
	NavNavigationDetected NavigationType = "navigation_detected"
)

var navigationTypes = []NavigationType{
	NavGoto, NavNavigation, NavBack, NavForward, NavRefresh,
	NavSPARoute, NavSPAReplace, NavHashChange, NavLinkClick, NavFormSubmit,
	NavRedirect, NavPopstate, NavPageLoad, NavDOMReady, NavNetworkIdle,
	NavTimeout, NavFinal, NavManualRecord, NavFallback, NavDummy,
	NavCommand, NavInitial, NavUserInteraction, NavTestStart, NavNavigationDetected,
}

// rawNavigationTypes maps the event names emitted by drivers and in-page
// hooks onto the canonical vocabulary. Canonical labels are added in init.
var rawNavigationTypes = map[string]NavigationType{
	"pushstate":            NavSPARoute,
	"history.pushstate":    NavSPARoute,
	"replacestate":         NavSPAReplace,
	"history.replacestate": NavSPAReplace,
	"hashchange":           NavHashChange,
	"hash":                 NavHashChange,
	"popstate":             NavPopstate,
	"click":                NavLinkClick,
	"link":                 NavLinkClick,
	"anchor":               NavLinkClick,
	"submit":               NavFormSubmit,
	"form":                 NavFormSubmit,
	"reload":               NavRefresh,
	"navigate":             NavGoto,
	"url":                  NavGoto,
	"navigateto":           NavGoto,
	"load":                 NavPageLoad,
	"domcontentloaded":     NavDOMReady,
	"networkidle":          NavNetworkIdle,
	"framenavigated":       NavNavigation,
	"tap":                  NavUserInteraction,
	"touch":                NavUserInteraction,
	"interaction":          NavUserInteraction,
	"manual":               NavManualRecord,
	"start":                NavTestStart,
	"detected":             NavNavigationDetected,
}

func init() {
	for _, t := range navigationTypes {
		rawNavigationTypes[string(t)] = t
	}
}

// NavigationTypes returns the full vocabulary in declaration order.
func NavigationTypes() []NavigationType {
	return append([]NavigationType(nil), navigationTypes...)
}

// Classify maps a raw event source onto the canonical vocabulary. Unknown
// inputs classify as fallback.
func Classify(raw string) NavigationType {
	key := strings.ToLower(strings.TrimSpace(raw))
	if t, ok := rawNavigationTypes[key]; ok {
		return t
	}
	return NavFallback
}

func (t NavigationType) Valid() bool {
	for _, known := range navigationTypes {
		if t == known {
			return true
		}
	}
	return false
}
