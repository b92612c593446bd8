package normalize

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ncruces/go-strftime"
)

// ScreenMatcher identifies a logical screen from a serialized UI tree.
// Selectors are CSS attribute selectors evaluated against the page source
// (resource-id, name, content-desc, text); Markers are plain substrings.
// Either kind matching is enough.
type ScreenMatcher struct {
	Screen    string
	Selectors []string
	Markers   []string
}

type ScreenResolver struct {
	elements map[string]string
	matchers []ScreenMatcher
	now      func() time.Time
}

// DefaultElementScreens maps element identifiers (without the Android
// package prefix) to the screen they belong to.
var DefaultElementScreens = map[string]string{
	"login":           "Login Screen",
	"login_button":    "Login Screen",
	"username":        "Login Screen",
	"password":        "Login Screen",
	"home":            "Home Screen",
	"home_tab":        "Home Screen",
	"search":          "Search Screen",
	"search_box":      "Search Screen",
	"cart":            "Cart Screen",
	"cart_tab":        "Cart Screen",
	"checkout":        "Checkout Screen",
	"checkout_button": "Checkout Screen",
	"profile":         "Profile Screen",
	"settings":        "Settings Screen",
	"webview":         "WebView Screen",
	"browser":         "WebView Screen",
}

// DefaultScreenMatchers is evaluated in order; the first match wins.
var DefaultScreenMatchers = []ScreenMatcher{
	{
		Screen:    "Login Screen",
		Selectors: []string{`[resource-id$=":id/login_button"]`, `[name="login_button"]`, `[content-desc="Login"]`},
		Markers:   []string{"Sign in", "Log in"},
	},
	{
		Screen:    "Checkout Screen",
		Selectors: []string{`[resource-id$=":id/checkout"]`, `[name="checkout"]`},
		Markers:   []string{"Place order"},
	},
	{
		Screen:    "Cart Screen",
		Selectors: []string{`[resource-id$=":id/cart_list"]`, `[name="cart_list"]`},
		Markers:   []string{"Your cart"},
	},
	{
		Screen:    "Search Screen",
		Selectors: []string{`[resource-id$=":id/search_box"]`, `[name="search_box"]`},
	},
	{
		Screen:    "Settings Screen",
		Selectors: []string{`[resource-id$=":id/settings"]`, `[name="settings"]`},
		Markers:   []string{"Preferences"},
	},
	{
		Screen:  "WebView Screen",
		Markers: []string{"android.webkit.WebView", "XCUIElementTypeWebView"},
	},
	{
		Screen:    "Home Screen",
		Selectors: []string{`[resource-id$=":id/home"]`, `[name="home"]`},
		Markers:   []string{"Welcome"},
	},
}

func NewScreenResolver(elements map[string]string, matchers []ScreenMatcher) *ScreenResolver {
	return &ScreenResolver{elements: elements, matchers: matchers, now: time.Now}
}

func DefaultScreenResolver() *ScreenResolver {
	return NewScreenResolver(DefaultElementScreens, DefaultScreenMatchers)
}

// FromElement resolves the screen an element belongs to. Android resource ids
// ("com.app:id/login") and accessibility ids ("~login") are both accepted.
func (r *ScreenResolver) FromElement(id string) (string, bool) {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "~")
	if i := strings.LastIndex(id, ":id/"); i >= 0 {
		id = id[i+len(":id/"):]
	}
	screen, ok := r.elements[strings.ToLower(id)]
	return screen, ok
}

// FromPageSource identifies the screen shown in a serialized UI tree, or
// returns a timestamp placeholder when no matcher recognises it.
func (r *ScreenResolver) FromPageSource(source string) string {
	if strings.TrimSpace(source) == "" {
		return r.Placeholder()
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	for _, m := range r.matchers {
		if err == nil {
			for _, sel := range m.Selectors {
				if doc.Find(sel).Length() > 0 {
					return m.Screen
				}
			}
		}
		for _, marker := range m.Markers {
			if strings.Contains(source, marker) {
				return m.Screen
			}
		}
	}
	return r.Placeholder()
}

func (r *ScreenResolver) Placeholder() string {
	return "Screen at " + strftime.Format("%H:%M:%S", r.now())
}
