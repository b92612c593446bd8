package models

// RawNavigation is a single change notification posted by an in-page hook.
type RawNavigation struct {
	TSUTC int64  `json:"ts_utc"` // epoch millis, 0 means "now"
	URL   string `json:"url"`
	Type  string `json:"type"` // pushstate|replacestate|hashchange|popstate|click|submit|load|...
}

// Batch is the body of POST /events.
type Batch struct {
	SessionID string          `json:"session_id"`
	SpecFile  string          `json:"spec_file,omitempty"`
	TestName  string          `json:"test_name,omitempty"`
	Framework Framework       `json:"framework,omitempty"`
	Events    []RawNavigation `json:"events"`
}
