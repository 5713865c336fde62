package model

import "time"

// RequestContext describes who asked for a resolution and when.
type RequestContext struct {
	IP        string
	UserAgent string
	Referrer  string
	Time      time.Time
}

// Geo is a best-effort location for an IP address.
type Geo struct {
	Country string `json:"country,omitempty"` // ISO 3166-1 alpha-2
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// IsZero reports whether the location is unknown.
func (g Geo) IsZero() bool {
	return g.Country == "" && g.Region == "" && g.City == ""
}

// ClickEvent is one permitted resolution. Events are append-only and never
// reference the link table by foreign key.
type ClickEvent struct {
	EventID            string    `json:"event_id" db:"event_id"` // idempotency key
	LinkCode           string    `json:"link_code" db:"link_code"`
	Timestamp          time.Time `json:"timestamp" db:"occurred_at"`
	VisitorFingerprint string    `json:"visitor_fingerprint" db:"visitor_fingerprint"`
	Referrer           string    `json:"referrer,omitempty" db:"referrer"`
	UserAgent          string    `json:"user_agent,omitempty" db:"user_agent"`
	Country            string    `json:"country,omitempty" db:"country"`
	Region             string    `json:"region,omitempty" db:"region"`
	City               string    `json:"city,omitempty" db:"city"`
	Device             string    `json:"device,omitempty" db:"device"`
	Browser            string    `json:"browser,omitempty" db:"browser"`
	OS                 string    `json:"os,omitempty" db:"os"`
	Bot                bool      `json:"bot,omitempty" db:"bot"`
}

// Geo returns the event's location.
func (e *ClickEvent) Geo() Geo {
	return Geo{Country: e.Country, Region: e.Region, City: e.City}
}

// ClickListResponse is a page of raw click events.
type ClickListResponse struct {
	Code   string       `json:"code"`
	Clicks []ClickEvent `json:"clicks"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}
