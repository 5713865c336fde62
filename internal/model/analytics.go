package model

import (
	"fmt"
	"time"
)

// Granularity is the width of a time-series bucket.
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
	GranularityWeek Granularity = "week"
)

// ParseGranularity accepts hour, day or week; empty means day.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case "":
		return GranularityDay, nil
	case GranularityHour, GranularityDay, GranularityWeek:
		return Granularity(s), nil
	default:
		return "", fmt.Errorf("unknown granularity %q", s)
	}
}

// Truncate returns the UTC start of the bucket containing t.
// Weeks start on Monday.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case GranularityHour:
		return t.Truncate(time.Hour)
	case GranularityWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// Next returns the start of the bucket following start.
func (g Granularity) Next(start time.Time) time.Time {
	switch g {
	case GranularityHour:
		return start.Add(time.Hour)
	case GranularityWeek:
		return start.AddDate(0, 0, 7)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Window is the half-open interval [From, To).
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// Bucket is one point of a time series.
type Bucket struct {
	Start          time.Time `json:"start"`
	Clicks         int64     `json:"clicks"`
	UniqueVisitors int64     `json:"unique_visitors"`
}

// Breakdown is a labelled count, e.g. clicks per referrer host.
type Breakdown struct {
	Key    string `json:"key"`
	Clicks int64  `json:"clicks"`
}

// Summary is the analytics view of a link over a window.
type Summary struct {
	Code              string      `json:"code"`
	Window            Window      `json:"window"`
	Granularity       Granularity `json:"granularity"`
	TotalClicks       int64       `json:"total_clicks"`
	UniqueVisitors    int64       `json:"unique_visitors"`
	BotClicks         int64       `json:"bot_clicks"`
	ReferrerBreakdown []Breakdown `json:"referrer_breakdown"`
	GeoBreakdown      []Breakdown `json:"geo_breakdown"`
	RegionBreakdown   []Breakdown `json:"region_breakdown"`
	DeviceBreakdown   []Breakdown `json:"device_breakdown"`
	BrowserBreakdown  []Breakdown `json:"browser_breakdown"`
	TimeSeries        []Bucket    `json:"time_series"`
}
