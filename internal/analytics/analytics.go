// Package analytics summarizes the click event log. It only reads, so
// summaries never contend with redirects or the recorder's writes.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/jack/shortlink-resolver/internal/config"
	"github.com/jack/shortlink-resolver/internal/model"
	"github.com/jack/shortlink-resolver/internal/repository"
)

// MaxBuckets bounds the length of a time series.
const MaxBuckets = 10000

const (
	directReferrer = "direct"
	unknownKey     = "unknown"
)

var (
	ErrInvalidWindow  = errors.New("window start must be before its end")
	ErrWindowTooLarge = fmt.Errorf("window spans more than %d buckets", MaxBuckets)
)

type Aggregator struct {
	events        repository.EventStore
	topN          int
	defaultWindow time.Duration
	now           func() time.Time
}

func NewAggregator(events repository.EventStore, cfg *config.AnalyticsConfig) *Aggregator {
	topN := cfg.TopN
	if topN <= 0 {
		topN = 10
	}
	window := cfg.DefaultWindow
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &Aggregator{
		events:        events,
		topN:          topN,
		defaultWindow: window,
		now:           time.Now,
	}
}

// Window fills in missing bounds: To defaults to now and From to the
// default window before To.
func (a *Aggregator) Window(from, to time.Time) model.Window {
	if to.IsZero() {
		to = a.now()
	}
	if from.IsZero() {
		from = to.Add(-a.defaultWindow)
	}
	return model.Window{From: from.UTC(), To: to.UTC()}
}

// Summarize aggregates the clicks of code inside window. A code with no
// events, including one that never existed, yields an all-zero summary.
func (a *Aggregator) Summarize(ctx context.Context, code string, window model.Window, g model.Granularity) (*model.Summary, error) {
	if err := CheckWindow(window, g); err != nil {
		return nil, err
	}

	events, err := a.events.ListClickEvents(ctx, code, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("failed to load click events: %w", err)
	}

	return Aggregate(code, window, g, events, a.topN), nil
}

// CheckWindow rejects empty or inverted windows and windows that would
// produce more than MaxBuckets buckets.
func CheckWindow(window model.Window, g model.Granularity) error {
	if !window.From.Before(window.To) {
		return ErrInvalidWindow
	}
	n := 0
	for start := g.Truncate(window.From); start.Before(window.To); start = g.Next(start) {
		n++
		if n > MaxBuckets {
			return ErrWindowTooLarge
		}
	}
	return nil
}

// Aggregate builds a summary from events. Events outside window are
// ignored; the time series is zero-filled across the whole window.
func Aggregate(code string, window model.Window, g model.Granularity, events []model.ClickEvent, topN int) *model.Summary {
	summary := &model.Summary{
		Code:              code,
		Window:            window,
		Granularity:       g,
		ReferrerBreakdown: []model.Breakdown{},
		GeoBreakdown:      []model.Breakdown{},
		RegionBreakdown:   []model.Breakdown{},
		DeviceBreakdown:   []model.Breakdown{},
		BrowserBreakdown:  []model.Breakdown{},
		TimeSeries:        []model.Bucket{},
	}

	index := make(map[int64]int)
	for start := g.Truncate(window.From); start.Before(window.To); start = g.Next(start) {
		index[start.Unix()] = len(summary.TimeSeries)
		summary.TimeSeries = append(summary.TimeSeries, model.Bucket{Start: start})
	}
	bucketVisitors := make([]map[string]struct{}, len(summary.TimeSeries))

	visitors := make(map[string]struct{})
	referrers := make(map[string]int64)
	countries := make(map[string]int64)
	regions := make(map[string]int64)
	devices := make(map[string]int64)
	browsers := make(map[string]int64)

	for _, e := range events {
		if e.LinkCode != code || !window.Contains(e.Timestamp) {
			continue
		}

		summary.TotalClicks++
		if e.Bot {
			summary.BotClicks++
		}
		visitors[e.VisitorFingerprint] = struct{}{}

		referrers[ReferrerHost(e.Referrer)]++
		countries[orUnknown(e.Country)]++
		regions[regionKey(e.Country, e.Region)]++
		devices[orUnknown(e.Device)]++
		browsers[orUnknown(e.Browser)]++

		i, ok := index[g.Truncate(e.Timestamp).Unix()]
		if !ok {
			continue
		}
		summary.TimeSeries[i].Clicks++
		if bucketVisitors[i] == nil {
			bucketVisitors[i] = make(map[string]struct{})
		}
		bucketVisitors[i][e.VisitorFingerprint] = struct{}{}
	}

	summary.UniqueVisitors = int64(len(visitors))
	for i, v := range bucketVisitors {
		summary.TimeSeries[i].UniqueVisitors = int64(len(v))
	}

	summary.ReferrerBreakdown = top(referrers, topN)
	summary.GeoBreakdown = top(countries, topN)
	summary.RegionBreakdown = top(regions, topN)
	summary.DeviceBreakdown = top(devices, topN)
	summary.BrowserBreakdown = top(browsers, topN)

	return summary
}

// ReferrerHost reduces a referrer to its host, without a leading "www.".
// An empty referrer is reported as direct traffic.
func ReferrerHost(referrer string) string {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return directReferrer
	}

	u, err := url.Parse(referrer)
	if err != nil || u.Host == "" {
		return strings.ToLower(referrer)
	}

	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// regionKey is "country/region", e.g. "US/CA". A click without a country
// has no meaningful region and is counted as unknown.
func regionKey(country, region string) string {
	if country == "" {
		return unknownKey
	}
	return country + "/" + orUnknown(region)
}

func orUnknown(s string) string {
	if s == "" {
		return unknownKey
	}
	return s
}

func top(counts map[string]int64, n int) []model.Breakdown {
	out := make([]model.Breakdown, 0, len(counts))
	for k, c := range counts {
		out = append(out, model.Breakdown{Key: k, Clicks: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Clicks != out[j].Clicks {
			return out[i].Clicks > out[j].Clicks
		}
		return out[i].Key < out[j].Key
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
