package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jack/shortlink-resolver/internal/config"
	"github.com/jack/shortlink-resolver/internal/model"
	"github.com/jack/shortlink-resolver/internal/repository/memory"
)

var day0 = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC) // a Monday

func click(id string, at time.Time, visitor, referrer, country string) model.ClickEvent {
	return model.ClickEvent{
		EventID:            id,
		LinkCode:           "abc",
		Timestamp:          at,
		VisitorFingerprint: visitor,
		Referrer:           referrer,
		Country:            country,
		Device:             "desktop",
		Browser:            "Firefox",
	}
}

func TestSummarizeEmptyWindow(t *testing.T) {
	agg := NewAggregator(memory.NewStore(), &config.AnalyticsConfig{TopN: 5})
	window := model.Window{From: day0, To: day0.AddDate(0, 0, 3)}

	s, err := agg.Summarize(context.Background(), "never-created", window, model.GranularityDay)
	require.NoError(t, err)

	assert.Zero(t, s.TotalClicks)
	assert.Zero(t, s.UniqueVisitors)
	assert.Empty(t, s.ReferrerBreakdown)
	assert.Empty(t, s.GeoBreakdown)
	assert.Empty(t, s.RegionBreakdown)
	require.Len(t, s.TimeSeries, 3)
	for _, b := range s.TimeSeries {
		assert.Zero(t, b.Clicks)
		assert.Zero(t, b.UniqueVisitors)
	}
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.InsertClickEvents(ctx, []model.ClickEvent{
		click("1", day0.Add(1*time.Hour), "v1", "https://www.google.com/search?q=x", "US"),
		click("2", day0.Add(2*time.Hour), "v1", "https://google.com/", "US"),
		click("3", day0.Add(26*time.Hour), "v2", "", "DE"),
		click("4", day0.Add(27*time.Hour), "v3", "https://t.co/abc", ""),
		click("5", day0.AddDate(0, 0, 10), "v4", "", "FR"),
		{EventID: "6", LinkCode: "other", Timestamp: day0.Add(time.Hour), VisitorFingerprint: "v9"},
	}))

	agg := NewAggregator(store, &config.AnalyticsConfig{TopN: 2})
	window := model.Window{From: day0, To: day0.AddDate(0, 0, 2)}

	s, err := agg.Summarize(ctx, "abc", window, model.GranularityDay)
	require.NoError(t, err)

	assert.Equal(t, int64(4), s.TotalClicks)
	assert.Equal(t, int64(3), s.UniqueVisitors)

	require.Len(t, s.TimeSeries, 2)
	assert.Equal(t, model.Bucket{Start: day0, Clicks: 2, UniqueVisitors: 1}, s.TimeSeries[0])
	assert.Equal(t, model.Bucket{Start: day0.AddDate(0, 0, 1), Clicks: 2, UniqueVisitors: 2}, s.TimeSeries[1])

	assert.Equal(t, []model.Breakdown{{Key: "google.com", Clicks: 2}, {Key: "direct", Clicks: 1}}, s.ReferrerBreakdown)
	assert.Equal(t, []model.Breakdown{{Key: "US", Clicks: 2}, {Key: "DE", Clicks: 1}}, s.GeoBreakdown)
	assert.Equal(t, []model.Breakdown{{Key: "desktop", Clicks: 4}}, s.DeviceBreakdown)
}

func TestAggregateRegionBreakdown(t *testing.T) {
	withRegion := func(id, country, region string) model.ClickEvent {
		e := click(id, day0.Add(time.Hour), "v"+id, "", country)
		e.Region = region
		return e
	}
	events := []model.ClickEvent{
		withRegion("1", "US", "CA"),
		withRegion("2", "US", "CA"),
		withRegion("3", "US", "NY"),
		withRegion("4", "DE", ""),
		withRegion("5", "", "BY"),
	}

	s := Aggregate("abc", model.Window{From: day0, To: day0.AddDate(0, 0, 1)}, model.GranularityDay, events, 10)

	assert.Equal(t, []model.Breakdown{{Key: "US", Clicks: 3}, {Key: "DE", Clicks: 1}, {Key: "unknown", Clicks: 1}}, s.GeoBreakdown)
	assert.Equal(t, []model.Breakdown{
		{Key: "US/CA", Clicks: 2},
		{Key: "DE/unknown", Clicks: 1},
		{Key: "US/NY", Clicks: 1},
		{Key: "unknown", Clicks: 1},
	}, s.RegionBreakdown)
}

func TestAggregateHourlyAndWeekly(t *testing.T) {
	events := []model.ClickEvent{
		click("1", day0.Add(90*time.Minute), "v1", "", "US"),
		click("2", day0.Add(100*time.Minute), "v2", "", "US"),
		click("3", day0.AddDate(0, 0, 8), "v1", "", "US"),
	}

	hourly := Aggregate("abc", model.Window{From: day0, To: day0.Add(4 * time.Hour)}, model.GranularityHour, events, 10)
	require.Len(t, hourly.TimeSeries, 4)
	assert.Equal(t, int64(2), hourly.TimeSeries[1].Clicks)
	assert.Equal(t, int64(2), hourly.TotalClicks)

	// Window starting mid-week still buckets on Mondays.
	from := day0.AddDate(0, 0, 2)
	weekly := Aggregate("abc", model.Window{From: from, To: day0.AddDate(0, 0, 14)}, model.GranularityWeek, events, 10)
	require.Len(t, weekly.TimeSeries, 2)
	assert.Equal(t, day0, weekly.TimeSeries[0].Start)
	assert.Equal(t, day0.AddDate(0, 0, 7), weekly.TimeSeries[1].Start)
	assert.Equal(t, int64(1), weekly.TimeSeries[1].Clicks)
	assert.Equal(t, int64(1), weekly.TotalClicks, "events before the window start are excluded")
}

func TestCheckWindow(t *testing.T) {
	assert.ErrorIs(t, CheckWindow(model.Window{From: day0, To: day0}, model.GranularityDay), ErrInvalidWindow)
	assert.ErrorIs(t, CheckWindow(model.Window{From: day0, To: day0.Add(-time.Hour)}, model.GranularityDay), ErrInvalidWindow)
	assert.ErrorIs(t, CheckWindow(model.Window{From: day0, To: day0.AddDate(2, 0, 0)}, model.GranularityHour), ErrWindowTooLarge)
	assert.NoError(t, CheckWindow(model.Window{From: day0, To: day0.AddDate(2, 0, 0)}, model.GranularityDay))
}

func TestWindowDefaults(t *testing.T) {
	agg := NewAggregator(memory.NewStore(), &config.AnalyticsConfig{DefaultWindow: 7 * 24 * time.Hour})
	agg.now = func() time.Time { return day0 }

	w := agg.Window(time.Time{}, time.Time{})
	assert.Equal(t, day0, w.To)
	assert.Equal(t, day0.AddDate(0, 0, -7), w.From)
}

func TestReferrerHost(t *testing.T) {
	tests := map[string]string{
		"":                               "direct",
		"   ":                            "direct",
		"https://www.Example.com/a?b=c":  "example.com",
		"http://news.ycombinator.com:80": "news.ycombinator.com",
		"android-app://com.slack":        "com.slack",
		"not a url":                      "not a url",
	}
	for in, want := range tests {
		assert.Equal(t, want, ReferrerHost(in), in)
	}
}
