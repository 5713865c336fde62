package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jack/shortlink-resolver/internal/analytics"
	"github.com/jack/shortlink-resolver/internal/model"
)

var statsFlags struct {
	code        string
	since       time.Duration
	granularity string
	json        bool
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show click analytics for a short link",
	Long: `Aggregates the click log of one code over a trailing window.

Example:
  shortlink stats --code=launch --since=168h --granularity=day`,
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := model.ParseGranularity(statsFlags.granularity)
		if err != nil {
			return err
		}

		stores, err := openStores(false)
		if err != nil {
			return err
		}
		defer stores.Close()

		aggregator := analytics.NewAggregator(stores.Events, &cfg.Analytics)
		var from time.Time
		if statsFlags.since > 0 {
			from = time.Now().Add(-statsFlags.since)
		}
		summary, err := aggregator.Summarize(cmd.Context(), statsFlags.code, aggregator.Window(from, time.Time{}), g)
		if err != nil {
			return fmt.Errorf("failed to summarize clicks: %w", err)
		}

		if statsFlags.json {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}
		printSummary(cmd.OutOrStdout(), summary)
		return nil
	},
}

func printSummary(w io.Writer, s *model.Summary) {
	fmt.Fprintf(w, "Code:            %s\n", s.Code)
	fmt.Fprintf(w, "Window:          %s .. %s\n", s.Window.From.Format(time.RFC3339), s.Window.To.Format(time.RFC3339))
	fmt.Fprintf(w, "Total clicks:    %d\n", s.TotalClicks)
	fmt.Fprintf(w, "Unique visitors: %d\n", s.UniqueVisitors)
	fmt.Fprintf(w, "Bot clicks:      %d\n", s.BotClicks)

	sections := []struct {
		title string
		rows  []model.Breakdown
	}{
		{"Referrers", s.ReferrerBreakdown},
		{"Countries", s.GeoBreakdown},
		{"Regions", s.RegionBreakdown},
		{"Devices", s.DeviceBreakdown},
		{"Browsers", s.BrowserBreakdown},
	}
	for _, sec := range sections {
		if len(sec.rows) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", sec.title)
		for _, row := range sec.rows {
			fmt.Fprintf(w, "  %-32s %d\n", row.Key, row.Clicks)
		}
	}
}

func init() {
	f := statsCmd.Flags()
	f.StringVarP(&statsFlags.code, "code", "c", "", "short code")
	f.DurationVar(&statsFlags.since, "since", 0, "trailing window, defaults to ANALYTICS_DEFAULT_WINDOW")
	f.StringVarP(&statsFlags.granularity, "granularity", "g", "day", "bucket size: hour, day or week")
	f.BoolVar(&statsFlags.json, "json", false, "print the full summary as JSON")
	_ = statsCmd.MarkFlagRequired("code")
}
