package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jack/shortlink-resolver/internal/scheduler"
)

var pruneOlderThan time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete click events older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		retention := pruneOlderThan
		if retention == 0 {
			retention = cfg.Analytics.Retention
		}
		if retention <= 0 {
			return errors.New("no retention configured, pass --older-than or set ANALYTICS_RETENTION")
		}

		stores, err := openStores(false)
		if err != nil {
			return err
		}
		defer stores.Close()

		cutoff, err := scheduler.NewRetentionScheduler(stores.Events, retention, time.Hour, zapLogger).PruneNow(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to prune click events: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Deleted click events before %s\n", cutoff.Format(time.RFC3339))
		return nil
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "retention period, defaults to ANALYTICS_RETENTION")
}
