package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long: `Connects to the configured link and event stores and applies every
pending migration. In-memory drivers have no schema and are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stores, err := openStores(true)
		if err != nil {
			return err
		}
		defer stores.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "Schema up to date (links: %s, events: %s)\n",
			cfg.Storage.LinkDriver, cfg.Storage.EventDriver)
		return nil
	},
}
