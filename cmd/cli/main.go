package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jack/shortlink-resolver/internal/app"
	"github.com/jack/shortlink-resolver/internal/config"
	"github.com/jack/shortlink-resolver/internal/logger"
)

var (
	cfg       *config.Config
	zapLogger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "shortlink",
	Short:         "Administer short links and their click analytics",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		zapLogger, err = logger.New(&cfg.App)
		if err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if zapLogger != nil {
			_ = zapLogger.Sync()
		}
	},
}

func openStores(migrate bool) (*app.Stores, error) {
	return app.Open(cfg, app.Options{Migrate: migrate}, zapLogger)
}

func main() {
	rootCmd.AddCommand(migrateCmd, createCmd, statsCmd, pruneCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
