package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tableau-tools/tabsync/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run backups on a fixed schedule",
	Long: `Run tabsync as a long-lived process that performs a backup on every
interval tick (config key "interval", default 24h). The first backup
starts immediately.

A failed run is logged and the schedule continues. SIGINT/SIGTERM stops
the daemon; a backup in flight drains its downloads and exits without
committing.

Example usage:
  tabsync daemon                       # interval from config
  TABSYNC_INTERVAL=1h tabsync daemon   # hourly backups`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		logger := newLogger(cfg)
		runner := buildRunner(cfg, logger)

		d, err := daemon.New(func(ctx context.Context) error {
			_, runErr := runner.Run(ctx)
			return runErr
		}, &daemon.Config{
			Interval: cfg.Interval,
			Logger:   logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := d.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
