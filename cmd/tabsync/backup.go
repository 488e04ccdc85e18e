package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run one backup: download changed content and push a snapshot commit",
	Long: `Run a single backup pass.

The run clones the mirror repository into base_dir, walks the server's
project tree, downloads workbooks (.twbx) and data sources (.tdsx) that
are missing locally, and pushes one commit. Items the signed-in user
cannot access are logged and skipped; they never abort the run.

Interrupting the run (Ctrl+C) lets in-flight downloads finish but skips
the commit: a partial tree is never pushed.

Example usage:
  tabsync backup                       # incremental, keeps existing files
  tabsync backup --overwrite           # force a full refresh
  tabsync backup --workers 8           # raise the download concurrency`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if overwrite, _ := cmd.Flags().GetBool("overwrite"); overwrite {
			cfg.OverwriteExisting = true
		}
		if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
			cfg.MaxWorkers = workers
		}

		logger := newLogger(cfg)
		runner := buildRunner(cfg, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		summary, err := runner.Run(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: backup failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Backup complete: %s\n", summary)
	},
}

func init() {
	backupCmd.Flags().Bool("overwrite", false, "Re-download content that already exists locally")
	backupCmd.Flags().Int("workers", 0, "Override max concurrent downloads")
	rootCmd.AddCommand(backupCmd)
}
