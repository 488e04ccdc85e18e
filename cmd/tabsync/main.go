// Command tabsync mirrors a Tableau Server's project hierarchy into a git
// repository.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tableau-tools/tabsync/internal/backup"
	"github.com/tableau-tools/tabsync/internal/config"
	"github.com/tableau-tools/tabsync/internal/tableau"
	"github.com/tableau-tools/tabsync/internal/vcs"
	gitvcs "github.com/tableau-tools/tabsync/internal/vcs/git"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tabsync",
	Short: "Mirror Tableau Server content into a git repository",
	Long: `tabsync backs up a Tableau Server's project hierarchy (workbooks and
data sources) into a version-controlled file tree.

Each run signs in to the server, clones the mirror repository, downloads
content that is missing locally (or everything, with overwrite enabled),
and pushes a single snapshot commit.

Credentials are read from the environment:
  TABSYNC_USERNAME    Tableau username
  TABSYNC_PASSWORD    Tableau password
  TABSYNC_GIT_TOKEN   access token for the git remote (optional)

All other settings live in the config file; a default one is written on
first run.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the config file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

// newLogger builds the shared logger: stdout plus a rotating log file.
func newLogger(cfg *config.Config) *log.Logger {
	w := io.Writer(os.Stdout)
	if cfg.LogFile != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20, // MB
			MaxBackups: 5,
			MaxAge:     60, // days
		})
	}
	return log.New(w, "", log.LstdFlags)
}

// buildRunner wires the Tableau client, the git opener, and the backup
// runner from configuration.
func buildRunner(cfg *config.Config, logger *log.Logger) *backup.Runner {
	client := tableau.NewClient(cfg.TableauServer, tableau.WithLogger(logger))

	gitOpts := []gitvcs.Option{gitvcs.WithLogger(logger)}
	if cfg.GitToken != "" {
		gitOpts = append(gitOpts, gitvcs.WithBasicAuth(cfg.Username, cfg.GitToken))
	}
	opener := gitvcs.NewClient(gitOpts...)

	opts := backup.Options{
		Credentials: tableau.Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
			Site:     cfg.Site,
		},
		GitRepo:       cfg.GitRepo,
		BaseDir:       cfg.BaseDir,
		Layout:        backup.Layout(cfg.Layout),
		MaxWorkers:    cfg.MaxWorkers,
		Overwrite:     cfg.OverwriteExisting,
		FetchTimeout:  cfg.FetchTimeout,
		RetryAttempts: cfg.RetryAttempts,
		Author: vcs.Author{
			Name:  cfg.GitAuthor.Name,
			Email: cfg.GitAuthor.Email,
		},
	}
	return backup.NewRunner(client, opener, opts, logger)
}
