// Package config loads tabsync configuration from a YAML file, with
// environment-variable overrides under the TABSYNC_ prefix.
//
// Credentials (username, password, git token) are intentionally not part of
// the file format; they are only read from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Author identifies the commit author for snapshots.
type Author struct {
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
}

// Config holds everything a backup run needs.
type Config struct {
	// TableauServer is the server base URL.
	TableauServer string `mapstructure:"tableau_server"`

	// Site is the Tableau site contentUrl; empty selects the default site.
	Site string `mapstructure:"site"`

	// GitRepo is the remote URL of the mirror repository.
	GitRepo string `mapstructure:"git_repo"`

	// BaseDir is the local directory the mirror is cloned into.
	BaseDir string `mapstructure:"base_dir"`

	// Layout is "flat" or "nested".
	Layout string `mapstructure:"layout"`

	// MaxWorkers caps concurrent remote operations.
	MaxWorkers int `mapstructure:"max_workers"`

	// OverwriteExisting forces re-download of already-mirrored content.
	OverwriteExisting bool `mapstructure:"overwrite_existing"`

	// FetchTimeout bounds a single download attempt.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`

	// RetryAttempts is the extra-attempt count for transient download
	// failures.
	RetryAttempts uint64 `mapstructure:"retry_attempts"`

	// Interval is the daemon-mode backup period.
	Interval time.Duration `mapstructure:"interval"`

	// GitAuthor is the snapshot commit author.
	GitAuthor Author `mapstructure:"git_author"`

	// LogFile receives a copy of all log output. Empty disables it.
	LogFile string `mapstructure:"log_file"`

	// Username, Password, and GitToken come from the environment only
	// (TABSYNC_USERNAME, TABSYNC_PASSWORD, TABSYNC_GIT_TOKEN).
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	GitToken string `mapstructure:"git_token"`
}

// Validate checks the values a run cannot proceed without.
func (c *Config) Validate() error {
	if c.TableauServer == "" {
		return fmt.Errorf("tableau_server is required")
	}
	if c.GitRepo == "" {
		return fmt.Errorf("git_repo is required")
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be positive, got %d", c.MaxWorkers)
	}
	if c.Layout != "flat" && c.Layout != "nested" {
		return fmt.Errorf("layout must be \"flat\" or \"nested\", got %q", c.Layout)
	}
	return nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("tableau_server", "")
	v.SetDefault("site", "")
	v.SetDefault("git_repo", "")
	v.SetDefault("base_dir", "Tableau_Projects")
	v.SetDefault("layout", "flat")
	v.SetDefault("max_workers", 4)
	v.SetDefault("overwrite_existing", false)
	v.SetDefault("fetch_timeout", 5*time.Minute)
	v.SetDefault("retry_attempts", 2)
	v.SetDefault("interval", 24*time.Hour)
	v.SetDefault("git_author.name", "Tableau Backup")
	v.SetDefault("git_author.email", "tabsync@localhost")
	v.SetDefault("log_file", "tabsync.log")

	v.SetEnvPrefix("TABSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Credentials are env-only; binding keeps them out of the written
	// default config file. The prefix must be set before binding, or the
	// keys also pick up the bare variables (USERNAME is the login name on
	// many systems).
	v.BindEnv("username")
	v.BindEnv("password")
	v.BindEnv("git_token")

	return v
}

// Load reads the configuration file at path. A missing file is not an
// error: defaults are written to path so the operator has something to
// edit, matching the tool's historical behavior.
func Load(path string) (*Config, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// With an explicit config file viper surfaces a plain path error
		// rather than ConfigFileNotFoundError; handle both.
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			if writeErr := v.SafeWriteConfigAs(path); writeErr != nil {
				return nil, fmt.Errorf("write default config %s: %w", path, writeErr)
			}
		} else {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
