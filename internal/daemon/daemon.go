// Package daemon runs backups on a fixed period.
//
// The daemon:
// 1. Performs one backup immediately on start
// 2. Repeats on every interval tick
// 3. Never overlaps runs; a run longer than the interval delays the next tick
// 4. Stops cleanly on context cancellation, letting an in-flight run drain
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
)

// RunFunc performs one backup. The daemon treats a non-nil error as a
// failed run: it is logged and the schedule continues, except for context
// cancellation, which stops the daemon.
type RunFunc func(ctx context.Context) error

// Config holds daemon configuration.
type Config struct {
	// Interval between backup runs.
	Interval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval: 24 * time.Hour,
		Logger:   log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon schedules periodic backup runs.
type Daemon struct {
	run    RunFunc
	config *Config
}

// New creates a Daemon that invokes run on the configured interval.
func New(run RunFunc, config *Config) (*Daemon, error) {
	if run == nil {
		return nil, fmt.Errorf("run function cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", config.Interval)
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	return &Daemon{run: run, config: config}, nil
}

// Start blocks, running backups until ctx is cancelled. The first run
// starts immediately.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Printf("Starting daemon, interval %v", d.config.Interval)

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	d.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			d.config.Logger.Println("Daemon stopping")
			return ctx.Err()
		case <-ticker.C:
			d.runOnce(ctx)
		}
	}
}

func (d *Daemon) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := d.run(ctx)
	switch {
	case err == nil:
		d.config.Logger.Printf("Backup completed in %v", time.Since(start).Round(time.Second))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		d.config.Logger.Printf("Backup interrupted: %v", err)
	default:
		d.config.Logger.Printf("Backup failed: %v", err)
	}
}
