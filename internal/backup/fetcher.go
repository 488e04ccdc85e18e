package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/tableau-tools/tabsync/internal/tableau"
)

// ErrPathCollision is returned when two content items in one project would
// resolve to the same local file. Downloading either would silently
// overwrite the other, so the project's batch is refused instead.
var ErrPathCollision = errors.New("content path collision")

// FetchOutcome records the result of one download attempt.
type FetchOutcome struct {
	Item    tableau.ContentItem
	Changed bool
	Err     error
}

// Fetcher downloads content items under a shared concurrency cap.
//
// One Fetcher serves the entire run: every download, no matter which
// traversal issued it, acquires the same weighted semaphore, so the number
// of simultaneous connections to the server never exceeds the configured
// worker count regardless of tree depth or fan-out.
type Fetcher struct {
	svc       tableau.Service
	sem       *semaphore.Weighted
	overwrite bool
	timeout   time.Duration
	retries   uint64
	logger    *log.Logger
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	// MaxWorkers caps simultaneous downloads across the whole run.
	MaxWorkers int

	// Overwrite forces a refresh of content that already exists locally.
	Overwrite bool

	// Timeout bounds a single download attempt. Zero disables it.
	Timeout time.Duration

	// RetryAttempts is the number of additional attempts for transient
	// download failures. Authorization failures are never retried.
	RetryAttempts uint64

	// Logger for per-item activity. Nil means stderr.
	Logger *log.Logger
}

// NewFetcher creates a Fetcher for the given remote service.
func NewFetcher(svc tableau.Service, cfg FetcherConfig) *Fetcher {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[fetch] ", log.LstdFlags)
	}
	return &Fetcher{
		svc:       svc,
		sem:       semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		overwrite: cfg.Overwrite,
		timeout:   cfg.Timeout,
		retries:   cfg.RetryAttempts,
		logger:    cfg.Logger,
	}
}

// FetchAll downloads the given items into dir and returns one outcome per
// item. Item failures are captured in their outcome and never abort
// siblings. The call blocks until every item has settled.
//
// Before any download starts, the batch is checked for items that map to
// the same local file; such a batch fails as a whole with ErrPathCollision.
func (f *Fetcher) FetchAll(ctx context.Context, dir string, items []tableau.ContentItem) ([]FetchOutcome, error) {
	seen := make(map[string]string, len(items))
	for _, item := range items {
		name := targetName(item)
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %q and %q both resolve to %s", ErrPathCollision, prev, item.Name, filepath.Join(dir, name))
		}
		seen[name] = item.Name
	}

	outcomes := make([]FetchOutcome, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = f.fetchOne(ctx, dir, item)
		}()
	}
	wg.Wait()

	return outcomes, nil
}

// fetchOne handles a single item: decision, fingerprint, download, verify.
func (f *Fetcher) fetchOne(ctx context.Context, dir string, item tableau.ContentItem) FetchOutcome {
	outcome := FetchOutcome{Item: item}

	target := filepath.Join(dir, targetName(item))
	if !ShouldDownload(target, f.overwrite) {
		f.logger.Printf("Skipping existing %s: %s", item.Kind, item.Name)
		return outcome
	}

	// New work is gated on the run context here; past this point a started
	// transfer drains rather than aborting mid-stream.
	if err := f.sem.Acquire(ctx, 1); err != nil {
		outcome.Err = err
		return outcome
	}
	defer f.sem.Release(1)
	if err := ctx.Err(); err != nil {
		outcome.Err = err
		return outcome
	}

	before, err := FingerprintFile(target)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	if err := f.download(ctx, item, target); err != nil {
		if errors.Is(err, tableau.ErrForbidden) {
			f.logger.Printf("Access denied: %s cannot download %s: %v", f.svc.Username(), item.Name, err)
		} else {
			f.logger.Printf("Failed to download %s %s: %v", item.Kind, item.Name, err)
		}
		outcome.Err = err
		return outcome
	}

	after, err := FingerprintFile(target)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	if before != after {
		f.logger.Printf("Downloaded %s: %s", item.Kind, item.Name)
		outcome.Changed = true
	}
	return outcome
}

// download runs one export with the per-fetch timeout and transient-error
// retry applied.
func (f *Fetcher) download(ctx context.Context, item tableau.ContentItem, target string) error {
	attempt := func() error {
		// A transfer that has started is allowed to drain after the run is
		// cancelled; only the per-attempt timeout bounds it.
		attemptCtx := context.WithoutCancel(ctx)
		if f.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(attemptCtx, f.timeout)
			defer cancel()
		}

		err := f.svc.Download(attemptCtx, item, target)
		if err == nil {
			return nil
		}
		// Authorization and missing-content failures will not heal on retry.
		if errors.Is(err, tableau.ErrForbidden) || errors.Is(err, tableau.ErrUnauthorized) || errors.Is(err, tableau.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	// Retries count as new work and stop once the run is cancelled.
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), f.retries), ctx)
	return backoff.Retry(attempt, policy)
}
