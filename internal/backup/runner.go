package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tableau-tools/tabsync/internal/hierarchy"
	"github.com/tableau-tools/tabsync/internal/tableau"
	"github.com/tableau-tools/tabsync/internal/vcs"
)

// Options configures one backup run.
type Options struct {
	// Credentials for the Tableau sign-in.
	Credentials tableau.Credentials

	// GitRepo is the remote URL of the mirror repository.
	GitRepo string

	// BaseDir is the local working directory; the repository is cloned
	// here and project directories are materialized under it.
	BaseDir string

	// Layout selects flat or nested project directories.
	Layout Layout

	// MaxWorkers caps concurrent remote operations. Default 4.
	MaxWorkers int

	// Overwrite forces re-download of content that already exists locally.
	Overwrite bool

	// FetchTimeout bounds one download attempt. Zero disables it.
	FetchTimeout time.Duration

	// RetryAttempts is the extra-attempt count for transient download
	// failures.
	RetryAttempts uint64

	// Author for the snapshot commit.
	Author vcs.Author
}

// Runner executes complete backup runs: sign in, clone, enumerate, walk,
// snapshot. The remote service and VCS opener are injected so tests can
// run against fakes.
type Runner struct {
	svc    tableau.Service
	opener vcs.Opener
	opts   Options
	logger *log.Logger
	now    func() time.Time
}

// NewRunner creates a Runner. A nil logger defaults to stderr.
func NewRunner(svc tableau.Service, opener vcs.Opener, opts Options, logger *log.Logger) *Runner {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[backup] ", log.LstdFlags)
	}
	return &Runner{
		svc:    svc,
		opener: opener,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Run performs one backup. Per-item download failures are absorbed into the
// Summary; the returned error is non-nil only for the fatal class: sign-in,
// clone, listing, commit, or push failures, or a cancelled context. A
// cancelled run never commits.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()[:8]
	logger := log.New(r.logger.Writer(), fmt.Sprintf("[backup %s] ", runID), log.LstdFlags)

	if err := r.svc.SignIn(ctx, r.opts.Credentials); err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	defer func() {
		// Sign-out must run even on a cancelled context.
		if err := r.svc.SignOut(context.WithoutCancel(ctx)); err != nil {
			logger.Printf("Sign-out failed: %v", err)
		}
	}()

	// Clone refuses a non-empty target; a previous run's tree is removed
	// first.
	if err := os.RemoveAll(r.opts.BaseDir); err != nil {
		return nil, fmt.Errorf("clear %s: %w", r.opts.BaseDir, err)
	}
	repo, err := r.opener.Clone(ctx, r.opts.GitRepo, r.opts.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("clone mirror repository: %w", err)
	}
	logger.Printf("Cloned %s", r.opts.GitRepo)

	index, err := r.buildIndex(ctx)
	if err != nil {
		return nil, err
	}
	logger.Printf("Indexed %d projects (%d roots)", index.Len(), len(index.Roots()))

	fetcher := NewFetcher(r.svc, FetcherConfig{
		MaxWorkers:    r.opts.MaxWorkers,
		Overwrite:     r.opts.Overwrite,
		Timeout:       r.opts.FetchTimeout,
		RetryAttempts: r.opts.RetryAttempts,
		Logger:        logger,
	})
	walker := NewWalker(index, fetcher, r.opts.BaseDir, r.opts.Layout, logger)

	summary, err := walker.Walk(ctx)
	if err != nil {
		// Cancelled mid-walk: in-flight fetches have drained, but the
		// tree is incomplete. Do not commit it.
		return summary, fmt.Errorf("walk aborted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("run cancelled: %w", err)
	}
	logger.Printf("Walk complete: %s", summary)

	if err := r.snapshot(ctx, repo, logger); err != nil {
		return summary, err
	}
	return summary, nil
}

// buildIndex fetches the flat project listing plus each project's content
// and assembles the immutable tree index.
func (r *Runner) buildIndex(ctx context.Context) (*hierarchy.Index, error) {
	projects, err := r.svc.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	contents := make([]tableau.Content, len(projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.MaxWorkers)
	for i, p := range projects {
		g.Go(func() error {
			c, err := r.svc.ListContent(gctx, p.ID)
			if err != nil {
				return fmt.Errorf("list content of project %q: %w", p.Name, err)
			}
			contents[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]tableau.Content, len(projects))
	for i, p := range projects {
		byID[p.ID] = contents[i]
	}
	return hierarchy.Build(projects, byID), nil
}

// snapshot stages the working tree and produces at most one commit. An
// unchanged tree is a successful no-op: no commit, no push.
func (r *Runner) snapshot(ctx context.Context, repo vcs.Repo, logger *log.Logger) error {
	if err := repo.StageAll(ctx); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}

	hash, err := repo.Commit(ctx, r.opts.Author, vcs.CommitMessage(r.now()))
	if err != nil {
		if errors.Is(err, vcs.ErrEmptyCommit) {
			logger.Printf("No changes since last backup, skipping commit")
			return nil
		}
		return fmt.Errorf("commit snapshot: %w", err)
	}
	logger.Printf("Committed snapshot %s", hash)

	if err := repo.Push(ctx); err != nil {
		if errors.Is(err, vcs.ErrAlreadyUpToDate) {
			return nil
		}
		return fmt.Errorf("push snapshot: %w", err)
	}
	logger.Printf("Pushed snapshot to remote")
	return nil
}
