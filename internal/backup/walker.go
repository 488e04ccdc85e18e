package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tableau-tools/tabsync/internal/hierarchy"
)

// Layout selects how project directories are arranged under the base
// directory.
type Layout string

const (
	// LayoutFlat writes every project, child or not, as a sibling
	// directly under the base directory. This matches the tool's
	// historical behavior.
	LayoutFlat Layout = "flat"

	// LayoutNested mirrors the server hierarchy: child project
	// directories live inside their parent's directory.
	LayoutNested Layout = "nested"
)

// Valid reports whether l is a known layout.
func (l Layout) Valid() bool {
	return l == LayoutFlat || l == LayoutNested
}

// Summary aggregates the results of one walk.
type Summary struct {
	mu sync.Mutex

	// Projects is the number of projects visited.
	Projects int

	// Changed counts downloads that altered the local copy.
	Changed int

	// Unchanged counts items skipped or re-downloaded byte-identical.
	Unchanged int

	// Failed counts items whose fetch errored.
	Failed int

	// Structural counts structural inconsistencies: unknown child ids,
	// directory collisions, content path collisions.
	Structural int
}

func (s *Summary) addOutcomes(outcomes []FetchOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			s.Failed++
		case o.Changed:
			s.Changed++
		default:
			s.Unchanged++
		}
	}
}

func (s *Summary) addProject() {
	s.mu.Lock()
	s.Projects++
	s.mu.Unlock()
}

func (s *Summary) addStructural() {
	s.mu.Lock()
	s.Structural++
	s.mu.Unlock()
}

// String summarizes counts for logging.
func (s *Summary) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%d projects, %d changed, %d unchanged, %d failed, %d structural",
		s.Projects, s.Changed, s.Unchanged, s.Failed, s.Structural)
}

// Walker materializes the project tree on disk: one directory per project,
// filled by the shared Fetcher, then recursion into children.
//
// Root traversals run concurrently; download parallelism is bounded by the
// Fetcher's semaphore, not by the number of traversals.
type Walker struct {
	index   *hierarchy.Index
	fetcher *Fetcher
	baseDir string
	layout  Layout
	logger  *log.Logger

	mu      sync.Mutex
	claimed map[string]string // directory -> project id
}

// NewWalker creates a Walker over the given index.
func NewWalker(index *hierarchy.Index, fetcher *Fetcher, baseDir string, layout Layout, logger *log.Logger) *Walker {
	if !layout.Valid() {
		layout = LayoutFlat
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[walk] ", log.LstdFlags)
	}
	return &Walker{
		index:   index,
		fetcher: fetcher,
		baseDir: baseDir,
		layout:  layout,
		logger:  logger,
		claimed: make(map[string]string),
	}
}

// Walk visits every root's subtree and blocks until all traversals and
// their fetches have settled. The returned Summary is complete once Walk
// returns; the error is non-nil only when the context was cancelled.
func (w *Walker) Walk(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	var g errgroup.Group
	for _, rootID := range w.index.Roots() {
		g.Go(func() error {
			return w.visit(ctx, rootID, w.baseDir, summary)
		})
	}
	err := g.Wait()
	return summary, err
}

// visit materializes one project's directory and content, then recurses
// into its children. Children of a flat-layout project are written as
// siblings directly under the base directory.
func (w *Walker) visit(ctx context.Context, id, parentDir string, summary *Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	proj := w.index.Get(id)
	if proj == nil {
		w.logger.Printf("Project %s not found in index, skipping", id)
		summary.addStructural()
		return nil
	}

	dir := filepath.Join(parentDir, SanitizeName(proj.Name))
	if w.layout == LayoutFlat {
		dir = filepath.Join(w.baseDir, SanitizeName(proj.Name))
	}

	if owner, ok := w.claim(dir, proj.ID); !ok {
		w.logger.Printf("Directory collision: projects %s and %s both map to %s, skipping %s", owner, proj.ID, dir, proj.Name)
		summary.addStructural()
		if w.layout == LayoutNested {
			// Recursing would write this subtree into the other
			// project's directory.
			return nil
		}
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			w.logger.Printf("Cannot create %s: %v", dir, err)
			summary.addStructural()
			return nil
		}

		summary.addProject()
		outcomes, err := w.fetcher.FetchAll(ctx, dir, proj.Items())
		if err != nil {
			w.logger.Printf("Project %s: %v", proj.Name, err)
			summary.addStructural()
		} else {
			summary.addOutcomes(outcomes)
		}
	}

	for _, childID := range proj.Children {
		if err := w.visit(ctx, childID, dir, summary); err != nil {
			return err
		}
	}
	return nil
}

// claim records dir as owned by the given project. It returns the existing
// owner and false when another project already claimed the directory.
func (w *Walker) claim(dir, projectID string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if owner, ok := w.claimed[dir]; ok && owner != projectID {
		return owner, false
	}
	w.claimed[dir] = projectID
	return projectID, true
}
