package backup

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tableau-tools/tabsync/internal/tableau"
	"github.com/tableau-tools/tabsync/internal/vcs"
)

// testLogger routes component logs through t.Log.
func testLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(testWriter{t}, "", 0)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// fakeService is an in-memory tableau.Service for tests.
type fakeService struct {
	username   string
	projects   []tableau.Project
	contents   map[string]tableau.Content
	payloads   map[string][]byte // content id -> exported bytes
	failures   map[string]error  // content id -> permanent failure
	transient  map[string]int    // content id -> failures before success
	delay      time.Duration
	slow       map[string]time.Duration // content id -> transfer time, overrides delay
	signInErr  error
	onDownload func() // called at the start of every download

	mu          sync.Mutex
	signIns     int
	signOuts    int
	downloads   []string // content ids, in completion order
	inFlight    int
	maxInFlight int
}

func (s *fakeService) SignIn(ctx context.Context, creds tableau.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signInErr != nil {
		return s.signInErr
	}
	s.signIns++
	if s.username == "" {
		s.username = creds.Username
	}
	return nil
}

func (s *fakeService) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signOuts++
	return nil
}

func (s *fakeService) Username() string {
	return s.username
}

func (s *fakeService) ListProjects(ctx context.Context) ([]tableau.Project, error) {
	return s.projects, nil
}

func (s *fakeService) ListContent(ctx context.Context, projectID string) (tableau.Content, error) {
	return s.contents[projectID], nil
}

func (s *fakeService) Download(ctx context.Context, item tableau.ContentItem, dest string) error {
	if s.onDownload != nil {
		s.onDownload()
	}

	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	if n, ok := s.transient[item.ID]; ok && n > 0 {
		s.transient[item.ID] = n - 1
		s.inFlight--
		s.mu.Unlock()
		return fmt.Errorf("transient failure for %s", item.ID)
	}
	failure := s.failures[item.ID]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	delay := s.delay
	if d, ok := s.slow[item.ID]; ok {
		delay = d
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failure != nil {
		return failure
	}

	payload := s.payloads[item.ID]
	if payload == nil {
		payload = []byte(item.ID)
	}
	if err := os.WriteFile(dest, payload, 0o644); err != nil {
		return err
	}

	s.mu.Lock()
	s.downloads = append(s.downloads, item.ID)
	s.mu.Unlock()
	return nil
}

func (s *fakeService) downloadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.downloads)
}

// fakeVCS simulates a remote repository as a path->bytes map. Clone
// materializes the remote state, Commit compares the working tree against
// it, and Push publishes the committed tree.
type fakeVCS struct {
	mu      sync.Mutex
	remote  map[string][]byte
	clones  int
	commits int
	pushes  int
}

func newFakeVCS() *fakeVCS {
	return &fakeVCS{remote: make(map[string][]byte)}
}

func (v *fakeVCS) Clone(ctx context.Context, remoteURL, dir string) (vcs.Repo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	for rel, data := range v.remote {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, err
		}
	}
	v.clones++
	return &fakeRepo{v: v, dir: dir}, nil
}

type fakeRepo struct {
	v       *fakeVCS
	dir     string
	pending map[string][]byte
}

func (r *fakeRepo) Dir() string { return r.dir }

func (r *fakeRepo) StageAll(ctx context.Context) error {
	tree, err := readTree(r.dir)
	if err != nil {
		return err
	}
	r.pending = tree
	return nil
}

func (r *fakeRepo) Commit(ctx context.Context, author vcs.Author, message string) (string, error) {
	r.v.mu.Lock()
	defer r.v.mu.Unlock()
	if reflect.DeepEqual(r.pending, r.v.remote) {
		return "", vcs.ErrEmptyCommit
	}
	r.v.commits++
	return fmt.Sprintf("commit-%d", r.v.commits), nil
}

func (r *fakeRepo) Push(ctx context.Context) error {
	r.v.mu.Lock()
	defer r.v.mu.Unlock()
	r.v.remote = r.pending
	r.v.pushes++
	return nil
}

// readTree returns the relative path -> contents mapping of a directory.
func readTree(dir string) (map[string][]byte, error) {
	tree := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".git") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[rel] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tree, nil
}
