// Package git implements the vcs interfaces with go-git.
//
// No git binary is required; clone, stage, commit, and push are performed
// in-process. Authentication is HTTP basic (personal access tokens).
package git

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-git/go-billy/v5"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/tableau-tools/tabsync/internal/vcs"
)

// Client clones remote repositories. It implements vcs.Opener.
type Client struct {
	auth   transport.AuthMethod
	fs     billy.Filesystem
	logger *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBasicAuth sets HTTP basic credentials for clone and push.
// For token-based hosts, username is typically the literal "token" or the
// account name, and password is the access token.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.auth = &githttp.BasicAuth{Username: username, Password: password}
	}
}

// WithFilesystem roots all repository state in the given billy filesystem
// instead of the OS filesystem. Used by tests to run against memfs.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(c *Client) { c.fs = fs }
}

// WithLogger sets the logger for clone/push diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.New(os.Stderr, "[git] ", log.LstdFlags)
	}
	return c
}

// Clone clones remoteURL into dir and returns the working tree.
func (c *Client) Clone(ctx context.Context, remoteURL, dir string) (vcs.Repo, error) {
	opts := &gogit.CloneOptions{
		URL:  remoteURL,
		Auth: c.auth,
	}

	var (
		repo *gogit.Repository
		err  error
	)
	if c.fs == nil {
		repo, err = gogit.PlainCloneContext(ctx, dir, false, opts)
	} else {
		repo, err = c.cloneInFS(ctx, dir, opts)
	}
	if err != nil {
		if errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed) {
			return nil, fmt.Errorf("clone %s: %w", remoteURL, vcs.ErrAuthRequired)
		}
		return nil, fmt.Errorf("clone %s: %w", remoteURL, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree of %s: %w", dir, err)
	}

	c.logger.Printf("Cloned %s into %s", remoteURL, dir)
	return &Repo{
		dir:      dir,
		repo:     repo,
		worktree: worktree,
		auth:     c.auth,
		logger:   c.logger,
	}, nil
}

// cloneInFS clones into the configured billy filesystem, with the object
// database under dir/.git and the worktree at dir.
func (c *Client) cloneInFS(ctx context.Context, dir string, opts *gogit.CloneOptions) (*gogit.Repository, error) {
	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	worktreeFS, err := c.fs.Chroot(dir)
	if err != nil {
		return nil, fmt.Errorf("chroot to %s: %w", dir, err)
	}
	dotGitFS, err := worktreeFS.Chroot(".git")
	if err != nil {
		return nil, fmt.Errorf("chroot to %s/.git: %w", dir, err)
	}
	storage := filesystem.NewStorage(dotGitFS, cache.NewObjectLRUDefault())
	return gogit.CloneContext(ctx, storage, worktreeFS, opts)
}

// Repo is a cloned working tree. It implements vcs.Repo.
type Repo struct {
	dir      string
	repo     *gogit.Repository
	worktree *gogit.Worktree
	auth     transport.AuthMethod
	logger   *log.Logger
}

// Dir returns the local working-tree path.
func (r *Repo) Dir() string {
	return r.dir
}

// StageAll stages every change under the working tree, like `git add -A`.
func (r *Repo) StageAll(ctx context.Context) error {
	if err := r.worktree.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return fmt.Errorf("stage all: %w", err)
	}
	return nil
}

// Commit creates a commit of the staged changes and returns its hash.
func (r *Repo) Commit(ctx context.Context, author vcs.Author, message string) (string, error) {
	if author.Name == "" || author.Email == "" {
		return "", fmt.Errorf("commit: author name and email are required")
	}

	sig := &object.Signature{
		Name:  author.Name,
		Email: author.Email,
		When:  time.Now(),
	}
	hash, err := r.worktree.Commit(message, &gogit.CommitOptions{
		Author:    sig,
		Committer: sig,
	})
	if err != nil {
		if errors.Is(err, gogit.ErrEmptyCommit) {
			return "", vcs.ErrEmptyCommit
		}
		return "", fmt.Errorf("commit: %w", err)
	}

	r.logger.Printf("Created commit %s", hash)
	return hash.String(), nil
}

// Push pushes the current branch to the default remote.
func (r *Repo) Push(ctx context.Context) error {
	err := r.repo.PushContext(ctx, &gogit.PushOptions{Auth: r.auth})
	if err != nil {
		switch {
		case errors.Is(err, gogit.NoErrAlreadyUpToDate):
			return vcs.ErrAlreadyUpToDate
		case errors.Is(err, gogit.ErrNonFastForwardUpdate):
			return fmt.Errorf("push: %w", vcs.ErrPushRejected)
		case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
			return fmt.Errorf("push: %w", vcs.ErrAuthRequired)
		}
		return fmt.Errorf("push: %w", err)
	}
	return nil
}
