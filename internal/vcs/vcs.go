// Package vcs defines the version-control surface the backup run needs.
//
// A run clones the mirror repository, stages everything the walker wrote,
// creates one commit, and pushes it. The interface is deliberately that
// narrow; internal/vcs/git provides the go-git implementation and tests
// substitute fakes.
package vcs

import (
	"context"
	"time"
)

// Author identifies the commit author and committer.
type Author struct {
	Name  string
	Email string
}

// Repo is a cloned working tree that can take one snapshot commit.
type Repo interface {
	// Dir returns the local working-tree path.
	Dir() string

	// StageAll stages every change under the working tree, including
	// deletions and untracked files.
	StageAll(ctx context.Context) error

	// Commit creates a commit of the staged changes and returns its hash.
	// Returns ErrEmptyCommit when nothing is staged.
	Commit(ctx context.Context, author Author, message string) (string, error)

	// Push pushes the current branch to the default remote.
	// Returns ErrAlreadyUpToDate when the remote already has the commit.
	Push(ctx context.Context) error
}

// Opener clones remote repositories into local working trees.
type Opener interface {
	Clone(ctx context.Context, remoteURL, dir string) (Repo, error)
}

// CommitMessage formats the snapshot commit message for the given time,
// matching the backup tool's historical format.
func CommitMessage(t time.Time) string {
	return "Backup " + t.Format("2006-01-02 15:04:05")
}
