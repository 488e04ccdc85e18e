package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableau-tools/tabsync/internal/vcs"
)

var testAuthor = vcs.Author{Name: "Backup Bot", Email: "backup@example.com"}

// setupRemote creates a bare repository seeded with one commit and returns
// its path, usable as a file-transport clone URL.
func setupRemote(t *testing.T) string {
	t.Helper()

	bareDir := t.TempDir()
	_, err := gogit.PlainInit(bareDir, true)
	require.NoError(t, err)

	seedDir := t.TempDir()
	seed, err := gogit.PlainInit(seedDir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "README.md"), []byte("mirror\n"), 0o644))

	wt, err := seed.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)

	sig := &object.Signature{Name: "Seed", Email: "seed@example.com", When: time.Now()}
	_, err = wt.Commit("initial", &gogit.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)

	_, err = seed.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{bareDir}})
	require.NoError(t, err)
	require.NoError(t, seed.Push(&gogit.PushOptions{}))

	return bareDir
}

func TestCloneStageCommitPush(t *testing.T) {
	remote := setupRemote(t)
	ctx := context.Background()

	repo, err := NewClient().Clone(ctx, remote, t.TempDir())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(repo.Dir(), "README.md"))

	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir(), "Sales.twbx"), []byte("payload"), 0o644))
	require.NoError(t, repo.StageAll(ctx))

	hash, err := repo.Commit(ctx, testAuthor, vcs.CommitMessage(time.Now()))
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	require.NoError(t, repo.Push(ctx))

	// The bare remote's branch now points at the new commit.
	bare, err := gogit.PlainOpen(remote)
	require.NoError(t, err)
	ref, err := bare.Reference(plumbing.NewBranchReferenceName("master"), true)
	require.NoError(t, err)
	assert.Equal(t, hash, ref.Hash().String())
}

func TestCommitWithoutChangesReturnsEmptyCommit(t *testing.T) {
	remote := setupRemote(t)
	ctx := context.Background()

	repo, err := NewClient().Clone(ctx, remote, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, repo.StageAll(ctx))
	_, err = repo.Commit(ctx, testAuthor, "empty")
	assert.ErrorIs(t, err, vcs.ErrEmptyCommit)
}

func TestStageAllPicksUpDeletions(t *testing.T) {
	remote := setupRemote(t)
	ctx := context.Background()

	repo, err := NewClient().Clone(ctx, remote, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(repo.Dir(), "README.md")))
	require.NoError(t, repo.StageAll(ctx))

	hash, err := repo.Commit(ctx, testAuthor, "remove readme")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
}

func TestCommitRequiresAuthor(t *testing.T) {
	remote := setupRemote(t)
	ctx := context.Background()

	repo, err := NewClient().Clone(ctx, remote, t.TempDir())
	require.NoError(t, err)

	_, err = repo.Commit(ctx, vcs.Author{}, "message")
	assert.Error(t, err)
}

func TestCloneIntoMemoryFilesystem(t *testing.T) {
	remote := setupRemote(t)
	ctx := context.Background()

	fs := memfs.New()
	repo, err := NewClient(WithFilesystem(fs)).Clone(ctx, remote, "mirror")
	require.NoError(t, err)

	// The clone lives entirely in the memfs, nothing on disk.
	_, err = fs.Stat("mirror/README.md")
	require.NoError(t, err)

	f, err := fs.Create("mirror/Region.tdsx")
	require.NoError(t, err)
	_, err = f.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, repo.StageAll(ctx))
	hash, err := repo.Commit(ctx, testAuthor, "add datasource")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
}

func TestCloneBadURL(t *testing.T) {
	_, err := NewClient().Clone(context.Background(), filepath.Join(t.TempDir(), "missing"), t.TempDir())
	assert.Error(t, err)
}

func TestCommitMessageFormat(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	assert.Equal(t, "Backup 2026-03-14 09:26:53", vcs.CommitMessage(at))
}
