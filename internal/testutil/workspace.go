package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// Workspace is a throwaway git checkout.
type Workspace struct {
	T    *testing.T
	Root string
	Repo *git.Repository
}

// NewWorkspace initializes a repository in a temp dir. A non-empty origin is
// registered as the origin remote.
func NewWorkspace(t *testing.T, origin string) *Workspace {
	t.Helper()
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err, "Failed to initialize Git repository")
	if origin != "" {
		_, err = repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{origin}})
		require.NoError(t, err, "Failed to add origin remote")
	}
	return &Workspace{T: t, Root: root, Repo: repo}
}

// Write creates or replaces a file, given relative to the root with forward slashes.
func (w *Workspace) Write(rel, content string) string {
	w.T.Helper()
	path := filepath.Join(w.Root, filepath.FromSlash(rel))
	require.NoError(w.T, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(w.T, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// Commit stages everything and commits it, returning the commit hash.
func (w *Workspace) Commit(msg string) string {
	w.T.Helper()
	wt, err := w.Repo.Worktree()
	require.NoError(w.T, err)
	require.NoError(w.T, wt.AddGlob("."))
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "Depi Test", Email: "test@depi.local", When: time.Now()},
	})
	require.NoError(w.T, err, "Failed to commit")
	return hash.String()
}

// Chdir makes the workspace the working directory until the test ends.
func (w *Workspace) Chdir() {
	w.T.Helper()
	original, err := os.Getwd()
	require.NoError(w.T, err)
	require.NoError(w.T, os.Chdir(w.Root), "Failed to change to workspace")
	w.T.Cleanup(func() { os.Chdir(original) })
}
