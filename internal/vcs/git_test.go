package vcs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a worktree with one initial commit.
func initRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	path := filepath.Join(dir, "README.md")
	require.NoError(t, os.WriteFile(path, []byte("# workspace\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	return dir, repo
}

func TestNewGitClient_NotARepo(t *testing.T) {
	_, err := NewGitClient(t.TempDir(), Options{})
	require.Error(t, err)
}

func TestHasPendingChanges(t *testing.T) {
	dir, _ := initRepo(t)
	c, err := NewGitClient(dir, Options{})
	require.NoError(t, err)

	dirty, err := c.HasPendingChanges()
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))

	dirty, err = c.HasPendingChanges()
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestStageAllAndCommit(t *testing.T) {
	dir, repo := initRepo(t)
	c, err := NewGitClient(dir, Options{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.go"), []byte("package main\n"), 0o644))
	require.NoError(t, c.StageAll())

	require.NoError(t, c.Commit("feat: add feature"))

	id, err := c.CurrentCommitID()
	require.NoError(t, err)
	assert.Len(t, id, 40)

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, id, head.Hash().String())

	dirty, err := c.HasPendingChanges()
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestCurrentBranch(t *testing.T) {
	dir, _ := initRepo(t)
	c, err := NewGitClient(dir, Options{})
	require.NoError(t, err)

	branch, err := c.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "master", branch)
}

func TestPush_LocalRemote(t *testing.T) {
	dir, repo := initRepo(t)

	bare := t.TempDir()
	_, err := git.PlainInit(bare, true)
	require.NoError(t, err)

	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{bare},
	})
	require.NoError(t, err)

	c, err := NewGitClient(dir, Options{})
	require.NoError(t, err)

	require.NoError(t, c.Push(context.Background()))
	// A second push with nothing new is not an error.
	require.NoError(t, c.Push(context.Background()))
}

func TestCreatePullRequest_SkippedWithoutConfig(t *testing.T) {
	dir, _ := initRepo(t)
	c, err := NewGitClient(dir, Options{})
	require.NoError(t, err)

	url, err := c.CreatePullRequest(context.Background(), "title", "body", true, "main")

	require.NoError(t, err)
	assert.Equal(t, "", url)
}

func TestCreatePullRequest_InvalidRepository(t *testing.T) {
	dir, _ := initRepo(t)
	c, err := NewGitClient(dir, Options{Token: "tok", Repository: "no-slash"})
	require.NoError(t, err)

	_, err = c.CreatePullRequest(context.Background(), "title", "body", true, "main")
	require.Error(t, err)
}

func TestCreatePullRequest_CallsGitHubAPI(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number": 7, "html_url": "https://github.com/acme/app/pull/7"}`))
	}))
	t.Cleanup(srv.Close)

	dir, _ := initRepo(t)
	c, err := NewGitClient(dir, Options{
		Token:         "tok",
		Repository:    "acme/app",
		GitHubBaseURL: srv.URL + "/",
	})
	require.NoError(t, err)

	url, err := c.CreatePullRequest(context.Background(), "Task: demo", "the body", true, "main")

	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/app/pull/7", url)
	assert.Equal(t, "Task: demo", got["title"])
	assert.Equal(t, "master", got["head"])
	assert.Equal(t, "main", got["base"])
	assert.Equal(t, true, got["draft"])
}
