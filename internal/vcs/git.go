package vcs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	defaultRemote      = "origin"
	defaultAuthorName  = "backlogd"
	defaultAuthorEmail = "backlogd@fyrsmithlabs.dev"
)

// Options configures a GitClient.
type Options struct {
	// Remote to push to. Defaults to "origin".
	Remote string

	// Repository is the GitHub "owner/name" pull requests are opened
	// against. Empty disables PR creation.
	Repository string

	// Token authenticates pushes and the GitHub API. Empty disables
	// PR creation and uses the ambient credential helper for pushes.
	Token string

	// AuthorName and AuthorEmail are used for commits.
	AuthorName  string
	AuthorEmail string

	// GitHubBaseURL overrides the GitHub API endpoint (tests,
	// GitHub Enterprise).
	GitHubBaseURL string

	Logger *zap.Logger
}

// GitClient implements Client over a local worktree with go-git.
type GitClient struct {
	path string
	opts Options
}

// NewGitClient opens the repository at path. The path must already be
// a git worktree; the orchestrator's workspace is cloned by the
// surrounding system before a run starts.
func NewGitClient(path string, opts Options) (*GitClient, error) {
	if _, err := git.PlainOpen(path); err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", path, err)
	}
	if opts.Remote == "" {
		opts.Remote = defaultRemote
	}
	if opts.AuthorName == "" {
		opts.AuthorName = defaultAuthorName
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = defaultAuthorEmail
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &GitClient{path: path, opts: opts}, nil
}

func (c *GitClient) open() (*git.Repository, *git.Worktree, error) {
	repo, err := git.PlainOpen(c.path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, nil, fmt.Errorf("opening worktree: %w", err)
	}
	return repo, wt, nil
}

// HasPendingChanges reports whether the worktree is dirty.
func (c *GitClient) HasPendingChanges() (bool, error) {
	_, wt, err := c.open()
	if err != nil {
		return false, err
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("reading worktree status: %w", err)
	}
	return !status.IsClean(), nil
}

// StageAll stages every modification and untracked file.
func (c *GitClient) StageAll() error {
	_, wt, err := c.open()
	if err != nil {
		return err
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("staging changes: %w", err)
	}
	return nil
}

// Commit records the staged changes.
func (c *GitClient) Commit(message string) error {
	_, wt, err := c.open()
	if err != nil {
		return err
	}
	if _, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  c.opts.AuthorName,
			Email: c.opts.AuthorEmail,
			When:  time.Now(),
		},
	}); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// CurrentCommitID returns the hash HEAD points at.
func (c *GitClient) CurrentCommitID() (string, error) {
	repo, _, err := c.open()
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// CurrentBranch returns the short name of the checked-out branch, or
// "" on a detached HEAD.
func (c *GitClient) CurrentBranch() (string, error) {
	repo, _, err := c.open()
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// Push pushes the current branch to the configured remote.
func (c *GitClient) Push(ctx context.Context) error {
	repo, _, err := c.open()
	if err != nil {
		return err
	}
	pushOpts := &git.PushOptions{RemoteName: c.opts.Remote}
	if c.opts.Token != "" {
		// Token auth over HTTPS; username is ignored by GitHub but
		// must be non-empty.
		pushOpts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: c.opts.Token}
	}
	if err := repo.PushContext(ctx, pushOpts); err != nil {
		if err == git.NoErrAlreadyUpToDate {
			return nil
		}
		return fmt.Errorf("pushing to %s: %w", c.opts.Remote, err)
	}
	return nil
}

// CreatePullRequest opens a pull request for the current branch.
// Returns "" without error when GitHub access is not configured.
func (c *GitClient) CreatePullRequest(ctx context.Context, title, body string, draft bool, baseBranch string) (string, error) {
	if c.opts.Token == "" || c.opts.Repository == "" {
		c.opts.Logger.Info("pull request creation skipped: no GitHub repository/token configured")
		return "", nil
	}

	owner, name, ok := strings.Cut(c.opts.Repository, "/")
	if !ok {
		return "", fmt.Errorf("invalid repository %q (expected owner/name)", c.opts.Repository)
	}

	branch, err := c.CurrentBranch()
	if err != nil {
		return "", err
	}
	if branch == "" {
		return "", fmt.Errorf("cannot open pull request from a detached HEAD")
	}
	if baseBranch == "" {
		baseBranch = "main"
	}

	gh, err := c.githubClient(ctx)
	if err != nil {
		return "", err
	}

	pr, _, err := gh.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
		Title: github.String(title),
		Body:  github.String(body),
		Head:  github.String(branch),
		Base:  github.String(baseBranch),
		Draft: github.Bool(draft),
	})
	if err != nil {
		return "", fmt.Errorf("creating pull request: %w", err)
	}
	return pr.GetHTMLURL(), nil
}

func (c *GitClient) githubClient(ctx context.Context) (*github.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.opts.Token})
	gh := github.NewClient(oauth2.NewClient(ctx, ts))
	if c.opts.GitHubBaseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(c.opts.GitHubBaseURL, c.opts.GitHubBaseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring GitHub endpoint: %w", err)
		}
	}
	return gh, nil
}
