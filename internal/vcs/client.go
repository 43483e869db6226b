// Package vcs wraps the version-control operations the finalizer
// sequences: pending-change detection, staging, commit, push, and
// pull-request creation.
//
// Local repository operations use go-git against the run workspace.
// Pull requests go through the GitHub API; when no token or repository
// is configured, PR creation is a silent no-op rather than an error so
// runs without GitHub access still finalize locally.
package vcs

import "context"

// Client is the version-control boundary used by the finalizer.
type Client interface {
	// HasPendingChanges reports whether the worktree has any
	// uncommitted modifications or untracked files.
	HasPendingChanges() (bool, error)

	// StageAll stages every change in the worktree.
	StageAll() error

	// Commit records staged changes.
	Commit(message string) error

	// CurrentCommitID returns the hash HEAD points at.
	CurrentCommitID() (string, error)

	// Push pushes the current branch to the configured remote.
	Push(ctx context.Context) error

	// CreatePullRequest opens a PR for the current branch and returns
	// its URL, or "" when PR creation is not configured.
	CreatePullRequest(ctx context.Context, title, body string, draft bool, baseBranch string) (string, error)
}
