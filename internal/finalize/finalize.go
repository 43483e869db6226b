// Package finalize turns a completed backlog into a commit, an
// optional push, and an optional pull request.
//
// Every sub-step failure is recorded on the result instead of aborting:
// a run that committed but could not push is still a successful run
// with a partial finalization.
package finalize

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/backlogd/internal/backlog"
	"github.com/fyrsmithlabs/backlogd/internal/vcs"
)

// GitConfig is the version-control section of a run configuration.
type GitConfig struct {
	AutoPush   *bool  `json:"autoPush,omitempty"`
	CreatePR   *bool  `json:"createPR,omitempty"`
	DraftPR    *bool  `json:"draftPR,omitempty"`
	BaseBranch string `json:"baseBranch,omitempty"`
	PRTitle    string `json:"prTitle,omitempty"`
	PRBody     string `json:"prBody,omitempty"`
	Remote     string `json:"remote,omitempty"`
	Repository string `json:"repository,omitempty"`
	Token      string `json:"token,omitempty"`
}

// autoPush, createPR, and draftPR all default to true, matching the
// run-configuration contract.
func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Result reports what finalization achieved. Partial success is
// normal: fields are filled in as far as the sequence got.
type Result struct {
	NoChanges      bool   `json:"noChanges,omitempty"`
	CommitID       string `json:"commitSha,omitempty"`
	Pushed         bool   `json:"pushed,omitempty"`
	PushError      string `json:"pushError,omitempty"`
	PullRequestURL string `json:"pullRequestUrl,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Finalizer sequences commit, push, and PR creation through a vcs.Client.
type Finalizer struct {
	client vcs.Client
	cfg    GitConfig
	logger *zap.Logger
}

// New creates a finalizer.
func New(client vcs.Client, cfg GitConfig, logger *zap.Logger) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{client: client, cfg: cfg, logger: logger}
}

// Finalize commits the workspace state, pushes, and opens a PR
// according to the git configuration. Invoked only when the loop
// reached completion.
func (f *Finalizer) Finalize(ctx context.Context, b *backlog.Backlog, taskName string) Result {
	var res Result

	dirty, err := f.client.HasPendingChanges()
	if err != nil {
		res.Error = fmt.Sprintf("checking pending changes: %v", err)
		return res
	}
	if !dirty {
		f.logger.Info("no changes to commit")
		res.NoChanges = true
		return res
	}

	if err := f.client.StageAll(); err != nil {
		res.Error = fmt.Sprintf("staging changes: %v", err)
		return res
	}

	msg := CommitMessage(b, taskName)
	if err := f.client.Commit(msg); err != nil {
		res.Error = fmt.Sprintf("committing: %v", err)
		return res
	}
	commitID, err := f.client.CurrentCommitID()
	if err != nil {
		f.logger.Warn("reading commit id failed", zap.Error(err))
	}
	res.CommitID = commitID
	f.logger.Info("committed run changes", zap.String("commit", commitID))

	if boolOr(f.cfg.AutoPush, true) {
		if err := f.client.Push(ctx); err != nil {
			// Push failure is partial success, not run failure.
			f.logger.Error("push failed", zap.Error(err))
			res.PushError = err.Error()
		} else {
			res.Pushed = true
		}
	}

	if boolOr(f.cfg.CreatePR, true) && res.Pushed {
		title := prTitle(f.cfg, taskName)
		body := PRBody(f.cfg, b, taskName)
		url, err := f.client.CreatePullRequest(ctx, title, body, boolOr(f.cfg.DraftPR, true), f.cfg.BaseBranch)
		if err != nil {
			f.logger.Warn("pull request creation failed", zap.Error(err))
		} else if url != "" {
			res.PullRequestURL = url
			f.logger.Info("pull request created", zap.String("url", url))
		}
	}

	return res
}

// CommitMessage summarizes completed vs. total stories. Fully complete
// backlogs get a feat: prefix, partial ones wip:.
func CommitMessage(b *backlog.Backlog, taskName string) string {
	title := b.Title
	if title == "" {
		title = taskName
	}

	var completed []backlog.Story
	for _, s := range b.Stories {
		if s.Passes {
			completed = append(completed, s)
		}
	}

	var msg strings.Builder
	if len(completed) == len(b.Stories) {
		fmt.Fprintf(&msg, "feat: %s - all %d tasks completed\n\nCompleted tasks:\n", title, len(b.Stories))
	} else {
		fmt.Fprintf(&msg, "wip: %s - %d/%d tasks completed\n\nCompleted tasks:\n", title, len(completed), len(b.Stories))
	}
	for _, s := range completed {
		fmt.Fprintf(&msg, "- %s\n", storyLabel(s))
	}
	return strings.TrimRight(msg.String(), "\n")
}

// PRBody renders the pull-request body. A caller-supplied template
// substitutes {task}, {completed}, and {total}; otherwise a default
// checked/unchecked task list is produced.
func PRBody(cfg GitConfig, b *backlog.Backlog, taskName string) string {
	completed := b.CompletedCount()
	total := len(b.Stories)

	if cfg.PRBody != "" {
		body := strings.ReplaceAll(cfg.PRBody, "{task}", taskName)
		body = strings.ReplaceAll(body, "{completed}", strconv.Itoa(completed))
		body = strings.ReplaceAll(body, "{total}", strconv.Itoa(total))
		return body
	}

	var body strings.Builder
	fmt.Fprintf(&body, "## Summary\n\nThis PR was automatically generated by backlogd run: **%s**\n\n", taskName)
	fmt.Fprintf(&body, "### Progress: %d/%d tasks completed\n\n### Completed Tasks\n", completed, total)
	for _, s := range b.Stories {
		if s.Passes {
			fmt.Fprintf(&body, "- [x] %s\n", storyLabel(s))
		}
	}
	if completed < total {
		body.WriteString("\n### Remaining Tasks\n")
		for _, s := range b.Stories {
			if !s.Passes {
				fmt.Fprintf(&body, "- [ ] %s\n", storyLabel(s))
			}
		}
	}
	return body.String()
}

func prTitle(cfg GitConfig, taskName string) string {
	if cfg.PRTitle != "" {
		return strings.ReplaceAll(cfg.PRTitle, "{task}", taskName)
	}
	return fmt.Sprintf("Task: %s", taskName)
}

func storyLabel(s backlog.Story) string {
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}
