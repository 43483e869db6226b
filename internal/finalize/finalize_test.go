package finalize

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/backlogd/internal/backlog"
)

// fakeClient scripts the vcs boundary.
type fakeClient struct {
	dirty     bool
	stageErr  error
	commitErr error
	pushErr   error
	prURL     string
	prErr     error

	staged       bool
	committedMsg string
	pushed       bool
	prTitle      string
	prBody       string
	prDraft      bool
	prBase       string
}

func (f *fakeClient) HasPendingChanges() (bool, error) { return f.dirty, nil }

func (f *fakeClient) StageAll() error {
	f.staged = true
	return f.stageErr
}

func (f *fakeClient) Commit(message string) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committedMsg = message
	return nil
}

func (f *fakeClient) CurrentCommitID() (string, error) {
	return "abc123def456", nil
}

func (f *fakeClient) Push(ctx context.Context) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = true
	return nil
}

func (f *fakeClient) CreatePullRequest(ctx context.Context, title, body string, draft bool, base string) (string, error) {
	f.prTitle, f.prBody, f.prDraft, f.prBase = title, body, draft, base
	return f.prURL, f.prErr
}

func twoStoryBacklog(passes ...bool) *backlog.Backlog {
	b := &backlog.Backlog{Title: "Auth service", Stories: []backlog.Story{
		{ID: "t1", Title: "Login", Priority: 1},
		{ID: "t2", Title: "Logout", Priority: 2},
	}}
	for i, p := range passes {
		b.Stories[i].Passes = p
	}
	return b
}

func boolPtr(v bool) *bool { return &v }

func TestFinalize_NoChanges(t *testing.T) {
	client := &fakeClient{dirty: false}
	f := New(client, GitConfig{}, nil)

	res := f.Finalize(context.Background(), twoStoryBacklog(true, true), "auth")

	assert.True(t, res.NoChanges)
	assert.False(t, client.staged)
	assert.Empty(t, res.CommitID)
}

func TestFinalize_FullSequence(t *testing.T) {
	client := &fakeClient{dirty: true, prURL: "https://github.com/acme/app/pull/3"}
	f := New(client, GitConfig{BaseBranch: "main"}, nil)

	res := f.Finalize(context.Background(), twoStoryBacklog(true, true), "auth")

	assert.True(t, client.staged)
	assert.Contains(t, client.committedMsg, "feat: Auth service - all 2 tasks completed")
	assert.Equal(t, "abc123def456", res.CommitID)
	assert.True(t, res.Pushed)
	assert.Equal(t, "https://github.com/acme/app/pull/3", res.PullRequestURL)
	assert.Equal(t, "Task: auth", client.prTitle)
	assert.True(t, client.prDraft, "draft defaults to true")
	assert.Equal(t, "main", client.prBase)
	assert.Empty(t, res.Error)
}

func TestFinalize_PushFailureIsPartialSuccess(t *testing.T) {
	client := &fakeClient{dirty: true, pushErr: errors.New("remote rejected")}
	f := New(client, GitConfig{}, nil)

	res := f.Finalize(context.Background(), twoStoryBacklog(true, true), "auth")

	assert.Equal(t, "abc123def456", res.CommitID)
	assert.False(t, res.Pushed)
	assert.Contains(t, res.PushError, "remote rejected")
	assert.Empty(t, res.PullRequestURL, "no PR without a successful push")
	assert.Empty(t, res.Error, "push failure is not a finalization error")
}

func TestFinalize_AutoPushDisabled(t *testing.T) {
	client := &fakeClient{dirty: true}
	f := New(client, GitConfig{AutoPush: boolPtr(false)}, nil)

	res := f.Finalize(context.Background(), twoStoryBacklog(true, true), "auth")

	assert.NotEmpty(t, res.CommitID)
	assert.False(t, res.Pushed)
	assert.False(t, client.pushed)
}

func TestFinalize_CreatePRDisabled(t *testing.T) {
	client := &fakeClient{dirty: true, prURL: "https://example.com/pr"}
	f := New(client, GitConfig{CreatePR: boolPtr(false)}, nil)

	res := f.Finalize(context.Background(), twoStoryBacklog(true, true), "auth")

	assert.True(t, res.Pushed)
	assert.Empty(t, res.PullRequestURL)
}

func TestFinalize_PRFailureIsNonFatal(t *testing.T) {
	client := &fakeClient{dirty: true, prErr: errors.New("api limit")}
	f := New(client, GitConfig{}, nil)

	res := f.Finalize(context.Background(), twoStoryBacklog(true, true), "auth")

	assert.True(t, res.Pushed)
	assert.Empty(t, res.PullRequestURL)
	assert.Empty(t, res.Error)
}

func TestFinalize_CommitErrorReported(t *testing.T) {
	client := &fakeClient{dirty: true, commitErr: errors.New("index locked")}
	f := New(client, GitConfig{}, nil)

	res := f.Finalize(context.Background(), twoStoryBacklog(true, true), "auth")

	assert.Contains(t, res.Error, "index locked")
	assert.Empty(t, res.CommitID)
}

func TestCommitMessage_Complete(t *testing.T) {
	msg := CommitMessage(twoStoryBacklog(true, true), "auth")

	assert.Contains(t, msg, "feat: Auth service - all 2 tasks completed")
	assert.Contains(t, msg, "- Login")
	assert.Contains(t, msg, "- Logout")
}

func TestCommitMessage_Partial(t *testing.T) {
	msg := CommitMessage(twoStoryBacklog(true, false), "auth")

	assert.Contains(t, msg, "wip: Auth service - 1/2 tasks completed")
	assert.Contains(t, msg, "- Login")
	assert.NotContains(t, msg, "- Logout")
}

func TestCommitMessage_FallsBackToTaskName(t *testing.T) {
	b := &backlog.Backlog{Stories: []backlog.Story{{ID: "t1", Passes: true}}}

	msg := CommitMessage(b, "nightly-run")

	assert.Contains(t, msg, "feat: nightly-run")
	assert.Contains(t, msg, "- t1", "stories without titles fall back to IDs")
}

func TestPRBody_Default(t *testing.T) {
	body := PRBody(GitConfig{}, twoStoryBacklog(true, false), "auth")

	assert.Contains(t, body, "Progress: 1/2 tasks completed")
	assert.Contains(t, body, "- [x] Login")
	assert.Contains(t, body, "### Remaining Tasks")
	assert.Contains(t, body, "- [ ] Logout")
}

func TestPRBody_NoRemainingSectionWhenComplete(t *testing.T) {
	body := PRBody(GitConfig{}, twoStoryBacklog(true, true), "auth")

	assert.NotContains(t, body, "Remaining Tasks")
}

func TestPRBody_Template(t *testing.T) {
	cfg := GitConfig{PRBody: "Run {task}: {completed} of {total} done"}

	body := PRBody(cfg, twoStoryBacklog(true, false), "auth")

	assert.Equal(t, "Run auth: 1 of 2 done", body)
}

func TestPRTitle_Template(t *testing.T) {
	assert.Equal(t, "Automated: auth", prTitle(GitConfig{PRTitle: "Automated: {task}"}, "auth"))
	assert.Equal(t, "Task: auth", prTitle(GitConfig{}, "auth"))
}
