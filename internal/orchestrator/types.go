// Package orchestrator drives the task-orchestration control loop:
// select the next incomplete story, dispatch it to the worker agent,
// verify the claimed result against quality gates, update backlog
// state, and decide when the run is complete or must abort.
//
// The loop is single-threaded and strictly sequential: at most one
// task is in flight, and gates for that task run one after another.
// Each run owns its backlog and counters; callers that share a
// workspace across runs must serialize them externally.
package orchestrator

import (
	"context"

	"github.com/fyrsmithlabs/backlogd/internal/backlog"
	"github.com/fyrsmithlabs/backlogd/internal/config"
	"github.com/fyrsmithlabs/backlogd/internal/dispatch"
	"github.com/fyrsmithlabs/backlogd/internal/finalize"
	"github.com/fyrsmithlabs/backlogd/internal/gates"
)

// State is one phase of the orchestration state machine.
type State string

const (
	// StateSelecting picks the next incomplete story.
	StateSelecting State = "selecting"

	// StateDispatching sends the selected story to the worker.
	StateDispatching State = "dispatching"

	// StateVerifying checks the worker's claim against quality gates.
	StateVerifying State = "verifying"

	// StateUpdating records the verdict and enforces budgets.
	StateUpdating State = "updating"

	// StateComplete is terminal: every story passes.
	StateComplete State = "complete"

	// StateAborted is terminal: a budget was exhausted or no stories
	// existed at start.
	StateAborted State = "aborted"
)

// Abort reasons reported on a non-success result.
const (
	AbortNoTasks             = "no tasks"
	AbortMaxIterations       = "max iterations reached"
	AbortConsecutiveFailures = "max consecutive failures reached"
)

// Limits are the run budgets. Both act as circuit breakers: the
// consecutive-failure budget stops retry storms, the iteration budget
// bounds the run overall.
type Limits struct {
	MaxIterations          int `json:"maxIterations"`
	MaxConsecutiveFailures int `json:"maxConsecutiveFailures"`
}

// RunConfig is the full configuration of one orchestration run. It is
// the JSON document the surrounding system hands to job mode.
type RunConfig struct {
	TaskName        string              `json:"taskName"`
	Backlog         *backlog.Backlog    `json:"prd"`
	WorkerEndpoint  string              `json:"workerEndpoint"`
	DispatchTimeout config.Duration     `json:"dispatchTimeout,omitempty"`
	Gates           []gates.Gate        `json:"qualityGates,omitempty"`
	Limits          Limits              `json:"limits"`
	Context         string              `json:"context,omitempty"`
	Git             *finalize.GitConfig `json:"git,omitempty"`
}

// Result is the structured outcome of one run. It always carries the
// final backlog snapshot, also on abort.
type Result struct {
	Passed         bool             `json:"passed"`
	AbortReason    string           `json:"abortReason,omitempty"`
	CompletedTasks int              `json:"completedTasks"`
	TotalTasks     int              `json:"totalTasks"`
	Iterations     int              `json:"iterations"`
	Backlog        *backlog.Backlog `json:"prd"`
	Learnings      string           `json:"learnings"`

	// Finalization is set when the run completed and version control
	// was configured.
	Finalization *finalize.Result `json:"finalization,omitempty"`
}

// WorkerClient is the dispatch boundary, satisfied by
// dispatch.Dispatcher.
type WorkerClient interface {
	Dispatch(ctx context.Context, story *backlog.Story, extra string) (*dispatch.Outcome, error)
}

// GateRunner is the verification boundary, satisfied by gates.Runner.
type GateRunner interface {
	Run(ctx context.Context, gs []gates.Gate) (bool, []gates.Result)
}

// RunFinalizer is the post-completion boundary, satisfied by
// finalize.Finalizer.
type RunFinalizer interface {
	Finalize(ctx context.Context, b *backlog.Backlog, taskName string) finalize.Result
}
