package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/backlogd/internal/backlog"
	"github.com/fyrsmithlabs/backlogd/internal/gates"
)

// learningsKept bounds the learnings log to the most recent entries.
const learningsKept = 10

// truncateAt bounds per-entry changes/learnings text.
const truncateAt = 200

// Loop is the orchestration state machine for one run.
type Loop struct {
	cfg       RunConfig
	worker    WorkerClient
	gates     GateRunner
	finalizer RunFinalizer
	logger    *zap.Logger

	state       State
	iteration   int
	consecFails int
	learnings   []string
	current     *backlog.Story
	lastVerdict bool
	lastOutcome outcomeSummary
	abortReason string
}

// outcomeSummary is what UPDATING keeps from a dispatch; the full
// WorkerOutcome is not retained past the iteration.
type outcomeSummary struct {
	changes   string
	learnings string
}

// NewLoop builds a loop from an explicit run configuration. The
// finalizer may be nil when version control is not configured.
func NewLoop(cfg RunConfig, worker WorkerClient, gateRunner GateRunner, finalizer RunFinalizer, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	initMetricsOnce()
	return &Loop{
		cfg:       cfg,
		worker:    worker,
		gates:     gateRunner,
		finalizer: finalizer,
		logger:    logger,
		state:     StateSelecting,
	}
}

// State returns the loop's current state.
func (l *Loop) State() State { return l.state }

// Run executes the loop until a terminal state and returns the run
// result. Dispatch and gate failures never propagate as errors; the
// only non-success outcomes are budget exhaustion and an empty
// backlog, both reported on the result.
func (l *Loop) Run(ctx context.Context) *Result {
	start := time.Now()
	l.logger.Info("starting orchestration run",
		zap.String("task", l.cfg.TaskName),
		zap.String("worker_endpoint", l.cfg.WorkerEndpoint),
		zap.Int("max_iterations", l.cfg.Limits.MaxIterations),
		zap.Int("max_consecutive_failures", l.cfg.Limits.MaxConsecutiveFailures),
		zap.Int("quality_gates", len(l.cfg.Gates)),
		zap.Int("stories", len(l.cfg.Backlog.Stories)),
	)

	for l.state != StateComplete && l.state != StateAborted {
		switch l.state {
		case StateSelecting:
			l.stepSelect()
		case StateDispatching:
			l.stepDispatch(ctx)
		case StateVerifying:
			l.stepVerify(ctx)
		case StateUpdating:
			l.stepUpdate()
		}
	}

	res := l.buildResult(ctx)
	runDuration.Record(ctx, time.Since(start).Seconds())

	l.logger.Info("orchestration run finished",
		zap.Bool("passed", res.Passed),
		zap.String("abort_reason", res.AbortReason),
		zap.Int("completed", res.CompletedTasks),
		zap.Int("total", res.TotalTasks),
		zap.Int("iterations", res.Iterations),
	)
	return res
}

// stepSelect implements SELECTING: completion and no-task detection,
// otherwise story selection.
func (l *Loop) stepSelect() {
	if len(l.cfg.Backlog.Stories) == 0 {
		l.abort(AbortNoTasks)
		return
	}

	story := l.cfg.Backlog.Next()
	if story == nil {
		l.state = StateComplete
		return
	}

	l.current = story
	l.state = StateDispatching
}

// stepDispatch implements DISPATCHING: one synchronous worker call. A
// dispatch error counts against the failure budget and leaves the
// story's pass flag untouched, so the story stays eligible for
// reselection.
func (l *Loop) stepDispatch(ctx context.Context) {
	l.iteration++
	iterationsTotal.Add(ctx, 1)
	l.logger.Info("iteration started",
		zap.Int("iteration", l.iteration),
		zap.String("task_id", l.current.ID),
		zap.String("task_title", l.current.Title),
	)

	outcome, err := l.worker.Dispatch(ctx, l.current, l.cfg.Context)
	if err != nil {
		dispatchFailures.Add(ctx, 1)
		l.consecFails++
		l.learn(fmt.Sprintf("Iteration %d: Task %s failed - %s", l.iteration, l.current.ID, err.Error()))
		l.logger.Error("worker dispatch failed",
			zap.String("task_id", l.current.ID),
			zap.Int("consecutive_failures", l.consecFails),
			zap.Error(err),
		)

		switch {
		case l.consecFails >= l.cfg.Limits.MaxConsecutiveFailures:
			l.abort(AbortConsecutiveFailures)
		case l.iteration >= l.cfg.Limits.MaxIterations:
			l.abort(AbortMaxIterations)
		default:
			l.state = StateSelecting
		}
		return
	}

	l.lastVerdict = outcome.Passed
	l.lastOutcome = outcomeSummary{changes: outcome.Changes, learnings: outcome.Learnings}
	if outcome.Degraded {
		l.logger.Warn("worker reply degraded to failed outcome", zap.String("task_id", l.current.ID))
	}
	l.state = StateVerifying
}

// stepVerify implements VERIFYING: a worker-reported failure is
// authoritative and skips the gates; a claimed pass must also survive
// every blocking gate.
func (l *Loop) stepVerify(ctx context.Context) {
	if l.lastVerdict && len(l.cfg.Gates) > 0 {
		allPassed, results := l.gates.Run(ctx, l.cfg.Gates)
		gateExecutions.Add(ctx, int64(len(results)))
		if !allPassed {
			l.lastVerdict = false
			l.lastOutcome.learnings = appendGateFailures(l.lastOutcome.learnings, results)
			l.logger.Warn("quality gates failed, marking task as not passed",
				zap.String("task_id", l.current.ID),
			)
		}
	}
	l.state = StateUpdating
}

// stepUpdate implements UPDATING: record the verdict, maintain the
// failure streak, log a learnings entry, and enforce both budgets.
func (l *Loop) stepUpdate() {
	l.cfg.Backlog.Mark(l.current.ID, l.lastVerdict)

	if l.lastVerdict {
		l.consecFails = 0
		l.logger.Info("task passed", zap.String("task_id", l.current.ID))
	} else {
		l.consecFails++
		l.logger.Warn("task failed",
			zap.String("task_id", l.current.ID),
			zap.Int("consecutive_failures", l.consecFails),
		)
	}

	entry := fmt.Sprintf("Iteration %d: Task %s %s", l.iteration, l.current.ID, verdictWord(l.lastVerdict))
	if l.lastOutcome.learnings != "" {
		entry += " - " + truncateText(l.lastOutcome.learnings)
	}
	if l.lastOutcome.changes != "" {
		entry += " | Changes: " + truncateText(l.lastOutcome.changes)
	}
	l.learn(entry)

	l.logger.Info("progress",
		zap.Int("completed", l.cfg.Backlog.CompletedCount()),
		zap.Int("total", len(l.cfg.Backlog.Stories)),
	)

	switch {
	case !l.lastVerdict && l.consecFails >= l.cfg.Limits.MaxConsecutiveFailures:
		l.abort(AbortConsecutiveFailures)
	case l.cfg.Backlog.AllComplete():
		l.state = StateComplete
	case l.iteration >= l.cfg.Limits.MaxIterations:
		l.abort(AbortMaxIterations)
	default:
		l.state = StateSelecting
	}
}

func (l *Loop) abort(reason string) {
	l.abortReason = reason
	l.state = StateAborted
}

// learn appends to the bounded learnings log, keeping the most recent
// entries only.
func (l *Loop) learn(entry string) {
	l.learnings = append(l.learnings, entry)
	if len(l.learnings) > learningsKept {
		l.learnings = l.learnings[len(l.learnings)-learningsKept:]
	}
}

func (l *Loop) buildResult(ctx context.Context) *Result {
	complete := l.cfg.Backlog.AllComplete()
	res := &Result{
		Passed:         l.state == StateComplete && complete,
		AbortReason:    l.abortReason,
		CompletedTasks: l.cfg.Backlog.CompletedCount(),
		TotalTasks:     len(l.cfg.Backlog.Stories),
		Iterations:     l.iteration,
		Backlog:        l.cfg.Backlog,
		Learnings:      strings.Join(l.learnings, "\n"),
	}

	if res.Passed && l.cfg.Git != nil && l.finalizer != nil {
		l.logger.Info("starting finalization")
		fin := l.finalizer.Finalize(ctx, l.cfg.Backlog, l.cfg.TaskName)
		res.Finalization = &fin
	}

	return res
}

// appendGateFailures folds failing gate names and details into the
// learnings text so the next attempt sees what blocked this one.
func appendGateFailures(learnings string, results []gates.Result) string {
	var failed []string
	for _, r := range results {
		if !r.Passed {
			if r.Detail != "" {
				failed = append(failed, fmt.Sprintf("%s (%s)", r.Name, r.Detail))
			} else {
				failed = append(failed, fmt.Sprintf("%s (exit %d)", r.Name, r.ExitCode))
			}
		}
	}
	if len(failed) == 0 {
		return learnings
	}
	suffix := "Quality gates failed: " + strings.Join(failed, ", ")
	if learnings == "" {
		return suffix
	}
	return learnings + "\n" + suffix
}

func verdictWord(passed bool) string {
	if passed {
		return "passed"
	}
	return "failed"
}

func truncateText(s string) string {
	if len(s) <= truncateAt {
		return s
	}
	return s[:truncateAt]
}
