// Package gates executes quality-gate commands against a run workspace.
//
// Gates run strictly sequentially in the order configured: a lint gate
// may depend on a prior build gate having populated the workspace, so
// ordering is a caller contract. Every configured gate always runs and
// is always reported, even when an earlier gate failed.
package gates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/backlogd/internal/config"
)

// FailurePolicy controls whether a failing gate blocks task completion.
type FailurePolicy string

const (
	// PolicyFail blocks task completion when the gate fails.
	PolicyFail FailurePolicy = "Fail"

	// PolicyWarn records the failure but never blocks completion.
	PolicyWarn FailurePolicy = "Warn"
)

// Detail classifies why a gate failed beyond a plain non-zero exit.
type Detail string

const (
	DetailTimeout  Detail = "timeout"
	DetailNotFound Detail = "not_found"
)

// maxOutputBytes bounds captured stdout/stderr per gate so results stay
// serialization-safe.
const maxOutputBytes = 2000

const defaultTimeout = 60 * time.Second

// Gate is one verification command run after a worker claims success.
type Gate struct {
	Name          string          `json:"name" koanf:"name"`
	Command       []string        `json:"command" koanf:"command"`
	Timeout       config.Duration `json:"timeout" koanf:"timeout"`
	FailurePolicy FailurePolicy   `json:"failurePolicy" koanf:"failure_policy"`
}

// Result captures one gate execution.
type Result struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	ExitCode int           `json:"exitCode"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Detail   Detail        `json:"detail,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Runner executes gates in a workspace directory.
type Runner struct {
	workspace string
	logger    *zap.Logger
}

// NewRunner creates a runner rooted at the given workspace.
func NewRunner(workspace string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{workspace: workspace, logger: logger}
}

// Run executes every gate in order and aggregates the verdict.
//
// allPassed is the conjunction of gates with PolicyFail; a failing
// PolicyWarn gate is recorded but never flips the verdict. A timeout or
// unresolvable command fails that gate only and the sequence continues.
func (r *Runner) Run(ctx context.Context, gs []Gate) (allPassed bool, results []Result) {
	allPassed = true
	results = make([]Result, 0, len(gs))

	for _, g := range gs {
		res := r.runOne(ctx, g)
		results = append(results, res)

		if !res.Passed && g.FailurePolicy != PolicyWarn {
			allPassed = false
		}

		r.logger.Info("quality gate finished",
			zap.String("gate", g.Name),
			zap.Bool("passed", res.Passed),
			zap.String("detail", string(res.Detail)),
			zap.Duration("elapsed", res.Elapsed),
		)
	}

	return allPassed, results
}

func (r *Runner) runOne(ctx context.Context, g Gate) Result {
	res := Result{Name: g.Name}

	if len(g.Command) == 0 {
		res.Detail = DetailNotFound
		res.ExitCode = -1
		return res
	}

	timeout := g.Timeout.Std()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	gctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(gctx, g.Command[0], g.Command[1:]...)
	cmd.Dir = r.workspace
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res.Elapsed = time.Since(start)
	res.Stdout = truncate(stdout.String())
	res.Stderr = truncate(stderr.String())

	switch {
	case gctx.Err() == context.DeadlineExceeded:
		res.Detail = DetailTimeout
		res.ExitCode = -1
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			// Command could not be started at all (not on PATH,
			// not executable, bad workspace).
			res.Detail = DetailNotFound
			res.ExitCode = -1
			res.Stderr = truncate(err.Error())
		}
	default:
		res.Passed = true
	}

	return res
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes]
}

// Validate rejects gates that could never run.
func (g Gate) Validate() error {
	if g.Name == "" {
		return errors.New("gate name is required")
	}
	if len(g.Command) == 0 {
		return fmt.Errorf("gate %s: command is required", g.Name)
	}
	switch g.FailurePolicy {
	case "", PolicyFail, PolicyWarn:
		return nil
	default:
		return fmt.Errorf("gate %s: unknown failure policy %q", g.Name, g.FailurePolicy)
	}
}
