// Package dispatch sends task briefs to the worker agent endpoint and
// normalizes whatever comes back into a well-typed outcome.
//
// The worker boundary is a single synchronous POST to /invoke. The
// dispatcher never mutates the backlog; its only side effect is the
// outbound call. A malformed worker reply is never an error: it
// degrades into a failed outcome carrying the raw text, so the
// orchestration loop always has something typed to act on.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/backlogd/internal/backlog"
)

// ErrorKind classifies dispatch failures.
type ErrorKind string

const (
	// KindTimeout indicates the worker did not answer within the
	// dispatch timeout.
	KindTimeout ErrorKind = "timeout"

	// KindTransport covers every other request failure: connection
	// refused, protocol errors, non-2xx status.
	KindTransport ErrorKind = "transport"
)

// Error is a dispatch failure. It leaves the task's pass flag
// untouched; the loop retries via reselection within its failure
// budget.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("worker dispatch failed (%s): %s", e.Kind, e.Detail)
}

// Outcome is the normalized result of one dispatch.
//
// Degraded marks outcomes synthesized from replies that did not carry
// a result object with a passed boolean. Degraded outcomes are always
// failed and keep the raw reply (truncated) in Learnings.
type Outcome struct {
	Passed    bool
	Changes   string
	Learnings string
	Err       string
	Degraded  bool
}

// maxRawBytes bounds the raw text kept on a degraded outcome.
const maxRawBytes = 2000

// Dispatcher sends task briefs to a worker endpoint.
type Dispatcher struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// New creates a dispatcher for the given host:port endpoint. The
// timeout bounds the full request; the worker may take minutes.
func New(endpoint string, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// invokeRequest is the wire format of the worker boundary.
type invokeRequest struct {
	Query    string            `json:"query"`
	Metadata map[string]string `json:"metadata"`
}

// invokeResponse is the envelope the worker answers with. Result stays
// raw: its shape is validated separately so malformed payloads degrade
// instead of failing the decode.
type invokeResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// workerResult is the shape a well-behaved worker returns.
type workerResult struct {
	Passed    *bool  `json:"passed"`
	Changes   string `json:"changes"`
	Learnings string `json:"learnings"`
	Error     string `json:"error"`
}

// Dispatch sends one task to the worker and waits for its reply.
func (d *Dispatcher) Dispatch(ctx context.Context, story *backlog.Story, extra string) (*Outcome, error) {
	brief := BuildBrief(story, extra)

	body, err := json.Marshal(invokeRequest{
		Query:    brief,
		Metadata: map[string]string{"taskId": story.ID},
	})
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: err.Error()}
	}

	url := fmt.Sprintf("http://%s/invoke", d.endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	d.logger.Info("dispatching task to worker",
		zap.String("task_id", story.ID),
		zap.String("task_title", story.Title),
		zap.String("endpoint", d.endpoint),
	)

	resp, err := d.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &Error{Kind: KindTimeout, Detail: "worker request timed out"}
		}
		return nil, &Error{Kind: KindTransport, Detail: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Kind:   KindTransport,
			Detail: fmt.Sprintf("worker returned status %d: %s", resp.StatusCode, truncateRaw(string(raw))),
		}
	}

	outcome := normalize(raw)
	d.logger.Info("worker responded",
		zap.String("task_id", story.ID),
		zap.Bool("passed", outcome.Passed),
		zap.Bool("degraded", outcome.Degraded),
	)
	return outcome, nil
}

// normalize turns a raw worker reply into an Outcome. Replies whose
// result object carries a passed boolean are Normalized; everything
// else degrades to a failed outcome preserving the raw text.
func normalize(raw []byte) *Outcome {
	var envelope invokeResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return degraded(string(raw))
	}
	if len(envelope.Result) == 0 {
		return degraded(string(raw))
	}

	var res workerResult
	if err := json.Unmarshal(envelope.Result, &res); err != nil || res.Passed == nil {
		return degraded(string(envelope.Result))
	}

	return &Outcome{
		Passed:    *res.Passed,
		Changes:   res.Changes,
		Learnings: res.Learnings,
		Err:       res.Error,
	}
}

func degraded(raw string) *Outcome {
	return &Outcome{
		Passed:    false,
		Learnings: truncateRaw(raw),
		Degraded:  true,
	}
}

func truncateRaw(s string) string {
	if len(s) <= maxRawBytes {
		return s
	}
	return s[:maxRawBytes]
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
