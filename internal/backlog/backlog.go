// Package backlog holds the in-memory representation of a PRD backlog:
// an ordered list of stories with pass/fail state, plus selection and
// status-update operations used by the orchestration loop.
//
// The backlog is pure data. It is parsed once per run from an external
// PRD document, mutated in place by the orchestrator, and returned as
// part of the final run result. It is never shared across runs; callers
// that need an independent copy use Clone.
package backlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrEmptyBacklog indicates a PRD with no stories.
	ErrEmptyBacklog = errors.New("backlog contains no stories")

	// ErrDuplicateStoryID indicates two stories share an identifier.
	ErrDuplicateStoryID = errors.New("duplicate story id")

	// ErrNoPRDFound indicates a query carried no fenced PRD document.
	ErrNoPRDFound = errors.New("no PRD document found in query")
)

// Story is one unit of work with acceptance criteria and a pass flag.
// Field names match the external PRD document format.
type Story struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Priority           int      `json:"priority"`
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`
	Passes             bool     `json:"passes"`
}

// Backlog is the full set of stories targeted by one orchestration run.
type Backlog struct {
	Title   string  `json:"title,omitempty"`
	Stories []Story `json:"stories"`
}

// Parse decodes and validates a PRD document.
//
// A backlog with zero stories or duplicate story IDs is rejected; the
// orchestrator treats both as malformed input at run start.
func Parse(data []byte) (*Backlog, error) {
	var b Backlog
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing PRD document: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks backlog invariants: at least one story, unique IDs.
func (b *Backlog) Validate() error {
	if len(b.Stories) == 0 {
		return ErrEmptyBacklog
	}
	seen := make(map[string]struct{}, len(b.Stories))
	for _, s := range b.Stories {
		if s.ID == "" {
			return fmt.Errorf("story %q has no id", s.Title)
		}
		if _, ok := seen[s.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateStoryID, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// Next selects the incomplete story with the lowest priority value.
// Ties preserve original backlog order. Returns nil when every story
// passes, which the loop reads as the completion signal.
func (b *Backlog) Next() *Story {
	var candidates []int
	for i, s := range b.Stories {
		if !s.Passes {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return b.Stories[candidates[i]].Priority < b.Stories[candidates[j]].Priority
	})
	return &b.Stories[candidates[0]]
}

// Mark sets the pass flag on the story with the given ID. Returns false
// when no story matches.
func (b *Backlog) Mark(id string, passed bool) bool {
	for i := range b.Stories {
		if b.Stories[i].ID == id {
			b.Stories[i].Passes = passed
			return true
		}
	}
	return false
}

// AllComplete reports whether every story passes. A backlog with zero
// stories is never complete.
func (b *Backlog) AllComplete() bool {
	if len(b.Stories) == 0 {
		return false
	}
	for _, s := range b.Stories {
		if !s.Passes {
			return false
		}
	}
	return true
}

// CompletedCount returns the number of passing stories.
func (b *Backlog) CompletedCount() int {
	n := 0
	for _, s := range b.Stories {
		if s.Passes {
			n++
		}
	}
	return n
}

// Clone returns a deep copy. Each orchestration run owns its copy so
// concurrent runs never share mutable backlog state.
func (b *Backlog) Clone() *Backlog {
	out := &Backlog{Title: b.Title, Stories: make([]Story, len(b.Stories))}
	copy(out.Stories, b.Stories)
	for i := range out.Stories {
		if len(b.Stories[i].AcceptanceCriteria) > 0 {
			out.Stories[i].AcceptanceCriteria = append([]string(nil), b.Stories[i].AcceptanceCriteria...)
		}
	}
	return out
}
