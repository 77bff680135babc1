// Package publisher orchestrates one run of the sync-and-publish
// pipeline: extract, diff, transform, sign, publish, checkpoint.
package publisher

import (
	"fmt"
	"sync"
	"time"
)

// Outcome is the per-identifier result of a run.
type Outcome int

const (
	// OutcomePublished: the change API acknowledged the profile.
	OutcomePublished Outcome = iota
	// OutcomeRejected: service-side validation rejection. Stays
	// pending in the committed snapshot.
	OutcomeRejected
	// OutcomeFailed: transient failure after bounded retries. Stays
	// pending in the committed snapshot.
	OutcomeFailed
	// OutcomeSkipped: not published (dry run).
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomePublished:
		return "published"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// runResult accumulates per-identifier outcomes from publish workers.
type runResult struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
}

func newRunResult() *runResult {
	return &runResult{outcomes: make(map[string]Outcome)}
}

func (r *runResult) set(id string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[id] = outcome
}

// pending returns the identifiers whose change did not reach the
// service this run.
func (r *runResult) pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, outcome := range r.outcomes {
		if outcome != OutcomePublished {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *runResult) count(want Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, outcome := range r.outcomes {
		if outcome == want {
			n++
		}
	}
	return n
}

// Summary reports a completed (or aborted) run.
type Summary struct {
	Published        int
	Rejected         int
	Failed           int
	SkippedUnchanged int
	Removed          int
	Duration         time.Duration
	Committed        bool
}

// Pending is the number of identifiers left for the next run to retry.
func (s Summary) Pending() int {
	return s.Rejected + s.Failed
}

func (s Summary) String() string {
	return fmt.Sprintf("published=%d rejected=%d failed=%d unchanged=%d removed=%d pending=%d committed=%t duration=%s",
		s.Published, s.Rejected, s.Failed, s.SkippedUnchanged, s.Removed, s.Pending(), s.Committed, s.Duration.Round(time.Millisecond))
}
