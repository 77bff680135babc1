package publisher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"idsync/cispublisher/cis"
	"idsync/cispublisher/directory"
	"idsync/cispublisher/profile"
	"idsync/cispublisher/snapshot"
)

// Directory fetches the full current record set.
type Directory interface {
	FetchAll(ctx context.Context) ([]directory.Record, error)
}

// SnapshotStore persists the diff baseline between runs.
type SnapshotStore interface {
	Load(ctx context.Context) (*snapshot.Snapshot, error)
	Commit(ctx context.Context, snap *snapshot.Snapshot) error
	WriteLastRun(ctx context.Context, marker snapshot.LastRun) error
}

// Signer signs a transformed profile.
type Signer interface {
	Sign(p profile.Profile, now time.Time) (profile.SignedProfile, error)
}

// ProfilePublisher submits one signed profile to the identity service.
type ProfilePublisher interface {
	Publish(ctx context.Context, sp profile.SignedProfile) error
}

// Runner sequences one run. It is the only component holding
// cross-cutting state, and that state lives for a single run only.
type Runner struct {
	Directory   Directory
	Store       SnapshotStore
	Signer      Signer
	Publisher   ProfilePublisher
	Tokens      cis.TokenSource
	NullProfile profile.Profile
	Prefix      string
	Workers     int
	DryRun      bool

	// Now is the run clock; defaults to time.Now.
	Now func() time.Time
}

type changeKind int

const (
	changeUpsert changeKind = iota
	changeRemove
)

type change struct {
	id   string
	kind changeKind
}

// Run executes the pipeline. The returned error is non-nil only for
// run-scoped failures (source unavailable, auth, signing, storage,
// deadline); per-record failures are reported through the Summary and
// left pending in the committed snapshot for the next run.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	start := now()

	prior := r.loadBaseline(ctx)
	if prior == nil {
		// Storage itself failed, not just a missing/corrupt blob.
		return Summary{}, fmt.Errorf("snapshot baseline unavailable")
	}

	records, err := r.Directory.FetchAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("extracting directory records: %w", err)
	}

	current := snapshot.New(records, start)
	diff := snapshot.Diff(prior, current)
	log.Printf("publisher: diff added=%d changed=%d removed=%d unchanged=%d",
		len(diff.Added), len(diff.Changed), len(diff.Removed), len(diff.Unchanged))

	summary := Summary{
		SkippedUnchanged: len(diff.Unchanged),
		Removed:          len(diff.Removed),
	}

	if diff.ChangeCount() == 0 {
		return r.commit(ctx, prior, current, newRunResult(), summary, start, now)
	}

	// Authenticate once, lazily, before any publish work starts. An
	// auth failure aborts the run with the entire delta left pending.
	if !r.DryRun {
		if _, err := r.Tokens.Token(ctx); err != nil {
			return Summary{}, fmt.Errorf("authenticating publisher: %w", err)
		}
	}

	changes := make([]change, 0, diff.ChangeCount())
	for _, id := range diff.Added {
		changes = append(changes, change{id: id, kind: changeUpsert})
	}
	for _, id := range diff.Changed {
		changes = append(changes, change{id: id, kind: changeUpsert})
	}
	for _, id := range diff.Removed {
		changes = append(changes, change{id: id, kind: changeRemove})
	}

	result := newRunResult()
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.workerLimit())

	for _, c := range changes {
		c := c
		group.Go(func() error {
			return r.process(groupCtx, c, current, result)
		})
	}

	if err := group.Wait(); err != nil {
		// Run-scoped failure (signing, auth, deadline): abort with no
		// commit so the next run retries the whole delta.
		return Summary{}, err
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, fmt.Errorf("run cancelled before commit: %w", err)
	}

	return r.commit(ctx, prior, current, result, summary, start, now)
}

// process transforms, signs, and publishes one change, recording its
// outcome. Only run-scoped failures propagate as errors.
func (r *Runner) process(ctx context.Context, c change, current *snapshot.Snapshot, result *runResult) error {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	var doc profile.Profile
	switch c.kind {
	case changeUpsert:
		doc = profile.Transform(current.Records[c.id], r.Prefix, r.NullProfile, now())
	case changeRemove:
		doc = profile.Tombstone(c.id, r.Prefix, r.NullProfile, now())
	}

	signed, err := r.Signer.Sign(doc, now())
	if err != nil {
		// A profile is never published unsigned; signing failure
		// aborts the run.
		return fmt.Errorf("signing profile for %s: %w", c.id, err)
	}

	if r.DryRun {
		result.set(c.id, OutcomeSkipped)
		return nil
	}

	if err := r.Publisher.Publish(ctx, signed); err != nil {
		switch {
		case errors.Is(err, cis.ErrAuth):
			return fmt.Errorf("publishing %s: %w", c.id, err)
		case cis.IsRejected(err):
			log.Printf("publisher: %s rejected: %v", c.id, err)
			result.set(c.id, OutcomeRejected)
		default:
			log.Printf("publisher: %s failed: %v", c.id, err)
			result.set(c.id, OutcomeFailed)
		}
		return nil
	}

	result.set(c.id, OutcomePublished)
	return nil
}

// commit merges publish outcomes into the snapshot and replaces the
// stored baseline. Identifiers whose publish did not succeed keep their
// prior content (or prior absence), so the next run's diff naturally
// re-attempts them.
func (r *Runner) commit(ctx context.Context, prior, current *snapshot.Snapshot, result *runResult,
	summary Summary, start time.Time, now func() time.Time) (Summary, error) {

	summary.Published = result.count(OutcomePublished)
	summary.Rejected = result.count(OutcomeRejected)
	summary.Failed = result.count(OutcomeFailed)
	summary.Duration = now().Sub(start)

	if r.DryRun {
		log.Printf("publisher: dry run, snapshot not committed")
		return summary, nil
	}

	toCommit := current.Clone()
	for _, id := range result.pending() {
		if priorRec, ok := prior.Records[id]; ok {
			toCommit.Records[id] = priorRec
		} else {
			delete(toCommit.Records, id)
		}
	}

	if err := r.Store.Commit(ctx, toCommit); err != nil {
		return summary, fmt.Errorf("committing snapshot: %w", err)
	}
	summary.Committed = true

	marker := snapshot.LastRun{
		CompletedAt: now(),
		Published:   summary.Published,
		Failed:      summary.Failed,
		Pending:     summary.Pending(),
	}
	if err := r.Store.WriteLastRun(ctx, marker); err != nil {
		// The marker is operational signal only; a failed write does
		// not invalidate the committed snapshot.
		log.Printf("publisher: writing last-run marker failed: %v", err)
	}

	return summary, nil
}

// loadBaseline returns the prior snapshot, an empty baseline when none
// exists, or nil when storage itself is unavailable. A corrupt snapshot
// is logged loudly and treated as absent: it forces a full republish
// rather than silently suppressing one.
func (r *Runner) loadBaseline(ctx context.Context) *snapshot.Snapshot {
	prior, err := r.Store.Load(ctx)
	switch {
	case err == nil:
		return prior
	case errors.Is(err, snapshot.ErrNotFound):
		log.Printf("publisher: no prior snapshot, publishing full directory")
		return snapshot.Empty()
	case errors.Is(err, snapshot.ErrCorrupt):
		log.Printf("publisher: CORRUPT SNAPSHOT, forcing full republish: %v", err)
		return snapshot.Empty()
	default:
		log.Printf("publisher: snapshot load failed: %v", err)
		return nil
	}
}

func (r *Runner) workerLimit() int {
	if r.Workers > 0 {
		return r.Workers
	}
	return 32
}
