package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"idsync/cispublisher/directory"
	"idsync/cispublisher/storage"
)

var (
	// ErrNotFound indicates no snapshot has been committed yet. The
	// caller diffs against an empty baseline (full publish).
	ErrNotFound = errors.New("snapshot: not found")

	// ErrCorrupt indicates the stored blob failed decompression or
	// deserialization. Non-fatal: callers treat it as ErrNotFound so a
	// corrupt cache forces a full republish instead of suppressing one.
	ErrCorrupt = errors.New("snapshot: corrupt")
)

// Snapshot blobs are zstd-compressed JSON. The encoder and decoder are
// reused across calls; both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("snapshot: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("snapshot: zstd decoder initialization failed: " + err.Error())
	}
}

// LastRun is the marker object written after a successful commit.
// Nothing reads it for correctness; it is operational signal only.
type LastRun struct {
	CompletedAt time.Time `json:"completed_at"`
	Published   int       `json:"published"`
	Failed      int       `json:"failed"`
	Pending     int       `json:"pending"`
}

// Store persists snapshots through an object store. The atomic-replace
// contract of the underlying store is the sole synchronization point
// between runs.
type Store struct {
	objects     storage.ObjectStore
	snapshotKey string
	lastRunKey  string
}

func NewStore(objects storage.ObjectStore, snapshotKey, lastRunKey string) *Store {
	return &Store{
		objects:     objects,
		snapshotKey: snapshotKey,
		lastRunKey:  lastRunKey,
	}
}

// Load retrieves the current snapshot. Returns ErrNotFound when none
// has been committed and ErrCorrupt when the blob cannot be decoded.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	blob, err := s.objects.Get(ctx, s.snapshotKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}

	raw, err := zstdDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompression failed: %w", ErrCorrupt, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: deserialization failed: %w", ErrCorrupt, err)
	}
	if snap.Records == nil {
		snap.Records = map[string]directory.Record{}
	}
	return &snap, nil
}

// Commit atomically replaces the current snapshot.
func (s *Store) Commit(ctx context.Context, snap *Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("serializing snapshot: %w", err)
	}

	blob := zstdEncoder.EncodeAll(raw, nil)
	if err := s.objects.Put(ctx, s.snapshotKey, blob); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// WriteLastRun records the run marker beside the snapshot.
func (s *Store) WriteLastRun(ctx context.Context, marker LastRun) error {
	raw, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("serializing last-run marker: %w", err)
	}
	if err := s.objects.Put(ctx, s.lastRunKey, raw); err != nil {
		return fmt.Errorf("writing last-run marker: %w", err)
	}
	return nil
}
