package snapshot_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"idsync/cispublisher/directory"
	"idsync/cispublisher/snapshot"
	"idsync/cispublisher/storage"
)

// memStore is an in-memory ObjectStore for tests.
type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (m *memStore) Put(_ context.Context, key string, data []byte) error {
	m.objects[key] = data
	return nil
}

func TestStore_CommitAndLoad(t *testing.T) {
	objects := newMemStore()
	store := snapshot.NewStore(objects, "snap", "lastrun")
	ctx := context.Background()

	taken := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)
	snap := snapshot.New([]directory.Record{
		{ID: "u1", DN: "mail=u1,o=com", Attributes: map[string][]string{"mail": {"u1@example.com"}}},
	}, taken)

	if err := store.Commit(ctx, snap); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !loaded.Taken.Equal(taken) {
		t.Errorf("Taken = %v, want %v", loaded.Taken, taken)
	}
	rec, ok := loaded.Records["u1"]
	if !ok {
		t.Fatal("record u1 missing after round trip")
	}
	if rec.Attributes["mail"][0] != "u1@example.com" {
		t.Errorf("mail = %q, want u1@example.com", rec.Attributes["mail"][0])
	}
}

func TestStore_LoadMissing(t *testing.T) {
	store := snapshot.NewStore(newMemStore(), "snap", "lastrun")

	_, err := store.Load(context.Background())
	if !errors.Is(err, snapshot.ErrNotFound) {
		t.Errorf("Load returned %v, want ErrNotFound", err)
	}
}

func TestStore_LoadCorrupt(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{"not zstd", []byte("definitely not compressed")},
		{"truncated", []byte{0x28, 0xb5, 0x2f, 0xfd}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			objects := newMemStore()
			objects.objects["snap"] = test.blob
			store := snapshot.NewStore(objects, "snap", "lastrun")

			_, err := store.Load(context.Background())
			if !errors.Is(err, snapshot.ErrCorrupt) {
				t.Errorf("Load returned %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestStore_WriteLastRun(t *testing.T) {
	objects := newMemStore()
	store := snapshot.NewStore(objects, "snap", "lastrun")

	marker := snapshot.LastRun{
		CompletedAt: time.Date(2024, 6, 1, 3, 5, 0, 0, time.UTC),
		Published:   10,
		Failed:      1,
		Pending:     1,
	}
	if err := store.WriteLastRun(context.Background(), marker); err != nil {
		t.Fatalf("WriteLastRun failed: %v", err)
	}
	if _, ok := objects.objects["lastrun"]; !ok {
		t.Error("last-run marker object not written")
	}
}
