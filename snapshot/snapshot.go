// Package snapshot persists the record set of the last successfully
// published run and computes the per-identifier diff that drives each
// publish cycle.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"idsync/cispublisher/directory"
)

// Snapshot is the point-in-time state of all known directory records,
// keyed by record identifier. At most one current snapshot exists in
// the store; it is only replaced after a run's publish phase completes.
type Snapshot struct {
	Taken   time.Time                   `json:"taken"`
	Records map[string]directory.Record `json:"records"`
}

// New builds a snapshot from a freshly extracted record set.
func New(records []directory.Record, taken time.Time) *Snapshot {
	byID := make(map[string]directory.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	return &Snapshot{Taken: taken, Records: byID}
}

// Empty returns a snapshot with no records, the diff baseline when no
// prior snapshot exists (every current record classifies as added).
func Empty() *Snapshot {
	return &Snapshot{Records: map[string]directory.Record{}}
}

// Clone returns a deep copy. Commit-time result merging mutates the
// copy, never the snapshot built from the live fetch.
func (s *Snapshot) Clone() *Snapshot {
	records := make(map[string]directory.Record, len(s.Records))
	for id, rec := range s.Records {
		attrs := make(map[string][]string, len(rec.Attributes))
		for name, vals := range rec.Attributes {
			copied := make([]string, len(vals))
			copy(copied, vals)
			attrs[name] = copied
		}
		rec.Attributes = attrs
		records[id] = rec
	}
	return &Snapshot{Taken: s.Taken, Records: records}
}

// ContentHash computes the comparison hash for one record: sha256 over
// a canonical JSON rendering of the DN and attributes. Attribute values
// are sorted first so servers that return multi-valued attributes in
// varying order do not produce spurious changes. LastModified is
// deliberately excluded; comparison is by content, not by marker.
func ContentHash(rec directory.Record) string {
	canonical := struct {
		DN         string              `json:"dn"`
		Attributes map[string][]string `json:"attributes"`
	}{
		DN:         rec.DN,
		Attributes: make(map[string][]string, len(rec.Attributes)),
	}
	for name, vals := range rec.Attributes {
		sorted := make([]string, len(vals))
		copy(sorted, vals)
		sort.Strings(sorted)
		canonical.Attributes[name] = sorted
	}

	// encoding/json writes map keys in sorted order, so the rendering
	// is deterministic.
	data, err := json.Marshal(canonical)
	if err != nil {
		// A map[string][]string cannot fail to marshal.
		panic("snapshot: content hash marshal failed: " + err.Error())
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
