// Package directory extracts user records from the source LDAP
// directory. Records are normalized attribute maps keyed by a stable
// identifier, produced fresh on every run.
package directory

import (
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// ldapTimeFormat is the LDAP generalized time layout used by
// createTimestamp and modifyTimestamp.
const ldapTimeFormat = "20060102150405Z"

// Record is one directory entry. Attributes hold the raw string values
// as returned by the server; the pipeline treats them as opaque until
// transformation.
type Record struct {
	// ID is the stable unique identifier: the entryUUID when the
	// server exposes one, otherwise the DN.
	ID           string              `json:"id"`
	DN           string              `json:"dn"`
	Attributes   map[string][]string `json:"attributes"`
	LastModified time.Time           `json:"last_modified,omitempty"`
}

// First returns the first value of an attribute, or "" when absent.
func (r Record) First(name string) string {
	if vals := r.Attributes[name]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// recordFromEntry converts an LDAP entry into a Record. entryUUID is
// canonicalized through uuid.Parse so the identifier is stable across
// servers that render the attribute with different casing.
func recordFromEntry(entry *ldap.Entry) Record {
	attrs := make(map[string][]string, len(entry.Attributes))
	for _, attr := range entry.Attributes {
		vals := make([]string, len(attr.Values))
		copy(vals, attr.Values)
		attrs[attr.Name] = vals
	}

	id := entry.DN
	if raw := entry.GetAttributeValue("entryUUID"); raw != "" {
		if parsed, err := uuid.Parse(raw); err == nil {
			id = parsed.String()
		} else {
			id = raw
		}
	}

	rec := Record{
		ID:         id,
		DN:         entry.DN,
		Attributes: attrs,
	}

	if raw := entry.GetAttributeValue("modifyTimestamp"); raw != "" {
		if ts, err := time.Parse(ldapTimeFormat, raw); err == nil {
			rec.LastModified = ts
		}
	}

	return rec
}
