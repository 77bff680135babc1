package directory

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
)

func TestRecordFromEntry(t *testing.T) {
	entry := ldap.NewEntry("mail=jdoe@example.com,o=com,dc=example", map[string][]string{
		"mail":            {"jdoe@example.com"},
		"entryUUID":       {"D2E4DE2C-95B0-4D35-9A9C-72F2E1D0AB01"},
		"memberOf":        {"cn=all,ou=groups", "cn=eng,ou=groups"},
		"modifyTimestamp": {"20240601120000Z"},
	})

	rec := recordFromEntry(entry)

	// entryUUID is canonicalized to lowercase.
	if rec.ID != "d2e4de2c-95b0-4d35-9a9c-72f2e1d0ab01" {
		t.Errorf("ID = %q, want canonical entryUUID", rec.ID)
	}
	if rec.DN != "mail=jdoe@example.com,o=com,dc=example" {
		t.Errorf("DN = %q", rec.DN)
	}
	if len(rec.Attributes["memberOf"]) != 2 {
		t.Errorf("memberOf has %d values, want 2", len(rec.Attributes["memberOf"]))
	}
	if rec.LastModified.IsZero() {
		t.Error("LastModified not parsed from modifyTimestamp")
	}
}

func TestRecordFromEntry_NoUUIDFallsBackToDN(t *testing.T) {
	entry := ldap.NewEntry("mail=nobody@example.com,o=net,dc=example", map[string][]string{
		"mail": {"nobody@example.com"},
	})

	rec := recordFromEntry(entry)
	if rec.ID != entry.DN {
		t.Errorf("ID = %q, want DN fallback %q", rec.ID, entry.DN)
	}
}

func TestRecordFirst(t *testing.T) {
	rec := Record{Attributes: map[string][]string{
		"mail": {"first@example.com", "second@example.com"},
	}}

	if got := rec.First("mail"); got != "first@example.com" {
		t.Errorf("First(mail) = %q", got)
	}
	if got := rec.First("missing"); got != "" {
		t.Errorf("First(missing) = %q, want empty", got)
	}
}
