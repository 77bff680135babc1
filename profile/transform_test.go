package profile_test

import (
	"reflect"
	"testing"
	"time"

	"idsync/cispublisher/directory"
	"idsync/cispublisher/profile"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func nullProfile() profile.Profile {
	display := "private"
	var p profile.Profile
	p.FunTitle.Value = strPtr("Contributor")
	p.FunTitle.Metadata.Display = &display
	p.FunTitle.Metadata.Created = "1970-01-01T00:00:00.000Z"
	return p
}

func strPtr(s string) *string { return &s }

func fullRecord() directory.Record {
	return directory.Record{
		ID: "d2e4de2c-95b0-4d35-9a9c-72f2e1d0ab01",
		DN: "mail=jdoe@example.com,o=com,dc=example",
		Attributes: map[string][]string{
			"mail":            {"jdoe@example.com"},
			"givenName":       {"Jane"},
			"sn":              {"Doe"},
			"title":           {"Senior Engineer"},
			"uid":             {"jdoe"},
			"uidNumber":       {"1500"},
			"telephoneNumber": {" +1 555 0100 "},
			"pgpPublicKey":    {"0xABCD EF01", "1234 5678"},
			"sshPublicKey":    {"ssh-ed25519 AAAA... jdoe@host \n"},
			"memberOf":        {"cn=all_staff,ou=groups,dc=example"},
			"createTimestamp": {"20200315080000Z"},
		},
	}
}

func TestTransform_FullRecord(t *testing.T) {
	p := profile.Transform(fullRecord(), "ad|Mozilla-LDAP", nullProfile(), testNow)

	if got := *p.UserID.Value; got != "ad|Mozilla-LDAP|d2e4de2c-95b0-4d35-9a9c-72f2e1d0ab01" {
		t.Errorf("user_id = %q", got)
	}
	if !*p.Active.Value {
		t.Error("active = false, want true")
	}
	if got := *p.PrimaryEmail.Value; got != "jdoe@example.com" {
		t.Errorf("primary_email = %q", got)
	}
	if got := *p.FirstName.Value; got != "Jane" {
		t.Errorf("first_name = %q", got)
	}
	if got := *p.Created.Value; got != "2020-03-15T08:00:00.000Z" {
		t.Errorf("created = %q", got)
	}

	wantPGP := map[string]string{"LDAP-1": "0xABCDEF01", "LDAP-2": "0x12345678"}
	for key, want := range wantPGP {
		got, ok := p.PGPPublicKeys.Values[key]
		if !ok || got == nil || *got != want {
			t.Errorf("pgp_public_keys[%s] = %v, want %q", key, got, want)
		}
	}

	if got := *p.PhoneNumbers.Values["LDAP-1"]; got != "+1 555 0100" {
		t.Errorf("phone_numbers[LDAP-1] = %q, want trimmed value", got)
	}
	if got := *p.Usernames.Values["LDAP-posix_id"]; got != "jdoe" {
		t.Errorf("usernames[LDAP-posix_id] = %q", got)
	}
	if got := *p.Identities.LDAPID.Value; got != "mail=jdoe@example.com,o=com,dc=example" {
		t.Errorf("identities.mozilla_ldap_id = %q", got)
	}
	if _, ok := p.AccessInformation.LDAP.Values["cn=all_staff,ou=groups,dc=example"]; !ok {
		t.Error("access_information.ldap missing group membership")
	}

	// Staff subtree yields staff display.
	if got := *p.UserID.Metadata.Display; got != "staff" {
		t.Errorf("user_id display = %q, want staff", got)
	}
}

func TestTransform_Totality(t *testing.T) {
	// A record with no attributes at all still transforms; untouched
	// fields keep their template values.
	rec := directory.Record{
		ID:         "bare-id",
		DN:         "mail=bare@example.net,o=net,dc=example",
		Attributes: map[string][]string{},
	}

	p := profile.Transform(rec, "ad|Mozilla-LDAP", nullProfile(), testNow)

	if got := *p.UserID.Value; got != "ad|Mozilla-LDAP|bare-id" {
		t.Errorf("user_id = %q", got)
	}
	if p.FunTitle.Value == nil || *p.FunTitle.Value != "Contributor" {
		t.Error("fun_title did not keep null-template value")
	}
	if got := *p.UserID.Metadata.Display; got != "private" {
		t.Errorf("display = %q, want private outside staff subtrees", got)
	}
	// LDAP-uuid is always set, even for attribute-free records.
	if got := *p.Usernames.Values["LDAP-uuid"]; got != "bare-id" {
		t.Errorf("usernames[LDAP-uuid] = %q", got)
	}
}

func TestTransform_Deterministic(t *testing.T) {
	first := profile.Transform(fullRecord(), "ad|Mozilla-LDAP", nullProfile(), testNow)
	second := profile.Transform(fullRecord(), "ad|Mozilla-LDAP", nullProfile(), testNow)

	if !reflect.DeepEqual(first, second) {
		t.Error("Transform is not deterministic for identical inputs")
	}
}

func TestTransform_TemplateCreatedReset(t *testing.T) {
	// An epoch created timestamp in the template means the attribute
	// was never published; it picks up the run timestamp.
	p := profile.Transform(fullRecord(), "ad|Mozilla-LDAP", nullProfile(), testNow)

	if got := p.FunTitle.Metadata.Created; got != "2024-06-01T12:00:00.000Z" {
		t.Errorf("fun_title created = %q, want run timestamp", got)
	}
}

func TestTombstone(t *testing.T) {
	p := profile.Tombstone("gone-id", "ad|Mozilla-LDAP", nullProfile(), testNow)

	if got := *p.UserID.Value; got != "ad|Mozilla-LDAP|gone-id" {
		t.Errorf("user_id = %q", got)
	}
	if p.Active.Value == nil || *p.Active.Value {
		t.Error("tombstone active != false")
	}
	if got := *p.LastModified.Value; got != "2024-06-01T12:00:00.000Z" {
		t.Errorf("last_modified = %q", got)
	}
}
