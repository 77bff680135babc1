// Package profile implements the canonical identity-profile document,
// the transformation from directory records into it, and the publisher
// signature over its attributes.
package profile

import (
	"encoding/json"
	"fmt"
	"time"
)

// timestampFormat matches the profile schema's timestamp rendering.
const timestampFormat = "2006-01-02T15:04:05.000Z"

// Display levels assigned to published attributes.
const (
	DisplayStaff   = "staff"
	DisplayPrivate = "private"
)

// Timestamp renders t in the profile schema's format.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}

// Metadata carries the per-attribute bookkeeping the identity service
// requires on every signed attribute.
type Metadata struct {
	Display      *string `json:"display"`
	Created      string  `json:"created"`
	LastModified string  `json:"last_modified"`
}

// Signature is a single detached signature entry.
type Signature struct {
	Alg   string  `json:"alg"`
	Name  *string `json:"name"`
	Typ   string  `json:"typ"`
	Value string  `json:"value"`
}

// SignatureBlock holds the publisher signature plus any additional
// signatures other parties attach downstream.
type SignatureBlock struct {
	Publisher  Signature   `json:"publisher"`
	Additional []Signature `json:"additional"`
}

// StringAttribute is a signable single-valued attribute. A nil Value
// means unset; the field is still present in the document.
type StringAttribute struct {
	Value     *string        `json:"value"`
	Metadata  Metadata       `json:"metadata"`
	Signature SignatureBlock `json:"signature"`
}

// BoolAttribute is a signable boolean attribute (e.g. active).
type BoolAttribute struct {
	Value     *bool          `json:"value"`
	Metadata  Metadata       `json:"metadata"`
	Signature SignatureBlock `json:"signature"`
}

// KeyedListAttribute is a signable keyed collection. The identity
// service models lists as objects whose values are null, keyed by a
// per-publisher label (LDAP-1, LDAP-2, ...).
type KeyedListAttribute struct {
	Values    map[string]*string `json:"values"`
	Metadata  Metadata           `json:"metadata"`
	Signature SignatureBlock     `json:"signature"`
}

// Identities are the publisher-owned identity pointers.
type Identities struct {
	LDAPID           StringAttribute `json:"mozilla_ldap_id"`
	LDAPPrimaryEmail StringAttribute `json:"mozilla_ldap_primary_email"`
	PosixID          StringAttribute `json:"mozilla_posix_id"`
}

// AccessInformation carries group membership per access provider. Only
// the ldap section is owned by this publisher.
type AccessInformation struct {
	LDAP KeyedListAttribute `json:"ldap"`
}

// Profile is the canonical identity-profile document, limited to the
// fields this publisher owns. The null profile template deserializes
// into it; fields the transformer does not touch keep their template
// values, so no field is ever absent.
type Profile struct {
	Schema            string             `json:"$schema,omitempty"`
	UserID            StringAttribute    `json:"user_id"`
	Active            BoolAttribute      `json:"active"`
	Created           StringAttribute    `json:"created"`
	LastModified      StringAttribute    `json:"last_modified"`
	FirstName         StringAttribute    `json:"first_name"`
	LastName          StringAttribute    `json:"last_name"`
	FunTitle          StringAttribute    `json:"fun_title"`
	PrimaryEmail      StringAttribute    `json:"primary_email"`
	PGPPublicKeys     KeyedListAttribute `json:"pgp_public_keys"`
	SSHPublicKeys     KeyedListAttribute `json:"ssh_public_keys"`
	PhoneNumbers      KeyedListAttribute `json:"phone_numbers"`
	Usernames         KeyedListAttribute `json:"usernames"`
	Identities        Identities         `json:"identities"`
	AccessInformation AccessInformation  `json:"access_information"`
}

// Clone returns a deep copy via a JSON round trip. The document is
// plain data; the round trip is the simplest correct deep copy.
func (p Profile) Clone() Profile {
	raw, err := json.Marshal(p)
	if err != nil {
		panic("profile: clone marshal failed: " + err.Error())
	}
	var out Profile
	if err := json.Unmarshal(raw, &out); err != nil {
		panic("profile: clone unmarshal failed: " + err.Error())
	}
	return out
}

// ParseNullProfile deserializes the null-profile template document.
func ParseNullProfile(raw []byte) (Profile, error) {
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("parsing null profile: %w", err)
	}
	return p, nil
}

// SignedProfile is a profile whose publisher-owned attributes carry
// signatures, plus the signer metadata bound into them.
type SignedProfile struct {
	Profile   Profile
	Publisher string
	Algorithm string
	SignedAt  time.Time
}

// UserID is the prefixed identifier the document is keyed by.
func (sp SignedProfile) UserID() string {
	if sp.Profile.UserID.Value == nil {
		return ""
	}
	return *sp.Profile.UserID.Value
}
