package profile

import (
	"fmt"
	"strings"
	"time"

	"idsync/cispublisher/directory"
)

// Source attribute names in the directory schema.
const (
	attrMail        = "mail"
	attrGivenName   = "givenName"
	attrSurname     = "sn"
	attrTitle       = "title"
	attrPhone       = "telephoneNumber"
	attrPGPKey      = "pgpPublicKey"
	attrSSHKey      = "sshPublicKey"
	attrPosixUID    = "uid"
	attrPosixUIDNum = "uidNumber"
	attrGroups      = "memberOf"
	attrCreated     = "createTimestamp"
)

// createdTimeFormat is the LDAP generalized time layout of
// createTimestamp.
const createdTimeFormat = "20060102150405Z"

// UserID forms the downstream identifier: prefix and native identifier
// joined by a pipe. The prefix scopes deployments (production vs. test
// directories) into disjoint identifier spaces.
func UserID(prefix, nativeID string) string {
	return prefix + "|" + nativeID
}

// Transform maps a directory record into the canonical profile. It is a
// total, deterministic function: attributes absent from the record keep
// the corresponding null-template values, and now is passed in rather
// than read from the clock.
func Transform(rec directory.Record, prefix string, nullProfile Profile, now time.Time) Profile {
	p := nullProfile.Clone()
	display := displayLevel(rec.DN)
	stamp := Timestamp(now)

	setString(&p.UserID, UserID(prefix, rec.ID), display, stamp)
	setBool(&p.Active, true, display, stamp)
	setString(&p.LastModified, stamp, display, stamp)

	if created := rec.First(attrCreated); created != "" {
		if ts, err := time.Parse(createdTimeFormat, created); err == nil {
			setString(&p.Created, Timestamp(ts), display, stamp)
		}
	}

	if email := rec.First(attrMail); email != "" {
		setString(&p.PrimaryEmail, email, display, stamp)
		setString(&p.Identities.LDAPPrimaryEmail, email, display, stamp)
	}
	if first := rec.First(attrGivenName); first != "" {
		setString(&p.FirstName, first, display, stamp)
	}
	if last := rec.First(attrSurname); last != "" {
		setString(&p.LastName, last, display, stamp)
	}
	if title := rec.First(attrTitle); title != "" {
		setString(&p.FunTitle, title, display, stamp)
	}

	if keys := keyedList(rec.Attributes[attrPGPKey], normalizePGPKey); keys != nil {
		setKeyed(&p.PGPPublicKeys, keys, display, stamp)
	}
	if keys := keyedList(rec.Attributes[attrSSHKey], strings.TrimSpace); keys != nil {
		setKeyed(&p.SSHPublicKeys, keys, display, stamp)
	}
	if phones := keyedList(rec.Attributes[attrPhone], strings.TrimSpace); phones != nil {
		setKeyed(&p.PhoneNumbers, phones, display, stamp)
	}

	usernames := map[string]*string{}
	if uid := rec.First(attrPosixUID); uid != "" {
		usernames["LDAP-posix_id"] = ptr(uid)
		setString(&p.Identities.PosixID, uid, display, stamp)
	}
	if uidNumber := rec.First(attrPosixUIDNum); uidNumber != "" {
		usernames["LDAP-posix_uid"] = ptr(uidNumber)
	}
	usernames["LDAP-uuid"] = ptr(rec.ID)
	setKeyed(&p.Usernames, usernames, display, stamp)

	setString(&p.Identities.LDAPID, rec.DN, display, stamp)

	if groups := rec.Attributes[attrGroups]; len(groups) > 0 {
		membership := make(map[string]*string, len(groups))
		for _, group := range groups {
			membership[group] = nil
		}
		setKeyed(&p.AccessInformation.LDAP, membership, display, stamp)
	}

	return p
}

// Tombstone builds the deletion variant for a removed identifier: the
// null template keyed by the prefixed id with active set to false. The
// identity service treats removal as deactivation.
func Tombstone(nativeID, prefix string, nullProfile Profile, now time.Time) Profile {
	p := nullProfile.Clone()
	stamp := Timestamp(now)

	setString(&p.UserID, UserID(prefix, nativeID), DisplayPrivate, stamp)
	setBool(&p.Active, false, DisplayPrivate, stamp)
	setString(&p.LastModified, stamp, DisplayPrivate, stamp)
	return p
}

// displayLevel derives attribute visibility from the entry's position
// in the tree: staff subtrees are publishable to staff, everything else
// stays private.
func displayLevel(dn string) string {
	if strings.Contains(dn, "o=com") || strings.Contains(dn, "o=org") {
		return DisplayStaff
	}
	return DisplayPrivate
}

// keyedList converts a multi-valued attribute into the keyed form the
// profile schema uses, numbering entries LDAP-1..n in input order.
func keyedList(values []string, normalize func(string) string) map[string]*string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]*string, len(values))
	for i, v := range values {
		out[fmt.Sprintf("LDAP-%d", i+1)] = ptr(normalize(v))
	}
	return out
}

// normalizePGPKey renders a fingerprint as a single 0x-prefixed token.
func normalizePGPKey(key string) string {
	k := strings.ReplaceAll(key, " ", "")
	if !strings.HasPrefix(k, "0x") {
		k = "0x" + k
	}
	return k
}

func setString(attr *StringAttribute, value, display, stamp string) {
	attr.Value = ptr(value)
	touchMetadata(&attr.Metadata, display, stamp)
}

func setBool(attr *BoolAttribute, value bool, display, stamp string) {
	attr.Value = &value
	touchMetadata(&attr.Metadata, display, stamp)
}

func setKeyed(attr *KeyedListAttribute, values map[string]*string, display, stamp string) {
	attr.Values = values
	touchMetadata(&attr.Metadata, display, stamp)
}

// touchMetadata updates timestamps and assigns the display level when
// the template left it unset. A created time still at the epoch means
// the attribute was never published before.
func touchMetadata(m *Metadata, display, stamp string) {
	if m.Created == "" || strings.HasPrefix(m.Created, "1970") {
		m.Created = stamp
	}
	m.LastModified = stamp
	if m.Display == nil {
		m.Display = ptr(display)
	}
}

func ptr(s string) *string {
	return &s
}
