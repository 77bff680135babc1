package profile

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrSigning indicates the signing key is malformed or the signing
// primitive rejected the input. Fatal: a profile is never published
// unsigned.
var ErrSigning = errors.New("profile: signing failed")

const signingAlgorithm = "RS256"

// Signer produces the publisher signature over each publisher-owned
// attribute. The signature is an RS256 compact JWS over the attribute's
// canonical JSON content (signature block excluded), so repeated
// signing of unchanged content verifies identically every time.
type Signer struct {
	key       *rsa.PrivateKey
	publisher string
}

// NewSigner parses a PEM-encoded RSA private key.
func NewSigner(pemKey []byte, publisherName string) (*Signer, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing signing key: %w", ErrSigning, err)
	}
	return &Signer{key: key, publisher: publisherName}, nil
}

// signable is implemented by every attribute type that carries a
// signature block.
type signable interface {
	signingContent() (jwt.MapClaims, error)
	setPublisherSignature(sig Signature)
}

// Sign signs every publisher-owned attribute of p and returns the
// signed document with its signer metadata.
func (s *Signer) Sign(p Profile, now time.Time) (SignedProfile, error) {
	signed := p.Clone()

	attributes := []signable{
		&signed.UserID,
		&signed.Active,
		&signed.Created,
		&signed.LastModified,
		&signed.FirstName,
		&signed.LastName,
		&signed.FunTitle,
		&signed.PrimaryEmail,
		&signed.PGPPublicKeys,
		&signed.SSHPublicKeys,
		&signed.PhoneNumbers,
		&signed.Usernames,
		&signed.Identities.LDAPID,
		&signed.Identities.LDAPPrimaryEmail,
		&signed.Identities.PosixID,
		&signed.AccessInformation.LDAP,
	}

	for _, attr := range attributes {
		content, err := attr.signingContent()
		if err != nil {
			return SignedProfile{}, fmt.Errorf("%w: %w", ErrSigning, err)
		}

		token := jwt.NewWithClaims(jwt.SigningMethodRS256, content)
		value, err := token.SignedString(s.key)
		if err != nil {
			return SignedProfile{}, fmt.Errorf("%w: %w", ErrSigning, err)
		}

		attr.setPublisherSignature(Signature{
			Alg:   signingAlgorithm,
			Name:  ptr(s.publisher),
			Typ:   "JWS",
			Value: value,
		})
	}

	return SignedProfile{
		Profile:   signed,
		Publisher: s.publisher,
		Algorithm: signingAlgorithm,
		SignedAt:  now,
	}, nil
}

// PublicKey exposes the verification half of the signing key.
func (s *Signer) PublicKey() *rsa.PublicKey {
	return &s.key.PublicKey
}

// signingContentOf renders an attribute as claims with the signature
// block stripped, so the signature covers value and metadata only.
func signingContentOf(attr any) (jwt.MapClaims, error) {
	raw, err := json.Marshal(attr)
	if err != nil {
		return nil, fmt.Errorf("serializing attribute: %w", err)
	}
	var content map[string]any
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("canonicalizing attribute: %w", err)
	}
	delete(content, "signature")
	return jwt.MapClaims(content), nil
}

func (a *StringAttribute) signingContent() (jwt.MapClaims, error) { return signingContentOf(a) }
func (a *StringAttribute) setPublisherSignature(sig Signature)    { a.Signature.Publisher = sig }

func (a *BoolAttribute) signingContent() (jwt.MapClaims, error) { return signingContentOf(a) }
func (a *BoolAttribute) setPublisherSignature(sig Signature)    { a.Signature.Publisher = sig }

func (a *KeyedListAttribute) signingContent() (jwt.MapClaims, error) { return signingContentOf(a) }
func (a *KeyedListAttribute) setPublisherSignature(sig Signature)    { a.Signature.Publisher = sig }
