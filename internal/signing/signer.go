// Package signing binds a document's content to an RSA signature and checks
// such signatures later.
package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"padessign/go-backend/internal/metadata"
)

var (
	ErrInvalidPrivateKey = errors.New("private key is not a valid RSA key")
	ErrSignatureFailed   = errors.New("signature generation failed")
	ErrNoDocument        = errors.New("no document")
)

// Document is the host-format collaborator: it exposes the exact original
// bytes and one free-text metadata field.
type Document interface {
	Bytes() []byte
	Keywords() string
	SetKeywords(string)
}

// Attributes are the descriptive fields written next to the signature.
type Attributes struct {
	SignerName      string
	SigningReason   string
	SigningLocation string
}

// Signer signs documents with RSA PKCS#1 v1.5 over SHA-256.
type Signer struct {
	Attributes Attributes
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewSigner(attrs Attributes) *Signer {
	return &Signer{Attributes: attrs, Now: time.Now}
}

// Result describes a completed signature. The document passed to Sign has
// already had Record appended to its keywords.
type Result struct {
	Digest    []byte
	Signature []byte
	Record    metadata.Record
}

// Sign hashes the document's original bytes, signs the digest and appends the
// record to the keywords field. The digest is taken before any mutation, so
// the bytes eventually saved are not the bytes that were hashed.
func (s *Signer) Sign(doc Document, privateKeyDER []byte) (Result, error) {
	if doc == nil {
		return Result{}, ErrNoDocument
	}
	digest := sha256.Sum256(doc.Bytes())

	key, err := ParsePrivateKey(privateKeyDER)
	if err != nil {
		return Result{}, err
	}
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSignatureFailed, err)
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	rec := metadata.Record{
		Signature:       sig,
		Digest:          digest[:],
		SigningTime:     now().UTC(),
		SignerName:      s.Attributes.SignerName,
		SigningReason:   s.Attributes.SigningReason,
		SigningLocation: s.Attributes.SigningLocation,
	}
	doc.SetKeywords(metadata.Append(doc.Keywords(), rec))

	return Result{Digest: digest[:], Signature: sig, Record: rec}, nil
}

// ParsePrivateKey accepts PKCS#1 and, failing that, PKCS#8 RSA keys.
func ParsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	anyKey, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	key, ok := anyKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrInvalidPrivateKey, anyKey)
	}
	return key, nil
}
