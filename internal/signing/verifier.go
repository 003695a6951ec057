package signing

import (
	"crypto"
	"crypto/rsa"
	"errors"

	"padessign/go-backend/internal/metadata"
	"padessign/go-backend/internal/pemkey"
)

// ErrSignatureInvalid is returned by Verification.Err for a negative result.
// Verify itself never returns it.
var ErrSignatureInvalid = errors.New("signature is invalid")

// Verification is the outcome of a completed cryptographic check.
type Verification struct {
	Valid  bool
	Record metadata.Record
}

// Err converts a negative outcome into ErrSignatureInvalid.
func (v Verification) Err() error {
	if v.Valid {
		return nil
	}
	return ErrSignatureInvalid
}

// Verifier checks signatures written by Signer.
type Verifier struct{}

func NewVerifier() *Verifier { return &Verifier{} }

// Verify loads the public key from publicKeyPEM and checks the signature
// stored in the document's keywords against the digest stored next to it.
//
// The digest is taken from the metadata, not recomputed from doc.Bytes(), so
// changes made to the document body after signing are not detected here.
//
// Errors mean the check could not run (pemkey.ErrPemFormat,
// pemkey.ErrNotRSAKey, metadata.ErrMarkerNotFound,
// metadata.ErrInvalidEncoding). A check that ran and failed returns
// Valid=false with a nil error.
func (v *Verifier) Verify(doc Document, publicKeyPEM string) (Verification, error) {
	if doc == nil {
		return Verification{}, ErrNoDocument
	}
	pub, err := pemkey.ParseRSAPublicKey(publicKeyPEM)
	if err != nil {
		return Verification{}, err
	}
	return VerifyWithKey(doc, pub)
}

// VerifyWithKey is Verify with an already parsed key.
func VerifyWithKey(doc Document, pub *rsa.PublicKey) (Verification, error) {
	carrier := doc.Keywords()
	sig, err := metadata.Extract(carrier, metadata.MarkerSignature)
	if err != nil {
		return Verification{}, err
	}
	digest, err := metadata.Extract(carrier, metadata.MarkerHash)
	if err != nil {
		return Verification{}, err
	}
	rec, err := metadata.Parse(carrier)
	if err != nil {
		return Verification{}, err
	}
	rec.Signature, rec.Digest = sig, digest

	ok := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest, sig) == nil
	return Verification{Valid: ok, Record: rec}, nil
}
