// Package keyid derives short, human-comparable identifiers for public keys so
// that signer and verifier can confirm they hold the same key.
package keyid

import (
	"strings"

	"github.com/mr-tron/base58/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"
)

// Fingerprint is the BLAKE2b-256 digest of a SubjectPublicKeyInfo encoding.
type Fingerprint [blake2b.Size256]byte

func Of(spkiDER []byte) Fingerprint {
	return blake2b.Sum256(spkiDER)
}

// ID is base58 over the first 16 bytes.
func (f Fingerprint) ID() string {
	return base58.Encode(f[:16])
}

// Words renders the first 16 bytes as a 12-word BIP-39 phrase.
func (f Fingerprint) Words() ([]string, error) {
	phrase, err := bip39.NewMnemonic(f[:16])
	if err != nil {
		return nil, err
	}
	return strings.Fields(phrase), nil
}

func (f Fingerprint) Equal(other Fingerprint) bool { return f == other }
