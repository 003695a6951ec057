// Package keygen creates the RSA key pairs used to sign documents.
package keygen

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
)

const (
	DefaultBits = 4096
	MinBits     = 2048
)

var ErrKeyGeneration = errors.New("key generation failed")

// KeyPair holds a freshly generated key. PrivateKeyDER is PKCS#1 and must be
// sealed before it leaves memory; PublicKeyDER is SubjectPublicKeyInfo.
type KeyPair struct {
	PrivateKeyDER []byte
	PublicKeyDER  []byte
	Bits          int
}

// Generate returns a 4096-bit RSA key pair.
func Generate() (KeyPair, error) {
	return GenerateWithBits(DefaultBits)
}

func GenerateWithBits(bits int) (KeyPair, error) {
	if bits < MinBits {
		return KeyPair{}, fmt.Errorf("%w: modulus must be at least %d bits, got %d", ErrKeyGeneration, MinBits, bits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return KeyPair{
		PrivateKeyDER: x509.MarshalPKCS1PrivateKey(key),
		PublicKeyDER:  pub,
		Bits:          key.N.BitLen(),
	}, nil
}

// Wipe zeroes the private key bytes.
func (k *KeyPair) Wipe() {
	for i := range k.PrivateKeyDER {
		k.PrivateKeyDER[i] = 0
	}
	k.PrivateKeyDER = nil
}
