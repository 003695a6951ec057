// Package pemkey reads and writes the SubjectPublicKeyInfo PEM file that is
// handed to verifiers.
package pemkey

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

const (
	blockType = "PUBLIC KEY"
	header    = "-----BEGIN PUBLIC KEY-----"
	footer    = "-----END PUBLIC KEY-----"
)

var (
	ErrPemFormat = errors.New("invalid PEM format")
	ErrNotRSAKey = errors.New("public key is not an RSA key")
)

// EncodePublicKey wraps SPKI DER bytes in a PEM block with 64-column base64 lines.
func EncodePublicKey(spkiDER []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: spkiDER}))
}

// DecodePublicKey returns the DER bytes between the public key header and
// footer. Line breaks inside the body are ignored; text outside the markers is
// not inspected.
func DecodePublicKey(text string) ([]byte, error) {
	start := strings.Index(text, header)
	end := strings.Index(text, footer)
	if start < 0 || end < 0 || end <= start {
		return nil, fmt.Errorf("%w: could not find public key markers", ErrPemFormat)
	}
	body := text[start+len(header) : end]
	body = strings.NewReplacer("\r", "", "\n", "").Replace(body)
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: public key body is empty", ErrPemFormat)
	}
	der, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPemFormat, err)
	}
	return der, nil
}

// ParseRSAPublicKey decodes text and loads the RSA key it carries.
func ParseRSAPublicKey(text string) (*rsa.PublicKey, error) {
	der, err := DecodePublicKey(text)
	if err != nil {
		return nil, err
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPemFormat, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotRSAKey, pub)
	}
	return rsaPub, nil
}
