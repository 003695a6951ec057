package securestore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

// Legacy blob layout: salt(16) || iv(16) || AES-256-CBC ciphertext (PKCS#7).
const (
	SaltSize         = 16
	IVSize           = 16
	KeySize          = 32
	PBKDF2Iterations = 100_000
	headerSize       = SaltSize + IVSize
)

const (
	envelopeVersion = 1
	filePrefix      = "PADESENC1\n"
)

// Format selects how a private key is sealed on disk.
type Format string

const (
	// FormatLegacy is the raw salt||iv||ciphertext layout read by existing signers.
	FormatLegacy Format = "legacy"
	// FormatSealed is the authenticated argon2id + XChaCha20-Poly1305 envelope.
	FormatSealed Format = "sealed"
)

var (
	ErrDecryptionFailed = errors.New("wrong PIN or corrupted key")
	ErrMalformedBlob    = fmt.Errorf("%w: encrypted key layout is invalid", ErrDecryptionFailed)
	ErrAuthFailed       = fmt.Errorf("%w: envelope authentication failed", ErrDecryptionFailed)
	ErrInvalid          = fmt.Errorf("%w: envelope is invalid", ErrDecryptionFailed)
	ErrUnknownFormat    = errors.New("unknown key format")
)

// ParseFormat maps a config value onto a Format; empty means legacy.
func ParseFormat(v string) (Format, error) {
	switch Format(v) {
	case "", FormatLegacy:
		return FormatLegacy, nil
	case FormatSealed:
		return FormatSealed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, v)
	}
}

// EncryptPrivateKey encrypts der under pin using the legacy layout. Salt and IV
// are fresh for every call.
func EncryptPrivateKey(pin string, der []byte) ([]byte, error) {
	out := make([]byte, headerSize, headerSize+len(der)+aes.BlockSize)
	if _, err := rand.Read(out[:headerSize]); err != nil {
		return nil, err
	}
	salt, iv := out[:SaltSize], out[SaltSize:headerSize]

	key := deriveLegacyKey(pin, salt)
	defer Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(der, aes.BlockSize)
	defer Wipe(padded)

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return append(out, ciphertext...), nil
}

// DecryptPrivateKey reverses EncryptPrivateKey. A wrong PIN shows up as bad
// padding; there is no MAC, so a corrupted blob may occasionally decrypt to
// garbage instead of failing.
func DecryptPrivateKey(pin string, blob []byte) ([]byte, error) {
	if len(blob) < headerSize+aes.BlockSize || (len(blob)-headerSize)%aes.BlockSize != 0 {
		return nil, ErrMalformedBlob
	}
	salt, iv, ciphertext := blob[:SaltSize], blob[SaltSize:headerSize], blob[headerSize:]

	key := deriveLegacyKey(pin, salt)
	defer Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	n, ok := pkcs7PaddingLen(plain, aes.BlockSize)
	if !ok {
		Wipe(plain)
		return nil, ErrDecryptionFailed
	}
	out := bytes.Clone(plain[:len(plain)-n])
	Wipe(plain)
	return out, nil
}

// Seal encrypts der with the requested format.
func Seal(format Format, pin string, der []byte) ([]byte, error) {
	switch format {
	case "", FormatLegacy:
		return EncryptPrivateKey(pin, der)
	case FormatSealed:
		env, err := EncryptEnvelope(pin, der)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(env)
		if err != nil {
			return nil, err
		}
		return append([]byte(filePrefix), raw...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Open decrypts a blob written by Seal, detecting the format from its prefix.
func Open(pin string, blob []byte) ([]byte, error) {
	if !bytes.HasPrefix(blob, []byte(filePrefix)) {
		return DecryptPrivateKey(pin, blob)
	}
	var env Envelope
	if err := json.Unmarshal(blob[len(filePrefix):], &env); err != nil {
		return nil, ErrInvalid
	}
	return DecryptEnvelope(pin, &env)
}

// DetectFormat reports which format a stored blob uses.
func DetectFormat(blob []byte) Format {
	if bytes.HasPrefix(blob, []byte(filePrefix)) {
		return FormatSealed
	}
	return FormatLegacy
}

// CheckLayout validates a blob's structure without a PIN.
func CheckLayout(blob []byte) error {
	if !bytes.HasPrefix(blob, []byte(filePrefix)) {
		if len(blob) < headerSize+aes.BlockSize || (len(blob)-headerSize)%aes.BlockSize != 0 {
			return ErrMalformedBlob
		}
		return nil
	}
	var env Envelope
	if err := json.Unmarshal(blob[len(filePrefix):], &env); err != nil {
		return ErrInvalid
	}
	if env.Version != envelopeVersion || env.KDF != "argon2id" || len(env.Salt) == 0 ||
		len(env.Nonce) != chacha20poly1305.NonceSizeX || env.KDFThreads == 0 ||
		len(env.Ciphertext) <= chacha20poly1305.Overhead {
		return ErrInvalid
	}
	return nil
}

type Envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

func EncryptEnvelope(pin string, plaintext []byte) (*Envelope, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveSealedKey(pin, salt, 2, 64*1024, 1)
	defer Wipe(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return &Envelope{
		Version:     envelopeVersion,
		KDF:         "argon2id",
		KDFTime:     2,
		KDFMemoryKB: 64 * 1024,
		KDFThreads:  1,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  ciphertext,
	}, nil
}

func DecryptEnvelope(pin string, env *Envelope) ([]byte, error) {
	if env == nil || env.Version != envelopeVersion || env.KDF != "argon2id" {
		return nil, ErrInvalid
	}
	if len(env.Salt) == 0 || len(env.Nonce) != chacha20poly1305.NonceSizeX || env.KDFThreads == 0 {
		return nil, ErrInvalid
	}
	key := deriveSealedKey(pin, env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads)
	defer Wipe(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func deriveLegacyKey(pin string, salt []byte) []byte {
	return pbkdf2.Key([]byte(pin), salt, PBKDF2Iterations, KeySize, sha256.New)
}

func deriveSealedKey(pin string, salt []byte, t, memKB uint32, threads uint8) []byte {
	return argon2.IDKey([]byte(pin), salt, t, memKB, threads, chacha20poly1305.KeySize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7PaddingLen(data []byte, blockSize int) (int, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return 0, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return 0, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return 0, false
		}
	}
	return n, true
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
