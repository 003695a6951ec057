// Package keystore knows where key files live on a removable device.
package keystore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"padessign/go-backend/internal/securestore"
)

const (
	DefaultPrivateKeyName = "privateKey.enc"
	DefaultPublicKeyName  = "publicKey.pem"
)

var (
	ErrNotFound    = errors.New("key file not found")
	ErrNoDirectory = errors.New("key directory is not set")
)

// Layout names the two key files inside a device directory.
type Layout struct {
	Dir            string
	PrivateKeyName string
	PublicKeyName  string
}

func NewLayout(dir string) Layout {
	return Layout{Dir: strings.TrimSpace(dir), PrivateKeyName: DefaultPrivateKeyName, PublicKeyName: DefaultPublicKeyName}
}

func (l Layout) PrivateKeyPath() string {
	return filepath.Join(l.Dir, nameOr(l.PrivateKeyName, DefaultPrivateKeyName))
}
func (l Layout) PublicKeyPath() string {
	return filepath.Join(l.Dir, nameOr(l.PublicKeyName, DefaultPublicKeyName))
}

// SaveKeyPair seals privateKeyDER under pin, writes it (0600) and then the
// public PEM (0644). The private key goes first so a device never carries a
// public key without its private half.
func (l Layout) SaveKeyPair(format securestore.Format, pin string, privateKeyDER []byte, publicKeyPEM string) error {
	if l.Dir == "" {
		return ErrNoDirectory
	}
	if err := securestore.WriteSealedFile(l.PrivateKeyPath(), format, pin, privateKeyDER); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := securestore.WriteFileAtomic(l.PublicKeyPath(), []byte(publicKeyPEM), 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

func (l Layout) ReadEncryptedKey() ([]byte, error) {
	if l.Dir == "" {
		return nil, ErrNoDirectory
	}
	return readKeyFile(l.PrivateKeyPath())
}

func (l Layout) ReadPublicKeyPEM() (string, error) {
	if l.Dir == "" {
		return "", ErrNoDirectory
	}
	raw, err := readKeyFile(l.PublicKeyPath())
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// FindPublicKey returns the path of the first dirs/name that exists.
func FindPublicKey(dirs []string, name string) (string, error) {
	name = nameOr(name, DefaultPublicKeyName)
	for _, dir := range dirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %d search directories", ErrNotFound, name, len(dirs))
}

func readKeyFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return raw, err
}

func nameOr(name, fallback string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return fallback
}
