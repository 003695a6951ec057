package keystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"padessign/go-backend/internal/securestore"
	"padessign/go-backend/internal/testutil/fsperm"
)

func TestSaveAndReadKeyPair(t *testing.T) {
	l := NewLayout(filepath.Join(t.TempDir(), "E"))
	require.NoError(t, l.SaveKeyPair(securestore.FormatLegacy, "1234", []byte("der"), "PEM TEXT"))

	fsperm.AssertPrivateFilePerm(t, l.PrivateKeyPath())
	fsperm.AssertFilePerm(t, l.PublicKeyPath(), 0o644)
	require.Equal(t, "privateKey.enc", filepath.Base(l.PrivateKeyPath()))
	require.Equal(t, "publicKey.pem", filepath.Base(l.PublicKeyPath()))

	blob, err := l.ReadEncryptedKey()
	require.NoError(t, err)
	der, err := securestore.Open("1234", blob)
	require.NoError(t, err)
	require.Equal(t, []byte("der"), der)

	pem, err := l.ReadPublicKeyPEM()
	require.NoError(t, err)
	require.Equal(t, "PEM TEXT", pem)
}

func TestReadMissingKey(t *testing.T) {
	l := NewLayout(t.TempDir())
	_, err := l.ReadEncryptedKey()
	require.ErrorIs(t, err, ErrNotFound)

	_, err = Layout{}.ReadPublicKeyPEM()
	require.ErrorIs(t, err, ErrNoDirectory)
}

func TestCustomNames(t *testing.T) {
	dir := t.TempDir()
	l := Layout{Dir: dir, PrivateKeyName: "a.enc", PublicKeyName: "a.pem"}
	require.NoError(t, l.SaveKeyPair(securestore.FormatSealed, "1234", []byte("x"), "y"))
	require.FileExists(t, filepath.Join(dir, "a.enc"))
	require.FileExists(t, filepath.Join(dir, "a.pem"))
}

func TestFindPublicKeyFirstHitWins(t *testing.T) {
	empty, first, second := t.TempDir(), t.TempDir(), t.TempDir()
	for _, dir := range []string{first, second} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultPublicKeyName), []byte("pem"), 0o644))
	}

	got, err := FindPublicKey([]string{"", empty, first, second}, "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(first, DefaultPublicKeyName), got)

	_, err = FindPublicKey([]string{empty}, "")
	require.ErrorIs(t, err, ErrNotFound)
}
