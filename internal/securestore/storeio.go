package securestore

import (
	"os"
	"path/filepath"
)

// WriteSealedFile seals der with pin and writes it atomically with owner-only permissions.
func WriteSealedFile(path string, format Format, pin string, der []byte) error {
	blob, err := Seal(format, pin, der)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, blob, 0o600)
}

// WriteFileAtomic writes data to a sibling temp file and renames it over path,
// so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
