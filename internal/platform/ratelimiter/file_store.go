package ratelimiter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"padessign/go-backend/internal/securestore"
)

// AttemptsSuffix names the sidecar written next to a throttled key file.
const AttemptsSuffix = ".attempts"

// FileStore keeps each key's bucket in a JSON sidecar at key+AttemptsSuffix.
// Keys are expected to be file paths.
type FileStore struct{}

func (FileStore) Path(key string) string { return key + AttemptsSuffix }

func (s FileStore) Load(key string) (State, bool, error) {
	raw, err := os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("read attempt state: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, false, fmt.Errorf("decode attempt state: %w", err)
	}
	return st, true, nil
}

func (s FileStore) Save(key string, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := securestore.WriteFileAtomic(s.Path(key), raw, 0o600); err != nil {
		return fmt.Errorf("write attempt state: %w", err)
	}
	return nil
}

func (s FileStore) Clear(key string) error {
	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear attempt state: %w", err)
	}
	return nil
}
