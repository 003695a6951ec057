package app

import (
	"context"
	"fmt"
	"os"

	"padessign/go-backend/internal/keygen"
	"padessign/go-backend/internal/keyid"
	"padessign/go-backend/internal/keystore"
	"padessign/go-backend/internal/pemkey"
	"padessign/go-backend/internal/platform/ratelimiter"
)

// GenerateKeys creates a key pair, seals the private half under req.PIN and
// writes both files to the device directory.
func (s *Service) GenerateKeys(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return GenerateResult{}, err
	}
	if err := s.ValidatePIN(req.PIN); err != nil {
		return GenerateResult{}, err
	}
	layout := s.layout(req.Dir)
	if layout.Dir == "" {
		return GenerateResult{}, keystore.ErrNoDirectory
	}
	bits := req.Bits
	if bits == 0 {
		bits = s.cfg.Keys.Bits
	}
	format := req.Format
	if format == "" {
		format = s.cfg.Keys.Format
	}

	pair, err := keygen.GenerateWithBits(bits)
	if err != nil {
		return GenerateResult{}, err
	}
	defer pair.Wipe()

	if err := layout.SaveKeyPair(format, req.PIN, pair.PrivateKeyDER, pemkey.EncodePublicKey(pair.PublicKeyDER)); err != nil {
		return GenerateResult{}, err
	}
	// Attempts recorded against a previous key on this device no longer apply.
	if err := (ratelimiter.FileStore{}).Clear(absPath(layout.PrivateKeyPath())); err != nil {
		s.logger.Warn("stale pin attempt state left behind", "key_dir", layout.Dir, "error", err)
	}

	info, err := keyInfo(pair.PublicKeyDER)
	if err != nil {
		return GenerateResult{}, err
	}
	s.metrics.KeyGenerated()
	s.logger.Info("key pair generated", "key_dir", layout.Dir, "bits", pair.Bits, "format", string(format), "key_id", info.ID)
	return GenerateResult{
		PrivateKeyPath: layout.PrivateKeyPath(),
		PublicKeyPath:  layout.PublicKeyPath(),
		Bits:           pair.Bits,
		Format:         format,
		Key:            info,
	}, nil
}

// Fingerprint reads a public key PEM and returns its identifiers.
func (s *Service) Fingerprint(ctx context.Context, publicKeyPath string) (KeyInfo, error) {
	if err := ctx.Err(); err != nil {
		return KeyInfo{}, err
	}
	raw, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return KeyInfo{}, fmt.Errorf("read public key: %w", err)
	}
	der, err := pemkey.DecodePublicKey(string(raw))
	if err != nil {
		return KeyInfo{}, err
	}
	return keyInfo(der)
}

func keyInfo(spkiDER []byte) (KeyInfo, error) {
	fp := keyid.Of(spkiDER)
	words, err := fp.Words()
	if err != nil {
		return KeyInfo{}, err
	}
	return KeyInfo{ID: fp.ID(), Words: words}, nil
}
