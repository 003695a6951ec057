package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"padessign/go-backend/internal/keystore"
	"padessign/go-backend/internal/metadata"
	"padessign/go-backend/internal/metrics"
	"padessign/go-backend/internal/pemkey"
	"padessign/go-backend/internal/securestore"
	"padessign/go-backend/internal/signing"
)

// SignDocument unlocks the private key, signs the document and writes the
// signed copy. Nothing is written unless every step succeeds.
func (s *Service) SignDocument(ctx context.Context, req SignRequest) (res SignResult, err error) {
	defer func() { s.metrics.Signed(err) }()

	if req.PIN == "" {
		return SignResult{}, fmt.Errorf("%w: empty", ErrInvalidPIN)
	}
	out, err := s.outputPath(req.DocumentPath, req.OutputPath)
	if err != nil {
		return SignResult{}, err
	}
	doc, err := loadDocument(req.DocumentPath)
	if err != nil {
		return SignResult{}, err
	}
	if metadata.HasSignature(doc.Keywords()) {
		s.logger.Warn("document already carries a signature, verification will keep using the first one", "document", filepath.Base(req.DocumentPath))
	}

	layout := s.layout(req.KeyDir)
	blob, err := layout.ReadEncryptedKey()
	if err != nil {
		return SignResult{}, err
	}
	der, err := s.unlock(ctx, layout.PrivateKeyPath(), req.PIN, blob)
	if err != nil {
		return SignResult{}, err
	}
	defer securestore.Wipe(der)

	signer := signing.NewSigner(signing.Attributes{
		SignerName:      s.cfg.Signer.Name,
		SigningReason:   s.cfg.Signer.Reason,
		SigningLocation: s.cfg.Signer.Location,
	})
	signer.Now = s.now
	result, err := signer.Sign(doc, der)
	if err != nil {
		return SignResult{}, err
	}
	signed, err := doc.Save()
	if err != nil {
		return SignResult{}, err
	}
	if err := securestore.WriteFileAtomic(out, signed, 0o644); err != nil {
		return SignResult{}, fmt.Errorf("write signed document: %w", err)
	}

	s.logger.Info("document signed",
		"document", filepath.Base(req.DocumentPath),
		"output", filepath.Base(out),
		"signer", s.cfg.Signer.Name,
	)
	return SignResult{OutputPath: out, Record: result.Record}, nil
}

// unlock opens the sealed key once the per-key attempt budget admits it. The
// budget lives in a sidecar next to the key, so it holds across runs, and a
// successful unlock clears it.
func (s *Service) unlock(ctx context.Context, keyPath, pin string, blob []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limiterKey := absPath(keyPath)
	wait, err := s.limiter.Take(limiterKey, s.now())
	if err != nil {
		s.logger.Warn("pin attempt state unavailable", "key_dir", filepath.Dir(keyPath), "error", err)
	}
	if wait > 0 {
		return nil, fmt.Errorf("%w (retry in %s)", ErrTooManyAttempts, wait.Round(time.Second))
	}

	start := time.Now()
	der, err := securestore.Open(pin, blob)
	if err == nil {
		// The legacy layout has no MAC, so a wrong PIN can still yield valid
		// padding. Only a parseable key counts as a successful unlock.
		if _, err = signing.ParsePrivateKey(der); err != nil {
			securestore.Wipe(der)
		}
	}
	s.metrics.Unlocked(time.Since(start), err)
	if err != nil {
		s.logger.Warn("private key unlock failed", "key_dir", filepath.Dir(keyPath), "error", err)
		return nil, err
	}
	if err := s.limiter.Reset(limiterKey); err != nil {
		s.logger.Warn("pin attempt state not cleared", "key_dir", filepath.Dir(keyPath), "error", err)
	}
	return der, nil
}

// VerifyDocument checks the signature stored in a document against a public
// key. A check that ran and failed is Valid=false with a nil error.
func (s *Service) VerifyDocument(ctx context.Context, req VerifyRequest) (res VerifyResult, err error) {
	defer func() {
		switch {
		case err != nil:
			s.metrics.Verified(metrics.OutcomeFailed)
		case res.Valid:
			s.metrics.Verified(metrics.OutcomeValid)
		default:
			s.metrics.Verified(metrics.OutcomeBad)
		}
	}()

	if err := ctx.Err(); err != nil {
		return VerifyResult{}, err
	}
	keyPath, err := s.publicKeyPath(req.PublicKeyPath)
	if err != nil {
		return VerifyResult{}, err
	}
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("read public key: %w", err)
	}
	doc, err := loadDocument(req.DocumentPath)
	if err != nil {
		return VerifyResult{}, err
	}

	v, err := signing.NewVerifier().Verify(doc, string(raw))
	if err != nil {
		return VerifyResult{}, err
	}
	res = VerifyResult{Valid: v.Valid, PublicKeyPath: keyPath, Record: v.Record}
	if der, err := pemkey.DecodePublicKey(string(raw)); err == nil {
		res.Key, _ = keyInfo(der)
	}

	s.logger.Info("document verified",
		"document", filepath.Base(req.DocumentPath),
		"valid", v.Valid,
		"key_id", res.Key.ID,
	)
	return res, nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func (s *Service) publicKeyPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	dirs := append([]string{s.cfg.Keys.Dir}, s.cfg.Keys.SearchDirs...)
	return keystore.FindPublicKey(dirs, s.cfg.Keys.PublicKeyName)
}

// Inspect reports the signing record carried by a document without checking
// it.
func (s *Service) Inspect(ctx context.Context, documentPath string) (InspectResult, error) {
	if err := ctx.Err(); err != nil {
		return InspectResult{}, err
	}
	doc, err := loadDocument(documentPath)
	if err != nil {
		return InspectResult{}, err
	}
	if !metadata.HasSignature(doc.Keywords()) {
		return InspectResult{}, nil
	}
	rec, err := metadata.Parse(doc.Keywords())
	if errors.Is(err, metadata.ErrMarkerNotFound) {
		return InspectResult{}, nil
	}
	if err != nil {
		return InspectResult{}, err
	}
	return InspectResult{Signed: true, Record: rec}, nil
}
