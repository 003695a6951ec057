package app

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"runtime"

	"padessign/go-backend/internal/keygen"
	"padessign/go-backend/internal/keyid"
	"padessign/go-backend/internal/pemkey"
	"padessign/go-backend/internal/securestore"
	"padessign/go-backend/internal/signing"
)

type DoctorRequest struct {
	Dir string
	// PIN, when set, also unlocks the private key and matches it against the
	// public key.
	PIN string
}

type DoctorCheck struct {
	Name   string
	Pass   bool
	Reason string
}

type DoctorReport struct {
	Ready  bool
	Dir    string
	Checks []DoctorCheck
}

// Doctor inspects a key device and reports whether it is ready for signing.
func (s *Service) Doctor(ctx context.Context, req DoctorRequest) (DoctorReport, error) {
	if err := ctx.Err(); err != nil {
		return DoctorReport{}, err
	}
	layout := s.layout(req.Dir)
	report := DoctorReport{Ready: true, Dir: layout.Dir, Checks: make([]DoctorCheck, 0, 8)}
	appendCheck := func(name string, err error) bool {
		c := DoctorCheck{Name: name, Pass: err == nil}
		if err != nil {
			c.Reason = err.Error()
			report.Ready = false
		}
		report.Checks = append(report.Checks, c)
		return err == nil
	}

	if !appendCheck("key_dir_present", checkDir(layout.Dir)) {
		return report, nil
	}

	blob, blobErr := layout.ReadEncryptedKey()
	if appendCheck("private_key_present", blobErr) {
		appendCheck("private_key_permissions", checkPrivatePerm(layout.PrivateKeyPath()))
		appendCheck("private_key_layout", securestore.CheckLayout(blob))
		report.Checks = append(report.Checks, DoctorCheck{
			Name:   "private_key_format",
			Pass:   true,
			Reason: describeFormat(securestore.DetectFormat(blob), s.cfg.Keys.Format),
		})
	}

	var pub *rsa.PublicKey
	pemText, pemErr := layout.ReadPublicKeyPEM()
	if appendCheck("public_key_present", pemErr) {
		var err error
		pub, err = pemkey.ParseRSAPublicKey(pemText)
		if appendCheck("public_key_valid", err) {
			appendCheck("public_key_strength", checkStrength(pub))
		}
	}

	if req.PIN == "" || blobErr != nil {
		return report, nil
	}
	der, err := s.unlock(ctx, layout.PrivateKeyPath(), req.PIN, blob)
	if !appendCheck("pin_unlocks_key", err) {
		return report, nil
	}
	defer securestore.Wipe(der)
	if pub != nil {
		appendCheck("key_pair_matches", matchKeyPair(der, pub))
	}
	return report, nil
}

func checkDir(dir string) error {
	if dir == "" {
		return errors.New("no key directory configured")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

func checkPrivatePerm(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("mode %04o is readable by others, expected 0600", perm)
	}
	return nil
}

// describeFormat names the stored format. A device sealed differently from
// keys.format still signs; only new keys follow the config.
func describeFormat(stored, configured securestore.Format) string {
	if configured == "" {
		configured = securestore.FormatLegacy
	}
	if stored == configured {
		return fmt.Sprintf("stored as %s", stored)
	}
	return fmt.Sprintf("stored as %s, keys.format is %s", stored, configured)
}

func checkStrength(pub *rsa.PublicKey) error {
	if bits := pub.N.BitLen(); bits < keygen.MinBits {
		return fmt.Errorf("%d-bit modulus is below %d", bits, keygen.MinBits)
	}
	return nil
}

// matchKeyPair compares the fingerprints of the unlocked key's public half and
// the device's public key, the same identifiers users compare by eye.
func matchKeyPair(der []byte, pub *rsa.PublicKey) error {
	priv, err := signing.ParsePrivateKey(der)
	if err != nil {
		return err
	}
	have, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return err
	}
	want, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return err
	}
	if got, exp := keyid.Of(have), keyid.Of(want); !got.Equal(exp) {
		return fmt.Errorf("private key %s does not belong to public key %s", got.ID(), exp.ID())
	}
	return nil
}
