package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"padessign/go-backend/internal/config"
	"padessign/go-backend/internal/keystore"
	"padessign/go-backend/internal/metadata"
	"padessign/go-backend/internal/metrics"
	"padessign/go-backend/internal/pdfinfo"
	"padessign/go-backend/internal/platform/ratelimiter"
	"padessign/go-backend/internal/securestore"
	"padessign/go-backend/internal/testutil/fsperm"
	"padessign/go-backend/internal/testutil/pdffixture"
)

var fixedNow = time.Date(2024, 5, 17, 9, 30, 0, 123456700, time.UTC)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Signer.Name = "Anna Nowak"
	cfg.Keys.Bits = 2048
	cfg.Keys.Dir = filepath.Join(t.TempDir(), "device")
	cfg.PIN.AttemptsPerMinute = 0
	return cfg
}

func newTestService(t *testing.T, cfg config.Config) (*Service, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	return NewService(cfg, WithMetrics(m), WithClock(func() time.Time { return fixedNow })), m
}

func writeFixture(t *testing.T, dir string, opts pdffixture.Options) string {
	t.Helper()
	path := filepath.Join(dir, "contract.pdf")
	require.NoError(t, os.WriteFile(path, pdffixture.Build(opts), 0o644))
	return path
}

func provision(t *testing.T, svc *Service, pin string) GenerateResult {
	t.Helper()
	res, err := svc.GenerateKeys(context.Background(), GenerateRequest{PIN: pin})
	require.NoError(t, err)
	return res
}

func TestGenerateKeysWritesDeviceFiles(t *testing.T) {
	cfg := testConfig(t)
	svc, m := newTestService(t, cfg)

	res := provision(t, svc, "1234")
	require.Equal(t, filepath.Join(cfg.Keys.Dir, "privateKey.enc"), res.PrivateKeyPath)
	require.Equal(t, filepath.Join(cfg.Keys.Dir, "publicKey.pem"), res.PublicKeyPath)
	require.Equal(t, 2048, res.Bits)
	require.Equal(t, securestore.FormatLegacy, res.Format)
	require.NotEmpty(t, res.Key.ID)
	require.Len(t, res.Key.Words, 12)
	fsperm.AssertPrivateFilePerm(t, res.PrivateKeyPath)

	blob, err := os.ReadFile(res.PrivateKeyPath)
	require.NoError(t, err)
	require.Equal(t, securestore.FormatLegacy, securestore.DetectFormat(blob))
	der, err := securestore.DecryptPrivateKey("1234", blob)
	require.NoError(t, err)
	require.NotEmpty(t, der)

	info, err := svc.Fingerprint(context.Background(), res.PublicKeyPath)
	require.NoError(t, err)
	require.Equal(t, res.Key, info)
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP padessign_keys_generated_total Key pairs generated and written to a device
# TYPE padessign_keys_generated_total counter
padessign_keys_generated_total 1
`), "padessign_keys_generated_total"))
}

func TestGenerateKeysSealedFormat(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg)

	res, err := svc.GenerateKeys(context.Background(), GenerateRequest{PIN: "987654", Format: securestore.FormatSealed})
	require.NoError(t, err)
	blob, err := os.ReadFile(res.PrivateKeyPath)
	require.NoError(t, err)
	require.Equal(t, securestore.FormatSealed, securestore.DetectFormat(blob))
}

func TestGenerateKeysRejectsBadPIN(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg)

	for _, pin := range []string{"", "123", "12ab", "1234567890123"} {
		_, err := svc.GenerateKeys(context.Background(), GenerateRequest{PIN: pin})
		require.ErrorIs(t, err, ErrInvalidPIN, pin)
	}
	require.NoDirExists(t, cfg.Keys.Dir)

	cfg.Keys.Dir = ""
	svc, _ = newTestService(t, cfg)
	_, err := svc.GenerateKeys(context.Background(), GenerateRequest{PIN: "1234"})
	require.ErrorIs(t, err, keystore.ErrNoDirectory)
}

func TestSignThenVerify(t *testing.T) {
	cfg := testConfig(t)
	svc, m := newTestService(t, cfg)
	provision(t, svc, "2468")

	docDir := t.TempDir()
	docPath := writeFixture(t, docDir, pdffixture.Options{Keywords: "invoice, 2024"})
	original, err := os.ReadFile(docPath)
	require.NoError(t, err)

	signed, err := svc.SignDocument(context.Background(), SignRequest{DocumentPath: docPath, PIN: "2468"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(docDir, "Signed_contract.pdf"), signed.OutputPath)
	require.Equal(t, "Anna Nowak", signed.Record.SignerName)
	require.Equal(t, "Document approval", signed.Record.SigningReason)
	require.Equal(t, "Gdansk, Poland", signed.Record.SigningLocation)
	require.True(t, fixedNow.Equal(signed.Record.SigningTime))

	out, err := os.ReadFile(signed.OutputPath)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, original), "signed copy must extend the original bytes")
	after, err := os.ReadFile(docPath)
	require.NoError(t, err)
	require.Equal(t, original, after, "input must be left untouched")

	parsed, err := pdfinfo.Parse(out)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix([]byte(parsed.Keywords()), []byte("invoice, 2024|PAdES_Signature:")))

	res, err := svc.VerifyDocument(context.Background(), VerifyRequest{DocumentPath: signed.OutputPath})
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, filepath.Join(cfg.Keys.Dir, "publicKey.pem"), res.PublicKeyPath)
	require.Equal(t, signed.Record.Signature, res.Record.Signature)
	require.NotEmpty(t, res.Key.ID)

	inspected, err := svc.Inspect(context.Background(), signed.OutputPath)
	require.NoError(t, err)
	require.True(t, inspected.Signed)
	require.Equal(t, "Anna Nowak", inspected.Record.SignerName)

	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP padessign_sign_total Signing attempts by result
# TYPE padessign_sign_total counter
padessign_sign_total{result="ok"} 1
# HELP padessign_verify_total Verification attempts by outcome
# TYPE padessign_verify_total counter
padessign_verify_total{outcome="valid"} 1
`), "padessign_sign_total", "padessign_verify_total"))
}

func TestSignWrongPINWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	svc, m := newTestService(t, cfg)
	res := provision(t, svc, "2468")
	keyBefore, err := os.ReadFile(res.PrivateKeyPath)
	require.NoError(t, err)

	docDir := t.TempDir()
	docPath := writeFixture(t, docDir, pdffixture.Options{})

	// Without a MAC a wrong PIN can still unpad cleanly, in which case the
	// garbage fails as a private key instead.
	_, err = svc.SignDocument(context.Background(), SignRequest{DocumentPath: docPath, PIN: "1357"})
	require.Error(t, err)
	require.NoFileExists(t, filepath.Join(docDir, "Signed_contract.pdf"))

	keyAfter, err := os.ReadFile(res.PrivateKeyPath)
	require.NoError(t, err)
	require.Equal(t, keyBefore, keyAfter)
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP padessign_sign_total Signing attempts by result
# TYPE padessign_sign_total counter
padessign_sign_total{result="error"} 1
`), "padessign_sign_total"))
}

func TestSignErrors(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg)
	docPath := writeFixture(t, t.TempDir(), pdffixture.Options{})

	_, err := svc.SignDocument(context.Background(), SignRequest{DocumentPath: docPath})
	require.ErrorIs(t, err, ErrInvalidPIN)

	_, err = svc.SignDocument(context.Background(), SignRequest{DocumentPath: docPath, PIN: "1234"})
	require.ErrorIs(t, err, keystore.ErrNotFound)

	_, err = svc.SignDocument(context.Background(), SignRequest{DocumentPath: docPath, PIN: "1234", OutputPath: docPath})
	require.ErrorIs(t, err, ErrOutputIsInput)

	_, err = svc.SignDocument(context.Background(), SignRequest{PIN: "1234"})
	require.ErrorIs(t, err, ErrNoDocumentPath)

	notPDF := filepath.Join(t.TempDir(), "notes.pdf")
	require.NoError(t, os.WriteFile(notPDF, []byte("hello"), 0o644))
	_, err = svc.SignDocument(context.Background(), SignRequest{DocumentPath: notPDF, PIN: "1234"})
	require.ErrorIs(t, err, pdfinfo.ErrMalformed)
}

func TestSignExplicitOutputAndKeyDir(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg)
	otherDevice := filepath.Join(t.TempDir(), "usb")
	_, err := svc.GenerateKeys(context.Background(), GenerateRequest{Dir: otherDevice, PIN: "0000"})
	require.NoError(t, err)

	docPath := writeFixture(t, t.TempDir(), pdffixture.Options{NoInfo: true})
	out := filepath.Join(t.TempDir(), "nested", "approved.pdf")
	res, err := svc.SignDocument(context.Background(), SignRequest{DocumentPath: docPath, KeyDir: otherDevice, PIN: "0000", OutputPath: out})
	require.NoError(t, err)
	require.Equal(t, out, res.OutputPath)

	v, err := svc.VerifyDocument(context.Background(), VerifyRequest{
		DocumentPath:  out,
		PublicKeyPath: filepath.Join(otherDevice, keystore.DefaultPublicKeyName),
	})
	require.NoError(t, err)
	require.True(t, v.Valid)
}

func TestVerifyWithUnrelatedKeyIsInvalid(t *testing.T) {
	cfg := testConfig(t)
	svc, m := newTestService(t, cfg)
	provision(t, svc, "1111")
	docPath := writeFixture(t, t.TempDir(), pdffixture.Options{})
	signed, err := svc.SignDocument(context.Background(), SignRequest{DocumentPath: docPath, PIN: "1111"})
	require.NoError(t, err)

	other := filepath.Join(t.TempDir(), "other")
	_, err = svc.GenerateKeys(context.Background(), GenerateRequest{Dir: other, PIN: "2222"})
	require.NoError(t, err)

	res, err := svc.VerifyDocument(context.Background(), VerifyRequest{
		DocumentPath:  signed.OutputPath,
		PublicKeyPath: filepath.Join(other, keystore.DefaultPublicKeyName),
	})
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP padessign_verify_total Verification attempts by outcome
# TYPE padessign_verify_total counter
padessign_verify_total{outcome="invalid"} 1
`), "padessign_verify_total"))
}

func TestVerifyErrorsAreDistinctFromInvalid(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg)
	provision(t, svc, "1111")
	unsigned := writeFixture(t, t.TempDir(), pdffixture.Options{})

	_, err := svc.VerifyDocument(context.Background(), VerifyRequest{DocumentPath: unsigned})
	require.ErrorIs(t, err, metadata.ErrMarkerNotFound)

	badPEM := filepath.Join(t.TempDir(), "publicKey.pem")
	require.NoError(t, os.WriteFile(badPEM, []byte("not a key"), 0o644))
	_, err = svc.VerifyDocument(context.Background(), VerifyRequest{DocumentPath: unsigned, PublicKeyPath: badPEM})
	require.Error(t, err)

	cfg.Keys.Dir = ""
	cfg.Keys.SearchDirs = []string{t.TempDir()}
	svc, _ = newTestService(t, cfg)
	_, err = svc.VerifyDocument(context.Background(), VerifyRequest{DocumentPath: unsigned})
	require.ErrorIs(t, err, keystore.ErrNotFound)
}

func TestVerifySearchesConfiguredMounts(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg)
	provision(t, svc, "1111")
	docPath := writeFixture(t, t.TempDir(), pdffixture.Options{})
	signed, err := svc.SignDocument(context.Background(), SignRequest{DocumentPath: docPath, PIN: "1111"})
	require.NoError(t, err)

	verifyCfg := testConfig(t)
	verifyCfg.Keys.Dir = ""
	verifyCfg.Keys.SearchDirs = []string{t.TempDir(), cfg.Keys.Dir}
	verifier, _ := newTestService(t, verifyCfg)
	res, err := verifier.VerifyDocument(context.Background(), VerifyRequest{DocumentPath: signed.OutputPath})
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, filepath.Join(cfg.Keys.Dir, keystore.DefaultPublicKeyName), res.PublicKeyPath)
}

func TestInspectUnsigned(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t))
	res, err := svc.Inspect(context.Background(), writeFixture(t, t.TempDir(), pdffixture.Options{Keywords: "draft"}))
	require.NoError(t, err)
	require.False(t, res.Signed)
}

func TestUnlockThrottleOutlivesTheService(t *testing.T) {
	cfg := testConfig(t)
	cfg.PIN.AttemptsPerMinute = 1
	cfg.PIN.Burst = 1
	cfg.Keys.Format = securestore.FormatSealed
	now := fixedNow
	clock := func() time.Time { return now }
	svc := NewService(cfg, WithClock(clock))
	gen := provision(t, svc, "2468")
	docPath := writeFixture(t, t.TempDir(), pdffixture.Options{})
	sidecar := gen.PrivateKeyPath + ratelimiter.AttemptsSuffix

	_, err := svc.SignDocument(context.Background(), SignRequest{DocumentPath: docPath, PIN: "0000"})
	require.ErrorIs(t, err, securestore.ErrDecryptionFailed)
	require.FileExists(t, sidecar)

	// Each CLI run builds a new service; the budget must carry over.
	next := NewService(cfg, WithClock(clock))
	_, err = next.SignDocument(context.Background(), SignRequest{DocumentPath: docPath, PIN: "2468"})
	require.ErrorIs(t, err, ErrTooManyAttempts)
	require.False(t, errors.Is(err, securestore.ErrDecryptionFailed))
	require.Contains(t, err.Error(), "retry in 1m0s")

	now = now.Add(61 * time.Second)
	_, err = NewService(cfg, WithClock(clock)).SignDocument(context.Background(), SignRequest{DocumentPath: docPath, PIN: "2468"})
	require.NoError(t, err)
	require.NoFileExists(t, sidecar)
}

func TestGenerateKeysClearsStaleAttempts(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg)
	res := provision(t, svc, "2468")
	sidecar := res.PrivateKeyPath + ratelimiter.AttemptsSuffix
	require.NoError(t, os.WriteFile(sidecar, []byte(`{"tokens":0}`), 0o600))

	provision(t, svc, "1357")
	require.NoFileExists(t, sidecar)
}

func TestUnlockSuccessKeepsBudget(t *testing.T) {
	cfg := testConfig(t)
	cfg.PIN.AttemptsPerMinute = 1
	cfg.PIN.Burst = 1
	svc, _ := newTestService(t, cfg)
	provision(t, svc, "2468")
	docPath := writeFixture(t, t.TempDir(), pdffixture.Options{})

	for i := 0; i < 3; i++ {
		_, err := svc.SignDocument(context.Background(), SignRequest{DocumentPath: docPath, PIN: "2468"})
		require.NoError(t, err, "attempt %d", i)
	}
}

func TestValidatePINPolicy(t *testing.T) {
	cfg := testConfig(t)
	svc := NewService(cfg)
	require.NoError(t, svc.ValidatePIN("1234"))
	require.NoError(t, svc.ValidatePIN("123456789012"))
	require.ErrorIs(t, svc.ValidatePIN("12 34"), ErrInvalidPIN)

	cfg.PIN.DigitsOnly = false
	require.NoError(t, NewService(cfg).ValidatePIN("ab-cd"))
}
