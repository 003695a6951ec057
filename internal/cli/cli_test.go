package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"padessign/go-backend/internal/testutil/pdffixture"
)

type harness struct {
	t       *testing.T
	config  string
	keyDir  string
	metrics string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithPIN(t, "  attemptsPerMinute: 0\n")
}

// newHarnessWithPIN writes a config whose pin section is pinYAML.
func newHarnessWithPIN(t *testing.T, pinYAML string) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		t:       t,
		config:  filepath.Join(root, "padessign.yaml"),
		keyDir:  filepath.Join(root, "usb"),
		metrics: filepath.Join(root, "padessign.prom"),
	}
	body := fmt.Sprintf(`signer:
  name: Piotr Zielinski
keys:
  dir: %s
  bits: 2048
pin:
%smetrics:
  textfile: %s
`, h.keyDir, pinYAML, h.metrics)
	require.NoError(t, os.WriteFile(h.config, []byte(body), 0o600))
	return h
}

// run executes the CLI with stdin as the PIN source.
func (h *harness) run(stdin string, args ...string) (int, string, string) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--config", h.config, "--pin-stdin"}, args...)
	code := Run(context.Background(), BuildInfo{Version: "test"}, Streams{
		In:  strings.NewReader(stdin),
		Out: &out,
		Err: &errOut,
	}, full)
	return code, out.String(), errOut.String()
}

func (h *harness) document() string {
	h.t.Helper()
	path := filepath.Join(h.t.TempDir(), "report.pdf")
	require.NoError(h.t, os.WriteFile(path, pdffixture.Build(pdffixture.Options{Title: "Q3"}), 0o644))
	return path
}

func TestKeygenSignVerify(t *testing.T) {
	h := newHarness(t)

	code, out, _ := h.run("1234\n", "keygen")
	require.Equal(t, ExitOK, code)
	require.Contains(t, out, "Key pair written to")
	require.FileExists(t, filepath.Join(h.keyDir, "privateKey.enc"))
	require.FileExists(t, filepath.Join(h.keyDir, "publicKey.pem"))

	doc := h.document()
	code, out, _ = h.run("1234\n", "sign", doc, "--reason", "Budget approval")
	require.Equal(t, ExitOK, code)
	signed := filepath.Join(filepath.Dir(doc), "Signed_report.pdf")
	require.Contains(t, out, signed)
	require.Contains(t, out, "Budget approval")

	code, out, _ = h.run("", "verify", signed)
	require.Equal(t, ExitOK, code)
	require.Contains(t, out, "Signature is valid")
	require.Contains(t, out, "Piotr Zielinski")

	code, out, _ = h.run("", "inspect", signed)
	require.Equal(t, ExitOK, code)
	require.Contains(t, out, "Budget approval")

	code, out, errOut := h.run("", "fingerprint", filepath.Join(h.keyDir, "publicKey.pem"))
	require.Equal(t, ExitOK, code)
	require.Contains(t, out, "Key words:")
	require.NotContains(t, out+errOut, "\x1b[", "styling must be off when output is not a terminal")

	raw, err := os.ReadFile(h.metrics)
	require.NoError(t, err)
	for _, want := range []string{
		"padessign_keys_generated_total 1",
		`padessign_sign_total{result="ok"} 1`,
		`padessign_verify_total{outcome="valid"} 1`,
	} {
		require.Contains(t, string(raw), want)
	}
}

func TestVerifyExitCodes(t *testing.T) {
	h := newHarness(t)
	code, _, _ := h.run("1234\n", "keygen")
	require.Equal(t, ExitOK, code)
	doc := h.document()
	code, _, _ = h.run("1234\n", "sign", doc)
	require.Equal(t, ExitOK, code)
	signed := filepath.Join(filepath.Dir(doc), "Signed_report.pdf")

	other := filepath.Join(t.TempDir(), "other")
	code, _, _ = h.run("5678\n", "keygen", "--dir", other)
	require.Equal(t, ExitOK, code)

	code, out, errOut := h.run("", "verify", signed, "--public-key", filepath.Join(other, "publicKey.pem"))
	require.Equal(t, ExitSignatureInvalid, code)
	require.Contains(t, out, "Signature is INVALID")
	require.NotContains(t, errOut, "Could not verify")

	code, out, errOut = h.run("", "verify", doc)
	require.Equal(t, ExitFailure, code)
	require.Contains(t, errOut, "Could not verify: the document carries no signature.")
	require.NotContains(t, errOut, "\x1b[")
	require.NotContains(t, out, "INVALID")
}

func TestSignWrongPINFailsWithoutOutput(t *testing.T) {
	h := newHarness(t)
	code, _, _ := h.run("1234\n", "keygen")
	require.Equal(t, ExitOK, code)
	doc := h.document()

	code, _, _ = h.run("9999\n", "sign", doc)
	require.Equal(t, ExitFailure, code)
	require.NoFileExists(t, filepath.Join(filepath.Dir(doc), "Signed_report.pdf"))
}

func TestWrongPINLocksKeyAcrossRuns(t *testing.T) {
	h := newHarnessWithPIN(t, "  attemptsPerMinute: 1\n  burst: 2\n")
	code, _, _ := h.run("1234\n", "keygen")
	require.Equal(t, ExitOK, code)
	doc := h.document()

	for i := 0; i < 2; i++ {
		code, _, errOut := h.run("9999\n", "sign", doc)
		require.Equal(t, ExitFailure, code, "run %d", i)
		require.NotContains(t, errOut, "Key locked", "run %d", i)
	}
	for i := 0; i < 4; i++ {
		code, _, errOut := h.run("9999\n", "sign", doc)
		require.Equal(t, ExitFailure, code, "run %d", i)
		require.Contains(t, errOut, "Key locked: too many PIN attempts (retry in", "run %d", i)
	}
	require.FileExists(t, filepath.Join(h.keyDir, "privateKey.enc.attempts"))

	// The right PIN waits out the lock too.
	code, _, errOut := h.run("1234\n", "sign", doc)
	require.Equal(t, ExitFailure, code)
	require.Contains(t, errOut, "Key locked")
	require.NoFileExists(t, filepath.Join(filepath.Dir(doc), "Signed_report.pdf"))
}

func TestPINFromStdinIgnoresSurroundingSpace(t *testing.T) {
	h := newHarness(t)
	code, _, _ := h.run("1234\n", "keygen")
	require.Equal(t, ExitOK, code)
	doc := h.document()

	code, _, errOut := h.run("  1234 \t\r\n", "sign", doc)
	require.Equal(t, ExitOK, code, errOut)
	require.FileExists(t, filepath.Join(filepath.Dir(doc), "Signed_report.pdf"))
}

func TestKeygenRejectsNonNumericPIN(t *testing.T) {
	h := newHarness(t)
	code, _, errOut := h.run("abcd\n", "keygen")
	require.Equal(t, ExitFailure, code)
	require.Contains(t, errOut, "PIN rejected")
	require.NoFileExists(t, filepath.Join(h.keyDir, "privateKey.enc"))
}

func TestBadConfigIsReported(t *testing.T) {
	var errOut bytes.Buffer
	code := Run(context.Background(), BuildInfo{}, Streams{In: strings.NewReader(""), Out: &bytes.Buffer{}, Err: &errOut},
		[]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "inspect", "x.pdf"})
	require.Equal(t, ExitFailure, code)
	require.Contains(t, errOut.String(), "missing.yaml")
}

func TestVersionSkipsConfig(t *testing.T) {
	var out bytes.Buffer
	code := Run(context.Background(), BuildInfo{Version: "1.2.3"}, Streams{In: strings.NewReader(""), Out: &out, Err: &bytes.Buffer{}},
		[]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "version"})
	require.Equal(t, ExitOK, code)
	require.Contains(t, out.String(), "version=1.2.3")
}

func TestReadPINConfirmation(t *testing.T) {
	answers := []string{"1234", "4321"}
	rt := &runtime{readPassword: func(string) (string, error) {
		next := answers[0]
		answers = answers[1:]
		return next, nil
	}}
	_, err := rt.readPIN(true)
	require.EqualError(t, err, "PINs do not match")
}

func TestDoctor(t *testing.T) {
	h := newHarness(t)
	code, out, _ := h.run("", "doctor")
	require.Equal(t, ExitFailure, code)
	require.Contains(t, out, "key_dir_present")

	code, _, _ = h.run("1234\n", "keygen")
	require.Equal(t, ExitOK, code)
	code, out, _ = h.run("1234\n", "doctor", "--check-pin")
	require.Equal(t, ExitOK, code)
	require.Contains(t, out, "key_pair_matches")
	require.Contains(t, out, "is ready")
}
