package cli

import (
	"errors"
	"fmt"

	"padessign/go-backend/internal/app"
	"padessign/go-backend/internal/keygen"
	"padessign/go-backend/internal/keystore"
	"padessign/go-backend/internal/metadata"
	"padessign/go-backend/internal/pdfinfo"
	"padessign/go-backend/internal/pemkey"
	"padessign/go-backend/internal/securestore"
	"padessign/go-backend/internal/signing"
)

// describe turns an error into the line shown to the user. Every failure class
// gets its own wording; none of them reads like a failed signature check.
func describe(err error) string {
	switch {
	case errors.Is(err, securestore.ErrDecryptionFailed):
		return "Wrong PIN or corrupted key."
	case errors.Is(err, signing.ErrInvalidPrivateKey):
		return "The unlocked private key is not a valid RSA key. The PIN is probably wrong."
	case errors.Is(err, app.ErrTooManyAttempts):
		return fmt.Sprintf("Key locked: %v.", err)
	case errors.Is(err, app.ErrInvalidPIN):
		return fmt.Sprintf("PIN rejected: %v.", err)
	case errors.Is(err, pemkey.ErrPemFormat):
		return "Could not verify: the public key file is not a PEM public key."
	case errors.Is(err, pemkey.ErrNotRSAKey):
		return "Could not verify: the public key is not an RSA key."
	case errors.Is(err, metadata.ErrMarkerNotFound):
		return "Could not verify: the document carries no signature."
	case errors.Is(err, metadata.ErrInvalidEncoding):
		return "Could not verify: the signature metadata is damaged."
	case errors.Is(err, keystore.ErrNoDirectory):
		return "No key directory given. Pass --dir/--key-dir or set keys.dir."
	case errors.Is(err, keystore.ErrNotFound):
		return fmt.Sprintf("Key file not found (%v).", err)
	case errors.Is(err, keygen.ErrKeyGeneration):
		return fmt.Sprintf("Key generation failed: %v.", err)
	case errors.Is(err, pdfinfo.ErrUnsupported):
		return fmt.Sprintf("Unsupported PDF: %v.", err)
	case errors.Is(err, pdfinfo.ErrMalformed):
		return fmt.Sprintf("Not a readable PDF: %v.", err)
	}
	return err.Error()
}
