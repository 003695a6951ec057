package app

import (
	"context"

	"padessign/go-backend/internal/metadata"
	"padessign/go-backend/internal/securestore"
)

// SignerAPI is the surface the command line drives.
type SignerAPI interface {
	GenerateKeys(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	SignDocument(ctx context.Context, req SignRequest) (SignResult, error)
	VerifyDocument(ctx context.Context, req VerifyRequest) (VerifyResult, error)
	Inspect(ctx context.Context, documentPath string) (InspectResult, error)
	Fingerprint(ctx context.Context, publicKeyPath string) (KeyInfo, error)
	Doctor(ctx context.Context, req DoctorRequest) (DoctorReport, error)
}

type GenerateRequest struct {
	// Dir is the device directory; empty means the configured keys.dir.
	Dir string
	PIN string
	// Bits and Format fall back to configuration when zero.
	Bits   int
	Format securestore.Format
}

type GenerateResult struct {
	PrivateKeyPath string
	PublicKeyPath  string
	Bits           int
	Format         securestore.Format
	Key            KeyInfo
}

type SignRequest struct {
	DocumentPath string
	// KeyDir holds privateKey.enc; empty means the configured keys.dir.
	KeyDir string
	PIN    string
	// OutputPath defaults to <prefix><name> next to DocumentPath.
	OutputPath string
}

type SignResult struct {
	OutputPath string
	Record     metadata.Record
}

type VerifyRequest struct {
	DocumentPath string
	// PublicKeyPath, when empty, is searched for in keys.dir and keys.searchDirs.
	PublicKeyPath string
}

type VerifyResult struct {
	Valid         bool
	PublicKeyPath string
	Record        metadata.Record
	Key           KeyInfo
}

type InspectResult struct {
	Signed bool
	Record metadata.Record
}

// KeyInfo identifies a public key for comparison between people.
type KeyInfo struct {
	ID    string
	Words []string
}
