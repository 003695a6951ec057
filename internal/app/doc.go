// Package app contains the signer's use cases: provisioning a key device,
// signing a document and verifying one, independent of the command line.
//
// Responsibilities:
//   - Compose key generation, the private key vault, the document collaborator
//     and signing into request/result operations.
//   - Apply PIN policy and unlock throttling before any decryption.
//   - Record logs and metrics for every outcome.
//
// Non-responsibilities:
// - Prompting for PINs, rendering results and choosing exit codes.
package app
