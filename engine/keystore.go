package engine

import (
	"crypto"
	"errors"
)

// KeyStore abstracts private-key operations so that CA keys may live in
// process memory or in an HSM without changing the engine.
//
// A KeyID uniquely identifies a key managed by the store; its format is
// implementation-defined.
type KeyStore interface {
	// GenerateKey creates a new ECDSA P-256 signing key and returns an
	// opaque identifier.
	GenerateKey() (keyID string, err error)

	// Signer returns a [crypto.Signer] for the key identified by keyID.
	Signer(keyID string) (crypto.Signer, error)

	// ExportPEM returns the private key as PKCS#8 PEM, or a reference
	// string that ImportPEM of the same store can interpret.
	ExportPEM(keyID string) (string, error)

	// ImportPEM loads a key previously produced by ExportPEM.
	ImportPEM(pemData string) (keyID string, err error)

	// Delete removes the key identified by keyID from the store.
	Delete(keyID string) error
}

var (
	// ErrKeyNotExportable is returned by ExportPEM when key material cannot
	// leave the backing device.
	ErrKeyNotExportable = errors.New("private key is not exportable")

	// ErrKeyNotFound is returned when the referenced key ID does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidPEM is returned when PEM data cannot be decoded or parsed.
	ErrInvalidPEM = errors.New("invalid PEM data")
)
