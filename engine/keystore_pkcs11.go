//go:build pkcs11

package engine

import (
	"crypto"
	"crypto/elliptic"
	"fmt"
	"strings"
	"sync"

	"github.com/ThalesIgnite/crypto11"

	"github.com/jmcleod/ironca/internal/uuid"
)

// PKCS11Prefix marks a stored CA key record as a reference to an HSM key.
// The full reference is "PKCS11:<label>".
const PKCS11Prefix = "PKCS11:"

const pkcs11KeyIDPrefix = "pkcs11-"

// PKCS11Config selects the PKCS#11 token holding CA keys.
type PKCS11Config struct {
	ModulePath string `yaml:"module_path"`
	TokenLabel string `yaml:"token_label"`
	PIN        string `yaml:"pin"`
	// SlotNumber overrides TokenLabel when set.
	SlotNumber *int `yaml:"slot_number"`
}

// PKCS11KeyStore keeps CA keys in a PKCS#11 token. Private keys never
// leave the device; ExportPEM yields a label reference instead.
type PKCS11KeyStore struct {
	ctx *crypto11.Context
	mu  sync.Mutex
}

var _ KeyStore = (*PKCS11KeyStore)(nil)

// NewPKCS11KeyStore opens a session on the configured token. Close must be
// called when finished.
func NewPKCS11KeyStore(cfg PKCS11Config) (*PKCS11KeyStore, error) {
	ctx, err := crypto11.Configure(&crypto11.Config{
		Path:       cfg.ModulePath,
		TokenLabel: cfg.TokenLabel,
		Pin:        cfg.PIN,
		SlotNumber: cfg.SlotNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring PKCS#11: %w", err)
	}
	return &PKCS11KeyStore{ctx: ctx}, nil
}

// Close releases the PKCS#11 context.
func (p *PKCS11KeyStore) Close() error {
	if p.ctx == nil {
		return nil
	}
	return p.ctx.Close()
}

func (p *PKCS11KeyStore) find(label string) (crypto11.Signer, error) {
	signer, err := p.ctx.FindKeyPair(nil, []byte(label))
	if err != nil {
		return nil, fmt.Errorf("%w: %s (HSM: %v)", ErrKeyNotFound, label, err)
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, label)
	}
	return signer, nil
}

// GenerateKey creates an ECDSA P-256 key pair in the token labelled
// "ironca-<uuid>".
func (p *PKCS11KeyStore) GenerateKey() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	label := []byte("ironca-" + uuid.New())
	if _, err := p.ctx.GenerateECDSAKeyPairWithLabel(label, label, elliptic.P256()); err != nil {
		return "", fmt.Errorf("generating ECDSA P-256 key in HSM: %w", err)
	}
	return pkcs11KeyIDPrefix + string(label), nil
}

// Signer returns a signer that delegates to the token.
func (p *PKCS11KeyStore) Signer(keyID string) (crypto.Signer, error) {
	return p.find(strings.TrimPrefix(keyID, pkcs11KeyIDPrefix))
}

// ExportPEM returns the "PKCS11:<label>" reference of an existing key.
func (p *PKCS11KeyStore) ExportPEM(keyID string) (string, error) {
	label := strings.TrimPrefix(keyID, pkcs11KeyIDPrefix)
	if _, err := p.find(label); err != nil {
		return "", err
	}
	return PKCS11Prefix + label, nil
}

// ImportPEM accepts only references produced by ExportPEM; software keys
// cannot be moved into the token.
func (p *PKCS11KeyStore) ImportPEM(pemData string) (string, error) {
	label, ok := strings.CutPrefix(pemData, PKCS11Prefix)
	if !ok {
		return "", fmt.Errorf("%w: cannot import software keys into a PKCS#11 store", ErrKeyNotExportable)
	}
	if _, err := p.find(label); err != nil {
		return "", err
	}
	return pkcs11KeyIDPrefix + label, nil
}

// Delete destroys the key pair. Missing keys are ignored.
func (p *PKCS11KeyStore) Delete(keyID string) error {
	signer, err := p.ctx.FindKeyPair(nil, []byte(strings.TrimPrefix(keyID, pkcs11KeyIDPrefix)))
	if err != nil {
		return fmt.Errorf("finding key for deletion: %w", err)
	}
	if signer == nil {
		return nil
	}
	return signer.Delete()
}
