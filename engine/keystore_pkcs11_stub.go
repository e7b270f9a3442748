//go:build !pkcs11

package engine

import (
	"crypto"
	"errors"
)

// PKCS11Prefix marks a stored CA key record as a reference to an HSM key.
const PKCS11Prefix = "PKCS11:"

// ErrPKCS11NotCompiled is returned by every PKCS#11 operation of a binary
// built without the pkcs11 tag.
var ErrPKCS11NotCompiled = errors.New("PKCS#11 support not compiled; rebuild with: go build -tags pkcs11")

// PKCS11Config selects the PKCS#11 token holding CA keys.
type PKCS11Config struct {
	ModulePath string `yaml:"module_path"`
	TokenLabel string `yaml:"token_label"`
	PIN        string `yaml:"pin"`
	SlotNumber *int   `yaml:"slot_number"`
}

// PKCS11KeyStore is a placeholder that fails every operation.
type PKCS11KeyStore struct{}

var _ KeyStore = (*PKCS11KeyStore)(nil)

func NewPKCS11KeyStore(PKCS11Config) (*PKCS11KeyStore, error) { return nil, ErrPKCS11NotCompiled }

func (p *PKCS11KeyStore) Close() error { return nil }
func (p *PKCS11KeyStore) GenerateKey() (string, error) { return "", ErrPKCS11NotCompiled }
func (p *PKCS11KeyStore) Signer(string) (crypto.Signer, error) { return nil, ErrPKCS11NotCompiled }
func (p *PKCS11KeyStore) ExportPEM(string) (string, error) { return "", ErrPKCS11NotCompiled }
func (p *PKCS11KeyStore) ImportPEM(string) (string, error) { return "", ErrPKCS11NotCompiled }
func (p *PKCS11KeyStore) Delete(string) error { return ErrPKCS11NotCompiled }
