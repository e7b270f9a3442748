package engine

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironca/internal/uuid"
)

// ---------------------------------------------------------------------------
// SoftwareKeyStore
// ---------------------------------------------------------------------------

// SoftwareKeyStore keeps private keys as PKCS#8 DER sealed in memguard
// enclaves. Keys are only decrypted while a signer is being built.
//
// Keys are not persisted; the engine stores the exported PEM in its
// repository and imports it again on start.
type SoftwareKeyStore struct {
	mu   sync.Mutex
	keys map[string]*memguard.Enclave
	rand io.Reader
}

// Compile-time interface check.
var _ KeyStore = (*SoftwareKeyStore)(nil)

// NewSoftwareKeyStore returns a SoftwareKeyStore ready for use.
func NewSoftwareKeyStore() *SoftwareKeyStore {
	return &SoftwareKeyStore{
		keys: make(map[string]*memguard.Enclave),
		rand: rand.Reader,
	}
}

func (s *SoftwareKeyStore) store(der []byte) string {
	id := "sw-" + uuid.New()
	enclave := memguard.NewEnclave(der) // wipes der
	s.mu.Lock()
	s.keys[id] = enclave
	s.mu.Unlock()
	return id
}

func (s *SoftwareKeyStore) open(keyID string) (crypto.PrivateKey, error) {
	s.mu.Lock()
	enclave, ok := s.keys[keyID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	return x509.ParsePKCS8PrivateKey(buf.Bytes())
}

// GenerateKey creates a new ECDSA P-256 key pair.
func (s *SoftwareKeyStore) GenerateKey() (string, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), s.rand)
	if err != nil {
		return "", fmt.Errorf("generating ECDSA P-256 key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", err
	}
	return s.store(der), nil
}

// Signer decrypts the key and returns it as a crypto.Signer.
func (s *SoftwareKeyStore) Signer(keyID string) (crypto.Signer, error) {
	key, err := s.open(keyID)
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key %s is not a signing key", keyID)
	}
	return signer, nil
}

// ExportPEM encodes the private key as PKCS#8 "PRIVATE KEY" PEM.
func (s *SoftwareKeyStore) ExportPEM(keyID string) (string, error) {
	s.mu.Lock()
	enclave, ok := s.keys[keyID]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: buf.Bytes()})), nil
}

// ImportPEM parses a PKCS#8, SEC1 or PKCS#1 private key and stores it.
func (s *SoftwareKeyStore) ImportPEM(pemData string) (string, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return "", fmt.Errorf("%w: no PEM block found", ErrInvalidPEM)
	}

	var (
		key crypto.PrivateKey
		err error
	)
	switch block.Type {
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		return "", fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPEM, block.Type)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return s.store(der), nil
}

// Delete removes the key from memory.
func (s *SoftwareKeyStore) Delete(keyID string) error {
	s.mu.Lock()
	delete(s.keys, keyID)
	s.mu.Unlock()
	return nil
}
