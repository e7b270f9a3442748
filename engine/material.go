package engine

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironca/internal/util"
	"github.com/jmcleod/ironca/storage"
)

var (
	// ErrNotInitialized is returned by LoadCA when no CA material is stored
	// under the name.
	ErrNotInitialized = errors.New("CA is not initialized")

	// ErrAlreadyInitialized is returned by InitCA and ImportCA when CA
	// material already exists.
	ErrAlreadyInitialized = errors.New("CA is already initialized")

	// ErrKeyMismatch is returned when an imported key does not belong to
	// the certificate.
	ErrKeyMismatch = errors.New("private key does not match certificate")
)

const (
	recordTypeCA = "CA"
	caCertID     = "cert"
	caKeyID      = "key"
)

// Material is a CA certificate together with a signer for its key.
type Material struct {
	Cert   *x509.Certificate
	Signer crypto.Signer
	KeyID  string
}

// InitRequest describes a self-signed CA to create.
type InitRequest struct {
	Subject       pkix.RDNSequence
	ValidityYears int
	// MaxPathLen limits the chain below the CA; negative means unlimited.
	MaxPathLen int
}

type certRecordCA struct {
	DER []byte `json:"der"`
}

func keyAAD(name string) []byte {
	return []byte("ironca:ca-key:" + name)
}

func sealKeyRecord(sealKey *memguard.Enclave, name string, data []byte) (*storage.Envelope, error) {
	if sealKey == nil {
		return storage.PlainRecord(data), nil
	}
	buf, err := sealKey.Open()
	if err != nil {
		return nil, fmt.Errorf("opening seal key: %w", err)
	}
	defer buf.Destroy()
	return storage.SealRecord(buf.Bytes(), data, keyAAD(name))
}

func openKeyRecord(sealKey *memguard.Enclave, name string, env *storage.Envelope) ([]byte, error) {
	if env.Scheme == storage.SchemePlainJSON {
		return env.Ciphertext, nil
	}
	if sealKey == nil {
		return nil, errors.New("CA key is sealed but no seal key is configured")
	}
	buf, err := sealKey.Open()
	if err != nil {
		return nil, fmt.Errorf("opening seal key: %w", err)
	}
	defer buf.Destroy()
	return storage.OpenRecord(buf.Bytes(), env, keyAAD(name))
}

func exists(repo storage.Repository, name string) (bool, error) {
	_, err := repo.Get(name, recordTypeCA, caCertID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrNamespaceNotFound):
		return false, nil
	}
	return false, err
}

func saveMaterial(repo storage.Repository, sealKey *memguard.Enclave, name string, cert *x509.Certificate, keyRef string) error {
	certJSON, err := json.Marshal(certRecordCA{DER: cert.Raw})
	if err != nil {
		return err
	}
	keyEnv, err := sealKeyRecord(sealKey, name, []byte(keyRef))
	if err != nil {
		return fmt.Errorf("sealing CA key: %w", err)
	}
	stateJSON, err := json.Marshal(caState{})
	if err != nil {
		return err
	}
	return repo.Batch(name, func(tx storage.BatchTx) error {
		if err := tx.Put(recordTypeCA, caCertID, storage.PlainRecord(certJSON)); err != nil {
			return err
		}
		if err := tx.Put(recordTypeCA, caKeyID, keyEnv); err != nil {
			return err
		}
		return tx.PutCAS(recordTypeCA, caStateID, 0, storage.PlainRecord(stateJSON, 1))
	})
}

// InitCA generates a key in ks, self-signs a CA certificate and stores
// both under name. The key record is sealed with sealKey when one is given.
func InitCA(_ context.Context, repo storage.Repository, ks KeyStore, sealKey *memguard.Enclave, name string, req InitRequest) (*Material, error) {
	found, err := exists(repo, name)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, name)
	}
	if len(req.Subject) == 0 {
		return nil, errors.New("CA subject is required")
	}
	rawSubject, err := asn1.Marshal(req.Subject)
	if err != nil {
		return nil, fmt.Errorf("encoding CA subject: %w", err)
	}
	if req.ValidityYears <= 0 {
		req.ValidityYears = 10
	}

	keyID, err := ks.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating CA key: %w", err)
	}
	signer, err := ks.Signer(keyID)
	if err != nil {
		return nil, fmt.Errorf("getting CA signer: %w", err)
	}

	serial, err := util.RandomSerial(16)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		RawSubject:            rawSubject,
		NotBefore:             now,
		NotAfter:              now.AddDate(req.ValidityYears, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	switch {
	case req.MaxPathLen > 0:
		template.MaxPathLen = req.MaxPathLen
	case req.MaxPathLen == 0:
		template.MaxPathLenZero = true
	default:
		template.MaxPathLen = -1
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	if err != nil {
		return nil, fmt.Errorf("creating CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	keyRef, err := ks.ExportPEM(keyID)
	if err != nil {
		return nil, fmt.Errorf("exporting CA key: %w", err)
	}
	if err := saveMaterial(repo, sealKey, name, cert, keyRef); err != nil {
		return nil, fmt.Errorf("storing CA material: %w", err)
	}
	return &Material{Cert: cert, Signer: signer, KeyID: keyID}, nil
}

// ImportCA stores an existing CA certificate and key under name.
func ImportCA(_ context.Context, repo storage.Repository, ks KeyStore, sealKey *memguard.Enclave, name string, cert *x509.Certificate, keyPEM string) (*Material, error) {
	found, err := exists(repo, name)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, name)
	}
	m, err := LoadSigner(ks, cert, keyPEM)
	if err != nil {
		return nil, err
	}
	keyRef, err := ks.ExportPEM(m.KeyID)
	if err != nil {
		return nil, fmt.Errorf("exporting CA key: %w", err)
	}
	if err := saveMaterial(repo, sealKey, name, cert, keyRef); err != nil {
		return nil, fmt.Errorf("storing CA material: %w", err)
	}
	return m, nil
}

// LoadSigner imports keyPEM into ks and checks that it matches cert.
func LoadSigner(ks KeyStore, cert *x509.Certificate, keyPEM string) (*Material, error) {
	keyID, err := ks.ImportPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("importing key: %w", err)
	}
	signer, err := ks.Signer(keyID)
	if err != nil {
		return nil, err
	}
	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(cert.PublicKey) {
		_ = ks.Delete(keyID)
		return nil, ErrKeyMismatch
	}
	return &Material{Cert: cert, Signer: signer, KeyID: keyID}, nil
}

// LoadCA reads the CA certificate and key stored under name.
func LoadCA(_ context.Context, repo storage.Repository, ks KeyStore, sealKey *memguard.Enclave, name string) (*Material, error) {
	certEnv, err := repo.Get(name, recordTypeCA, caCertID)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading CA certificate: %w", err)
	}
	var rec certRecordCA
	if err := json.Unmarshal(certEnv.Ciphertext, &rec); err != nil {
		return nil, fmt.Errorf("decoding CA certificate record: %w", err)
	}
	cert, err := x509.ParseCertificate(rec.DER)
	if err != nil {
		return nil, fmt.Errorf("parsing CA certificate: %w", err)
	}

	keyEnv, err := repo.Get(name, recordTypeCA, caKeyID)
	if err != nil {
		return nil, fmt.Errorf("loading CA key: %w", err)
	}
	keyRef, err := openKeyRecord(sealKey, name, keyEnv)
	if err != nil {
		return nil, fmt.Errorf("unsealing CA key: %w", err)
	}
	defer util.WipeBytes(keyRef)
	return LoadSigner(ks, cert, string(keyRef))
}
