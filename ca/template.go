package ca

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"time"
)

// CertTemplateData is the validated input to certificate issuance. Exactly
// one of PublicKey and CAGenerateKeyPair is set.
type CertTemplateData struct {
	Subject    pkix.Name
	RawSubject []byte

	// PublicKeyInfo is the DER SubjectPublicKeyInfo; PublicKey its parsed form.
	PublicKeyInfo []byte
	PublicKey     crypto.PublicKey

	NotBefore  *time.Time
	NotAfter   *time.Time
	Extensions []pkix.Extension
	Profile    string
	CallerData []byte

	CAGenerateKeyPair bool
}

func newTemplate(subject pkix.RDNSequence, notBefore, notAfter *time.Time, exts []pkix.Extension, profile string) (*CertTemplateData, error) {
	if len(subject) == 0 {
		return nil, NewOperationError(CodeBadCertTemplate, "subject is not specified")
	}
	raw, err := asn1.Marshal(subject)
	if err != nil {
		return nil, &OperationError{Code: CodeBadCertTemplate, Message: "invalid subject", Err: err}
	}
	if notBefore != nil && notAfter != nil && notAfter.Before(*notBefore) {
		return nil, NewOperationError(CodeBadCertTemplate, "notAfter is before notBefore")
	}
	return &CertTemplateData{
		Subject:    nameFromRDNs(subject),
		RawSubject: raw,
		NotBefore:  notBefore,
		NotAfter:   notAfter,
		Extensions: exts,
		Profile:    profile,
	}, nil
}

// NewCertTemplate builds a template for a requester-supplied public key
// given as DER SubjectPublicKeyInfo.
func NewCertTemplate(subject pkix.RDNSequence, publicKeyInfo []byte, notBefore, notAfter *time.Time, exts []pkix.Extension, profile string) (*CertTemplateData, error) {
	if len(publicKeyInfo) == 0 {
		return nil, NewOperationError(CodeBadCertTemplate, "public key is not specified")
	}
	pub, err := x509.ParsePKIXPublicKey(publicKeyInfo)
	if err != nil {
		return nil, &OperationError{Code: CodeBadCertTemplate, Message: "invalid public key", Err: err}
	}
	t, err := newTemplate(subject, notBefore, notAfter, exts, profile)
	if err != nil {
		return nil, err
	}
	t.PublicKeyInfo = append([]byte(nil), publicKeyInfo...)
	t.PublicKey = pub
	return t, nil
}

// NewCAGenKeyTemplate builds a template for which the CA generates the key.
func NewCAGenKeyTemplate(subject pkix.RDNSequence, notBefore, notAfter *time.Time, exts []pkix.Extension, profile string) (*CertTemplateData, error) {
	t, err := newTemplate(subject, notBefore, notAfter, exts, profile)
	if err != nil {
		return nil, err
	}
	t.CAGenerateKeyPair = true
	return t, nil
}

// Validate checks the key-material invariant.
func (t *CertTemplateData) Validate() error {
	hasKey := len(t.PublicKeyInfo) > 0 || t.PublicKey != nil
	switch {
	case hasKey && t.CAGenerateKeyPair:
		return NewOperationError(CodeBadCertTemplate, "public key must not be set when the CA generates the key pair")
	case !hasKey && !t.CAGenerateKeyPair:
		return NewOperationError(CodeBadCertTemplate, "public key is not specified")
	case len(t.RawSubject) == 0:
		return NewOperationError(CodeBadCertTemplate, "subject is not specified")
	}
	return nil
}

// CertificateInfo is the result of a successful issuance.
type CertificateInfo struct {
	CertID      int64
	Certificate *x509.Certificate
	// PrivateKey is the PKCS#8 DER of a CA-generated key, nil otherwise.
	PrivateKey []byte
	Profile    string
	Requestor  NameID
}

func (ci *CertificateInfo) String() string {
	if ci == nil || ci.Certificate == nil {
		return "<nil>"
	}
	return fmt.Sprintf("cert %d serial %x", ci.CertID, ci.Certificate.SerialNumber)
}
