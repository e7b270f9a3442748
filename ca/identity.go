package ca

import (
	"bytes"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"math/big"
	"sync/atomic"
)

// Identity is the immutable description of a CA's own certificate material.
// The CRL signer is the only field that may change after construction.
type Identity struct {
	cert *x509.Certificate

	subject          pkix.RDNSequence
	subjectDER       []byte
	canonicalSubject string
	issuer           pkix.RDNSequence
	serial           *big.Int
	ski              []byte
	san              GeneralNames
	uris             URIs
	extra            ConfPairs

	crlSigner atomic.Pointer[x509.Certificate]
}

// NewIdentityFromCert derives an Identity from the CA certificate. A present
// but undecodable subjectAltName extension fails with CodeInvalidExtension.
func NewIdentityFromCert(cert *x509.Certificate, uris URIs, extra ConfPairs) (*Identity, error) {
	if cert == nil {
		return nil, errors.New("ca: nil certificate")
	}

	var subject, issuer pkix.RDNSequence
	if _, err := asn1.Unmarshal(cert.RawSubject, &subject); err != nil {
		return nil, WrapOperationError(CodeSystemFailure, err)
	}
	if _, err := asn1.Unmarshal(cert.RawIssuer, &issuer); err != nil {
		return nil, WrapOperationError(CodeSystemFailure, err)
	}

	var san GeneralNames
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(oidSubjectAltName) {
			continue
		}
		parsed, err := ParseGeneralNames(ext.Value)
		if err != nil {
			return nil, &OperationError{
				Code:    CodeInvalidExtension,
				Message: "invalid SubjectAltName extension in CA certificate",
				Err:     err,
			}
		}
		san = parsed
		break
	}

	id := &Identity{
		cert:             cert,
		subject:          subject,
		subjectDER:       append([]byte(nil), cert.RawSubject...),
		canonicalSubject: CanonicalizeName(subject),
		issuer:           issuer,
		serial:           new(big.Int).Set(cert.SerialNumber),
		ski:              append([]byte(nil), cert.SubjectKeyId...),
		san:              san,
		uris:             uris.Clone(),
		extra:            extra.Clone(),
	}
	if len(id.ski) == 0 {
		id.ski = nil
	}
	return id, nil
}

// NewIdentity builds an Identity for a CA whose certificate is not
// available. A subject that cannot be round-tripped through DER fails with
// CodeSystemFailure.
func NewIdentity(subject, issuer pkix.RDNSequence, serial *big.Int, san GeneralNames, ski []byte, uris URIs, extra ConfPairs) (*Identity, error) {
	if len(subject) == 0 {
		return nil, errors.New("ca: subject is required")
	}
	if len(issuer) == 0 {
		return nil, errors.New("ca: issuer is required")
	}
	if serial == nil {
		return nil, errors.New("ca: serial is required")
	}

	der, err := asn1.Marshal(subject)
	if err != nil {
		return nil, &OperationError{Code: CodeSystemFailure, Message: "could not encode subject", Err: err}
	}
	var roundTrip pkix.RDNSequence
	if rest, err := asn1.Unmarshal(der, &roundTrip); err != nil || len(rest) != 0 {
		if err == nil {
			err = errors.New("trailing data")
		}
		return nil, &OperationError{Code: CodeSystemFailure, Message: "could not decode subject", Err: err}
	}
	if _, err := asn1.Marshal(issuer); err != nil {
		return nil, &OperationError{Code: CodeSystemFailure, Message: "could not encode issuer", Err: err}
	}

	var skiCopy []byte
	if len(ski) > 0 {
		skiCopy = append([]byte(nil), ski...)
	}

	return &Identity{
		subject:          roundTrip,
		subjectDER:       der,
		canonicalSubject: CanonicalizeName(roundTrip),
		issuer:           issuer,
		serial:           new(big.Int).Set(serial),
		ski:              skiCopy,
		san:              san.Clone(),
		uris:             uris.Clone(),
		extra:            extra.Clone(),
	}, nil
}

// Certificate returns the CA certificate, or nil when the identity was built
// from explicit values.
func (id *Identity) Certificate() *x509.Certificate { return id.cert }

// Subject returns the subject in encoded order.
func (id *Identity) Subject() pkix.RDNSequence { return id.subject }

// SubjectDER returns a copy of the DER encoded subject.
func (id *Identity) SubjectDER() []byte { return append([]byte(nil), id.subjectDER...) }

// SubjectText returns the subject as a distinguished-name string.
func (id *Identity) SubjectText() string { return FormatName(id.subject) }

// CanonicalSubject returns the comparison form of the subject.
func (id *Identity) CanonicalSubject() string { return id.canonicalSubject }

// Issuer returns the issuer in encoded order.
func (id *Identity) Issuer() pkix.RDNSequence { return id.issuer }

// SerialNumber returns a copy of the CA serial number.
func (id *Identity) SerialNumber() *big.Int { return new(big.Int).Set(id.serial) }

// SubjectKeyID returns a copy of the subject key identifier, or nil.
func (id *Identity) SubjectKeyID() []byte {
	if id.ski == nil {
		return nil
	}
	return append([]byte(nil), id.ski...)
}

// SubjectAltNames returns a copy of the subject alternative names, or nil.
func (id *Identity) SubjectAltNames() GeneralNames { return id.san.Clone() }

// URIs returns the configured service URIs.
func (id *Identity) URIs() URIs { return id.uris.Clone() }

// ExtraControl returns the extra control pairs.
func (id *Identity) ExtraControl() ConfPairs { return id.extra.Clone() }

// HexSHA1 returns the lowercase hex SHA-1 fingerprint of the CA certificate,
// or "" when no certificate is held.
func (id *Identity) HexSHA1() string {
	if id.cert == nil {
		return ""
	}
	sum := sha1.Sum(id.cert.Raw)
	return hex.EncodeToString(sum[:])
}

// CRLSignerCert returns the dedicated CRL signer certificate, or nil when
// CRLs are signed by the CA itself.
func (id *Identity) CRLSignerCert() *x509.Certificate {
	return id.crlSigner.Load()
}

// SetCRLSignerCert sets the CRL signer. A certificate equal to the CA
// certificate is stored as nil.
func (id *Identity) SetCRLSignerCert(c *x509.Certificate) {
	if c != nil && id.cert != nil && bytes.Equal(c.Raw, id.cert.Raw) {
		c = nil
	}
	id.crlSigner.Store(c)
}
