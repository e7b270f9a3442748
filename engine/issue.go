package engine

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/jmcleod/ironca/ca"
	"github.com/jmcleod/ironca/internal/util"
	"github.com/jmcleod/ironca/storage"
)

var oidSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}

// GenerateCertificate issues a certificate for tmpl under the named
// profile. For CA-generated key pairs the returned CertificateInfo carries
// the PKCS#8 private key.
func (e *Engine) GenerateCertificate(ctx context.Context, tmpl *ca.CertTemplateData, requestor *ca.Requestor, reqType ca.RequestType, callerData []byte, msgID string) (*ca.CertificateInfo, error) {
	if tmpl == nil {
		return nil, ca.NewOperationError(ca.CodeBadCertTemplate, "no certificate template")
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	profileName := strings.ToLower(tmpl.Profile)
	profile, ok := e.profiles[profileName]
	if !ok {
		return nil, ca.NewOperationError(ca.CodeUnknownCertProfile, "unknown certificate profile %s", tmpl.Profile)
	}

	var subject pkix.RDNSequence
	if _, err := asn1.Unmarshal(tmpl.RawSubject, &subject); err != nil {
		return nil, &ca.OperationError{Code: ca.CodeBadCertTemplate, Message: "invalid subject", Err: err}
	}
	canonical := ca.CanonicalizeName(subject)

	notBefore, notAfter, err := e.validity(tmpl, profile)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !profile.AllowDuplicateSubject {
		var existing string
		_, err := getJSON(e.repo, e.name, recordTypeSubject, subjectKey(canonical), &existing)
		switch {
		case err == nil:
			return nil, ca.NewOperationError(ca.CodeAlreadyIssued, "certificate for subject %s already issued", canonical)
		case !isNotFound(err):
			return nil, dbFailure("checking subject", err)
		}
	}

	st, err := e.loadState()
	if err != nil {
		return nil, dbFailure("loading state", err)
	}

	publicKey := tmpl.PublicKey
	var privateKey []byte
	if tmpl.CAGenerateKeyPair {
		publicKey, privateKey, err = e.generateKeyPair()
		if err != nil {
			return nil, &ca.OperationError{Code: ca.CodeSystemFailure, Message: "could not generate key pair", Err: err}
		}
	}

	serial, err := util.RandomSerial(16)
	if err != nil {
		return nil, &ca.OperationError{Code: ca.CodeSystemFailure, Message: "could not generate serial number", Err: err}
	}

	uris := e.identity.URIs()
	template := &x509.Certificate{
		SerialNumber:          serial,
		RawSubject:            tmpl.RawSubject,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              profile.KeyUsage,
		ExtKeyUsage:           profile.ExtKeyUsage,
		BasicConstraintsValid: true,
		CRLDistributionPoints: uris.CRLURIs,
		OCSPServer:            uris.OCSPURIs,
		IssuingCertificateURL: uris.CACertURIs,
	}
	if template.KeyUsage == 0 {
		template.KeyUsage = x509.KeyUsageDigitalSignature
	}
	for _, ext := range tmpl.Extensions {
		if ext.Id.Equal(oidSubjectAltName) {
			template.ExtraExtensions = append(template.ExtraExtensions, ext)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, e.material.Cert, publicKey, e.material.Signer)
	if err != nil {
		return nil, &ca.OperationError{Code: ca.CodeSystemFailure, Message: "could not sign certificate", Err: err}
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &ca.OperationError{Code: ca.CodeSystemFailure, Message: "could not parse issued certificate", Err: err}
	}

	st.NextCertID++
	rec := certRecord{
		CertID:      st.NextCertID,
		Serial:      serialKey(serial),
		DER:         der,
		Subject:     canonical,
		Profile:     profileName,
		RequestType: reqType,
		MessageID:   msgID,
		IssuedAt:    e.now(),
	}
	if requestor != nil {
		rec.Requestor = requestor.Ident
	}
	err = e.repo.Batch(e.name, func(tx storage.BatchTx) error {
		if err := putJSON(tx, recordTypeCert, rec.Serial, rec); err != nil {
			return err
		}
		if err := putJSON(tx, recordTypeSubject, subjectKey(canonical), rec.Serial); err != nil {
			return err
		}
		return putState(tx, st)
	})
	if err != nil {
		return nil, dbFailure("storing certificate", err)
	}

	e.logger.InfoContext(ctx, "certificate issued",
		"serial", rec.Serial, "subject", canonical, "profile", profileName,
		"requestor", rec.Requestor.Name, "req_type", string(reqType), "mid", msgID)

	return &ca.CertificateInfo{
		CertID:      rec.CertID,
		Certificate: cert,
		PrivateKey:  privateKey,
		Profile:     profileName,
		Requestor:   rec.Requestor,
	}, nil
}

// validity resolves the requested window against the profile and clamps it
// to the CA certificate's own validity.
func (e *Engine) validity(tmpl *ca.CertTemplateData, profile Profile) (time.Time, time.Time, error) {
	now := e.now()
	notBefore := now
	if tmpl.NotBefore != nil {
		notBefore = tmpl.NotBefore.UTC()
	}
	days := profile.ValidityDays
	if days <= 0 {
		days = 365
	}
	maxNotAfter := notBefore.AddDate(0, 0, days)
	notAfter := maxNotAfter
	if tmpl.NotAfter != nil && tmpl.NotAfter.Before(maxNotAfter) {
		notAfter = tmpl.NotAfter.UTC()
	}

	caCert := e.material.Cert
	if notBefore.Before(caCert.NotBefore) {
		notBefore = caCert.NotBefore
	}
	if notAfter.After(caCert.NotAfter) {
		notAfter = caCert.NotAfter
	}
	if !notAfter.After(notBefore) {
		return time.Time{}, time.Time{}, ca.NewOperationError(ca.CodeBadCertTemplate, "validity is outside the CA validity")
	}
	return notBefore, notAfter, nil
}

// generateKeyPair creates an ephemeral end-entity key and returns its
// public half and PKCS#8 DER.
func (e *Engine) generateKeyPair() (crypto.PublicKey, []byte, error) {
	keyID, err := e.eeKeys.GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	defer e.eeKeys.Delete(keyID)

	signer, err := e.eeKeys.Signer(keyID)
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err := e.eeKeys.ExportPEM(keyID)
	if err != nil {
		return nil, nil, err
	}
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, nil, fmt.Errorf("%w: exported end-entity key", ErrInvalidPEM)
	}
	return signer.Public(), block.Bytes, nil
}
