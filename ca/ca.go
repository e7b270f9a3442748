// Package ca holds the domain model shared by the responder and its
// collaborators: CA identity, requestors and permissions, certificate
// templates, the business error taxonomy and the collaborator interfaces.
package ca

import (
	"context"
	"crypto/x509"
	"math/big"
	"strings"
	"time"
)

// Status is the operational state of a CA.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ParseStatus parses a status name; the empty string is active.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(StatusActive):
		return StatusActive, true
	case string(StatusInactive):
		return StatusInactive, true
	}
	return "", false
}

// Protocol is a request surface a CA may expose.
type Protocol string

const (
	ProtocolREST Protocol = "rest"
	ProtocolCMP  Protocol = "cmp"
	ProtocolSCEP Protocol = "scep"
)

// RequestType identifies the protocol an issuance request arrived on.
type RequestType string

const (
	RequestTypeREST RequestType = "REST"
	RequestTypeCMP  RequestType = "CMP"
)

// Manager resolves CA aliases and names to live CAs.
type Manager interface {
	// CANameForAlias returns the CA name an alias maps to.
	CANameForAlias(alias string) (string, bool)
	// CAByName returns the CA with the given name.
	CAByName(name string) (CA, bool)
}

// CA is the handle a responder drives for one certificate authority.
// Business failures are returned as *OperationError.
type CA interface {
	Ident() NameID
	Identity() *Identity
	Status() Status
	SupportsProtocol(p Protocol) bool
	// CertChain returns the certificates above the CA certificate.
	CertChain() []*x509.Certificate
	SaveRequest() bool
	// DHPocCertificates returns nil when no DH-POC control is configured.
	DHPocCertificates() []*x509.Certificate

	// AuthenticateUser returns nil and no error when the credentials do not
	// match a user.
	AuthenticateUser(ctx context.Context, user string, password []byte) (*NameID, error)
	RequestorByUser(ctx context.Context, user NameID) (*Requestor, error)
	RequestorByCert(ctx context.Context, cert *x509.Certificate) (*Requestor, error)

	VerifyCSR(csr *x509.CertificateRequest) bool
	GenerateCertificate(ctx context.Context, tmpl *CertTemplateData, requestor *Requestor, reqType RequestType, callerData []byte, msgID string) (*CertificateInfo, error)
	RevokeCertificate(ctx context.Context, serial *big.Int, reason CRLReason, invalidity *time.Time, msgID string) error
	UnrevokeCertificate(ctx context.Context, serial *big.Int, msgID string) error
	RemoveCertificate(ctx context.Context, serial *big.Int, msgID string) error

	// CRL returns the CRL with the given number, or the latest when number
	// is nil. A nil result with no error means no such CRL exists.
	CRL(ctx context.Context, number *big.Int) ([]byte, error)
	GenerateCRLOnDemand(ctx context.Context, msgID string) ([]byte, error)

	AddRequest(ctx context.Context, raw []byte) (int64, error)
	AddRequestCert(ctx context.Context, requestID, certID int64) error
}
