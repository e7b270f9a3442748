// Package engine is an in-process certificate authority implementing
// ca.CA. It issues certificates under a small fixed policy, tracks
// revocation and builds CRLs. All state lives in a storage.Repository
// namespace named after the CA.
package engine

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmcleod/ironca/ca"
	"github.com/jmcleod/ironca/storage"
)

// Directory resolves principals for a CA.
type Directory interface {
	AuthenticateUser(ctx context.Context, caName, user string, password []byte) (*ca.NameID, error)
	RequestorByUser(ctx context.Context, caName string, user ca.NameID) (*ca.Requestor, error)
	RequestorByCert(ctx context.Context, caName string, cert *x509.Certificate) (*ca.Requestor, error)
}

// Profile is the issuance policy selected by an enrollment request.
type Profile struct {
	Name                  string
	ValidityDays          int
	KeyUsage              x509.KeyUsage
	ExtKeyUsage           []x509.ExtKeyUsage
	AllowDuplicateSubject bool
}

// CRLSigner signs CRLs in place of the CA key.
type CRLSigner struct {
	Cert   *x509.Certificate
	Signer crypto.Signer
}

// Config is the static configuration of one CA.
type Config struct {
	Ident        ca.NameID
	Status       ca.Status
	Protocols    []ca.Protocol
	Chain        []*x509.Certificate
	URIs         ca.URIs
	ExtraControl ca.ConfPairs
	SaveRequest  bool
	Profiles     []Profile
	DHPocCerts   []*x509.Certificate
	CRLSigner    *CRLSigner
	// CRLValidity is the distance between thisUpdate and nextUpdate.
	CRLValidity time.Duration
}

const defaultCRLValidity = 7 * 24 * time.Hour

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEndEntityKeyStore sets the store used for CA-generated end-entity
// keys. It must allow export.
func WithEndEntityKeyStore(ks KeyStore) Option {
	return func(e *Engine) { e.eeKeys = ks }
}

// Engine is a single CA.
type Engine struct {
	cfg       Config
	name      string
	identity  *ca.Identity
	material  *Material
	crlSigner *CRLSigner
	profiles  map[string]Profile
	protocols map[ca.Protocol]struct{}
	status    atomic.Value // ca.Status

	repo   storage.Repository
	dir    Directory
	eeKeys KeyStore
	logger *slog.Logger
	now    func() time.Time

	// mu serializes mutations of this CA.
	mu sync.Mutex
}

var _ ca.CA = (*Engine)(nil)

// New builds an Engine over previously initialized CA material.
func New(cfg Config, material *Material, repo storage.Repository, dir Directory, opts ...Option) (*Engine, error) {
	if material == nil || material.Cert == nil || material.Signer == nil {
		return nil, errors.New("engine: CA material is required")
	}
	if repo == nil {
		return nil, errors.New("engine: repository is required")
	}
	if dir == nil {
		return nil, errors.New("engine: directory is required")
	}

	identity, err := ca.NewIdentityFromCert(material.Cert, cfg.URIs, cfg.ExtraControl)
	if err != nil {
		return nil, err
	}
	if cfg.CRLSigner != nil {
		identity.SetCRLSignerCert(cfg.CRLSigner.Cert)
	}
	if cfg.CRLValidity <= 0 {
		cfg.CRLValidity = defaultCRLValidity
	}

	e := &Engine{
		cfg:       cfg,
		name:      strings.ToLower(cfg.Ident.Name),
		identity:  identity,
		material:  material,
		crlSigner: cfg.CRLSigner,
		profiles:  make(map[string]Profile, len(cfg.Profiles)),
		protocols: make(map[ca.Protocol]struct{}, len(cfg.Protocols)),
		repo:      repo,
		dir:       dir,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, p := range cfg.Profiles {
		e.profiles[strings.ToLower(p.Name)] = p
	}
	for _, p := range cfg.Protocols {
		e.protocols[p] = struct{}{}
	}
	status := cfg.Status
	if status == "" {
		status = ca.StatusActive
	}
	e.status.Store(status)

	for _, opt := range opts {
		opt(e)
	}
	if e.eeKeys == nil {
		e.eeKeys = NewSoftwareKeyStore()
	}
	e.logger = e.logger.With("component", "engine", "ca", e.name)
	return e, nil
}

func (e *Engine) Ident() ca.NameID { return e.cfg.Ident }
func (e *Engine) Identity() *ca.Identity { return e.identity }
func (e *Engine) Status() ca.Status { return e.status.Load().(ca.Status) }
func (e *Engine) SaveRequest() bool { return e.cfg.SaveRequest }
func (e *Engine) SetStatus(s ca.Status) { e.status.Store(s) }

// SupportsProtocol reports whether p is enabled for this CA.
func (e *Engine) SupportsProtocol(p ca.Protocol) bool {
	_, ok := e.protocols[p]
	return ok
}

// CertChain returns the certificates above the CA certificate.
func (e *Engine) CertChain() []*x509.Certificate {
	return append([]*x509.Certificate(nil), e.cfg.Chain...)
}

// DHPocCertificates returns the DH-POC certificates, or nil when the CA
// has no DH-POC control.
func (e *Engine) DHPocCertificates() []*x509.Certificate {
	if len(e.cfg.DHPocCerts) == 0 {
		return nil
	}
	return append([]*x509.Certificate(nil), e.cfg.DHPocCerts...)
}

func (e *Engine) AuthenticateUser(ctx context.Context, user string, password []byte) (*ca.NameID, error) {
	return e.dir.AuthenticateUser(ctx, e.name, user, password)
}

func (e *Engine) RequestorByUser(ctx context.Context, user ca.NameID) (*ca.Requestor, error) {
	return e.dir.RequestorByUser(ctx, e.name, user)
}

func (e *Engine) RequestorByCert(ctx context.Context, cert *x509.Certificate) (*ca.Requestor, error) {
	return e.dir.RequestorByCert(ctx, e.name, cert)
}

// VerifyCSR checks the proof of possession carried by the CSR signature.
func (e *Engine) VerifyCSR(csr *x509.CertificateRequest) bool {
	return csr != nil && csr.CheckSignature() == nil
}

func (e *Engine) loadState() (*caState, error) {
	var st caState
	version, err := getJSON(e.repo, e.name, recordTypeCA, caStateID, &st)
	if err != nil {
		return nil, fmt.Errorf("loading CA state: %w", err)
	}
	st.version = version
	return &st, nil
}
