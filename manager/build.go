package manager

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironca/ca"
	"github.com/jmcleod/ironca/config"
	"github.com/jmcleod/ironca/directory"
	"github.com/jmcleod/ironca/engine"
	"github.com/jmcleod/ironca/storage"
)

// Deps are the long-lived resources the CAs are built on.
type Deps struct {
	Repo     storage.Repository
	KeyStore engine.KeyStore
	// SealKey seals stored CA keys; nil stores them in the clear.
	SealKey *memguard.Enclave
	Logger  *slog.Logger
}

// Build creates every configured CA, initializing or importing CA material
// on first start, and registers them in a new Manager.
func Build(ctx context.Context, cfg *config.Config, deps Deps) (*Manager, error) {
	if deps.Repo == nil || deps.KeyStore == nil {
		return nil, errors.New("repository and key store are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	logger := deps.Logger.With("component", "manager")

	dir, err := buildDirectory(cfg)
	if err != nil {
		return nil, err
	}
	profiles, err := buildProfiles(cfg.Profiles)
	if err != nil {
		return nil, err
	}

	m := New()
	for i, cc := range cfg.CAs {
		ident := ca.NameID{ID: int64(i + 1), Name: strings.ToLower(cc.Name)}
		e, err := buildCA(ctx, cfg, cc, ident, profiles, dir, deps, logger)
		if err != nil {
			return nil, fmt.Errorf("CA %s: %w", cc.Name, err)
		}
		if err := m.Register(e, cc.Aliases...); err != nil {
			return nil, err
		}
		logger.Info("CA ready",
			"ca", ident.Name,
			"subject", e.Identity().SubjectText(),
			"status", e.Status(),
		)
	}
	return m, nil
}

func buildDirectory(cfg *config.Config) (*directory.Directory, error) {
	dir := directory.New()
	for _, u := range cfg.Users {
		if _, err := dir.AddUser(u.Name, u.PasswordHash, u.Disabled); err != nil {
			return nil, fmt.Errorf("user %s: %w", u.Name, err)
		}
	}
	for _, r := range cfg.Requestors {
		cert, err := readCertificate(cfg.Resolve(r.Cert))
		if err != nil {
			return nil, fmt.Errorf("requestor %s: %w", r.Name, err)
		}
		if _, err := dir.AddRequestor(r.Name, cert); err != nil {
			return nil, fmt.Errorf("requestor %s: %w", r.Name, err)
		}
	}
	for _, cc := range cfg.CAs {
		for _, g := range cc.Users {
			grant, err := toGrant(g)
			if err != nil {
				return nil, err
			}
			if err := dir.GrantUser(cc.Name, g.Name, grant); err != nil {
				return nil, fmt.Errorf("CA %s: %w", cc.Name, err)
			}
		}
		for _, g := range cc.Requestors {
			grant, err := toGrant(g)
			if err != nil {
				return nil, err
			}
			if err := dir.GrantRequestor(cc.Name, g.Name, grant); err != nil {
				return nil, fmt.Errorf("CA %s: %w", cc.Name, err)
			}
		}
	}
	return dir, nil
}

func toGrant(g config.GrantConfig) (directory.Grant, error) {
	perms, err := ca.ParsePermissions(g.Permissions)
	if err != nil {
		return directory.Grant{}, fmt.Errorf("grant %s: %w", g.Name, err)
	}
	return directory.Grant{Permissions: perms, Profiles: ca.NewProfileSet(g.Profiles...)}, nil
}

func buildProfiles(pcs []config.ProfileConfig) ([]engine.Profile, error) {
	out := make([]engine.Profile, 0, len(pcs))
	for _, pc := range pcs {
		ku, err := config.ParseKeyUsage(pc.KeyUsage)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", pc.Name, err)
		}
		eku, err := config.ParseExtKeyUsage(pc.ExtKeyUsage)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", pc.Name, err)
		}
		out = append(out, engine.Profile{
			Name:                  pc.Name,
			ValidityDays:          pc.ValidityDays,
			KeyUsage:              ku,
			ExtKeyUsage:           eku,
			AllowDuplicateSubject: pc.AllowDuplicateSubject,
		})
	}
	return out, nil
}

func buildCA(ctx context.Context, cfg *config.Config, cc config.CAConfig, ident ca.NameID, profiles []engine.Profile, dir *directory.Directory, deps Deps, logger *slog.Logger) (*engine.Engine, error) {
	material, err := loadOrCreateMaterial(ctx, cfg, cc, ident.Name, deps, logger)
	if err != nil {
		return nil, err
	}

	status, ok := ca.ParseStatus(cc.Status)
	if !ok {
		return nil, fmt.Errorf("invalid status %q", cc.Status)
	}
	protocols := make([]ca.Protocol, 0, len(cc.Protocols))
	for _, p := range cc.Protocols {
		protocols = append(protocols, ca.Protocol(strings.ToLower(p)))
	}
	extra, err := ca.ParseConfPairs(cc.ExtraControl)
	if err != nil {
		return nil, fmt.Errorf("extra_control: %w", err)
	}

	var chain []*x509.Certificate
	for _, path := range cc.Chain {
		certs, err := readCertificates(cfg.Resolve(path))
		if err != nil {
			return nil, fmt.Errorf("chain: %w", err)
		}
		chain = append(chain, certs...)
	}

	var dhpoc []*x509.Certificate
	if v, ok := extra.Value(ca.ConfDHPocCerts); ok {
		for _, path := range strings.Split(v, ":") {
			if path = strings.TrimSpace(path); path == "" {
				continue
			}
			certs, err := readCertificates(cfg.Resolve(path))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", ca.ConfDHPocCerts, err)
			}
			dhpoc = append(dhpoc, certs...)
		}
	}

	var crlSigner *engine.CRLSigner
	if cc.CRLSigner != nil {
		crlSigner, err = loadCRLSigner(cfg, cc.CRLSigner)
		if err != nil {
			return nil, err
		}
	}

	return engine.New(engine.Config{
		Ident:        ident,
		Status:       status,
		Protocols:    protocols,
		Chain:        chain,
		URIs:         cc.URIs,
		ExtraControl: extra,
		SaveRequest:  cc.SaveRequest,
		Profiles:     profiles,
		DHPocCerts:   dhpoc,
		CRLSigner:    crlSigner,
		CRLValidity:  cc.CRLValidity,
	}, material, deps.Repo, dir, engine.WithLogger(deps.Logger))
}

func loadOrCreateMaterial(ctx context.Context, cfg *config.Config, cc config.CAConfig, name string, deps Deps, logger *slog.Logger) (*engine.Material, error) {
	material, err := engine.LoadCA(ctx, deps.Repo, deps.KeyStore, deps.SealKey, name)
	if err == nil {
		return material, nil
	}
	if !errors.Is(err, engine.ErrNotInitialized) {
		return nil, err
	}

	if cc.Cert != "" {
		cert, err := readCertificate(cfg.Resolve(cc.Cert))
		if err != nil {
			return nil, err
		}
		keyPEM, err := os.ReadFile(cfg.Resolve(cc.Key))
		if err != nil {
			return nil, fmt.Errorf("reading CA key: %w", err)
		}
		logger.Info("importing CA", "ca", name)
		return engine.ImportCA(ctx, deps.Repo, deps.KeyStore, deps.SealKey, name, cert, string(keyPEM))
	}

	subject, err := ca.ParseName(cc.Subject)
	if err != nil {
		return nil, err
	}
	maxPathLen := -1
	if cc.MaxPathLen != nil {
		maxPathLen = *cc.MaxPathLen
	}
	logger.Info("initializing self-signed CA", "ca", name, "subject", cc.Subject)
	return engine.InitCA(ctx, deps.Repo, deps.KeyStore, deps.SealKey, name, engine.InitRequest{
		Subject:       subject,
		ValidityYears: cc.ValidityYears,
		MaxPathLen:    maxPathLen,
	})
}

func loadCRLSigner(cfg *config.Config, sc *config.CRLSignerConfig) (*engine.CRLSigner, error) {
	cert, err := readCertificate(cfg.Resolve(sc.Cert))
	if err != nil {
		return nil, fmt.Errorf("crl_signer: %w", err)
	}
	if cert.KeyUsage != 0 && cert.KeyUsage&x509.KeyUsageCRLSign == 0 {
		return nil, errors.New("crl_signer: certificate lacks the cRLSign key usage")
	}
	keyPEM, err := os.ReadFile(cfg.Resolve(sc.Key))
	if err != nil {
		return nil, fmt.Errorf("crl_signer: reading key: %w", err)
	}
	m, err := engine.LoadSigner(engine.NewSoftwareKeyStore(), cert, string(keyPEM))
	if err != nil {
		return nil, fmt.Errorf("crl_signer: %w", err)
	}
	return &engine.CRLSigner{Cert: m.Cert, Signer: m.Signer}, nil
}

// --- PEM helpers ---

func readCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseCertificates(data)
}

func readCertificate(path string) (*x509.Certificate, error) {
	certs, err := readCertificates(path)
	if err != nil {
		return nil, err
	}
	if len(certs) != 1 {
		return nil, fmt.Errorf("%s: expected one certificate, found %d", path, len(certs))
	}
	return certs[0], nil
}

// ParseCertificates decodes every CERTIFICATE block of a PEM bundle. Data
// without PEM blocks is tried as a single DER certificate.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) > 0 {
		return certs, nil
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, errors.New("no certificate found")
	}
	return []*x509.Certificate{cert}, nil
}
