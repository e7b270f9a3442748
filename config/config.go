// Package config loads the YAML configuration of an ironca server.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmcleod/ironca/ca"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverBolt     = "bbolt"
	DriverPostgres = "postgres"
)

// Key store types.
const (
	KeyStoreSoftware = "software"
	KeyStorePKCS11   = "pkcs11"
)

// Config is the root of the configuration file.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Storage    StorageConfig     `yaml:"storage"`
	KeyStore   KeyStoreConfig    `yaml:"keystore"`
	Audit      AuditConfig       `yaml:"audit"`
	Profiles   []ProfileConfig   `yaml:"profiles"`
	Users      []UserConfig      `yaml:"users"`
	Requestors []RequestorConfig `yaml:"requestors"`
	CAs        []CAConfig        `yaml:"cas"`

	// dir is the directory of the loaded file; relative paths resolve
	// against it.
	dir string
}

// ServerConfig configures the HTTPS listener.
type ServerConfig struct {
	Address string `yaml:"address"`
	// PathPrefix is where the REST responder is mounted.
	PathPrefix string `yaml:"path_prefix"`
	TLSCert    string `yaml:"tls_cert"`
	TLSKey     string `yaml:"tls_key"`
	// ClientCAs is a PEM bundle used to verify client certificates.
	ClientCAs string `yaml:"client_cas"`
	// DisableDocs turns off the /docs endpoints.
	DisableDocs bool `yaml:"disable_docs"`
	// ReadTimeout bounds reading a request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// StorageConfig selects the record store.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
	// SealKeyFile holds 32 raw or 64 hex-encoded bytes used to seal CA keys.
	SealKeyFile string `yaml:"seal_key_file"`
}

// KeyStoreConfig selects where CA keys live.
type KeyStoreConfig struct {
	Type   string       `yaml:"type"`
	PKCS11 PKCS11Config `yaml:"pkcs11"`
}

// PKCS11Config identifies a PKCS#11 token. The PIN is read from the
// environment variable named by PinEnv.
type PKCS11Config struct {
	Lib    string `yaml:"lib"`
	Token  string `yaml:"token"`
	Slot   *int   `yaml:"slot"`
	PinEnv string `yaml:"pin_env"`
}

// AuditConfig configures the audit sinks.
type AuditConfig struct {
	// Store persists a hash-chained audit trail in the record store.
	Store bool `yaml:"store"`
	// WebhookURL receives every audit event as JSON when set.
	WebhookURL string `yaml:"webhook_url"`
	// WebhookAuthHeader is sent as "Header: Value".
	WebhookAuthHeader string `yaml:"webhook_auth_header"`
}

// ProfileConfig is a certificate profile.
type ProfileConfig struct {
	Name                  string   `yaml:"name"`
	ValidityDays          int      `yaml:"validity_days"`
	KeyUsage              []string `yaml:"key_usage"`
	ExtKeyUsage           []string `yaml:"ext_key_usage"`
	AllowDuplicateSubject bool     `yaml:"allow_duplicate_subject"`
}

// UserConfig is a password user. PasswordHash is produced by
// "ironca hash-password".
type UserConfig struct {
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password_hash"`
	Disabled     bool   `yaml:"disabled"`
}

// RequestorConfig is a client authenticated by its TLS certificate.
type RequestorConfig struct {
	Name string `yaml:"name"`
	Cert string `yaml:"cert"`
}

// GrantConfig gives a principal permissions on a CA.
type GrantConfig struct {
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
	Profiles    []string `yaml:"profiles"`
}

// CRLSignerConfig names a dedicated CRL signing certificate and key.
type CRLSignerConfig struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// CAConfig describes one CA.
type CAConfig struct {
	Name      string   `yaml:"name"`
	Aliases   []string `yaml:"aliases"`
	Status    string   `yaml:"status"`
	Protocols []string `yaml:"protocols"`

	// Subject and ValidityYears create a self-signed CA on first start.
	Subject       string `yaml:"subject"`
	ValidityYears int    `yaml:"validity_years"`
	MaxPathLen    *int   `yaml:"max_path_len"`

	// Cert and Key import an existing CA on first start.
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`

	Chain       []string         `yaml:"chain"`
	CRLSigner   *CRLSignerConfig `yaml:"crl_signer"`
	CRLValidity time.Duration    `yaml:"crl_validity"`
	SaveRequest bool             `yaml:"save_request"`
	URIs        ca.URIs          `yaml:"uris"`
	// ExtraControl is a ConfPairs string, e.g. "dhpoc.certs=/etc/dh1.pem:/etc/dh2.pem".
	ExtraControl string `yaml:"extra_control"`

	Users      []GrantConfig `yaml:"users"`
	Requestors []GrantConfig `yaml:"requestors"`
}

// Default returns a configuration with defaults applied and no CAs.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8443"
	}
	if c.Server.PathPrefix == "" {
		c.Server.PathPrefix = "/rest"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.KeyStore.Type == "" {
		c.KeyStore.Type = KeyStoreSoftware
	}
	for i := range c.CAs {
		if len(c.CAs[i].Protocols) == 0 {
			c.CAs[i].Protocols = []string{string(ca.ProtocolREST)}
		}
	}
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Resolve returns path relative to the directory of the loaded file.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

// PIN returns the PKCS#11 PIN from the configured environment variable.
func (c PKCS11Config) PIN() (string, error) {
	pin := os.Getenv(c.PinEnv)
	if pin == "" {
		return "", fmt.Errorf("environment variable %s is not set or empty", c.PinEnv)
	}
	return pin, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverBolt:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for bbolt"))
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.Storage.Driver))
	}

	switch c.KeyStore.Type {
	case KeyStoreSoftware:
	case KeyStorePKCS11:
		if c.KeyStore.PKCS11.Lib == "" {
			errs = append(errs, errors.New("keystore.pkcs11.lib is required"))
		}
		if c.KeyStore.PKCS11.Token == "" && c.KeyStore.PKCS11.Slot == nil {
			errs = append(errs, errors.New("keystore.pkcs11.token or keystore.pkcs11.slot is required"))
		}
		if c.KeyStore.PKCS11.PinEnv == "" {
			errs = append(errs, errors.New("keystore.pkcs11.pin_env is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported keystore type %q", c.KeyStore.Type))
	}

	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}
	if !strings.HasPrefix(c.Server.PathPrefix, "/") {
		errs = append(errs, errors.New("server.path_prefix must start with '/'"))
	}

	profiles := make(map[string]bool)
	for _, p := range c.Profiles {
		name := strings.ToLower(p.Name)
		switch {
		case name == "":
			errs = append(errs, errors.New("profile name is required"))
		case name == "all":
			errs = append(errs, errors.New("profile name 'all' is reserved"))
		case profiles[name]:
			errs = append(errs, fmt.Errorf("duplicate profile %q", p.Name))
		}
		profiles[name] = true
		if _, err := ParseKeyUsage(p.KeyUsage); err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", p.Name, err))
		}
		if _, err := ParseExtKeyUsage(p.ExtKeyUsage); err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", p.Name, err))
		}
	}

	users := make(map[string]bool)
	for _, u := range c.Users {
		if u.Name == "" || u.PasswordHash == "" {
			errs = append(errs, errors.New("users need a name and a password_hash"))
		}
		users[strings.ToLower(u.Name)] = true
	}
	requestors := make(map[string]bool)
	for _, r := range c.Requestors {
		if r.Name == "" || r.Cert == "" {
			errs = append(errs, errors.New("requestors need a name and a cert"))
		}
		requestors[strings.ToLower(r.Name)] = true
	}

	names := make(map[string]string)
	for _, cc := range c.CAs {
		errs = append(errs, cc.validate(names, users, requestors)...)
	}

	return errors.Join(errs...)
}

func (cc *CAConfig) validate(names map[string]string, users, requestors map[string]bool) []error {
	var errs []error
	name := strings.ToLower(cc.Name)
	if name == "" {
		return []error{errors.New("CA name is required")}
	}
	if strings.Contains(name, "/") {
		errs = append(errs, fmt.Errorf("CA %s: name must not contain '/'", cc.Name))
	}
	claim := func(n, what string) {
		n = strings.ToLower(n)
		if owner, ok := names[n]; ok {
			errs = append(errs, fmt.Errorf("CA %s: %s %q already used by CA %s", cc.Name, what, n, owner))
			return
		}
		names[n] = cc.Name
	}
	claim(name, "name")
	for _, a := range cc.Aliases {
		claim(a, "alias")
	}

	if _, ok := ca.ParseStatus(cc.Status); !ok {
		errs = append(errs, fmt.Errorf("CA %s: invalid status %q", cc.Name, cc.Status))
	}
	for _, p := range cc.Protocols {
		switch ca.Protocol(strings.ToLower(p)) {
		case ca.ProtocolREST, ca.ProtocolCMP, ca.ProtocolSCEP:
		default:
			errs = append(errs, fmt.Errorf("CA %s: unknown protocol %q", cc.Name, p))
		}
	}

	switch {
	case cc.Cert != "" && cc.Key == "", cc.Cert == "" && cc.Key != "":
		errs = append(errs, fmt.Errorf("CA %s: cert and key must be set together", cc.Name))
	case cc.Cert == "" && cc.Subject == "":
		errs = append(errs, fmt.Errorf("CA %s: either subject or cert/key is required", cc.Name))
	case cc.Subject != "":
		if _, err := ca.ParseName(cc.Subject); err != nil {
			errs = append(errs, fmt.Errorf("CA %s: %w", cc.Name, err))
		}
	}
	if cc.CRLSigner != nil && (cc.CRLSigner.Cert == "" || cc.CRLSigner.Key == "") {
		errs = append(errs, fmt.Errorf("CA %s: crl_signer needs cert and key", cc.Name))
	}
	if _, err := ca.ParseConfPairs(cc.ExtraControl); err != nil {
		errs = append(errs, fmt.Errorf("CA %s: extra_control: %w", cc.Name, err))
	}

	for _, g := range cc.Users {
		if !users[strings.ToLower(g.Name)] {
			errs = append(errs, fmt.Errorf("CA %s: unknown user %q", cc.Name, g.Name))
		}
		if _, err := ca.ParsePermissions(g.Permissions); err != nil {
			errs = append(errs, fmt.Errorf("CA %s: user %s: %w", cc.Name, g.Name, err))
		}
	}
	for _, g := range cc.Requestors {
		if !requestors[strings.ToLower(g.Name)] {
			errs = append(errs, fmt.Errorf("CA %s: unknown requestor %q", cc.Name, g.Name))
		}
		if _, err := ca.ParsePermissions(g.Permissions); err != nil {
			errs = append(errs, fmt.Errorf("CA %s: requestor %s: %w", cc.Name, g.Name, err))
		}
	}
	return errs
}
