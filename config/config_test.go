package config

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  address: ":9443"
  read_timeout: 10s
storage:
  driver: bbolt
  path: data/ironca.db
audit:
  store: true
profiles:
  - name: tls
    validity_days: 90
    key_usage: [digitalSignature, key_encipherment]
    ext_key_usage: [serverAuth]
users:
  - name: alice
    password_hash: "$argon2id$v=19$m=19456,t=2,p=1$c2FsdA$a2V5"
requestors:
  - name: ra1
    cert: ra1.pem
cas:
  - name: MyCA
    aliases: [default]
    subject: "CN=My CA,O=Example,C=DE"
    crl_validity: 24h
    save_request: true
    uris:
      crl_uris: ["http://crl.example/myca.crl"]
    extra_control: "dhpoc.certs=dh1.pem"
    users:
      - name: alice
        permissions: [enroll_cert, get_crl]
        profiles: [tls]
    requestors:
      - name: ra1
        permissions: [all]
        profiles: [all]
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9443", cfg.Server.Address)
	assert.Equal(t, "/rest", cfg.Server.PathPrefix, "default applied")
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, DriverBolt, cfg.Storage.Driver)
	assert.Equal(t, KeyStoreSoftware, cfg.KeyStore.Type)
	assert.True(t, cfg.Audit.Store)

	require.Len(t, cfg.CAs, 1)
	c := cfg.CAs[0]
	assert.Equal(t, []string{"rest"}, c.Protocols)
	assert.Equal(t, 24*time.Hour, c.CRLValidity)
	assert.Equal(t, []string{"http://crl.example/myca.crl"}, c.URIs.CRLURIs)
	assert.Equal(t, []string{"enroll_cert", "get_crl"}, c.Users[0].Permissions)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("server:\n  adress: x\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad driver", "storage: {driver: redis}", "unsupported storage driver"},
		{"bbolt without path", "storage: {driver: bbolt}", "storage.path is required"},
		{"postgres without dsn", "storage: {driver: postgres}", "storage.dsn is required"},
		{"pkcs11 without lib", "keystore: {type: pkcs11}", "keystore.pkcs11.lib is required"},
		{"half tls", "server: {tls_cert: a.pem}", "must be set together"},
		{"ca without material", "cas: [{name: a}]", "either subject or cert/key"},
		{"ca bad subject", "cas: [{name: a, subject: 'nonsense'}]", "invalid distinguished name"},
		{"duplicate alias", "cas: [{name: a, subject: CN=a}, {name: b, subject: CN=b, aliases: [A]}]", "already used by CA a"},
		{"bad status", "cas: [{name: a, subject: CN=a, status: paused}]", "invalid status"},
		{"bad protocol", "cas: [{name: a, subject: CN=a, protocols: [est]}]", "unknown protocol"},
		{"unknown user grant", "cas: [{name: a, subject: CN=a, users: [{name: ghost}]}]", "unknown user"},
		{"bad permission", "users: [{name: u, password_hash: h}]\ncas: [{name: a, subject: CN=a, users: [{name: u, permissions: [fly]}]}]", "unknown permission"},
		{"bad key usage", "profiles: [{name: p, key_usage: [flying]}]", "unknown key usage"},
		{"reserved profile", "profiles: [{name: ALL}]", "reserved"},
		{"bad extra control", "cas: [{name: a, subject: CN=a, extra_control: 'novalue'}]", "missing '='"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ironca.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ra1.pem"), cfg.Resolve(cfg.Requestors[0].Cert))
	assert.Equal(t, "/abs/x.pem", cfg.Resolve("/abs/x.pem"))

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestPKCS11PIN(t *testing.T) {
	t.Setenv("IRONCA_TEST_PIN", "1234")
	pin, err := PKCS11Config{PinEnv: "IRONCA_TEST_PIN"}.PIN()
	require.NoError(t, err)
	assert.Equal(t, "1234", pin)

	_, err = PKCS11Config{PinEnv: "IRONCA_TEST_PIN_UNSET"}.PIN()
	assert.Error(t, err)
}

func TestParseUsages(t *testing.T) {
	ku, err := ParseKeyUsage([]string{"digitalSignature", "KEY_ENCIPHERMENT", "crl-sign"})
	require.NoError(t, err)
	assert.Equal(t, x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment|x509.KeyUsageCRLSign, ku)

	eku, err := ParseExtKeyUsage([]string{"serverAuth", "client_auth"})
	require.NoError(t, err)
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}, eku)

	_, err = ParseExtKeyUsage([]string{"nope"})
	assert.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
