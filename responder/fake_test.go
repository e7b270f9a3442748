package responder

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironca/audit"
	"github.com/jmcleod/ironca/ca"
)

// fakeCA records every engine call and issues certificates with a real
// ECDSA key so responses can be parsed.
type fakeCA struct {
	mu sync.Mutex

	ident     ca.NameID
	identity  *ca.Identity
	key       crypto.Signer
	status    ca.Status
	protocols map[ca.Protocol]bool
	chain     []*x509.Certificate
	dhpoc     []*x509.Certificate
	save      bool

	passwords      map[string]string
	userRequestors map[string]*ca.Requestor
	certRequestor  *ca.Requestor
	authErr        error

	rejectPOP    bool
	issueErr     error
	issueNil     bool
	omitKey      bool
	lastTemplate *ca.CertTemplateData
	nextCertID   int64

	calls     []string
	engineErr error
	crl       []byte
	crlNumber *big.Int
	crlCalled bool
	newCRLs   int
	requests  [][]byte
	links     map[int64]int64
	panicMsg  string
}

func newFakeCA(t *testing.T, name string) *fakeCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: name, Organization: []string{"Test"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	identity, err := ca.NewIdentityFromCert(cert, ca.URIs{}, ca.ConfPairs{})
	require.NoError(t, err)

	return &fakeCA{
		ident:     ca.NameID{ID: 1, Name: name},
		identity:  identity,
		key:       key,
		status:    ca.StatusActive,
		protocols: map[ca.Protocol]bool{ca.ProtocolREST: true},
		passwords: map[string]string{"alice": "secret", "bob": "hunter2"},
		userRequestors: map[string]*ca.Requestor{
			"alice": {Ident: ca.NameID{ID: 10, Name: "alice"}, Permissions: ca.PermAll, Profiles: ca.NewProfileSet("tls")},
			"bob":   {Ident: ca.NameID{ID: 11, Name: "bob"}, Permissions: ca.PermGetCRL, Profiles: ca.NewProfileSet()},
		},
		certRequestor: &ca.Requestor{Ident: ca.NameID{ID: 20, Name: "ra"}, Permissions: ca.PermAll, Profiles: ca.AllProfiles()},
		crl:           []byte{0x30, 0x03, 0x02, 0x01, 0x01},
		links:         make(map[int64]int64),
	}
}

func (f *fakeCA) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeCA) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCA) Ident() ca.NameID { return f.ident }
func (f *fakeCA) Identity() *ca.Identity { return f.identity }
func (f *fakeCA) Status() ca.Status { return f.status }
func (f *fakeCA) SupportsProtocol(p ca.Protocol) bool { return f.protocols[p] }
func (f *fakeCA) CertChain() []*x509.Certificate { return f.chain }
func (f *fakeCA) SaveRequest() bool { return f.save }
func (f *fakeCA) DHPocCertificates() []*x509.Certificate { return f.dhpoc }
func (f *fakeCA) VerifyCSR(csr *x509.CertificateRequest) bool {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return !f.rejectPOP && csr.CheckSignature() == nil
}

func (f *fakeCA) AuthenticateUser(_ context.Context, user string, password []byte) (*ca.NameID, error) {
	f.record("auth:%s", user)
	if f.authErr != nil {
		return nil, f.authErr
	}
	pw, ok := f.passwords[user]
	if !ok || pw != string(password) {
		return nil, nil
	}
	id := f.userRequestors[user].Ident
	return &id, nil
}

func (f *fakeCA) RequestorByUser(_ context.Context, user ca.NameID) (*ca.Requestor, error) {
	return f.userRequestors[user.Name], nil
}

func (f *fakeCA) RequestorByCert(_ context.Context, _ *x509.Certificate) (*ca.Requestor, error) {
	f.record("cert-requestor")
	return f.certRequestor, nil
}

func (f *fakeCA) GenerateCertificate(_ context.Context, tmpl *ca.CertTemplateData, requestor *ca.Requestor, reqType ca.RequestType, _ []byte, msgID string) (*ca.CertificateInfo, error) {
	f.record("issue:%s:%s:%s", tmpl.Profile, requestor.Ident.Name, reqType)
	f.lastTemplate = tmpl
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	if f.issueNil {
		return nil, nil
	}

	pub := tmpl.PublicKey
	var pkcs8 []byte
	if tmpl.CAGenerateKeyPair {
		k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		pub = &k.PublicKey
		if pkcs8, err = x509.MarshalPKCS8PrivateKey(k); err != nil {
			return nil, err
		}
	}
	f.nextCertID++
	leaf := &x509.Certificate{
		SerialNumber: big.NewInt(1000 + f.nextCertID),
		RawSubject:   tmpl.RawSubject,
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, leaf, f.identity.Certificate(), pub, f.key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	info := &ca.CertificateInfo{CertID: f.nextCertID, Certificate: cert, Profile: tmpl.Profile, Requestor: requestor.Ident}
	if !f.omitKey {
		info.PrivateKey = pkcs8
	}
	return info, nil
}

func (f *fakeCA) RevokeCertificate(_ context.Context, serial *big.Int, reason ca.CRLReason, invalidity *time.Time, _ string) error {
	inv := "-"
	if invalidity != nil {
		inv = invalidity.Format(TimestampLayout)
	}
	f.record("revoke:%s:%s:%s", serial, reason, inv)
	return f.engineErr
}

func (f *fakeCA) UnrevokeCertificate(_ context.Context, serial *big.Int, _ string) error {
	f.record("unrevoke:%s", serial)
	return f.engineErr
}

func (f *fakeCA) RemoveCertificate(_ context.Context, serial *big.Int, _ string) error {
	f.record("remove:%s", serial)
	return f.engineErr
}

func (f *fakeCA) CRL(_ context.Context, number *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crlCalled = true
	f.crlNumber = number
	if f.engineErr != nil {
		return nil, f.engineErr
	}
	return f.crl, nil
}

func (f *fakeCA) GenerateCRLOnDemand(_ context.Context, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newCRLs++
	if f.engineErr != nil {
		return nil, f.engineErr
	}
	return f.crl, nil
}

func (f *fakeCA) AddRequest(_ context.Context, raw []byte) (int64, error) {
	f.requests = append(f.requests, raw)
	return int64(len(f.requests)), nil
}

func (f *fakeCA) AddRequestCert(_ context.Context, requestID, certID int64) error {
	f.links[requestID] = certID
	return nil
}

type fakeManager struct {
	aliases map[string]string
	cas     map[string]ca.CA
}

func (m *fakeManager) CANameForAlias(alias string) (string, bool) {
	n, ok := m.aliases[alias]
	return n, ok
}

func (m *fakeManager) CAByName(name string) (ca.CA, bool) {
	c, ok := m.cas[name]
	return c, ok
}

// --- fixture ---

type fixture struct {
	t    *testing.T
	ca   *fakeCA
	resp *Responder
	logs *bytes.Buffer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	fc := newFakeCA(t, "myca")
	mgr := &fakeManager{
		aliases: map[string]string{"default": "myca"},
		cas:     map[string]ca.CA{"myca": fc},
	}
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	all := append([]Option{WithLogger(logger), WithAuditSink(audit.Discard), WithMessageIDs(func() string { return "00000000000000aa" })}, opts...)
	return &fixture{t: t, ca: fc, resp: New(mgr, all...), logs: logs}
}

type reqOpt func(*Request)

func basicAuth(user, password string) reqOpt {
	return func(r *Request) {
		r.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+password)))
	}
}

func withHeader(name, value string) reqOpt {
	return func(r *Request) { r.Header.Set(name, value) }
}

func withQuery(kv ...string) reqOpt {
	return func(r *Request) {
		for i := 0; i+1 < len(kv); i += 2 {
			r.Query.Add(kv[i], kv[i+1])
		}
	}
}

func withBody(contentType string, body []byte) reqOpt {
	return func(r *Request) {
		if contentType != "" {
			r.Header.Set("Content-Type", contentType)
		}
		r.Body = body
	}
}

func withClientCert(cert *x509.Certificate) reqOpt {
	return func(r *Request) { r.ClientCert = cert }
}

func (f *fixture) do(path string, opts ...reqOpt) (*Response, *audit.Event) {
	f.t.Helper()
	req := &Request{Path: path, Header: make(http.Header), Query: make(url.Values)}
	for _, o := range opts {
		o(req)
	}
	event := audit.NewEvent("", "")
	resp := f.resp.Service(f.t.Context(), req, event)
	require.NotNil(f.t, resp)
	require.True(f.t, event.Finalized())
	return resp, event
}

func field(e *audit.Event, name string) string {
	v, _ := e.Field(name)
	return v
}

func newCSR(t *testing.T, subject string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rdns, err := ca.ParseName(subject)
	require.NoError(t, err)
	var name pkix.Name
	name.FillFromRDNSequence(&rdns)
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  name,
		DNSNames: []string{"www.example.com"},
	}, key)
	require.NoError(t, err)
	return der
}
