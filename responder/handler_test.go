package responder

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironca/audit"
)

type captureSink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (s *captureSink) Emit(_ context.Context, e *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *captureSink) last(t *testing.T) *audit.Event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.events)
	return s.events[len(s.events)-1]
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestServeHTTP(t *testing.T) {
	sink := &captureSink{}
	reg := prometheus.NewRegistry()
	f := newFixture(t, WithAuditSink(sink), WithRegisterer(reg))

	req := httptest.NewRequest(http.MethodPost, "/myca/enroll-cert?profile=tls", bytes.NewReader(newCSR(t, "CN=leaf")))
	req.SetBasicAuth("alice", "secret")
	req.Header.Set("Content-Type", ContentTypePKCS10)
	rec := httptest.NewRecorder()
	f.resp.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ContentTypePKIXCert, rec.Header().Get("Content-Type"))
	assert.Equal(t, PKIStatusAccepted, rec.Header().Get(HeaderPKIStatus))
	_, err := x509.ParseCertificate(rec.Body.Bytes())
	require.NoError(t, err)

	event := sink.last(t)
	assert.True(t, event.Finalized())
	assert.Equal(t, "enroll-cert", field(event, audit.FieldEventType))
	assert.Equal(t, audit.StatusSuccessful, event.Status)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.resp.metrics.requests.WithLabelValues("enroll-cert", "200")))
}

func TestServeHTTP_Rejection(t *testing.T) {
	sink := &captureSink{}
	reg := prometheus.NewRegistry()
	f := newFixture(t, WithAuditSink(sink), WithRegisterer(reg))

	rec := httptest.NewRecorder()
	f.resp.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope/cacert", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, PKIStatusRejection, rec.Header().Get(HeaderPKIStatus))
	assert.Empty(t, rec.Body.Bytes())
	assert.Equal(t, "unknown CA 'nope'", field(sink.last(t), audit.FieldMessage))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.resp.metrics.requests.WithLabelValues("unknown", "404")))
}

func TestServeHTTP_ClientCertificate(t *testing.T) {
	sink := &captureSink{}
	f := newFixture(t, WithAuditSink(sink))

	req := httptest.NewRequest(http.MethodGet, "/default/cacert", nil)
	req.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{f.ca.identity.Certificate()}}
	rec := httptest.NewRecorder()
	f.resp.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ra", field(sink.last(t), audit.FieldRequestor))
}

func TestServeHTTP_BodyTooLarge(t *testing.T) {
	sink := &captureSink{}
	f := newFixture(t, WithAuditSink(sink), WithMaxBodyBytes(16))

	req := httptest.NewRequest(http.MethodPost, "/myca/enroll-cert?profile=tls", strings.NewReader(strings.Repeat("x", 64)))
	req.SetBasicAuth("alice", "secret")
	rec := httptest.NewRecorder()
	f.resp.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	event := sink.last(t)
	assert.Equal(t, "request body exceeds 16 bytes", field(event, audit.FieldMessage))
	assert.Equal(t, audit.StatusFailed, event.Status)
	assert.Empty(t, f.ca.Calls())
}

func TestServeHTTP_ConnectionReset(t *testing.T) {
	sink := &captureSink{}
	f := newFixture(t, WithAuditSink(sink))

	req := httptest.NewRequest(http.MethodPost, "/myca/enroll-cert?profile=tls", io.NopCloser(failingReader{syscall.ECONNRESET}))
	rec := httptest.NewRecorder()
	f.resp.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	event := sink.last(t)
	assert.Equal(t, "internal error", field(event, audit.FieldMessage))
	assert.Equal(t, audit.LevelError, event.Level)
	assert.Contains(t, f.logs.String(), "connection reset by peer")
	assert.NotContains(t, f.logs.String(), "level=ERROR")
}

func TestServeHTTP_Concurrent(t *testing.T) {
	sink := &captureSink{}
	f := newFixture(t, WithAuditSink(sink), WithRegisterer(prometheus.NewRegistry()))

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			req := httptest.NewRequest(http.MethodGet, "/myca/crl", nil)
			req.SetBasicAuth("bob", "hunter2")
			rec := httptest.NewRecorder()
			f.resp.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
	wg.Wait()
	assert.Len(t, sink.events, 16)
	assert.Equal(t, 16.0, testutil.ToFloat64(f.resp.metrics.requests.WithLabelValues("crl", "200")))
}
