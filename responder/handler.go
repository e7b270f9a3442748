package responder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmcleod/ironca/audit"
)

// ServeHTTP adapts Service to net/http. The request path must already be
// relative to the mount point, e.g. through http.StripPrefix.
func (r *Responder) ServeHTTP(w http.ResponseWriter, hr *http.Request) {
	start := time.Now()
	req := r.readRequest(w, hr)

	event := audit.NewEvent(AuditApplication, AuditEventPerf)
	resp := r.Service(hr.Context(), req, event)

	token, _ := event.Field(audit.FieldEventType)
	r.metrics.observe(token, resp.StatusCode, time.Since(start))

	// The audit trail must not depend on the client staying connected.
	if err := r.sink.Emit(context.WithoutCancel(hr.Context()), event); err != nil {
		r.logger.ErrorContext(hr.Context(), "emitting audit event", "error", err)
	}

	if err := resp.Write(w); err != nil {
		if isConnectionReset(err) {
			r.logger.WarnContext(hr.Context(), "connection reset by peer", "error", err)
		} else {
			r.logger.ErrorContext(hr.Context(), "writing response", "error", err)
		}
	}
}

func (r *Responder) readRequest(w http.ResponseWriter, hr *http.Request) *Request {
	req := &Request{
		Path:   hr.URL.Path,
		Header: hr.Header,
		Query:  hr.URL.Query(),
	}
	if hr.TLS != nil && len(hr.TLS.PeerCertificates) > 0 {
		req.ClientCert = hr.TLS.PeerCertificates[0]
	}

	if hr.Body == nil {
		return req
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, hr.Body, r.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			req.bodyErr = newHTTPAuditError(http.StatusRequestEntityTooLarge, audit.LevelInfo,
				"request body exceeds %d bytes", tooLarge.Limit)
		} else {
			req.bodyErr = fmt.Errorf("reading request body: %w", err)
		}
		return req
	}
	req.Body = body
	return req
}
