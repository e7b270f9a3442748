// Package responder implements the REST surface of the CA server. A request
// addressed as /<ca-alias>/<command> is resolved to a CA, authenticated,
// authorized and dispatched; every outcome is translated into a response
// carrying the PKI status headers and into exactly one audit event.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmcleod/ironca/audit"
	"github.com/jmcleod/ironca/ca"
	"github.com/jmcleod/ironca/internal/util"
)

// Audit event identity.
const (
	AuditApplication = "CA"
	AuditEventPerf   = "perf"
)

const defaultMaxBodyBytes = 1 << 20

// Responder serves REST requests for the CAs of a Manager. It holds no
// mutable state of its own and is safe for concurrent use.
type Responder struct {
	manager      ca.Manager
	logger       *slog.Logger
	sink         audit.Sink
	metrics      *metrics
	maxBodyBytes int64
	newMsgID     func() string
}

// Option configures a Responder.
type Option func(*Responder)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Responder) { r.logger = l }
}

// WithAuditSink sets where finalized audit events go. Defaults to a
// SlogSink on the responder's logger.
func WithAuditSink(s audit.Sink) Option {
	return func(r *Responder) { r.sink = s }
}

// WithRegisterer registers request metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Responder) { r.metrics = newMetrics(reg) }
}

// WithMaxBodyBytes caps request bodies read by ServeHTTP.
func WithMaxBodyBytes(n int64) Option {
	return func(r *Responder) { r.maxBodyBytes = n }
}

// WithMessageIDs overrides the message id generator.
func WithMessageIDs(f func() string) Option {
	return func(r *Responder) { r.newMsgID = f }
}

// New returns a Responder over the CAs of m.
func New(m ca.Manager, opts ...Option) *Responder {
	r := &Responder{
		manager:      m,
		logger:       slog.Default(),
		maxBodyBytes: defaultMaxBodyBytes,
		newMsgID:     util.RandomHexLong,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sink == nil {
		r.sink = audit.NewSlogSink(r.logger)
	}
	r.logger = r.logger.With("component", "responder")
	return r
}

// Service runs one request through the pipeline and returns its response.
// The event is finalized before Service returns, whatever the outcome.
func (r *Responder) Service(ctx context.Context, req *Request, event *audit.Event) (resp *Response) {
	start := time.Now()
	event.ApplicationName = AuditApplication
	event.Name = AuditEventPerf
	event.AddField(audit.FieldRequestType, string(ca.RequestTypeREST))
	msgID := r.newMsgID()
	event.AddField(audit.FieldMessageID, msgID)

	out := outcome{level: audit.LevelInfo, status: audit.StatusSuccessful}
	defer func() {
		if p := recover(); p != nil {
			resp = r.fail(ctx, fmt.Errorf("panic: %v", p), &out)
		}
		r.finalize(ctx, event, &out, time.Since(start))
	}()

	resp, err := r.service(ctx, req, event, msgID)
	if err != nil {
		resp = r.fail(ctx, err, &out)
	}
	return resp
}

func (r *Responder) service(ctx context.Context, req *Request, event *audit.Event, msgID string) (*Response, error) {
	if r.manager == nil {
		r.logger.ErrorContext(ctx, "no CA manager configured")
		return nil, newHTTPAuditError(http.StatusInternalServerError, audit.LevelError, "CA manager not configured")
	}
	if req.bodyErr != nil {
		return nil, req.bodyErr
	}

	c, cmd, err := r.resolve(ctx, req.Path, event)
	if err != nil {
		return nil, err
	}

	requestor, err := r.authenticate(ctx, c, req)
	if err != nil {
		return nil, err
	}
	event.AddField(audit.FieldRequestor, requestor.Ident.Name)

	profile, err := authorize(cmd, requestor, req.Query)
	if err != nil {
		return nil, err
	}

	return r.dispatch(ctx, &call{
		ca:        c,
		cmd:       cmd,
		requestor: requestor,
		req:       req,
		profile:   profile,
		msgID:     msgID,
	})
}

// fail maps err onto a response and records the audit outcome. Business
// faults go through the error code table, transport rejections carry their
// own status, and everything else becomes an opaque internal error.
func (r *Responder) fail(ctx context.Context, err error, out *outcome) *Response {
	var oe *ca.OperationError
	if errors.As(err, &oe) {
		status, failInfo := StatusForCode(oe.Code)
		r.logger.WarnContext(ctx, "operation failed",
			"code", oe.Code.String(),
			"message", oe.Message,
			"error", err,
		)
		out.status = audit.StatusFailed
		out.message = auditMessageForCode(oe)
		return rejected(status, failInfo)
	}

	var he *httpAuditError
	if errors.As(err, &he) {
		r.logger.DebugContext(ctx, "request rejected", "status", he.status, "message", he.message)
		out.level = he.level
		out.status = he.audit
		out.message = he.message
		return rejected(he.status, "")
	}

	if isConnectionReset(err) {
		r.logger.WarnContext(ctx, "connection reset by peer", "error", err)
	} else {
		r.logger.ErrorContext(ctx, "unexpected error", "error", err)
	}
	out.level = audit.LevelError
	out.status = audit.StatusFailed
	out.message = "internal error"
	return rejected(http.StatusInternalServerError, "")
}
