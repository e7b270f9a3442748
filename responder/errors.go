package responder

import (
	"fmt"
	"net/http"

	"github.com/jmcleod/ironca/audit"
)

// httpAuditError is a transport-level rejection that carries its own HTTP
// status and audit outcome and bypasses the error code table.
type httpAuditError struct {
	status  int
	message string
	level   audit.Level
	audit   audit.Status
}

func (e *httpAuditError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.status, http.StatusText(e.status), e.message)
}

func newHTTPAuditError(status int, level audit.Level, format string, args ...any) *httpAuditError {
	return &httpAuditError{
		status:  status,
		message: fmt.Sprintf(format, args...),
		level:   level,
		audit:   audit.StatusFailed,
	}
}

func notFound(format string, args ...any) *httpAuditError {
	return newHTTPAuditError(http.StatusNotFound, audit.LevelInfo, format, args...)
}

func badRequest(format string, args ...any) *httpAuditError {
	return newHTTPAuditError(http.StatusBadRequest, audit.LevelInfo, format, args...)
}

func unauthorized(message string) *httpAuditError {
	return newHTTPAuditError(http.StatusUnauthorized, audit.LevelInfo, "%s", message)
}

func unsupportedMediaType(ct string) *httpAuditError {
	return newHTTPAuditError(http.StatusUnsupportedMediaType, audit.LevelInfo, "unsupported media type %s", ct)
}

func internalFailure(message string) *httpAuditError {
	return newHTTPAuditError(http.StatusInternalServerError, audit.LevelInfo, "%s", message)
}

func missingParam(name string) *httpAuditError {
	return badRequest("required parameter %s not specified", name)
}
