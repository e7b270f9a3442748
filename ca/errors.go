package ca

import (
	"errors"
	"fmt"
)

// ErrorCode is the closed set of business failure kinds a CA operation may
// report. Every failure that crosses the responder boundary carries exactly
// one of these.
type ErrorCode int

const (
	CodeAlreadyIssued ErrorCode = iota + 1
	CodeBadCertTemplate
	CodeBadRequest
	CodeBadPOP
	CodeCertRevoked
	CodeCertUnrevoked
	CodeCRLFailure
	CodeDatabaseFailure
	CodeNotPermitted
	CodeInvalidExtension
	CodeSystemFailure
	CodeSystemUnavailable
	CodeUnknownCert
	CodeUnknownCertProfile
)

var errorCodeNames = map[ErrorCode]string{
	CodeAlreadyIssued:      "ALREADY_ISSUED",
	CodeBadCertTemplate:    "BAD_CERT_TEMPLATE",
	CodeBadRequest:         "BAD_REQUEST",
	CodeBadPOP:             "BAD_POP",
	CodeCertRevoked:        "CERT_REVOKED",
	CodeCertUnrevoked:      "CERT_UNREVOKED",
	CodeCRLFailure:         "CRL_FAILURE",
	CodeDatabaseFailure:    "DATABASE_FAILURE",
	CodeNotPermitted:       "NOT_PERMITTED",
	CodeInvalidExtension:   "INVALID_EXTENSION",
	CodeSystemFailure:      "SYSTEM_FAILURE",
	CodeSystemUnavailable:  "SYSTEM_UNAVAILABLE",
	CodeUnknownCert:        "UNKNOWN_CERT",
	CodeUnknownCertProfile: "UNKNOWN_CERT_PROFILE",
}

// ErrorCodes returns every defined ErrorCode in declaration order.
func ErrorCodes() []ErrorCode {
	codes := make([]ErrorCode, 0, len(errorCodeNames))
	for c := CodeAlreadyIssued; c <= CodeUnknownCertProfile; c++ {
		codes = append(codes, c)
	}
	return codes
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// OperationError is a business fault: an anticipated outcome of a CA
// operation that maps onto a wire status instead of an internal error.
type OperationError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// NewOperationError returns an OperationError with a formatted message.
func NewOperationError(code ErrorCode, format string, args ...any) *OperationError {
	return &OperationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapOperationError returns an OperationError whose message is taken from err.
func WrapOperationError(code ErrorCode, err error) *OperationError {
	oe := &OperationError{Code: code, Err: err}
	if err != nil {
		oe.Message = err.Error()
	}
	return oe
}

func (e *OperationError) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Message
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// CodeOf reports the ErrorCode carried by err, if any.
func CodeOf(err error) (ErrorCode, bool) {
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe.Code, true
	}
	return 0, false
}

// ErrInsufficientPermission is returned by Requestor.AssertPermitted.
var ErrInsufficientPermission = errors.New("insufficient permission")
