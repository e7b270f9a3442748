package responder

import (
	"crypto/x509"
	"net/http"
	"net/url"
)

// Header names and values of the PKI status protocol.
const (
	HeaderPKIStatus = "X-PKI-Status"
	HeaderFailInfo  = "X-PKI-Fail-Info"

	PKIStatusAccepted  = "accepted"
	PKIStatusRejection = "rejection"
)

// Content types.
const (
	ContentTypePKIXCert = "application/pkix-cert"
	ContentTypePKIXCRL  = "application/pkix-crl"
	ContentTypePKCS10   = "application/pkcs10"
	ContentTypePEMFile  = "application/x-pem-file"
	ContentTypeText     = "text/plain"
)

// Query parameter names.
const (
	ParamProfile        = "profile"
	ParamNotBefore      = "not_before"
	ParamNotAfter       = "not_after"
	ParamCASHA1         = "ca_sha1"
	ParamSerialNumber   = "serial_number"
	ParamReason         = "reason"
	ParamInvalidityTime = "invalidity_time"
	ParamCRLNumber      = "crl_number"
)

// Failure-info tokens.
const (
	FailInfoBadRequest      = "badRequest"
	FailInfoBadCertTemplate = "badCertTemplate"
	FailInfoCertRevoked     = "certRevoked"
	FailInfoSystemFailure   = "systemFailure"
	FailInfoNotAuthorized   = "notAuthorized"
	FailInfoSystemUnavail   = "systemUnavail"
	FailInfoBadCertID       = "badCertId"
)

// Request is the transport-neutral view of one REST call. Path is relative
// to the mount point and starts with '/'.
type Request struct {
	Path       string
	Header     http.Header
	Query      url.Values
	Body       []byte
	ClientCert *x509.Certificate

	// bodyErr is set by ServeHTTP when the body could not be read.
	bodyErr error
}

// Response is the complete outcome of a REST call. Error responses carry
// no body.
type Response struct {
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
}

// Write copies r to w.
func (r *Response) Write(w http.ResponseWriter) error {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if r.ContentType != "" {
		w.Header().Set("Content-Type", r.ContentType)
	}
	w.WriteHeader(r.StatusCode)
	if len(r.Body) == 0 {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}

func accepted(contentType string, body []byte) *Response {
	h := make(http.Header)
	h.Set(HeaderPKIStatus, PKIStatusAccepted)
	return &Response{StatusCode: http.StatusOK, ContentType: contentType, Header: h, Body: body}
}

func rejected(status int, failInfo string) *Response {
	h := make(http.Header)
	h.Set(HeaderPKIStatus, PKIStatusRejection)
	if failInfo != "" {
		h.Set(HeaderFailInfo, failInfo)
	}
	return &Response{StatusCode: status, Header: h}
}
