package responder

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jmcleod/ironca/ca"
)

func TestStatusForCode(t *testing.T) {
	want := map[ca.ErrorCode]struct {
		status   int
		failInfo string
	}{
		ca.CodeAlreadyIssued:      {400, "badRequest"},
		ca.CodeBadCertTemplate:    {400, "badCertTemplate"},
		ca.CodeBadRequest:         {400, "badRequest"},
		ca.CodeCertRevoked:        {409, "certRevoked"},
		ca.CodeCRLFailure:         {500, "systemFailure"},
		ca.CodeDatabaseFailure:    {500, "systemFailure"},
		ca.CodeNotPermitted:       {401, "notAuthorized"},
		ca.CodeInvalidExtension:   {400, "badRequest"},
		ca.CodeSystemFailure:      {500, "systemFailure"},
		ca.CodeSystemUnavailable:  {503, "systemUnavail"},
		ca.CodeUnknownCert:        {400, "badCertId"},
		ca.CodeUnknownCertProfile: {400, "badCertTemplate"},
		ca.CodeBadPOP:             {500, "systemFailure"},
		ca.CodeCertUnrevoked:      {500, "systemFailure"},
	}
	for _, code := range ca.ErrorCodes() {
		w, ok := want[code]
		if !assert.True(t, ok, "no expectation for %s", code) {
			continue
		}
		status, failInfo := StatusForCode(code)
		assert.Equal(t, w.status, status, code.String())
		assert.Equal(t, w.failInfo, failInfo, code.String())
	}

	status, failInfo := StatusForCode(ca.ErrorCode(999))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, FailInfoSystemFailure, failInfo)
}

func TestErrorCodes_EndToEnd(t *testing.T) {
	for _, code := range ca.ErrorCodes() {
		t.Run(code.String(), func(t *testing.T) {
			f := newFixture(t)
			f.ca.engineErr = &ca.OperationError{Code: code, Message: "detail"}
			resp, event := f.do("/myca/new-crl", basicAuth("alice", "secret"))

			status, failInfo := StatusForCode(code)
			assert.Equal(t, status, resp.StatusCode)
			assert.Equal(t, PKIStatusRejection, resp.Header.Get(HeaderPKIStatus))
			assert.Equal(t, failInfo, resp.Header.Get(HeaderFailInfo))
			assert.Nil(t, resp.Body)
			assert.Equal(t, "FAILED", event.Status.String())

			msg := field(event, "message")
			switch code {
			case ca.CodeDatabaseFailure, ca.CodeSystemFailure:
				assert.Equal(t, code.String(), msg)
			default:
				assert.Equal(t, code.String()+": detail", msg)
			}
		})
	}
}
