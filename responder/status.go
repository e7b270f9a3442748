package responder

import (
	"net/http"

	"github.com/jmcleod/ironca/ca"
)

type wireStatus struct {
	status   int
	failInfo string
}

var codeStatus = map[ca.ErrorCode]wireStatus{
	ca.CodeAlreadyIssued:      {http.StatusBadRequest, FailInfoBadRequest},
	ca.CodeBadCertTemplate:    {http.StatusBadRequest, FailInfoBadCertTemplate},
	ca.CodeBadRequest:         {http.StatusBadRequest, FailInfoBadRequest},
	ca.CodeCertRevoked:        {http.StatusConflict, FailInfoCertRevoked},
	ca.CodeCRLFailure:         {http.StatusInternalServerError, FailInfoSystemFailure},
	ca.CodeDatabaseFailure:    {http.StatusInternalServerError, FailInfoSystemFailure},
	ca.CodeNotPermitted:       {http.StatusUnauthorized, FailInfoNotAuthorized},
	ca.CodeInvalidExtension:   {http.StatusBadRequest, FailInfoBadRequest},
	ca.CodeSystemFailure:      {http.StatusInternalServerError, FailInfoSystemFailure},
	ca.CodeSystemUnavailable:  {http.StatusServiceUnavailable, FailInfoSystemUnavail},
	ca.CodeUnknownCert:        {http.StatusBadRequest, FailInfoBadCertID},
	ca.CodeUnknownCertProfile: {http.StatusBadRequest, FailInfoBadCertTemplate},
}

// StatusForCode returns the HTTP status and failure-info token for code.
// Codes without an entry, such as BAD_POP, map to 500 systemFailure.
// TODO: give BAD_POP and CERT_UNREVOKED their own rows once clients can
// tell them apart from a server fault.
func StatusForCode(code ca.ErrorCode) (int, string) {
	if ws, ok := codeStatus[code]; ok {
		return ws.status, ws.failInfo
	}
	return http.StatusInternalServerError, FailInfoSystemFailure
}

// auditMessageForCode hides the detail of storage and system failures.
func auditMessageForCode(oe *ca.OperationError) string {
	switch oe.Code {
	case ca.CodeDatabaseFailure, ca.CodeSystemFailure:
		return oe.Code.String()
	}
	return oe.Code.String() + ": " + oe.Message
}
