package ca

import (
	"fmt"
	"strconv"
	"strings"
)

// CRLReason is an RFC 5280 CRL reason code.
type CRLReason int

const (
	ReasonUnspecified          CRLReason = 0
	ReasonKeyCompromise        CRLReason = 1
	ReasonCACompromise         CRLReason = 2
	ReasonAffiliationChanged   CRLReason = 3
	ReasonSuperseded           CRLReason = 4
	ReasonCessationOfOperation CRLReason = 5
	ReasonCertificateHold      CRLReason = 6
	ReasonRemoveFromCRL        CRLReason = 8
	ReasonPrivilegeWithdrawn   CRLReason = 9
	ReasonAACompromise         CRLReason = 10
)

var crlReasons = []struct {
	reason CRLReason
	name   string
	text   string
}{
	{ReasonUnspecified, "UNSPECIFIED", "unspecified"},
	{ReasonKeyCompromise, "KEY_COMPROMISE", "keyCompromise"},
	{ReasonCACompromise, "CA_COMPROMISE", "cACompromise"},
	{ReasonAffiliationChanged, "AFFILIATION_CHANGED", "affiliationChanged"},
	{ReasonSuperseded, "SUPERSEDED", "superseded"},
	{ReasonCessationOfOperation, "CESSATION_OF_OPERATION", "cessationOfOperation"},
	{ReasonCertificateHold, "CERTIFICATE_HOLD", "certificateHold"},
	{ReasonRemoveFromCRL, "REMOVE_FROM_CRL", "removeFromCRL"},
	{ReasonPrivilegeWithdrawn, "PRIVILEGE_WITHDRAWN", "privilegeWithdrawn"},
	{ReasonAACompromise, "AA_COMPROMISE", "aACompromise"},
}

// ParseCRLReason accepts a reason by constant name (KEY_COMPROMISE), by
// RFC 5280 text (keyCompromise) or by numeric code, case-insensitively.
func ParseCRLReason(s string) (CRLReason, error) {
	s = strings.TrimSpace(s)
	for _, r := range crlReasons {
		if strings.EqualFold(s, r.name) || strings.EqualFold(s, r.text) {
			return r.reason, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		for _, r := range crlReasons {
			if int(r.reason) == n {
				return r.reason, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid CRL reason %q", s)
}

// Valid reports whether r is a defined reason code.
func (r CRLReason) Valid() bool {
	for _, cr := range crlReasons {
		if cr.reason == r {
			return true
		}
	}
	return false
}

func (r CRLReason) String() string {
	for _, cr := range crlReasons {
		if cr.reason == r {
			return cr.text
		}
	}
	return fmt.Sprintf("CRLReason(%d)", int(r))
}
