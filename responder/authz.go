package responder

import (
	"errors"
	"net/url"
	"strings"

	"github.com/jmcleod/ironca/ca"
)

// authorize checks that requestor may run cmd. For enrollments it also
// checks the requested profile and returns it lower-cased.
func authorize(cmd Command, requestor *ca.Requestor, query url.Values) (string, error) {
	var profile string
	if cmd.IsEnrollment() {
		profile = strings.ToLower(strings.TrimSpace(query.Get(ParamProfile)))
		if profile == "" {
			return "", missingParam(ParamProfile)
		}
	}

	if perm, ok := cmd.Permission(); ok {
		if err := requestor.AssertPermitted(perm); err != nil {
			if errors.Is(err, ca.ErrInsufficientPermission) {
				return "", &ca.OperationError{Code: ca.CodeNotPermitted, Message: err.Error(), Err: err}
			}
			return "", err
		}
	}

	if cmd.IsEnrollment() && !requestor.IsProfilePermitted(profile) {
		return "", ca.NewOperationError(ca.CodeNotPermitted, "certprofile %s is not allowed", profile)
	}
	return profile, nil
}
