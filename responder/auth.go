package responder

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"github.com/jmcleod/ironca/ca"
	"github.com/jmcleod/ironca/internal/util"
)

const basicScheme = "Basic "

// authenticate resolves the requestor of req. HTTP Basic credentials take
// precedence over the TLS client certificate.
func (r *Responder) authenticate(ctx context.Context, c ca.CA, req *Request) (*ca.Requestor, error) {
	var (
		requestor *ca.Requestor
		err       error
	)
	if hdr := req.Header.Get("Authorization"); strings.HasPrefix(hdr, basicScheme) {
		user, password, ok := parseBasicCredentials(hdr[len(basicScheme):])
		if !ok {
			return nil, unauthorized("invalid Authorization information")
		}
		defer util.WipeBytes(password)

		ident, err := c.AuthenticateUser(ctx, user, password)
		if err != nil {
			return nil, err
		}
		if ident == nil {
			r.logger.InfoContext(ctx, "user authentication failed", "ca", c.Ident().Name, "user", user)
			return nil, unauthorized("could not authenticate user")
		}
		requestor, err = c.RequestorByUser(ctx, *ident)
		if err != nil {
			return nil, err
		}
	} else {
		if req.ClientCert == nil {
			return nil, unauthorized("no client certificate")
		}
		requestor, err = c.RequestorByCert(ctx, req.ClientCert)
		if err != nil {
			return nil, err
		}
	}

	if requestor == nil {
		return nil, ca.NewOperationError(ca.CodeNotPermitted, "no requestor specified")
	}
	return requestor, nil
}

// parseBasicCredentials decodes "user:password". The user is everything
// before the first colon and must be non-empty UTF-8; the password is the
// raw bytes after it and must be non-empty.
func parseBasicCredentials(b64 string) (string, []byte, bool) {
	b64 = strings.TrimSpace(b64)
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(b64)
		if err != nil {
			return "", nil, false
		}
	}
	idx := bytes.IndexByte(raw, ':')
	if idx <= 0 || idx == len(raw)-1 || !utf8.Valid(raw[:idx]) {
		util.WipeBytes(raw)
		return "", nil, false
	}
	user := string(raw[:idx])
	password := append([]byte(nil), raw[idx+1:]...)
	util.WipeBytes(raw)
	return user, password, true
}
