package responder

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmcleod/ironca/audit"
	"github.com/jmcleod/ironca/ca"
)

// parsePath splits "/<alias>/<command>" at its first two separators. The
// alias is lower-cased; the command is returned verbatim. An empty alias
// with a nil error means the path names no CA.
func parsePath(path string) (alias, command string, err error) {
	if len(path) <= 1 {
		return "", "", nil
	}
	sep := -1
	if path[0] == '/' {
		sep = strings.IndexByte(path[1:], '/')
	}
	if sep == -1 || sep+2 == len(path) {
		return "", "", newHTTPAuditError(http.StatusNotFound, audit.LevelError, "invalid path %s", path)
	}
	sep++
	return strings.ToLower(path[1:sep]), path[sep+1:], nil
}

// resolve maps the request path to an active, REST-enabled CA and a known
// command, recording both on the event.
func (r *Responder) resolve(ctx context.Context, path string, event *audit.Event) (ca.CA, Command, error) {
	alias, token, err := parsePath(path)
	if err != nil {
		r.logger.ErrorContext(ctx, "invalid path", "path", path)
		return nil, 0, err
	}

	c, err := r.resolveCA(ctx, alias, path)
	if err != nil {
		return nil, 0, err
	}
	event.AddField(audit.FieldCA, c.Ident().Name)
	event.AddField(audit.FieldEventType, token)

	cmd, ok := ParseCommand(token)
	if !ok {
		r.logger.ErrorContext(ctx, "invalid command", "ca", c.Ident().Name, "command", token)
		return nil, 0, notFound("invalid command '%s'", token)
	}
	return c, cmd, nil
}

func (r *Responder) resolveCA(ctx context.Context, alias, path string) (ca.CA, error) {
	if len(path) <= 1 {
		r.logger.WarnContext(ctx, "no CA is specified")
		return nil, notFound("no CA is specified")
	}
	name, ok := r.manager.CANameForAlias(alias)
	if !ok {
		name = alias
	}

	c, ok := r.manager.CAByName(name)
	var reject *httpAuditError
	switch {
	case !ok:
		reject = notFound("unknown CA '%s'", name)
	case !c.SupportsProtocol(ca.ProtocolREST):
		reject = notFound("REST is not supported by the CA '%s'", name)
	case c.Status() != ca.StatusActive:
		reject = notFound("CA '%s' is out of service", name)
	}
	if reject != nil {
		r.logger.WarnContext(ctx, reject.message, "ca", name)
		return nil, reject
	}
	return c, nil
}
