package responder

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironca/audit"
	"github.com/jmcleod/ironca/ca"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		path    string
		alias   string
		command string
		invalid bool
	}{
		{path: "/myca/cacert", alias: "myca", command: "cacert"},
		{path: "/MyCA/CACert", alias: "myca", command: "CACert"},
		{path: "/myca/crl/extra", alias: "myca", command: "crl/extra"},
		{path: "//cacert", alias: "", command: "cacert"},
		{path: "/myca/x", alias: "myca", command: "x"},
		{path: "/myca", invalid: true},
		{path: "/myca/", invalid: true},
		{path: "//", invalid: true},
		{path: "myca/cacert", invalid: true},
		{path: "/", alias: "", command: ""},
		{path: "", alias: "", command: ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			alias, command, err := parsePath(tt.path)
			if tt.invalid {
				var he *httpAuditError
				require.ErrorAs(t, err, &he)
				assert.Equal(t, http.StatusNotFound, he.status)
				assert.Equal(t, audit.LevelError, he.level)
				assert.Equal(t, "invalid path "+tt.path, he.message)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.alias, alias)
			assert.Equal(t, tt.command, command)
		})
	}
}

func TestResolve_Failures(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		mutate  func(*fakeCA)
		message string
		level   audit.Level
	}{
		{name: "no CA", path: "/", message: "no CA is specified"},
		{name: "bad path", path: "/myca", message: "invalid path /myca", level: audit.LevelError},
		{name: "unknown CA", path: "/other/cacert", message: "unknown CA 'other'"},
		{
			name:    "REST disabled",
			path:    "/myca/cacert",
			mutate:  func(c *fakeCA) { c.protocols = map[ca.Protocol]bool{ca.ProtocolCMP: true} },
			message: "REST is not supported by the CA 'myca'",
		},
		{
			name:    "inactive",
			path:    "/default/cacert",
			mutate:  func(c *fakeCA) { c.status = ca.StatusInactive },
			message: "CA 'myca' is out of service",
		},
		{name: "unknown command", path: "/myca/bogus", message: "invalid command 'bogus'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.mutate != nil {
				tt.mutate(f.ca)
			}
			resp, event := f.do(tt.path, basicAuth("alice", "secret"))
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.Equal(t, PKIStatusRejection, resp.Header.Get(HeaderPKIStatus))
			assert.Empty(t, resp.Header.Get(HeaderFailInfo))
			assert.Nil(t, resp.Body)
			assert.Equal(t, tt.message, field(event, audit.FieldMessage))
			assert.Equal(t, tt.level, event.Level)
			assert.Equal(t, audit.StatusFailed, event.Status)
			assert.Empty(t, f.ca.Calls(), "no authentication before resolution")
		})
	}
}

func TestResolve_AliasAndCase(t *testing.T) {
	f := newFixture(t)
	resp, event := f.do("/DEFAULT/CaCert", basicAuth("alice", "secret"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "myca", field(event, audit.FieldCA))
	assert.Equal(t, "CaCert", field(event, audit.FieldEventType))
}

func TestCommands_ExhaustiveDispatch(t *testing.T) {
	for _, cmd := range Commands() {
		parsed, ok := ParseCommand(cmd.String())
		require.True(t, ok, cmd.String())
		assert.Equal(t, cmd, parsed)
	}
	_, ok := ParseCommand("unknown")
	assert.False(t, ok)

	f := newFixture(t)
	for _, cmd := range Commands() {
		_, err := f.resp.dispatch(t.Context(), &call{ca: f.ca, cmd: cmd, requestor: f.ca.certRequestor, req: &Request{}})
		var he *httpAuditError
		if errors.As(err, &he) {
			assert.NotContains(t, he.message, "invalid command", cmd.String())
		}
	}
}
