package ca_test

import (
	"testing"

	"github.com/jmcleod/ironca/ca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePermissions(t *testing.T) {
	p, err := ca.ParsePermissions([]string{"enroll_cert", " REVOKE_CERT "})
	require.NoError(t, err)
	assert.Equal(t, ca.PermEnrollCert|ca.PermRevokeCert, p)
	assert.Equal(t, "enroll_cert,revoke_cert", p.String())

	all, err := ca.ParsePermissions([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, ca.PermAll, all)
	assert.Equal(t, "all", all.String())

	_, err = ca.ParsePermissions([]string{"fly"})
	assert.Error(t, err)
}

func TestRequestorAssertPermitted(t *testing.T) {
	r := &ca.Requestor{
		Ident:       ca.NameID{ID: 1, Name: "ra"},
		Permissions: ca.PermEnrollCert | ca.PermGetCRL,
		Profiles:    ca.NewProfileSet("TLS", "smime"),
	}
	assert.NoError(t, r.AssertPermitted(ca.PermEnrollCert))

	err := r.AssertPermitted(ca.PermRevokeCert)
	require.ErrorIs(t, err, ca.ErrInsufficientPermission)
	assert.Contains(t, err.Error(), "revoke_cert")
	assert.Contains(t, err.Error(), "ra")

	assert.True(t, r.IsProfilePermitted("tls"))
	assert.True(t, r.IsProfilePermitted("SMIME"))
	assert.False(t, r.IsProfilePermitted("code-signing"))
	assert.Equal(t, []string{"smime", "tls"}, r.Profiles.Names())
}

func TestAllProfiles(t *testing.T) {
	assert.True(t, ca.AllProfiles().Contains("anything"))
	assert.True(t, ca.NewProfileSet("ALL").Contains("anything"))
	assert.Equal(t, []string{"all"}, ca.AllProfiles().Names())
	assert.False(t, ca.NewProfileSet().Contains("tls"))
}
