package ca_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"testing"
	"time"

	"github.com/jmcleod/ironca/ca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCertTemplate(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	spki, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	subject, err := ca.ParseName("CN=leaf,O=Example")
	require.NoError(t, err)

	tmpl, err := ca.NewCertTemplate(subject, spki, nil, nil, nil, "tls")
	require.NoError(t, err)
	require.NoError(t, tmpl.Validate())
	assert.False(t, tmpl.CAGenerateKeyPair)
	assert.Equal(t, "leaf", tmpl.Subject.CommonName)
	assert.NotEmpty(t, tmpl.RawSubject)
	assert.IsType(t, &ecdsa.PublicKey{}, tmpl.PublicKey)

	_, err = ca.NewCertTemplate(subject, nil, nil, nil, nil, "tls")
	code, _ := ca.CodeOf(err)
	assert.Equal(t, ca.CodeBadCertTemplate, code)

	_, err = ca.NewCertTemplate(subject, []byte{1, 2, 3}, nil, nil, nil, "tls")
	code, _ = ca.CodeOf(err)
	assert.Equal(t, ca.CodeBadCertTemplate, code)
}

func TestNewCAGenKeyTemplate(t *testing.T) {
	subject, err := ca.ParseName("CN=leaf")
	require.NoError(t, err)
	nb := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	na := nb.AddDate(1, 0, 0)

	tmpl, err := ca.NewCAGenKeyTemplate(subject, &nb, &na, nil, "tls")
	require.NoError(t, err)
	require.NoError(t, tmpl.Validate())
	assert.True(t, tmpl.CAGenerateKeyPair)
	assert.Nil(t, tmpl.PublicKey)

	_, err = ca.NewCAGenKeyTemplate(subject, &na, &nb, nil, "tls")
	code, _ := ca.CodeOf(err)
	assert.Equal(t, ca.CodeBadCertTemplate, code)

	_, err = ca.NewCAGenKeyTemplate(nil, nil, nil, nil, "tls")
	code, _ = ca.CodeOf(err)
	assert.Equal(t, ca.CodeBadCertTemplate, code)
}

func TestCertTemplateValidate(t *testing.T) {
	subject, err := ca.ParseName("CN=leaf")
	require.NoError(t, err)
	tmpl, err := ca.NewCAGenKeyTemplate(subject, nil, nil, nil, "tls")
	require.NoError(t, err)

	tmpl.PublicKeyInfo = []byte{1}
	code, _ := ca.CodeOf(tmpl.Validate())
	assert.Equal(t, ca.CodeBadCertTemplate, code)

	tmpl.PublicKeyInfo = nil
	tmpl.CAGenerateKeyPair = false
	code, _ = ca.CodeOf(tmpl.Validate())
	assert.Equal(t, ca.CodeBadCertTemplate, code)
}
