package engine

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoftwareKeyStore_GenerateSignExport(t *testing.T) {
	ks := NewSoftwareKeyStore()
	keyID, err := ks.GenerateKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(keyID, "sw-"))

	signer, err := ks.Signer(keyID)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("payload"))
	sig, err := signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(signer.Public().(*ecdsa.PublicKey), digest[:], sig))

	exported, err := ks.ExportPEM(keyID)
	require.NoError(t, err)
	assert.Contains(t, exported, "BEGIN PRIVATE KEY")

	importedID, err := ks.ImportPEM(exported)
	require.NoError(t, err)
	assert.NotEqual(t, keyID, importedID)
	imported, err := ks.Signer(importedID)
	require.NoError(t, err)
	assert.True(t, imported.Public().(*ecdsa.PublicKey).Equal(signer.Public()))

	require.NoError(t, ks.Delete(keyID))
	_, err = ks.Signer(keyID)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = ks.ExportPEM(keyID)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSoftwareKeyStore_ImportFormats(t *testing.T) {
	ks := NewSoftwareKeyStore()

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	sec1, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)
	id, err := ks.ImportPEM(string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1})))
	require.NoError(t, err)
	signer, err := ks.Signer(id)
	require.NoError(t, err)
	assert.True(t, ecKey.PublicKey.Equal(signer.Public()))

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pkcs1 := x509.MarshalPKCS1PrivateKey(rsaKey)
	id, err = ks.ImportPEM(string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: pkcs1})))
	require.NoError(t, err)
	signer, err = ks.Signer(id)
	require.NoError(t, err)
	assert.True(t, rsaKey.PublicKey.Equal(signer.Public()))

	_, err = ks.ImportPEM("not pem")
	assert.ErrorIs(t, err, ErrInvalidPEM)
	_, err = ks.ImportPEM(string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1}})))
	assert.ErrorIs(t, err, ErrInvalidPEM)
}
