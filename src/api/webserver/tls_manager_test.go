package webserver

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// writeKeyPair writes a fresh self-signed pair and returns its DER bytes.
func writeKeyPair(t *testing.T, certFile, keyFile string, serial int64) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "airsense.test"},
		DNSNames:     []string{"airsense.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return der
}

func touch(t *testing.T, at time.Time, files ...string) {
	t.Helper()
	for _, f := range files {
		require.NoError(t, os.Chtimes(f, at, at))
	}
}

func served(t *testing.T, r *TLSReloader) []byte {
	t.Helper()
	cert, err := r.GetConfig().GetCertificate(nil)
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)
	return cert.Certificate[0]
}

func TestTLSReloaderPicksUpRenewedPair(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "tls.crt"), filepath.Join(dir, "tls.key")
	first := writeKeyPair(t, certFile, keyFile, 1)

	r, err := NewTLSReloader(certFile, keyFile, nil, time.Hour)
	require.NoError(t, err)
	defer r.Stop()
	assert.True(t, bytes.Equal(first, served(t, r)))

	changed, err := r.changed()
	require.NoError(t, err)
	assert.False(t, changed)

	second := writeKeyPair(t, certFile, keyFile, 2)
	touch(t, time.Now().Add(time.Minute), certFile, keyFile)
	changed, err = r.changed()
	require.NoError(t, err)
	assert.True(t, changed)

	require.NoError(t, r.reload())
	assert.True(t, bytes.Equal(second, served(t, r)))
	changed, err = r.changed()
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestTLSReloaderWatcherReloadsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "tls.crt"), filepath.Join(dir, "tls.key")
	writeKeyPair(t, certFile, keyFile, 1)

	r, err := NewTLSReloader(certFile, keyFile, nil, 10*time.Millisecond)
	require.NoError(t, err)

	renewed := writeKeyPair(t, certFile, keyFile, 2)
	touch(t, time.Now().Add(time.Minute), certFile, keyFile)
	assert.Eventually(t, func() bool {
		cert, err := r.GetConfig().GetCertificate(nil)
		return err == nil && len(cert.Certificate) > 0 && bytes.Equal(renewed, cert.Certificate[0])
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
	r.Stop()
}

func TestTLSReloaderRejectsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := NewTLSReloader(filepath.Join(dir, "none.crt"), filepath.Join(dir, "none.key"), nil, time.Hour)
	assert.Error(t, err)
}

func TestTLSReloaderKeepsCertWhenFilesVanish(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "tls.crt"), filepath.Join(dir, "tls.key")
	first := writeKeyPair(t, certFile, keyFile, 1)
	r, err := NewTLSReloader(certFile, keyFile, nil, time.Hour)
	require.NoError(t, err)
	defer r.Stop()

	require.NoError(t, os.Remove(keyFile))
	_, err = r.changed()
	assert.Error(t, err)
	assert.Error(t, r.reload())
	assert.True(t, bytes.Equal(first, served(t, r)))
}
