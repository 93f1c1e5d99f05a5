package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
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
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultServerURI, cfg.ServerURI)
	assert.Equal(t, DefaultRouterURI, cfg.RouterURI)
	assert.Equal(t, DefaultCallTimeout, cfg.CallTimeout)
	assert.Equal(t, DefaultMaxConnections, cfg.MaxConnections)
	assert.Equal(t, "127.0.0.1", cfg.ServerHost)
	assert.Equal(t, "9000", cfg.ServerPort)
	assert.Equal(t, "/ws", cfg.ServerPath)
	assert.Nil(t, cfg.TLSConfig)
}

func TestLoad_ShortAndLongFlagsAlias(t *testing.T) {
	long, err := Load([]string{"--server", "ws://0.0.0.0:9100/ws"})
	require.NoError(t, err)

	short, err := Load([]string{"-s", "ws://0.0.0.0:9100/ws"})
	require.NoError(t, err)

	assert.Equal(t, long.ServerURI, short.ServerURI)
}

func TestLoad_DebugForcesLogLevel(t *testing.T) {
	cfg, err := Load([]string{"--debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidRouterURI(t *testing.T) {
	_, err := Load([]string{"--router", "not-a-url"})
	assert.Error(t, err)
}

func TestLoad_InvalidScheme(t *testing.T) {
	_, err := Load([]string{"--router", "http://127.0.0.1:8080/ws"})
	assert.Error(t, err)
}

func TestLoad_WssRequiresLoadableCert(t *testing.T) {
	_, err := Load([]string{
		"--router", "wss://127.0.0.1:8080/ws",
		"--client_key", "/nonexistent/key.pem",
		"--client_certificate", "/nonexistent/cert.pem",
	})
	require.Error(t, err)
}

func TestLoad_WssWithValidCertLoadsTLSConfig(t *testing.T) {
	dir := t.TempDir()
	keyPath, certPath := writeSelfSignedCert(t, dir)

	cfg, err := Load([]string{
		"--router", "wss://127.0.0.1:8080/ws",
		"--client_key", keyPath,
		"--client_certificate", certPath,
	})
	require.NoError(t, err)
	require.NotNil(t, cfg.TLSConfig)
	assert.Len(t, cfg.TLSConfig.Certificates, 1)
}

func writeSelfSignedCert(t *testing.T, dir string) (keyPath, certPath string) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "wwproxy-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")

	certOut, err := os.Create(certPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certOut.Close())

	keyOut, err := os.Create(keyPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}))
	require.NoError(t, keyOut.Close())

	// Sanity check the pair loads with the stdlib before asserting on our
	// own wrapper.
	_, err = tls.LoadX509KeyPair(certPath, keyPath)
	require.NoError(t, err)

	return keyPath, certPath
}
