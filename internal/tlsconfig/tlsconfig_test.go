package tlsconfig

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSelfSigned writes a throwaway certificate and key into dir and returns
// their paths. The certificate doubles as its own CA.
func writeSelfSigned(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestParseClientAuth(t *testing.T) {
	t.Parallel()

	cases := map[string]tls.ClientAuthType{
		"":        tls.NoClientCert,
		"none":    tls.NoClientCert,
		"Request": tls.VerifyClientCertIfGiven,
		"require": tls.RequireAndVerifyClientCert,
	}
	for in, want := range cases {
		got, err := ParseClientAuth(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseClientAuth("sometimes")
	require.Error(t, err)
}

func TestBuild(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cert, key := writeSelfSigned(t, dir)

	cfg, err := Build(ServerConfig{CertFile: cert, KeyFile: key})
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Nil(t, cfg.ClientCAs)

	cfg, err = Build(ServerConfig{CertFile: cert, KeyFile: key, CAFile: cert, ClientAuth: tls.RequireAndVerifyClientCert})
	require.NoError(t, err)
	assert.NotNil(t, cfg.ClientCAs)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cert, key := writeSelfSigned(t, dir)
	badCA := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(badCA, []byte("INVALID CA DATA"), 0o600))

	cases := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{name: "missing files", cfg: ServerConfig{}, want: "certificate and key files are required"},
		{name: "unreadable pair", cfg: ServerConfig{CertFile: filepath.Join(dir, "nope"), KeyFile: key}, want: "load key pair"},
		{name: "missing ca", cfg: ServerConfig{CertFile: cert, KeyFile: key, CAFile: filepath.Join(dir, "nope")}, want: "read CA file"},
		{name: "invalid ca", cfg: ServerConfig{CertFile: cert, KeyFile: key, CAFile: badCA}, want: "no certificates found"},
		{name: "require without ca", cfg: ServerConfig{CertFile: cert, KeyFile: key, ClientAuth: tls.RequireAndVerifyClientCert}, want: "CA file is required"},
	}

	for _, tc := range cases {
		_, err := Build(tc.cfg)
		require.Error(t, err, tc.name)
		assert.Contains(t, err.Error(), tc.want, tc.name)
	}
}

func TestConfigureServer(t *testing.T) {
	t.Parallel()

	require.Error(t, ConfigureServer(nil, ServerConfig{}))

	cert, key := writeSelfSigned(t, t.TempDir())
	server := &http.Server{}
	require.NoError(t, ConfigureServer(server, ServerConfig{CertFile: cert, KeyFile: key}))
	assert.NotNil(t, server.TLSConfig)
}
