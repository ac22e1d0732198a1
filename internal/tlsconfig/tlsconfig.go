// Package tlsconfig builds server-side TLS settings for the HTTP listeners.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// ServerConfig names the certificate material for a TLS listener. CAFile is
// only needed when client certificates are verified.
type ServerConfig struct {
	CertFile   string
	KeyFile    string
	CAFile     string
	ClientAuth tls.ClientAuthType
}

// ParseClientAuth maps "none", "request" and "require" to the matching
// tls.ClientAuthType. An empty mode means none.
func ParseClientAuth(mode string) (tls.ClientAuthType, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "none":
		return tls.NoClientCert, nil
	case "request":
		return tls.VerifyClientCertIfGiven, nil
	case "require":
		return tls.RequireAndVerifyClientCert, nil
	default:
		return tls.NoClientCert, fmt.Errorf("tlsconfig: unknown client auth mode %q", mode)
	}
}

// Build loads the key pair and optional client CA into a tls.Config with a
// TLS 1.2 floor.
func Build(cfg ServerConfig) (*tls.Config, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, errors.New("tlsconfig: certificate and key files are required")
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsconfig: load key pair: %w", err)
	}

	out := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   cfg.ClientAuth,
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("tlsconfig: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("tlsconfig: no certificates found in %s", cfg.CAFile)
		}
		out.ClientCAs = pool
	} else if cfg.ClientAuth == tls.RequireAndVerifyClientCert {
		return nil, errors.New("tlsconfig: CA file is required to verify client certificates")
	}

	return out, nil
}

// ConfigureServer installs the TLS settings built from cfg on server, so a
// later ListenAndServeTLS("", "") serves with them.
func ConfigureServer(server *http.Server, cfg ServerConfig) error {
	if server == nil {
		return errors.New("tlsconfig: nil server")
	}
	tlsCfg, err := Build(cfg)
	if err != nil {
		return err
	}
	server.TLSConfig = tlsCfg
	return nil
}
