package server

import (
	"crypto/tls"
	"fmt"
)

// DefaultALPN is offered when the configuration lists no protocols.
const DefaultALPN = "h3"

// LoadTLSConfig loads a TLS 1.3 server configuration from certificate and
// key files.
func LoadTLSConfig(certFile, keyFile string, alpn []string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	return NewTLSConfig(cert, alpn), nil
}

// NewTLSConfig builds a TLS 1.3 server configuration for cert.
func NewTLSConfig(cert tls.Certificate, alpn []string) *tls.Config {
	if len(alpn) == 0 {
		alpn = []string{DefaultALPN}
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   alpn,
	}
}
