// Package transport provides the HTTP client used by the command channel.
// HTTP/2 is negotiated over TLS; plain http endpoints (local relays, tests) fall back to HTTP/1.1.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

// Options configures BuildHTTP2Client. All TLS paths are optional; set CertPath and KeyPath
// together to present a client certificate.
type Options struct {
	Timeout  time.Duration
	CertPath string
	KeyPath  string
	CAPath   string
}

// BuildHTTP2Client creates an HTTP client that prefers HTTP/2 with TLS 1.2+.
func BuildHTTP2Client(opts Options) (*http.Client, error) {
	if (opts.CertPath == "") != (opts.KeyPath == "") {
		return nil, fmt.Errorf("certPath and keyPath must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if opts.CertPath != "" {
		clientCert, err := tls.LoadX509KeyPair(opts.CertPath, opts.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}

	if opts.CAPath != "" {
		caCert, err := os.ReadFile(opts.CAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}
	if err := http2.ConfigureTransport(base); err != nil {
		return nil, fmt.Errorf("failed to enable http2: %w", err)
	}

	return &http.Client{
		Transport: base,
		Timeout:   opts.Timeout,
	}, nil
}
