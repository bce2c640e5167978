package gateway

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

// Default timeouts for the outbound connect and TLS handshake phases
// (§5: "separate shorter timeouts apply to the TCP connect phase
// (default 5s) and the TLS handshake (default 10s)").
const (
	defaultConnectTimeout      = 5 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultIdleConnTimeout     = 90 * time.Second
	defaultMaxIdleConnsPerHost = 32
)

// UpstreamClient is the single process-wide transport shared by every
// route (§4.4, §9 "upstream client as singleton"). It is built once
// and never reconstructed per-request; per-request cancellation is
// layered on with context.WithTimeout at dispatch time, not by
// rebuilding the transport.
type UpstreamClient struct {
	transport *http.Transport
}

// loadTrustPool returns the system root store, augmented with the CA
// bundle named by FERRAGATE_CA_BUNDLE when that variable is set (§4.4
// "TLS trust via the system root store plus a loaded CA bundle").
func loadTrustPool() (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	bundlePath := os.Getenv("FERRAGATE_CA_BUNDLE")
	if bundlePath == "" {
		return pool, nil
	}

	pem, err := os.ReadFile(bundlePath)
	if err != nil {
		return nil, err
	}
	pool.AppendCertsFromPEM(pem)
	return pool, nil
}

// NewUpstreamClient builds the pooled transport: connection pooling
// keyed by (scheme, host, port) — the default behavior of
// http.Transport — idle timeout 90s, max idle per host 32, ALPN
// negotiation of HTTP/1.1 and HTTP/2 for HTTPS upstreams. 3xx
// responses surface verbatim to the client because
// httputil.ReverseProxy dispatches through Transport.RoundTrip
// directly and never follows redirects itself (§4.4); there is no
// http.Client/CheckRedirect layer in this path to guard.
func NewUpstreamClient() (*UpstreamClient, error) {
	trustPool, err := loadTrustPool()
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   defaultConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			RootCAs:    trustPool,
			MinVersion: tls.VersionTLS12,
		},
	}

	// Explicit HTTP/2 registration rather than ForceAttemptHTTP2: gives
	// upstream dials a real ALPN negotiation over the transport's own
	// TLSClientConfig instead of a clone http.Transport installs behind
	// the scenes (§4.4 "ALPN negotiation of HTTP/1.1 and HTTP/2").
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configure http2 transport: %w", err)
	}

	return &UpstreamClient{transport: transport}, nil
}

// Close releases idle connections held by the transport.
func (u *UpstreamClient) Close() {
	u.transport.CloseIdleConnections()
}
