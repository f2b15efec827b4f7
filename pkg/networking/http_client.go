// Package networking builds the HTTP clients used for outbound calls to the
// identity provider and the Graph API.
package networking

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"
)

// HttpTimeout is the timeout for outgoing HTTP requests.
const HttpTimeout = 30 * time.Second

// ValidatingTransport rejects non-HTTPS request URLs prior to forwarding.
type ValidatingTransport struct {
	Transport http.RoundTripper
	AllowHTTP bool
}

// RoundTrip validates the request URL prior to forwarding.
func (t *ValidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	parsedURL, err := url.Parse(req.URL.String())
	if err != nil {
		return nil, fmt.Errorf("the supplied URL %s is malformed", req.URL.String())
	}
	if parsedURL.Scheme != "https" && !t.AllowHTTP {
		return nil, fmt.Errorf("the supplied URL %s is not HTTPS scheme", req.URL.String())
	}
	return t.Transport.RoundTrip(req)
}

// HttpClientBuilder provides a fluent interface for building HTTP clients.
type HttpClientBuilder struct {
	clientTimeout         time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	caCertPath            string
	allowHTTP             bool
}

// NewHttpClientBuilder returns a new HttpClientBuilder.
func NewHttpClientBuilder() *HttpClientBuilder {
	return &HttpClientBuilder{
		clientTimeout:         HttpTimeout,
		tlsHandshakeTimeout:   10 * time.Second,
		responseHeaderTimeout: 10 * time.Second,
	}
}

// WithCABundle sets the CA certificate bundle path.
func (b *HttpClientBuilder) WithCABundle(path string) *HttpClientBuilder {
	b.caCertPath = path
	return b
}

// WithInsecureHTTP allows plain-HTTP endpoints. Intended for tests against
// local mock identity providers only.
func (b *HttpClientBuilder) WithInsecureHTTP(allow bool) *HttpClientBuilder {
	b.allowHTTP = allow
	return b
}

// Build creates the configured HTTP client.
func (b *HttpClientBuilder) Build() (*http.Client, error) {
	transport := &http.Transport{
		TLSHandshakeTimeout:   b.tlsHandshakeTimeout,
		ResponseHeaderTimeout: b.responseHeaderTimeout,
	}

	if b.caCertPath != "" {
		caCert, err := os.ReadFile(b.caCertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate bundle: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate bundle")
		}

		transport.TLSClientConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    caCertPool,
		}
	}

	return &http.Client{
		Transport: &ValidatingTransport{Transport: transport, AllowHTTP: b.allowHTTP},
		Timeout:   b.clientTimeout,
	}, nil
}
