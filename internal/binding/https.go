package binding

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// ClientCertificateMode controls whether HTTPS endpoints ask clients for certificates.
type ClientCertificateMode int

const (
	// NoCertificate never requests a client certificate.
	NoCertificate ClientCertificateMode = iota
	// AllowCertificate requests a client certificate but does not require one.
	AllowCertificate
	// RequireCertificate rejects clients that present no certificate.
	RequireCertificate
)

func (m ClientCertificateMode) String() string {
	switch m {
	case NoCertificate:
		return "none"
	case AllowCertificate:
		return "allow"
	case RequireCertificate:
		return "require"
	default:
		return fmt.Sprintf("ClientCertificateMode(%d)", int(m))
	}
}

// ParseClientCertificateMode parses "none", "allow" or "require" (case-insensitive).
func ParseClientCertificateMode(s string) (ClientCertificateMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "nocertificate":
		return NoCertificate, nil
	case "allow", "allowcertificate":
		return AllowCertificate, nil
	case "require", "requirecertificate":
		return RequireCertificate, nil
	default:
		return NoCertificate, fmt.Errorf("%w: client certificate mode %q (want none|allow|require)", ErrInvalidArgument, s)
	}
}

// HTTPSOptions holds the TLS identity and policy of one HTTPS endpoint.
type HTTPSOptions struct {
	// ServerCertificate is presented to clients. Required once attached.
	ServerCertificate *tls.Certificate

	// ClientCertificateMode selects how client certificates are requested.
	ClientCertificateMode ClientCertificateMode

	// MinVersion is the minimum accepted TLS version. Defaults to TLS 1.2.
	MinVersion uint16
}

func newHTTPSOptions() *HTTPSOptions {
	return &HTTPSOptions{MinVersion: tls.VersionTLS12}
}

// TLSConfig builds the server-side TLS configuration for these options.
func (o *HTTPSOptions) TLSConfig(protocols HTTPProtocols) *tls.Config {
	cfg := &tls.Config{
		MinVersion: o.MinVersion,
		NextProtos: protocols.alpn(),
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	if o.ServerCertificate != nil {
		cfg.Certificates = []tls.Certificate{*o.ServerCertificate}
	}
	switch o.ClientCertificateMode {
	case AllowCertificate:
		cfg.ClientAuth = tls.RequestClientCert
	case RequireCertificate:
		cfg.ClientAuth = tls.RequireAnyClientCert
	}
	return cfg
}

// HTTPProtocols selects the HTTP versions an endpoint negotiates.
type HTTPProtocols int

const (
	// HTTP1AndHTTP2 negotiates HTTP/2 over TLS and falls back to HTTP/1.1.
	HTTP1AndHTTP2 HTTPProtocols = iota
	// HTTP1 serves HTTP/1.1 only.
	HTTP1
	// HTTP2 serves HTTP/2 only.
	HTTP2
)

func (p HTTPProtocols) String() string {
	switch p {
	case HTTP1:
		return "http1"
	case HTTP2:
		return "http2"
	default:
		return "http1AndHttp2"
	}
}

func (p HTTPProtocols) alpn() []string {
	switch p {
	case HTTP1:
		return []string{"http/1.1"}
	case HTTP2:
		return []string{"h2"}
	default:
		return []string{"h2", "http/1.1"}
	}
}
