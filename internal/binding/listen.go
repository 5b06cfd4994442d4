package binding

import (
	"crypto/tls"
	"fmt"
)

// ListenOptions describes one endpoint: where it binds and how
// connections on it are handled.
type ListenOptions struct {
	// Target is the address, socket path or handle to bind.
	Target ListenTarget

	// Name is the configuration name of a declarative endpoint; empty for
	// endpoints registered in code.
	Name string

	// NoDelay disables Nagle's algorithm on accepted TCP connections.
	NoDelay bool

	// Protocols selects the negotiated HTTP versions.
	Protocols HTTPProtocols

	server *ServerOptions
	https  *HTTPSOptions
	err    error
}

func newListenOptions(server *ServerOptions, target ListenTarget) *ListenOptions {
	return &ListenOptions{
		Target:    target,
		NoDelay:   true,
		Protocols: HTTP1AndHTTP2,
		server:    server,
	}
}

// IsHTTPS reports whether HTTPS has been attached to the endpoint.
func (lo *ListenOptions) IsHTTPS() bool {
	return lo.https != nil
}

// HTTPS returns the attached HTTPS options, or nil.
func (lo *ListenOptions) HTTPS() *HTTPSOptions {
	return lo.https
}

// TLSConfig returns the TLS configuration for the endpoint, or nil when
// HTTPS is not attached.
func (lo *ListenOptions) TLSConfig() *tls.Config {
	if lo.https == nil {
		return nil
	}
	return lo.https.TLSConfig(lo.Protocols)
}

// UseHTTPS attaches HTTPS built from the server-wide defaults (the default
// certificate, then the HTTPS defaults callback) and then configure.
//
// Failures are returned and also recorded on the endpoint, so an error
// ignored inside a configuration callback still fails the registration.
func (lo *ListenOptions) UseHTTPS(configure func(*HTTPSOptions)) error {
	opts := lo.server.newHTTPSOptions()
	if configure != nil {
		configure(opts)
	}
	return lo.UseHTTPSOptions(opts)
}

// UseHTTPSCertificate attaches HTTPS with cert on top of the server-wide defaults.
func (lo *ListenOptions) UseHTTPSCertificate(cert *tls.Certificate) error {
	return lo.UseHTTPS(func(o *HTTPSOptions) {
		o.ServerCertificate = cert
	})
}

// UseHTTPSOptions attaches a copy of opts as-is. Only the first attachment
// takes effect; later ones fail with ErrHTTPSAlreadyConfigured.
func (lo *ListenOptions) UseHTTPSOptions(opts *HTTPSOptions) error {
	if lo.https != nil {
		return lo.fail(fmt.Errorf("%w: %s", ErrHTTPSAlreadyConfigured, lo))
	}
	if opts == nil || opts.ServerCertificate == nil {
		return lo.fail(fmt.Errorf("%w: %s", ErrNoCertificate, lo))
	}
	cp := *opts
	lo.https = &cp
	return nil
}

// Err returns the first error recorded while configuring the endpoint.
func (lo *ListenOptions) Err() error {
	return lo.err
}

func (lo *ListenOptions) fail(err error) error {
	if lo.err == nil {
		lo.err = err
	}
	return err
}

func (lo *ListenOptions) String() string {
	if lo.Name != "" {
		return fmt.Sprintf("endpoint %q (%s)", lo.Name, lo.Target)
	}
	return "endpoint " + lo.Target.String()
}
