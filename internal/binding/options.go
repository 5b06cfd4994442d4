package binding

import (
	"crypto/tls"
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/eugenenazirov/serverbind/internal/certstore"
	"github.com/eugenenazirov/serverbind/internal/configtree"
)

// CertificateStore looks certificates up by subject.
type CertificateStore interface {
	Find(q certstore.Query) (*tls.Certificate, error)
}

// DefaultHTTPSProvider supplies the last-resort certificate for HTTPS
// endpoints that resolve no other. It may return nil.
type DefaultHTTPSProvider interface {
	Certificate() *tls.Certificate
}

// ServerOption configures ServerOptions collaborators.
type ServerOption func(*ServerOptions)

// WithContentRoot sets the directory relative certificate paths resolve against.
func WithContentRoot(dir string) ServerOption {
	return func(o *ServerOptions) {
		o.contentRoot = dir
	}
}

// WithCertificateStore sets the store used for subject-based certificates.
func WithCertificateStore(store CertificateStore) ServerOption {
	return func(o *ServerOptions) {
		o.store = store
	}
}

// WithDefaultHTTPSProvider sets the fallback certificate provider.
func WithDefaultHTTPSProvider(provider DefaultHTTPSProvider) ServerOption {
	return func(o *ServerOptions) {
		o.defaultHTTPS = provider
	}
}

// WithLogger sets the logger used while building endpoints.
func WithLogger(logger *zap.Logger) ServerOption {
	return func(o *ServerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// ServerOptions accumulates the endpoints a server binds. It is built
// once during startup from a single goroutine and read-only afterwards.
type ServerOptions struct {
	endpoints  []*ListenOptions
	pending    *Builder
	extensions extensions

	contentRoot  string
	store        CertificateStore
	defaultHTTPS DefaultHTTPSProvider
	logger       *zap.Logger
}

// NewServerOptions creates empty server options.
func NewServerOptions(opts ...ServerOption) *ServerOptions {
	o := &ServerOptions{
		extensions: extensions{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Endpoints returns the resolved endpoints in bind order.
func (o *ServerOptions) Endpoints() []*ListenOptions {
	out := make([]*ListenOptions, len(o.endpoints))
	copy(out, o.endpoints)
	return out
}

// ConfigurationBuilder returns the builder whose Build is still pending, or nil.
func (o *ServerOptions) ConfigurationBuilder() *Builder {
	return o.pending
}

// Configure creates a builder over tree and makes it the only pending
// builder, discarding any earlier one that has not been built. A nil tree
// is treated as empty.
func (o *ServerOptions) Configure(tree *configtree.Section) *Builder {
	if tree == nil {
		tree = configtree.Empty()
	}
	b := &Builder{
		options:   o,
		config:    tree,
		overrides: map[string]func(*EndpointConfiguration){},
	}
	if o.pending != nil {
		o.logger.Debug("replacing pending endpoint configuration")
	}
	o.pending = b
	return b
}

// ConfigureEndpointDefaults registers a callback applied to every endpoint
// before its own configuration.
func (o *ServerOptions) ConfigureEndpointDefaults(configure func(*ListenOptions)) error {
	if configure == nil {
		return fmt.Errorf("%w: endpoint defaults callback is required", ErrInvalidArgument)
	}
	setExtension(o.ext(), endpointDefaultsKey, configure)
	return nil
}

// ConfigureHTTPSDefaults registers a callback applied to every new set of HTTPS options.
func (o *ServerOptions) ConfigureHTTPSDefaults(configure func(*HTTPSOptions)) error {
	if configure == nil {
		return fmt.Errorf("%w: https defaults callback is required", ErrInvalidArgument)
	}
	setExtension(o.ext(), httpsDefaultsKey, configure)
	return nil
}

// OverrideDefaultCertificate sets the certificate HTTPS endpoints start from.
func (o *ServerOptions) OverrideDefaultCertificate(cert *tls.Certificate) {
	setExtension(o.ext(), defaultCertificateKey, cert)
}

// EndpointDefaults returns the endpoint defaults callback, or a no-op.
func (o *ServerOptions) EndpointDefaults() func(*ListenOptions) {
	if fn, ok := getExtension(o.extensions, endpointDefaultsKey); ok && fn != nil {
		return fn
	}
	return func(*ListenOptions) {}
}

// HTTPSDefaults returns the HTTPS defaults callback, or a no-op.
func (o *ServerOptions) HTTPSDefaults() func(*HTTPSOptions) {
	if fn, ok := getExtension(o.extensions, httpsDefaultsKey); ok && fn != nil {
		return fn
	}
	return func(*HTTPSOptions) {}
}

// DefaultCertificate returns the overridden default certificate, or nil.
func (o *ServerOptions) DefaultCertificate() *tls.Certificate {
	cert, _ := getExtension(o.extensions, defaultCertificateKey)
	return cert
}

// Listen binds addr.
func (o *ServerOptions) Listen(addr netip.AddrPort, configure func(*ListenOptions)) error {
	target, err := IPTarget(addr)
	if err != nil {
		return err
	}
	return o.listen(target, configure)
}

// ListenLocalhost binds 127.0.0.1 and ::1 on port.
func (o *ServerOptions) ListenLocalhost(port int, configure func(*ListenOptions)) error {
	target, err := LocalhostTarget(port)
	if err != nil {
		return err
	}
	return o.listen(target, configure)
}

// ListenAnyIP binds all interfaces on port.
func (o *ServerOptions) ListenAnyIP(port int, configure func(*ListenOptions)) error {
	target, err := AnyIPTarget(port)
	if err != nil {
		return err
	}
	return o.listen(target, configure)
}

// ListenUnixSocket binds the unix domain socket at path, which must be absolute.
func (o *ServerOptions) ListenUnixSocket(path string, configure func(*ListenOptions)) error {
	target, err := UnixSocketTarget(path)
	if err != nil {
		return err
	}
	return o.listen(target, configure)
}

// ListenHandle adopts the open socket file descriptor fd.
func (o *ServerOptions) ListenHandle(fd uint64, configure func(*ListenOptions)) error {
	return o.listen(HandleTarget(fd), configure)
}

func (o *ServerOptions) listen(target ListenTarget, configure func(*ListenOptions)) error {
	lo := newListenOptions(o, target)
	o.EndpointDefaults()(lo)
	if configure != nil {
		configure(lo)
	}
	if err := lo.Err(); err != nil {
		return err
	}
	o.endpoints = append(o.endpoints, lo)
	o.logger.Debug("endpoint registered",
		zap.Stringer("target", target),
		zap.Bool("https", lo.IsHTTPS()),
	)
	return nil
}

func (o *ServerOptions) ext() extensions {
	if o.extensions == nil {
		o.extensions = extensions{}
	}
	return o.extensions
}

func (o *ServerOptions) newHTTPSOptions() *HTTPSOptions {
	opts := newHTTPSOptions()
	if o == nil {
		return opts
	}
	opts.ServerCertificate = o.DefaultCertificate()
	o.HTTPSDefaults()(opts)
	return opts
}

func (o *ServerOptions) certificateLoader() *CertificateLoader {
	return NewCertificateLoader(o.contentRoot, o.store)
}
