package binding

import (
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/eugenenazirov/serverbind/internal/configtree"
)

// EndpointConfiguration is the mutable view handed to a named endpoint
// override while a declarative endpoint is being resolved.
type EndpointConfiguration struct {
	// IsHTTPS reports whether the endpoint Url uses the https scheme.
	IsHTTPS bool

	// Listener holds the bind target and listener settings.
	Listener *ListenOptions

	// HTTPS holds the resolved HTTPS settings. They are attached after the
	// override runs unless the listener already has HTTPS. The override may
	// replace them.
	HTTPS *HTTPSOptions

	// ConfigSection is the raw configuration of the endpoint.
	ConfigSection *configtree.Section
}

// pendingEndpoint is an endpoint registered in code, applied during Build.
type pendingEndpoint struct {
	target    ListenTarget
	configure func(*ListenOptions)
}

// Builder merges declarative endpoints from a configuration tree with
// endpoints registered in code. Only the builder most recently returned by
// ServerOptions.Configure can take effect, and only once.
type Builder struct {
	options   *ServerOptions
	config    *configtree.Section
	overrides map[string]func(*EndpointConfiguration)
	pending   []pendingEndpoint
}

// Options returns the server options the builder writes to.
func (b *Builder) Options() *ServerOptions {
	return b.options
}

// Configuration returns the configuration tree the builder reads.
func (b *Builder) Configuration() *configtree.Section {
	return b.config
}

// Endpoint registers configure to run when the declarative endpoint named
// name is resolved. A later registration for the same name replaces it.
func (b *Builder) Endpoint(name string, configure func(*EndpointConfiguration)) error {
	if name == "" {
		return fmt.Errorf("%w: endpoint name is required", ErrInvalidArgument)
	}
	if configure == nil {
		return fmt.Errorf("%w: configuration callback for endpoint %q is required", ErrInvalidArgument, name)
	}
	b.overrides[name] = configure
	return nil
}

// ListenEndpoint binds addr when the builder is built.
func (b *Builder) ListenEndpoint(addr netip.AddrPort, configure func(*ListenOptions)) error {
	target, err := IPTarget(addr)
	if err != nil {
		return err
	}
	b.register(target, configure)
	return nil
}

// LocalhostEndpoint binds 127.0.0.1 and ::1 on port when the builder is
// built. A dynamic port (0) is not supported.
func (b *Builder) LocalhostEndpoint(port int, configure func(*ListenOptions)) error {
	target, err := LocalhostTarget(port)
	if err != nil {
		return err
	}
	b.register(target, configure)
	return nil
}

// AnyIPEndpoint binds all interfaces on port when the builder is built.
func (b *Builder) AnyIPEndpoint(port int, configure func(*ListenOptions)) error {
	target, err := AnyIPTarget(port)
	if err != nil {
		return err
	}
	b.register(target, configure)
	return nil
}

// UnixSocketEndpoint binds the unix domain socket at path when the builder
// is built. The path must be absolute.
func (b *Builder) UnixSocketEndpoint(path string, configure func(*ListenOptions)) error {
	target, err := UnixSocketTarget(path)
	if err != nil {
		return err
	}
	b.register(target, configure)
	return nil
}

// HandleEndpoint adopts the socket file descriptor fd when the builder is built.
func (b *Builder) HandleEndpoint(fd uint64, configure func(*ListenOptions)) error {
	b.register(HandleTarget(fd), configure)
	return nil
}

func (b *Builder) register(target ListenTarget, configure func(*ListenOptions)) {
	b.pending = append(b.pending, pendingEndpoint{target: target, configure: configure})
}

// Build resolves every endpoint and appends it to the server options:
// declarative endpoints first, in configuration order, then endpoints
// registered in code, in registration order.
//
// Build is a no-op when the builder was already built or has been
// replaced by a later Configure call. On error no endpoint from this
// build is kept.
func (b *Builder) Build() error {
	o := b.options
	if o.pending != b {
		o.logger.Debug("endpoint configuration already built or replaced, skipping")
		return nil
	}
	o.pending = nil

	mark := len(o.endpoints)
	if err := b.build(); err != nil {
		clear(o.endpoints[mark:])
		o.endpoints = o.endpoints[:mark]
		return err
	}

	o.logger.Info("endpoints built",
		zap.Int("declared", len(o.endpoints)-mark-len(b.pending)),
		zap.Int("registered", len(b.pending)),
	)
	return nil
}

func (b *Builder) build() error {
	reader := NewReader(b.config)
	loader := b.options.certificateLoader()

	if err := b.loadDefaultCertificate(reader, loader); err != nil {
		return err
	}

	endpoints, err := reader.Endpoints()
	if err != nil {
		return err
	}
	for _, ep := range endpoints {
		if err := b.resolve(ep, loader); err != nil {
			return err
		}
	}

	for _, p := range b.pending {
		if err := b.options.listen(p.target, p.configure); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) loadDefaultCertificate(reader *Reader, loader *CertificateLoader) error {
	cfg, ok := reader.Certificate(DefaultCertificateName)
	if !ok {
		return nil
	}
	cert, err := loader.Load(cfg, DefaultCertificateName)
	if err != nil {
		return err
	}
	if cert != nil {
		b.options.OverrideDefaultCertificate(cert)
		if cert.Leaf != nil {
			b.options.logger.Debug("default certificate loaded",
				zap.String("subject", cert.Leaf.Subject.String()),
			)
		}
	}
	return nil
}

func (b *Builder) resolve(ep EndpointConfig, loader *CertificateLoader) error {
	o := b.options

	target, https, err := ParseAddress(ep.URL)
	if err != nil {
		return fmt.Errorf("endpoint %q: %w", ep.Name, err)
	}

	lo := newListenOptions(o, target)
	lo.Name = ep.Name
	o.EndpointDefaults()(lo)

	httpsOpts := newHTTPSOptions()
	if https {
		httpsOpts = o.newHTTPSOptions()
		cert, err := loader.Load(ep.Certificate, ep.Name)
		if err != nil {
			return err
		}
		if cert != nil {
			httpsOpts.ServerCertificate = cert
		}
		if httpsOpts.ServerCertificate == nil && o.defaultHTTPS != nil {
			httpsOpts.ServerCertificate = o.defaultHTTPS.Certificate()
		}
	}

	cfg := &EndpointConfiguration{
		IsHTTPS:       https,
		Listener:      lo,
		HTTPS:         httpsOpts,
		ConfigSection: ep.ConfigSection,
	}
	if configure, ok := b.overrides[ep.Name]; ok {
		configure(cfg)
	}

	// Endpoint defaults or the override may already have attached HTTPS.
	if https && !lo.IsHTTPS() {
		if err := lo.UseHTTPSOptions(cfg.HTTPS); err != nil {
			return err
		}
	}
	if err := lo.Err(); err != nil {
		return err
	}

	o.endpoints = append(o.endpoints, lo)
	o.logger.Debug("endpoint resolved",
		zap.String("name", ep.Name),
		zap.Stringer("target", target),
		zap.Bool("https", lo.IsHTTPS()),
	)
	return nil
}
