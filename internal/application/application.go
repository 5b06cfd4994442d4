package application

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eugenenazirov/serverbind/internal/api"
	"github.com/eugenenazirov/serverbind/internal/binding"
	"github.com/eugenenazirov/serverbind/internal/certstore"
	"github.com/eugenenazirov/serverbind/internal/config"
	"github.com/eugenenazirov/serverbind/internal/listener"
	"github.com/eugenenazirov/serverbind/internal/storage"
)

const (
	// AppName names the per-user and machine-wide certificate store directories.
	AppName = "serverbind"

	// defaultLocalhostPort is bound when no endpoint is configured at all.
	defaultLocalhostPort = 5000
)

// App encapsulates the application dependencies and HTTP servers.
type App struct {
	cfg     config.Config
	options *binding.ServerOptions
	storage storage.Storage
	handler *api.Handler
	router  http.Handler
	logger  *zap.Logger

	mu      sync.Mutex
	servers []*http.Server
	group   *errgroup.Group
}

// New resolves every endpoint from cfg and prepares the HTTP handler. No
// socket is opened until Start.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	options, err := NewServerOptions(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := ConfigureEndpoints(options, cfg); err != nil {
		return nil, fmt.Errorf("failed to resolve endpoints: %w", err)
	}
	if len(options.Endpoints()) == 0 {
		logger.Info("no endpoints configured, using default",
			zap.Int("port", defaultLocalhostPort))
		if err := options.ListenLocalhost(defaultLocalhostPort, nil); err != nil {
			return nil, err
		}
	}

	store := storage.NewMemoryStorage()
	if err := store.SetEndpoints(Describe(options.Endpoints(), nil)); err != nil {
		return nil, fmt.Errorf("failed to record endpoints: %w", err)
	}

	handler := api.NewHandler(store)
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	return &App{
		cfg:     cfg,
		options: options,
		storage: store,
		handler: handler,
		router:  BuildRootHandler(apiRouter),
		logger:  logger,
	}, nil
}

// NewServerOptions creates server options backed by the certificate store
// under cfg.StoreRoot (or the default store directories) and the
// development certificate fallback, with the configured defaults applied.
func NewServerOptions(cfg config.Config, logger *zap.Logger) (*binding.ServerOptions, error) {
	contentRoot, err := filepath.Abs(cfg.ContentRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve content root: %w", err)
	}

	opts := []binding.ServerOption{
		binding.WithContentRoot(contentRoot),
		binding.WithLogger(logger.Named("binding")),
	}
	if store := openStore(cfg.StoreRoot, logger); store != nil {
		opts = append(opts,
			binding.WithCertificateStore(store),
			binding.WithDefaultHTTPSProvider(certstore.NewDevelopmentProvider(store, logger.Named("devcert"))),
		)
	}
	options := binding.NewServerOptions(opts...)

	noDelay := cfg.EndpointDefaults.NoDelay
	if err := options.ConfigureEndpointDefaults(func(lo *binding.ListenOptions) {
		lo.NoDelay = noDelay
	}); err != nil {
		return nil, err
	}
	httpsDefaults := cfg.HTTPSDefaults
	if err := options.ConfigureHTTPSDefaults(func(h *binding.HTTPSOptions) {
		h.ClientCertificateMode = httpsDefaults.ClientCertificateMode
		if httpsDefaults.MinVersion != 0 {
			h.MinVersion = httpsDefaults.MinVersion
		}
	}); err != nil {
		return nil, err
	}
	return options, nil
}

// ConfigureEndpoints builds the endpoints declared in cfg.Server plus the
// localhost ports and unix sockets given on the command line.
func ConfigureEndpoints(options *binding.ServerOptions, cfg config.Config) error {
	builder := options.Configure(cfg.Server)
	for _, port := range cfg.LocalhostPorts {
		if err := builder.LocalhostEndpoint(port, nil); err != nil {
			return err
		}
	}
	for _, path := range cfg.UnixSockets {
		if err := builder.UnixSocketEndpoint(path, nil); err != nil {
			return err
		}
	}
	return builder.Build()
}

// OpenStore returns the certificate store rooted at root, or at the
// default per-user and machine-wide directories when root is empty.
func OpenStore(root string) (*certstore.DirStore, error) {
	if root != "" {
		return certstore.NewDirStoreAt(root), nil
	}
	roots, err := certstore.DefaultRoots(AppName)
	if err != nil {
		return nil, err
	}
	return certstore.NewDirStore(roots), nil
}

func openStore(root string, logger *zap.Logger) *certstore.DirStore {
	store, err := OpenStore(root)
	if err != nil {
		logger.Warn("certificate store unavailable", zap.Error(err))
		return nil
	}
	return store
}

// BuildRootHandler routes API requests and redirects the root path to the
// endpoint listing.
func BuildRootHandler(apiHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/api/endpoints", http.StatusFound)
	}))
	return mux
}

// NewServer creates the HTTP server for one endpoint. Every connection it
// accepts carries the endpoint in its context (see api.EndpointFromContext).
func NewServer(cfg config.Config, lo *binding.ListenOptions, handler http.Handler, logger *zap.Logger) *http.Server {
	ep := api.Endpoint{
		Name:    lo.Name,
		Address: lo.Target.String(),
		HTTPS:   lo.IsHTTPS(),
	}
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ErrorLog:          zap.NewStdLog(logger.With(zap.String("endpoint", lo.String()))),
		ConnContext: func(ctx context.Context, _ net.Conn) context.Context {
			return api.ContextWithEndpoint(ctx, ep)
		},
	}
}

// Describe converts resolved endpoints into snapshot entries. bound, when
// non-nil, holds the listener addresses of each endpoint by index.
func Describe(endpoints []*binding.ListenOptions, bound [][]string) []storage.EndpointInfo {
	out := make([]storage.EndpointInfo, len(endpoints))
	for i, lo := range endpoints {
		info := storage.EndpointInfo{
			Name:      lo.Name,
			Kind:      lo.Target.Kind.String(),
			Address:   lo.Target.String(),
			HTTPS:     lo.IsHTTPS(),
			Protocols: lo.Protocols.String(),
			NoDelay:   lo.NoDelay,
		}
		if h := lo.HTTPS(); h != nil {
			info.ClientCertificateMode = h.ClientCertificateMode.String()
			if leaf := leafOf(h.ServerCertificate); leaf != nil {
				info.CertificateSubject = leaf.Subject.String()
				notAfter := leaf.NotAfter.UTC()
				info.CertificateNotAfter = &notAfter
			}
		}
		if i < len(bound) {
			info.Listeners = bound[i]
		}
		out[i] = info
	}
	return out
}

// Start binds every endpoint and serves the handler on each listener. It
// returns once all sockets are open; serving continues in the background
// until Shutdown. If any endpoint fails to bind, nothing is left open.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.group != nil {
		return errors.New("application already started")
	}

	endpoints := a.options.Endpoints()
	var (
		all   []net.Listener
		bound = make([][]string, len(endpoints))
		sets  = make([][]net.Listener, len(endpoints))
	)
	for i, lo := range endpoints {
		ls, err := listener.Bind(ctx, lo, a.logger)
		if err != nil {
			_ = listener.CloseAll(all)
			return err
		}
		all = append(all, ls...)
		sets[i] = ls
		bound[i] = listener.Addresses(ls)
	}
	if err := a.storage.SetEndpoints(Describe(endpoints, bound)); err != nil {
		_ = listener.CloseAll(all)
		return fmt.Errorf("failed to record endpoints: %w", err)
	}

	a.group = new(errgroup.Group)
	for i, lo := range endpoints {
		srv := NewServer(a.cfg, lo, a.router, a.logger)
		a.servers = append(a.servers, srv)
		for _, l := range sets[i] {
			a.logger.Info("server listening",
				zap.String("endpoint", lo.String()),
				zap.String("addr", l.Addr().String()),
				zap.Bool("https", lo.IsHTTPS()),
			)
			a.group.Go(func() error {
				if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve %s: %w", l.Addr(), err)
				}
				return nil
			})
		}
	}
	return nil
}

// Wait blocks until every listener has stopped serving and returns the
// first serve error.
func (a *App) Wait() error {
	a.mu.Lock()
	group := a.group
	a.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Shutdown gracefully stops every server, forcing a close when ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	servers := append([]*http.Server(nil), a.servers...)
	a.mu.Unlock()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("graceful shutdown failed", zap.Error(err))
			if closeErr := srv.Close(); closeErr != nil {
				errs = append(errs, closeErr)
			}
		}
	}
	return errors.Join(errs...)
}

// Endpoints returns the resolved endpoints in bind order.
func (a *App) Endpoints() []*binding.ListenOptions {
	return a.options.Endpoints()
}

// Snapshot returns the endpoint snapshot served by the API.
func (a *App) Snapshot() ([]storage.EndpointInfo, error) {
	return a.storage.GetEndpoints()
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// ShutdownTimeout returns the configured grace period for Shutdown.
func (a *App) ShutdownTimeout() time.Duration {
	return a.cfg.ShutdownGracePeriod
}

func leafOf(cert *tls.Certificate) *x509.Certificate {
	if cert == nil {
		return nil
	}
	if cert.Leaf != nil {
		return cert.Leaf
	}
	if len(cert.Certificate) == 0 {
		return nil
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil
	}
	return leaf
}
