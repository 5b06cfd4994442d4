package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/serverbind/internal/application"
	"github.com/eugenenazirov/serverbind/internal/certstore"
	"github.com/eugenenazirov/serverbind/internal/config"
	"github.com/eugenenazirov/serverbind/internal/logging"
)

var signalNotify = signal.Notify

type devcertOptions struct {
	storeRoot string
	store     string
	location  string
	name      string
	hosts     []string
	validFor  time.Duration
	export    string
	password  string
}

func main() {
	kingpinApp := kingpin.New("serverbind", "Resolves configured endpoints and TLS certificates, then serves the endpoint API on every one of them")

	serveCmd := kingpinApp.Command("serve", "Bind all configured endpoints and serve").Default()
	configFile := serveCmd.Flag("config", "Path to YAML configuration file").Short('c').String()
	contentRoot := serveCmd.Flag("content-root", "Directory relative certificate paths resolve against").String()
	storeRoot := serveCmd.Flag("store-root", "Certificate store directory (default: per-user config dir)").String()
	logLevel := serveCmd.Flag("log-level", "Log level (debug, info, warn, error)").String()
	localhostPorts := serveCmd.Flag("localhost-port", "Also listen on localhost at this port (repeatable)").Ints()
	unixSockets := serveCmd.Flag("unix-socket", "Also listen on this absolute unix socket path (repeatable)").Strings()
	rateLimitRPSFlag := serveCmd.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := serveCmd.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()

	devcertCmd := kingpinApp.Command("devcert", "Generate a localhost development certificate into the certificate store")
	var dc devcertOptions
	devcertCmd.Flag("store-root", "Certificate store directory (default: per-user config dir)").StringVar(&dc.storeRoot)
	devcertCmd.Flag("store", "Store name").Default(certstore.DefaultStoreName).StringVar(&dc.store)
	devcertCmd.Flag("location", "Store location (CurrentUser, LocalMachine)").Default(certstore.CurrentUser.String()).StringVar(&dc.location)
	devcertCmd.Flag("name", "File name of the certificate in the store").Default("devcert").StringVar(&dc.name)
	devcertCmd.Flag("host", "Host name or IP the certificate is valid for (repeatable)").Default(certstore.DevelopmentSubject, "127.0.0.1", "::1").StringsVar(&dc.hosts)
	devcertCmd.Flag("valid-for", "Certificate lifetime").Default(certstore.DevelopmentValidity.String()).DurationVar(&dc.validFor)
	devcertCmd.Flag("export", "Also write the certificate to this path (.pfx/.p12 for PKCS#12, PEM otherwise)").StringVar(&dc.export)
	devcertCmd.Flag("export-password", "Password protecting an exported PKCS#12 file").StringVar(&dc.password)

	command := kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	if command == devcertCmd.FullCommand() {
		path, err := generateDevCert(dc)
		if err != nil {
			kingpinApp.Fatalf("devcert: %v", err)
		}
		fmt.Println(path)
		return
	}

	overrides := &config.CLIOverrides{
		ConfigFile:     *configFile,
		ContentRoot:    contentRoot,
		StoreRoot:      storeRoot,
		LogLevel:       logLevel,
		LocalhostPorts: *localhostPorts,
		UnixSockets:    *unixSockets,
	}

	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}

	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(context.Background()); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	served := make(chan error, 1)
	go func() {
		served <- app.Wait()
	}()

	shutdown(app, served, app.ShutdownTimeout(), logger)
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown blocks until a termination signal arrives or serving stops on
// its own, then stops the servers within timeout.
func shutdown(server shutdowner, served <-chan error, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutting down server")
	case err := <-served:
		if err != nil {
			logger.Error("server stopped", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced close failed", zap.Error(err))
	}
}

// generateDevCert creates a development certificate, stores it and returns
// the path written in the store.
func generateDevCert(opts devcertOptions) (string, error) {
	location, err := certstore.ParseStoreLocation(opts.location)
	if err != nil {
		return "", err
	}
	store, err := application.OpenStore(opts.storeRoot)
	if err != nil {
		return "", err
	}

	certPEM, keyPEM, err := certstore.GenerateDevelopmentCertificate(opts.hosts, opts.validFor)
	if err != nil {
		return "", err
	}
	path, err := store.Add(opts.store, location, opts.name, certPEM, keyPEM)
	if err != nil {
		return "", err
	}

	if opts.export != "" {
		if err := exportCertificate(opts.export, opts.password, certPEM, keyPEM); err != nil {
			return "", fmt.Errorf("export: %w", err)
		}
	}
	return path, nil
}

func exportCertificate(path, password string, certPEM, keyPEM []byte) error {
	data := append(append([]byte{}, certPEM...), keyPEM...)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pfx", ".p12":
		var err error
		if data, err = certstore.EncodePKCS12(certPEM, keyPEM, password); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}
