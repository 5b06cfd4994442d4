package application

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/netip"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/serverbind/internal/api"
	"github.com/eugenenazirov/serverbind/internal/binding"
	"github.com/eugenenazirov/serverbind/internal/certstore"
	"github.com/eugenenazirov/serverbind/internal/config"
	"github.com/eugenenazirov/serverbind/internal/configtree"
	"github.com/eugenenazirov/serverbind/internal/storage"
)

func baseTestConfig(t *testing.T, pairs ...configtree.Pair) config.Config {
	t.Helper()
	return config.Config{
		ContentRoot:          t.TempDir(),
		StoreRoot:            t.TempDir(),
		LogLevel:             "debug",
		ShutdownGracePeriod:  50 * time.Millisecond,
		ReadHeaderTimeout:    time.Second,
		WriteTimeout:         time.Second,
		IdleTimeout:          time.Second,
		EnableRequestLogging: false,
		RateLimitRPS:         0,
		RateLimitBurst:       0,
		EndpointDefaults:     config.EndpointDefaults{NoDelay: true},
		HTTPSDefaults:        config.HTTPSDefaults{MinVersion: tls.VersionTLS12},
		Server:               configtree.FromPairs(pairs...),
	}
}

func installDevCert(t *testing.T, storeRoot string) {
	t.Helper()

	certPEM, keyPEM, err := certstore.GenerateDevelopmentCertificate([]string{certstore.DevelopmentSubject, "127.0.0.1"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateDevelopmentCertificate: %v", err)
	}
	if _, err := certstore.NewDirStoreAt(storeRoot).Add(certstore.DefaultStoreName, certstore.CurrentUser, "devcert", certPEM, keyPEM); err != nil {
		t.Fatalf("Add: %v", err)
	}
}

func startApp(t *testing.T, app *App) {
	t.Helper()

	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := app.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		if err := app.Wait(); err != nil {
			t.Errorf("Wait: %v", err)
		}
	})
}

func TestNewResolvesEndpoints(t *testing.T) {
	cfg := baseTestConfig(t,
		configtree.Pair{Key: "Endpoints:Api:Url", Value: "http://127.0.0.1:0"},
	)
	cfg.UnixSockets = []string{"/tmp/serverbind-test.sock"}

	app, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if app.router == nil || app.handler == nil {
		t.Fatalf("expected router and handler to be initialized")
	}

	snapshot, err := app.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 endpoints, got %+v", snapshot)
	}
	if snapshot[0].Name != "Api" || snapshot[0].Address != "127.0.0.1:0" || snapshot[0].HTTPS {
		t.Fatalf("unexpected first endpoint %+v", snapshot[0])
	}
	if snapshot[1].Kind != "unix" || snapshot[1].Address != "unix:/tmp/serverbind-test.sock" {
		t.Fatalf("unexpected second endpoint %+v", snapshot[1])
	}
	if len(snapshot[0].Listeners) != 0 {
		t.Fatalf("expected no listeners before Start")
	}
}

func TestNewDefaultsToLocalhost(t *testing.T) {
	app, err := New(baseTestConfig(t), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	eps := app.Endpoints()
	if len(eps) != 1 || eps[0].Target.String() != "localhost:5000" {
		t.Fatalf("expected the default localhost endpoint, got %v", eps)
	}
}

func TestNewAppliesConfiguredDefaults(t *testing.T) {
	cfg := baseTestConfig(t,
		configtree.Pair{Key: "Endpoints:Secure:Url", Value: "https://127.0.0.1:0"},
	)
	cfg.EndpointDefaults.NoDelay = false
	cfg.HTTPSDefaults.MinVersion = tls.VersionTLS13
	installDevCert(t, cfg.StoreRoot)

	app, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	lo := app.Endpoints()[0]
	if lo.NoDelay {
		t.Fatalf("expected NoDelay=false from endpoint defaults")
	}
	if !lo.IsHTTPS() || lo.HTTPS().MinVersion != tls.VersionTLS13 {
		t.Fatalf("expected https with TLS 1.3 minimum")
	}

	snapshot, _ := app.Snapshot()
	if snapshot[0].CertificateSubject != "CN=localhost" || snapshot[0].CertificateNotAfter == nil {
		t.Fatalf("expected the development certificate, got %+v", snapshot[0])
	}
}

func TestNewFailsWithoutCertificate(t *testing.T) {
	cfg := baseTestConfig(t,
		configtree.Pair{Key: "Endpoints:Secure:Url", Value: "https://127.0.0.1:0"},
	)

	if _, err := New(cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected an error for https without any certificate")
	}
}

func TestStartServesAPI(t *testing.T) {
	cfg := baseTestConfig(t,
		configtree.Pair{Key: "Endpoints:Api:Url", Value: "http://127.0.0.1:0"},
	)
	app, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	startApp(t, app)

	if err := app.Start(context.Background()); err == nil {
		t.Fatalf("expected a second Start to fail")
	}

	snapshot, _ := app.Snapshot()
	if len(snapshot) != 1 || len(snapshot[0].Listeners) != 1 {
		t.Fatalf("expected one bound listener, got %+v", snapshot)
	}

	resp, err := http.Get("http://" + snapshot[0].Listeners[0] + "/api/endpoints")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get(api.EndpointHeader); got != "Api" {
		t.Fatalf("expected the response to name endpoint Api, got %q", got)
	}

	var body struct {
		Endpoints []storage.EndpointInfo `json:"endpoints"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Endpoints) != 1 || body.Endpoints[0].Listeners[0] != snapshot[0].Listeners[0] {
		t.Fatalf("unexpected API response %+v", body)
	}
}

func TestStartServesHTTPS(t *testing.T) {
	cfg := baseTestConfig(t,
		configtree.Pair{Key: "Endpoints:Secure:Url", Value: "https://127.0.0.1:0"},
	)
	installDevCert(t, cfg.StoreRoot)

	app, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	startApp(t, app)

	snapshot, _ := app.Snapshot()
	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	resp, err := client.Get("https://" + snapshot[0].Listeners[0] + "/api/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.TLS == nil || resp.TLS.PeerCertificates[0].Subject.CommonName != certstore.DevelopmentSubject {
		t.Fatalf("expected the development certificate on the wire")
	}
}

func TestNewServerAppliesConfig(t *testing.T) {
	cfg := baseTestConfig(t)
	handler := http.NewServeMux()
	opts := binding.NewServerOptions()
	if err := opts.Listen(netip.MustParseAddrPort("127.0.0.1:5000"), func(l *binding.ListenOptions) { l.Name = "Api" }); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	server := NewServer(cfg, opts.Endpoints()[0], handler, zaptest.NewLogger(t))
	if server.Handler != handler {
		t.Fatalf("expected handler to be applied")
	}
	if server.ReadHeaderTimeout != cfg.ReadHeaderTimeout ||
		server.WriteTimeout != cfg.WriteTimeout ||
		server.IdleTimeout != cfg.IdleTimeout {
		t.Fatalf("server timeouts do not match configuration")
	}

	ep, ok := api.EndpointFromContext(server.ConnContext(context.Background(), nil))
	if !ok || ep.Name != "Api" || ep.Address != "127.0.0.1:5000" || ep.HTTPS {
		t.Fatalf("expected connections tagged with the endpoint, got %+v", ep)
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if root, ok := store.Root(certstore.LocalMachine); !ok || root == "" {
		t.Fatalf("expected a LocalMachine root under %s", dir)
	}
}
