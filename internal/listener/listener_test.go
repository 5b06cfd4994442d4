package listener

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/serverbind/internal/binding"
	"github.com/eugenenazirov/serverbind/internal/certstore"
)

// endpoint registers one endpoint through ServerOptions and returns it.
func endpoint(t *testing.T, register func(*binding.ServerOptions) error) *binding.ListenOptions {
	t.Helper()

	o := binding.NewServerOptions()
	if err := register(o); err != nil {
		t.Fatalf("register endpoint: %v", err)
	}
	eps := o.Endpoints()
	if len(eps) != 1 {
		t.Fatalf("expected 1 endpoint, got %d", len(eps))
	}
	return eps[0]
}

func bind(t *testing.T, lo *binding.ListenOptions) []net.Listener {
	t.Helper()

	ls, err := Bind(context.Background(), lo, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	t.Cleanup(func() { _ = CloseAll(ls) })
	return ls
}

func echoOnce(t *testing.T, l net.Listener) {
	t.Helper()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(conn, io.LimitReader(conn, 4))
	}()
}

func roundTrip(t *testing.T, conn net.Conn) {
	t.Helper()
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("unexpected echo %q", buf)
	}
}

func TestBindIP(t *testing.T) {
	t.Parallel()

	lo := endpoint(t, func(o *binding.ServerOptions) error {
		return o.Listen(netip.MustParseAddrPort("127.0.0.1:0"), func(lo *binding.ListenOptions) {
			lo.NoDelay = false
		})
	})
	ls := bind(t, lo)
	if len(ls) != 1 {
		t.Fatalf("expected 1 listener, got %d", len(ls))
	}
	if _, ok := ls[0].(*noDelayListener); !ok {
		t.Fatalf("expected TCP listener to apply NoDelay, got %T", ls[0])
	}

	echoOnce(t, ls[0])
	conn, err := net.Dial("tcp", ls[0].Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	roundTrip(t, conn)
}

func TestBindAnyIP(t *testing.T) {
	t.Parallel()

	lo := endpoint(t, func(o *binding.ServerOptions) error { return o.ListenAnyIP(0, nil) })
	ls := bind(t, lo)
	if len(ls) != 1 {
		t.Fatalf("expected 1 listener, got %d", len(ls))
	}

	port := ls[0].Addr().(*net.TCPAddr).Port
	echoOnce(t, ls[0])
	conn, err := net.Dial("tcp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	roundTrip(t, conn)
}

func TestBindLocalhost(t *testing.T) {
	t.Parallel()

	reserved, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserved: %v", err)
	}
	port := reserved.Addr().(*net.TCPAddr).Port
	_ = reserved.Close()

	lo := endpoint(t, func(o *binding.ServerOptions) error { return o.ListenLocalhost(port, nil) })
	ls := bind(t, lo)
	if len(ls) == 0 || len(ls) > 2 {
		t.Fatalf("expected 1 or 2 listeners, got %d", len(ls))
	}
	for _, addr := range Addresses(ls) {
		ap := netip.MustParseAddrPort(addr)
		if !ap.Addr().IsLoopback() || int(ap.Port()) != port {
			t.Fatalf("unexpected loopback address %s", addr)
		}
	}
}

func TestBindUnixSocketRemovesStaleSocket(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "app.sock")
	stale, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	_ = stale.Close()
	if _, err := os.Lstat(path); err != nil {
		t.Fatalf("expected stale socket file: %v", err)
	}

	lo := endpoint(t, func(o *binding.ServerOptions) error { return o.ListenUnixSocket(path, nil) })
	ls := bind(t, lo)
	if got := Addresses(ls); len(got) != 1 || got[0] != "unix:"+path {
		t.Fatalf("unexpected addresses %v", got)
	}

	echoOnce(t, ls[0])
	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	roundTrip(t, conn)
}

func TestBindUnixSocketRefusesRegularFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "app.sock")
	if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
		t.Fatal(err)
	}

	lo := endpoint(t, func(o *binding.ServerOptions) error { return o.ListenUnixSocket(path, nil) })
	if _, err := Bind(context.Background(), lo, nil); err == nil || !strings.Contains(err.Error(), "not a socket") {
		t.Fatalf("expected a not-a-socket error, got %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "data" {
		t.Fatalf("expected the regular file to be left alone")
	}
}

func TestBindHandle(t *testing.T) {
	t.Parallel()

	inherited, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer inherited.Close()
	f, err := inherited.(*net.TCPListener).File()
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	defer f.Close()

	// Bind takes ownership of the descriptor it is given.
	fd, err := syscall.Dup(int(f.Fd()))
	if err != nil {
		t.Fatalf("dup: %v", err)
	}

	lo := endpoint(t, func(o *binding.ServerOptions) error { return o.ListenHandle(uint64(fd), nil) })
	ls := bind(t, lo)
	if ls[0].Addr().String() != inherited.Addr().String() {
		t.Fatalf("expected the inherited address %s, got %s", inherited.Addr(), ls[0].Addr())
	}
}

func TestBindHTTPS(t *testing.T) {
	t.Parallel()

	certPEM, keyPEM, err := certstore.GenerateDevelopmentCertificate([]string{"127.0.0.1"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateDevelopmentCertificate: %v", err)
	}
	cert, err := certstore.ParseKeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("ParseKeyPair: %v", err)
	}

	lo := endpoint(t, func(o *binding.ServerOptions) error {
		return o.Listen(netip.MustParseAddrPort("127.0.0.1:0"), func(lo *binding.ListenOptions) {
			lo.Protocols = binding.HTTP1
			_ = lo.UseHTTPSCertificate(cert)
		})
	})
	ls := bind(t, lo)

	echoOnce(t, ls[0])
	conn, err := tls.Dial("tcp", ls[0].Addr().String(), &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"http/1.1"},
	})
	if err != nil {
		t.Fatalf("tls dial: %v", err)
	}
	if got := conn.ConnectionState().NegotiatedProtocol; got != "http/1.1" {
		t.Fatalf("unexpected ALPN protocol %q", got)
	}
	roundTrip(t, conn)
}

func TestBindFailsOnBusyPort(t *testing.T) {
	t.Parallel()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	lo := endpoint(t, func(o *binding.ServerOptions) error {
		return o.Listen(netip.MustParseAddrPort(busy.Addr().String()), nil)
	})
	if _, err := Bind(context.Background(), lo, nil); err == nil {
		t.Fatalf("expected bind on a busy port to fail")
	}
}
