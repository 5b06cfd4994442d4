package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/netip"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/eugenenazirov/serverbind/internal/binding"
)

// ErrUnsupportedTarget is returned for a target kind Bind does not know.
var ErrUnsupportedTarget = errors.New("unsupported listen target")

// Bind opens every socket an endpoint needs. Localhost endpoints get one
// listener per loopback family; every other kind gets exactly one. HTTPS
// endpoints are wrapped in TLS. On error nothing is left open.
func Bind(ctx context.Context, lo *binding.ListenOptions, logger *zap.Logger) ([]net.Listener, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	raw, err := bindTarget(ctx, lo.Target, logger)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", lo, err)
	}

	var tlsConfig *tls.Config
	if lo.IsHTTPS() {
		tlsConfig = lo.TLSConfig()
	}

	out := make([]net.Listener, len(raw))
	for i, l := range raw {
		if _, ok := l.(*net.TCPListener); ok {
			l = &noDelayListener{Listener: l, noDelay: lo.NoDelay}
		}
		if tlsConfig != nil {
			l = tls.NewListener(l, tlsConfig)
		}
		out[i] = l
	}
	return out, nil
}

func bindTarget(ctx context.Context, target binding.ListenTarget, logger *zap.Logger) ([]net.Listener, error) {
	var lc net.ListenConfig

	switch target.Kind {
	case binding.TargetIP:
		l, err := lc.Listen(ctx, "tcp", target.Addr.String())
		if err != nil {
			return nil, err
		}
		return []net.Listener{l}, nil

	case binding.TargetLocalhost:
		port := strconv.Itoa(target.Port())
		v4, err := lc.Listen(ctx, "tcp4", net.JoinHostPort("127.0.0.1", port))
		if err != nil {
			return nil, err
		}
		v6, err := lc.Listen(ctx, "tcp6", net.JoinHostPort("::1", port))
		if err != nil {
			logger.Debug("IPv6 loopback unavailable, serving IPv4 only",
				zap.String("port", port), zap.Error(err))
			return []net.Listener{v4}, nil
		}
		return []net.Listener{v4, v6}, nil

	case binding.TargetAnyIP:
		port := strconv.Itoa(target.Port())
		l, err := lc.Listen(ctx, "tcp", net.JoinHostPort("::", port))
		if err == nil {
			return []net.Listener{l}, nil
		}
		logger.Debug("IPv6 any address unavailable, falling back to IPv4",
			zap.String("port", port), zap.Error(err))
		l, err = lc.Listen(ctx, "tcp4", net.JoinHostPort("0.0.0.0", port))
		if err != nil {
			return nil, err
		}
		return []net.Listener{l}, nil

	case binding.TargetUnixSocket:
		if err := removeStaleSocket(target.SocketPath, logger); err != nil {
			return nil, err
		}
		l, err := lc.Listen(ctx, "unix", target.SocketPath)
		if err != nil {
			return nil, err
		}
		return []net.Listener{l}, nil

	case binding.TargetHandle:
		f := os.NewFile(uintptr(target.Handle), target.String())
		if f == nil {
			return nil, fmt.Errorf("invalid file descriptor %d", target.Handle)
		}
		defer f.Close()
		l, err := net.FileListener(f)
		if err != nil {
			return nil, err
		}
		return []net.Listener{l}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTarget, target.Kind)
	}
}

// removeStaleSocket deletes a socket file left behind by a previous run.
// Anything other than a socket at path is left alone and reported.
func removeStaleSocket(path string, logger *zap.Logger) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	logger.Info("removed stale unix socket", zap.String("path", path))
	return nil
}

// noDelayListener applies the endpoint's NoDelay setting to accepted TCP connections.
type noDelayListener struct {
	net.Listener
	noDelay bool
}

func (l *noDelayListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(l.noDelay)
	}
	return conn, nil
}

// Addresses returns the bound address of each listener, for logs and the
// endpoint snapshot.
func Addresses(listeners []net.Listener) []string {
	out := make([]string, 0, len(listeners))
	for _, l := range listeners {
		addr := l.Addr()
		if ap, err := netip.ParseAddrPort(addr.String()); err == nil {
			out = append(out, ap.String())
			continue
		}
		out = append(out, addr.Network()+":"+addr.String())
	}
	return out
}

// CloseAll closes every listener and joins the errors.
func CloseAll(listeners []net.Listener) error {
	var errs []error
	for _, l := range listeners {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
