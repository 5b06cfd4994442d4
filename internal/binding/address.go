package binding

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// ParseAddress turns an endpoint Url such as "https://*:5001",
// "http://localhost:8080", "http://[::1]:80" or "http://unix:/run/app.sock"
// into a bind target, and reports whether the scheme is https.
//
// Host "localhost" binds loopback, an IP literal binds that address, and
// any other host ("*", "+", a hostname) binds every interface. A missing
// port defaults to 80 or 443.
func ParseAddress(address string) (ListenTarget, bool, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(address), "://")
	if !ok || scheme == "" {
		return ListenTarget{}, false, fmt.Errorf("%w: %q has no scheme", ErrInvalidURL, address)
	}

	var https bool
	switch strings.ToLower(scheme) {
	case "http":
	case "https":
		https = true
	default:
		return ListenTarget{}, false, fmt.Errorf("%w: %q in %q", ErrUnsupportedScheme, scheme, address)
	}

	if len(rest) > len("unix:") && strings.EqualFold(rest[:len("unix:")], "unix:") {
		target, err := UnixSocketTarget(rest[len("unix:"):])
		if err != nil {
			return ListenTarget{}, false, fmt.Errorf("%w: %q: %w", ErrInvalidURL, address, err)
		}
		return target, https, nil
	}

	hostport, pathBase, _ := strings.Cut(rest, "/")
	if pathBase != "" {
		return ListenTarget{}, false, fmt.Errorf("%w: %q: a path base is not supported", ErrInvalidURL, address)
	}

	host, port, err := splitHostPort(hostport, https)
	if err != nil {
		return ListenTarget{}, false, fmt.Errorf("%w: %q: %w", ErrInvalidURL, address, err)
	}

	if strings.EqualFold(host, "localhost") {
		target, err := LocalhostTarget(port)
		if err != nil {
			return ListenTarget{}, false, fmt.Errorf("%w: %q: %w", ErrInvalidURL, address, err)
		}
		return target, https, nil
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		target, err := IPTarget(netip.AddrPortFrom(ip, uint16(port)))
		return target, https, err
	}
	target, err := AnyIPTarget(port)
	return target, https, err
}

func splitHostPort(hostport string, https bool) (string, int, error) {
	if hostport == "" {
		return "", 0, fmt.Errorf("host is required")
	}

	defaultPort := 80
	if https {
		defaultPort = 443
	}

	var host, rawPort string
	switch {
	case strings.HasPrefix(hostport, "[") && strings.HasSuffix(hostport, "]"):
		host = hostport[1 : len(hostport)-1]
	case !strings.Contains(hostport, ":"):
		host = hostport
	default:
		var err error
		if host, rawPort, err = net.SplitHostPort(hostport); err != nil {
			return "", 0, err
		}
		if rawPort == "" {
			return "", 0, fmt.Errorf("port is required after ':'")
		}
	}
	if host == "" {
		return "", 0, fmt.Errorf("host is required")
	}
	if rawPort == "" {
		return host, defaultPort, nil
	}

	if strings.TrimLeft(rawPort, "0123456789") != "" {
		return "", 0, fmt.Errorf("invalid port %q", rawPort)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", rawPort)
	}
	return host, port, nil
}
