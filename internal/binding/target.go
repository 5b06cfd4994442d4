package binding

import (
	"fmt"
	"net/netip"
	"strconv"
)

// TargetKind identifies what an endpoint binds to.
type TargetKind int

const (
	// TargetIP binds a specific IP address and port.
	TargetIP TargetKind = iota
	// TargetLocalhost binds the loopback interfaces (127.0.0.1 and ::1).
	TargetLocalhost
	// TargetAnyIP binds every interface, IPv6 when available.
	TargetAnyIP
	// TargetUnixSocket binds a unix domain socket path.
	TargetUnixSocket
	// TargetHandle adopts an already open socket file descriptor.
	TargetHandle
)

func (k TargetKind) String() string {
	switch k {
	case TargetIP:
		return "ip"
	case TargetLocalhost:
		return "localhost"
	case TargetAnyIP:
		return "any"
	case TargetUnixSocket:
		return "unix"
	case TargetHandle:
		return "handle"
	default:
		return "TargetKind(" + strconv.Itoa(int(k)) + ")"
	}
}

var loopbackV4 = netip.AddrFrom4([4]byte{127, 0, 0, 1})

// ListenTarget is the concrete thing an endpoint binds to.
type ListenTarget struct {
	Kind       TargetKind
	Addr       netip.AddrPort
	SocketPath string
	Handle     uint64
}

// IPTarget binds addr exactly.
func IPTarget(addr netip.AddrPort) (ListenTarget, error) {
	if !addr.Addr().IsValid() {
		return ListenTarget{}, fmt.Errorf("%w: address is required", ErrInvalidArgument)
	}
	return ListenTarget{Kind: TargetIP, Addr: netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())}, nil
}

// LocalhostTarget binds the loopback interfaces on port. A dynamic port
// (0) is not supported because both interfaces must share the port.
func LocalhostTarget(port int) (ListenTarget, error) {
	if port <= 0 || port > 65535 {
		return ListenTarget{}, fmt.Errorf("%w: localhost port %d out of range [1, 65535]", ErrInvalidArgument, port)
	}
	return ListenTarget{Kind: TargetLocalhost, Addr: netip.AddrPortFrom(loopbackV4, uint16(port))}, nil
}

// AnyIPTarget binds all interfaces on port.
func AnyIPTarget(port int) (ListenTarget, error) {
	if port < 0 || port > 65535 {
		return ListenTarget{}, fmt.Errorf("%w: port %d out of range [0, 65535]", ErrInvalidArgument, port)
	}
	return ListenTarget{Kind: TargetAnyIP, Addr: netip.AddrPortFrom(netip.IPv6Unspecified(), uint16(port))}, nil
}

// UnixSocketTarget binds the unix domain socket at path.
func UnixSocketTarget(path string) (ListenTarget, error) {
	if path == "" {
		return ListenTarget{}, fmt.Errorf("%w: socket path is required", ErrInvalidArgument)
	}
	if path[0] != '/' {
		return ListenTarget{}, fmt.Errorf("%w: %q", ErrSocketPathNotAbsolute, path)
	}
	return ListenTarget{Kind: TargetUnixSocket, SocketPath: path}, nil
}

// HandleTarget adopts the socket file descriptor fd.
func HandleTarget(fd uint64) ListenTarget {
	return ListenTarget{Kind: TargetHandle, Handle: fd}
}

// Port returns the TCP port, or 0 for socket and handle targets.
func (t ListenTarget) Port() int {
	switch t.Kind {
	case TargetIP, TargetLocalhost, TargetAnyIP:
		return int(t.Addr.Port())
	default:
		return 0
	}
}

func (t ListenTarget) String() string {
	switch t.Kind {
	case TargetLocalhost:
		return "localhost:" + strconv.Itoa(t.Port())
	case TargetUnixSocket:
		return "unix:" + t.SocketPath
	case TargetHandle:
		return "fd:" + strconv.FormatUint(t.Handle, 10)
	default:
		return t.Addr.String()
	}
}
