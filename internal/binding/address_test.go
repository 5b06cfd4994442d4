package binding

import (
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in     string
		kind   TargetKind
		target string
		https  bool
	}{
		{in: "http://*:5001", kind: TargetAnyIP, target: "[::]:5001"},
		{in: "https://+:5002", kind: TargetAnyIP, target: "[::]:5002", https: true},
		{in: "http://example.com:8080", kind: TargetAnyIP, target: "[::]:8080"},
		{in: "http://localhost:5000", kind: TargetLocalhost, target: "localhost:5000"},
		{in: "HTTPS://LocalHost", kind: TargetLocalhost, target: "localhost:443", https: true},
		{in: "http://*", kind: TargetAnyIP, target: "[::]:80"},
		{in: "http://127.0.0.1:5003", kind: TargetIP, target: "127.0.0.1:5003"},
		{in: "http://[::1]:5004", kind: TargetIP, target: "[::1]:5004"},
		{in: "https://[::1]", kind: TargetIP, target: "[::1]:443", https: true},
		{in: "http://*:5005/", kind: TargetAnyIP, target: "[::]:5005"},
		{in: "http://unix:/run/app.sock", kind: TargetUnixSocket, target: "unix:/run/app.sock"},
		{in: "  http://*:0  ", kind: TargetAnyIP, target: "[::]:0"},
	}

	for _, tc := range cases {
		got, https, err := ParseAddress(tc.in)
		if err != nil {
			t.Fatalf("ParseAddress(%q) returned error: %v", tc.in, err)
		}
		if got.Kind != tc.kind || got.String() != tc.target || https != tc.https {
			t.Fatalf("ParseAddress(%q) = %s %s https=%v, want %s %s https=%v",
				tc.in, got.Kind, got, https, tc.kind, tc.target, tc.https)
		}
	}
}

func TestParseAddressErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"":                          ErrInvalidURL,
		"*:5001":                    ErrInvalidURL,
		"ftp://*:21":                ErrUnsupportedScheme,
		"http://":                   ErrInvalidURL,
		"http://*:http":             ErrInvalidURL,
		"http://*:70000":            ErrInvalidURL,
		"http://*:+5000":            ErrInvalidURL,
		"http://*:-1":               ErrInvalidURL,
		"http://localhost:":         ErrInvalidURL,
		"https://[::1]:":            ErrInvalidURL,
		"http://*:5001/api":         ErrInvalidURL,
		"http://localhost:0":        ErrInvalidURL,
		"http://unix:relative.sock": ErrInvalidURL,
	}
	for in, want := range cases {
		if _, _, err := ParseAddress(in); !errors.Is(err, want) {
			t.Fatalf("ParseAddress(%q): expected %v, got %v", in, want, err)
		}
	}

	if _, _, err := ParseAddress("http://unix:relative.sock"); !errors.Is(err, ErrSocketPathNotAbsolute) {
		t.Fatalf("expected ErrSocketPathNotAbsolute in chain, got %v", err)
	}
}
