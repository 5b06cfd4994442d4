package binding

import (
	"errors"
	"testing"

	"github.com/eugenenazirov/serverbind/internal/configtree"
)

const readerYAML = `
Certificates:
  Default:
    Path: certs/default.pem
  Api:
    Subject: api.internal
    Store: My
    Location: LocalMachine
    AllowInvalid: true
Endpoints:
  Public:
    Url: https://*:5001
    Certificate:
      Path: certs/public.pfx
      Password: secret
  Internal:
    Url: " http://localhost:5002 "
`

func TestReaderEndpoints(t *testing.T) {
	t.Parallel()

	tree, err := configtree.FromYAML([]byte(readerYAML))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	r := NewReader(tree)

	eps, err := r.Endpoints()
	if err != nil {
		t.Fatalf("Endpoints: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(eps))
	}

	public := eps[0]
	if public.Name != "Public" || public.URL != "https://*:5001" {
		t.Fatalf("unexpected endpoint %+v", public)
	}
	if !public.Certificate.IsFileCert() || public.Certificate.Password() != "secret" {
		t.Fatalf("unexpected certificate %q", public.Certificate.Section().Path())
	}
	if public.ConfigSection.Path() != "Endpoints:Public" {
		t.Fatalf("unexpected section path %q", public.ConfigSection.Path())
	}

	internal := eps[1]
	if internal.URL != "http://localhost:5002" {
		t.Fatalf("expected a trimmed Url, got %q", internal.URL)
	}
	if internal.Certificate.Exists() {
		t.Fatalf("expected no certificate for Internal")
	}
}

func TestReaderCertificates(t *testing.T) {
	t.Parallel()

	tree, err := configtree.FromYAML([]byte(readerYAML))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	r := NewReader(tree)

	if n := len(r.Certificates()); n != 2 {
		t.Fatalf("expected 2 certificates, got %d", n)
	}

	certs := r.Certificates()
	delete(certs, "Default")
	certs["Other"] = CertificateConfig{}
	if n := len(r.Certificates()); n != 2 {
		t.Fatalf("expected the reader to be unaffected by callers, got %d certificates", n)
	}

	def, ok := r.Certificate("default")
	if !ok || def.Name() != "Default" || def.Path() != "certs/default.pem" {
		t.Fatalf("unexpected default certificate %+v ok=%v", def, ok)
	}

	api, ok := r.Certificate("API")
	if !ok || !api.IsStoreCert() {
		t.Fatalf("expected a store certificate for Api")
	}
	allow, err := api.AllowInvalid()
	if err != nil || allow == nil || !*allow {
		t.Fatalf("unexpected AllowInvalid %v err=%v", allow, err)
	}
	if api.Location() != "LocalMachine" || api.Store() != "My" {
		t.Fatalf("unexpected store fields %q %q", api.Store(), api.Location())
	}

	if _, ok := r.Certificate("missing"); ok {
		t.Fatalf("expected no certificate named missing")
	}
}

func TestReaderMissingURL(t *testing.T) {
	t.Parallel()

	r := NewReader(configtree.FromPairs(
		configtree.Pair{Key: "Endpoints:Good:Url", Value: "http://*:5001"},
		configtree.Pair{Key: "Endpoints:Broken:Url", Value: "  "},
	))
	_, err := r.Endpoints()
	if !errors.Is(err, ErrMissingURL) {
		t.Fatalf("expected ErrMissingURL, got %v", err)
	}
	if _, again := r.Endpoints(); !errors.Is(again, ErrMissingURL) {
		t.Fatalf("expected the cached error, got %v", again)
	}
}

func TestReaderEmptyTree(t *testing.T) {
	t.Parallel()

	r := NewReader(nil)
	eps, err := r.Endpoints()
	if err != nil || len(eps) != 0 {
		t.Fatalf("expected no endpoints, got %v err=%v", eps, err)
	}
	if len(r.Certificates()) != 0 {
		t.Fatalf("expected no certificates")
	}
}
