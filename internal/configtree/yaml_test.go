package configtree

import (
	"slices"
	"testing"
)

func TestFromYAML(t *testing.T) {
	t.Parallel()

	doc := []byte(`
Endpoints:
  Second:
    Url: http://*:5002
  First:
    Url: https://localhost:5001
    Certificate:
      Subject: localhost
      AllowInvalid: true
Certificates:
  Default:
    Path: certs/default.pem
    Password: ~
Hosts:
  - a.example
  - b.example
`)

	tree, err := FromYAML(doc)
	if err != nil {
		t.Fatalf("FromYAML returned error: %v", err)
	}

	if got := childKeys(tree.Section("Endpoints")); !slices.Equal(got, []string{"Second", "First"}) {
		t.Fatalf("unexpected endpoint order %v", got)
	}
	if got := tree.Get("Endpoints:First:Certificate:Subject"); got != "localhost" {
		t.Fatalf("unexpected subject %q", got)
	}
	if v, err := tree.Bool("Endpoints:First:Certificate:AllowInvalid"); err != nil || v == nil || !*v {
		t.Fatalf("expected AllowInvalid=true, got %v %v", v, err)
	}
	if tree.Section("Certificates:Default:Password").HasValue() {
		t.Fatalf("expected null scalar to carry no value")
	}
	if got := tree.Get("Hosts:1"); got != "b.example" {
		t.Fatalf("expected sequence index lookup, got %q", got)
	}
}

func TestFromYAMLAliases(t *testing.T) {
	t.Parallel()

	doc := []byte(`
base: &cert
  Path: shared.pem
Certificates:
  Default: *cert
  Other:
    <<: *cert
    Password: secret
`)

	tree, err := FromYAML(doc)
	if err != nil {
		t.Fatalf("FromYAML returned error: %v", err)
	}
	if got := tree.Get("Certificates:Default:Path"); got != "shared.pem" {
		t.Fatalf("unexpected aliased path %q", got)
	}
	if got := tree.Get("Certificates:Other:Path"); got != "shared.pem" {
		t.Fatalf("unexpected merged path %q", got)
	}
	if got := tree.Get("Certificates:Other:Password"); got != "secret" {
		t.Fatalf("unexpected password %q", got)
	}
}

func TestFromYAMLInvalid(t *testing.T) {
	t.Parallel()

	if _, err := FromYAML([]byte("Endpoints: [unterminated")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFromNodeNil(t *testing.T) {
	t.Parallel()

	tree, err := FromNode(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Exists() {
		t.Fatalf("expected empty tree")
	}
}
