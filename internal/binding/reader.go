package binding

import (
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/eugenenazirov/serverbind/internal/configtree"
)

const (
	certificatesSection = "Certificates"
	endpointsSection    = "Endpoints"
	urlKey              = "Url"
	certificateKey      = "Certificate"

	// DefaultCertificateName is the reserved certificate name used as the
	// fallback for HTTPS endpoints without a certificate of their own.
	DefaultCertificateName = "Default"
)

// EndpointConfig is one child of the Endpoints section.
//
//	Endpoints:
//	  Public:
//	    Url: https://*:5001
//	    Certificate:
//	      Path: certs/public.pfx
//	      Password: secret
type EndpointConfig struct {
	Name          string
	URL           string
	ConfigSection *configtree.Section
	Certificate   CertificateConfig
}

// Reader extracts endpoint and certificate declarations from a
// configuration tree. Results are computed on first use and cached.
type Reader struct {
	certificates func() map[string]CertificateConfig
	endpoints    func() ([]EndpointConfig, error)
}

// NewReader creates a reader over tree. A nil tree reads as empty.
func NewReader(tree *configtree.Section) *Reader {
	if tree == nil {
		tree = configtree.Empty()
	}
	return &Reader{
		certificates: sync.OnceValue(func() map[string]CertificateConfig {
			return readCertificates(tree)
		}),
		endpoints: sync.OnceValues(func() ([]EndpointConfig, error) {
			return readEndpoints(tree)
		}),
	}
}

// Certificates returns a copy of the declared certificates keyed by name.
func (r *Reader) Certificates() map[string]CertificateConfig {
	return maps.Clone(r.certificates())
}

// Certificate finds a declared certificate by case-insensitive name.
func (r *Reader) Certificate(name string) (CertificateConfig, bool) {
	certs := r.certificates()
	if c, ok := certs[name]; ok {
		return c, true
	}
	for key, c := range certs {
		if strings.EqualFold(key, name) {
			return c, true
		}
	}
	return CertificateConfig{}, false
}

// Endpoints returns the declared endpoints in configuration order. An
// endpoint without a Url fails the whole read with ErrMissingURL.
func (r *Reader) Endpoints() ([]EndpointConfig, error) {
	return r.endpoints()
}

func readCertificates(tree *configtree.Section) map[string]CertificateConfig {
	children := tree.Section(certificatesSection).Children()
	certs := make(map[string]CertificateConfig, len(children))
	for _, c := range children {
		certs[c.Key()] = NewCertificateConfig(c)
	}
	return certs
}

func readEndpoints(tree *configtree.Section) ([]EndpointConfig, error) {
	children := tree.Section(endpointsSection).Children()
	endpoints := make([]EndpointConfig, 0, len(children))
	for _, c := range children {
		url := strings.TrimSpace(c.Get(urlKey))
		if url == "" {
			return nil, fmt.Errorf("%w: endpoint %q (%s)", ErrMissingURL, c.Key(), c.Path())
		}
		endpoints = append(endpoints, EndpointConfig{
			Name:          c.Key(),
			URL:           url,
			ConfigSection: c,
			Certificate:   NewCertificateConfig(c.Section(certificateKey)),
		})
	}
	return endpoints, nil
}
