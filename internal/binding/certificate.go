package binding

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eugenenazirov/serverbind/internal/certstore"
	"github.com/eugenenazirov/serverbind/internal/configtree"
)

// CertificateConfig is a certificate declaration. File certificates set
// Path (and Password for PKCS#12, or KeyPath for a separate PEM key);
// store certificates set Subject with optional Store, Location and
// AllowInvalid.
type CertificateConfig struct {
	section *configtree.Section
}

// NewCertificateConfig wraps a certificate section. A nil section is empty.
func NewCertificateConfig(section *configtree.Section) CertificateConfig {
	if section == nil {
		section = configtree.Empty()
	}
	return CertificateConfig{section: section}
}

func (c CertificateConfig) get(key string) string {
	if c.section == nil {
		return ""
	}
	return c.section.Get(key)
}

// Section returns the underlying configuration section.
func (c CertificateConfig) Section() *configtree.Section { return c.section }

// Name returns the section key the certificate was declared under.
func (c CertificateConfig) Name() string { return c.section.Key() }

// Exists reports whether the declaration has any fields at all.
func (c CertificateConfig) Exists() bool { return c.section.Len() > 0 }

func (c CertificateConfig) Path() string     { return c.get("Path") }
func (c CertificateConfig) KeyPath() string  { return c.get("KeyPath") }
func (c CertificateConfig) Password() string { return c.get("Password") }
func (c CertificateConfig) Subject() string  { return c.get("Subject") }
func (c CertificateConfig) Store() string    { return c.get("Store") }
func (c CertificateConfig) Location() string { return c.get("Location") }

// AllowInvalid returns the tri-state AllowInvalid flag.
func (c CertificateConfig) AllowInvalid() (*bool, error) {
	if c.section == nil {
		return nil, nil
	}
	return c.section.Bool("AllowInvalid")
}

// IsFileCert reports whether the declaration names a certificate file.
func (c CertificateConfig) IsFileCert() bool { return c.Path() != "" }

// IsStoreCert reports whether the declaration names a store subject.
func (c CertificateConfig) IsStoreCert() bool { return c.Subject() != "" }

// CertificateLoader resolves certificate declarations into certificates.
type CertificateLoader struct {
	contentRoot string
	store       CertificateStore
}

// NewCertificateLoader creates a loader resolving relative paths against
// contentRoot and subjects against store, which may be nil.
func NewCertificateLoader(contentRoot string, store CertificateStore) *CertificateLoader {
	return &CertificateLoader{contentRoot: contentRoot, store: store}
}

// Load returns the certificate declared by cfg, or nil when cfg declares
// neither a file nor a store certificate. endpointName is used in errors.
func (l *CertificateLoader) Load(cfg CertificateConfig, endpointName string) (*tls.Certificate, error) {
	switch {
	case cfg.IsFileCert() && cfg.IsStoreCert():
		return nil, fmt.Errorf("%w: endpoint %q sets both Path and Subject", ErrMultipleCertificateSources, endpointName)
	case cfg.IsFileCert():
		return l.loadFile(cfg, endpointName)
	case cfg.IsStoreCert():
		return l.loadFromStore(cfg, endpointName)
	default:
		return nil, nil
	}
}

func (l *CertificateLoader) loadFile(cfg CertificateConfig, endpointName string) (*tls.Certificate, error) {
	path := l.resolve(cfg.Path())

	var (
		cert *tls.Certificate
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pfx", ".p12":
		var data []byte
		if data, err = os.ReadFile(path); err == nil {
			cert, err = certstore.DecodePKCS12(data, cfg.Password())
		}
	default:
		keyPath := cfg.KeyPath()
		if keyPath != "" {
			keyPath = l.resolve(keyPath)
		}
		cert, err = certstore.LoadKeyPairFile(path, keyPath)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: endpoint %q from %s: %w", ErrCertificateLoad, endpointName, path, err)
	}
	return cert, nil
}

func (l *CertificateLoader) loadFromStore(cfg CertificateConfig, endpointName string) (*tls.Certificate, error) {
	location, err := certstore.ParseStoreLocation(cfg.Location())
	if err != nil {
		return nil, fmt.Errorf("endpoint %q: %w", endpointName, err)
	}
	allowInvalid, err := cfg.AllowInvalid()
	if err != nil {
		return nil, fmt.Errorf("%w: endpoint %q: %w", ErrInvalidArgument, endpointName, err)
	}
	if l.store == nil {
		return nil, fmt.Errorf("%w: endpoint %q requests subject %q", ErrNoCertificateStore, endpointName, cfg.Subject())
	}

	cert, err := l.store.Find(certstore.Query{
		Subject:      cfg.Subject(),
		Store:        cfg.Store(),
		Location:     location,
		AllowInvalid: allowInvalid != nil && *allowInvalid,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: endpoint %q: %w", ErrCertificateLoad, endpointName, err)
	}
	return cert, nil
}

func (l *CertificateLoader) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.contentRoot, path)
}
