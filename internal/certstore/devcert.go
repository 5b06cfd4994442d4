package certstore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"

	"go.uber.org/zap"
)

const (
	// DevelopmentSubject is the common name of the development certificate.
	DevelopmentSubject = "localhost"
	// DevelopmentValidity is the default lifetime of a generated development certificate.
	DevelopmentValidity = 365 * 24 * time.Hour
)

// Finder looks certificates up by subject.
type Finder interface {
	Find(q Query) (*tls.Certificate, error)
}

// GenerateDevelopmentCertificate creates a self-signed ECDSA P-256 server
// certificate for hosts. The first host becomes the common name; IP
// literals are added as IP SANs. It returns PEM-encoded certificate and key.
func GenerateDevelopmentCertificate(hosts []string, validFor time.Duration) (certPEM, keyPEM []byte, err error) {
	if len(hosts) == 0 {
		hosts = []string{DevelopmentSubject}
	}
	if validFor <= 0 {
		validFor = DevelopmentValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hosts[0]},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: certBlockType, Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

// DevelopmentProvider supplies the fallback HTTPS certificate: the
// localhost development certificate in the current user's personal store.
type DevelopmentProvider struct {
	store  Finder
	logger *zap.Logger
}

// NewDevelopmentProvider creates a provider backed by store.
func NewDevelopmentProvider(store Finder, logger *zap.Logger) *DevelopmentProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DevelopmentProvider{store: store, logger: logger}
}

// Certificate returns the development certificate, or nil when none is installed.
func (p *DevelopmentProvider) Certificate() *tls.Certificate {
	if p == nil || p.store == nil {
		return nil
	}
	cert, err := p.store.Find(Query{
		Subject:  "CN=" + DevelopmentSubject,
		Store:    DefaultStoreName,
		Location: CurrentUser,
	})
	switch {
	case errors.Is(err, ErrCertificateNotFound):
		p.logger.Debug("no development certificate installed")
		return nil
	case err != nil:
		p.logger.Warn("development certificate lookup failed", zap.Error(err))
		return nil
	}
	return cert
}
