package certstore

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"software.sslmate.com/src/go-pkcs12"
)

const (
	certBlockType = "CERTIFICATE"
	keyFilePerms  = 0o600
	dirPerms      = 0o700
)

// ParseKeyPair builds a certificate from PEM data. keyPEM may be nil when
// certPEM is a bundle that also holds the private key.
func ParseKeyPair(certPEM, keyPEM []byte) (*tls.Certificate, error) {
	if keyPEM == nil {
		keyPEM = certPEM
	}
	if !hasPrivateKeyBlock(keyPEM) {
		return nil, ErrNoPrivateKey
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse key pair: %w", err)
	}
	if pair.Leaf == nil {
		leaf, err := x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("parse leaf certificate: %w", err)
		}
		pair.Leaf = leaf
	}
	return &pair, nil
}

// LoadKeyPairFile reads a PEM certificate from certPath and its key from
// keyPath, or from certPath itself when keyPath is empty.
func LoadKeyPairFile(certPath, keyPath string) (*tls.Certificate, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	var keyPEM []byte
	if keyPath != "" {
		if keyPEM, err = os.ReadFile(keyPath); err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
	}
	return ParseKeyPair(certPEM, keyPEM)
}

// DecodePKCS12 decodes a password-protected PKCS#12 archive in either the
// legacy (RC2/3DES) or the modern (AES-256/SHA-256) encryption. The
// certificate matching the private key becomes the leaf; the rest follow
// as the chain.
func DecodePKCS12(data []byte, password string) (*tls.Certificate, error) {
	key, leaf, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode PKCS#12: %w", err)
	}
	if key == nil {
		return nil, ErrNoPrivateKey
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("decode PKCS#12: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	certs := make([]*x509.Certificate, 0, len(chain)+1)
	if leaf != nil {
		certs = append(certs, leaf)
	}
	certs = append(certs, chain...)
	if len(certs) == 0 {
		return nil, fmt.Errorf("decode PKCS#12: no certificates")
	}

	for i := range certs {
		ordered := pem.EncodeToMemory(&pem.Block{Type: certBlockType, Bytes: certs[i].Raw})
		for j, c := range certs {
			if j != i {
				ordered = append(ordered, pem.EncodeToMemory(&pem.Block{Type: certBlockType, Bytes: c.Raw})...)
			}
		}
		if pair, err := ParseKeyPair(ordered, keyPEM); err == nil {
			return pair, nil
		}
	}
	return nil, fmt.Errorf("decode PKCS#12: no certificate matches the private key")
}

// EncodePKCS12 packs a PEM certificate chain and key into a PKCS#12
// archive using the modern AES-256/SHA-256 encryption.
func EncodePKCS12(certPEM, keyPEM []byte, password string) ([]byte, error) {
	pair, err := ParseKeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	var chain []*x509.Certificate
	for _, der := range pair.Certificate[1:] {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("encode PKCS#12: %w", err)
		}
		chain = append(chain, c)
	}
	data, err := pkcs12.Modern.Encode(pair.PrivateKey, pair.Leaf, chain, password)
	if err != nil {
		return nil, fmt.Errorf("encode PKCS#12: %w", err)
	}
	return data, nil
}

// EncodeBundle concatenates PEM-encoded certificate DER blocks followed by
// the already PEM-encoded key.
func EncodeBundle(chain [][]byte, keyPEM []byte) []byte {
	var out []byte
	for _, der := range chain {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: certBlockType, Bytes: der})...)
	}
	return append(out, keyPEM...)
}

func hasPrivateKeyBlock(data []byte) bool {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return false
		}
		if strings.HasSuffix(block.Type, "PRIVATE KEY") {
			return true
		}
	}
}

// writeFileAtomic writes data to a temporary file then renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}
