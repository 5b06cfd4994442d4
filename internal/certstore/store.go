package certstore

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultStoreName is the store searched when a query names none.
const DefaultStoreName = "My"

// On-disk layout, one root per location:
//
//   <root>/
//     <StoreName>/
//       <name>.pem   (0600, certificate chain followed by its private key)

// Query describes a store lookup by subject.
type Query struct {
	Subject      string
	Store        string
	Location     StoreLocation
	AllowInvalid bool
}

// DirStore is a certificate store backed by one directory per location.
type DirStore struct {
	roots map[StoreLocation]string
	now   func() time.Time
}

// NewDirStore creates a store with explicit roots per location.
func NewDirStore(roots map[StoreLocation]string) *DirStore {
	cp := make(map[StoreLocation]string, len(roots))
	for loc, dir := range roots {
		cp[loc] = dir
	}
	return &DirStore{roots: cp, now: time.Now}
}

// NewDirStoreAt lays both locations out under a single directory.
func NewDirStoreAt(dir string) *DirStore {
	return NewDirStore(map[StoreLocation]string{
		CurrentUser:  filepath.Join(dir, "currentuser"),
		LocalMachine: filepath.Join(dir, "localmachine"),
	})
}

// DefaultRoots returns the conventional per-user and machine-wide store
// directories for the named application.
func DefaultRoots(app string) (map[StoreLocation]string, error) {
	userDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user config directory: %w", err)
	}
	return map[StoreLocation]string{
		CurrentUser:  filepath.Join(userDir, app, "certs"),
		LocalMachine: filepath.Join("/etc", app, "certs"),
	}, nil
}

// Root returns the directory backing a location.
func (s *DirStore) Root(loc StoreLocation) (string, bool) {
	dir, ok := s.roots[loc]
	return dir, ok
}

// Find returns the certificate whose subject contains q.Subject
// (case-insensitive). Unless q.AllowInvalid is set, certificates outside
// their validity window or not usable for server authentication are
// skipped. Among matches the one expiring last wins.
//
// A lookup with no match returns ErrCertificateNotFound, or nil without
// error when q.AllowInvalid is set.
func (s *DirStore) Find(q Query) (*tls.Certificate, error) {
	if strings.TrimSpace(q.Subject) == "" {
		return nil, fmt.Errorf("store lookup: subject is required")
	}
	dir, err := s.storeDir(q.Store, q.Location)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read store %s: %w", dir, err)
	}

	needle := strings.ToLower(q.Subject)
	now := s.now()
	var best *tls.Certificate
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pem") {
			continue
		}
		cert, err := LoadKeyPairFile(filepath.Join(dir, entry.Name()), "")
		if err != nil {
			continue
		}
		if !strings.Contains(strings.ToLower(cert.Leaf.Subject.String()), needle) {
			continue
		}
		if !q.AllowInvalid && !usableForServer(cert.Leaf, now) {
			continue
		}
		if best == nil || cert.Leaf.NotAfter.After(best.Leaf.NotAfter) {
			best = cert
		}
	}

	if best == nil && !q.AllowInvalid {
		return nil, fmt.Errorf("%w: subject %q in %s/%s", ErrCertificateNotFound, q.Subject, q.Location, storeName(q.Store))
	}
	return best, nil
}

// Add writes a certificate bundle into the named store and returns its path.
func (s *DirStore) Add(store string, loc StoreLocation, name string, certPEM, keyPEM []byte) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid certificate name %q", name)
	}
	if _, err := ParseKeyPair(certPEM, keyPEM); err != nil {
		return "", err
	}
	dir, err := s.storeDir(store, loc)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+".pem")
	data := append(append([]byte{}, certPEM...), keyPEM...)
	if err := writeFileAtomic(path, data, keyFilePerms); err != nil {
		return "", fmt.Errorf("add certificate %s: %w", name, err)
	}
	return path, nil
}

func (s *DirStore) storeDir(store string, loc StoreLocation) (string, error) {
	root, ok := s.roots[loc]
	if !ok || root == "" {
		return "", fmt.Errorf("%w: %s is not configured", ErrInvalidStoreLocation, loc)
	}
	name := storeName(store)
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid store name %q", store)
	}
	return filepath.Join(root, name), nil
}

func storeName(store string) string {
	if strings.TrimSpace(store) == "" {
		return DefaultStoreName
	}
	return store
}

func usableForServer(leaf *x509.Certificate, now time.Time) bool {
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return false
	}
	if len(leaf.ExtKeyUsage) == 0 {
		return true
	}
	for _, u := range leaf.ExtKeyUsage {
		if u == x509.ExtKeyUsageServerAuth || u == x509.ExtKeyUsageAny {
			return true
		}
	}
	return false
}
