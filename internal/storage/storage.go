package storage

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

var (
	// ErrInvalidEndpoint indicates an endpoint snapshot entry without an address.
	ErrInvalidEndpoint = errors.New("endpoint must have an address")
)

// EndpointInfo describes one resolved endpoint as it was bound.
type EndpointInfo struct {
	Name                  string     `json:"name,omitempty"`
	Kind                  string     `json:"kind"`
	Address               string     `json:"address"`
	HTTPS                 bool       `json:"https"`
	Protocols             string     `json:"protocols"`
	NoDelay               bool       `json:"noDelay"`
	ClientCertificateMode string     `json:"clientCertificateMode,omitempty"`
	CertificateSubject    string     `json:"certificateSubject,omitempty"`
	CertificateNotAfter   *time.Time `json:"certificateNotAfter,omitempty"`
	Listeners             []string   `json:"listeners,omitempty"`
}

// Storage provides access to the snapshot of resolved endpoints.
type Storage interface {
	GetEndpoints() ([]EndpointInfo, error)
	SetEndpoints(endpoints []EndpointInfo) error
}

// MemoryStorage keeps the endpoint snapshot in-memory and guards access with a RWMutex.
type MemoryStorage struct {
	mu        sync.RWMutex
	endpoints []EndpointInfo
}

// NewMemoryStorage initialises an empty snapshot.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{endpoints: []EndpointInfo{}}
}

// GetEndpoints returns a defensive copy of the snapshot in bind order.
func (s *MemoryStorage) GetEndpoints() ([]EndpointInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneEndpoints(s.endpoints), nil
}

// SetEndpoints validates and replaces the snapshot.
func (s *MemoryStorage) SetEndpoints(endpoints []EndpointInfo) error {
	for i, ep := range endpoints {
		if ep.Address == "" {
			return fmt.Errorf("%w: entry %d (%q)", ErrInvalidEndpoint, i, ep.Name)
		}
	}
	cp := cloneEndpoints(endpoints)

	s.mu.Lock()
	s.endpoints = cp
	s.mu.Unlock()

	return nil
}

func cloneEndpoints(src []EndpointInfo) []EndpointInfo {
	out := make([]EndpointInfo, len(src))
	for i, ep := range src {
		ep.Listeners = slices.Clone(ep.Listeners)
		if ep.CertificateNotAfter != nil {
			notAfter := *ep.CertificateNotAfter
			ep.CertificateNotAfter = &notAfter
		}
		out[i] = ep
	}
	return out
}
