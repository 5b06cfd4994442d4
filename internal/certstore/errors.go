package certstore

import "errors"

var (
	// ErrInvalidStoreLocation is returned when a store location string does not name a known location.
	ErrInvalidStoreLocation = errors.New("invalid certificate store location")
	// ErrCertificateNotFound is returned when a strict store lookup finds no matching certificate.
	ErrCertificateNotFound = errors.New("certificate not found in store")
	// ErrNoPrivateKey is returned when certificate material carries no private key.
	ErrNoPrivateKey = errors.New("certificate material has no private key")
)
