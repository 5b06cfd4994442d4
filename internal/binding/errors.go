package binding

import (
	"errors"

	"github.com/eugenenazirov/serverbind/internal/certstore"
)

var (
	// ErrInvalidArgument is returned for missing or out-of-range arguments to a configuration call.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSocketPathNotAbsolute is returned when a unix socket path does not start with '/'.
	ErrSocketPathNotAbsolute = errors.New("unix socket path must be absolute")
	// ErrMissingURL is returned when a configured endpoint has no Url.
	ErrMissingURL = errors.New("endpoint has no Url")
	// ErrInvalidURL is returned when an endpoint Url cannot be parsed into a bind target.
	ErrInvalidURL = errors.New("invalid endpoint Url")
	// ErrUnsupportedScheme is returned when an endpoint Url uses a scheme other than http or https.
	ErrUnsupportedScheme = errors.New("unsupported endpoint scheme")
	// ErrMultipleCertificateSources is returned when a certificate declares both a file and a store subject.
	ErrMultipleCertificateSources = errors.New("certificate declares multiple sources")
	// ErrCertificateLoad is returned when declared certificate material cannot be loaded.
	ErrCertificateLoad = errors.New("failed to load certificate")
	// ErrNoCertificateStore is returned when a store certificate is declared but no store is available.
	ErrNoCertificateStore = errors.New("no certificate store configured")
	// ErrNoCertificate is returned when HTTPS is enabled without a server certificate.
	ErrNoCertificate = errors.New("no server certificate configured")
	// ErrHTTPSAlreadyConfigured is returned when HTTPS is attached twice to the same endpoint.
	ErrHTTPSAlreadyConfigured = errors.New("https already configured for endpoint")
	// ErrInvalidStoreLocation is returned when a certificate Location names no known store location.
	ErrInvalidStoreLocation = certstore.ErrInvalidStoreLocation
)
