package binding

import "crypto/tls"

// capability is a typed key into the server options extension registry.
// The set of keys is closed: only the values declared below exist.
type capability[T any] struct {
	name string
}

var (
	endpointDefaultsKey   = capability[func(*ListenOptions)]{name: "EndpointDefaults"}
	httpsDefaultsKey      = capability[func(*HTTPSOptions)]{name: "HTTPSDefaults"}
	defaultCertificateKey = capability[*tls.Certificate]{name: "DefaultCertificate"}
)

// extensions carries cross-cutting settings written before a build and
// read during it. Last write wins; nothing is ever removed.
type extensions map[string]any

func setExtension[T any](e extensions, key capability[T], value T) {
	e[key.name] = value
}

func getExtension[T any](e extensions, key capability[T]) (T, bool) {
	v, ok := e[key.name].(T)
	return v, ok
}
