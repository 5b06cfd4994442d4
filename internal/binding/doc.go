// Package binding decides which network endpoints a server binds and which
// TLS identity each one presents.
//
// Endpoints come from three places: an Endpoints/Certificates configuration
// tree, endpoints registered in code, and named override callbacks.
// ServerOptions.Configure returns a Builder; Builder.Build merges the three
// sources into the ordered endpoint list on ServerOptions, which a
// transport layer then binds.
//
// Certificate precedence for an https endpoint, lowest first:
//   - the default certificate (Certificates:Default, or OverrideDefaultCertificate)
//   - the HTTPS defaults callback
//   - the endpoint's own Certificate section
//   - the DefaultHTTPSProvider, consulted only when nothing else resolved
//
// HTTPS attached by the endpoint defaults callback or the override is
// never replaced.
package binding
