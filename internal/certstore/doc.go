// Package certstore provides certificate material outside of endpoint
// configuration: a directory-backed certificate store searched by subject,
// PEM and PKCS#12 decoding helpers, and the development certificate used
// as the last-resort HTTPS identity.
package certstore
