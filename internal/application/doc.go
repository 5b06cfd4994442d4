// Package application wires configuration into running servers. It builds
// the endpoint list from the configuration tree and command-line endpoints,
// binds every endpoint, and serves the introspection API on all of them,
// keeping the main package focused on CLI parsing and orchestration.
package application
