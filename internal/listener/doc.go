// Package listener opens the sockets for resolved endpoints: TCP on a
// specific address, on loopback or on every interface, unix domain sockets
// and inherited file descriptors, optionally wrapped in TLS.
package listener
