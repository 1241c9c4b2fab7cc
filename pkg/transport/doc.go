// Package transport implements the framed TLS channel the keel control
// protocol runs over.
//
// Messages are opaque byte slices carried in length-prefixed frames over
// TLS 1.3. The package provides a Server that accepts connections and
// delivers inbound frames through callbacks, and a Client that dials a
// manager and exposes blocking Send/Receive. Protocol layers above see only
// narrow interfaces so tests can substitute in-memory pipes.
package transport
