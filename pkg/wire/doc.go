// Package wire defines the CBOR message format for the keel control
// protocol: requests addressed to a service manager, responses carrying a
// status code, and the per-method payload structures.
//
// All messages are CBOR maps with integer keys for compactness. Encoding is
// deterministic (canonical key order) so identical messages always produce
// identical bytes.
package wire
