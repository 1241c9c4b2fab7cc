// Package manager implements the daemon-side service manager: it owns the
// configuration tree, routes the seven control methods, and admits
// providers and clients through dependency resolution.
//
// All mutating operations are serialized by a single lock and are
// transactional: a request either passes every admission step and its
// effect becomes visible in the next configuration snapshot, or it fails
// with a status code and leaves no trace.
package manager
