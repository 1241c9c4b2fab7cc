// Package log provides structured protocol event logging for keel.
//
// Events are captured at three layers (transport frames, decoded wire
// messages, manager state changes) and handed to a Logger implementation.
// Applications choose where events go: SlogAdapter for console output,
// FileLogger for a CBOR event stream on disk, MultiLogger for both, or
// NoopLogger to disable logging entirely.
package log
