package client

import (
	"errors"
	"fmt"

	"github.com/keelworks/keel/pkg/wire"
)

// ErrUnreachable indicates the daemon could not be reached: dialing,
// sending or receiving failed at the transport layer. Semantic failures
// reported by the daemon are *Error values instead, so callers can tell
// retryable connectivity problems from definitive rejections.
var ErrUnreachable = errors.New("daemon unreachable")

// Error is a semantic failure reported by the daemon.
type Error struct {
	// Kind is the wire status the daemon answered with.
	Kind wire.Status

	// Message is the daemon's human-readable failure description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// responseError converts a failure response into an *Error.
func responseError(resp *wire.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	return &Error{Kind: resp.Status, Message: wire.ErrorMessage(resp)}
}

// StatusOf returns the wire status carried by err, or StatusSuccess if
// err is nil. Transport failures report no status.
func StatusOf(err error) (wire.Status, bool) {
	if err == nil {
		return wire.StatusSuccess, true
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
