package manager

import (
	"fmt"

	"github.com/keelworks/keel/pkg/wire"
)

// Error is an operation failure carrying the wire status it maps to.
type Error struct {
	Status  wire.Status
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

func errf(status wire.Status, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// statusOf extracts the wire status from an operation error. Errors that
// are not *Error default to construction failures.
func statusOf(err error) wire.Status {
	if e, ok := err.(*Error); ok {
		return e.Status
	}
	return wire.StatusConstructionFailed
}
