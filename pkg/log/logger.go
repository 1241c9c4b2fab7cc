package log

// Logger receives protocol events from the transport, wire and manager
// layers. Implementations must be safe for concurrent use; a slow sink
// stalls the connection it logs for.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards every event. The zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}
