package log

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/keelworks/keel/pkg/wire"
)

func sampleRequestEvent(ts time.Time) Event {
	method := wire.MethodStartProvider
	providerID := uint16(1)
	return Event{
		Timestamp:    ts,
		ConnectionID: "a1b2c3d4-0000-0000-0000-000000000000",
		Direction:    DirectionIn,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		RemoteAddr:   "127.0.0.1:54321",
		Message: &MessageEvent{
			Type:       MessageTypeRequest,
			MessageID:  17,
			Method:     &method,
			ProviderID: &providerID,
		},
	}
}

func TestEventCBORRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	original := sampleRequestEvent(ts)

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !got.Timestamp.Equal(original.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, original.Timestamp)
	}
	if got.ConnectionID != original.ConnectionID {
		t.Errorf("conn id = %q, want %q", got.ConnectionID, original.ConnectionID)
	}
	if got.Message == nil {
		t.Fatal("message event lost in round trip")
	}
	if got.Message.Method == nil || *got.Message.Method != wire.MethodStartProvider {
		t.Errorf("method lost in round trip: %+v", got.Message)
	}
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")

	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		fl.Log(sampleRequestEvent(base.Add(time.Duration(i) * time.Millisecond)))
	}
	if err := fl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Logging after close must be a no-op, not a panic.
	fl.Log(sampleRequestEvent(base))

	r, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer r.Close()

	events, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("read %d events, want 5", len(events))
	}
	for i, ev := range events {
		want := base.Add(time.Duration(i) * time.Millisecond)
		if !ev.Timestamp.Equal(want) {
			t.Errorf("event %d timestamp = %v, want %v", i, ev.Timestamp, want)
		}
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")

	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	const writers = 8
	const perWriter = 20

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				fl.Log(sampleRequestEvent(time.Now()))
			}
		}()
	}
	wg.Wait()

	if err := fl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer r.Close()

	events, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(events) != writers*perWriter {
		t.Errorf("read %d events, want %d", len(events), writers*perWriter)
	}
}

func TestMultiLogger(t *testing.T) {
	var a, b recordingLogger
	ml := NewMultiLogger(&a, &b)

	ml.Log(sampleRequestEvent(time.Now()))
	ml.Log(sampleRequestEvent(time.Now()))

	if a.count() != 2 || b.count() != 2 {
		t.Errorf("counts = %d, %d, want 2, 2", a.count(), b.count())
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	adapter := NewSlogAdapter(slog.New(handler))

	adapter.Log(sampleRequestEvent(time.Now()))

	out := buf.String()
	for _, want := range []string{"method=StartProvider", "direction=IN", "layer=WIRE"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("slog output missing %q: %s", want, out)
		}
	}
}

// recordingLogger counts events for tests.
type recordingLogger struct {
	mu sync.Mutex
	n  int
}

func (r *recordingLogger) Log(Event) {
	r.mu.Lock()
	r.n++
	r.mu.Unlock()
}

func (r *recordingLogger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
