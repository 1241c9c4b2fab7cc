package transport

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/keelworks/keel/pkg/log"
)

// capturingLogger records events for assertions.
type capturingLogger struct {
	mu  sync.Mutex
	evs []log.Event
}

func (c *capturingLogger) Log(ev log.Event) {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
}

func (c *capturingLogger) events() []log.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]log.Event(nil), c.evs...)
}

// startTestServer starts a server on a random loopback port with a
// dev certificate and an echo handler.
func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	cert, err := GenerateDevCertificate()
	if err != nil {
		t.Fatalf("GenerateDevCertificate failed: %v", err)
	}

	server, err := NewServer(ServerConfig{
		TLSConfig: &TLSConfig{Certificate: cert},
		Address:   "127.0.0.1:0",
		OnMessage: func(conn *ServerConn, msg []byte) {
			// Echo
			conn.Send(msg)
		},
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { server.Stop() })

	return server, server.Addr().String()
}

func dialTestServer(t *testing.T, addr string) *ClientConn {
	t.Helper()

	client, err := NewClient(ClientConfig{
		TLSConfig: &TLSConfig{InsecureSkipVerify: true},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	conn, err := client.Connect(context.Background(), addr)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func TestClientServerRoundTrip(t *testing.T) {
	_, addr := startTestServer(t)
	conn := dialTestServer(t, addr)

	payload := []byte("ping over TLS")
	if err := conn.Send(payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got, err := conn.Receive(5 * time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("echo mismatch: got %q", got)
	}
}

func TestConnectionNegotiatesTLS13(t *testing.T) {
	_, addr := startTestServer(t)
	conn := dialTestServer(t, addr)

	state := conn.TLSState()
	if err := VerifyConnection(state); err != nil {
		t.Errorf("connection verification failed: %v", err)
	}
}

func TestServerConnectionCount(t *testing.T) {
	server, addr := startTestServer(t)

	conn := dialTestServer(t, addr)

	// The server registers the connection after the handshake; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for server.ConnectionCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := server.ConnectionCount(); n != 1 {
		t.Fatalf("ConnectionCount = %d, want 1", n)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for server.ConnectionCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := server.ConnectionCount(); n != 0 {
		t.Errorf("ConnectionCount after close = %d, want 0", n)
	}
}

func TestSendAfterClose(t *testing.T) {
	_, addr := startTestServer(t)
	conn := dialTestServer(t, addr)

	conn.Close()
	if err := conn.Send([]byte("late")); err != ErrConnectionClosed {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestServerDoubleStart(t *testing.T) {
	server, _ := startTestServer(t)
	if err := server.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}
