package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/keelworks/keel/pkg/log"
)

func TestFrameWriterReader(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "small message", payload: []byte("hello")},
		{name: "medium message", payload: bytes.Repeat([]byte("x"), 1000)},
		{name: "single byte", payload: []byte{0x42}},
		{name: "binary data", payload: []byte{0x00, 0xFF, 0x7F, 0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)

			writer := NewFrameWriter(buf)
			if err := writer.WriteFrame(tt.payload); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}

			if buf.Len() != FrameSize(len(tt.payload)) {
				t.Errorf("frame size = %d, want %d", buf.Len(), FrameSize(len(tt.payload)))
			}

			reader := NewFrameReader(buf)
			got, err := reader.ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if !bytes.Equal(got, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d bytes", len(got), len(tt.payload))
			}
		})
	}
}

func TestFrameWriterEmptyMessage(t *testing.T) {
	writer := NewFrameWriter(new(bytes.Buffer))
	if err := writer.WriteFrame([]byte{}); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("expected ErrMessageEmpty, got %v", err)
	}
}

func TestFrameWriterTooLarge(t *testing.T) {
	writer := NewFrameWriterWithMaxSize(new(bytes.Buffer), 16)
	if err := writer.WriteFrame(bytes.Repeat([]byte("z"), 17)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestFrameReaderOversizedFrame(t *testing.T) {
	buf := new(bytes.Buffer)
	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], 1<<30)
	buf.Write(lengthBuf[:])

	reader := NewFrameReader(buf)
	if _, err := reader.ReadFrame(); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestFrameReaderTruncated(t *testing.T) {
	buf := new(bytes.Buffer)
	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], 100)
	buf.Write(lengthBuf[:])
	buf.Write([]byte("only a few bytes"))

	reader := NewFrameReader(buf)
	if _, err := reader.ReadFrame(); !errors.Is(err, ErrFrameTruncated) {
		t.Errorf("expected ErrFrameTruncated, got %v", err)
	}
}

func TestFrameReaderEOF(t *testing.T) {
	reader := NewFrameReader(new(bytes.Buffer))
	if _, err := reader.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestFramerLogsFrames(t *testing.T) {
	buf := new(bytes.Buffer)
	framer := NewFramer(buf)

	var events capturingLogger
	framer.SetLogger(&events, "conn-1")

	payload := []byte("logged")
	if err := framer.WriteFrame(payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if _, err := framer.ReadFrame(); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	got := events.events()
	if len(got) != 2 {
		t.Fatalf("logged %d events, want 2", len(got))
	}
	if got[0].Direction != log.DirectionOut || got[1].Direction != log.DirectionIn {
		t.Errorf("directions = %v, %v", got[0].Direction, got[1].Direction)
	}
	for _, ev := range got {
		if ev.ConnectionID != "conn-1" {
			t.Errorf("conn id = %q", ev.ConnectionID)
		}
		if ev.Frame == nil || ev.Frame.Size != FrameSize(len(payload)) {
			t.Errorf("frame event = %+v", ev.Frame)
		}
	}
}
