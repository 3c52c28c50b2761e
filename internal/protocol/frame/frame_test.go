package frame

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

// countingReader hands out scripted chunks and counts Read calls.
type countingReader struct {
	chunks [][]byte
	reads  int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func TestWriteFrameAppendsTerminator(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("version")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if got := buf.String(); got != "version\x1a" {
		t.Fatalf("unexpected wire bytes %q", got)
	}
}

func TestWriteFrameRejectsTerminator(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, []byte{'a', Terminator, 'b'})
	if !errors.Is(err, ErrTerminatorInPayload) {
		t.Fatalf("expected ErrTerminatorInPayload, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("nothing should be written on error")
	}
}

func TestReadFrameCarriesOverSecondFrame(t *testing.T) {
	src := &countingReader{chunks: [][]byte{[]byte("first\x1asecond\x1a")}}
	r := NewReader(src, DefaultLimits())

	first, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	if string(first) != "first" {
		t.Fatalf("first = %q", first)
	}
	if r.Buffered() != len("second\x1a") {
		t.Fatalf("buffered = %d", r.Buffered())
	}
	second, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if string(second) != "second" {
		t.Fatalf("second = %q", second)
	}
	if src.reads != 1 {
		t.Fatalf("second frame should come from the buffer, saw %d reads", src.reads)
	}
}

func TestReadFrameReassemblesAcrossChunks(t *testing.T) {
	body := strings.Repeat("x", 2500)
	src := &countingReader{chunks: [][]byte{[]byte(body[:700]), []byte(body[700:] + "\x1atail")}}
	r := NewReader(src, DefaultLimits())

	got, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(got) != body {
		t.Fatalf("frame length %d, want %d", len(got), len(body))
	}
	if r.Buffered() != len("tail") {
		t.Fatalf("buffered = %d", r.Buffered())
	}
	if _, err := r.ReadFrame(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF for partial trailing frame, got %v", err)
	}
}

func TestReadFrameEmptyFrameAndEOF(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{Terminator}), DefaultLimits())
	got, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty frame, got %q", got)
	}
	if _, err := r.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte("y"), 64))
	r := NewReader(src, Limits{MaxFrameBytes: 16, ChunkSize: 8})
	if _, err := r.ReadFrame(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

type deadlineErr struct{}

func (deadlineErr) Error() string   { return "i/o timeout" }
func (deadlineErr) Timeout() bool   { return true }
func (deadlineErr) Temporary() bool { return true }

type timeoutReader struct{ data []byte }

func (t *timeoutReader) Read(p []byte) (int, error) {
	if len(t.data) == 0 {
		return 0, deadlineErr{}
	}
	n := copy(p, t.data)
	t.data = t.data[n:]
	return n, nil
}

func TestReadFrameKeepsPartialDataOnError(t *testing.T) {
	src := &timeoutReader{data: []byte("partial")}
	r := NewReader(src, DefaultLimits())
	_, err := r.ReadFrame()
	var te interface{ Timeout() bool }
	if !errors.As(err, &te) || !te.Timeout() {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if r.Buffered() != len("partial") {
		t.Fatalf("partial bytes should stay buffered, got %d", r.Buffered())
	}
	src.data = []byte(" done\x1a")
	got, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(got) != "partial done" {
		t.Fatalf("got %q", got)
	}
}
