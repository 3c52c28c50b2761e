package frame

import (
	"bytes"
	"errors"
	"io"
)

// Terminator ends every message on the control socket in both directions.
const Terminator byte = 0x1A

var (
	ErrTerminatorInPayload = errors.New("frame: payload contains terminator byte")
	ErrFrameTooLarge       = errors.New("frame: frame exceeds size limit")
)

// Limits constrains reader memory use.
type Limits struct {
	MaxFrameBytes int
	ChunkSize     int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 8 * 1024 * 1024,
		ChunkSize:     1024,
	}
}

// WriteFrame writes payload followed by the terminator in a single write.
func WriteFrame(w io.Writer, payload []byte) error {
	if bytes.IndexByte(payload, Terminator) >= 0 {
		return ErrTerminatorInPayload
	}
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, Terminator)
	_, err := w.Write(buf)
	return err
}

// Reader splits a byte stream into terminator-delimited frames. Bytes read
// past a terminator stay buffered for the next ReadFrame.
type Reader struct {
	r      io.Reader
	limits Limits
	buf    []byte
	chunk  []byte
}

func NewReader(r io.Reader, limits Limits) *Reader {
	def := DefaultLimits()
	if limits.MaxFrameBytes <= 0 {
		limits.MaxFrameBytes = def.MaxFrameBytes
	}
	if limits.ChunkSize <= 0 {
		limits.ChunkSize = def.ChunkSize
	}
	return &Reader{r: r, limits: limits, chunk: make([]byte, limits.ChunkSize)}
}

// ReadFrame returns the next frame without its terminator. The returned
// slice is owned by the caller. A stream that ends inside a frame returns
// io.ErrUnexpectedEOF; one that ends on a frame boundary returns io.EOF.
func (fr *Reader) ReadFrame() ([]byte, error) {
	scanned := 0
	for {
		if i := bytes.IndexByte(fr.buf[scanned:], Terminator); i >= 0 {
			end := scanned + i
			out := append([]byte(nil), fr.buf[:end]...)
			fr.buf = append(fr.buf[:0], fr.buf[end+1:]...)
			return out, nil
		}
		scanned = len(fr.buf)
		if scanned > fr.limits.MaxFrameBytes {
			fr.buf = fr.buf[:0]
			return nil, ErrFrameTooLarge
		}

		n, err := fr.r.Read(fr.chunk)
		fr.buf = append(fr.buf, fr.chunk[:n]...)
		if n > 0 {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(fr.buf) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// Buffered returns the number of bytes read from the stream but not yet
// returned in a frame.
func (fr *Reader) Buffered() int {
	return len(fr.buf)
}
