package rtt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"sync"
	"time"

	"github.com/nick-kraus/riceprobe-test/internal/observability"
	"github.com/rs/zerolog/log"
)

var (
	ErrExpectTimeout = errors.New("rtt: expectation timed out")
	ErrBridgeClosed  = errors.New("rtt: bridge closed")
)

const readChunk = 4096

// DefaultPrompt is the target shell prompt.
const DefaultPrompt = "target:~$ "

// Match is one satisfied expectation. Offsets are absolute positions in the
// stream since the bridge was created.
type Match struct {
	Start int64
	End   int64
	Bytes []byte
	// Before holds the unconsumed bytes that preceded the match.
	Before []byte
	Groups [][]byte
}

// Group returns capture group i, or nil when it did not participate.
func (m *Match) Group(i int) []byte {
	if i < 0 || i >= len(m.Groups) {
		return nil
	}
	return m.Groups[i]
}

// Bridge consumes the target console stream. Bytes consumed by a successful
// expectation are never matched again; bytes after the match stay buffered.
type Bridge struct {
	conn net.Conn

	mu     sync.Mutex
	buf    []byte
	base   int64
	cursor int64
	eof    error
	chunk  []byte
}

func NewBridge(conn net.Conn) *Bridge {
	return &Bridge{conn: conn, chunk: make([]byte, readChunk)}
}

// Send writes p to the target and returns the number of bytes written.
func (b *Bridge) Send(p []byte) (int, error) {
	n, err := b.conn.Write(p)
	observability.RecordRTTBytes("tx", n)
	if err != nil {
		return n, fmt.Errorf("rtt: send: %w", err)
	}
	return n, nil
}

// ExpectBytes waits until literal appears after the cursor.
func (b *Bridge) ExpectBytes(literal []byte, timeout time.Duration) (*Match, error) {
	m, err := b.expect(timeout, func(p []byte) []int {
		i := bytes.Index(p, literal)
		if i < 0 {
			return nil
		}
		return []int{i, i + len(literal)}
	})
	observability.RecordRTTExpect("bytes", outcome(err))
	return m, err
}

// ExpectRegex waits until re matches after the cursor.
func (b *Bridge) ExpectRegex(re *regexp.Regexp, timeout time.Duration) (*Match, error) {
	m, err := b.expect(timeout, re.FindSubmatchIndex)
	observability.RecordRTTExpect("regex", outcome(err))
	return m, err
}

// ExpectPattern compiles pattern and waits for it.
func (b *Bridge) ExpectPattern(pattern string, timeout time.Duration) (*Match, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("rtt: pattern %q: %w", pattern, err)
	}
	return b.ExpectRegex(re, timeout)
}

func (b *Bridge) ExpectPrompt(prompt string, timeout time.Duration) (*Match, error) {
	return b.ExpectBytes([]byte(prompt), timeout)
}

// Command sends line and waits for the next prompt. The returned match's
// Before holds the command output, echo included.
func (b *Bridge) Command(line, prompt string, timeout time.Duration) (*Match, error) {
	if _, err := b.Send([]byte(line + "\n")); err != nil {
		return nil, err
	}
	return b.ExpectPrompt(prompt, timeout)
}

// Buffered returns the number of received bytes not yet consumed.
func (b *Bridge) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf) - int(b.cursor-b.base)
}

func (b *Bridge) Close() error {
	return b.conn.Close()
}

// expect searches the unconsumed bytes with find, which returns index pairs
// relative to its argument in the regexp submatch layout.
func (b *Bridge) expect(timeout time.Duration, find func([]byte) []int) (*Match, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		off := int(b.cursor - b.base)
		if loc := find(b.buf[off:]); loc != nil {
			return b.consume(off, loc), nil
		}
		if b.eof != nil {
			return nil, b.eof
		}
		if !time.Now().Before(deadline) {
			return nil, ErrExpectTimeout
		}
		if err := b.fill(deadline); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				b.eof = ErrBridgeClosed
			} else {
				b.eof = fmt.Errorf("%w: %w", ErrBridgeClosed, err)
			}
		}
	}
}

func (b *Bridge) fill(deadline time.Time) error {
	if err := b.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	n, err := b.conn.Read(b.chunk)
	if n > 0 {
		b.buf = append(b.buf, b.chunk[:n]...)
		observability.RecordRTTBytes("rx", n)
	}
	return err
}

func (b *Bridge) consume(off int, loc []int) *Match {
	p := b.buf[off:]
	m := &Match{
		Start:  b.cursor + int64(loc[0]),
		End:    b.cursor + int64(loc[1]),
		Bytes:  bytes.Clone(p[loc[0]:loc[1]]),
		Before: bytes.Clone(p[:loc[0]]),
	}
	for i := 2; i+1 < len(loc); i += 2 {
		if loc[i] < 0 {
			m.Groups = append(m.Groups, nil)
			continue
		}
		m.Groups = append(m.Groups, bytes.Clone(p[loc[i]:loc[i+1]]))
	}
	b.cursor = m.End
	// drop the consumed prefix
	b.buf = append(b.buf[:0], b.buf[off+loc[1]:]...)
	b.base = b.cursor
	log.Debug().Int64("start", m.Start).Int64("end", m.End).Msg("rtt.Bridge match")
	return m
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrExpectTimeout):
		return "timeout"
	default:
		return "error"
	}
}
