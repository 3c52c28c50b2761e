package openocd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nick-kraus/riceprobe-test/internal/observability"
	"github.com/nick-kraus/riceprobe-test/internal/protocol/frame"
	"github.com/nick-kraus/riceprobe-test/internal/protocol/session"
	"github.com/nick-kraus/riceprobe-test/internal/rtt"
	"github.com/rs/zerolog/log"
)

// Process is a server process the client terminates on Close.
type Process interface {
	Terminate(ctx context.Context) error
}

type Config struct {
	Session session.Config
	Limits  frame.Limits
	// Process, when set, is terminated after the socket is released.
	Process Process
}

func DefaultConfig() Config {
	return Config{
		Session: session.DefaultConfig(),
		Limits:  frame.DefaultLimits(),
	}
}

// Client sends one command at a time over the TCL socket and returns the
// terminator-delimited response.
type Client struct {
	mu     sync.Mutex
	cfg    Config
	conn   net.Conn
	reader *frame.Reader

	rttPort int
	bridge  *rtt.Bridge
	closed  bool
}

// Dial connects to addr and checks the server answers a version request.
func Dial(ctx context.Context, addr string, cfg Config) (*Client, error) {
	cfg.Session = cfg.Session.WithDefaults()
	dialer := net.Dialer{Timeout: cfg.Session.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrServerUnreachable, addr, err)
	}
	c := NewClient(conn, cfg)

	hctx, cancel := context.WithTimeout(ctx, cfg.Session.HandshakeTimeout)
	defer cancel()
	version, err := c.Version(hctx)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s: handshake: %w", ErrServerUnreachable, addr, err)
	}
	log.Info().Msgf("openocd.Client connected addr=%s version=%q", addr, version)
	return c, nil
}

// NewClient wraps an established connection without a handshake.
func NewClient(conn net.Conn, cfg Config) *Client {
	cfg.Session = cfg.Session.WithDefaults()
	return &Client{
		cfg:    cfg,
		conn:   conn,
		reader: frame.NewReader(conn, cfg.Limits),
	}
}

// Send writes cmd and returns its response without the terminator. The
// response wait is bounded by the earlier of the ctx deadline and the
// configured read timeout.
func (c *Client) Send(ctx context.Context, cmd []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	start := time.Now()
	resp, err := c.send(ctx, cmd)
	observability.RecordControlCommand(verb(cmd), observability.Outcome(err), time.Since(start))
	return resp, err
}

// Command is Send for string commands.
func (c *Client) Command(ctx context.Context, cmd string) (string, error) {
	resp, err := c.Send(ctx, []byte(cmd))
	return string(resp), err
}

func (c *Client) send(ctx context.Context, cmd []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.Session.WriteTimeout)); err != nil {
		return nil, err
	}
	if err := frame.WriteFrame(c.conn, cmd); err != nil {
		return nil, fmt.Errorf("openocd: write %q: %w", cmd, err)
	}

	deadline := time.Now().Add(c.cfg.Session.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	resp, err := c.reader.ReadFrame()
	if err != nil {
		var ne net.Error
		switch {
		case errors.As(err, &ne) && ne.Timeout():
			return nil, fmt.Errorf("%w: %q", ErrTimeout, cmd)
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil, fmt.Errorf("%w: server closed connection after %q", ErrClosed, cmd)
		default:
			return nil, fmt.Errorf("openocd: read %q: %w", cmd, err)
		}
	}
	log.Debug().Str("cmd", string(cmd)).Int("resp_len", len(resp)).Msg("openocd.Client send")
	return resp, nil
}

// Close stops a provisioned RTT server and asks the server to shut down,
// then releases the RTT bridge, the socket and the server process. Failures
// are logged and never returned.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	graceful := func(cmd string) {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Session.ReadTimeout)
		defer cancel()
		if _, err := c.send(ctx, []byte(cmd)); err != nil {
			log.Warn().Err(err).Msgf("openocd.Client close cmd=%q", cmd)
		}
	}
	if c.rttPort != 0 {
		graceful(fmt.Sprintf("rtt server stop %d", c.rttPort))
	}
	graceful("shutdown")
	time.Sleep(c.cfg.Session.GraceDelay)

	if c.bridge != nil {
		if err := c.bridge.Close(); err != nil {
			log.Debug().Err(err).Msg("openocd.Client close rtt bridge")
		}
		c.bridge = nil
	}
	if err := c.conn.Close(); err != nil {
		log.Debug().Err(err).Msg("openocd.Client close socket")
	}
	if c.cfg.Process != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Session.ConnectTimeout)
		defer cancel()
		if err := c.cfg.Process.Terminate(ctx); err != nil {
			log.Warn().Err(err).Msg("openocd.Client terminate server")
		}
	}
	log.Info().Msg("openocd.Client closed")
	return nil
}

func (c *Client) setProcess(p Process) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Process = p
}

// verb is the metrics label for cmd.
func verb(cmd []byte) string {
	fields := strings.Fields(string(cmd))
	switch {
	case len(fields) == 0:
		return "empty"
	case fields[0] == "rtt" && len(fields) > 1:
		return "rtt " + fields[1]
	default:
		return fields[0]
	}
}
