package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nick-kraus/riceprobe-test/internal/observability"
	"github.com/nick-kraus/riceprobe-test/internal/protocol/dap"
	"github.com/rs/zerolog/log"
)

// Config controls channel timing and the default CONNECT resolution.
type Config struct {
	ReadTimeout   time.Duration
	MaxPacketSize int
	// DefaultMode resolves CONNECT to the default port. ModeDisconnected
	// forwards the default request to the adapter.
	DefaultMode Mode
	Sleep       func(time.Duration)
}

func DefaultConfig() Config {
	return Config{
		ReadTimeout:   time.Second,
		MaxPacketSize: 512,
		DefaultMode:   ModeDisconnected,
		Sleep:         time.Sleep,
	}
}

type Option func(*Config)

func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) { c.ReadTimeout = d }
}

func WithMaxPacketSize(n int) Option {
	return func(c *Config) { c.MaxPacketSize = n }
}

func WithDefaultMode(m Mode) Option {
	return func(c *Config) { c.DefaultMode = m }
}

func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Config) { c.Sleep = sleep }
}

// Channel issues adapter commands over a Link and tracks the debug port state.
type Channel struct {
	mu    sync.Mutex
	link  Link
	cfg   Config
	state *PortState
}

func NewChannel(link Link, opts ...Option) (*Channel, error) {
	if link == nil {
		return nil, ErrNilLink
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultConfig().ReadTimeout
	}
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = DefaultConfig().MaxPacketSize
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Channel{
		link:  link,
		cfg:   cfg,
		state: NewPortState(cfg.DefaultMode),
	}, nil
}

// State returns a snapshot of the tracked debug port state.
func (c *Channel) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// Execute sends cmd and decodes its response. The read waits for the
// earlier of the ctx deadline and the configured read timeout.
func (c *Channel) Execute(ctx context.Context, cmd dap.Command) (dap.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	resp, err := c.execute(ctx, cmd)
	observability.RecordProbeCommand(cmd.Opcode().String(), observability.Outcome(err), time.Since(start))
	return resp, err
}

func (c *Channel) execute(ctx context.Context, cmd dap.Command) (dap.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Raw commands with a known opcode are gated and tracked as their typed form.
	if r, ok := cmd.(dap.Raw); ok && r.Op.Known() {
		typed, err := dap.DecodeCommand(append([]byte{uint8(r.Op)}, r.Payload...))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		cmd = typed
	}
	if conn, ok := cmd.(dap.Connect); ok {
		port, err := c.state.Resolve(conn.Port)
		if err != nil {
			return nil, err
		}
		cmd = dap.Connect{Port: port}
	}
	if err := c.state.Allow(cmd); err != nil {
		return nil, err
	}
	req, err := dap.EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}
	if cmd.Opcode() == dap.OpTransferAbort {
		return nil, c.link.Write(req)
	}

	raw, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("op", cmd.Opcode().String()).
		Hex("req", req).
		Hex("resp", raw).
		Msg("probe.Channel execute")

	resp, err := dap.DecodeResponse(cmd, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	c.state.Observe(cmd, resp)
	return resp, nil
}

// Exchange writes raw request bytes and returns the raw response without
// gating, decoding or state tracking. After a state-changing request such as
// CONNECT or DISCONNECT the tracked state no longer matches the adapter.
func (c *Channel) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	if len(req) == 0 {
		return nil, fmt.Errorf("%w: empty request", ErrProtocol)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	op := dap.Opcode(req[0])
	var (
		resp []byte
		err  error
	)
	if op == dap.OpTransferAbort {
		err = c.link.Write(req)
	} else if err = ctx.Err(); err == nil {
		resp, err = c.roundTrip(ctx, req)
	}
	observability.RecordProbeCommand(op.String(), observability.Outcome(err), time.Since(start))
	log.Debug().Str("op", op.String()).Hex("req", req).Hex("resp", resp).Err(err).Msg("probe.Channel exchange")
	return resp, err
}

// Abort asks the adapter to cancel the transfer in flight. It never waits
// for a response and may be called while Execute is blocked.
func (c *Channel) Abort() error {
	err := c.link.Write([]byte{uint8(dap.OpTransferAbort)})
	observability.RecordProbeCommand(dap.OpTransferAbort.String(), observability.Outcome(err), 0)
	return err
}

func (c *Channel) roundTrip(ctx context.Context, req []byte) ([]byte, error) {
	if err := c.link.Write(req); err != nil {
		return nil, fmt.Errorf("probe: link write: %w", err)
	}
	raw, err := c.link.Read(c.cfg.MaxPacketSize, c.readTimeout(ctx))
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrChannelTimeout, dap.Opcode(req[0]))
		}
		return nil, fmt.Errorf("probe: link read: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChannelTimeout, dap.Opcode(req[0]))
	}
	return raw, nil
}

func (c *Channel) readTimeout(ctx context.Context) time.Duration {
	timeout := c.cfg.ReadTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	return timeout
}
