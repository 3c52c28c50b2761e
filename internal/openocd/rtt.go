package openocd

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/nick-kraus/riceprobe-test/internal/rtt"
	"github.com/rs/zerolog/log"
)

// RTTConfig locates the control block and the bridge port.
type RTTConfig struct {
	Address uint32
	Size    uint32
	Label   string
	Port    int
	// Host defaults to the control socket's remote host.
	Host string
}

func DefaultRTTConfig() RTTConfig {
	return RTTConfig{
		Address: 0x20000000,
		Size:    0x10000,
		Label:   "SEGGER RTT",
		Port:    7777,
	}
}

const rttChannelsMarker = "Channels:"

// EnableRTT provisions RTT on the server and returns a bridge connected to
// the server's RTT port. A second call replaces the previous bridge.
func (c *Client) EnableRTT(ctx context.Context, cfg RTTConfig) (*rtt.Bridge, error) {
	def := DefaultRTTConfig()
	if cfg.Label == "" {
		cfg.Label = def.Label
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}

	setup := fmt.Sprintf("rtt setup 0x%08x 0x%x %q", cfg.Address, cfg.Size, cfg.Label)
	if _, err := c.Command(ctx, setup); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRTTInitFailed, err)
	}
	if _, err := c.Command(ctx, "rtt start"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRTTInitFailed, err)
	}
	channels, err := c.Command(ctx, "rtt channels")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRTTInitFailed, err)
	}
	if !strings.Contains(channels, rttChannelsMarker) {
		return nil, fmt.Errorf("%w: no channels in %q", ErrRTTInitFailed, channels)
	}
	if _, err := c.Command(ctx, fmt.Sprintf("rtt server start %d 0", cfg.Port)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRTTInitFailed, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rttPort = cfg.Port
	host := cfg.Host
	if host == "" {
		host, _, err = net.SplitHostPort(c.conn.RemoteAddr().String())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRTTInitFailed, err)
		}
	}
	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: rtt %s: %w", ErrServerUnreachable, addr, err)
	}
	if c.bridge != nil {
		_ = c.bridge.Close()
	}
	c.bridge = rtt.NewBridge(conn)
	log.Info().Msgf("openocd.Client rtt enabled addr=%s control_block=0x%08x", addr, cfg.Address)
	return c.bridge, nil
}
