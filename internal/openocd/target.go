package openocd

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TargetState is the core state reported by curstate.
type TargetState string

const (
	StateRunning      TargetState = "running"
	StateHalted       TargetState = "halted"
	StateReset        TargetState = "reset"
	StateDebugRunning TargetState = "debug-running"
	StateUnknown      TargetState = "unknown"
)

type ResetMode string

const (
	ResetRun  ResetMode = "run"
	ResetInit ResetMode = "init"
	ResetHalt ResetMode = "halt"
)

// WatchKind selects the access that triggers a watchpoint.
type WatchKind string

const (
	WatchRead   WatchKind = "r"
	WatchWrite  WatchKind = "w"
	WatchAccess WatchKind = "a"
)

const statePollInterval = 10 * time.Millisecond

var wroteBytes = regexp.MustCompile(`wrote (\d+) bytes`)

func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.Command(ctx, "version")
	return strings.TrimSpace(resp), err
}

func (c *Client) Reset(ctx context.Context, mode ResetMode) error {
	return c.quiet(ctx, "reset "+string(mode))
}

func (c *Client) Halt(ctx context.Context) error {
	return c.quiet(ctx, "halt")
}

func (c *Client) Resume(ctx context.Context) error {
	return c.quiet(ctx, "resume")
}

func (c *Client) CurrentState(ctx context.Context) (TargetState, error) {
	resp, err := c.Command(ctx, "$_CHIPNAME.cpu curstate")
	if err != nil {
		return StateUnknown, err
	}
	return TargetState(strings.TrimSpace(resp)), nil
}

// WaitForState polls the core state until it equals want or timeout elapses.
func (c *Client) WaitForState(ctx context.Context, want TargetState, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		state, err := c.CurrentState(ctx)
		if err != nil {
			return err
		}
		if state == want {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: target %s, want %s after %s", ErrTimeout, state, want, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(statePollInterval):
		}
	}
}

// ReadWord reads one 32-bit word of target memory.
func (c *Client) ReadWord(ctx context.Context, addr uint32) (uint32, error) {
	resp, err := c.Command(ctx, fmt.Sprintf("mrw 0x%08x", addr))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(resp), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: mrw 0x%08x: %q", ErrCommandFailed, addr, resp)
	}
	return uint32(v), nil
}

func (c *Client) WriteWord(ctx context.Context, addr, value uint32) error {
	return c.quiet(ctx, fmt.Sprintf("mww 0x%08x %d", addr, value))
}

func (c *Client) AddBreakpoint(ctx context.Context, addr uint32, length int, hw bool) error {
	cmd := fmt.Sprintf("bp 0x%08x %d", addr, length)
	if hw {
		cmd += " hw"
	}
	return c.quiet(ctx, cmd)
}

func (c *Client) RemoveBreakpoint(ctx context.Context, addr uint32) error {
	return c.quiet(ctx, fmt.Sprintf("rbp 0x%08x", addr))
}

func (c *Client) RemoveAllBreakpoints(ctx context.Context) error {
	return c.quiet(ctx, "rbp all")
}

func (c *Client) AddWatchpoint(ctx context.Context, addr uint32, length int, kind WatchKind) error {
	return c.quiet(ctx, fmt.Sprintf("wp 0x%08x %d %s", addr, length, kind))
}

func (c *Client) RemoveWatchpoint(ctx context.Context, addr uint32) error {
	return c.quiet(ctx, fmt.Sprintf("rwp 0x%08x", addr))
}

// FlashReadBank dumps length bytes of a flash bank to path and returns the
// number of bytes the server reports written.
func (c *Client) FlashReadBank(ctx context.Context, bank int, path string, offset, length uint32) (int, error) {
	resp, err := c.Command(ctx, fmt.Sprintf("flash read_bank %d %s %d %d", bank, path, offset, length))
	if err != nil {
		return 0, err
	}
	m := wroteBytes.FindStringSubmatch(resp)
	if m == nil {
		return 0, fmt.Errorf("%w: flash read_bank: %q", ErrCommandFailed, resp)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: flash read_bank: %q", ErrCommandFailed, resp)
	}
	return n, nil
}

// quiet runs a command whose success output carries no data and treats
// error text in the response as failure.
func (c *Client) quiet(ctx context.Context, cmd string) error {
	resp, err := c.Command(ctx, cmd)
	if err != nil {
		return err
	}
	if failed(resp) {
		return fmt.Errorf("%w: %s: %q", ErrCommandFailed, cmd, strings.TrimSpace(resp))
	}
	return nil
}

func failed(resp string) bool {
	lower := strings.ToLower(resp)
	return strings.HasPrefix(lower, "invalid command name") || strings.Contains(lower, "error")
}
