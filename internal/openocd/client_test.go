package openocd

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nick-kraus/riceprobe-test/internal/protocol/session"
	"github.com/nick-kraus/riceprobe-test/internal/rtt"
	"github.com/nick-kraus/riceprobe-test/internal/testutil/tclserver"
	"github.com/nick-kraus/riceprobe-test/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	mu         sync.Mutex
	terminated int
}

func (p *fakeProcess) Terminate(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated++
	return nil
}

func (p *fakeProcess) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Session = session.Config{
		ConnectTimeout:   time.Second,
		HandshakeTimeout: time.Second,
		ReadTimeout:      200 * time.Millisecond,
		WriteTimeout:     time.Second,
	}
	return cfg
}

func dialTest(t *testing.T, srv *tclserver.Server, cfg Config) *Client {
	t.Helper()
	c, err := Dial(context.Background(), srv.Addr(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestDialPerformsVersionHandshake(t *testing.T) {
	testlog.Start(t)
	srv := tclserver.Start(t)
	c := dialTest(t, srv, testConfig())

	assert.Equal(t, []string{"version"}, srv.Commands())
	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tclserver.Version, v)
}

func TestDialUnreachable(t *testing.T) {
	testlog.Start(t)
	_, err := Dial(context.Background(), deadAddr(t), testConfig())
	if !errors.Is(err, ErrServerUnreachable) {
		t.Fatalf("expected ErrServerUnreachable, got %v", err)
	}
}

func TestDialHandshakeTimeout(t *testing.T) {
	testlog.Start(t)
	srv := tclserver.Start(t)
	srv.Silence("version")
	cfg := testConfig()
	cfg.Session.HandshakeTimeout = 100 * time.Millisecond

	_, err := Dial(context.Background(), srv.Addr(), cfg)
	if !errors.Is(err, ErrServerUnreachable) || !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected unreachable handshake timeout, got %v", err)
	}
}

func TestSendReassemblesSplitResponses(t *testing.T) {
	testlog.Start(t)
	srv := tclserver.Start(t)
	c := dialTest(t, srv, testConfig())
	long := strings.Repeat("0123456789abcdef", 300)
	srv.Respond("dump", long)
	srv.SplitResponses(7)

	resp, err := c.Send(context.Background(), []byte("dump"))
	require.NoError(t, err)
	assert.Equal(t, long, string(resp))

	state, err := c.CurrentState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateRunning, state)
}

func TestSendTimeoutKeepsClientUsable(t *testing.T) {
	testlog.Start(t)
	srv := tclserver.Start(t)
	c := dialTest(t, srv, testConfig())
	srv.Silence("halt")

	start := time.Now()
	err := c.Halt(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	assert.Less(t, time.Since(start), 2*time.Second)

	require.NoError(t, c.Resume(context.Background()))
}

func TestSendContextDeadline(t *testing.T) {
	testlog.Start(t)
	srv := tclserver.Start(t)
	cfg := testConfig()
	cfg.Session.ReadTimeout = 10 * time.Second
	c := dialTest(t, srv, cfg)
	srv.Silence("halt")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := c.Halt(ctx); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTargetHelpers(t *testing.T) {
	testlog.Start(t)
	srv := tclserver.Start(t)
	c := dialTest(t, srv, testConfig())
	ctx := context.Background()

	require.NoError(t, c.Reset(ctx, ResetInit))
	require.NoError(t, c.WaitForState(ctx, StateHalted, time.Second))
	require.NoError(t, c.Resume(ctx))
	state, err := c.CurrentState(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, state)

	v, err := c.ReadWord(ctx, 0x20000010)
	require.NoError(t, err)
	assert.Zero(t, v)
	require.NoError(t, c.WriteWord(ctx, 0x20000010, 1234567890))
	v, err = c.ReadWord(ctx, 0x20000010)
	require.NoError(t, err)
	assert.Equal(t, uint32(1234567890), v)

	require.NoError(t, c.Halt(ctx))
	require.NoError(t, c.AddWatchpoint(ctx, 0x20000010, 4, WatchAccess))
	require.NoError(t, c.AddBreakpoint(ctx, 0x08001234, 2, true))
	assert.Equal(t, 1, srv.Watchpoints())
	assert.Equal(t, 1, srv.Breakpoints())
	require.NoError(t, c.RemoveWatchpoint(ctx, 0x20000010))
	require.NoError(t, c.RemoveAllBreakpoints(ctx))
	assert.Zero(t, srv.Watchpoints())
	assert.Zero(t, srv.Breakpoints())

	n, err := c.FlashReadBank(ctx, 0, "/tmp/bank0.bin", 0, 4096)
	require.NoError(t, err)
	assert.Equal(t, 4096, n)

	cmds := srv.Commands()
	assert.Contains(t, cmds, "mww 0x20000010 1234567890")
	assert.Contains(t, cmds, "bp 0x08001234 2 hw")
	assert.Contains(t, cmds, "wp 0x20000010 4 a")
	assert.Contains(t, cmds, "rbp all")
	assert.Contains(t, cmds, "flash read_bank 0 /tmp/bank0.bin 0 4096")
}

func TestWaitForStateTimesOut(t *testing.T) {
	testlog.Start(t)
	srv := tclserver.Start(t)
	c := dialTest(t, srv, testConfig())

	err := c.WaitForState(context.Background(), StateHalted, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	srv.SetState("halted")
	require.NoError(t, c.WaitForState(context.Background(), StateHalted, time.Second))
}

func TestCommandFailureDetection(t *testing.T) {
	testlog.Start(t)
	srv := tclserver.Start(t)
	c := dialTest(t, srv, testConfig())
	ctx := context.Background()

	srv.Respond("halt", `invalid command name "halt"`)
	if err := c.Halt(ctx); !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
	srv.Respond("mrw 0x00000000", "Error: Failed to read memory at 0x00000000")
	if _, err := c.ReadWord(ctx, 0); !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
	srv.Respond("flash read_bank 0 /tmp/x 0 16", "Error: couldn't open /tmp/x")
	if _, err := c.FlashReadBank(ctx, 0, "/tmp/x", 0, 16); !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
}

func rttListener(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestEnableRTTAndClose(t *testing.T) {
	testlog.Start(t)
	srv := tclserver.Start(t)
	proc := &fakeProcess{}
	cfg := testConfig()
	cfg.Process = proc
	c, err := Dial(context.Background(), srv.Addr(), cfg)
	require.NoError(t, err)

	ln, port := rttListener(t)
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	rcfg := DefaultRTTConfig()
	rcfg.Port = port
	bridge, err := c.EnableRTT(context.Background(), rcfg)
	require.NoError(t, err)
	target := <-accepted
	defer target.Close()

	go func() { _, _ = target.Write([]byte("\n" + rtt.DefaultPrompt)) }()
	_, err = bridge.ExpectPrompt(rtt.DefaultPrompt, time.Second)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.Equal(t, 1, proc.count())

	p := strconv.Itoa(port)
	assert.Equal(t, []string{
		"version",
		`rtt setup 0x20000000 0x10000 "SEGGER RTT"`,
		"rtt start",
		"rtt channels",
		"rtt server start " + p + " 0",
		"rtt server stop " + p,
		"shutdown",
	}, srv.Commands())

	_, err = bridge.ExpectPrompt(rtt.DefaultPrompt, 100*time.Millisecond)
	if !errors.Is(err, rtt.ErrBridgeClosed) {
		t.Fatalf("bridge should be closed, got %v", err)
	}
	if _, err := c.Send(context.Background(), []byte("version")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	require.NoError(t, c.Close())
	assert.Equal(t, 1, proc.count())
}

func TestEnableRTTMissingChannels(t *testing.T) {
	testlog.Start(t)
	srv := tclserver.Start(t)
	c := dialTest(t, srv, testConfig())
	srv.Respond("rtt channels", "rtt: control block not found")

	_, err := c.EnableRTT(context.Background(), DefaultRTTConfig())
	if !errors.Is(err, ErrRTTInitFailed) {
		t.Fatalf("expected ErrRTTInitFailed, got %v", err)
	}
	for _, cmd := range srv.Commands() {
		if strings.HasPrefix(cmd, "rtt server start") {
			t.Fatalf("server start sent after failed channel check")
		}
	}
}

func TestCloseIsBestEffort(t *testing.T) {
	testlog.Start(t)
	srv := tclserver.Start(t)
	proc := &fakeProcess{}
	cfg := testConfig()
	cfg.Process = proc
	cfg.Session.ReadTimeout = 50 * time.Millisecond
	c, err := Dial(context.Background(), srv.Addr(), cfg)
	require.NoError(t, err)

	srv.Silence("shutdown")
	require.NoError(t, c.Close())
	assert.Equal(t, 1, proc.count())

	srv2 := tclserver.Start(t)
	proc2 := &fakeProcess{}
	cfg.Process = proc2
	c2, err := Dial(context.Background(), srv2.Addr(), cfg)
	require.NoError(t, err)
	srv2.Close()
	require.NoError(t, c2.Close())
	assert.Equal(t, 1, proc2.count())
}

func TestVerbLabels(t *testing.T) {
	assert.Equal(t, "rtt setup", verb([]byte(`rtt setup 0x20000000 0x10000 "SEGGER RTT"`)))
	assert.Equal(t, "mrw", verb([]byte("mrw 0x20000000")))
	assert.Equal(t, "empty", verb(nil))
}
