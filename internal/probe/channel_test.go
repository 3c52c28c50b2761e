package probe_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nick-kraus/riceprobe-test/internal/probe"
	"github.com/nick-kraus/riceprobe-test/internal/probe/dapsim"
	"github.com/nick-kraus/riceprobe-test/internal/protocol/dap"
	"github.com/nick-kraus/riceprobe-test/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLink remembers every request written through it.
type recordingLink struct {
	probe.Link
	mu     sync.Mutex
	writes [][]byte
}

func (r *recordingLink) Write(p []byte) error {
	r.mu.Lock()
	r.writes = append(r.writes, append([]byte(nil), p...))
	r.mu.Unlock()
	return r.Link.Write(p)
}

func (r *recordingLink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func (r *recordingLink) last() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes[len(r.writes)-1]
}

// scriptedLink answers every read with the next canned packet.
type scriptedLink struct {
	mu        sync.Mutex
	responses [][]byte
}

func (s *scriptedLink) Write([]byte) error { return nil }

func (s *scriptedLink) Read(int, time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return nil, os.ErrDeadlineExceeded
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func noSleep(time.Duration) {}

func newSim(t *testing.T, mutate func(*dapsim.Config)) *dapsim.Adapter {
	t.Helper()
	testlog.Start(t)
	cfg := dapsim.DefaultConfig()
	cfg.Sleep = noSleep
	if mutate != nil {
		mutate(&cfg)
	}
	return dapsim.New(cfg)
}

func newChannel(t *testing.T, link probe.Link, opts ...probe.Option) *probe.Channel {
	t.Helper()
	opts = append([]probe.Option{probe.WithSleep(noSleep), probe.WithReadTimeout(200 * time.Millisecond)}, opts...)
	ch, err := probe.NewChannel(link, opts...)
	require.NoError(t, err)
	return ch
}

func jtagSession(t *testing.T) (*dapsim.Adapter, *probe.Channel) {
	t.Helper()
	sim := newSim(t, nil)
	ch := newChannel(t, sim)
	ctx := context.Background()
	require.NoError(t, ch.ConfigureJTAG(ctx, 1_000_000))
	require.NoError(t, ch.JTAGConfigure(ctx, 4, 5))
	return sim, ch
}

func TestNewChannelRequiresLink(t *testing.T) {
	testlog.Start(t)
	if _, err := probe.NewChannel(nil); !errors.Is(err, probe.ErrNilLink) {
		t.Fatalf("expected ErrNilLink, got %v", err)
	}
}

func TestInfoStrings(t *testing.T) {
	ch := newChannel(t, newSim(t, nil))
	ctx := context.Background()

	vendor, err := ch.InfoString(ctx, dap.InfoVendor)
	require.NoError(t, err)
	assert.Equal(t, "Nick Kraus", vendor)

	version, err := ch.InfoString(ctx, dap.InfoProtocolVersion)
	require.NoError(t, err)
	assert.Equal(t, "2.1.1", version)

	size, err := ch.Info(ctx, dap.InfoPacketSize)
	require.NoError(t, err)
	assert.Equal(t, uint32(512), size.Uint())

	_, err = ch.Info(ctx, dap.InfoID(0x42))
	if !errors.Is(err, probe.ErrProtocol) || !errors.Is(err, dap.ErrRejected) {
		t.Fatalf("expected rejected protocol error, got %v", err)
	}
}

func TestWrongModeSendsNothing(t *testing.T) {
	link := &recordingLink{Link: newSim(t, nil)}
	ch := newChannel(t, link)

	_, err := ch.Transfer(context.Background(), 0, dap.DPRead(0x0))
	if !errors.Is(err, probe.ErrWrongMode) {
		t.Fatalf("expected ErrWrongMode, got %v", err)
	}
	if err := ch.SWJClock(context.Background(), 1_000_000); !errors.Is(err, probe.ErrWrongMode) {
		t.Fatalf("expected ErrWrongMode for clock, got %v", err)
	}
	if link.count() != 0 {
		t.Fatalf("gated commands must not reach the link, saw %d writes", link.count())
	}
}

func TestDisconnectAndAbortGatedWhileDisconnected(t *testing.T) {
	link := &recordingLink{Link: newSim(t, nil)}
	ch := newChannel(t, link)
	ctx := context.Background()

	if err := ch.Disconnect(ctx); !errors.Is(err, probe.ErrWrongMode) {
		t.Fatalf("disconnect while disconnected: expected ErrWrongMode, got %v", err)
	}
	if _, err := ch.Execute(ctx, dap.TransferAbort{}); !errors.Is(err, probe.ErrWrongMode) {
		t.Fatalf("transfer abort while disconnected: expected ErrWrongMode, got %v", err)
	}
	assert.Equal(t, 0, link.count())

	require.NoError(t, ch.Shutdown(ctx))
	assert.Equal(t, 0, link.count())
}

func TestRawCommandsTrackPortState(t *testing.T) {
	ch := newChannel(t, newSim(t, nil))
	ctx := context.Background()

	resp, err := ch.Execute(ctx, dap.Raw{Op: dap.OpConnect, Payload: []byte{0x02}})
	require.NoError(t, err)
	assert.Equal(t, dap.ConnectResponse{Port: dap.PortJTAG}, resp)
	assert.Equal(t, probe.ModeJTAG, ch.State().Mode)

	require.NoError(t, ch.JTAGConfigure(ctx, 4, 5))
	id, err := ch.JTAGIDCode(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x4BA00477), id)

	_, err = ch.Execute(ctx, dap.Raw{Op: dap.OpDisconnect})
	require.NoError(t, err)
	assert.Equal(t, probe.ModeDisconnected, ch.State().Mode)
	if _, err := ch.JTAGIDCode(ctx, 0); !errors.Is(err, probe.ErrWrongMode) {
		t.Fatalf("expected ErrWrongMode after raw disconnect, got %v", err)
	}

	if _, err := ch.Execute(ctx, dap.Raw{Op: dap.OpConnect, Payload: []byte{0x09}}); !errors.Is(err, probe.ErrInvalidModeRequest) {
		t.Fatalf("expected ErrInvalidModeRequest for raw connect to port 9, got %v", err)
	}
	if _, err := ch.Execute(ctx, dap.Raw{Op: dap.OpSWJClock, Payload: []byte{0x01}}); !errors.Is(err, probe.ErrProtocol) {
		t.Fatalf("expected ErrProtocol for truncated raw clock, got %v", err)
	}
}

func TestConnectDefaultResolution(t *testing.T) {
	ctx := context.Background()

	link := &recordingLink{Link: newSim(t, nil)}
	ch := newChannel(t, link)
	mode, err := ch.Connect(ctx, dap.PortDefault)
	require.NoError(t, err)
	assert.Equal(t, probe.ModeJTAG, mode)
	assert.Equal(t, []byte{0x02, 0x00}, link.last())
	assert.Equal(t, probe.ModeJTAG, ch.State().Mode)

	link = &recordingLink{Link: newSim(t, nil)}
	ch = newChannel(t, link, probe.WithDefaultMode(probe.ModeSWD))
	mode, err = ch.Connect(ctx, dap.PortDefault)
	require.NoError(t, err)
	assert.Equal(t, probe.ModeSWD, mode)
	assert.Equal(t, []byte{0x02, 0x01}, link.last())

	_, err = ch.Connect(ctx, dap.Port(4))
	if !errors.Is(err, probe.ErrInvalidModeRequest) {
		t.Fatalf("expected ErrInvalidModeRequest, got %v", err)
	}
	assert.Equal(t, probe.ModeSWD, ch.State().Mode)
}

func TestConnectFailureStaysDisconnected(t *testing.T) {
	sim := newSim(t, func(cfg *dapsim.Config) { cfg.Capabilities = dap.CapJTAG })
	ch := newChannel(t, sim)

	_, err := ch.Connect(context.Background(), dap.PortSWD)
	var cmdErr *probe.CommandError
	if !errors.As(err, &cmdErr) || !errors.Is(err, probe.ErrCommandFailed) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	assert.Equal(t, dap.OpConnect, cmdErr.Op)
	assert.Equal(t, probe.ModeDisconnected, ch.State().Mode)
}

func TestModeSpecificConfigurationGated(t *testing.T) {
	_, ch := jtagSession(t)
	ctx := context.Background()

	if err := ch.SWDConfigure(ctx, 0); !errors.Is(err, probe.ErrWrongMode) {
		t.Fatalf("expected ErrWrongMode, got %v", err)
	}
	require.NoError(t, ch.ConfigureSWD(ctx, 1_000_000))
	if err := ch.JTAGConfigure(ctx, 4); !errors.Is(err, probe.ErrWrongMode) {
		t.Fatalf("expected ErrWrongMode, got %v", err)
	}
	require.NoError(t, ch.SWDConfigure(ctx, 0))
	assert.Equal(t, uint32(1_000_000), ch.State().ClockHz)
}

func TestModeSwitchNeedsLineReset(t *testing.T) {
	_, ch := jtagSession(t)
	ctx := context.Background()

	_, err := ch.Connect(ctx, dap.PortSWD)
	require.NoError(t, err)
	_, err = ch.Transfer(ctx, 0, dap.DPRead(0x0))
	if !errors.Is(err, probe.ErrLineResetRequired) {
		t.Fatalf("expected ErrLineResetRequired, got %v", err)
	}

	require.NoError(t, ch.SWJSequence(ctx, 56, bytes.Repeat([]byte{0xff}, 7)))
	data, err := ch.Transfer(ctx, 0, dap.DPRead(0x0))
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x2BA01477}, data)
}

func TestJTAGIDCode(t *testing.T) {
	_, ch := jtagSession(t)
	ctx := context.Background()

	id, err := ch.JTAGIDCode(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x4BA00477), id)

	_, err = ch.JTAGIDCode(ctx, 3)
	var cmdErr *probe.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Status != dap.StatusError {
		t.Fatalf("expected error status, got %v", err)
	}
}

func TestJTAGSequenceCapturesIDCode(t *testing.T) {
	_, ch := jtagSession(t)
	ctx := context.Background()

	_, err := ch.JTAGSequence(ctx,
		dap.JTAGSeq{Cycles: 2, TMS: true, TDI: []byte{0}},
		dap.JTAGSeq{Cycles: 2, TDI: []byte{0}},
		dap.JTAGSeq{Cycles: 8, TDI: []byte{0xfe}},
		dap.JTAGSeq{Cycles: 2, TMS: true, TDI: []byte{0x01}},
		dap.JTAGSeq{Cycles: 1, TDI: []byte{0}},
	)
	require.NoError(t, err)
	tdo, err := ch.JTAGSequence(ctx,
		dap.JTAGSeq{Cycles: 1, TMS: true, TDI: []byte{0}},
		dap.JTAGSeq{Cycles: 2, TDI: []byte{0}},
		dap.JTAGSeq{Cycles: 32, CaptureTDO: true, TDI: make([]byte, 4)},
		dap.JTAGSeq{Cycles: 2, TMS: true, TDI: []byte{0}},
		dap.JTAGSeq{Cycles: 1, TDI: []byte{0}},
	)
	require.NoError(t, err)
	require.Len(t, tdo, 1)
	assert.Equal(t, "7704a04b", hex.EncodeToString(tdo[0]))
}

func TestSWDSequenceReadsIDCode(t *testing.T) {
	ch := newChannel(t, newSim(t, nil))
	ctx := context.Background()
	require.NoError(t, ch.ConfigureSWD(ctx, 4_000_000))

	data, err := ch.SWDSequence(ctx,
		dap.SWDSeq{Cycles: 8, Data: []byte{0xa5}},
		dap.SWDSeq{Cycles: 4, Input: true},
		dap.SWDSeq{Cycles: 34, Input: true},
	)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x03}, {0x77, 0x14, 0xa0, 0x2b, 0x02}}, data)
}

func TestTransferFaultShortCircuits(t *testing.T) {
	sim, ch := jtagSession(t)
	ctx := context.Background()

	_, err := ch.Transfer(ctx, 0,
		dap.DPWrite(0x8, 0),
		dap.APWrite(0x0, 0x23000012),
		dap.APWrite(0x4, 0x20000000),
		dap.DPWrite(0x8, 0x01000000),
		dap.APWrite(0xC, 0xdeadbeef),
		dap.DPWrite(0x8, 0),
		dap.APWrite(0x4, 0x30000000),
	)
	var xferErr *probe.TransferError
	require.ErrorAs(t, err, &xferErr)
	assert.True(t, errors.Is(err, probe.ErrTransferFault))
	assert.False(t, errors.Is(err, probe.ErrTransferMismatch))
	assert.Equal(t, 7, xferErr.Requested)
	assert.Equal(t, 4, xferErr.Completed)
	assert.True(t, xferErr.Status.Fault())

	// the channel stays usable; items after the fault never ran
	data, err := ch.Transfer(ctx, 0, dap.DPWrite(0x4, 0x20), dap.DPRead(0x8))
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x01000000}, data)
	data, err = ch.Transfer(ctx, 0, dap.DPWrite(0x8, 0), dap.APRead(0x4))
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x20000000}, data)
	assert.Equal(t, uint32(0), sim.Memory(dap.PortJTAG, 0x20000000))
}

func TestTransferMismatch(t *testing.T) {
	_, ch := jtagSession(t)
	ctx := context.Background()

	data, err := ch.Transfer(ctx, 0,
		dap.DPWrite(0x8, 0xF0),
		dap.MatchMask(0x0f000000),
		dap.ReadMatch(true, 0xC, 0x04000000),
		dap.APRead(0xC),
	)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x24770011}, data)

	_, err = ch.Transfer(ctx, 0, dap.ReadMatch(true, 0xC, 0x05000000))
	if !errors.Is(err, probe.ErrTransferMismatch) || errors.Is(err, probe.ErrTransferFault) {
		t.Fatalf("expected mismatch only, got %v", err)
	}
}

func TestTransferBlockRoundTrip(t *testing.T) {
	sim, ch := jtagSession(t)
	ctx := context.Background()

	_, err := ch.Transfer(ctx, 0, dap.DPWrite(0x8, 0), dap.APWrite(0x0, 0x23000012), dap.APWrite(0x4, 0x20000100))
	require.NoError(t, err)
	words := []uint32{0x11111111, 0x22222222, 0x33333333}
	require.NoError(t, ch.TransferBlockWrite(ctx, 0, true, 0xC, words))
	assert.Equal(t, uint32(0x33333333), sim.Memory(dap.PortJTAG, 0x20000108))

	_, err = ch.Transfer(ctx, 0, dap.APWrite(0x4, 0x20000100))
	require.NoError(t, err)
	got, err := ch.TransferBlockRead(ctx, 0, true, 0xC, 3)
	require.NoError(t, err)
	assert.Equal(t, words, got)
}

func TestTransferWaitExhaustsRetries(t *testing.T) {
	sim, ch := jtagSession(t)
	ctx := context.Background()

	sim.InjectWait(3)
	_, err := ch.TransferBlockRead(ctx, 0, true, 0xC, 2)
	var xferErr *probe.TransferError
	require.ErrorAs(t, err, &xferErr)
	assert.True(t, xferErr.Status.Wait())
	assert.Equal(t, 0, xferErr.Completed)

	require.NoError(t, ch.TransferConfigure(ctx, dap.TransferConfigure{WaitRetry: 8}))
	_, err = ch.TransferBlockRead(ctx, 0, true, 0xC, 2)
	require.NoError(t, err)
}

func TestChannelTimeoutLeavesChannelUsable(t *testing.T) {
	sim := newSim(t, nil)
	ch := newChannel(t, sim, probe.WithReadTimeout(30*time.Millisecond))
	ctx := context.Background()

	sim.DropResponses(1)
	_, err := ch.Info(ctx, dap.InfoVendor)
	if !errors.Is(err, probe.ErrChannelTimeout) {
		t.Fatalf("expected ErrChannelTimeout, got %v", err)
	}
	vendor, err := ch.InfoString(ctx, dap.InfoVendor)
	require.NoError(t, err)
	assert.Equal(t, "Nick Kraus", vendor)
}

func TestContextDeadlineBoundsRead(t *testing.T) {
	sim := newSim(t, nil)
	ch := newChannel(t, sim, probe.WithReadTimeout(5*time.Second))
	sim.DropResponses(1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := ch.Info(ctx, dap.InfoVendor)
	if !errors.Is(err, probe.ErrChannelTimeout) {
		t.Fatalf("expected ErrChannelTimeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("read ignored context deadline")
	}
}

func TestProtocolErrors(t *testing.T) {
	testlog.Start(t)
	link := &scriptedLink{responses: [][]byte{
		{0x00, 0x05, 0x41},
		{0x09, 0x00},
		{},
	}}
	ch := newChannel(t, link)
	ctx := context.Background()

	_, err := ch.Info(ctx, dap.InfoVendor)
	if !errors.Is(err, probe.ErrProtocol) || !errors.Is(err, dap.ErrMalformedResponse) {
		t.Fatalf("expected malformed protocol error, got %v", err)
	}
	_, err = ch.Info(ctx, dap.InfoVendor)
	if !errors.Is(err, dap.ErrOpcodeMismatch) {
		t.Fatalf("expected opcode mismatch, got %v", err)
	}
	_, err = ch.Info(ctx, dap.InfoVendor)
	if !errors.Is(err, probe.ErrChannelTimeout) {
		t.Fatalf("expected empty read to time out, got %v", err)
	}
}

func TestAbortDoesNotWaitForResponse(t *testing.T) {
	sim := newSim(t, nil)
	ch := newChannel(t, sim)

	require.NoError(t, ch.Abort())
	assert.Equal(t, 1, sim.Aborts())

	// no stray response is left behind for the next command
	vendor, err := ch.InfoString(context.Background(), dap.InfoVendor)
	require.NoError(t, err)
	assert.Equal(t, "Nick Kraus", vendor)
}

func TestExchangeRawVectors(t *testing.T) {
	ch := newChannel(t, newSim(t, nil))
	ctx := context.Background()

	cases := []struct{ req, want string }{
		{"1600", "16ff00000000"},
		{"1100000000", "11ff"},
		{"0200", "0202"},
		{"1600", "16ff00000000"},
		{"15020405", "1500"},
		{"1600", "16007704a04b"},
		{"14010100", "1400"},
		{"0201", "0201"},
		{"14010100", "14ff"},
		{"03", "0300"},
	}
	for _, tc := range cases {
		req, err := hex.DecodeString(tc.req)
		require.NoError(t, err)
		resp, err := ch.Exchange(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, tc.want, hex.EncodeToString(resp), "request %s", tc.req)
	}

	resp, err := ch.Exchange(ctx, []byte{0x07})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestExchangeLeavesTrackedStateAlone(t *testing.T) {
	ch := newChannel(t, newSim(t, nil))
	ctx := context.Background()

	resp, err := ch.Exchange(ctx, []byte{0x02, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x02}, resp)
	// the adapter is connected but the channel still gates as disconnected
	assert.Equal(t, probe.ModeDisconnected, ch.State().Mode)
	if err := ch.JTAGConfigure(ctx, 4, 5); !errors.Is(err, probe.ErrWrongMode) {
		t.Fatalf("expected ErrWrongMode, got %v", err)
	}
}

func TestShutdownDisconnects(t *testing.T) {
	ch := newChannel(t, newSim(t, nil))
	ctx := context.Background()

	require.NoError(t, ch.Shutdown(ctx))
	require.NoError(t, ch.ConfigureSWD(ctx, 1_000_000))
	require.NoError(t, ch.Shutdown(ctx))
	assert.Equal(t, probe.ModeDisconnected, ch.State().Mode)
}

func TestHostStatusAndReset(t *testing.T) {
	ch := newChannel(t, newSim(t, nil))
	ctx := context.Background()

	require.NoError(t, ch.HostStatus(ctx, 0, true))
	err := ch.HostStatus(ctx, 7, true)
	var cmdErr *probe.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, dap.OpHostStatus, cmdErr.Op)

	_, err = ch.Connect(ctx, dap.PortJTAG)
	require.NoError(t, err)
	executed, err := ch.ResetTarget(ctx)
	require.NoError(t, err)
	assert.False(t, executed)
	require.NoError(t, ch.Delay(ctx, 10))
	pins, err := ch.SWJPins(ctx, 0, dap.PinNRESET, 0)
	require.NoError(t, err)
	assert.Zero(t, pins&dap.PinNRESET)
}
