package probe

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/nick-kraus/riceprobe-test/internal/protocol/dap"
	"github.com/rs/zerolog/log"
)

var (
	// 56 cycles of SWDIO/TMS high reset both the SWD and JTAG state machines.
	lineReset = bytes.Repeat([]byte{0xff}, 7)

	jtagToSWD = []byte{0x9e, 0xe7}
	swdToJTAG = []byte{0x3c, 0xe7}
)

const resetPulse = 10 * time.Millisecond

// ConfigureJTAG connects in JTAG mode at clockHz and leaves every TAP in
// Run-Test/Idle.
func (c *Channel) ConfigureJTAG(ctx context.Context, clockHz uint32) error {
	if _, err := c.Connect(ctx, dap.PortJTAG); err != nil {
		return fmt.Errorf("probe: configure jtag: %w", err)
	}
	if err := c.SWJClock(ctx, clockHz); err != nil {
		return fmt.Errorf("probe: configure jtag: %w", err)
	}
	if err := c.ResetTargetPins(ctx); err != nil {
		return fmt.Errorf("probe: configure jtag: %w", err)
	}
	steps := []struct {
		bits uint16
		data []byte
	}{
		{56, lineReset},
		{16, swdToJTAG},
		{8, []byte{0xff}},
	}
	for _, s := range steps {
		if err := c.SWJSequence(ctx, s.bits, s.data); err != nil {
			return fmt.Errorf("probe: configure jtag: %w", err)
		}
	}
	_, err := c.JTAGSequence(ctx,
		dap.JTAGSeq{Cycles: 8, TMS: true, TDI: []byte{0x00}},
		dap.JTAGSeq{Cycles: 1, TDI: []byte{0x00}},
	)
	if err != nil {
		return fmt.Errorf("probe: configure jtag: %w", err)
	}
	log.Debug().Msgf("probe.Channel configure jtag clock_hz=%d", clockHz)
	return nil
}

// ConfigureSWD connects in SWD mode at clockHz, performs the JTAG-to-SWD
// switch and leaves the wire idle after a line reset.
func (c *Channel) ConfigureSWD(ctx context.Context, clockHz uint32) error {
	if _, err := c.Connect(ctx, dap.PortSWD); err != nil {
		return fmt.Errorf("probe: configure swd: %w", err)
	}
	if err := c.SWJClock(ctx, clockHz); err != nil {
		return fmt.Errorf("probe: configure swd: %w", err)
	}
	if err := c.ResetTargetPins(ctx); err != nil {
		return fmt.Errorf("probe: configure swd: %w", err)
	}
	steps := []struct {
		bits uint16
		data []byte
	}{
		{56, lineReset},
		{16, jtagToSWD},
		{56, lineReset},
		{8, []byte{0x00}},
	}
	for _, s := range steps {
		if err := c.SWJSequence(ctx, s.bits, s.data); err != nil {
			return fmt.Errorf("probe: configure swd: %w", err)
		}
	}
	log.Debug().Msgf("probe.Channel configure swd clock_hz=%d", clockHz)
	return nil
}

// ResetTargetPins pulses nRESET low for a fixed interval.
func (c *Channel) ResetTargetPins(ctx context.Context) error {
	if _, err := c.SWJPins(ctx, 0x00, dap.PinNRESET, 0xFFFF); err != nil {
		return err
	}
	c.cfg.Sleep(resetPulse)
	_, err := c.SWJPins(ctx, dap.PinNRESET, dap.PinNRESET, 0xFFFF)
	return err
}

// Shutdown returns the wire to reset, releases the target from reset and
// disconnects. It is a no-op when already disconnected.
func (c *Channel) Shutdown(ctx context.Context) error {
	if c.State().Mode == ModeDisconnected {
		return nil
	}
	if err := c.SWJSequence(ctx, 56, lineReset); err != nil {
		log.Warn().Err(err).Msg("probe.Channel shutdown line reset")
	}
	if err := c.ResetTargetPins(ctx); err != nil {
		log.Warn().Err(err).Msg("probe.Channel shutdown reset pins")
	}
	return c.Disconnect(ctx)
}
