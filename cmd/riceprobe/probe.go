package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nick-kraus/riceprobe-test/internal/probe"
	"github.com/nick-kraus/riceprobe-test/internal/probe/dapsim"
	"github.com/nick-kraus/riceprobe-test/internal/protocol/dap"
	"github.com/nick-kraus/riceprobe-test/internal/usbdap"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 2 * time.Second

// openChannel opens the adapter (USB or simulated) and wraps it in a
// channel. The returned release disconnects and closes the link.
func (a *app) openChannel() (*probe.Channel, func(), error) {
	var (
		link      probe.Link
		closeLink func() error
	)
	if a.sim {
		link = dapsim.New(dapsim.DefaultConfig())
		closeLink = func() error { return nil }
	} else {
		dev, err := usbdap.Open(usbdap.Config{
			VID:       a.cfg.Probe.VID,
			PID:       a.cfg.Probe.PID,
			Interface: a.cfg.Probe.Interface,
		})
		if err != nil {
			return nil, nil, err
		}
		link, closeLink = dev, dev.Close
	}

	ch, err := probe.NewChannel(link, a.cfg.ChannelOptions()...)
	if err != nil {
		_ = closeLink()
		return nil, nil, err
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := ch.Shutdown(ctx); err != nil {
			log.Debug().Err(err).Msg("riceprobe shutdown")
		}
		if err := closeLink(); err != nil {
			log.Debug().Err(err).Msg("riceprobe close link")
		}
	}
	return ch, release, nil
}

// configure brings the port up in mode and returns the mode used.
func (a *app) configure(ctx context.Context, ch *probe.Channel, mode string) (probe.Mode, error) {
	m := a.cfg.Probe.DefaultMode
	if mode != "" {
		parsed, err := probe.ParseMode(mode)
		if err != nil {
			return 0, err
		}
		m = parsed
	}
	if m == probe.ModeDisconnected {
		// let the adapter pick, then run the script for what it chose
		connected, err := ch.Connect(ctx, dap.PortDefault)
		if err != nil {
			return 0, err
		}
		m = connected
	}
	clock := a.cfg.Probe.ClockHz
	switch m {
	case probe.ModeSWD:
		if err := ch.ConfigureSWD(ctx, clock); err != nil {
			return 0, err
		}
	case probe.ModeJTAG:
		if err := ch.ConfigureJTAG(ctx, clock); err != nil {
			return 0, err
		}
		if err := ch.JTAGConfigure(ctx, a.cfg.Probe.JTAGIRLengths...); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("adapter did not connect in swd or jtag mode")
	}
	log.Debug().Msgf("riceprobe configured mode=%s clock=%s", m, humanize.SIWithDigits(float64(clock), 2, "Hz"))
	return m, nil
}

var infoStrings = []dap.InfoID{
	dap.InfoVendor,
	dap.InfoProduct,
	dap.InfoSerialNumber,
	dap.InfoProtocolVersion,
	dap.InfoFirmwareVersion,
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print adapter identification and capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ch, release, err := a.openChannel()
			if err != nil {
				return err
			}
			defer release()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			for _, id := range infoStrings {
				s, err := ch.InfoString(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-18s %s\n", id, s)
			}
			caps, err := ch.Info(ctx, dap.InfoCapabilities)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%-18s %s\n", dap.InfoCapabilities, capabilities(uint8(caps.Uint())))
			count, err := ch.Info(ctx, dap.InfoPacketCount)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%-18s %d\n", dap.InfoPacketCount, count.Uint())
			size, err := ch.Info(ctx, dap.InfoPacketSize)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%-18s %s\n", dap.InfoPacketSize, humanize.IBytes(uint64(size.Uint())))
			return nil
		},
	}
}

func capabilities(c uint8) string {
	var names []string
	if c&dap.CapSWD != 0 {
		names = append(names, "swd")
	}
	if c&dap.CapJTAG != 0 {
		names = append(names, "jtag")
	}
	if len(names) == 0 {
		return fmt.Sprintf("none (0x%02x)", c)
	}
	return fmt.Sprintf("%s (0x%02x)", strings.Join(names, ","), c)
}

func newIDCodeCmd(a *app) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "idcode",
		Short: "Read the JTAG TAP idcodes or the SWD DPIDR",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ch, release, err := a.openChannel()
			if err != nil {
				return err
			}
			defer release()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			m, err := a.configure(ctx, ch, mode)
			if err != nil {
				return err
			}
			if m == probe.ModeSWD {
				data, err := ch.Transfer(ctx, 0, dap.DPRead(0x0))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "dpidr 0x%08x\n", data[0])
				return nil
			}
			for i := range a.cfg.Probe.JTAGIRLengths {
				id, err := ch.JTAGIDCode(ctx, uint8(i))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "tap%d  0x%08x\n", i, id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "jtag or swd (default from config)")
	return cmd
}

type transferFlags struct {
	mode  string
	index uint8
	ap    bool
	reg   string
	count uint16
}

func (f *transferFlags) register() (uint8, error) {
	v, err := strconv.ParseUint(f.reg, 0, 8)
	if err != nil || v&^0xC != 0 {
		return 0, fmt.Errorf("bad register %q: want 0x0, 0x4, 0x8 or 0xC", f.reg)
	}
	return uint8(v), nil
}

func newTransferCmd(a *app) *cobra.Command {
	f := &transferFlags{}
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Read or write DP/AP registers",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.mode, "mode", "", "jtag or swd (default from config)")
	pf.Uint8Var(&f.index, "index", 0, "DAP index (JTAG TAP)")
	pf.BoolVar(&f.ap, "ap", false, "access the AP instead of the DP")
	pf.StringVar(&f.reg, "reg", "0x0", "register offset")

	read := &cobra.Command{
		Use:   "read",
		Short: "Read a register, --count times as one block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := f.register()
			if err != nil {
				return err
			}
			ch, release, err := a.openChannel()
			if err != nil {
				return err
			}
			defer release()

			ctx := cmd.Context()
			if _, err := a.configure(ctx, ch, f.mode); err != nil {
				return err
			}
			var data []uint32
			if f.count > 1 {
				data, err = ch.TransferBlockRead(ctx, f.index, f.ap, reg, f.count)
			} else {
				req := dap.DPRead(reg)
				if f.ap {
					req = dap.APRead(reg)
				}
				data, err = ch.Transfer(ctx, f.index, req)
			}
			for _, v := range data {
				fmt.Fprintf(cmd.OutOrStdout(), "0x%08x\n", v)
			}
			return err
		},
	}
	read.Flags().Uint16Var(&f.count, "count", 1, "number of reads")

	write := &cobra.Command{
		Use:   "write VALUE...",
		Short: "Write one or more values to a register",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := f.register()
			if err != nil {
				return err
			}
			values := make([]uint32, 0, len(args))
			for _, arg := range args {
				v, err := strconv.ParseUint(arg, 0, 32)
				if err != nil {
					return fmt.Errorf("bad value %q: %w", arg, err)
				}
				values = append(values, uint32(v))
			}
			ch, release, err := a.openChannel()
			if err != nil {
				return err
			}
			defer release()

			ctx := cmd.Context()
			if _, err := a.configure(ctx, ch, f.mode); err != nil {
				return err
			}
			if len(values) > 1 {
				err = ch.TransferBlockWrite(ctx, f.index, f.ap, reg, values)
			} else {
				req := dap.DPWrite(reg, values[0])
				if f.ap {
					req = dap.APWrite(reg, values[0])
				}
				_, err = ch.Transfer(ctx, f.index, req)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d word(s)\n", len(values))
			return nil
		},
	}
	cmd.AddCommand(read, write)
	return cmd
}
