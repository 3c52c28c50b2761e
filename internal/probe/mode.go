package probe

import (
	"fmt"

	"github.com/nick-kraus/riceprobe-test/internal/protocol/dap"
)

// Mode is the debug port the adapter is currently connected with.
type Mode uint8

const (
	ModeDisconnected Mode = iota
	ModeSWD
	ModeJTAG
)

func (m Mode) String() string {
	switch m {
	case ModeDisconnected:
		return "disconnected"
	case ModeSWD:
		return "swd"
	case ModeJTAG:
		return "jtag"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Port returns the CONNECT port that selects m. ModeDisconnected maps to
// PortDefault.
func (m Mode) Port() dap.Port {
	switch m {
	case ModeSWD:
		return dap.PortSWD
	case ModeJTAG:
		return dap.PortJTAG
	default:
		return dap.PortDefault
	}
}

// ParseMode accepts "swd", "jtag" and "default" (or empty).
func ParseMode(s string) (Mode, error) {
	switch s {
	case "swd":
		return ModeSWD, nil
	case "jtag":
		return ModeJTAG, nil
	case "", "default":
		return ModeDisconnected, nil
	default:
		return ModeDisconnected, fmt.Errorf("%w: %q", ErrInvalidModeRequest, s)
	}
}

func modeFromPort(p dap.Port) Mode {
	switch p {
	case dap.PortSWD:
		return ModeSWD
	case dap.PortJTAG:
		return ModeJTAG
	default:
		return ModeDisconnected
	}
}

// lineResetBits is the minimum run of SWDIO/TMS high bits that resets both
// the SWD and JTAG state machines.
const lineResetBits = 50

// PortState tracks the adapter's debug port mode and the configuration
// applied in that mode. It is not safe for concurrent use; Channel guards it.
type PortState struct {
	mode             Mode
	defaultMode      Mode
	lineResetPending bool

	clockHz   uint32
	irLengths []uint8
	swdConfig uint8
	transfer  dap.TransferConfigure
}

// NewPortState starts Disconnected. defaultMode resolves CONNECT requests for
// the default port; ModeDisconnected leaves the choice to the adapter.
func NewPortState(defaultMode Mode) *PortState {
	return &PortState{defaultMode: defaultMode}
}

func (s *PortState) Mode() Mode { return s.mode }

// LineResetPending reports whether a mode switch still awaits a line reset.
func (s *PortState) LineResetPending() bool { return s.lineResetPending }

// Resolve maps a requested CONNECT port to the port sent on the wire.
func (s *PortState) Resolve(p dap.Port) (dap.Port, error) {
	switch p {
	case dap.PortSWD, dap.PortJTAG:
		return p, nil
	case dap.PortDefault:
		return s.defaultMode.Port(), nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidModeRequest, p)
	}
}

// Allow reports whether cmd may be issued in the current mode.
func (s *PortState) Allow(cmd dap.Command) error {
	op := cmd.Opcode()
	switch op {
	case dap.OpInfo, dap.OpHostStatus:
		return nil
	case dap.OpConnect:
		if c, ok := cmd.(dap.Connect); ok {
			_, err := s.Resolve(c.Port)
			return err
		}
		return nil
	}
	if s.mode == ModeDisconnected {
		return fmt.Errorf("%w: %s while %s", ErrWrongMode, op, s.mode)
	}
	switch op {
	case dap.OpJTAGConfigure:
		if s.mode != ModeJTAG {
			return fmt.Errorf("%w: %s while %s", ErrWrongMode, op, s.mode)
		}
	case dap.OpSWDConfigure:
		if s.mode != ModeSWD {
			return fmt.Errorf("%w: %s while %s", ErrWrongMode, op, s.mode)
		}
	case dap.OpTransfer, dap.OpTransferBlock:
		if s.lineResetPending {
			return fmt.Errorf("%w: %s", ErrLineResetRequired, op)
		}
	}
	return nil
}

// Connected records a successful CONNECT. Switching directly between SWD and
// JTAG requires a line reset before the next transfer.
func (s *PortState) Connected(p dap.Port) {
	next := modeFromPort(p)
	if next == ModeDisconnected {
		s.Disconnect()
		return
	}
	if s.mode != ModeDisconnected && s.mode != next {
		s.lineResetPending = true
	}
	s.mode = next
}

func (s *PortState) Disconnect() {
	s.mode = ModeDisconnected
	s.lineResetPending = false
}

// Observe records the effect of a command the adapter accepted.
func (s *PortState) Observe(cmd dap.Command, resp dap.Response) {
	if r, ok := resp.(dap.ConnectResponse); ok {
		s.Connected(r.Port)
		return
	}
	st, ok := resp.(dap.StatusResponse)
	if !ok || !st.OK() {
		return
	}
	switch c := cmd.(type) {
	case dap.Disconnect:
		s.Disconnect()
	case dap.SWJClock:
		s.clockHz = c.Hz
	case dap.JTAGConfigure:
		s.irLengths = append(s.irLengths[:0], c.IRLengths...)
	case dap.SWDConfigure:
		s.swdConfig = c.Config
	case dap.TransferConfigure:
		s.transfer = c
	case dap.SWJSequence:
		if s.lineResetPending && longestOnes(c.Data, int(c.Bits)) >= lineResetBits {
			s.lineResetPending = false
		}
	}
}

// longestOnes returns the longest run of set bits in the first n bits of
// data, LSB first.
func longestOnes(data []byte, n int) int {
	best, run := 0, 0
	for i := 0; i < n && i/8 < len(data); i++ {
		if data[i/8]>>(i%8)&1 == 1 {
			run++
			if run > best {
				best = run
			}
			continue
		}
		run = 0
	}
	return best
}

// Snapshot is a copy of PortState for reporting.
type Snapshot struct {
	Mode             Mode
	LineResetPending bool
	ClockHz          uint32
	IRLengths        []uint8
	SWDConfig        uint8
	Transfer         dap.TransferConfigure
}

func (s *PortState) Snapshot() Snapshot {
	return Snapshot{
		Mode:             s.mode,
		LineResetPending: s.lineResetPending,
		ClockHz:          s.clockHz,
		IRLengths:        append([]uint8(nil), s.irLengths...),
		SWDConfig:        s.swdConfig,
		Transfer:         s.transfer,
	}
}
