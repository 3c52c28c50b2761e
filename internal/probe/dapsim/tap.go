package dapsim

// TAP describes one device on the JTAG scan chain.
type TAP struct {
	IRLen  int
	IDCode uint32
	// IDCodeInstr selects the IDCODE data register.
	IDCodeInstr uint32
}

type tapState uint8

const (
	stateReset tapState = iota
	stateIdle
	stateSelectDR
	stateCaptureDR
	stateShiftDR
	stateExit1DR
	statePauseDR
	stateExit2DR
	stateUpdateDR
	stateSelectIR
	stateCaptureIR
	stateShiftIR
	stateExit1IR
	statePauseIR
	stateExit2IR
	stateUpdateIR
)

// next[state][tms] is the IEEE 1149.1 state transition table.
var next = [16][2]tapState{
	stateReset:     {stateIdle, stateReset},
	stateIdle:      {stateIdle, stateSelectDR},
	stateSelectDR:  {stateCaptureDR, stateSelectIR},
	stateCaptureDR: {stateShiftDR, stateExit1DR},
	stateShiftDR:   {stateShiftDR, stateExit1DR},
	stateExit1DR:   {statePauseDR, stateUpdateDR},
	statePauseDR:   {statePauseDR, stateExit2DR},
	stateExit2DR:   {stateShiftDR, stateUpdateDR},
	stateUpdateDR:  {stateIdle, stateSelectDR},
	stateSelectIR:  {stateCaptureIR, stateReset},
	stateCaptureIR: {stateShiftIR, stateExit1IR},
	stateShiftIR:   {stateShiftIR, stateExit1IR},
	stateExit1IR:   {statePauseIR, stateUpdateIR},
	statePauseIR:   {statePauseIR, stateExit2IR},
	stateExit2IR:   {stateShiftIR, stateUpdateIR},
	stateUpdateIR:  {stateIdle, stateSelectDR},
}

// chain is the scan chain as seen from the adapter's TCK/TMS/TDI/TDO pins.
// Index 0 is the device closest to TDO.
type chain struct {
	taps  []TAP
	state tapState
	ir    []uint32
	// shift holds the selected shift register, element 0 next out on TDO.
	shift []bool
}

func newChain(taps []TAP) *chain {
	c := &chain{taps: taps, ir: make([]uint32, len(taps))}
	c.reset()
	return c
}

func (c *chain) reset() {
	c.state = stateReset
	for i, tap := range c.taps {
		c.ir[i] = tap.IDCodeInstr
	}
}

// clock applies one TCK cycle and returns the TDO level sampled during it.
func (c *chain) clock(tms, tdi bool) bool {
	tdo := true
	switch c.state {
	case stateCaptureIR:
		c.shift = c.shift[:0]
		for _, tap := range c.taps {
			for i := 0; i < tap.IRLen; i++ {
				c.shift = append(c.shift, i == 0)
			}
		}
	case stateCaptureDR:
		c.shift = c.shift[:0]
		for i, tap := range c.taps {
			if c.ir[i] == tap.IDCodeInstr {
				for b := 0; b < 32; b++ {
					c.shift = append(c.shift, tap.IDCode>>b&1 == 1)
				}
				continue
			}
			c.shift = append(c.shift, false)
		}
	case stateShiftIR, stateShiftDR:
		if len(c.shift) > 0 {
			tdo = c.shift[0]
			c.shift = append(c.shift[1:], tdi)
		}
	}

	bit := 0
	if tms {
		bit = 1
	}
	c.state = next[c.state][bit]

	switch c.state {
	case stateUpdateIR:
		off := 0
		for i, tap := range c.taps {
			var v uint32
			for b := 0; b < tap.IRLen && off+b < len(c.shift); b++ {
				if c.shift[off+b] {
					v |= 1 << b
				}
			}
			c.ir[i] = v
			off += tap.IRLen
		}
	case stateReset:
		c.reset()
	}
	return tdo
}
