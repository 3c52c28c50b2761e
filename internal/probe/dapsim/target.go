package dapsim

import "github.com/nick-kraus/riceprobe-test/internal/protocol/dap"

// DP register offsets.
const (
	dpIDCode   uint8 = 0x0 // read; ABORT on write
	dpCtrlStat uint8 = 0x4
	dpSelect   uint8 = 0x8 // write; RESEND on read
	dpRdBuff   uint8 = 0xC
)

// MEM-AP register offsets in bank 0 and bank 0xF.
const (
	apCSW  uint8 = 0x0
	apTAR  uint8 = 0x4
	apDRW  uint8 = 0xC
	apBase uint8 = 0x8
	apIDR  uint8 = 0xC
)

const (
	ctrlStickyErr    uint32 = 1 << 5
	ctrlCDbgPwrUp    uint32 = 1 << 28
	ctrlCDbgPwrAck   uint32 = 1 << 29
	ctrlCSysPwrUp    uint32 = 1 << 30
	ctrlCSysPwrAck   uint32 = 1 << 31
	abortStkErrClr   uint32 = 1 << 2
	cswAddrIncMask   uint32 = 0x30
	cswAddrIncSingle uint32 = 0x10
)

// target models one ADIv5 debug port with a single MEM-AP at APSEL 0.
// Accesses to any other AP fault and set the sticky error flag.
type target struct {
	idcode uint32
	apIDR  uint32
	base   uint32

	ctrl   uint32
	sel    uint32
	sticky bool
	rdbuff uint32

	csw uint32
	tar uint32
	mem map[uint32]uint32

	waits int
}

func newTarget(idcode, apIDR uint32) *target {
	return &target{
		idcode: idcode,
		apIDR:  apIDR,
		base:   0xE00FF003,
		mem:    make(map[uint32]uint32),
	}
}

// access performs one register access and returns the read value and the
// acknowledge the target drives.
func (t *target) access(req dap.TransferRequest, value uint32) (uint32, uint8) {
	read := req.Op == dap.TransferRead || req.Op == dap.TransferReadMatch
	if !req.AP {
		return t.dp(req.Reg, read, value), dap.AckOK
	}
	if t.waits > 0 {
		t.waits--
		return 0, dap.AckWait
	}
	if t.sticky || t.sel>>24 != 0 {
		t.sticky = true
		return 0, dap.AckFault
	}
	v := t.ap(req.Reg, read, value)
	t.rdbuff = v
	return v, dap.AckOK
}

func (t *target) dp(reg uint8, read bool, value uint32) uint32 {
	switch {
	case reg == dpIDCode && read:
		return t.idcode
	case reg == dpIDCode:
		if value&abortStkErrClr != 0 {
			t.sticky = false
		}
	case reg == dpCtrlStat && read:
		v := t.ctrl & (ctrlCDbgPwrUp | ctrlCSysPwrUp)
		if v&ctrlCDbgPwrUp != 0 {
			v |= ctrlCDbgPwrAck
		}
		if v&ctrlCSysPwrUp != 0 {
			v |= ctrlCSysPwrAck
		}
		if t.sticky {
			v |= ctrlStickyErr
		}
		return v
	case reg == dpCtrlStat:
		// STICKYERR is write-one-to-clear.
		if value&ctrlStickyErr != 0 {
			t.sticky = false
		}
		t.ctrl = value &^ ctrlStickyErr
	case reg == dpSelect && read:
		return t.sel
	case reg == dpSelect:
		t.sel = value
	case reg == dpRdBuff && read:
		return t.rdbuff
	}
	return 0
}

func (t *target) ap(reg uint8, read bool, value uint32) uint32 {
	bank := (t.sel >> 4) & 0xF
	if bank == 0xF {
		switch reg {
		case apIDR:
			return t.apIDR
		case apBase:
			return t.base
		}
		return 0
	}
	if bank != 0 {
		return 0
	}
	switch reg {
	case apCSW:
		if read {
			return t.csw
		}
		t.csw = value
	case apTAR:
		if read {
			return t.tar
		}
		t.tar = value
	case apDRW:
		addr := t.tar &^ 0x3
		var v uint32
		if read {
			v = t.mem[addr]
		} else {
			t.mem[addr] = value
		}
		if t.csw&cswAddrIncMask == cswAddrIncSingle {
			t.tar += 4
		}
		return v
	}
	return 0
}
