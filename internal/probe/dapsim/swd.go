package dapsim

import (
	"math/bits"

	"github.com/nick-kraus/riceprobe-test/internal/protocol/dap"
)

const swdLineResetBits = 50

// swdWire models the target side of the SWD wire protocol: it parses
// request headers clocked out by the host and queues the bits the target
// drives back during input cycles.
type swdWire struct {
	t *target

	ones  int
	ready bool

	header []bool
	out    []bool

	writeReq  *dap.TransferRequest
	writeBits []bool
}

func newSWDWire(t *target) *swdWire {
	return &swdWire{t: t}
}

// swj feeds bits driven on SWDIO by SWJ_SEQUENCE. Fifty or more high bits
// form a line reset.
func (w *swdWire) swj(bit bool) {
	if bit {
		w.ones++
		if w.ones >= swdLineResetBits {
			w.ready = true
			w.header = w.header[:0]
			w.out = w.out[:0]
			w.writeReq = nil
		}
		return
	}
	w.ones = 0
}

// drive consumes one bit clocked out by the host in an SWD output sequence.
func (w *swdWire) drive(bit bool) {
	if !w.ready {
		return
	}
	if w.writeReq != nil {
		w.writeBits = append(w.writeBits, bit)
		if len(w.writeBits) == 33 {
			w.finishWrite()
		}
		return
	}
	if len(w.header) == 0 && !bit {
		return
	}
	w.header = append(w.header, bit)
	if len(w.header) == 8 {
		w.request()
		w.header = w.header[:0]
	}
}

// sample returns the level seen by the host on one input cycle. An idle
// line is pulled high.
func (w *swdWire) sample() bool {
	if len(w.out) == 0 {
		return true
	}
	b := w.out[0]
	w.out = w.out[1:]
	return b
}

func (w *swdWire) request() {
	h := w.header
	apndp, rnw, a2, a3 := h[1], h[2], h[3], h[4]
	parity := apndp != rnw != a2 != a3
	if !h[0] || h[5] != parity || h[6] || !h[7] {
		return
	}
	req := dap.TransferRequest{AP: apndp}
	if a2 {
		req.Reg |= 0x4
	}
	if a3 {
		req.Reg |= 0x8
	}
	// turnaround
	w.out = append(w.out, true)
	if rnw {
		req.Op = dap.TransferRead
		v, ack := w.t.access(req, 0)
		w.pushAck(ack)
		if ack == dap.AckOK {
			w.pushWord(v)
		}
		return
	}
	req.Op = dap.TransferWrite
	ack := dap.AckOK
	if req.AP && (w.t.waits > 0 || w.t.sticky || w.t.sel>>24 != 0) {
		_, ack = w.t.access(req, 0)
	}
	w.pushAck(ack)
	if ack == dap.AckOK {
		w.out = append(w.out, true)
		w.writeReq = &req
		w.writeBits = w.writeBits[:0]
	}
}

func (w *swdWire) finishWrite() {
	var v uint32
	for i := 0; i < 32; i++ {
		if w.writeBits[i] {
			v |= 1 << i
		}
	}
	req := *w.writeReq
	w.writeReq = nil
	if w.writeBits[32] != (bits.OnesCount32(v)%2 == 1) {
		w.t.sticky = true
		return
	}
	w.t.access(req, v)
}

func (w *swdWire) pushAck(ack uint8) {
	for i := 0; i < 3; i++ {
		w.out = append(w.out, ack>>i&1 == 1)
	}
}

func (w *swdWire) pushWord(v uint32) {
	for i := 0; i < 32; i++ {
		w.out = append(w.out, v>>i&1 == 1)
	}
	w.out = append(w.out, bits.OnesCount32(v)%2 == 1)
}
