package dap

import "fmt"

// Request byte bits shared by TRANSFER and TRANSFER_BLOCK.
const (
	reqAPnDP      uint8 = 0x01
	reqRnW        uint8 = 0x02
	reqAddrMask   uint8 = 0x0C
	reqValueMatch uint8 = 0x10
	reqMatchMask  uint8 = 0x20
	reqTimestamp  uint8 = 0x80
)

// TransferOp is the kind of one register access within a TRANSFER batch.
type TransferOp uint8

const (
	TransferRead TransferOp = iota
	TransferWrite
	// TransferReadMatch reads until the masked value equals Value or the
	// match retry budget is spent.
	TransferReadMatch
	// TransferWriteMatchMask loads the mask used by later TransferReadMatch items.
	TransferWriteMatchMask
)

func (op TransferOp) String() string {
	switch op {
	case TransferRead:
		return "read"
	case TransferWrite:
		return "write"
	case TransferReadMatch:
		return "read_match"
	case TransferWriteMatchMask:
		return "match_mask"
	default:
		return fmt.Sprintf("transfer_op(%d)", uint8(op))
	}
}

// TransferRequest is one register access. Reg is the byte offset within the
// selected bank (0x0, 0x4, 0x8 or 0xC).
type TransferRequest struct {
	AP        bool
	Reg       uint8
	Op        TransferOp
	Value     uint32
	Timestamp bool
}

func DPRead(reg uint8) TransferRequest {
	return TransferRequest{Reg: reg, Op: TransferRead}
}

func DPWrite(reg uint8, value uint32) TransferRequest {
	return TransferRequest{Reg: reg, Op: TransferWrite, Value: value}
}

func APRead(reg uint8) TransferRequest {
	return TransferRequest{AP: true, Reg: reg, Op: TransferRead}
}

func APWrite(reg uint8, value uint32) TransferRequest {
	return TransferRequest{AP: true, Reg: reg, Op: TransferWrite, Value: value}
}

func ReadMatch(ap bool, reg uint8, value uint32) TransferRequest {
	return TransferRequest{AP: ap, Reg: reg, Op: TransferReadMatch, Value: value}
}

func MatchMask(mask uint32) TransferRequest {
	return TransferRequest{Op: TransferWriteMatchMask, Value: mask}
}

// Byte returns the request byte of r.
func (r TransferRequest) Byte() uint8 {
	b := r.Reg & reqAddrMask
	if r.AP {
		b |= reqAPnDP
	}
	switch r.Op {
	case TransferRead:
		b |= reqRnW
	case TransferReadMatch:
		b |= reqRnW | reqValueMatch
	case TransferWriteMatchMask:
		b |= reqMatchMask
	}
	if r.Timestamp {
		b |= reqTimestamp
	}
	return b
}

// ParseTransferRequest decodes a request byte. Value is left zero.
func ParseTransferRequest(b uint8) TransferRequest {
	r := TransferRequest{
		AP:        b&reqAPnDP != 0,
		Reg:       b & reqAddrMask,
		Timestamp: b&reqTimestamp != 0,
	}
	switch {
	case b&reqMatchMask != 0 && b&reqRnW == 0:
		r.Op = TransferWriteMatchMask
	case b&reqRnW != 0 && b&reqValueMatch != 0:
		r.Op = TransferReadMatch
	case b&reqRnW != 0:
		r.Op = TransferRead
	default:
		r.Op = TransferWrite
	}
	return r
}

// HasData reports whether four data bytes follow the request byte.
func (r TransferRequest) HasData() bool {
	return r.Op != TransferRead
}

// ReturnsData reports whether a completed r contributes a read word to the response.
func (r TransferRequest) ReturnsData() bool {
	return r.Op == TransferRead
}

func (r TransferRequest) String() string {
	port := "DP"
	if r.AP {
		port = "AP"
	}
	if r.HasData() {
		return fmt.Sprintf("%s %s 0x%x value=0x%08x", port, r.Op, r.Reg, r.Value)
	}
	return fmt.Sprintf("%s %s 0x%x", port, r.Op, r.Reg)
}

// Acknowledge values reported in bits 0-2 of a transfer status.
const (
	AckOK         uint8 = 0x01
	AckWait       uint8 = 0x02
	AckFault      uint8 = 0x04
	AckNoResponse uint8 = 0x07
)

const (
	statusAckMask       uint8 = 0x07
	statusProtocolError uint8 = 0x08
	statusMismatch      uint8 = 0x10
)

// TransferStatus is the status byte of TRANSFER and TRANSFER_BLOCK responses.
// It describes the last executed item.
type TransferStatus uint8

func NewTransferStatus(ack uint8, protocolError, mismatch bool) TransferStatus {
	s := ack & statusAckMask
	if protocolError {
		s |= statusProtocolError
	}
	if mismatch {
		s |= statusMismatch
	}
	return TransferStatus(s)
}

func (s TransferStatus) Ack() uint8 { return uint8(s) & statusAckMask }

// OK reports a clean OK acknowledge with no protocol error and no mismatch.
func (s TransferStatus) OK() bool { return uint8(s) == AckOK }

func (s TransferStatus) Wait() bool          { return s.Ack() == AckWait }
func (s TransferStatus) Fault() bool         { return s.Ack() == AckFault }
func (s TransferStatus) NoAck() bool         { return s.Ack() == AckNoResponse }
func (s TransferStatus) ProtocolError() bool { return uint8(s)&statusProtocolError != 0 }
func (s TransferStatus) Mismatch() bool      { return uint8(s)&statusMismatch != 0 }

func (s TransferStatus) String() string {
	var ack string
	switch s.Ack() {
	case AckOK:
		ack = "ok"
	case AckWait:
		ack = "wait"
	case AckFault:
		ack = "fault"
	case AckNoResponse:
		ack = "no_ack"
	default:
		ack = fmt.Sprintf("ack(%d)", s.Ack())
	}
	if s.ProtocolError() {
		ack += "+swd_error"
	}
	if s.Mismatch() {
		ack += "+mismatch"
	}
	return ack
}
