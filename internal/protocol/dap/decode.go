package dap

import (
	"encoding/binary"
	"fmt"
)

// cursor reads little-endian fields and remembers the first short read.
type cursor struct {
	b     []byte
	short bool
}

func (c *cursor) u8() uint8 {
	if len(c.b) < 1 {
		c.short = true
		return 0
	}
	v := c.b[0]
	c.b = c.b[1:]
	return v
}

func (c *cursor) u16() uint16 {
	if len(c.b) < 2 {
		c.short = true
		c.b = nil
		return 0
	}
	v := binary.LittleEndian.Uint16(c.b)
	c.b = c.b[2:]
	return v
}

func (c *cursor) u32() uint32 {
	if len(c.b) < 4 {
		c.short = true
		c.b = nil
		return 0
	}
	v := binary.LittleEndian.Uint32(c.b)
	c.b = c.b[4:]
	return v
}

func (c *cursor) bytes(n int) []byte {
	if len(c.b) < n {
		c.short = true
		c.b = nil
		return nil
	}
	v := append([]byte(nil), c.b[:n]...)
	c.b = c.b[n:]
	return v
}

// cycles decodes a sequence cycle count where zero means 64.
func cycles(info uint8) uint8 {
	n := info & 0x3F
	if n == 0 {
		return 64
	}
	return n
}

// DecodeCommand parses request bytes. Unknown opcodes fail with
// ErrUnsupportedOpcode and structurally incomplete requests with ErrTruncated.
// Trailing bytes after a complete request are ignored.
func DecodeCommand(b []byte) (Command, error) {
	if len(b) == 0 {
		return nil, ErrTruncated
	}
	op := Opcode(b[0])
	c := &cursor{b: b[1:]}
	var cmd Command
	switch op {
	case OpInfo:
		cmd = Info{ID: InfoID(c.u8())}
	case OpHostStatus:
		cmd = HostStatus{Type: c.u8(), Status: c.u8()}
	case OpConnect:
		cmd = Connect{Port: Port(c.u8())}
	case OpDisconnect:
		cmd = Disconnect{}
	case OpTransferConfigure:
		cmd = TransferConfigure{IdleCycles: c.u8(), WaitRetry: c.u16(), MatchRetry: c.u16()}
	case OpTransfer:
		t := Transfer{DAPIndex: c.u8()}
		n := int(c.u8())
		for i := 0; i < n && !c.short; i++ {
			req := ParseTransferRequest(c.u8())
			if req.HasData() {
				req.Value = c.u32()
			}
			t.Requests = append(t.Requests, req)
		}
		cmd = t
	case OpTransferBlock:
		t := TransferBlock{DAPIndex: c.u8(), Count: c.u16()}
		req := ParseTransferRequest(c.u8())
		t.AP, t.Reg, t.Read = req.AP, req.Reg, req.Op == TransferRead
		if !t.Read {
			for i := 0; i < int(t.Count) && !c.short; i++ {
				t.Values = append(t.Values, c.u32())
			}
		}
		cmd = t
	case OpTransferAbort:
		cmd = TransferAbort{}
	case OpDelay:
		cmd = Delay{Microseconds: c.u16()}
	case OpResetTarget:
		cmd = ResetTarget{}
	case OpSWJPins:
		cmd = SWJPins{Output: c.u8(), Select: c.u8(), WaitMicros: c.u32()}
	case OpSWJClock:
		cmd = SWJClock{Hz: c.u32()}
	case OpSWJSequence:
		bits := uint16(c.u8())
		if bits == 0 {
			bits = 256
		}
		cmd = SWJSequence{Bits: bits, Data: c.bytes(seqBytes(int(bits)))}
	case OpSWDConfigure:
		cmd = SWDConfigure{Config: c.u8()}
	case OpJTAGSequence:
		var js JTAGSequence
		n := int(c.u8())
		for i := 0; i < n && !c.short; i++ {
			info := c.u8()
			s := JTAGSeq{Cycles: cycles(info), TMS: info&0x40 != 0, CaptureTDO: info&0x80 != 0}
			s.TDI = c.bytes(seqBytes(int(s.Cycles)))
			js.Sequences = append(js.Sequences, s)
		}
		cmd = js
	case OpJTAGConfigure:
		n := int(c.u8())
		cmd = JTAGConfigure{IRLengths: c.bytes(n)}
	case OpJTAGIDCode:
		cmd = JTAGIDCode{Index: c.u8()}
	case OpSWDSequence:
		var ss SWDSequence
		n := int(c.u8())
		for i := 0; i < n && !c.short; i++ {
			info := c.u8()
			s := SWDSeq{Cycles: cycles(info), Input: info&0x80 != 0}
			if !s.Input {
				s.Data = c.bytes(seqBytes(int(s.Cycles)))
			}
			ss.Sequences = append(ss.Sequences, s)
		}
		cmd = ss
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOpcode, op)
	}
	if c.short {
		return nil, fmt.Errorf("%w: %s", ErrTruncated, op)
	}
	return cmd, nil
}

func malformed(op Opcode, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedResponse, op, fmt.Sprintf(format, args...))
}

// DecodeResponse parses the response to cmd. The request is needed because
// the shape of TRANSFER, TRANSFER_BLOCK and sequence responses depends on it.
func DecodeResponse(cmd Command, b []byte) (Response, error) {
	op := cmd.Opcode()
	if op == OpTransferAbort {
		return nil, ErrNoResponse
	}
	if len(b) == 0 {
		return nil, malformed(op, "empty response")
	}
	if len(b) == 1 && b[0] == RejectByte {
		return nil, fmt.Errorf("%w: %s", ErrRejected, op)
	}
	if Opcode(b[0]) != op {
		return nil, fmt.Errorf("%w: %w: sent %s, got %s", ErrMalformedResponse, ErrOpcodeMismatch, op, Opcode(b[0]))
	}
	body := b[1:]
	exact := func(n int) error {
		if len(body) != n {
			return malformed(op, "length %d, want %d", len(body), n)
		}
		return nil
	}

	switch c := cmd.(type) {
	case Info:
		if len(body) < 1 || int(body[0]) != len(body)-1 {
			return nil, malformed(op, "info length prefix does not match %d data bytes", len(body))
		}
		return InfoResponse{ID: c.ID, Data: append([]byte(nil), body[1:]...)}, nil
	case HostStatus, Disconnect, TransferConfigure, Delay, SWJClock, SWJSequence, SWDConfigure, JTAGConfigure:
		if err := exact(1); err != nil {
			return nil, err
		}
		return StatusResponse{Op: op, Status: body[0]}, nil
	case Connect:
		if err := exact(1); err != nil {
			return nil, err
		}
		return ConnectResponse{Port: Port(body[0])}, nil
	case ResetTarget:
		if err := exact(2); err != nil {
			return nil, err
		}
		return ResetTargetResponse{Status: body[0], Execute: body[1]}, nil
	case SWJPins:
		if err := exact(1); err != nil {
			return nil, err
		}
		return PinsResponse{Pins: body[0]}, nil
	case Transfer:
		return decodeTransfer(c, body)
	case TransferBlock:
		return decodeTransferBlock(c, body)
	case JTAGSequence:
		return decodeJTAGSequence(c, body)
	case SWDSequence:
		return decodeSWDSequence(c, body)
	case JTAGIDCode:
		if err := exact(5); err != nil {
			return nil, err
		}
		return IDCodeResponse{Status: body[0], IDCode: binary.LittleEndian.Uint32(body[1:])}, nil
	case Raw:
		return RawResponse{Op: op, Payload: append([]byte(nil), body...)}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedOpcode, cmd)
	}
}

func decodeTransfer(cmd Transfer, body []byte) (Response, error) {
	if len(body) < 2 {
		return nil, malformed(OpTransfer, "length %d, want at least 2", len(body))
	}
	r := TransferResponse{Count: body[0], Status: TransferStatus(body[1])}
	if int(r.Count) > len(cmd.Requests) {
		return nil, malformed(OpTransfer, "%d items completed of %d sent", r.Count, len(cmd.Requests))
	}
	c := &cursor{b: body[2:]}
	for _, req := range cmd.Requests[:r.Count] {
		if req.Timestamp {
			r.Timestamps = append(r.Timestamps, c.u32())
		}
		if req.ReturnsData() {
			r.Data = append(r.Data, c.u32())
		}
	}
	if c.short || len(c.b) != 0 {
		return nil, malformed(OpTransfer, "data length %d does not match %d completed items", len(body)-2, r.Count)
	}
	return r, nil
}

func decodeTransferBlock(cmd TransferBlock, body []byte) (Response, error) {
	if len(body) < 3 {
		return nil, malformed(OpTransferBlock, "length %d, want at least 3", len(body))
	}
	r := TransferBlockResponse{
		Count:  binary.LittleEndian.Uint16(body),
		Status: TransferStatus(body[2]),
	}
	if r.Count > cmd.Count {
		return nil, malformed(OpTransferBlock, "%d words completed of %d sent", r.Count, cmd.Count)
	}
	data := body[3:]
	want := 0
	if cmd.Read {
		want = int(r.Count) * 4
	}
	if len(data) != want {
		return nil, malformed(OpTransferBlock, "data length %d, want %d", len(data), want)
	}
	for len(data) > 0 {
		r.Data = append(r.Data, binary.LittleEndian.Uint32(data))
		data = data[4:]
	}
	return r, nil
}

func decodeJTAGSequence(cmd JTAGSequence, body []byte) (Response, error) {
	if len(body) < 1 {
		return nil, malformed(OpJTAGSequence, "missing status")
	}
	r := JTAGSequenceResponse{Status: body[0]}
	if r.Status != StatusOK && len(body) == 1 {
		return r, nil
	}
	c := &cursor{b: body[1:]}
	for _, s := range cmd.Sequences {
		if n := s.CaptureBytes(); n > 0 {
			r.TDO = append(r.TDO, c.bytes(n))
		}
	}
	if c.short || len(c.b) != 0 {
		return nil, malformed(OpJTAGSequence, "tdo length %d does not match request", len(body)-1)
	}
	return r, nil
}

func decodeSWDSequence(cmd SWDSequence, body []byte) (Response, error) {
	if len(body) < 1 {
		return nil, malformed(OpSWDSequence, "missing status")
	}
	r := SWDSequenceResponse{Status: body[0]}
	if r.Status != StatusOK && len(body) == 1 {
		return r, nil
	}
	c := &cursor{b: body[1:]}
	for _, s := range cmd.Sequences {
		if n := s.InputBytes(); n > 0 {
			r.Data = append(r.Data, c.bytes(n))
		}
	}
	if c.short || len(c.b) != 0 {
		return nil, malformed(OpSWDSequence, "input length %d does not match request", len(body)-1)
	}
	return r, nil
}
