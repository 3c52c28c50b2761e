package dap

import (
	"encoding/binary"
	"fmt"
)

// EncodeCommand returns the request bytes for cmd.
func EncodeCommand(cmd Command) ([]byte, error) {
	b := []byte{uint8(cmd.Opcode())}
	switch c := cmd.(type) {
	case Info:
		return append(b, uint8(c.ID)), nil
	case HostStatus:
		return append(b, c.Type, c.Status), nil
	case Connect:
		return append(b, uint8(c.Port)), nil
	case Disconnect, TransferAbort, ResetTarget:
		return b, nil
	case TransferConfigure:
		b = append(b, c.IdleCycles)
		b = binary.LittleEndian.AppendUint16(b, c.WaitRetry)
		return binary.LittleEndian.AppendUint16(b, c.MatchRetry), nil
	case Transfer:
		return appendTransfer(b, c)
	case TransferBlock:
		return appendTransferBlock(b, c)
	case Delay:
		return binary.LittleEndian.AppendUint16(b, c.Microseconds), nil
	case SWJPins:
		b = append(b, c.Output, c.Select)
		return binary.LittleEndian.AppendUint32(b, c.WaitMicros), nil
	case SWJClock:
		return binary.LittleEndian.AppendUint32(b, c.Hz), nil
	case SWJSequence:
		if c.Bits == 0 || c.Bits > 256 {
			return nil, fmt.Errorf("%w: swj sequence of %d bits", ErrInvalidCommand, c.Bits)
		}
		if len(c.Data) != seqBytes(int(c.Bits)) {
			return nil, fmt.Errorf("%w: swj sequence of %d bits carries %d bytes", ErrInvalidCommand, c.Bits, len(c.Data))
		}
		b = append(b, uint8(c.Bits))
		return append(b, c.Data...), nil
	case SWDConfigure:
		return append(b, c.Config), nil
	case JTAGSequence:
		return appendJTAGSequence(b, c)
	case JTAGConfigure:
		if len(c.IRLengths) > 0xFF {
			return nil, fmt.Errorf("%w: %d jtag devices", ErrInvalidCommand, len(c.IRLengths))
		}
		b = append(b, uint8(len(c.IRLengths)))
		return append(b, c.IRLengths...), nil
	case JTAGIDCode:
		return append(b, c.Index), nil
	case SWDSequence:
		return appendSWDSequence(b, c)
	case Raw:
		if !c.Op.Known() {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedOpcode, c.Op)
		}
		return append(b, c.Payload...), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedOpcode, cmd)
	}
}

func appendTransfer(b []byte, c Transfer) ([]byte, error) {
	if len(c.Requests) > 0xFF {
		return nil, fmt.Errorf("%w: %d transfer items", ErrInvalidCommand, len(c.Requests))
	}
	b = append(b, c.DAPIndex, uint8(len(c.Requests)))
	for _, req := range c.Requests {
		b = append(b, req.Byte())
		if req.HasData() {
			b = binary.LittleEndian.AppendUint32(b, req.Value)
		}
	}
	return b, nil
}

func appendTransferBlock(b []byte, c TransferBlock) ([]byte, error) {
	if c.Read && len(c.Values) != 0 {
		return nil, fmt.Errorf("%w: block read carries %d values", ErrInvalidCommand, len(c.Values))
	}
	if !c.Read && len(c.Values) != int(c.Count) {
		return nil, fmt.Errorf("%w: block write of %d words carries %d values", ErrInvalidCommand, c.Count, len(c.Values))
	}
	req := TransferRequest{AP: c.AP, Reg: c.Reg, Op: TransferWrite}
	if c.Read {
		req.Op = TransferRead
	}
	b = append(b, c.DAPIndex)
	b = binary.LittleEndian.AppendUint16(b, c.Count)
	b = append(b, req.Byte())
	for _, v := range c.Values {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b, nil
}

// seqCycles encodes a 1..64 cycle count, 64 being sent as zero.
func seqCycles(n uint8) (uint8, error) {
	if n == 0 || n > 64 {
		return 0, fmt.Errorf("%w: sequence of %d cycles", ErrInvalidCommand, n)
	}
	return n & 0x3F, nil
}

func appendJTAGSequence(b []byte, c JTAGSequence) ([]byte, error) {
	if len(c.Sequences) == 0 || len(c.Sequences) > 0xFF {
		return nil, fmt.Errorf("%w: %d jtag sequences", ErrInvalidCommand, len(c.Sequences))
	}
	b = append(b, uint8(len(c.Sequences)))
	for _, s := range c.Sequences {
		info, err := seqCycles(s.Cycles)
		if err != nil {
			return nil, err
		}
		if s.TMS {
			info |= 0x40
		}
		if s.CaptureTDO {
			info |= 0x80
		}
		if len(s.TDI) != seqBytes(int(s.Cycles)) {
			return nil, fmt.Errorf("%w: jtag sequence of %d cycles carries %d bytes", ErrInvalidCommand, s.Cycles, len(s.TDI))
		}
		b = append(b, info)
		b = append(b, s.TDI...)
	}
	return b, nil
}

func appendSWDSequence(b []byte, c SWDSequence) ([]byte, error) {
	if len(c.Sequences) == 0 || len(c.Sequences) > 0xFF {
		return nil, fmt.Errorf("%w: %d swd sequences", ErrInvalidCommand, len(c.Sequences))
	}
	b = append(b, uint8(len(c.Sequences)))
	for _, s := range c.Sequences {
		info, err := seqCycles(s.Cycles)
		if err != nil {
			return nil, err
		}
		if s.Input {
			if len(s.Data) != 0 {
				return nil, fmt.Errorf("%w: swd input sequence carries data", ErrInvalidCommand)
			}
			b = append(b, info|0x80)
			continue
		}
		if len(s.Data) != seqBytes(int(s.Cycles)) {
			return nil, fmt.Errorf("%w: swd sequence of %d cycles carries %d bytes", ErrInvalidCommand, s.Cycles, len(s.Data))
		}
		b = append(b, info)
		b = append(b, s.Data...)
	}
	return b, nil
}

// EncodeResponse returns the response bytes an adapter sends for cmd.
// TransferAbort has no response and encodes to nil.
func EncodeResponse(cmd Command, resp Response) ([]byte, error) {
	if _, ok := cmd.(TransferAbort); ok {
		return nil, nil
	}
	if resp.Opcode() != cmd.Opcode() {
		return nil, fmt.Errorf("%w: %s response for %s", ErrOpcodeMismatch, resp.Opcode(), cmd.Opcode())
	}
	b := []byte{uint8(resp.Opcode())}
	switch r := resp.(type) {
	case StatusResponse:
		return append(b, r.Status), nil
	case InfoResponse:
		if len(r.Data) > 0xFF {
			return nil, fmt.Errorf("%w: info data of %d bytes", ErrInvalidCommand, len(r.Data))
		}
		b = append(b, uint8(len(r.Data)))
		return append(b, r.Data...), nil
	case ConnectResponse:
		return append(b, uint8(r.Port)), nil
	case ResetTargetResponse:
		return append(b, r.Status, r.Execute), nil
	case PinsResponse:
		return append(b, r.Pins), nil
	case TransferResponse:
		b = append(b, r.Count, uint8(r.Status))
		t, ok := cmd.(Transfer)
		if !ok {
			return nil, fmt.Errorf("%w: transfer response for %T", ErrInvalidCommand, cmd)
		}
		ts, data := r.Timestamps, r.Data
		for i := 0; i < int(r.Count) && i < len(t.Requests); i++ {
			req := t.Requests[i]
			if req.Timestamp && len(ts) > 0 {
				b = binary.LittleEndian.AppendUint32(b, ts[0])
				ts = ts[1:]
			}
			if req.ReturnsData() && len(data) > 0 {
				b = binary.LittleEndian.AppendUint32(b, data[0])
				data = data[1:]
			}
		}
		return b, nil
	case TransferBlockResponse:
		b = binary.LittleEndian.AppendUint16(b, r.Count)
		b = append(b, uint8(r.Status))
		for _, v := range r.Data {
			b = binary.LittleEndian.AppendUint32(b, v)
		}
		return b, nil
	case JTAGSequenceResponse:
		b = append(b, r.Status)
		for _, tdo := range r.TDO {
			b = append(b, tdo...)
		}
		return b, nil
	case SWDSequenceResponse:
		b = append(b, r.Status)
		for _, d := range r.Data {
			b = append(b, d...)
		}
		return b, nil
	case IDCodeResponse:
		b = append(b, r.Status)
		return binary.LittleEndian.AppendUint32(b, r.IDCode), nil
	case RawResponse:
		return append(b, r.Payload...), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedOpcode, resp)
	}
}
