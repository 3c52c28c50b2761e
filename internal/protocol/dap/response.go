package dap

import (
	"bytes"
	"encoding/binary"
)

// Response is one decoded adapter response. The set is closed.
type Response interface {
	Opcode() Opcode
	isResponse()
}

// StatusResponse answers commands whose only result is a status byte.
type StatusResponse struct {
	Op     Opcode
	Status uint8
}

func (r StatusResponse) OK() bool { return r.Status == StatusOK }

type InfoResponse struct {
	ID   InfoID
	Data []byte
}

// String returns the data as text without the trailing NUL.
func (r InfoResponse) String() string {
	return string(bytes.TrimRight(r.Data, "\x00"))
}

// Uint returns the data as a little-endian integer of up to four bytes.
func (r InfoResponse) Uint() uint32 {
	var buf [4]byte
	copy(buf[:], r.Data)
	return binary.LittleEndian.Uint32(buf[:])
}

// ConnectResponse carries the port actually connected; PortDefault means failure.
type ConnectResponse struct {
	Port Port
}

type ResetTargetResponse struct {
	Status  uint8
	Execute uint8
}

type PinsResponse struct {
	Pins uint8
}

// TransferResponse reports how many items completed and the status of the
// last executed item. Data holds one word per completed plain read, in
// request order; Timestamps one value per completed timestamped item.
type TransferResponse struct {
	Count      uint8
	Status     TransferStatus
	Timestamps []uint32
	Data       []uint32
}

type TransferBlockResponse struct {
	Count  uint16
	Status TransferStatus
	Data   []uint32
}

// JTAGSequenceResponse holds captured TDO bytes for each capturing sequence.
type JTAGSequenceResponse struct {
	Status uint8
	TDO    [][]byte
}

// SWDSequenceResponse holds the bytes read by each input sequence.
type SWDSequenceResponse struct {
	Status uint8
	Data   [][]byte
}

type IDCodeResponse struct {
	Status uint8
	IDCode uint32
}

type RawResponse struct {
	Op      Opcode
	Payload []byte
}

func (r StatusResponse) Opcode() Opcode      { return r.Op }
func (InfoResponse) Opcode() Opcode          { return OpInfo }
func (ConnectResponse) Opcode() Opcode       { return OpConnect }
func (ResetTargetResponse) Opcode() Opcode   { return OpResetTarget }
func (PinsResponse) Opcode() Opcode          { return OpSWJPins }
func (TransferResponse) Opcode() Opcode      { return OpTransfer }
func (TransferBlockResponse) Opcode() Opcode { return OpTransferBlock }
func (JTAGSequenceResponse) Opcode() Opcode  { return OpJTAGSequence }
func (SWDSequenceResponse) Opcode() Opcode   { return OpSWDSequence }
func (IDCodeResponse) Opcode() Opcode        { return OpJTAGIDCode }
func (r RawResponse) Opcode() Opcode         { return r.Op }

func (StatusResponse) isResponse()        {}
func (InfoResponse) isResponse()          {}
func (ConnectResponse) isResponse()       {}
func (ResetTargetResponse) isResponse()   {}
func (PinsResponse) isResponse()          {}
func (TransferResponse) isResponse()      {}
func (TransferBlockResponse) isResponse() {}
func (JTAGSequenceResponse) isResponse()  {}
func (SWDSequenceResponse) isResponse()   {}
func (IDCodeResponse) isResponse()        {}
func (RawResponse) isResponse()           {}
