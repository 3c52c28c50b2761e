package dap

// Command is one adapter request. The set is closed: only the types in this
// file implement it.
type Command interface {
	Opcode() Opcode
	isCommand()
}

type Info struct {
	ID InfoID
}

// HostStatus drives a host status indicator. Type 0 is the connect LED and
// type 1 the running LED; Status 1 turns the indicator on.
type HostStatus struct {
	Type   uint8
	Status uint8
}

type Connect struct {
	Port Port
}

type Disconnect struct{}

type TransferConfigure struct {
	IdleCycles uint8
	WaitRetry  uint16
	MatchRetry uint16
}

// Transfer is a pipelined batch of register accesses. The adapter executes
// items in order and stops at the first item that does not complete OK.
type Transfer struct {
	DAPIndex uint8
	Requests []TransferRequest
}

// TransferBlock repeats one register access Count times. Values carries the
// words to write and must be empty for reads.
type TransferBlock struct {
	DAPIndex uint8
	AP       bool
	Reg      uint8
	Read     bool
	Count    uint16
	Values   []uint32
}

// TransferAbort cancels an in-flight transfer. It has no response.
type TransferAbort struct{}

type Delay struct {
	Microseconds uint16
}

type ResetTarget struct{}

// SWJPins drives the pins selected by Select to the levels in Output and
// waits up to WaitMicros for them to settle.
type SWJPins struct {
	Output     uint8
	Select     uint8
	WaitMicros uint32
}

type SWJClock struct {
	Hz uint32
}

// SWJSequence clocks Bits (1..256) bits of Data out on SWDIO/TMS, LSB first.
type SWJSequence struct {
	Bits uint16
	Data []byte
}

type SWDConfigure struct {
	Config uint8
}

// JTAGSequence shifts a list of TDI sequences while holding TMS constant per sequence.
type JTAGSequence struct {
	Sequences []JTAGSeq
}

// JTAGSeq is one JTAG sequence descriptor. Cycles is 1..64 and TDI carries
// ceil(Cycles/8) bytes.
type JTAGSeq struct {
	Cycles     uint8
	TMS        bool
	CaptureTDO bool
	TDI        []byte
}

// JTAGConfigure declares the instruction register length of every device in
// the scan chain, index 0 closest to TDO.
type JTAGConfigure struct {
	IRLengths []uint8
}

type JTAGIDCode struct {
	Index uint8
}

type SWDSequence struct {
	Sequences []SWDSeq
}

// SWDSeq is one SWD sequence descriptor. Output sequences carry
// ceil(Cycles/8) bytes of Data; input sequences carry none.
type SWDSeq struct {
	Cycles uint8
	Input  bool
	Data   []byte
}

// Raw passes an opcode and payload through without interpretation.
type Raw struct {
	Op      Opcode
	Payload []byte
}

func (Info) Opcode() Opcode              { return OpInfo }
func (HostStatus) Opcode() Opcode        { return OpHostStatus }
func (Connect) Opcode() Opcode           { return OpConnect }
func (Disconnect) Opcode() Opcode        { return OpDisconnect }
func (TransferConfigure) Opcode() Opcode { return OpTransferConfigure }
func (Transfer) Opcode() Opcode          { return OpTransfer }
func (TransferBlock) Opcode() Opcode     { return OpTransferBlock }
func (TransferAbort) Opcode() Opcode     { return OpTransferAbort }
func (Delay) Opcode() Opcode             { return OpDelay }
func (ResetTarget) Opcode() Opcode       { return OpResetTarget }
func (SWJPins) Opcode() Opcode           { return OpSWJPins }
func (SWJClock) Opcode() Opcode          { return OpSWJClock }
func (SWJSequence) Opcode() Opcode       { return OpSWJSequence }
func (SWDConfigure) Opcode() Opcode      { return OpSWDConfigure }
func (JTAGSequence) Opcode() Opcode      { return OpJTAGSequence }
func (JTAGConfigure) Opcode() Opcode     { return OpJTAGConfigure }
func (JTAGIDCode) Opcode() Opcode        { return OpJTAGIDCode }
func (SWDSequence) Opcode() Opcode       { return OpSWDSequence }
func (r Raw) Opcode() Opcode             { return r.Op }

func (Info) isCommand()              {}
func (HostStatus) isCommand()        {}
func (Connect) isCommand()           {}
func (Disconnect) isCommand()        {}
func (TransferConfigure) isCommand() {}
func (Transfer) isCommand()          {}
func (TransferBlock) isCommand()     {}
func (TransferAbort) isCommand()     {}
func (Delay) isCommand()             {}
func (ResetTarget) isCommand()       {}
func (SWJPins) isCommand()           {}
func (SWJClock) isCommand()          {}
func (SWJSequence) isCommand()       {}
func (SWDConfigure) isCommand()      {}
func (JTAGSequence) isCommand()      {}
func (JTAGConfigure) isCommand()     {}
func (JTAGIDCode) isCommand()        {}
func (SWDSequence) isCommand()       {}
func (Raw) isCommand()               {}

// seqBytes is the number of data bytes carried by a sequence of n bit cycles.
func seqBytes(n int) int {
	return (n + 7) / 8
}

// CaptureBytes is the number of TDO bytes the sequence returns.
func (s JTAGSeq) CaptureBytes() int {
	if !s.CaptureTDO {
		return 0
	}
	return seqBytes(int(s.Cycles))
}

// InputBytes is the number of bytes the sequence returns.
func (s SWDSeq) InputBytes() int {
	if !s.Input {
		return 0
	}
	return seqBytes(int(s.Cycles))
}
