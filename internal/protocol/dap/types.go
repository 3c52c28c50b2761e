package dap

import "fmt"

// Opcode is the first byte of every request and response.
type Opcode uint8

const (
	OpInfo              Opcode = 0x00
	OpHostStatus        Opcode = 0x01
	OpConnect           Opcode = 0x02
	OpDisconnect        Opcode = 0x03
	OpTransferConfigure Opcode = 0x04
	OpTransfer          Opcode = 0x05
	OpTransferBlock     Opcode = 0x06
	OpTransferAbort     Opcode = 0x07
	OpDelay             Opcode = 0x09
	OpResetTarget       Opcode = 0x0A
	OpSWJPins           Opcode = 0x10
	OpSWJClock          Opcode = 0x11
	OpSWJSequence       Opcode = 0x12
	OpSWDConfigure      Opcode = 0x13
	OpJTAGSequence      Opcode = 0x14
	OpJTAGConfigure     Opcode = 0x15
	OpJTAGIDCode        Opcode = 0x16
	OpSWDSequence       Opcode = 0x1D
)

const (
	// RejectByte is the whole response to an unrecognized or incomplete request.
	RejectByte uint8 = 0xFF

	StatusOK    uint8 = 0x00
	StatusError uint8 = 0xFF
)

var opcodeNames = map[Opcode]string{
	OpInfo:              "info",
	OpHostStatus:        "host_status",
	OpConnect:           "connect",
	OpDisconnect:        "disconnect",
	OpTransferConfigure: "transfer_configure",
	OpTransfer:          "transfer",
	OpTransferBlock:     "transfer_block",
	OpTransferAbort:     "transfer_abort",
	OpDelay:             "delay",
	OpResetTarget:       "reset_target",
	OpSWJPins:           "swj_pins",
	OpSWJClock:          "swj_clock",
	OpSWJSequence:       "swj_sequence",
	OpSWDConfigure:      "swd_configure",
	OpJTAGSequence:      "jtag_sequence",
	OpJTAGConfigure:     "jtag_configure",
	OpJTAGIDCode:        "jtag_idcode",
	OpSWDSequence:       "swd_sequence",
}

// Known reports whether op belongs to the supported command set.
func (op Opcode) Known() bool {
	_, ok := opcodeNames[op]
	return ok
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("opcode(0x%02x)", uint8(op))
}

// InfoID selects the datum returned by an INFO request.
type InfoID uint8

const (
	InfoVendor           InfoID = 0x01
	InfoProduct          InfoID = 0x02
	InfoSerialNumber     InfoID = 0x03
	InfoProtocolVersion  InfoID = 0x04
	InfoTargetVendor     InfoID = 0x05
	InfoTargetName       InfoID = 0x06
	InfoBoardVendor      InfoID = 0x07
	InfoBoardName        InfoID = 0x08
	InfoFirmwareVersion  InfoID = 0x09
	InfoCapabilities     InfoID = 0xF0
	InfoTestDomainTimer  InfoID = 0xF1
	InfoUARTRxBufferSize InfoID = 0xFB
	InfoUARTTxBufferSize InfoID = 0xFC
	InfoSWOBufferSize    InfoID = 0xFD
	InfoPacketCount      InfoID = 0xFE
	InfoPacketSize       InfoID = 0xFF
)

// IsString reports whether the id carries a NUL-terminated string.
func (id InfoID) IsString() bool {
	return id >= InfoVendor && id <= InfoFirmwareVersion
}

func (id InfoID) String() string {
	switch id {
	case InfoVendor:
		return "vendor"
	case InfoProduct:
		return "product"
	case InfoSerialNumber:
		return "serial"
	case InfoProtocolVersion:
		return "protocol_version"
	case InfoTargetVendor:
		return "target_vendor"
	case InfoTargetName:
		return "target_name"
	case InfoBoardVendor:
		return "board_vendor"
	case InfoBoardName:
		return "board_name"
	case InfoFirmwareVersion:
		return "firmware_version"
	case InfoCapabilities:
		return "capabilities"
	case InfoTestDomainTimer:
		return "test_domain_timer"
	case InfoUARTRxBufferSize:
		return "uart_rx_buffer_size"
	case InfoUARTTxBufferSize:
		return "uart_tx_buffer_size"
	case InfoSWOBufferSize:
		return "swo_buffer_size"
	case InfoPacketCount:
		return "packet_count"
	case InfoPacketSize:
		return "packet_size"
	default:
		return fmt.Sprintf("info(0x%02x)", uint8(id))
	}
}

// Port is the debug port requested by CONNECT and reported back by the adapter.
// PortDefault asks the adapter to choose; a response of PortDefault means the
// connection failed.
type Port uint8

const (
	PortDefault Port = 0x00
	PortSWD     Port = 0x01
	PortJTAG    Port = 0x02
)

func (p Port) String() string {
	switch p {
	case PortDefault:
		return "default"
	case PortSWD:
		return "swd"
	case PortJTAG:
		return "jtag"
	default:
		return fmt.Sprintf("port(%d)", uint8(p))
	}
}

// Capability bits of the INFO capabilities byte.
const (
	CapSWD       uint8 = 0x01
	CapJTAG      uint8 = 0x02
	CapSWOUART   uint8 = 0x04
	CapSWOManch  uint8 = 0x08
	CapAtomic    uint8 = 0x10
	CapTestTimer uint8 = 0x20
	CapSWOStream uint8 = 0x40
	CapUART      uint8 = 0x80
)

// SWJ pin bits used by SWJ_PINS.
const (
	PinSWCLK  uint8 = 0x01
	PinSWDIO  uint8 = 0x02
	PinTDI    uint8 = 0x04
	PinTDO    uint8 = 0x08
	PinNTRST  uint8 = 0x20
	PinNRESET uint8 = 0x80

	PinTCK = PinSWCLK
	PinTMS = PinSWDIO
)

// MaxJTAGDevices bounds the scan chain accepted by JTAG_CONFIGURE.
const MaxJTAGDevices = 4
