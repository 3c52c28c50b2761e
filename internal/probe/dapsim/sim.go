// Package dapsim is an in-memory CMSIS-DAP adapter with a simulated ADIv5
// target behind it. It satisfies probe.Link and answers requests the way
// adapter firmware does, including the error responses.
package dapsim

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nick-kraus/riceprobe-test/internal/protocol/dap"
	"github.com/rs/zerolog/log"
)

// Config describes the simulated adapter and target.
type Config struct {
	Vendor          string
	Product         string
	SerialNumber    string
	ProtocolVersion string
	FirmwareVersion string
	Capabilities    uint8
	PacketCount     uint8
	PacketSize      uint16
	UARTBufferSize  uint32

	// DefaultPort answers CONNECT requests for the default port.
	DefaultPort dap.Port
	// TAPs is the JTAG scan chain, index 0 closest to TDO.
	TAPs      []TAP
	SWDIDCode uint32
	APIDR     uint32

	Sleep func(time.Duration)
}

func DefaultConfig() Config {
	return Config{
		Vendor:          "Nick Kraus",
		Product:         "RICEProbe IO CMSIS-DAP",
		SerialNumber:    "RP0001",
		ProtocolVersion: "2.1.1",
		FirmwareVersion: "0.1.0",
		Capabilities:    dap.CapSWD | dap.CapJTAG,
		PacketCount:     1,
		PacketSize:      512,
		UARTBufferSize:  1024,
		DefaultPort:     dap.PortJTAG,
		TAPs: []TAP{
			{IRLen: 4, IDCode: 0x4BA00477, IDCodeInstr: 0b1110},
			{IRLen: 5, IDCode: 0x06470041, IDCodeInstr: 0b00001},
		},
		SWDIDCode: 0x2BA01477,
		APIDR:     0x24770011,
		Sleep:     time.Sleep,
	}
}

// Adapter is a simulated debug adapter. Write processes one request and
// queues its response; Read returns queued responses in order.
type Adapter struct {
	cfg Config

	mu        sync.Mutex
	port      dap.Port
	clockHz   uint32
	swdConfig uint8
	xfer      dap.TransferConfigure
	irLengths []uint8
	matchMask uint32
	pins      uint8
	timestamp uint32
	drop      int
	aborts    int

	jtagTarget *target
	swdTarget  *target
	chain      *chain
	wire       *swdWire

	responses chan []byte
}

func New(cfg Config) *Adapter {
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	a := &Adapter{
		cfg:        cfg,
		matchMask:  0xFFFFFFFF,
		pins:       dap.PinSWDIO | dap.PinTDI | dap.PinTDO | dap.PinNRESET,
		jtagTarget: newTarget(jtagDPIDCode(cfg.TAPs), cfg.APIDR),
		swdTarget:  newTarget(cfg.SWDIDCode, cfg.APIDR),
		chain:      newChain(cfg.TAPs),
		responses:  make(chan []byte, 64),
	}
	a.wire = newSWDWire(a.swdTarget)
	return a
}

func jtagDPIDCode(taps []TAP) uint32 {
	if len(taps) == 0 {
		return 0
	}
	return taps[0].IDCode
}

// Write implements probe.Link.
func (a *Adapter) Write(p []byte) error {
	resp := a.handle(p)
	if resp == nil {
		return nil
	}
	a.mu.Lock()
	drop := a.drop > 0
	if drop {
		a.drop--
	}
	a.mu.Unlock()
	if drop {
		return nil
	}
	select {
	case a.responses <- resp:
		return nil
	default:
		return fmt.Errorf("dapsim: response queue full")
	}
}

// Read implements probe.Link.
func (a *Adapter) Read(max int, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-a.responses:
		if len(resp) > max {
			resp = resp[:max]
		}
		return resp, nil
	case <-timer.C:
		return nil, os.ErrDeadlineExceeded
	}
}

// DropResponses discards the next n responses.
func (a *Adapter) DropResponses(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.drop += n
}

// InjectWait makes the next n AP accesses answer WAIT.
func (a *Adapter) InjectWait(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jtagTarget.waits += n
	a.swdTarget.waits += n
}

// Memory returns the word at addr in the target selected by port.
func (a *Adapter) Memory(port dap.Port, addr uint32) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.target(port).mem[addr&^0x3]
}

// Aborts returns the number of TRANSFER_ABORT requests seen.
func (a *Adapter) Aborts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.aborts
}

func (a *Adapter) target(port dap.Port) *target {
	if port == dap.PortSWD {
		return a.swdTarget
	}
	return a.jtagTarget
}

func (a *Adapter) handle(req []byte) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	cmd, err := dap.DecodeCommand(req)
	if err != nil {
		log.Debug().Err(err).Hex("req", req).Msg("dapsim.Adapter reject")
		return []byte{dap.RejectByte}
	}
	if _, ok := cmd.(dap.TransferAbort); ok {
		a.aborts++
		return nil
	}
	resp := a.dispatch(cmd)
	if resp == nil {
		return []byte{dap.RejectByte}
	}
	b, err := dap.EncodeResponse(cmd, resp)
	if err != nil {
		log.Error().Err(err).Str("op", cmd.Opcode().String()).Msg("dapsim.Adapter encode")
		return []byte{dap.RejectByte}
	}
	return b
}

func status(op dap.Opcode, ok bool) dap.StatusResponse {
	if ok {
		return dap.StatusResponse{Op: op, Status: dap.StatusOK}
	}
	return dap.StatusResponse{Op: op, Status: dap.StatusError}
}

// dispatch returns nil for requests the adapter rejects outright.
func (a *Adapter) dispatch(cmd dap.Command) dap.Response {
	switch c := cmd.(type) {
	case dap.Info:
		return a.info(c.ID)
	case dap.HostStatus:
		return status(dap.OpHostStatus, c.Type <= 1 && c.Status <= 1)
	case dap.Connect:
		return a.connect(c.Port)
	case dap.Disconnect:
		a.port = dap.PortDefault
		return status(dap.OpDisconnect, true)
	case dap.TransferConfigure:
		a.xfer = c
		return status(dap.OpTransferConfigure, true)
	case dap.Transfer:
		return a.transfer(c)
	case dap.TransferBlock:
		return a.transferBlock(c)
	case dap.Delay:
		a.cfg.Sleep(time.Duration(c.Microseconds) * time.Microsecond)
		return status(dap.OpDelay, true)
	case dap.ResetTarget:
		return dap.ResetTargetResponse{}
	case dap.SWJPins:
		return a.swjPins(c)
	case dap.SWJClock:
		if c.Hz == 0 {
			return status(dap.OpSWJClock, false)
		}
		a.clockHz = c.Hz
		return status(dap.OpSWJClock, true)
	case dap.SWJSequence:
		return a.swjSequence(c)
	case dap.SWDConfigure:
		a.swdConfig = c.Config
		return status(dap.OpSWDConfigure, true)
	case dap.JTAGSequence:
		return a.jtagSequence(c)
	case dap.JTAGConfigure:
		if len(c.IRLengths) > dap.MaxJTAGDevices {
			return status(dap.OpJTAGConfigure, false)
		}
		a.irLengths = append(a.irLengths[:0], c.IRLengths...)
		return status(dap.OpJTAGConfigure, true)
	case dap.JTAGIDCode:
		return a.jtagIDCode(c)
	case dap.SWDSequence:
		return a.swdSequence(c)
	default:
		return nil
	}
}

func (a *Adapter) info(id dap.InfoID) dap.Response {
	str := func(s string) dap.Response {
		return dap.InfoResponse{ID: id, Data: append([]byte(s), 0)}
	}
	u32 := func(v uint32) dap.Response {
		return dap.InfoResponse{ID: id, Data: binary.LittleEndian.AppendUint32(nil, v)}
	}
	switch id {
	case dap.InfoVendor:
		return str(a.cfg.Vendor)
	case dap.InfoProduct:
		return str(a.cfg.Product)
	case dap.InfoSerialNumber:
		return str(a.cfg.SerialNumber)
	case dap.InfoProtocolVersion:
		return str(a.cfg.ProtocolVersion)
	case dap.InfoFirmwareVersion:
		return str(a.cfg.FirmwareVersion)
	case dap.InfoTargetVendor, dap.InfoTargetName, dap.InfoBoardVendor, dap.InfoBoardName:
		return dap.InfoResponse{ID: id}
	case dap.InfoCapabilities:
		return dap.InfoResponse{ID: id, Data: []byte{a.cfg.Capabilities}}
	case dap.InfoTestDomainTimer, dap.InfoSWOBufferSize:
		return u32(0)
	case dap.InfoUARTRxBufferSize, dap.InfoUARTTxBufferSize:
		return u32(a.cfg.UARTBufferSize)
	case dap.InfoPacketCount:
		return dap.InfoResponse{ID: id, Data: []byte{a.cfg.PacketCount}}
	case dap.InfoPacketSize:
		return dap.InfoResponse{ID: id, Data: binary.LittleEndian.AppendUint16(nil, a.cfg.PacketSize)}
	default:
		return nil
	}
}

func (a *Adapter) connect(p dap.Port) dap.Response {
	if p == dap.PortDefault {
		p = a.cfg.DefaultPort
	}
	switch p {
	case dap.PortSWD:
		if a.cfg.Capabilities&dap.CapSWD == 0 {
			return dap.ConnectResponse{Port: dap.PortDefault}
		}
	case dap.PortJTAG:
		if a.cfg.Capabilities&dap.CapJTAG == 0 {
			return dap.ConnectResponse{Port: dap.PortDefault}
		}
	default:
		return dap.ConnectResponse{Port: dap.PortDefault}
	}
	a.port = p
	return dap.ConnectResponse{Port: p}
}

func (a *Adapter) swjPins(c dap.SWJPins) dap.Response {
	if a.port != dap.PortDefault {
		a.pins = a.pins&^c.Select | c.Output&c.Select
	}
	// TDO is an input pulled high.
	return dap.PinsResponse{Pins: a.pins | dap.PinTDO}
}

func (a *Adapter) swjSequence(c dap.SWJSequence) dap.Response {
	for i := 0; i < int(c.Bits); i++ {
		bit := c.Data[i/8]>>(i%8)&1 == 1
		switch a.port {
		case dap.PortJTAG:
			a.chain.clock(bit, true)
		case dap.PortSWD:
			a.wire.swj(bit)
		}
	}
	return status(dap.OpSWJSequence, true)
}

func (a *Adapter) jtagSequence(c dap.JTAGSequence) dap.Response {
	if a.port != dap.PortJTAG {
		return dap.JTAGSequenceResponse{Status: dap.StatusError}
	}
	var resp dap.JTAGSequenceResponse
	for _, s := range c.Sequences {
		var tdo []byte
		if s.CaptureTDO {
			tdo = make([]byte, s.CaptureBytes())
		}
		for i := 0; i < int(s.Cycles); i++ {
			bit := a.chain.clock(s.TMS, s.TDI[i/8]>>(i%8)&1 == 1)
			if tdo != nil && bit {
				tdo[i/8] |= 1 << (i % 8)
			}
		}
		if tdo != nil {
			resp.TDO = append(resp.TDO, tdo)
		}
	}
	return resp
}

func (a *Adapter) jtagIDCode(c dap.JTAGIDCode) dap.Response {
	idx := int(c.Index)
	if a.port != dap.PortJTAG || idx >= len(a.irLengths) || idx >= len(a.cfg.TAPs) {
		return dap.IDCodeResponse{Status: dap.StatusError}
	}
	return dap.IDCodeResponse{IDCode: a.cfg.TAPs[idx].IDCode}
}

func (a *Adapter) swdSequence(c dap.SWDSequence) dap.Response {
	var resp dap.SWDSequenceResponse
	if a.port != dap.PortSWD {
		resp.Status = dap.StatusError
		for _, s := range c.Sequences {
			if n := s.InputBytes(); n > 0 {
				resp.Data = append(resp.Data, make([]byte, n))
			}
		}
		return resp
	}
	for _, s := range c.Sequences {
		if !s.Input {
			for i := 0; i < int(s.Cycles); i++ {
				a.wire.drive(s.Data[i/8]>>(i%8)&1 == 1)
			}
			continue
		}
		in := make([]byte, s.InputBytes())
		for i := 0; i < int(s.Cycles); i++ {
			if a.wire.sample() {
				in[i/8] |= 1 << (i % 8)
			}
		}
		resp.Data = append(resp.Data, in)
	}
	return resp
}

// transferTarget returns the target addressed by a transfer, or nil when
// the adapter is disconnected or the JTAG device index is out of range.
func (a *Adapter) transferTarget(index uint8) *target {
	switch a.port {
	case dap.PortSWD:
		return a.swdTarget
	case dap.PortJTAG:
		if int(index) >= len(a.irLengths) {
			return nil
		}
		return a.jtagTarget
	default:
		return nil
	}
}

// accessWithRetry retries WAIT acknowledges up to the configured budget.
func (a *Adapter) accessWithRetry(t *target, req dap.TransferRequest, value uint32) (uint32, uint8) {
	v, ack := t.access(req, value)
	for retry := 0; ack == dap.AckWait && retry < int(a.xfer.WaitRetry); retry++ {
		v, ack = t.access(req, value)
	}
	return v, ack
}

// transfer runs a TRANSFER batch. The match mask is adapter state: a mask
// written in one batch still applies to value-match reads in later batches,
// as on the RICEProbe firmware.
func (a *Adapter) transfer(c dap.Transfer) dap.Response {
	t := a.transferTarget(c.DAPIndex)
	if t == nil {
		return dap.TransferResponse{}
	}
	resp := dap.TransferResponse{Status: dap.TransferStatus(dap.AckOK)}
	for _, req := range c.Requests {
		if req.Op == dap.TransferWriteMatchMask {
			a.matchMask = req.Value
			resp.Count++
			continue
		}
		v, ack := a.accessWithRetry(t, req, req.Value)
		if ack != dap.AckOK {
			resp.Status = dap.NewTransferStatus(ack, false, false)
			break
		}
		if req.Op == dap.TransferReadMatch {
			for retry := 0; v&a.matchMask != req.Value && retry < int(a.xfer.MatchRetry); retry++ {
				if v, ack = a.accessWithRetry(t, req, req.Value); ack != dap.AckOK {
					break
				}
			}
			if ack != dap.AckOK {
				resp.Status = dap.NewTransferStatus(ack, false, false)
				break
			}
			if v&a.matchMask != req.Value {
				resp.Status = dap.NewTransferStatus(dap.AckOK, false, true)
				break
			}
		}
		a.timestamp++
		if req.Timestamp {
			resp.Timestamps = append(resp.Timestamps, a.timestamp)
		}
		if req.ReturnsData() {
			resp.Data = append(resp.Data, v)
		}
		resp.Count++
	}
	return resp
}

func (a *Adapter) transferBlock(c dap.TransferBlock) dap.Response {
	t := a.transferTarget(c.DAPIndex)
	if t == nil {
		return dap.TransferBlockResponse{}
	}
	resp := dap.TransferBlockResponse{Status: dap.TransferStatus(dap.AckOK)}
	req := dap.TransferRequest{AP: c.AP, Reg: c.Reg, Op: dap.TransferWrite}
	if c.Read {
		req.Op = dap.TransferRead
	}
	for i := 0; i < int(c.Count); i++ {
		var value uint32
		if !c.Read {
			value = c.Values[i]
		}
		v, ack := a.accessWithRetry(t, req, value)
		if ack != dap.AckOK {
			resp.Status = dap.NewTransferStatus(ack, false, false)
			break
		}
		if c.Read {
			resp.Data = append(resp.Data, v)
		}
		resp.Count++
	}
	return resp
}

// ClockHz returns the last SWJ clock accepted.
func (a *Adapter) ClockHz() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clockHz
}
