package probe

import (
	"context"

	"github.com/nick-kraus/riceprobe-test/internal/observability"
	"github.com/nick-kraus/riceprobe-test/internal/protocol/dap"
)

func (c *Channel) status(ctx context.Context, cmd dap.Command) error {
	resp, err := c.Execute(ctx, cmd)
	if err != nil {
		return err
	}
	return checkStatus(cmd.Opcode(), resp.(dap.StatusResponse).Status)
}

func (c *Channel) Info(ctx context.Context, id dap.InfoID) (dap.InfoResponse, error) {
	resp, err := c.Execute(ctx, dap.Info{ID: id})
	if err != nil {
		return dap.InfoResponse{}, err
	}
	return resp.(dap.InfoResponse), nil
}

func (c *Channel) InfoString(ctx context.Context, id dap.InfoID) (string, error) {
	resp, err := c.Info(ctx, id)
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}

func (c *Channel) HostStatus(ctx context.Context, typ uint8, on bool) error {
	var status uint8
	if on {
		status = 1
	}
	return c.status(ctx, dap.HostStatus{Type: typ, Status: status})
}

// Connect selects a debug port and returns the mode the adapter entered.
func (c *Channel) Connect(ctx context.Context, port dap.Port) (Mode, error) {
	resp, err := c.Execute(ctx, dap.Connect{Port: port})
	if err != nil {
		return ModeDisconnected, err
	}
	r := resp.(dap.ConnectResponse)
	if r.Port == dap.PortDefault {
		return ModeDisconnected, &CommandError{Op: dap.OpConnect, Status: uint8(r.Port)}
	}
	return modeFromPort(r.Port), nil
}

func (c *Channel) Disconnect(ctx context.Context) error {
	return c.status(ctx, dap.Disconnect{})
}

func (c *Channel) TransferConfigure(ctx context.Context, cfg dap.TransferConfigure) error {
	return c.status(ctx, cfg)
}

// Transfer runs a batch of register accesses and returns the words read by
// completed read items. A batch that stops early returns a *TransferError
// together with the data read before the stop.
func (c *Channel) Transfer(ctx context.Context, index uint8, reqs ...dap.TransferRequest) ([]uint32, error) {
	resp, err := c.Execute(ctx, dap.Transfer{DAPIndex: index, Requests: reqs})
	if err != nil {
		return nil, err
	}
	r := resp.(dap.TransferResponse)
	observability.RecordTransferItems(int(r.Count), len(reqs)-int(r.Count))
	if int(r.Count) < len(reqs) || !r.Status.OK() {
		return r.Data, &TransferError{Op: dap.OpTransfer, Requested: len(reqs), Completed: int(r.Count), Status: r.Status}
	}
	return r.Data, nil
}

func (c *Channel) TransferBlockRead(ctx context.Context, index uint8, ap bool, reg uint8, count uint16) ([]uint32, error) {
	resp, err := c.Execute(ctx, dap.TransferBlock{DAPIndex: index, AP: ap, Reg: reg, Read: true, Count: count})
	if err != nil {
		return nil, err
	}
	r := resp.(dap.TransferBlockResponse)
	observability.RecordTransferItems(int(r.Count), int(count)-int(r.Count))
	if r.Count < count || !r.Status.OK() {
		return r.Data, &TransferError{Op: dap.OpTransferBlock, Requested: int(count), Completed: int(r.Count), Status: r.Status}
	}
	return r.Data, nil
}

func (c *Channel) TransferBlockWrite(ctx context.Context, index uint8, ap bool, reg uint8, values []uint32) error {
	count := uint16(len(values))
	resp, err := c.Execute(ctx, dap.TransferBlock{DAPIndex: index, AP: ap, Reg: reg, Count: count, Values: values})
	if err != nil {
		return err
	}
	r := resp.(dap.TransferBlockResponse)
	observability.RecordTransferItems(int(r.Count), int(count)-int(r.Count))
	if r.Count < count || !r.Status.OK() {
		return &TransferError{Op: dap.OpTransferBlock, Requested: int(count), Completed: int(r.Count), Status: r.Status}
	}
	return nil
}

func (c *Channel) Delay(ctx context.Context, micros uint16) error {
	return c.status(ctx, dap.Delay{Microseconds: micros})
}

// ResetTarget runs the adapter's device-specific reset and reports whether
// one is implemented.
func (c *Channel) ResetTarget(ctx context.Context) (bool, error) {
	resp, err := c.Execute(ctx, dap.ResetTarget{})
	if err != nil {
		return false, err
	}
	r := resp.(dap.ResetTargetResponse)
	if err := checkStatus(dap.OpResetTarget, r.Status); err != nil {
		return false, err
	}
	return r.Execute == 1, nil
}

// SWJPins drives the selected pins and returns the pin levels read back.
func (c *Channel) SWJPins(ctx context.Context, output, sel uint8, waitMicros uint32) (uint8, error) {
	resp, err := c.Execute(ctx, dap.SWJPins{Output: output, Select: sel, WaitMicros: waitMicros})
	if err != nil {
		return 0, err
	}
	return resp.(dap.PinsResponse).Pins, nil
}

func (c *Channel) SWJClock(ctx context.Context, hz uint32) error {
	return c.status(ctx, dap.SWJClock{Hz: hz})
}

func (c *Channel) SWJSequence(ctx context.Context, bits uint16, data []byte) error {
	return c.status(ctx, dap.SWJSequence{Bits: bits, Data: data})
}

func (c *Channel) SWDConfigure(ctx context.Context, config uint8) error {
	return c.status(ctx, dap.SWDConfigure{Config: config})
}

// JTAGSequence shifts seqs and returns TDO bytes for each capturing sequence.
func (c *Channel) JTAGSequence(ctx context.Context, seqs ...dap.JTAGSeq) ([][]byte, error) {
	resp, err := c.Execute(ctx, dap.JTAGSequence{Sequences: seqs})
	if err != nil {
		return nil, err
	}
	r := resp.(dap.JTAGSequenceResponse)
	if err := checkStatus(dap.OpJTAGSequence, r.Status); err != nil {
		return nil, err
	}
	return r.TDO, nil
}

func (c *Channel) JTAGConfigure(ctx context.Context, irLengths ...uint8) error {
	return c.status(ctx, dap.JTAGConfigure{IRLengths: irLengths})
}

func (c *Channel) JTAGIDCode(ctx context.Context, index uint8) (uint32, error) {
	resp, err := c.Execute(ctx, dap.JTAGIDCode{Index: index})
	if err != nil {
		return 0, err
	}
	r := resp.(dap.IDCodeResponse)
	if err := checkStatus(dap.OpJTAGIDCode, r.Status); err != nil {
		return 0, err
	}
	return r.IDCode, nil
}

// SWDSequence runs seqs and returns the bytes read by each input sequence.
func (c *Channel) SWDSequence(ctx context.Context, seqs ...dap.SWDSeq) ([][]byte, error) {
	resp, err := c.Execute(ctx, dap.SWDSequence{Sequences: seqs})
	if err != nil {
		return nil, err
	}
	r := resp.(dap.SWDSequenceResponse)
	if err := checkStatus(dap.OpSWDSequence, r.Status); err != nil {
		return nil, err
	}
	return r.Data, nil
}
