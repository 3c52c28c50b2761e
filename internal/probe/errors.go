package probe

import (
	"errors"
	"fmt"

	"github.com/nick-kraus/riceprobe-test/internal/protocol/dap"
)

var (
	ErrWrongMode          = errors.New("probe: command not valid in current debug port mode")
	ErrInvalidModeRequest = errors.New("probe: invalid debug port mode request")
	ErrLineResetRequired  = fmt.Errorf("%w: line reset required after mode switch", ErrWrongMode)
	ErrChannelTimeout     = errors.New("probe: channel read timed out")
	ErrProtocol           = errors.New("probe: protocol error")
	ErrTransferFault      = errors.New("probe: transfer fault")
	ErrTransferMismatch   = errors.New("probe: transfer value mismatch")
	ErrCommandFailed      = errors.New("probe: command failed")
	ErrNilLink            = errors.New("probe: link is required")
)

// CommandError reports a non-OK status byte from the adapter.
type CommandError struct {
	Op     dap.Opcode
	Status uint8
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("probe: %s failed with status 0x%02x", e.Op, e.Status)
}

func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}

// TransferError reports a batch that stopped before all items completed.
// Completed items took effect; the rest were never executed.
type TransferError struct {
	Op        dap.Opcode
	Requested int
	Completed int
	Status    dap.TransferStatus
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("probe: %s stopped after %d/%d items: %s", e.Op, e.Completed, e.Requested, e.Status)
}

func (e *TransferError) Is(target error) bool {
	switch target {
	case ErrTransferMismatch:
		return e.Status.Mismatch()
	case ErrTransferFault:
		return !e.Status.Mismatch()
	default:
		return false
	}
}

func checkStatus(op dap.Opcode, status uint8) error {
	if status == dap.StatusOK {
		return nil
	}
	return &CommandError{Op: op, Status: status}
}
