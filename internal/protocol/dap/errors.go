package dap

import "errors"

var (
	ErrUnsupportedOpcode = errors.New("dap: unsupported opcode")
	ErrMalformedResponse = errors.New("dap: malformed response")
	ErrOpcodeMismatch    = errors.New("dap: response opcode mismatch")
	ErrRejected          = errors.New("dap: request rejected by adapter")
	ErrTruncated         = errors.New("dap: truncated request")
	ErrInvalidCommand    = errors.New("dap: invalid command")
	ErrNoResponse        = errors.New("dap: command has no response")
)
