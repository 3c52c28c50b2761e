package openocd

import "errors"

var (
	ErrServerUnreachable = errors.New("openocd: server unreachable")
	ErrTimeout           = errors.New("openocd: response timed out")
	ErrRTTInitFailed     = errors.New("openocd: rtt initialization failed")
	ErrClosed            = errors.New("openocd: client closed")
	ErrCommandFailed     = errors.New("openocd: command failed")
	ErrExecNotFound      = errors.New("openocd: executable not found")
)
