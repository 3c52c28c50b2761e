// Package protocol groups the wire formats spoken by riceprobe.
//
// Ownership boundary:
// - dap: CMSIS-DAP command and response codec
// - frame: 0x1A-terminated control socket framing
// - session: control socket timeouts and retry backoff
package protocol
