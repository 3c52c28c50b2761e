// Package dap owns the CMSIS-DAP command/response wire contract.
//
// Ownership boundary:
// - opcode, info id and port constants
// - the closed Command and Response type sets
// - request/response encoding and decoding in both directions
//
// Every request and response starts with the opcode byte. An adapter answers
// an unrecognized or structurally incomplete request with the single byte
// 0xFF. TRANSFER_ABORT is the only request without a response.
package dap
