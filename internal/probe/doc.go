// Package probe owns the host side of a CMSIS-DAP adapter session.
//
// Ownership boundary:
// - debug port mode tracking and command gating (PortState)
// - request/response exchange over a Link (Channel)
// - typed command helpers and the connect/shutdown scripts
//
// A Channel allows one outstanding request at a time. Abort is the only call
// that may run concurrently with an in-flight request.
package probe
