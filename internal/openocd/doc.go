// Package openocd drives an OpenOCD server over its TCL control socket.
//
// Ownership boundary:
// - control socket connection, framing and receive buffer
// - RTT provisioning and the bridge socket it hands out
// - target command helpers (state, memory, break/watchpoints, flash)
// - launching and tearing down a local server process
package openocd
