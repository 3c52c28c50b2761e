// Package rtt owns the target console stream bridged over TCP.
//
// Ownership boundary:
// - receive buffer and consumption cursor
// - literal and pattern expectations with timeouts
// - prompt-driven shell command helpers
package rtt
