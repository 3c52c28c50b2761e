// Package session owns control socket timing policy.
//
// Ownership boundary:
// - connect, handshake, read and write timeouts
// - shutdown grace delay
// - retry backoff while a server comes up
package session
