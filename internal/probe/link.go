package probe

import "time"

// Link moves raw adapter packets. Implementations must allow Write to be
// called while a Read is blocked so that Abort can reach the adapter.
type Link interface {
	Write(p []byte) error
	// Read returns one response packet of at most max bytes. When nothing
	// arrives within timeout it returns an error matching
	// os.ErrDeadlineExceeded or an empty packet.
	Read(max int, timeout time.Duration) ([]byte, error)
}
