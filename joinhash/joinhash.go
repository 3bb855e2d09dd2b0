// Package joinhash hands off the synthesized session-join digest from the
// PK MITM (which computes it while patching EncryptionRequest on one
// connection) to the HTTP join-patcher (which consumes it while patching a
// join request on a different connection entirely). It is a single-slot
// mailbox: a new digest overwrites whatever was set but never consumed, and
// a consumer blocks until one is available.
package joinhash

import "context"

// Slot is a single-value, set-with-overwrite / get-with-await handoff.
type Slot struct {
	ch chan string
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{ch: make(chan string, 1)}
}

// Set stores hash, discarding any previously set, unconsumed value. The PK
// MITM calls this once per EncryptionRequest it patches.
func (s *Slot) Set(hash string) {
	select {
	case <-s.ch:
	default:
	}
	s.ch <- hash
}

// Get blocks until a hash is available (consuming it) or ctx is done. The
// HTTP join-patcher calls this once per join request it patches.
func (s *Slot) Get(ctx context.Context) (string, error) {
	select {
	case h := <-s.ch:
		return h, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
