// Package rotator round-robins a provider's configured static API keys.
// Rotation state is process-global per provider, not per request: two
// concurrent requests against the same provider each get the next key in
// sequence rather than racing for the same one.
package rotator

import "sync"

// Rotator hands out the next key in a fixed list, cycling back to the
// start once exhausted.
type Rotator struct {
	mu   sync.Mutex
	keys []string
	next int
}

// New creates a Rotator over keys. keys must be non-empty; callers
// validate this at registry construction time (config.AuthKindStaticKeys
// requires a non-empty list).
func New(keys []string) *Rotator {
	cp := append([]string(nil), keys...)
	return &Rotator{keys: cp}
}

// Next returns the next key in rotation order.
func (r *Rotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := r.keys[r.next]
	r.next = (r.next + 1) % len(r.keys)
	return k
}

// Len reports how many keys are in rotation.
func (r *Rotator) Len() int {
	return len(r.keys)
}
