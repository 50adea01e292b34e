package manifest

import "time"

// SetClock pins the batcher clock and restarts the interval from it.
func (b *Batcher) SetClock(fn func() time.Time) {
	b.now = fn
	b.mu.Lock()
	b.last = fn()
	b.mu.Unlock()
}

// OnPendingScan runs fn after each pending root is listed during orphan
// adoption.
func (b *Batcher) OnPendingScan(fn func(root string)) { b.scanned = fn }
