package retention

import "time"

// SetNow pins the purge clock.
func (p *Purger) SetNow(fn func() time.Time) { p.now = fn }
