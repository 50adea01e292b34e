package unpack

import "time"

// SetNow pins the clock used for the settle check.
func (u *Unpacker) SetNow(fn func() time.Time) { u.now = fn }
