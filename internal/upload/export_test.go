package upload

import "time"

// SetNow pins the clock used for the abandonment rule.
func (u *Uploader) SetNow(fn func() time.Time) {
	u.now = fn
}
