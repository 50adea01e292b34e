package stability

import (
	"context"
	"time"
)

// SetWait swaps the settle delay for tests.
func (d *Detector) SetWait(fn func(ctx context.Context, d time.Duration) error) {
	d.wait = fn
}
