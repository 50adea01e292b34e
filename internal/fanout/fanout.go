// Package fanout runs one function per item concurrently and waits for all of
// them. It is the per-tick worker pool of every pipeline stage.
package fanout

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Result tallies one fan-out run.
type Result struct {
	Launched  int
	Succeeded int
	Failed    int
}

// Run calls fn for every item with at most limit calls in flight (limit <= 0
// means unbounded). A failing call never cancels its peers: each fn is
// expected to leave its own item in a well-defined stage before returning an
// error. Once ctx is done no further calls are launched, already launched
// calls run to completion, and Run reports ctx.Err(). Otherwise the first
// error returned by any call is reported.
func Run[T any](ctx context.Context, items []T, limit int, fn func(context.Context, T) error) (Result, error) {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	var launched, failed atomic.Int64
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		item := item
		launched.Add(1)
		g.Go(func() error {
			if err := fn(ctx, item); err != nil {
				failed.Add(1)
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	res := Result{Launched: int(launched.Load()), Failed: int(failed.Load())}
	res.Succeeded = res.Launched - res.Failed
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	return res, err
}
