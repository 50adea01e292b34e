package fanout_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"stagehand/internal/fanout"
)

func TestRunCallsEveryItem(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	var sum atomic.Int64
	res, err := fanout.Run(context.Background(), items, 2, func(_ context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Load() != 15 {
		t.Fatalf("expected sum 15, got %d", sum.Load())
	}
	if res.Launched != 5 || res.Succeeded != 5 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunFailureDoesNotAbortPeers(t *testing.T) {
	boom := errors.New("boom")
	var done atomic.Int64
	res, err := fanout.Run(context.Background(), []int{1, 2, 3, 4}, 0, func(_ context.Context, n int) error {
		if n == 2 {
			return boom
		}
		time.Sleep(5 * time.Millisecond)
		done.Add(1)
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if done.Load() != 3 {
		t.Fatalf("expected peers to finish, got %d", done.Load())
	}
	if res.Failed != 1 || res.Succeeded != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunRespectsLimit(t *testing.T) {
	var inFlight, peak atomic.Int64
	items := make([]int, 20)
	_, err := fanout.Run(context.Background(), items, 3, func(context.Context, int) error {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if peak.Load() > 3 {
		t.Fatalf("expected at most 3 in flight, saw %d", peak.Load())
	}
}

func TestRunStopsLaunchingAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int64
	res, err := fanout.Run(ctx, []int{1, 2, 3, 4, 5, 6}, 1, func(context.Context, int) error {
		if calls.Add(1) == 2 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Launched >= 6 {
		t.Fatalf("expected launching to stop early, launched %d", res.Launched)
	}
	if int64(res.Launched) != calls.Load() {
		t.Fatalf("every launched call must finish: launched=%d calls=%d", res.Launched, calls.Load())
	}
}
