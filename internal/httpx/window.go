package httpx

import (
	"context"
	"sync"
	"time"
)

// windowDuration is the fixed rate-limit window (always 1 minute).
const windowDuration = 60 * time.Second

// slidingWindow blocks callers once the per-minute request budget is spent,
// until the oldest timestamp leaves the window.
type slidingWindow struct {
	limitPerMinute int
	timestamps     []time.Time
	mutex          sync.Mutex
	now            func() time.Time
}

func newSlidingWindow(limitPerMinute int) *slidingWindow {
	return &slidingWindow{
		limitPerMinute: limitPerMinute,
		timestamps:     make([]time.Time, 0, limitPerMinute+1),
		now:            time.Now,
	}
}

// tryAcquire records a request slot if the window has room; otherwise it
// returns how long until the next slot frees.
func (w *slidingWindow) tryAcquire() (bool, time.Duration) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	now := w.now()
	windowStart := now.Add(-windowDuration)

	valid := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	w.timestamps = valid

	if len(w.timestamps) >= w.limitPerMinute {
		wait := w.timestamps[0].Sub(windowStart)
		if wait <= 0 {
			wait = time.Millisecond
		}
		return false, wait
	}

	w.timestamps = append(w.timestamps, now)
	return true, 0
}

// wait blocks until a slot is available or the context is done.
func (w *slidingWindow) wait(ctx context.Context) error {
	for {
		ok, sleep := w.tryAcquire()
		if ok {
			return nil
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// inWindow returns the number of requests counted in the current window.
func (w *slidingWindow) inWindow() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	windowStart := w.now().Add(-windowDuration)
	count := 0
	for _, ts := range w.timestamps {
		if ts.After(windowStart) {
			count++
		}
	}
	return count
}
