// Package ratelimit bounds outbound calls to the upstream tracking API.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a sliding-window rate limiter. Admission never fails; when the
// window budget is exhausted the caller is delayed until a slot frees up.
// Concurrent callers recompute against the shared window independently, so
// slight over-admission under heavy races is accepted by design of the
// admission contract (last-writer-wins on the append).
type Limiter struct {
	mu         sync.Mutex
	budget     int
	window     time.Duration
	timestamps []time.Time

	// For testing - override time source and sleeping
	timeNow func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter admitting at most budget calls per window.
func New(budget int, window time.Duration) *Limiter {
	if budget <= 0 {
		budget = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		budget:  budget,
		window:  window,
		timeNow: time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Admit blocks until a call is permitted, then records it.
// The only error it can return is a context cancellation while waiting.
func (l *Limiter) Admit(ctx context.Context) error {
	for {
		wait, ok := l.tryAdmit()
		if ok {
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAdmit purges stale timestamps and either records the call or returns
// how long the caller should wait before re-checking.
func (l *Limiter) tryAdmit() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	cutoff := now.Add(-l.window)

	// Lazy purge: timestamps are appended in order, so find the first
	// entry still inside the window.
	keep := 0
	for keep < len(l.timestamps) && !l.timestamps[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[keep:]...)
	}

	if len(l.timestamps) >= l.budget {
		oldest := l.timestamps[0]
		wait := l.window - now.Sub(oldest)
		if wait <= 0 {
			wait = time.Millisecond
		}
		return wait, false
	}

	l.timestamps = append(l.timestamps, now)
	return 0, true
}

// InFlight returns the number of calls currently recorded in the window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.timeNow().Add(-l.window)
	n := 0
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
