// Package ratelimit implements the per-key sliding-window-by-reset counter
// used for both the global API limiter and the stricter chat limiter.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// Result is the outcome of one Check call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key within a fixed window. A key's window is
// allocated on first use and re-allocated once its reset time passes; a
// background sweep removes expired entries so abandoned keys do not
// accumulate. Safe for concurrent use.
type Limiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*window

	now func() time.Time
}

// New creates a limiter allowing max requests per key per window.
func New(max int, windowDur time.Duration) *Limiter {
	return &Limiter{
		max:     max,
		window:  windowDur,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Max returns the configured per-window request cap.
func (l *Limiter) Max() int { return l.max }

// Window returns the configured window duration.
func (l *Limiter) Window() time.Duration { return l.window }

// Check records one request for key and reports whether it is within limits.
func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !w.resetAt.After(now) {
		w = &window{resetAt: now.Add(l.window)}
		l.windows[key] = w
	}
	w.count++

	remaining := l.max - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   w.count <= l.max,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}
}

// Start runs the expiry sweep until ctx is cancelled. The sweep interval is
// the window duration, floored at one minute.
func (l *Limiter) Start(ctx context.Context) {
	interval := l.window
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, w := range l.windows {
		if !w.resetAt.After(now) {
			delete(l.windows, k)
		}
	}
}

// tracked returns the number of live windows. Test hook.
func (l *Limiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
