// Package ratelimit bounds how many attempts one client identity may make
// within a recurring window. Limiter keeps its windows in process memory;
// RedisLimiter shares them between instances.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries caps how many identities a Limiter tracks at once.
const DefaultMaxEntries = 10000

// Decision is the outcome of one attempt.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // time until the window resets; zero when allowed
}

// Checker is implemented by every limiter backend.
type Checker interface {
	Check(ctx context.Context, key string) (Decision, error)
}

type windowState struct {
	count int
	start time.Time
}

// Limiter is a fixed-window attempt counter keyed by client identity. The
// first attempt after a window elapses starts a new one. It is safe for
// concurrent use.
type Limiter struct {
	mu         sync.Mutex
	max        int
	window     time.Duration
	maxEntries int
	windows    map[string]*windowState
	now        func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithMaxEntries caps the number of tracked identities.
func WithMaxEntries(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxEntries = n
		}
	}
}

// NewLimiter admits maxAttempts per window per key.
func NewLimiter(maxAttempts int, window time.Duration, opts ...Option) *Limiter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		max:        maxAttempts,
		window:     window,
		maxEntries: DefaultMaxEntries,
		windows:    make(map[string]*windowState),
		now:        time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Allow records one attempt for key and reports whether it is admitted.
func (l *Limiter) Allow(key string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		if !ok && len(l.windows) >= l.maxEntries {
			// live windows are never dropped; a new identity waits for the
			// earliest one to elapse
			if next, full := l.evictLocked(now); full {
				return Decision{Allowed: false, Limit: l.max, RetryAfter: next.Sub(now)}
			}
		}
		l.windows[key] = &windowState{count: 1, start: now}
		return Decision{Allowed: true, Limit: l.max, Remaining: l.max - 1}
	}

	if w.count > l.max {
		return Decision{Allowed: false, Limit: l.max, RetryAfter: w.start.Add(l.window).Sub(now)}
	}
	w.count++
	if w.count > l.max {
		return Decision{Allowed: false, Limit: l.max, RetryAfter: w.start.Add(l.window).Sub(now)}
	}
	return Decision{Allowed: true, Limit: l.max, Remaining: l.max - w.count}
}

// Check adapts Allow to the Checker interface. It never fails.
func (l *Limiter) Check(_ context.Context, key string) (Decision, error) {
	return l.Allow(key), nil
}

// Reset forgets the window of key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}

// Len returns the number of tracked identities.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// evictLocked drops elapsed windows. When the map is still full it reports
// true along with the time the earliest live window elapses. l.mu must be
// held.
func (l *Limiter) evictLocked(now time.Time) (time.Time, bool) {
	var next time.Time
	for k, w := range l.windows {
		end := w.start.Add(l.window)
		if !now.Before(end) {
			delete(l.windows, k)
			continue
		}
		if next.IsZero() || end.Before(next) {
			next = end
		}
	}
	return next, len(l.windows) >= l.maxEntries
}
