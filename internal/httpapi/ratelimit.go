package httpapi

import (
	"sync"
	"time"
)

type attemptWindow struct {
	count   int
	resetAt time.Time
}

// fixedWindowLimiter throttles credential-bearing endpoints per client
// IP. Stale windows are pruned inline on Allow, so no janitor goroutine
// is needed.
type fixedWindowLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	max       int
	attempts  map[string]attemptWindow
	nextPrune time.Time
}

func newFixedWindowLimiter(max int, window time.Duration) *fixedWindowLimiter {
	return &fixedWindowLimiter{
		window:   window,
		max:      max,
		attempts: make(map[string]attemptWindow),
	}
}

// Allow reports whether the key may attempt now; when refused it also
// returns how long until the window resets.
func (l *fixedWindowLimiter) Allow(key string) (bool, time.Duration) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextPrune) {
		for k, w := range l.attempts {
			if now.After(w.resetAt) {
				delete(l.attempts, k)
			}
		}
		l.nextPrune = now.Add(5 * l.window)
	}

	w := l.attempts[key]
	if w.count == 0 || now.After(w.resetAt) {
		w = attemptWindow{resetAt: now.Add(l.window)}
	}
	w.count++
	l.attempts[key] = w

	if w.count <= l.max {
		return true, 0
	}
	return false, time.Until(w.resetAt)
}
