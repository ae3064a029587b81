package httpapi

import (
	"sync"
	"time"
)

// loginLimiter is a fixed-window counter per remote IP, protecting the
// single admin secret from online guessing.
type loginLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*loginWindow
}

type loginWindow struct {
	count   int
	resetAt time.Time
}

func newLoginLimiter(max int, window time.Duration) *loginLimiter {
	return &loginLimiter{
		max:     max,
		window:  window,
		windows: make(map[string]*loginWindow),
	}
}

// allow counts one attempt for key. When the window is exhausted it
// returns false plus the time until the counter resets.
func (l *loginLimiter) allow(key string) (time.Duration, bool) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	// Opportunistic pruning keeps the map from growing without a
	// background goroutine.
	if len(l.windows) > 4096 {
		for k, w := range l.windows {
			if now.After(w.resetAt) {
				delete(l.windows, k)
			}
		}
	}

	w := l.windows[key]
	if w == nil || now.After(w.resetAt) {
		w = &loginWindow{resetAt: now.Add(l.window)}
		l.windows[key] = w
	}
	w.count++
	if w.count <= l.max {
		return 0, true
	}
	return time.Until(w.resetAt), false
}
