// Package backoff holds the timing helpers shared by the chat channel and the
// collaborative room providers.
package backoff

import (
	"sync"
	"time"
)

// Default reconnect schedule: 1s, 2s, 4s, 8s, then capped at 10s.
const (
	DefaultBase = time.Second
	DefaultMax  = 10 * time.Second
)

// Delay returns min(base * 2^attempt, max). Negative attempts count as zero.
func Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		base = DefaultBase
	}
	if max < base {
		max = base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}

// Schedule tracks the attempt counter of one reconnect loop.
// It is not safe for concurrent use; owners guard it with their own lock.
type Schedule struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

// Next returns the delay for the current attempt and advances the counter.
func (s *Schedule) Next() time.Duration {
	d := Delay(s.attempt, s.Base, s.Max)
	s.attempt++
	return d
}

// Attempt reports how many delays were handed out since the last Reset.
func (s *Schedule) Attempt() int { return s.attempt }

// Reset puts the schedule back to its first delay.
func (s *Schedule) Reset() { s.attempt = 0 }

// Watchdog is a single-shot timer: it fires its callback once after the
// timeout unless stopped first.
type Watchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	fired   bool
	stopped bool
}

// StartWatchdog arms a watchdog that calls fn after timeout.
func StartWatchdog(timeout time.Duration, fn func()) *Watchdog {
	w := &Watchdog{}
	w.timer = time.AfterFunc(timeout, func() {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		w.fired = true
		w.mu.Unlock()
		fn()
	})
	return w
}

// Stop disarms the watchdog. It reports whether the callback was prevented
// from running. Safe on a nil watchdog.
func (w *Watchdog) Stop() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fired || w.stopped {
		return false
	}
	w.stopped = true
	w.timer.Stop()
	return true
}

// Expired reports whether the callback has run.
func (w *Watchdog) Expired() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}
