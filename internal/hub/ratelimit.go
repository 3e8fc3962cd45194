package hub

import (
	"sync"
	"time"
)

// Default outbound send budget per sender.
const (
	DefaultSendLimit  = 100
	DefaultSendWindow = time.Minute
)

// SendLimiter caps how many messages one sender may hand to the channel per
// window, so a runaway surface cannot flood the outbound queue.
// FUNCTIONAL DISCOVERY: fixed window per sender; the first send opens it
type SendLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	senders map[string]*senderWindow
}

type senderWindow struct {
	count int
	start time.Time
}

// NewSendLimiter allows limit sends per window. Non-positive values select
// the defaults.
func NewSendLimiter(limit int, window time.Duration) *SendLimiter {
	if limit <= 0 {
		limit = DefaultSendLimit
	}
	if window <= 0 {
		window = DefaultSendWindow
	}
	return &SendLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		senders: make(map[string]*senderWindow),
	}
}

// Allow records one send by senderID and reports whether it fits the budget.
func (l *SendLimiter) Allow(senderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.senders[senderID]
	if !ok || now.Sub(w.start) >= l.window {
		l.senders[senderID] = &senderWindow{count: 1, start: now}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// Cleanup forgets senders idle for more than five windows.
func (l *SendLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id, w := range l.senders {
		if now.Sub(w.start) > 5*l.window {
			delete(l.senders, id)
		}
	}
}

// Window returns the limiter's window length.
func (l *SendLimiter) Window() time.Duration { return l.window }

func (l *SendLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.senders)
}
