// Package collab shares one realtime document and provider per editing room
// across every editor mounted on that room.
//
// Rooms are reference counted. When the last reference is released the room
// is not torn down at once: a grace window lets a quick remount (tab switch,
// route change) pick the same live document and provider back up.
package collab

import (
	"log/slog"
	"sync"
	"time"

	"liveroom/internal/metrics"
	"liveroom/pkg/interfaces"
)

// DefaultGrace is the delay between the last Release and teardown.
const DefaultGrace = 1500 * time.Millisecond

// ProviderFactory builds the provider syncing doc for room. It must not
// start any network activity; Connect does that.
type ProviderFactory func(room string, doc *Document) interfaces.Provider

// Session is the shared pair handed to every acquirer of a room.
type Session struct {
	Room     string
	Document *Document
	Provider interfaces.Provider
}

type entry struct {
	session      *Session
	refCount     int
	destroyTimer *time.Timer
	timerGen     uint64
}

// Stats is a snapshot of the registry.
type Stats struct {
	Rooms           int
	References      int
	PendingTeardown int
}

// Registry owns the room map
// ARCHITECTURAL DISCOVERY: acquire/cancel-timer and release/arm-timer each run
// in one critical section, and the timer callback re-checks the entry under
// the same lock, so a teardown can never race a fresh acquire
type Registry struct {
	factory ProviderFactory
	grace   time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry. grace <= 0 selects DefaultGrace.
func NewRegistry(factory ProviderFactory, grace time.Duration, log *slog.Logger, m *metrics.Metrics) *Registry {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		factory: factory,
		grace:   grace,
		log:     log.With("component", "collab"),
		metrics: m,
		entries: make(map[string]*entry),
	}
}

// Acquire returns the room's shared session, creating it on first use.
// A pending teardown is cancelled.
func (r *Registry) Acquire(room string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[room]; ok {
		e.refCount++
		if e.destroyTimer != nil {
			e.destroyTimer.Stop()
			e.destroyTimer = nil
			e.timerGen++
			r.log.Debug("collab.teardown.cancelled", "room", room)
		}
		return e.session
	}

	doc := NewDocument()
	s := &Session{Room: room, Document: doc, Provider: r.factory(room, doc)}
	r.entries[room] = &entry{session: s, refCount: 1}
	r.metrics.SetCollabRooms(len(r.entries))
	r.log.Info("collab.room.created", "room", room, "document", doc.ID())
	return s
}

// Release drops one reference and returns the references left. The last
// release arms the teardown timer. Releasing a room that holds no reference
// is logged and ignored.
func (r *Registry) Release(room string) int {
	return r.release(room, nil)
}

// release runs onLast under the registry lock when the count reaches zero.
func (r *Registry) release(room string, onLast func(*Session)) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[room]
	if !ok || e.refCount == 0 {
		r.metrics.UnbalancedRelease()
		r.log.Warn("collab.release.unbalanced", "room", room, "known", ok)
		return 0
	}

	e.refCount--
	if e.refCount > 0 {
		return e.refCount
	}

	if onLast != nil {
		onLast(e.session)
	}
	e.timerGen++
	gen := e.timerGen
	e.destroyTimer = time.AfterFunc(r.grace, func() {
		r.expire(room, e, gen)
	})
	r.log.Debug("collab.teardown.armed", "room", room, "grace", r.grace)
	return 0
}

// RefCount returns the number of live references to room.
func (r *Registry) RefCount(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[room]; ok {
		return e.refCount
	}
	return 0
}

// Stats returns counts over all rooms.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{Rooms: len(r.entries)}
	for _, e := range r.entries {
		s.References += e.refCount
		if e.destroyTimer != nil {
			s.PendingTeardown++
		}
	}
	return s
}

// Close tears every room down immediately, referenced or not.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.entries))
	for room, e := range r.entries {
		if e.destroyTimer != nil {
			e.destroyTimer.Stop()
			e.destroyTimer = nil
		}
		e.timerGen++
		sessions = append(sessions, e.session)
		delete(r.entries, room)
	}
	r.metrics.SetCollabRooms(0)
	r.mu.Unlock()

	for _, s := range sessions {
		r.destroy(s)
	}
	r.log.Info("collab.closed", "rooms", len(sessions))
}

func (r *Registry) expire(room string, e *entry, gen uint64) {
	r.mu.Lock()
	cur, ok := r.entries[room]
	if !ok || cur != e || e.refCount != 0 || e.timerGen != gen {
		r.mu.Unlock()
		return
	}
	delete(r.entries, room)
	r.metrics.SetCollabRooms(len(r.entries))
	r.mu.Unlock()

	r.destroy(e.session)
	r.metrics.Teardown()
	r.log.Info("collab.room.destroyed", "room", room, "document", e.session.Document.ID())
}

func (r *Registry) destroy(s *Session) {
	s.Provider.Disconnect()
	s.Provider.Destroy()
	s.Document.Destroy()
}
