package collab

import (
	"log/slog"
	"sync"
)

// MountOptions describe one editor mounted on a room.
type MountOptions struct {
	Room         string
	UserName     string
	PriorContent string
}

// Mount is one editor's borrow of a room session.
type Mount struct {
	registry *Registry
	session  *Session
	opts     MountOptions
	log      *slog.Logger

	removeSync func()

	mu      sync.Mutex
	seedTry bool
	seeded  bool

	unmountOnce sync.Once
}

// Mount acquires opts.Room, publishes the user's presence, connects the
// provider and seeds the document with PriorContent on the first sync if it
// is still empty.
func (r *Registry) Mount(opts MountOptions) *Mount {
	s := r.Acquire(opts.Room)
	m := &Mount{
		registry: r,
		session:  s,
		opts:     opts,
		log:      r.log.With("room", opts.Room),
	}

	s.Provider.Awareness().SetLocalStateField("user", PresenceFor(opts.UserName))

	// Register before connecting so the first sync cannot be missed.
	m.removeSync = s.Provider.OnSync(func(synced bool) {
		if synced {
			m.seed()
		}
	})
	s.Provider.Connect()
	if s.Provider.Synced() {
		m.seed()
	}
	return m
}

// Session returns the shared session.
func (m *Mount) Session() *Session { return m.session }

// Seeded reports whether this mount inserted the prior content.
func (m *Mount) Seeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seeded
}

// Unmount stops listening, disconnects the provider if no other mount holds
// the room and releases the room. Safe to call more than once.
func (m *Mount) Unmount() {
	m.unmountOnce.Do(func() {
		m.removeSync()
		m.registry.release(m.opts.Room, func(s *Session) {
			s.Provider.Disconnect()
		})
	})
}

// seed runs at most once per mount.
func (m *Mount) seed() {
	m.mu.Lock()
	if m.seedTry {
		m.mu.Unlock()
		return
	}
	m.seedTry = true
	m.mu.Unlock()

	if m.opts.PriorContent == "" {
		return
	}
	if !m.session.Document.InsertParagraphIfEmpty(m.opts.PriorContent, m) {
		m.log.Debug("collab.seed.skipped", "reason", "document not empty")
		return
	}

	m.mu.Lock()
	m.seeded = true
	m.mu.Unlock()
	m.registry.metrics.Seeded()
	m.log.Info("collab.seed", "bytes", len(m.opts.PriorContent))
}
