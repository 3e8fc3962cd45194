package collab

import (
	"sync"

	"liveroom/pkg/interfaces"
)

type fakeAwareness struct {
	mu    sync.Mutex
	local map[string]any
}

func (a *fakeAwareness) ClientID() string { return "fake" }

func (a *fakeAwareness) SetLocalStateField(field string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.local == nil {
		a.local = make(map[string]any)
	}
	a.local[field] = value
}

func (a *fakeAwareness) LocalState() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]any, len(a.local))
	for k, v := range a.local {
		out[k] = v
	}
	return out
}

func (a *fakeAwareness) States() map[string]map[string]any {
	return map[string]map[string]any{"fake": a.LocalState()}
}

// fakeProvider counts lifecycle calls and lets tests fire sync events.
type fakeProvider struct {
	mu          sync.Mutex
	room        string
	connects    int
	disconnects int
	destroyed   bool
	connected   bool
	synced      bool
	listeners   map[int]func(bool)
	nextID      int
	awareness   fakeAwareness
}

func newFakeProvider(room string) *fakeProvider {
	return &fakeProvider{room: room, listeners: make(map[int]func(bool))}
}

func (p *fakeProvider) Connect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects++
	p.connected = true
}

func (p *fakeProvider) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects++
	p.connected = false
	p.synced = false
}

func (p *fakeProvider) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
}

func (p *fakeProvider) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

func (p *fakeProvider) OnSync(fn func(bool)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *fakeProvider) Awareness() interfaces.Awareness { return &p.awareness }

// fireSync sets the synced flag and notifies listeners outside the lock.
func (p *fakeProvider) fireSync(synced bool) {
	p.mu.Lock()
	p.synced = synced
	fns := make([]func(bool), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(synced)
	}
}

func (p *fakeProvider) stats() (connects, disconnects int, destroyed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects, p.disconnects, p.destroyed
}

func (p *fakeProvider) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// fakeFactory remembers every provider it built.
type fakeFactory struct {
	mu    sync.Mutex
	built []*fakeProvider
}

func (f *fakeFactory) New(room string, doc *Document) interfaces.Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := newFakeProvider(room)
	f.built = append(f.built, p)
	return p
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}
