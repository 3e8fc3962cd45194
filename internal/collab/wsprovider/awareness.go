package wsprovider

import (
	"encoding/json"
	"maps"
	"sync"
)

// Awareness holds the presence state of this client and of every peer in
// the room. It implements interfaces.Awareness.
type Awareness struct {
	clientID string
	onLocal  func(state map[string]any)

	mu     sync.Mutex
	local  map[string]any
	remote map[string]map[string]any
}

func newAwareness(clientID string, onLocal func(map[string]any)) *Awareness {
	return &Awareness{
		clientID: clientID,
		onLocal:  onLocal,
		local:    make(map[string]any),
		remote:   make(map[string]map[string]any),
	}
}

// ClientID identifies this client among the room's peers.
func (a *Awareness) ClientID() string { return a.clientID }

// SetLocalStateField sets one field of the local state and broadcasts the
// whole state.
func (a *Awareness) SetLocalStateField(field string, value any) {
	a.mu.Lock()
	a.local[field] = normalize(value)
	state := maps.Clone(a.local)
	a.mu.Unlock()

	if a.onLocal != nil {
		a.onLocal(state)
	}
}

// LocalState returns a copy of the local state.
func (a *Awareness) LocalState() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.local)
}

// States returns every known state keyed by client id, this client included.
func (a *Awareness) States() map[string]map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]map[string]any, len(a.remote)+1)
	for id, s := range a.remote {
		out[id] = maps.Clone(s)
	}
	out[a.clientID] = maps.Clone(a.local)
	return out
}

func (a *Awareness) applyRemote(clientID string, state map[string]any) {
	if clientID == "" || clientID == a.clientID {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if state == nil {
		delete(a.remote, clientID)
		return
	}
	a.remote[clientID] = state
}

func (a *Awareness) clearRemote() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.remote)
}

// normalize round-trips structs through JSON so local and remote states have
// the same shape.
func normalize(value any) any {
	switch value.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return value
	}
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return value
	}
	return out
}
