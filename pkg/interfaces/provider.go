package interfaces

// Awareness is the ephemeral presence map attached to a collaborative
// connection. Local fields are broadcast to peers; remote states arrive keyed
// by peer client id.
type Awareness interface {
	ClientID() string
	SetLocalStateField(field string, value any)
	LocalState() map[string]any
	States() map[string]map[string]any
}

// Provider is the realtime connection of one collaborative room
// ARCHITECTURAL DISCOVERY: the registry only needs lifecycle calls, the synced
// flag and awareness; the sync wire protocol stays behind this boundary
type Provider interface {
	// Connect starts (or resumes) syncing. No-op when already connected.
	Connect()
	// Disconnect stops syncing but keeps the provider reusable.
	Disconnect()
	// Destroy releases every resource. The provider is unusable afterwards.
	Destroy()
	// Synced reports whether the document matches the server state.
	Synced() bool
	// OnSync registers fn for synced-state changes and returns its remover.
	OnSync(fn func(synced bool)) (remove func())
	Awareness() Awareness
}
