package wsprovider

import "liveroom/internal/collab"

// Frame types exchanged with the collaboration server.
const (
	FrameSyncRequest = "sync_request"
	FrameSync        = "sync"
	FrameUpdate      = "update"
	FrameAwareness   = "awareness"
)

// Frame is the JSON envelope of the room protocol.
//
//	client -> server  sync_request
//	server -> client  sync {nodes}
//	both ways         update {update}
//	both ways         awareness {clientId, state}; a null state means the peer left
type Frame struct {
	Type     string         `json:"type"`
	Nodes    []collab.Node  `json:"nodes,omitempty"`
	Update   *collab.Update `json:"update,omitempty"`
	ClientID string         `json:"clientId,omitempty"`
	State    map[string]any `json:"state,omitempty"`
}
