package hub

import (
	"sync"

	"liveroom/pkg/types"
)

// Subscription is one UI surface listening to a room.
type Subscription struct {
	hub    *Hub
	roomID string
	events chan types.Message
	joined bool

	closeOnce sync.Once
}

// RoomID returns the subscribed room.
func (s *Subscription) RoomID() string { return s.roomID }

// Events delivers the room's inbound messages in arrival order. It is closed
// by Unsubscribe or when the hub stops.
func (s *Subscription) Events() <-chan types.Message { return s.events }

// Joined reports whether the room's join had gone out when the subscription
// was created. Later subscribers share the outcome of the room's join. A
// false value means the join is deferred until the channel opens.
func (s *Subscription) Joined() bool { return s.joined }

// Unsubscribe stops delivery. The last subscriber of a room leaves it.
// Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.hub.unsubscribe(s)
}

// closeLocked closes the event stream; the hub lock must be held.
func (s *Subscription) closeLocked() {
	s.closeOnce.Do(func() { close(s.events) })
}
