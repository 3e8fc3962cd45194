// Package hub fans inbound chat messages out to every UI surface subscribed
// to a room and keeps the chat channel's room membership in step with those
// subscriptions.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"liveroom/internal/metrics"
	"liveroom/pkg/types"
)

// Defaults for hub buffers.
const (
	DefaultInboundBuffer      = 1000
	DefaultSubscriptionBuffer = 64
)

// RoomChannel is the part of the chat channel the hub drives.
type RoomChannel interface {
	JoinRoom(ctx context.Context, roomID string) bool
	LeaveRoom(roomID string)
	SendMessage(roomID string, msg types.Message)
}

// Delivery is one inbound message waiting for fan-out.
type Delivery struct {
	RoomID     string
	Message    types.Message
	ReceivedAt time.Time
}

// Stats is a snapshot of hub subscriptions.
type Stats struct {
	Rooms         int
	Subscriptions int
	Running       bool
}

// Hub coordinates subscriptions and inbound delivery
// ARCHITECTURAL DISCOVERY: a single run goroutine delivers every message, so
// per-room arrival order is preserved for each subscriber
type Hub struct {
	channel RoomChannel
	log     *slog.Logger
	metrics *metrics.Metrics
	subBuf  int

	// FUNCTIONAL DISCOVERY: buffered so the socket read loop never waits on UI
	// consumers
	inbound chan Delivery

	limiter *SendLimiter

	mu         sync.RWMutex
	rooms      map[string]map[*Subscription]struct{}
	membership map[string]*roomMembership
	running    bool
	shutdown   chan struct{}
}

// roomMembership tracks what the channel was told about one room.
// TECHNICAL DISCOVERY: JoinRoom/LeaveRoom for a room run under mu and are
// decided from the subscriber count read under the same lock, so a delayed
// leave can never undo a newer join
type roomMembership struct {
	mu     sync.Mutex
	member bool // JoinRoom issued and not yet left
	joined bool // outcome of that JoinRoom
}

// NewHub creates a hub driving ch. Buffers <= 0 select the defaults.
func NewHub(ch RoomChannel, inboundBuffer, subscriptionBuffer int, log *slog.Logger, m *metrics.Metrics) *Hub {
	if inboundBuffer <= 0 {
		inboundBuffer = DefaultInboundBuffer
	}
	if subscriptionBuffer <= 0 {
		subscriptionBuffer = DefaultSubscriptionBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		channel: ch,
		log:     log.With("component", "hub"),
		metrics: m,
		subBuf:  subscriptionBuffer,
		inbound: make(chan Delivery, inboundBuffer),
		rooms:   make(map[string]map[*Subscription]struct{}),

		membership: make(map[string]*roomMembership),
	}
}

// Start begins delivery.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	shutdown := h.shutdown
	h.mu.Unlock()

	h.log.Info("hub.start")
	go h.run(ctx, shutdown)
	return nil
}

// Stop ends delivery and closes every subscription's event stream.
// Room membership is left to the channel's own shutdown.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)

	closed := 0
	for room, subs := range h.rooms {
		for sub := range subs {
			sub.closeLocked()
			closed++
		}
		delete(h.rooms, room)
	}
	h.metrics.AddSubscriptions(-closed)
	h.log.Info("hub.stop", "subscriptions_closed", closed)
	return nil
}

// Dispatch is the chat channel's inbound dispatcher. It never blocks; when
// the inbound buffer is full the message is dropped and counted.
func (h *Hub) Dispatch(roomID string, msg types.Message) {
	select {
	case h.inbound <- Delivery{RoomID: roomID, Message: msg, ReceivedAt: time.Now()}:
	default:
		h.metrics.EventDropped()
		h.log.Warn("hub.inbound.full", "room", roomID, "message_id", msg.ID)
	}
}

// SubscribeToRoom registers a new listener for roomID. The first subscriber
// of a room joins it on the channel; the returned subscription reports
// whether that join went out immediately.
func (h *Hub) SubscribeToRoom(ctx context.Context, roomID string) (*Subscription, error) {
	if !types.IsValidRoomID(roomID) {
		return nil, ErrInvalidRoomID
	}

	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil, ErrHubNotRunning
	}
	sub := &Subscription{
		hub:    h,
		roomID: roomID,
		events: make(chan types.Message, h.subBuf),
	}
	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.rooms[roomID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	h.metrics.AddSubscriptions(1)
	sub.joined = h.syncMembership(ctx, roomID)
	return sub, nil
}

func (h *Hub) membershipFor(roomID string) *roomMembership {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.membership[roomID]
	if !ok {
		m = &roomMembership{}
		h.membership[roomID] = m
	}
	return m
}

// syncMembership joins or leaves roomID on the channel so membership matches
// whether the room currently has subscribers. It returns the outcome of the
// room's join.
func (h *Hub) syncMembership(ctx context.Context, roomID string) bool {
	m := h.membershipFor(roomID)
	m.mu.Lock()
	defer m.mu.Unlock()

	h.mu.RLock()
	wanted := len(h.rooms[roomID]) > 0
	h.mu.RUnlock()

	switch {
	case wanted && !m.member:
		m.joined = h.channel.JoinRoom(ctx, roomID)
		m.member = true
		h.log.Info("hub.room.join", "room", roomID, "joined", m.joined)
	case !wanted && m.member:
		h.channel.LeaveRoom(roomID)
		m.member = false
		m.joined = false
		h.log.Info("hub.room.leave", "room", roomID)
	}
	return m.joined
}

// LimitSends caps outbound messages per sender. Call before Start.
func (h *Hub) LimitSends(l *SendLimiter) {
	h.limiter = l
}

// SendMessage stamps msg with an id and timestamp when missing and hands it
// to the channel, which sends or queues it.
func (h *Hub) SendMessage(roomID string, msg types.Message) (types.Message, error) {
	if !types.IsValidRoomID(roomID) {
		return msg, ErrInvalidRoomID
	}
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return msg, ErrHubNotRunning
	}

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if err := msg.Validate(); err != nil {
		return msg, err
	}
	if h.limiter != nil && !h.limiter.Allow(msg.SenderID) {
		h.log.Warn("hub.send.rate_limited", "room", roomID, "sender", msg.SenderID)
		return msg, ErrRateLimited
	}

	h.channel.SendMessage(roomID, msg)
	return msg, nil
}

// GetStats returns subscription counts.
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Stats{Rooms: len(h.rooms), Running: h.running}
	for _, subs := range h.rooms {
		s.Subscriptions += len(subs)
	}
	return s
}

// run is the delivery loop.
func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}) {
	defer h.log.Info("hub.stopped")

	var cleanup <-chan time.Time
	if h.limiter != nil {
		ticker := time.NewTicker(h.limiter.Window())
		defer ticker.Stop()
		cleanup = ticker.C
	}

	for {
		select {
		case d := <-h.inbound:
			h.deliver(d)
		case <-cleanup:
			h.limiter.Cleanup()
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// deliver hands d to every subscriber of its room. A subscriber whose buffer
// is full misses the message rather than stalling the others.
func (h *Hub) deliver(d Delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.rooms[d.RoomID]
	if len(subs) == 0 {
		h.log.Debug("hub.deliver.no_subscribers", "room", d.RoomID)
		return
	}
	for sub := range subs {
		select {
		case sub.events <- d.Message:
		default:
			h.metrics.EventDropped()
			h.log.Warn("hub.subscriber.slow", "room", d.RoomID, "message_id", d.Message.ID)
		}
	}
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	subs, ok := h.rooms[sub.roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := subs[sub]; !ok {
		h.mu.Unlock()
		return
	}
	delete(subs, sub)
	sub.closeLocked()
	if len(subs) == 0 {
		delete(h.rooms, sub.roomID)
	}
	h.mu.Unlock()

	h.metrics.AddSubscriptions(-1)
	h.syncMembership(context.Background(), sub.roomID)
}
