// Package channel implements the application-wide chat channel: one socket
// multiplexing every chat room, with reconnect backoff, room membership
// replay and an outbound queue for messages sent while offline.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"liveroom/internal/backoff"
	"liveroom/internal/metrics"
	"liveroom/internal/waiters"
	"liveroom/pkg/interfaces"
	"liveroom/pkg/types"
)

// Dispatcher receives every inbound chat message.
type Dispatcher func(roomID string, msg types.Message)

// Defaults for Options.
const (
	DefaultConnectTimeout = 8 * time.Second
	DefaultJoinWait       = 5 * time.Second
	DefaultJoinRetryDelay = 2 * time.Second
	DefaultWaitTimeout    = 5 * time.Second
)

// Options configure a Channel. Zero durations select the defaults.
type Options struct {
	URL            string
	ConnectTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	JoinWait       time.Duration
	JoinRetryDelay time.Duration
	WaitTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = backoff.DefaultBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = backoff.DefaultMax
	}
	if o.JoinWait <= 0 {
		o.JoinWait = DefaultJoinWait
	}
	if o.JoinRetryDelay <= 0 {
		o.JoinRetryDelay = DefaultJoinRetryDelay
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}
	return o
}

// Channel owns the single chat connection of the application.
// ARCHITECTURAL DISCOVERY: all state lives behind one mutex; socket callbacks
// carry the generation of the attempt that produced them and are ignored
// once a newer attempt exists
type Channel struct {
	dialer  interfaces.Dialer
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics
	waiters *waiters.Set

	mu               sync.Mutex
	state            State
	conn             interfaces.Conn
	gen              uint64
	dispatcher       Dispatcher
	manualDisconnect bool

	rooms  []string          // membership, insertion order
	joined map[string]uint64 // room -> generation its join frame was sent on

	pending []types.Outbound

	schedule       backoff.Schedule
	reconnectTimer *time.Timer
	watchdog       *backoff.Watchdog
	dialCancel     context.CancelFunc
	joinRetries    map[string]*time.Timer
}

// New creates a disconnected channel. Nothing is dialed until Init,
// Connect or WaitForConnection.
func New(dialer interfaces.Dialer, opts Options, log *slog.Logger, m *metrics.Metrics) *Channel {
	opts = opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		dialer:      dialer,
		opts:        opts,
		log:         log.With("component", "chat"),
		metrics:     m,
		waiters:     waiters.NewSet(),
		joined:      make(map[string]uint64),
		joinRetries: make(map[string]*time.Timer),
		schedule:    backoff.Schedule{Base: opts.BackoffBase, Max: opts.BackoffMax},
	}
}

// Init installs the inbound dispatcher, replacing any previous one, lifts a
// manual disconnect and starts connecting.
func (c *Channel) Init(onMessage Dispatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatcher = onMessage
	c.manualDisconnect = false
	c.connectLocked()
}

// Connect starts a connection attempt unless one is already in progress or
// open, or the channel was manually disconnected.
func (c *Channel) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectLocked()
}

// OnNetworkOnline is the host's "back online" hook.
func (c *Channel) OnNetworkOnline() {
	c.log.Debug("chat.env", "event", NetworkOnline.String())
	c.Connect()
}

// OnVisible is the host's "foreground again" hook.
func (c *Channel) OnVisible() {
	c.log.Debug("chat.env", "event", Visible.String())
	c.Connect()
}

// WatchEnvironment forwards host events to the reconnect hooks until ctx is
// done or events is closed.
func (c *Channel) WatchEnvironment(ctx context.Context, events <-chan EnvironmentEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev {
			case NetworkOnline:
				c.OnNetworkOnline()
			case Visible:
				c.OnVisible()
			}
		}
	}
}

// Disconnect closes the connection and suppresses reconnects until the next
// Init. Membership and queued messages are kept.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.manualDisconnect = true
	c.gen++
	c.stopTimersLocked()
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.setStateLocked(Disconnected)
	c.log.Info("chat.disconnect", "rooms", len(c.rooms), "pending", len(c.pending))
}

// JoinRoom records room membership and tries to get a join frame out.
// It reports true when the join was sent on an open channel, possibly after
// waiting up to JoinWait for one. On false a single deferred retry is
// scheduled; membership replay on the next open covers the rest.
func (c *Channel) JoinRoom(ctx context.Context, roomID string) bool {
	if !types.IsValidRoomID(roomID) {
		c.log.Warn("chat.join.invalid_room", "room", roomID)
		return false
	}

	c.mu.Lock()
	c.addRoomLocked(roomID)
	if c.state == Open {
		ok := c.ensureJoinedLocked(roomID)
		c.mu.Unlock()
		if !ok {
			c.scheduleJoinRetry(roomID)
		}
		return ok
	}
	c.mu.Unlock()

	if err := c.WaitForConnection(ctx, c.opts.JoinWait); err == nil {
		c.mu.Lock()
		ok := c.isMemberLocked(roomID) && c.ensureJoinedLocked(roomID)
		c.mu.Unlock()
		if ok {
			return true
		}
	} else {
		c.log.Info("chat.join.deferred", "room", roomID, "error", err)
	}

	c.scheduleJoinRetry(roomID)
	return false
}

// LeaveRoom drops room membership. A leave frame goes out only if the
// channel is open; nothing is queued otherwise.
func (c *Channel) LeaveRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := slices.Index(c.rooms, roomID); i >= 0 {
		c.rooms = slices.Delete(c.rooms, i, i+1)
	}
	delete(c.joined, roomID)
	if t, ok := c.joinRetries[roomID]; ok {
		t.Stop()
		delete(c.joinRetries, roomID)
	}

	if c.state != Open {
		return
	}
	if err := c.writeFrameLocked(types.LeaveFrame(roomID)); err != nil {
		c.log.Warn("chat.leave.failed", "room", roomID, "error", err)
	}
}

// SendMessage sends a chat message now if the channel is open, otherwise
// queues it for the next open. It never fails; a message that cannot be
// encoded is logged and dropped.
func (c *Channel) SendMessage(roomID string, msg types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Anything still queued must go first.
	if c.state == Open && len(c.pending) == 0 {
		frame, err := types.ChatFrame(roomID, msg)
		if err != nil {
			c.log.Error("chat.send.encode", "room", roomID, "error", err)
			return
		}
		if err := c.writeFrameLocked(frame); err == nil {
			return
		}
	}

	c.pending = append(c.pending, types.Outbound{RoomID: roomID, Message: msg})
	c.metrics.SetQueueDepth(len(c.pending))
	c.log.Debug("chat.send.queued", "room", roomID, "pending", len(c.pending))
}

// WaitForConnection returns nil once the channel is open. It triggers a
// connect attempt and gives up after timeout (WaitTimeout when <= 0).
func (c *Channel) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.opts.WaitTimeout
	}

	c.mu.Lock()
	if c.state == Open {
		c.mu.Unlock()
		return nil
	}
	w := c.waiters.Add()
	c.connectLocked()
	c.mu.Unlock()

	err := c.waiters.Wait(ctx, w, timeout)
	if errors.Is(err, waiters.ErrTimeout) {
		return fmt.Errorf("%w after %s: %w", ErrConnectionTimeout, timeout, err)
	}
	return err
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rooms returns the membership in join order.
func (c *Channel) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.rooms)
}

// PendingCount returns the number of queued outbound messages.
func (c *Channel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// URL returns the socket address the channel dials.
func (c *Channel) URL() string { return c.opts.URL }

func (c *Channel) connectLocked() {
	if c.manualDisconnect || c.state != Disconnected {
		return
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}

	c.gen++
	gen := c.gen
	c.setStateLocked(Connecting)

	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	c.watchdog = backoff.StartWatchdog(c.opts.ConnectTimeout, func() {
		c.handleWatchdog(gen)
	})

	c.log.Debug("chat.connect", "gen", gen, "url", c.opts.URL)
	go c.dial(ctx, gen)
}

func (c *Channel) dial(ctx context.Context, gen uint64) {
	conn, err := c.dialer.Dial(ctx, c.opts.URL)
	if err != nil {
		c.handleClosed(gen, err)
		return
	}
	c.handleOpen(gen, conn)
}

// handleWatchdog force-closes a handshake that is still pending.
func (c *Channel) handleWatchdog(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != Connecting {
		return
	}
	c.metrics.WatchdogFired()
	c.log.Warn("chat.watchdog", "gen", gen, "timeout", c.opts.ConnectTimeout)
	c.closeLocked()
}

func (c *Channel) handleOpen(gen uint64, conn interfaces.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != Connecting {
		conn.Close()
		return
	}

	c.watchdog.Stop()
	c.watchdog = nil
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}

	c.conn = conn
	c.setStateLocked(Open)
	c.schedule.Reset()

	joined := 0
	for _, room := range c.rooms {
		if !c.ensureJoinedLocked(room) {
			break
		}
		joined++
	}

	flushed := 0
	for len(c.pending) > 0 {
		out := c.pending[0]
		frame, err := types.ChatFrame(out.RoomID, out.Message)
		if err != nil {
			c.log.Error("chat.flush.encode", "room", out.RoomID, "error", err)
			c.pending = c.pending[1:]
			continue
		}
		if err := c.writeFrameLocked(frame); err != nil {
			break
		}
		c.pending = c.pending[1:]
		flushed++
	}
	if len(c.pending) == 0 {
		c.pending = nil
	}
	c.metrics.SetQueueDepth(len(c.pending))

	resolved := c.waiters.ResolveAll()
	c.log.Info("chat.open", "gen", gen, "rooms", joined, "flushed", flushed, "waiters", resolved)

	go c.readLoop(gen, conn)
}

func (c *Channel) readLoop(gen uint64, conn interfaces.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(gen, err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Channel) handleFrame(data []byte) {
	roomID, msg, err := types.DecodeChatFrame(data)
	if err != nil {
		c.metrics.FrameDropped()
		c.log.Debug("chat.frame.dropped", "error", err, "size", len(data))
		return
	}

	c.mu.Lock()
	dispatch := c.dispatcher
	c.mu.Unlock()
	if dispatch != nil {
		dispatch(roomID, msg)
	}
}

func (c *Channel) handleClosed(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state == Disconnected {
		return
	}
	c.log.Info("chat.closed", "gen", gen, "state", c.state.String(), "error", err)
	c.closeLocked()
}

// closeLocked moves to Disconnected and schedules the next attempt.
func (c *Channel) closeLocked() {
	c.watchdog.Stop()
	c.watchdog = nil
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.setStateLocked(Disconnected)
	c.scheduleReconnectLocked()
}

func (c *Channel) scheduleReconnectLocked() {
	if c.manualDisconnect || c.reconnectTimer != nil {
		return
	}
	delay := c.schedule.Next()
	c.metrics.ReconnectScheduled()
	c.log.Info("chat.reconnect.scheduled", "delay", delay, "attempt", c.schedule.Attempt())

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.reconnectTimer != t {
			return
		}
		c.reconnectTimer = nil
		c.connectLocked()
	})
	c.reconnectTimer = t
}

// scheduleJoinRetry arms the single deferred join retry for roomID.
func (c *Channel) scheduleJoinRetry(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isMemberLocked(roomID) {
		return
	}
	if old, ok := c.joinRetries[roomID]; ok {
		old.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(c.opts.JoinRetryDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.joinRetries[roomID] != t {
			return
		}
		delete(c.joinRetries, roomID)
		if c.state != Open || !c.isMemberLocked(roomID) {
			c.log.Debug("chat.join.retry_skipped", "room", roomID, "state", c.state.String())
			return
		}
		c.ensureJoinedLocked(roomID)
	})
	c.joinRetries[roomID] = t
}

func (c *Channel) stopTimersLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.watchdog.Stop()
	c.watchdog = nil
	for room, t := range c.joinRetries {
		t.Stop()
		delete(c.joinRetries, room)
	}
}

func (c *Channel) addRoomLocked(roomID string) {
	if !slices.Contains(c.rooms, roomID) {
		c.rooms = append(c.rooms, roomID)
	}
}

func (c *Channel) isMemberLocked(roomID string) bool {
	return slices.Contains(c.rooms, roomID)
}

// ensureJoinedLocked sends a join for roomID unless one already went out on
// the current connection.
func (c *Channel) ensureJoinedLocked(roomID string) bool {
	if c.state != Open {
		return false
	}
	if c.joined[roomID] == c.gen {
		return true
	}
	if err := c.writeFrameLocked(types.JoinFrame(roomID)); err != nil {
		c.log.Warn("chat.join.failed", "room", roomID, "error", err)
		return false
	}
	c.joined[roomID] = c.gen
	return true
}

// writeFrameLocked hands one frame to the socket. A write failure closes the
// socket; the read loop then reports the close and reconnect takes over.
func (c *Channel) writeFrameLocked(frame types.Frame) error {
	if c.conn == nil {
		return ErrNotOpen
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}
	if err := c.conn.WriteMessage(data); err != nil {
		c.log.Warn("chat.write.failed", "type", frame.Type, "room", frame.RoomID, "error", err)
		c.conn.Close()
		return err
	}
	c.metrics.FrameSent(frame.Type)
	return nil
}

func (c *Channel) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.log.Debug("chat.state", "from", c.state.String(), "to", s.String())
	c.state = s
	c.metrics.SetChatState(int(s))
}
