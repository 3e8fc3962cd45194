package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Defaults for a chat socket.
const (
	DefaultSendQueueSize = 256
	DefaultWriteTimeout  = 5 * time.Second
	DefaultPingInterval  = 30 * time.Second
)

// Options tune a Connection. Zero values select the defaults.
type Options struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	PingInterval  time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = DefaultSendQueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	return o
}

// Connection implements interfaces.Conn on top of a gorilla client socket
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so every frame
// goes through writeCh and a single writer goroutine
type Connection struct {
	conn      *websocket.Conn
	opts      Options
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// NewConnection wraps an established socket and starts its writer.
func NewConnection(conn *websocket.Conn, opts Options) *Connection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		opts:    opts,
		writeCh: make(chan []byte, opts.SendQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	// Pongs (and any other frame) push the read deadline forward.
	// TECHNICAL DISCOVERY: two missed ping intervals mean the peer is gone
	readWindow := 2 * opts.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readWindow))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWindow))
	})

	go c.writeLoop()
	return c
}

// writeLoop is the only goroutine writing to the socket.
// A failed write closes the connection, which unblocks ReadMessage and lets
// the owner run its reconnect path.
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteMessage queues one text frame. Frames are written in the order they
// were queued.
func (c *Connection) WriteMessage(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	// FUNCTIONAL DISCOVERY: a full queue gets a short grace period before the
	// caller gives up, instead of blocking the channel lock indefinitely
	timer := time.NewTimer(c.opts.WriteTimeout)
	defer timer.Stop()
	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// ReadMessage returns the payload of the next data frame.
func (c *Connection) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.Close()
		return nil, err
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.opts.PingInterval))
	return data, nil
}

// Close stops the writer and closes the socket. Idempotent.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
