package interfaces

import "context"

// Conn is one established socket as seen by the messaging channel
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details so the
// channel state machine is testable without a real network
type Conn interface {
	// ReadMessage blocks until the next text frame arrives or the socket fails.
	// After Close it returns an error.
	ReadMessage() ([]byte, error)

	// WriteMessage queues one text frame (thread-safe, FIFO).
	WriteMessage(data []byte) error

	// Close closes the socket and unblocks ReadMessage. Idempotent.
	Close() error
}

// Dialer opens chat connections.
type Dialer interface {
	// Dial establishes a connection to url. Cancelling ctx aborts a pending
	// handshake.
	Dial(ctx context.Context, url string) (Conn, error)
}
