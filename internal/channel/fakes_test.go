package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"liveroom/pkg/interfaces"
	"liveroom/pkg/types"
)

var errFakeClosed = errors.New("fake connection closed")

// fakeConn records written frames and serves inbound frames from a channel.
type fakeConn struct {
	mu        sync.Mutex
	written   [][]byte
	failWrite bool

	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.inbound:
		return data, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite {
		return errFakeClosed
	}
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) frames(t *testing.T) []types.Frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Frame, 0, len(f.written))
	for _, data := range f.written {
		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("written frame is not JSON: %v", err)
		}
		out = append(out, frame)
	}
	return out
}

// roomsOf returns the room ids of written frames of one type.
func (f *fakeConn) roomsOf(t *testing.T, frameType string) []string {
	t.Helper()
	var rooms []string
	for _, frame := range f.frames(t) {
		if frame.Type == frameType {
			rooms = append(rooms, frame.RoomID)
		}
	}
	return rooms
}

// chatContents returns the message contents of written chat frames.
func (f *fakeConn) chatContents(t *testing.T) []string {
	t.Helper()
	var contents []string
	for _, frame := range f.frames(t) {
		if frame.Type != types.FrameTypeChatMessage {
			continue
		}
		var msg types.Message
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			t.Fatalf("chat payload is not a message: %v", err)
		}
		contents = append(contents, msg.Content)
	}
	return contents
}

type dialResult struct {
	conn interfaces.Conn
	err  error
}

// fakeDialer blocks every Dial until the test hands it a result or the dial
// context is cancelled.
type fakeDialer struct {
	results  chan dialResult
	attempts atomic.Int32
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{results: make(chan dialResult)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (interfaces.Conn, error) {
	d.attempts.Add(1)
	select {
	case r := <-d.results:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) accept(t *testing.T, conn interfaces.Conn) {
	t.Helper()
	select {
	case d.results <- dialResult{conn: conn}:
	case <-time.After(2 * time.Second):
		t.Fatal("no dial attempt to accept")
	}
}

func (d *fakeDialer) reject(t *testing.T, err error) {
	t.Helper()
	select {
	case d.results <- dialResult{err: err}:
	case <-time.After(2 * time.Second):
		t.Fatal("no dial attempt to reject")
	}
}

func fastOptions() Options {
	return Options{
		URL:            "ws://chat.test/ws",
		ConnectTimeout: time.Second,
		BackoffBase:    10 * time.Millisecond,
		BackoffMax:     40 * time.Millisecond,
		JoinWait:       50 * time.Millisecond,
		JoinRetryDelay: 20 * time.Millisecond,
		WaitTimeout:    100 * time.Millisecond,
	}
}

func chatFrameBytes(t *testing.T, roomID string, msg types.Message) []byte {
	t.Helper()
	frame, err := types.ChatFrame(roomID, msg)
	if err != nil {
		t.Fatalf("build chat frame: %v", err)
	}
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal chat frame: %v", err)
	}
	return data
}
