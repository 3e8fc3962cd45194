package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatws "liveroom/internal/websocket"
	"liveroom/pkg/types"
)

// relay is a minimal chat server: it records every frame and echoes chat
// messages back to the sender.
type relay struct {
	mu       sync.Mutex
	frames   []types.Frame
	conns    []*websocket.Conn
	upgrader websocket.Upgrader
}

func (r *relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.conns = append(r.conns, conn)
	r.mu.Unlock()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		r.mu.Lock()
		r.frames = append(r.frames, frame)
		r.mu.Unlock()
		if frame.Type == types.FrameTypeChatMessage {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (r *relay) framesOf(frameType string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rooms []string
	for _, f := range r.frames {
		if f.Type == frameType {
			rooms = append(rooms, f.RoomID)
		}
	}
	return rooms
}

// dropAll closes every server-side socket, simulating a server restart.
func (r *relay) dropAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		c.Close()
	}
	r.conns = nil
}

func TestChannel_AgainstWebsocketRelay(t *testing.T) {
	rl := &relay{upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}}
	srv := httptest.NewServer(rl)
	defer srv.Close()

	url, err := chatws.DeriveSocketURL(srv.URL, "/ws")
	require.NoError(t, err)

	opts := fastOptions()
	opts.URL = url
	ch := New(chatws.NewDialer(time.Second, chatws.Options{}), opts, nil, nil)
	defer ch.Disconnect()

	got := make(chan types.Message, 4)
	ch.Init(func(roomID string, msg types.Message) {
		if roomID == "team_1" {
			got <- msg
		}
	})

	require.True(t, ch.JoinRoom(context.Background(), "team_1"))
	ch.SendMessage("team_1", types.Message{ID: "m1", SenderID: "u1", SenderName: "Ada", Content: "ping"})

	select {
	case msg := <-got:
		assert.Equal(t, "ping", msg.Content)
		assert.Equal(t, "Ada", msg.SenderName)
	case <-time.After(2 * time.Second):
		t.Fatal("echo not received")
	}

	// Server drops us; membership is replayed on the new socket.
	rl.dropAll()
	require.Eventually(t, func() bool {
		return len(rl.framesOf(types.FrameTypeJoin)) == 2 && ch.State() == Open
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"team_1", "team_1"}, rl.framesOf(types.FrameTypeJoin))
}
