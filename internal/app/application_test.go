package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveroom/internal/channel"
	"liveroom/internal/collab"
	"liveroom/internal/config"
	"liveroom/pkg/interfaces"
	"liveroom/pkg/types"
)

// echoServer answers chat frames with the same frame. Upgrades are refused
// while reject is set.
func echoServer(t *testing.T, reject *atomic.Bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reject != nil && reject.Load() {
			http.Error(w, "restarting", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f types.Frame
			if json.Unmarshal(data, &f) == nil && f.Type == types.FrameTypeChatMessage {
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// localProvider is a provider that is synced as soon as it connects.
type localProvider struct {
	mu        sync.Mutex
	synced    bool
	listeners map[int]func(bool)
	next      int
	awareness localAwareness
}

func (p *localProvider) Connect() {
	p.mu.Lock()
	p.synced = true
	fns := make([]func(bool), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(true)
	}
}

func (p *localProvider) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.synced = false
}

func (p *localProvider) Destroy() {}

func (p *localProvider) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

func (p *localProvider) OnSync(fn func(bool)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listeners == nil {
		p.listeners = make(map[int]func(bool))
	}
	id := p.next
	p.next++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *localProvider) Awareness() interfaces.Awareness { return &p.awareness }

type localAwareness struct {
	mu    sync.Mutex
	state map[string]any
}

func (a *localAwareness) ClientID() string { return "local" }

func (a *localAwareness) SetLocalStateField(field string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == nil {
		a.state = make(map[string]any)
	}
	a.state[field] = value
}

func (a *localAwareness) LocalState() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]any, len(a.state))
	for k, v := range a.state {
		out[k] = v
	}
	return out
}

func (a *localAwareness) States() map[string]map[string]any {
	return map[string]map[string]any{"local": a.LocalState()}
}

func testConfig(t *testing.T, origin string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Origin = origin
	cfg.Database.Path = filepath.Join(t.TempDir(), "liveroom.db")
	cfg.Chat.BackoffBase = config.Duration(10 * time.Millisecond)
	cfg.Chat.BackoffMax = config.Duration(50 * time.Millisecond)
	cfg.Collab.Grace = config.Duration(20 * time.Millisecond)
	return cfg
}

func newTestApp(t *testing.T, origin string, mutate ...func(*config.Config)) *Application {
	t.Helper()
	cfg := testConfig(t, origin)
	for _, fn := range mutate {
		fn(cfg)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := func(string, *collab.Document) interfaces.Provider { return &localProvider{} }
	a, err := NewApplication(cfg, log,
		WithProviderFactory(factory),
		WithPrometheusRegistry(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	return a
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Log.Level = "chatty"
	_, err := NewApplication(cfg, nil)
	assert.Error(t, err)
}

func TestNewApplication_BadOrigin(t *testing.T) {
	cfg := testConfig(t, "ftp://example.com")
	_, err := NewApplication(cfg, nil, WithPrometheusRegistry(prometheus.NewRegistry()))
	assert.Error(t, err)
}

func TestSocketURLs(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Origin = "https://school.example.com"

	chatURL, collabURL, err := socketURLs(cfg)
	require.NoError(t, err)
	assert.Equal(t, "wss://school.example.com/ws", chatURL)
	assert.Equal(t, "wss://school.example.com/collab", collabURL)

	cfg.Chat.URL = "ws://127.0.0.1:9000/chat"
	chatURL, _, err = socketURLs(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9000/chat", chatURL)
}

func TestApplication_ChatRoundTrip(t *testing.T) {
	srv := echoServer(t, nil)
	a := newTestApp(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() { _ = a.Stop(context.Background()) }()

	require.NoError(t, a.Channel().WaitForConnection(ctx, 2*time.Second))

	sub, err := a.Hub().SubscribeToRoom(ctx, types.TeamRoomID("7"))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sent, err := a.Hub().SendMessage(types.TeamRoomID("7"), types.Message{
		SenderID: "u1", SenderName: "Ada", SenderType: types.SenderTypeUser, Content: "hello",
	})
	require.NoError(t, err)

	select {
	case msg := <-sub.Events():
		assert.Equal(t, sent.ID, msg.ID)
		assert.Equal(t, "hello", msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("echo not delivered")
	}
}

func TestApplication_EnvironmentEventReconnects(t *testing.T) {
	var reject atomic.Bool
	reject.Store(true)
	srv := echoServer(t, &reject)
	a := newTestApp(t, srv.URL, func(c *config.Config) {
		c.Chat.BackoffBase = config.Duration(time.Minute)
		c.Chat.BackoffMax = config.Duration(time.Minute)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() { _ = a.Stop(context.Background()) }()

	// First dial is refused; the next attempt is a minute away.
	require.Eventually(t, func() bool {
		return a.Channel().State() == channel.Disconnected
	}, 2*time.Second, 5*time.Millisecond)

	reject.Store(false)
	a.NotifyEnvironment(channel.NetworkOnline)
	require.Eventually(t, func() bool {
		return a.Channel().State() == channel.Open
	}, 2*time.Second, 5*time.Millisecond)
}

func TestApplication_MountSeedsFromStoredArtifact(t *testing.T) {
	srv := echoServer(t, nil)
	a := newTestApp(t, srv.URL)
	ctx := context.Background()
	defer func() { _ = a.Stop(ctx) }()

	saved := a.Store().SaveArtifact(ctx, types.Artifact{
		ProjectID: "p1", SessionID: "s1", TeamID: "t1", Content: "earlier draft",
	})
	require.True(t, saved.Success, saved.Error)

	m := a.MountDocument(ctx, "s1", "t1", "Ada")
	assert.True(t, m.Seeded())
	assert.Equal(t, "earlier draft", m.Session().Document.Text())
	assert.Equal(t, types.DocumentRoomName("s1", "t1"), m.Session().Room)

	require.NoError(t, m.Session().Document.InsertParagraph("new line", nil))
	res := a.SaveDocument(ctx, m, "p1", "s1", "t1", "Draft")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, saved.Data.ID, res.Data.ID)
	assert.Contains(t, res.Data.Content, "new line")

	m.Unmount()
	require.Eventually(t, func() bool {
		return a.Collab().Stats().Rooms == 0
	}, time.Second, 5*time.Millisecond)
}

func TestApplication_MountWithoutArtifactStaysEmpty(t *testing.T) {
	a := newTestApp(t, "http://127.0.0.1:1")
	defer func() { _ = a.Stop(context.Background()) }()

	m := a.MountDocument(context.Background(), "s1", "t9", "Grace")
	defer m.Unmount()
	assert.True(t, m.Session().Document.IsEmpty())
}

func TestApplication_StopWithoutStart(t *testing.T) {
	a := newTestApp(t, "http://127.0.0.1:1")
	assert.NoError(t, a.Stop(context.Background()))
}

func TestApplication_Gatherer(t *testing.T) {
	a := newTestApp(t, "http://127.0.0.1:1")
	defer func() { _ = a.Stop(context.Background()) }()

	families, err := a.Gatherer().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, strings.Join(names, ","), "liveroom_chat_state")
}

func TestNewLogger(t *testing.T) {
	var buf strings.Builder
	log := newLogger(&buf, "warn", "json")
	log.Info("hidden")
	log.Warn("shown", "room", "team_1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"source"`)

	buf.Reset()
	newLogger(&buf, "", "text").Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}
