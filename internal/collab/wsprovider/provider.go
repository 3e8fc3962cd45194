// Package wsprovider connects a collaborative document to its room on the
// collaboration server over one websocket per room.
package wsprovider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"liveroom/internal/backoff"
	"liveroom/internal/collab"
	"liveroom/pkg/interfaces"
)

const tracerName = "liveroom/internal/collab/wsprovider"

// Defaults for Options.
const (
	DefaultDialTimeout  = 10 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	DefaultReadLimit    = 1 << 20
	outboundBuffer      = 128
)

// Options configure every provider built by a factory.
type Options struct {
	BaseURL      string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	ReadLimit    int64
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = backoff.DefaultBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = backoff.DefaultMax
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	return o
}

// RoomURL returns the socket address of room under base.
func RoomURL(base, room string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(room)
}

// NewFactory returns a collab.ProviderFactory building websocket providers.
func NewFactory(opts Options, log *slog.Logger) collab.ProviderFactory {
	return func(room string, doc *collab.Document) interfaces.Provider {
		return New(room, doc, opts, log)
	}
}

// Provider syncs one document with its room. It implements
// interfaces.Provider.
type Provider struct {
	room   string
	url    string
	doc    *collab.Document
	opts   Options
	log    *slog.Logger
	tracer trace.Tracer

	awareness      *Awareness
	removeObserver func()

	mu        sync.Mutex
	active    bool
	destroyed bool
	synced    bool
	cancel    context.CancelFunc
	out       chan Frame // set while a socket is up
	pending   []collab.Update
	listeners map[int]func(bool)
	nextID    int
}

// New creates a disconnected provider for room.
func New(room string, doc *collab.Document, opts Options, log *slog.Logger) *Provider {
	opts = opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	p := &Provider{
		room:      room,
		url:       RoomURL(opts.BaseURL, room),
		doc:       doc,
		opts:      opts,
		tracer:    otel.Tracer(tracerName),
		listeners: make(map[int]func(bool)),
	}
	p.awareness = newAwareness(uuid.NewString(), p.publishAwareness)
	p.log = log.With("component", "collab.provider", "room", room, "client", p.awareness.ClientID())
	p.removeObserver = doc.OnUpdate(p.onLocalUpdate)
	return p
}

// Connect starts the sync loop. It returns at once; the loop keeps
// reconnecting with backoff until Disconnect or Destroy.
func (p *Provider) Connect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed || p.active {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.active = true
	p.cancel = cancel
	go p.loop(ctx)
}

// Disconnect stops syncing without blocking. Local edits made while
// disconnected are kept and sent after the next sync.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	p.active = false
	p.cancel()
	p.cancel = nil
	p.out = nil
	fns := p.setSyncedLocked(false)
	p.mu.Unlock()

	notify(fns, false)
	p.awareness.clearRemote()
}

// Destroy disconnects and detaches from the document for good.
func (p *Provider) Destroy() {
	p.Disconnect()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	p.destroyed = true
	p.removeObserver()
	p.pending = nil
	clear(p.listeners)
}

// Synced reports whether the document holds the server state.
func (p *Provider) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

// OnSync registers fn for synced-state changes.
func (p *Provider) OnSync(fn func(bool)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// Awareness returns the room presence map.
func (p *Provider) Awareness() interfaces.Awareness { return p.awareness }

// PendingUpdates returns the number of local edits waiting for a sync.
func (p *Provider) PendingUpdates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Provider) loop(ctx context.Context) {
	schedule := backoff.Schedule{Base: p.opts.BackoffBase, Max: p.opts.BackoffMax}
	for {
		synced, err := p.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if synced {
			schedule.Reset()
		}
		delay := schedule.Next()
		p.log.Info("collab.provider.reconnect", "delay", delay, "attempt", schedule.Attempt(), "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session runs one socket until it fails or ctx is cancelled. It reports
// whether the document got synced on it.
func (p *Provider) session(ctx context.Context) (bool, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.CloseNow()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan Frame, outboundBuffer)
	out <- Frame{Type: FrameSyncRequest}
	out <- Frame{Type: FrameAwareness, ClientID: p.awareness.ClientID(), State: p.awareness.LocalState()}

	p.mu.Lock()
	p.out = out
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		var fns []func(bool)
		if p.out == out {
			p.out = nil
			fns = p.setSyncedLocked(false)
		}
		p.mu.Unlock()
		notify(fns, false)
	}()

	writeErr := make(chan error, 1)
	go func() { writeErr <- p.writeLoop(sctx, conn, out) }()

	synced := false
	for {
		var f Frame
		if err := wsjson.Read(sctx, conn, &f); err != nil {
			select {
			case werr := <-writeErr:
				if werr != nil {
					err = werr
				}
			default:
			}
			if ctx.Err() == nil {
				return synced, err
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return synced, nil
		}

		switch f.Type {
		case FrameSync:
			if p.handleSync(f.Nodes, out) {
				synced = true
			}
		case FrameUpdate:
			if f.Update == nil {
				continue
			}
			if err := p.doc.ApplyUpdate(*f.Update, p); err != nil {
				p.log.Warn("collab.provider.update_rejected", "error", err)
			}
		case FrameAwareness:
			p.awareness.applyRemote(f.ClientID, f.State)
		default:
			p.log.Debug("collab.provider.frame_ignored", "type", f.Type)
		}
	}
}

func (p *Provider) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, span := p.tracer.Start(ctx, "collab.dial",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("collab.room", p.room)))
	defer span.End()

	dctx, cancel := context.WithTimeout(ctx, p.opts.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dctx, p.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return nil, fmt.Errorf("dial %s: %w", p.url, err)
	}
	conn.SetReadLimit(p.opts.ReadLimit)
	return conn, nil
}

func (p *Provider) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-out:
			wctx, cancel := context.WithTimeout(ctx, p.opts.WriteTimeout)
			err := wsjson.Write(wctx, conn, f)
			cancel()
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				conn.CloseNow()
				return fmt.Errorf("write %s: %w", f.Type, err)
			}
		}
	}
}

// handleSync installs the server state, replays edits made while offline and
// flips the synced flag.
func (p *Provider) handleSync(nodes []collab.Node, out chan Frame) bool {
	if err := p.doc.ApplySnapshot(nodes); err != nil {
		return false
	}

	for {
		p.mu.Lock()
		if p.out != out {
			p.mu.Unlock()
			return false
		}
		if len(p.pending) == 0 {
			fns := p.setSyncedLocked(true)
			p.mu.Unlock()
			notify(fns, true)
			p.log.Info("collab.provider.synced", "nodes", len(nodes))
			return true
		}
		pending := p.pending
		p.pending = nil
		p.mu.Unlock()

		for _, u := range pending {
			if u.Op == collab.OpInsert && u.Index > p.doc.Len() {
				u.Index = p.doc.Len()
			}
			if err := p.doc.ApplyUpdate(u, p); err != nil {
				p.log.Debug("collab.provider.replay_skipped", "op", u.Op, "index", u.Index, "error", err)
				continue
			}
			p.enqueue(Frame{Type: FrameUpdate, Update: &u})
		}
	}
}

// onLocalUpdate forwards edits made on this client.
func (p *Provider) onLocalUpdate(u collab.Update, origin any) {
	if origin == any(p) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	if !p.synced || p.out == nil {
		p.pending = append(p.pending, u)
		return
	}
	p.enqueueLocked(Frame{Type: FrameUpdate, Update: &u})
}

func (p *Provider) publishAwareness(state map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return
	}
	p.enqueueLocked(Frame{Type: FrameAwareness, ClientID: p.awareness.ClientID(), State: state})
}

func (p *Provider) enqueue(f Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enqueueLocked(f)
}

func (p *Provider) enqueueLocked(f Frame) {
	if p.out == nil {
		if f.Update != nil {
			p.pending = append(p.pending, *f.Update)
		}
		return
	}
	select {
	case p.out <- f:
	default:
		// Full buffer: keep edits for the next sync, drop presence.
		if f.Update != nil {
			p.pending = append(p.pending, *f.Update)
		}
		p.log.Warn("collab.provider.outbound_full", "type", f.Type)
	}
}

func (p *Provider) setSyncedLocked(v bool) []func(bool) {
	if p.synced == v {
		return nil
	}
	p.synced = v
	fns := make([]func(bool), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(bool), v bool) {
	for _, fn := range fns {
		fn(v)
	}
}
