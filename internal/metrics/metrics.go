// Package metrics exposes Prometheus collectors for the realtime transport.
//
// Every method is safe on a nil *Metrics so components can run without
// instrumentation (tests, embedded use).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "liveroom"

// Metrics groups the collectors of the chat channel, the hub and the
// collaborative registry.
type Metrics struct {
	ChatState          prometheus.Gauge
	ChatReconnects     prometheus.Counter
	ChatWatchdogFires  prometheus.Counter
	ChatQueueDepth     prometheus.Gauge
	ChatFramesSent     *prometheus.CounterVec
	ChatFramesDropped  prometheus.Counter
	HubEventsDropped   prometheus.Counter
	HubSubscriptions   prometheus.Gauge
	CollabRooms        prometheus.Gauge
	CollabTeardowns    prometheus.Counter
	CollabUnbalanced   prometheus.Counter
	CollabSeeds        prometheus.Counter
}

// New creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChatState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "chat", Name: "state",
			Help: "Chat channel state: 0 disconnected, 1 connecting, 2 open.",
		}),
		ChatReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chat", Name: "reconnects_scheduled_total",
			Help: "Reconnect attempts scheduled after a close or error.",
		}),
		ChatWatchdogFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chat", Name: "watchdog_fires_total",
			Help: "Handshakes force-closed by the connect watchdog.",
		}),
		ChatQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "chat", Name: "pending_outbound",
			Help: "Chat messages queued while the channel is not open.",
		}),
		ChatFramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chat", Name: "frames_sent_total",
			Help: "Frames written to the chat socket by type.",
		}, []string{"type"}),
		ChatFramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chat", Name: "frames_dropped_total",
			Help: "Inbound frames ignored as malformed or unrecognized.",
		}),
		HubEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "events_dropped_total",
			Help: "Inbound messages not delivered to a full subscriber buffer.",
		}),
		HubSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "hub", Name: "subscriptions",
			Help: "Active room subscriptions across all UI surfaces.",
		}),
		CollabRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "collab", Name: "rooms",
			Help: "Collaborative rooms with a live document and provider.",
		}),
		CollabTeardowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "collab", Name: "teardowns_total",
			Help: "Rooms destroyed after the grace window.",
		}),
		CollabUnbalanced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "collab", Name: "unbalanced_releases_total",
			Help: "Release calls without a matching Acquire.",
		}),
		CollabSeeds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "collab", Name: "seeds_total",
			Help: "Empty documents seeded with prior content.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ChatState, m.ChatReconnects, m.ChatWatchdogFires, m.ChatQueueDepth,
			m.ChatFramesSent, m.ChatFramesDropped,
			m.HubEventsDropped, m.HubSubscriptions,
			m.CollabRooms, m.CollabTeardowns, m.CollabUnbalanced, m.CollabSeeds,
		)
	}
	return m
}

func (m *Metrics) SetChatState(state int) {
	if m == nil {
		return
	}
	m.ChatState.Set(float64(state))
}

func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.ChatReconnects.Inc()
}

func (m *Metrics) WatchdogFired() {
	if m == nil {
		return
	}
	m.ChatWatchdogFires.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.ChatQueueDepth.Set(float64(n))
}

func (m *Metrics) FrameSent(frameType string) {
	if m == nil {
		return
	}
	m.ChatFramesSent.WithLabelValues(frameType).Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.ChatFramesDropped.Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.HubEventsDropped.Inc()
}

func (m *Metrics) AddSubscriptions(delta int) {
	if m == nil {
		return
	}
	m.HubSubscriptions.Add(float64(delta))
}

func (m *Metrics) SetCollabRooms(n int) {
	if m == nil {
		return
	}
	m.CollabRooms.Set(float64(n))
}

func (m *Metrics) Teardown() {
	if m == nil {
		return
	}
	m.CollabTeardowns.Inc()
}

func (m *Metrics) UnbalancedRelease() {
	if m == nil {
		return
	}
	m.CollabUnbalanced.Inc()
}

func (m *Metrics) Seeded() {
	if m == nil {
		return
	}
	m.CollabSeeds.Inc()
}
