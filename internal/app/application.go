// Package app builds the application-lifetime transport services and wires
// them together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"liveroom/internal/channel"
	"liveroom/internal/collab"
	"liveroom/internal/collab/wsprovider"
	"liveroom/internal/config"
	"liveroom/internal/hub"
	"liveroom/internal/metrics"
	"liveroom/internal/records"
	chatws "liveroom/internal/websocket"
	"liveroom/pkg/database"
	"liveroom/pkg/interfaces"
	"liveroom/pkg/types"
)

// Application owns the single chat channel, its subscription hub, the
// collaborative session registry and the artifact store.
type Application struct {
	config   *config.Config
	log      *slog.Logger
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics

	channel *channel.Channel
	hub     *hub.Hub
	collab  *collab.Registry
	store   *records.Store
	events  chan channel.EnvironmentEvent
}

type options struct {
	dialer   interfaces.Dialer
	factory  collab.ProviderFactory
	registry *prometheus.Registry
}

// Option overrides a collaborator built from configuration.
type Option func(*options)

// WithDialer replaces the chat socket dialer.
func WithDialer(d interfaces.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithProviderFactory replaces the collaborative provider factory.
func WithProviderFactory(f collab.ProviderFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithPrometheusRegistry registers collectors on reg instead of a fresh
// registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// NewApplication validates cfg and builds every component in dependency
// order: store, metrics, channel, hub, collab registry.
func NewApplication(cfg *config.Config, log *slog.Logger, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	// STEP 1: artifact store (seeding source)
	store, err := records.Open(&database.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime.Std(),
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime.Std(),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}

	// STEP 2: metrics
	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.New(reg)

	// STEP 3: chat channel
	chatURL, collabURL, err := socketURLs(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	dialer := o.dialer
	if dialer == nil {
		dialer = chatws.NewDialer(cfg.Chat.ConnectTimeout.Std(), chatws.Options{
			SendQueueSize: cfg.Chat.SendQueueSize,
			WriteTimeout:  cfg.Chat.WriteTimeout.Std(),
			PingInterval:  cfg.Chat.PingInterval.Std(),
		})
	}
	ch := channel.New(dialer, channel.Options{
		URL:            chatURL,
		ConnectTimeout: cfg.Chat.ConnectTimeout.Std(),
		BackoffBase:    cfg.Chat.BackoffBase.Std(),
		BackoffMax:     cfg.Chat.BackoffMax.Std(),
		JoinWait:       cfg.Chat.JoinWait.Std(),
		JoinRetryDelay: cfg.Chat.JoinRetryDelay.Std(),
		WaitTimeout:    cfg.Chat.WaitTimeout.Std(),
	}, log, m)

	// STEP 4: subscription hub on top of the channel
	h := hub.NewHub(ch, cfg.Chat.InboundBuffer, cfg.Chat.SubscriptionBuffer, log, m)
	h.LimitSends(hub.NewSendLimiter(cfg.Chat.SendLimit, cfg.Chat.SendWindow.Std()))

	// STEP 5: collaborative session registry
	factory := o.factory
	if factory == nil {
		factory = wsprovider.NewFactory(wsprovider.Options{
			BaseURL:      collabURL,
			DialTimeout:  cfg.Collab.DialTimeout.Std(),
			WriteTimeout: cfg.Collab.WriteTimeout.Std(),
			BackoffBase:  cfg.Collab.BackoffBase.Std(),
			BackoffMax:   cfg.Collab.BackoffMax.Std(),
			ReadLimit:    cfg.Collab.ReadLimit,
		}, log)
	}
	registry := collab.NewRegistry(factory, cfg.Collab.Grace.Std(), log, m)

	return &Application{
		config:   cfg,
		log:      log.With("component", "app"),
		gatherer: reg,
		metrics:  m,
		channel:  ch,
		hub:      h,
		collab:   registry,
		store:    store,
		events:   make(chan channel.EnvironmentEvent, 8),
	}, nil
}

// socketURLs resolves the chat and collab endpoints. Explicit URLs win over
// the origin-derived ones.
func socketURLs(cfg *config.Config) (chatURL, collabURL string, err error) {
	chatURL = cfg.Chat.URL
	if chatURL == "" {
		if chatURL, err = chatws.DeriveSocketURL(cfg.Origin, cfg.Chat.Path); err != nil {
			return "", "", fmt.Errorf("chat url: %w", err)
		}
	}
	collabURL = cfg.Collab.URL
	if collabURL == "" {
		if collabURL, err = chatws.DeriveSocketURL(cfg.Origin, cfg.Collab.Path); err != nil {
			return "", "", fmt.Errorf("collab url: %w", err)
		}
	}
	return chatURL, collabURL, nil
}

// Start begins delivery and opens the chat connection. Host events passed
// to NotifyEnvironment are watched until ctx is done.
func (a *Application) Start(ctx context.Context) error {
	if err := a.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}
	a.channel.Init(a.hub.Dispatch)
	a.channel.Connect()
	go a.channel.WatchEnvironment(ctx, a.events)

	a.log.Info("app.start", "chat_url", a.channel.URL())
	return nil
}

// Stop tears down in reverse order: documents, channel, hub, store.
func (a *Application) Stop(ctx context.Context) error {
	a.log.Info("app.stop")

	a.collab.Close()
	a.channel.Disconnect()

	var errs []error
	if err := a.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store shutdown: %w", err))
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NotifyEnvironment hands a host connectivity hint to the channel. Events
// are dropped while a previous burst is still pending.
func (a *Application) NotifyEnvironment(ev channel.EnvironmentEvent) {
	select {
	case a.events <- ev:
	default:
	}
}

// MountDocument mounts the team's collaborative document of a session,
// seeding an empty document from the stored artifact.
func (a *Application) MountDocument(ctx context.Context, sessionID, teamID, userName string) *collab.Mount {
	return a.collab.Mount(collab.MountOptions{
		Room:         types.DocumentRoomName(sessionID, teamID),
		UserName:     userName,
		PriorContent: records.PriorContent(ctx, a.store, sessionID, teamID),
	})
}

// SaveDocument stores the mounted document's text as the team's artifact.
func (a *Application) SaveDocument(ctx context.Context, m *collab.Mount, projectID, sessionID, teamID, title string) types.Result[types.Artifact] {
	return a.store.SaveArtifact(ctx, types.Artifact{
		ProjectID: projectID,
		SessionID: sessionID,
		TeamID:    teamID,
		Title:     title,
		Content:   m.Session().Document.Text(),
	})
}

func (a *Application) Channel() *channel.Channel { return a.channel }

func (a *Application) Hub() *hub.Hub { return a.hub }

func (a *Application) Collab() *collab.Registry { return a.collab }

func (a *Application) Store() *records.Store { return a.store }

// Gatherer exposes the collectors for a /metrics handler.
func (a *Application) Gatherer() prometheus.Gatherer { return a.gatherer }
