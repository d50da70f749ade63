// Package app wires the messaging core together and runs it under a
// supervisor tree.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"huddle/internal/api"
	"huddle/internal/auth"
	"huddle/internal/bus"
	"huddle/internal/config"
	"huddle/internal/database"
	"huddle/internal/hub"
	"huddle/internal/logging"
	"huddle/internal/membership"
	"huddle/internal/roster"
	"huddle/internal/router"
	"huddle/internal/unread"
	"huddle/internal/websocket"
	pkgdatabase "huddle/pkg/database"
)

const (
	limiterCleanupInterval = time.Minute
	limiterIdle            = 10 * time.Minute
)

// Application owns every long-lived component of a node.
type Application struct {
	config   *config.Config
	store    *database.Manager
	roster   *roster.Manager
	registry *websocket.Registry
	members  *membership.Manager
	unread   unread.Store
	bus      bus.Bus
	router   *router.Router
	tokens   *auth.TokenManager
	hub      *hub.Hub
	api      *api.Server
	http     *httpService

	supervisor *suture.Supervisor
	closeOnce  sync.Once
	logger     zerolog.Logger
}

// NewApplication builds the node in dependency order:
// store, roster, registry, membership, unread, bus, router, hub, transport.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &Application{config: cfg, logger: logging.WithComponent("app")}
	if cfg.Auth.JWTSecret == config.DevJWTSecret {
		a.logger.Warn().Msg("Using the development JWT secret; set HUDDLE_AUTH_JWT_SECRET in production")
	}

	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) build() error {
	cfg := a.config
	var err error

	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.MaxConnections = cfg.Database.MaxConnections
	dbConfig.BusyTimeout = cfg.Database.Timeout
	if a.store, err = database.NewManager(dbConfig); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	a.roster = roster.NewManager(a.store)
	if err := a.roster.LoadGroups(context.Background()); err != nil {
		return fmt.Errorf("failed to load groups: %w", err)
	}

	a.registry = websocket.NewRegistry()
	a.members = membership.NewManager(a.roster, a.registry)

	if a.unread, err = unread.New(cfg.Unread); err != nil {
		return fmt.Errorf("failed to open unread store: %w", err)
	}

	if a.bus, err = bus.New(cfg.Bus); err != nil {
		return fmt.Errorf("failed to start bus: %w", err)
	}
	fanout := router.NewFanout(a.registry, a.members)
	if err := a.bus.Subscribe(fanout.Deliver); err != nil {
		return fmt.Errorf("failed to subscribe to bus: %w", err)
	}

	a.router = router.NewRouter(router.Deps{
		Rooms:  a.members,
		Users:  a.roster,
		Store:  a.store,
		Bus:    a.bus,
		Unread: a.unread,
	}, cfg.Delivery)

	if a.tokens, err = auth.NewTokenManager(cfg.Auth); err != nil {
		return fmt.Errorf("failed to create token manager: %w", err)
	}

	a.hub = hub.NewHub(a.tokens, a.registry, a.members, hub.Config{
		PongWait:      cfg.WebSocket.ReadTimeout,
		SweepInterval: cfg.WebSocket.SweepInterval,
	})

	wsHandler := websocket.NewHandler(a.hub, websocket.NewDispatcher(a.members, a.router), websocket.Settings{
		PingInterval:    cfg.WebSocket.PingInterval,
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		BufferSize:      cfg.WebSocket.BufferSize,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
	}, cfg.HTTP.CORSOrigins)

	a.api = api.NewServer(api.Deps{
		Auth:          a.tokens,
		Router:        a.router,
		Directory:     a.roster,
		Store:         a.store,
		Presence:      a.registry,
		Subscriptions: a.members,
		WebSocket:     wsHandler,
	}, api.Config{
		CORSOrigins:        cfg.HTTP.CORSOrigins,
		RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
		FilesDir:           cfg.Files.Dir,
		MaxUploadBytes:     cfg.Files.MaxUploadBytes,
		PublicPrefix:       cfg.Files.PublicPrefix,
	})

	a.http = newHTTPService(&http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.api,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}, cfg.HTTP.ShutdownTimeout)

	a.supervisor = a.newSupervisor()
	return nil
}

// newSupervisor lays the services out in two layers so an HTTP failure does
// not restart the presence sweeper.
func (a *Application) newSupervisor() *suture.Supervisor {
	sc := a.config.Supervisor
	spec := suture.Spec{
		FailureThreshold: sc.FailureThreshold,
		FailureDecay:     sc.FailureDecay,
		FailureBackoff:   sc.FailureBackoff,
		Timeout:          sc.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = eventHook(logging.WithComponent("supervisor"))

	root := suture.New("huddle", rootSpec)
	messaging := suture.New("messaging", spec)
	transport := suture.New("transport", spec)
	root.Add(messaging)
	root.Add(transport)

	messaging.Add(a.hub)
	messaging.Add(&limiterCleanup{
		limiter:  a.router.Limiter(),
		interval: limiterCleanupInterval,
		idle:     limiterIdle,
		logger:   logging.WithComponent("ratelimit"),
	})
	transport.Add(a.http)
	return root
}

// Handler is the HTTP surface without the listener.
func (a *Application) Handler() http.Handler { return a.api }

// Tokens issues and validates handshake tokens.
func (a *Application) Tokens() *auth.TokenManager { return a.tokens }

// Addr is the bound listen address, or nil before Run has started listening.
func (a *Application) Addr() net.Addr { return a.http.Addr() }

// Ready is closed once the HTTP listener is bound.
func (a *Application) Ready() <-chan struct{} { return a.http.ready }

// Run serves until ctx is cancelled, then releases every resource.
func (a *Application) Run(ctx context.Context) error {
	a.logger.Info().
		Str("addr", a.config.Addr()).
		Str("bus", a.config.Bus.Driver).
		Str("unread", a.config.Unread.Driver).
		Msg("Starting huddle")

	err := a.supervisor.Serve(ctx)
	a.Close()

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("supervisor stopped: %w", err)
	}
	a.logger.Info().Msg("Shutdown complete")
	return nil
}

// Close releases the bus, unread store and database in reverse build order.
// It is idempotent and safe on a partially built application.
func (a *Application) Close() {
	a.closeOnce.Do(a.closeResources)
}

func (a *Application) closeResources() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Bus close error")
		}
	}
	if a.unread != nil {
		if err := a.unread.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Unread store close error")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Database close error")
		}
	}
}
