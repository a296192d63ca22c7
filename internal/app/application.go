// Package app wires the store, services and transports into one supervised process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"cececho/internal/api"
	"cececho/internal/auth"
	"cececho/internal/authz"
	"cececho/internal/calls"
	"cececho/internal/chat"
	"cececho/internal/config"
	"cececho/internal/database"
	"cececho/internal/hub"
	"cececho/internal/logging"
	"cececho/internal/membership"
	"cececho/internal/signaling"
	"cececho/internal/websocket"
)

// limiterMaxIdle is how long a connection's event limiter survives without traffic.
const limiterMaxIdle = 10 * time.Minute

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	registry   *websocket.Registry
	relayHub   *hub.Hub
	signaling  *signaling.Signaling
	apiServer  *api.Server
	httpServer *http.Server
	supervisor *suture.Supervisor
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Services → Registry → Hub → Signaling → Transport → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Initialize database manager (foundation layer, applies migrations)
	dbConfig := cfg.Database
	dbConfig.ReservedGroupNames = []string{cfg.Membership.GroupName}
	dbManager, err := database.NewManager(&dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 2: Authorization and domain services over the shared store
	enforcer, err := authz.NewEnforcer()
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize authorization: %w", err)
	}
	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, dbManager)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	members := membership.NewManager(dbManager, membership.Config{
		GroupName:        cfg.Membership.GroupName,
		GroupDescription: cfg.Membership.GroupDescription,
		ProgramYears:     cfg.Membership.ProgramYears,
	})
	callService := calls.NewService(dbManager, enforcer)
	chatService := chat.NewService(dbManager, cfg.Chat.HistoryLimit)

	// STEP 3: Connection registry and relay hub
	registry := websocket.NewRegistry()
	relayHub := hub.NewHub(registry, cfg.WebSocket.RelayQueueSize)
	members.SetEvictor(relayHub)

	// STEP 4: Signaling dispatcher behind the websocket handler
	dispatcher := signaling.New(dbManager, relayHub, callService, chatService, members, signaling.Config{
		EventsPerSecond: cfg.WebSocket.EventsPerSecond,
		EventBurst:      cfg.WebSocket.EventBurst,
	})
	wsHandler := websocket.NewHandler(registry, verifier, dispatcher, websocket.HandlerConfig{
		PingInterval:    cfg.WebSocket.PingInterval,
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		BufferSize:      cfg.WebSocket.BufferSize,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		AllowedOrigins:  cfg.HTTP.CORSOrigins,
	})

	// STEP 5: REST surface, which also mounts /ws, /health and /metrics
	apiServer := api.NewServer(api.Dependencies{
		Store:         dbManager,
		Calls:         callService,
		Chat:          chatService,
		Membership:    members,
		Enforcer:      enforcer,
		Authenticator: verifier,
		Registry:      registry,
		WebSocket:     http.HandlerFunc(wsHandler.HandleWebSocket),
	}, api.Config{
		CORSOrigins:       cfg.HTTP.CORSOrigins,
		RateLimitRequests: cfg.HTTP.RateLimitRequests,
		RateLimitWindow:   cfg.HTTP.RateLimitWindow,
		ICE:               cfg.WebRTC.ICE(),
	})

	// No WriteTimeout on the server: websocket connections outlive any request deadline
	// and manage their own write deadlines
	httpServer := &http.Server{
		Addr:              cfg.Address(),
		Handler:           apiServer,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		IdleTimeout:       2 * cfg.HTTP.ReadTimeout,
	}

	// STEP 6: Supervisor owns every long-running loop
	supervisor := suture.New("cececho", suture.Spec{
		EventHook:        logSupervisorEvent,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          cfg.HTTP.ShutdownTimeout,
	})
	supervisor.Add(relayHub)
	supervisor.Add(&sweeper{
		interval:      cfg.Membership.SweepInterval,
		limiterMaxAge: limiterMaxIdle,
		cleanup:       members.CleanupExpired,
		prune:         dispatcher.Limiter().Cleanup,
	})
	supervisor.Add(&httpService{server: httpServer, shutdownTimeout: cfg.HTTP.ShutdownTimeout})

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		registry:   registry,
		relayHub:   relayHub,
		signaling:  dispatcher,
		apiServer:  apiServer,
		httpServer: httpServer,
		supervisor: supervisor,
	}, nil
}

// Run serves until ctx is cancelled, then closes the store.
// Shutdown coordination: the supervisor stops HTTP, sweeper and hub before the database closes
func (app *Application) Run(ctx context.Context) error {
	logging.Info().Str("addr", app.httpServer.Addr).Msg("Starting CEC ECHO communication core")

	err := app.supervisor.Serve(ctx)

	if closeErr := app.dbManager.Close(); closeErr != nil {
		logging.Error().Err(closeErr).Msg("Database shutdown error")
	}
	logging.Info().Msg("CEC ECHO communication core stopped")

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("supervisor stopped: %w", err)
	}
	return nil
}

// Handler returns the root HTTP handler. Used by tests.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

func logSupervisorEvent(e suture.Event) {
	logging.Warn().
		Str("event_type", fmt.Sprintf("%v", e.Type())).
		Fields(e.Map()).
		Msg(e.String())
}
