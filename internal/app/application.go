package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"chathub/internal/api"
	"chathub/internal/auth"
	"chathub/internal/config"
	"chathub/internal/database"
	"chathub/internal/hub"
	"chathub/internal/presence"
	"chathub/internal/websocket"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	dbManager  *database.Manager
	presence   presence.Tracker
	redis      *presence.Redis
	verifier   *auth.Verifier
	chatHub    *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Presence → Verifier → Hub → WebSocket → API → HTTP
func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// STEP 1: Durable store, migrated when configured
	dbManager, err := database.NewManager(cfg.Database, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	app := &Application{
		config:    cfg,
		logger:    logger,
		dbManager: dbManager,
		presence:  presence.Nop{},
	}

	// STEP 2: Presence is optional; an unreachable Redis is a startup error
	if cfg.Redis.Addr != "" {
		redisTracker, err := presence.NewRedis(ctx, presence.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			_ = dbManager.Close()
			return nil, fmt.Errorf("failed to initialize presence: %w", err)
		}
		app.redis = redisTracker
		app.presence = redisTracker
	}

	// STEP 3: Identity verifier backed by the session table
	app.verifier = auth.NewVerifier([]byte(cfg.Auth.Secret), dbManager, cfg.Auth.VerifyTimeout, logger.Named("auth"))

	// STEP 4: Hub owns registry, gate, limiter, typing and read state
	app.chatHub = hub.New(hub.Config{
		GateWindow:      cfg.Limits.GateWindow,
		GateMaxAttempts: cfg.Limits.GateMaxAttempts,
		RateWindow:      cfg.Limits.RateWindow,
		RateLimit:       cfg.Limits.RateLimit,
		TypingCooldown:  cfg.Limits.TypingCooldown,
		TypingTTL:       cfg.Limits.TypingTTL,
		SweepInterval:   cfg.Limits.SweepInterval,
	}, dbManager, app.verifier, app.presence, logger.Named("hub"))

	// STEP 5: WebSocket transport
	wsHandler := websocket.NewHandler(app.chatHub, websocket.HandlerConfig{
		BufferSize:      cfg.WebSocket.BufferSize,
		PingInterval:    cfg.WebSocket.PingInterval,
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
	}, logger.Named("ws"))

	// STEP 6: HTTP API with the socket mounted at /ws
	app.apiServer = api.NewServer(dbManager, app.verifier, app.chatHub, wsHandler, logger.Named("api"))

	// WriteTimeout is left unset on the server: it would cut hijacked
	// websocket connections. The connection writer sets its own deadlines.
	app.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           app.apiServer,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
	}

	return app, nil
}

// Handler returns the root HTTP handler
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Start begins application execution
// Hub starts first so admitted connections always find it running
func (app *Application) Start(ctx context.Context) error {
	if err := app.chatHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.chatHub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	app.logger.Info("chathub started",
		zap.String("addr", listener.Addr().String()),
		zap.String("store", string(app.dbManager.Dialect())),
		zap.Bool("presence", app.redis != nil))
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Hub → Presence → Database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down chathub")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// Hijacked websocket connections are not tracked by Shutdown; the hub closes them
	if err := app.chatHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}

	// Give read pumps a moment to run disconnect cleanup before the store closes
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("presence shutdown: %w", err))
		}
	}
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	app.logger.Info("chathub shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound listener address once started, else the configured one
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
