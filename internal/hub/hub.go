// Package hub owns the process-wide chat state: the connection registry, the
// admission gate, rate buckets and typing timers. Its lifetime is bounded by
// Start and Stop.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chathub/internal/gate"
	"chathub/internal/presence"
	"chathub/internal/ratelimit"
	"chathub/internal/readstate"
	"chathub/internal/sequencer"
	"chathub/internal/typing"
	"chathub/internal/websocket"
	"chathub/pkg/interfaces"
	"chathub/pkg/types"
)

const presenceTimeout = 2 * time.Second

// Verifier resolves an access token to an identity
type Verifier interface {
	Verify(ctx context.Context, token string) (types.Identity, error)
}

// Config holds the hub's tunables
type Config struct {
	GateWindow      time.Duration
	GateMaxAttempts int
	RateWindow      time.Duration
	RateLimit       int
	TypingCooldown  time.Duration
	TypingTTL       time.Duration
	SweepInterval   time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		GateWindow:      gate.DefaultWindow,
		GateMaxAttempts: gate.DefaultMaxAttempts,
		RateWindow:      ratelimit.DefaultWindow,
		RateLimit:       ratelimit.DefaultLimit,
		TypingCooldown:  typing.DefaultCooldown,
		TypingTTL:       typing.DefaultTTL,
		SweepInterval:   time.Minute,
	}
}

// Hub coordinates admission, membership, event dispatch and fan-out
// ARCHITECTURAL DISCOVERY: No central event loop. Each connection's read pump
// calls Dispatch directly; shared maps are striped or RW-locked, so unrelated
// conversations never wait on each other.
type Hub struct {
	config    Config
	store     interfaces.Store
	verifier  Verifier
	presence  presence.Tracker
	registry  *websocket.Registry
	gate      *gate.Gate
	limiter   *ratelimit.Limiter
	typing    *typing.Coordinator
	reads     *readstate.Tracker
	sequencer *sequencer.Sequencer
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
}

var (
	_ interfaces.Broadcaster = (*Hub)(nil)
	_ websocket.Hub          = (*Hub)(nil)
)

// New creates a hub. A nil presence tracker disables presence.
func New(config Config, store interfaces.Store, verifier Verifier, tracker presence.Tracker, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = presence.Nop{}
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Minute
	}

	h := &Hub{
		config:   config,
		store:    store,
		verifier: verifier,
		presence: tracker,
		registry: websocket.NewRegistry(),
		gate:     gate.New(config.GateWindow, config.GateMaxAttempts),
		limiter:  ratelimit.New(config.RateWindow, config.RateLimit),
		metrics:  &Metrics{},
		logger:   logger,
		now:      time.Now,
	}
	h.typing = typing.NewCoordinator(h, config.TypingCooldown, config.TypingTTL, typing.WithLogger(logger))
	h.reads = readstate.NewTracker(store, h, logger)
	h.sequencer = sequencer.New(store, h, logger)
	return h
}

// Start begins the background sweeper
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.stopCh = make(chan struct{})

	h.wg.Add(1)
	go h.sweepLoop(ctx, h.stopCh)

	h.logger.Info("hub started")
	return nil
}

// Stop halts the sweeper and closes every live connection. Each connection's
// read pump then runs the normal disconnect cleanup.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.stopCh)
	h.mu.Unlock()

	h.wg.Wait()

	conns := h.registry.All()
	for _, conn := range conns {
		_ = conn.Close()
	}
	h.logger.Info("hub stopped", zap.Int("closed_connections", len(conns)))
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) sweepLoop(ctx context.Context, stop <-chan struct{}) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := h.now()
			attempts := h.gate.Sweep(now)
			buckets := h.limiter.Sweep(now)
			if attempts > 0 || buckets > 0 {
				h.logger.Debug("swept idle state",
					zap.Int("attempt_logs", attempts),
					zap.Int("rate_buckets", buckets))
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Authenticate runs the connection gate, then the identity verifier.
// Nothing is allocated for the connection until both pass.
func (h *Hub) Authenticate(ctx context.Context, sessionHint, token string) (types.Identity, error) {
	if !h.IsRunning() {
		return types.Identity{}, fmt.Errorf("%w: %w", types.ErrStoreUnavailable, ErrHubNotRunning)
	}

	if err := h.gate.Admit(sessionHint, h.now()); err != nil {
		h.metrics.AdmissionsRejected.Add(1)
		return types.Identity{}, err
	}

	identity, err := h.verifier.Verify(ctx, token)
	if err != nil {
		h.metrics.AdmissionsRejected.Add(1)
		return types.Identity{}, err
	}
	return identity, nil
}

// Attach resolves the connection's conversations, joins each group and
// registers the connection. Membership is resolved once; conversations
// created later are joined on the next connect.
func (h *Hub) Attach(ctx context.Context, conn interfaces.Connection) error {
	if !h.IsRunning() {
		return fmt.Errorf("%w: %w", types.ErrStoreUnavailable, ErrHubNotRunning)
	}

	identity := conn.Identity()
	conversationIDs, err := h.store.ConversationIDsForUser(ctx, identity.UserID)
	if err != nil {
		return fmt.Errorf("resolve memberships: %w", err)
	}

	if err := h.registry.Register(conn); err != nil {
		return err
	}
	for _, id := range conversationIDs {
		if err := h.registry.Join(conn, id); err != nil {
			h.registry.Unregister(conn, h.limiter.Discard)
			return fmt.Errorf("join %s: %w", id, err)
		}
	}

	h.markPresence(identity, conn.ID(), true)
	h.metrics.ConnectionsOpened.Add(1)
	h.logger.Info("connection attached",
		zap.String("conn", conn.ID()),
		zap.String("user", identity.UserID),
		zap.String("session", identity.SessionID),
		zap.Int("conversations", len(conversationIDs)))
	return nil
}

// Disconnect leaves every group, drops the rate bucket once the identity has
// no other connection, clears the user's typing entries and marks presence
// offline. Only the first call for a connection does anything.
func (h *Hub) Disconnect(conn interfaces.Connection) {
	if !h.registry.Unregister(conn, h.limiter.Discard) {
		return
	}

	identity := conn.Identity()
	cleared := h.typing.ClearUser(identity.UserID, conn.ID())
	h.markPresence(identity, conn.ID(), false)

	h.metrics.ConnectionsClosed.Add(1)
	h.logger.Info("connection detached",
		zap.String("conn", conn.ID()),
		zap.String("user", identity.UserID),
		zap.Int("typing_cleared", cleared))
}

func (h *Hub) markPresence(identity types.Identity, connID string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	var err error
	if online {
		err = h.presence.Online(ctx, identity, connID)
	} else {
		err = h.presence.Offline(ctx, identity, connID)
	}
	if err != nil {
		h.logger.Warn("presence update failed",
			zap.String("user", identity.UserID),
			zap.Bool("online", online),
			zap.Error(err))
	}
}

// Registry exposes the connection registry for health reporting
func (h *Hub) Registry() *websocket.Registry {
	return h.registry
}

// Metrics exposes the hub counters
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// Stats summarises in-memory state for /health
func (h *Hub) Stats() map[string]int {
	stats := h.registry.Stats()
	stats["typing_entries"] = h.typing.Len()
	stats["rate_buckets"] = h.limiter.Len()
	stats["attempt_logs"] = h.gate.Len()
	return stats
}

func isClosed(err error) bool {
	return errors.Is(err, websocket.ErrConnectionClosed)
}
