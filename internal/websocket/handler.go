package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chathub/internal/auth"
	"chathub/pkg/interfaces"
	"chathub/pkg/types"
)

// Hub is what the handler needs from the broadcast hub. Defined here so the
// hub can depend on this package without a cycle.
type Hub interface {
	// Authenticate runs the connection gate and the identity verifier
	Authenticate(ctx context.Context, sessionHint, token string) (types.Identity, error)

	// Attach registers an admitted connection and joins its groups
	Attach(ctx context.Context, conn interfaces.Connection) error

	// Dispatch handles one inbound frame
	Dispatch(ctx context.Context, conn interfaces.Connection, data []byte)

	// Disconnect releases every per-connection resource; idempotent
	Disconnect(conn interfaces.Connection)
}

// HandlerConfig holds per-connection transport settings
type HandlerConfig struct {
	BufferSize      int
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
}

// DefaultHandlerConfig returns the transport defaults
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		BufferSize:      DefaultBufferSize,
		PingInterval:    30 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    DefaultWriteTimeout,
		MaxMessageBytes: 2 * types.MaxContentBytes,
	}
}

// Handler upgrades admitted requests and runs each connection's read pump
type Handler struct {
	hub      Hub
	config   HandlerConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a WebSocket handler
func NewHandler(hub Hub, config HandlerConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:    hub,
		config: config,
		upgrader: websocket.Upgrader{
			// Browsers from any origin may connect; the access token is the gate
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// ServeHTTP admits, upgrades and attaches a connection.
// Admission failures are answered before the upgrade so clients see a plain
// HTTP status instead of a socket that closes immediately.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionHint := r.URL.Query().Get("session_id")
	token := auth.TokenFromRequest(r)

	identity, err := h.hub.Authenticate(r.Context(), sessionHint, token)
	if err != nil {
		status, text := admissionStatus(err)
		h.logger.Info("connection rejected",
			zap.String("remote", r.RemoteAddr),
			zap.String("session_hint", sessionHint),
			zap.Int("status", status),
			zap.Error(err))
		http.Error(w, text, status)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(ws, h.config.BufferSize, h.config.WriteTimeout)
	_ = conn.SetIdentity(identity)

	if err := h.hub.Attach(r.Context(), conn); err != nil {
		h.logger.Error("attach failed",
			zap.String("conn", conn.ID()),
			zap.String("user", identity.UserID),
			zap.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "store unavailable"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	go h.readPump(conn)
}

func admissionStatus(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrTooManyAttempts):
		return http.StatusTooManyRequests, "Too many connection attempts"
	case errors.Is(err, types.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "Service unavailable"
	default:
		return http.StatusUnauthorized, "Unauthorized"
	}
}

// readPump reads frames until the socket fails, dispatching them in order.
// Disconnect cleanup runs exactly here, on every exit path.
func (h *Handler) readPump(conn *Connection) {
	defer func() {
		h.hub.Disconnect(conn)
		_ = conn.Close()
	}()

	ws := conn.conn
	ws.SetReadLimit(h.config.MaxMessageBytes)
	if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug("websocket read error", zap.String("conn", conn.ID()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.hub.Dispatch(conn.Context(), conn, data)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.ctx.Done():
			return
		}
	}
}
