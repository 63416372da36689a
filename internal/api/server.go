package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"chathub/internal/auth"
	"chathub/pkg/interfaces"
	"chathub/pkg/types"
)

// SyncLimit caps the number of messages returned by one sync request
const SyncLimit = 500

const healthTimeout = 5 * time.Second

// Verifier resolves an access token to an identity
type Verifier interface {
	Verify(ctx context.Context, token string) (types.Identity, error)
}

// Monitor exposes the hub's in-memory state for health and metrics
type Monitor interface {
	Stats() map[string]int
	MetricsSnapshot() map[string]int64
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// No business logic here, only HTTP handling and JSON serialization
type Server struct {
	store     interfaces.Store
	verifier  Verifier
	monitor   Monitor
	websocket http.Handler
	router    *httprouter.Router
	logger    *zap.Logger
	started   time.Time
}

// NewServer wires the routes. wsHandler serves GET /ws.
func NewServer(store interfaces.Store, verifier Verifier, monitor Monitor, wsHandler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:     store,
		verifier:  verifier,
		monitor:   monitor,
		websocket: wsHandler,
		router:    httprouter.New(),
		logger:    logger,
		started:   time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", s.metrics)
	s.router.GET("/api/conversations/:id/messages/sync", s.syncMessages)
	if s.websocket != nil {
		s.router.Handler(http.MethodGet, "/ws", s.websocket)
	}

	s.router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		s.logger.Error("http handler panic", zap.String("path", r.URL.Path), zap.Any("panic", v), zap.Stack("stack"))
		s.sendError(w, "Internal error", http.StatusInternalServerError)
	}
	s.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Not found", http.StatusNotFound)
	})
}

// ServeHTTP applies CORS to every route
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.router).ServeHTTP(w, r)
}

// SyncResponse is the body of the sync endpoint
type SyncResponse struct {
	ConversationID string           `json:"conversationId"`
	Messages       []*types.Message `json:"messages"`
	HasMore        bool             `json:"hasMore"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	System      map[string]any `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: GET /api/conversations/:id/messages/sync - reconnect catch-up.
// Same admission rules as the socket: a verified identity that participates in the conversation.
func (s *Server) syncMessages(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	identity, err := s.verifier.Verify(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		if errors.Is(err, types.ErrStoreUnavailable) {
			s.sendError(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}
		s.sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID := ps.ByName("id")
	if !types.IsValidID(conversationID) {
		s.sendError(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	var after int64
	if raw := r.URL.Query().Get("afterSequence"); raw != "" {
		after, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			s.sendError(w, "afterSequence must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}

	member, err := s.store.IsParticipant(r.Context(), conversationID, identity.UserID)
	if err != nil {
		s.logger.Error("membership lookup failed", zap.String("conversation", conversationID), zap.Error(err))
		s.sendError(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	if !member {
		s.sendError(w, "Conversation not found", http.StatusNotFound)
		return
	}

	messages, err := s.store.MessagesAfter(r.Context(), conversationID, after, SyncLimit)
	if err != nil {
		s.logger.Error("sync query failed", zap.String("conversation", conversationID), zap.Error(err))
		s.sendError(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	s.writeJSON(w, http.StatusOK, SyncResponse{
		ConversationID: conversationID,
		Messages:       messages,
		HasMore:        len(messages) == SyncLimit,
	})
}

// FUNCTIONAL DISCOVERY: GET /health - store connectivity plus registry statistics
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = "error: " + err.Error()
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.monitor.Stats(),
		System: map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
		},
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, response)
}

func (s *Server) metrics(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, s.monitor.MetricsSnapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("response write failed", zap.Error(err))
	}
}

// Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables browser clients on other origins
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
