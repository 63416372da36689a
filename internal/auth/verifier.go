package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"chathub/pkg/interfaces"
	"chathub/pkg/types"
)

// DefaultVerifyTimeout bounds the whole verification including the store lookup
const DefaultVerifyTimeout = 5 * time.Second

// Verifier checks access tokens and confirms the session is still live.
// The result is fixed for the connection's lifetime: a session revoked after
// admission stays usable on that connection until it reconnects.
type Verifier struct {
	secret   []byte
	sessions interfaces.SessionStore
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewVerifier creates a verifier for HMAC-signed tokens
func NewVerifier(secret []byte, sessions interfaces.SessionStore, timeout time.Duration, logger *zap.Logger) *Verifier {
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		secret:   secret,
		sessions: sessions,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger,
	}
}

type lookupResult struct {
	session *types.Session
	err     error
}

// Verify resolves token to an identity. Malformed, unsigned, expired or
// unknown-session tokens all yield ErrUnauthorized with no further detail;
// a failing store yields ErrStoreUnavailable.
func (v *Verifier) Verify(ctx context.Context, token string) (types.Identity, error) {
	if token == "" {
		return types.Identity{}, types.ErrUnauthorized
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	claims, err := v.parse(token)
	if err != nil {
		v.logger.Debug("token rejected", zap.Error(err))
		return types.Identity{}, types.ErrUnauthorized
	}

	// The lookup runs aside so the deadline holds even if the store ignores ctx
	result := make(chan lookupResult, 1)
	go func() {
		session, err := v.sessions.FindLiveSession(ctx, claims.SessionID, v.now())
		result <- lookupResult{session: session, err: err}
	}()

	var lookup lookupResult
	select {
	case lookup = <-result:
	case <-ctx.Done():
		v.logger.Warn("verification deadline exceeded", zap.String("session", claims.SessionID))
		return types.Identity{}, types.ErrUnauthorized
	}

	switch {
	case errors.Is(lookup.err, interfaces.ErrSessionNotFound):
		return types.Identity{}, types.ErrUnauthorized
	case lookup.err != nil && ctx.Err() != nil:
		return types.Identity{}, types.ErrUnauthorized
	case lookup.err != nil:
		if errors.Is(lookup.err, types.ErrStoreUnavailable) {
			return types.Identity{}, lookup.err
		}
		return types.Identity{}, fmt.Errorf("session lookup: %w: %w", types.ErrStoreUnavailable, lookup.err)
	}

	if lookup.session.UserID != claims.Subject {
		v.logger.Warn("token subject does not own session",
			zap.String("user", claims.Subject),
			zap.String("session", claims.SessionID))
		return types.Identity{}, types.ErrUnauthorized
	}

	return types.Identity{UserID: claims.Subject, SessionID: claims.SessionID}, nil
}

func (v *Verifier) parse(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods(validMethods),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if !types.IsValidID(claims.Subject) || !types.IsValidID(claims.SessionID) {
		return nil, errors.New("token missing subject or session")
	}
	return claims, nil
}
