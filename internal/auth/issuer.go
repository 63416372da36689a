package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chathub/pkg/types"
)

// DefaultAccessTokenTTL matches the credential service's access token lifetime
const DefaultAccessTokenTTL = 15 * time.Minute

// Issuer mints access tokens. The hub itself never issues tokens; chatctl
// and tests do.
type Issuer struct {
	secret []byte
	method jwt.SigningMethod
	now    func() time.Time
}

// NewIssuer creates an HS256 issuer
func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret, method: jwt.SigningMethodHS256, now: time.Now}
}

// Issue signs a token for identity valid for ttl
func (i *Issuer) Issue(identity types.Identity, ttl time.Duration) (string, error) {
	if identity.UserID == "" || identity.SessionID == "" {
		return "", errors.New("identity requires user and session")
	}
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	now := i.now()
	claims := AccessClaims{
		SessionID: identity.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
}
