package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the access token payload: the user in sub plus the session
// the token was minted for.
type AccessClaims struct {
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

var validMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}
