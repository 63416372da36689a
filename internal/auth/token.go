// Package auth resolves access tokens to connection identities.
package auth

import (
	"net/http"
	"strings"
)

// AccessTokenCookie is the cookie the web client stores its access token in
const AccessTokenCookie = "accessToken"

// ExtractToken picks the access token from the handshake. An explicit token
// wins over the Authorization header, which wins over the cookie.
func ExtractToken(explicit, authorizationHeader, cookieHeader string) string {
	if token := strings.TrimSpace(explicit); token != "" {
		return token
	}

	if scheme, token, ok := strings.Cut(strings.TrimSpace(authorizationHeader), " "); ok &&
		strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token
		}
	}

	if cookieHeader != "" {
		cookies, err := http.ParseCookie(cookieHeader)
		if err == nil {
			for _, c := range cookies {
				if c.Name == AccessTokenCookie && c.Value != "" {
					return c.Value
				}
			}
		}
	}
	return ""
}

// TokenFromRequest applies ExtractToken to an HTTP request, reading the
// explicit token from the access_token query parameter.
func TokenFromRequest(r *http.Request) string {
	return ExtractToken(
		r.URL.Query().Get("access_token"),
		r.Header.Get("Authorization"),
		strings.Join(r.Header.Values("Cookie"), "; "),
	)
}
