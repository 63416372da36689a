package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		header   string
		cookie   string
		want     string
	}{
		{"explicit wins", "tok-a", "Bearer tok-b", "accessToken=tok-c", "tok-a"},
		{"bearer header", "", "Bearer tok-b", "accessToken=tok-c", "tok-b"},
		{"lowercase scheme", "", "bearer tok-b", "", "tok-b"},
		{"cookie fallback", "", "", "theme=dark; accessToken=tok-c", "tok-c"},
		{"non bearer scheme ignored", "", "Basic dXNlcjpwYXNz", "accessToken=tok-c", "tok-c"},
		{"empty bearer ignored", "", "Bearer   ", "", ""},
		{"nothing", "", "", "theme=dark", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractToken(tc.explicit, tc.header, tc.cookie))
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?access_token=from-query", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-query", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Add("Cookie", "accessToken=from-cookie")
	assert.Equal(t, "from-cookie", TokenFromRequest(r))
}
