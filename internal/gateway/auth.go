package gateway

import (
	"net/http"
	"strings"
)

// ExtractToken returns the bearer token of r. It checks, in order:
// Authorization: Bearer <token>, X-Workforce-Token, and the token query
// param (browser websockets cannot set headers).
func ExtractToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > len("bearer ") && strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	if tok := strings.TrimSpace(r.Header.Get("X-Workforce-Token")); tok != "" {
		return tok
	}
	return r.URL.Query().Get("token")
}
