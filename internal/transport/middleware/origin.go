// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"net/http"
	"strings"

	"github.com/adiadia/keyrouter/internal/auth"
)

// CallerOrigin stores the Origin header on the request context. It runs on
// the match routes regardless of whether rate limiting is enabled, so origin
// policy never depends on another middleware being configured.
func CallerOrigin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" {
				r = r.WithContext(auth.WithOrigin(r.Context(), origin))
			}
			next.ServeHTTP(w, r)
		})
	}
}
