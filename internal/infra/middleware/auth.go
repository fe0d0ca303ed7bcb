package middleware

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"
)

// APIKey rejects requests that do not present key. The key is read from
// the X-API-Key header, a Bearer Authorization header, or the token query
// parameter (browsers cannot set headers on WebSocket upgrades). An empty
// key disables the check. Paths in public skip authentication.
func APIKey(key string, public ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(public, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			if !Authorized(r, key) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing API key", false)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authorized reports whether r carries key.
func Authorized(r *http.Request, key string) bool {
	if key == "" {
		return true
	}
	presented := r.Header.Get("X-API-Key")
	if presented == "" {
		if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			presented = v
		}
	}
	if presented == "" {
		presented = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1
}
