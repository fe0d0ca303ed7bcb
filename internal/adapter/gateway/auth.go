package gateway

import (
	"net/http"

	"remotedev/internal/domain"
	"remotedev/internal/infra/middleware"
)

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Remote string
}

// Authenticator validates incoming WebSocket upgrades.
type Authenticator interface {
	Authenticate(r *http.Request) (*ClientInfo, error)
}

// APIKeyAuth accepts upgrades carrying the configured API key in a header
// or the token query parameter. An empty key accepts everyone.
type APIKeyAuth struct {
	key string
}

// NewAPIKeyAuth builds an authenticator for key.
func NewAPIKeyAuth(key string) *APIKeyAuth {
	return &APIKeyAuth{key: key}
}

// Authenticate returns client info if the request carries the key.
func (a *APIKeyAuth) Authenticate(r *http.Request) (*ClientInfo, error) {
	if !middleware.Authorized(r, a.key) {
		return nil, domain.ErrAuthInvalid
	}
	return &ClientInfo{Remote: r.RemoteAddr}, nil
}
