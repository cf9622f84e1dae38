// Package auth implements API-key authentication and per-key rate limiting
// for the HTTP surface.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hiveboard/hiveboard/internal/common/logger"
	"github.com/hiveboard/hiveboard/internal/events"
	"github.com/hiveboard/hiveboard/internal/storage"
	apiv1 "github.com/hiveboard/hiveboard/pkg/api/v1"
)

// Gin context keys set by the middleware.
const (
	ContextKeyAPIKey   = "api_key"
	ContextKeyTenantID = "tenant_id"
)

// exemptPrefixes skip bearer auth: the stream and bridge endpoints
// authenticate their own tokens, static assets are public.
var exemptPrefixes = []string{"/v1/stream", "/static", "/ws/", "/healthz"}

// Middleware authenticates bearer API keys and enforces per-key rate limits.
type Middleware struct {
	store    *storage.Store
	limiters *RateLimiters
	log      *logger.Logger
}

// New creates the auth middleware.
func New(store *storage.Store, log *logger.Logger) *Middleware {
	return &Middleware{
		store:    store,
		limiters: NewRateLimiters(),
		log:      log.WithFields(zap.String("component", "auth")),
	}
}

// ErrRateLimited is returned when a key exceeds its connect rate.
var ErrRateLimited = errors.New("rate limited")

// AuthenticateToken resolves a raw streaming token to its API key, applying
// the per-key connect rate limit. Used by the WS handlers, which receive the
// token outside the Authorization header.
func (m *Middleware) AuthenticateToken(token string) (*storage.APIKey, error) {
	key, err := m.store.GetKeyByHash(storage.HashKey(token))
	if err != nil {
		return nil, err
	}
	if _, ok := m.limiters.Allow(key.KeyID, CategoryConnect); !ok {
		return nil, ErrRateLimited
	}
	return key, nil
}

// Handler is the gin middleware. It authenticates every request outside the
// exempt prefixes, blocks read keys from ingesting, and applies the per-key
// rate limit for the route category.
func (m *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, prefix := range exemptPrefixes {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			abortError(c, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}
		key, err := m.store.GetKeyByHash(storage.HashKey(raw))
		if err != nil {
			abortError(c, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
			return
		}

		category := categoryFor(c.Request.Method, path)
		if category == CategoryIngest && key.KeyType == events.KeyTypeRead {
			abortError(c, http.StatusForbidden, "forbidden", "read keys cannot ingest events", nil)
			return
		}

		if retryAfter, ok := m.limiters.Allow(key.KeyID, category); !ok {
			abortError(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", map[string]any{
				"retry_after_seconds": retryAfter,
			})
			return
		}

		c.Set(ContextKeyAPIKey, key)
		c.Set(ContextKeyTenantID, key.TenantID)
		c.Next()
	}
}

// KeyFromContext returns the authenticated API key of the request.
func KeyFromContext(c *gin.Context) (*storage.APIKey, bool) {
	v, ok := c.Get(ContextKeyAPIKey)
	if !ok {
		return nil, false
	}
	key, ok := v.(*storage.APIKey)
	return key, ok
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func categoryFor(method, path string) Category {
	if method == http.MethodPost && strings.HasPrefix(path, "/v1/ingest") {
		return CategoryIngest
	}
	return CategoryQuery
}

func abortError(c *gin.Context, status int, code, message string, details map[string]any) {
	c.AbortWithStatusJSON(status, apiv1.ErrorResponse{
		Error:   code,
		Message: message,
		Status:  status,
		Details: details,
	})
}
