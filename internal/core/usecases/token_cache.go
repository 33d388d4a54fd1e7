package usecases

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samirrijal/geoincidence/internal/core/domain"
	"github.com/samirrijal/geoincidence/internal/core/ports"
	"github.com/samirrijal/geoincidence/internal/pkg/logging"
	"github.com/samirrijal/geoincidence/internal/pkg/metrics"
)

// TokenSkew is kept in reserve so a cached token never expires mid-query.
const TokenSkew = 60 * time.Second

// TokenCache decorates a TokenProvider with a TTL-bound cache. Cache
// failures fall through to the wrapped provider.
type TokenCache struct {
	next  ports.TokenProvider
	cache ports.CacheService
	now   func() time.Time
}

// NewTokenCache creates a TokenCache. A nil cache disables caching.
func NewTokenCache(next ports.TokenProvider, cache ports.CacheService) *TokenCache {
	return &TokenCache{next: next, cache: cache, now: time.Now}
}

// GetToken returns a cached token for svc while it is valid, or obtains a
// fresh one.
func (c *TokenCache) GetToken(ctx context.Context, svc domain.ServiceDescriptor) (*domain.AuthToken, error) {
	log := logging.FromContext(ctx)
	key := tokenKey(svc)

	if c.cache != nil {
		if tok := c.lookup(ctx, key); tok != nil {
			metrics.CacheHits.WithLabelValues("token").Inc()
			return tok, nil
		}
		metrics.CacheMisses.WithLabelValues("token").Inc()
	}

	tok, err := c.next.GetToken(ctx, svc)
	if err != nil {
		metrics.TokenRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.TokenRequests.WithLabelValues("ok").Inc()

	if c.cache != nil {
		ttl := int((tok.ExpiresAt.Sub(c.now()) - TokenSkew) / time.Second)
		if ttl > 0 {
			b, err := json.Marshal(tok)
			if err == nil {
				err = c.cache.Set(ctx, key, b, ttl)
			}
			if err != nil {
				log.Warn("token cache store failed", "service", svc.Name, "error", err)
			}
		}
	}
	return tok, nil
}

// Invalidate drops the cached token for svc.
func (c *TokenCache) Invalidate(ctx context.Context, svc domain.ServiceDescriptor) error {
	if c.cache == nil {
		return nil
	}
	logging.FromContext(ctx).Info("token rejected by server, dropping cached token", "service", svc.Name)
	return c.cache.Delete(ctx, tokenKey(svc))
}

func (c *TokenCache) lookup(ctx context.Context, key string) *domain.AuthToken {
	b, err := c.cache.Get(ctx, key)
	if err != nil {
		logging.FromContext(ctx).Warn("token cache lookup failed", "key", key, "error", err)
		return nil
	}
	if b == nil {
		return nil
	}
	var tok domain.AuthToken
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil
	}
	if !tok.Valid(c.now(), TokenSkew) {
		return nil
	}
	return &tok
}

func tokenKey(svc domain.ServiceDescriptor) string {
	user := ""
	if svc.Credentials != nil {
		user = svc.Credentials.Username
	}
	return "token:" + svc.Host() + ":" + user
}
