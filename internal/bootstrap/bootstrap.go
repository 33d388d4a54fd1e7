// Package bootstrap assembles the incidence service from configuration. The
// API server, the CLI and the batch worker share it.
package bootstrap

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/samirrijal/geoincidence/internal/adapters/arcgis"
	"github.com/samirrijal/geoincidence/internal/adapters/memory"
	natsadapter "github.com/samirrijal/geoincidence/internal/adapters/nats"
	"github.com/samirrijal/geoincidence/internal/adapters/valkey"
	"github.com/samirrijal/geoincidence/internal/adapters/wms"
	"github.com/samirrijal/geoincidence/internal/core/domain"
	"github.com/samirrijal/geoincidence/internal/core/ports"
	"github.com/samirrijal/geoincidence/internal/core/usecases"
	"github.com/samirrijal/geoincidence/internal/pkg/config"
	"github.com/samirrijal/geoincidence/internal/pkg/geospatial"
	"github.com/samirrijal/geoincidence/internal/registry"
)

// Stack is a fully wired incidence service plus the optional backends it
// holds open.
type Stack struct {
	Registry  *registry.Registry
	Incidence *usecases.IncidenceService

	// Valkey and Publisher are nil when disabled or unreachable.
	Valkey    *valkey.Cache
	Publisher *natsadapter.Publisher
}

// Options selects optional wiring.
type Options struct {
	// Publish sends every completed report to JetStream when NATS is enabled.
	Publish bool
}

// Build loads the registry and wires protocol clients, token caching and
// optional publishing. Unreachable optional backends are logged and skipped.
func Build(cfg *config.Config, opts Options) (*Stack, error) {
	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	s := &Stack{Registry: reg}

	httpClient := NewHTTPClient(cfg.Upstream.QueryTimeout())

	var tokens ports.TokenProvider = arcgis.NewTokenClient(httpClient, cfg.ArcGIS.TokenURL, cfg.ArcGIS.Referer, cfg.ArcGIS.TokenExpiration)
	if cfg.ArcGIS.TokenCache {
		tokens = usecases.NewTokenCache(tokens, s.tokenStore(cfg))
	}

	clients := map[domain.ProtocolKind]ports.QueryClient{
		domain.ArcGISRest: arcgis.NewClient(httpClient, tokens, cfg.ArcGIS.Referer, cfg.Upstream.UserAgent),
		domain.WMS:        wms.NewClient(httpClient, tokens, cfg.Upstream.UserAgent),
	}

	if budget := cfg.Upstream.RoundBudget(reg.Len()); time.Duration(cfg.Server.RoundTimeout)*time.Second < budget {
		slog.Warn("round timeout is shorter than the worst case round; services not reached in time are reported failed",
			"round_timeout_s", cfg.Server.RoundTimeout,
			"worst_case_s", int(budget/time.Second),
		)
	}

	svcOpts := []usecases.IncidenceOption{
		usecases.WithQueryTimeout(cfg.Upstream.QueryTimeout()),
		usecases.WithPublishTimeout(time.Duration(cfg.NATS.PublishTimeout) * time.Second),
	}
	if opts.Publish && cfg.NATS.Enabled {
		pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable, reports will not be published", "error", err)
		} else {
			s.Publisher = pub
			svcOpts = append(svcOpts, usecases.WithPublisher(pub))
		}
	}

	s.Incidence = usecases.NewIncidenceService(reg.Services(), clients, geospatial.NewTransformer(), svcOpts...)

	slog.Info("incidence service ready",
		"services", reg.Len(),
		"token_cache", cfg.ArcGIS.TokenCache,
		"valkey", s.Valkey != nil,
		"publisher", s.Publisher != nil,
	)
	return s, nil
}

// tokenStore prefers Valkey so tokens are shared between processes, and
// falls back to an in-process cache.
func (s *Stack) tokenStore(cfg *config.Config) ports.CacheService {
	if cfg.Valkey.Enabled {
		cache, err := valkey.New(cfg.Valkey.Addr)
		if err == nil {
			s.Valkey = cache
			return cache
		}
		slog.Warn("valkey unavailable, using in-process token cache", "error", err)
	}
	return memory.New()
}

// Close releases every backend the stack opened.
func (s *Stack) Close() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Valkey != nil {
		s.Valkey.Close()
	}
}

// NewHTTPClient returns the client shared by every upstream adapter. The
// per-service deadline comes from the request context; the client timeout
// only guards against a context without one.
func NewHTTPClient(queryTimeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: queryTimeout + 5*time.Second,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
