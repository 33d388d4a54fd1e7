package ports

import (
	"context"

	"github.com/samirrijal/geoincidence/internal/core/domain"
)

// QueryClient runs one intersection check against one service. The
// coordinate must already be in the service's projected CRS.
type QueryClient interface {
	Query(ctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate) (*domain.QueryOutcome, error)
}

// TokenProvider obtains bearer tokens for protected services.
type TokenProvider interface {
	GetToken(ctx context.Context, svc domain.ServiceDescriptor) (*domain.AuthToken, error)
}

// TokenInvalidator is implemented by token providers that reuse tokens. A
// client calls Invalidate when the server rejects a token so the next
// GetToken obtains a fresh one.
type TokenInvalidator interface {
	Invalidate(ctx context.Context, svc domain.ServiceDescriptor) error
}

// Transformer converts coordinates between reference systems.
type Transformer interface {
	Transform(c domain.Coordinate, to domain.CRS) (domain.Coordinate, error)
}

// ReportPublisher publishes completed rounds to a message broker.
type ReportPublisher interface {
	PublishReport(ctx context.Context, report *domain.Report) error
}

// ReportSubscriber receives rounds published by other processes.
type ReportSubscriber interface {
	SubscribeReports(ctx context.Context, handler func(ctx context.Context, report *domain.Report) error) error
}

// CacheService provides TTL-bound key/value caching. Get returns a nil slice
// and no error on a miss.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
