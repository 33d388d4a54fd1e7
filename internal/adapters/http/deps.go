package http

import (
	"context"
	"time"

	"github.com/samirrijal/geoincidence/internal/core/usecases"
)

// Pinger is a backend that can report its connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Incidence *usecases.IncidenceService
	// Cache and NATS are optional; nil means not configured.
	Cache Pinger
	NATS  Pinger
	// RoundTimeout bounds a whole round served over REST or GraphQL.
	RoundTimeout time.Duration
}

func (d *Dependencies) roundTimeout() time.Duration {
	if d.RoundTimeout > 0 {
		return d.RoundTimeout
	}
	return 5 * time.Minute
}
