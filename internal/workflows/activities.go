package workflows

import (
	"context"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/samirrijal/geoincidence/internal/core/domain"
	"github.com/samirrijal/geoincidence/internal/core/usecases"
)

// RoundRunner runs one query round. *usecases.IncidenceService satisfies it.
type RoundRunner interface {
	Run(ctx context.Context, rawLat, rawLon string, onProgress usecases.ProgressFunc) (*domain.Report, error)
}

// IncidenceActivities holds the activity implementations for batch rounds.
type IncidenceActivities struct {
	Rounds RoundRunner
}

// RunIncidenceRound runs a full round for one point. Progress is reported as
// activity heartbeats. Invalid input fails without retry.
func (a *IncidenceActivities) RunIncidenceRound(ctx context.Context, point PointInput) (*domain.Report, error) {
	logger := activity.GetLogger(ctx)

	report, err := a.Rounds.Run(ctx, point.Lat, point.Lon, func(p domain.Progress) {
		activity.RecordHeartbeat(ctx, p.Done)
	})
	if err != nil {
		if domain.IsValidation(err) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "ValidationError", err)
		}
		logger.Warn("round failed", "point", point.ID, "error", err)
		return nil, err
	}
	return report, nil
}
