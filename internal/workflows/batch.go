package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/samirrijal/geoincidence/internal/core/domain"
)

// PointInput is one point of a batch, as typed by the user.
type PointInput struct {
	ID  string `json:"id"`
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// PointResult holds either the report or the reason the point failed.
type PointResult struct {
	ID     string         `json:"id"`
	Report *domain.Report `json:"report,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// BatchResult is the output of BatchIncidenceWorkflow.
type BatchResult struct {
	Results      []PointResult `json:"results"`
	Intersecting int           `json:"intersecting"`
	Failed       int           `json:"failed"`
}

// BatchIncidenceWorkflow runs one round per point, sequentially. A failing
// point is recorded and the batch continues.
func BatchIncidenceWorkflow(ctx workflow.Context, points []PointInput) (BatchResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting batch incidence workflow", "points", len(points))

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		HeartbeatTimeout:    3 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	result := BatchResult{Results: make([]PointResult, 0, len(points))}
	for _, p := range points {
		var report domain.Report
		err := workflow.ExecuteActivity(ctx, "RunIncidenceRound", p).Get(ctx, &report)
		if err != nil {
			logger.Warn("point failed", "point", p.ID, "error", err)
			result.Results = append(result.Results, PointResult{ID: p.ID, Error: err.Error()})
			result.Failed++
			continue
		}
		if report.Summary.Intersecting > 0 {
			result.Intersecting++
		}
		result.Results = append(result.Results, PointResult{ID: p.ID, Report: &report})
	}

	logger.Info("Batch incidence workflow finished", "intersecting", result.Intersecting, "failed", result.Failed)
	return result, nil
}
