package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/geoincidence/internal/core/domain"
	"github.com/samirrijal/geoincidence/internal/core/ports"
	"github.com/samirrijal/geoincidence/internal/pkg/logging"
	"github.com/samirrijal/geoincidence/internal/pkg/metrics"
	"github.com/samirrijal/geoincidence/internal/pkg/telemetry"
)

const (
	// DefaultQueryTimeout bounds a single service query.
	DefaultQueryTimeout = 20 * time.Second

	// DefaultPublishTimeout bounds the best-effort report publish.
	DefaultPublishTimeout = 5 * time.Second
)

// ProgressFunc receives live progress while a round runs. It is called from
// the goroutine executing the round.
type ProgressFunc func(domain.Progress)

// IncidenceService runs query rounds: one point checked against every
// registered service, in registry order.
type IncidenceService struct {
	services    []domain.ServiceDescriptor
	clients     map[domain.ProtocolKind]ports.QueryClient
	transformer ports.Transformer
	publisher   ports.ReportPublisher
	timeout     time.Duration
	pubTimeout  time.Duration
	tracer      trace.Tracer
	now         func() time.Time
}

// IncidenceOption configures an IncidenceService.
type IncidenceOption func(*IncidenceService)

// WithPublisher publishes every completed report.
func WithPublisher(p ports.ReportPublisher) IncidenceOption {
	return func(s *IncidenceService) { s.publisher = p }
}

// WithPublishTimeout bounds each report publish. Non-positive values are ignored.
func WithPublishTimeout(d time.Duration) IncidenceOption {
	return func(s *IncidenceService) {
		if d > 0 {
			s.pubTimeout = d
		}
	}
}

// WithQueryTimeout sets the per-service timeout. Non-positive values are ignored.
func WithQueryTimeout(d time.Duration) IncidenceOption {
	return func(s *IncidenceService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewIncidenceService creates a new IncidenceService.
func NewIncidenceService(
	services []domain.ServiceDescriptor,
	clients map[domain.ProtocolKind]ports.QueryClient,
	transformer ports.Transformer,
	opts ...IncidenceOption,
) *IncidenceService {
	s := &IncidenceService{
		services:    services,
		clients:     clients,
		transformer: transformer,
		timeout:     DefaultQueryTimeout,
		pubTimeout:  DefaultPublishTimeout,
		tracer:      telemetry.Tracer(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Services returns the registry in query order.
func (s *IncidenceService) Services() []domain.ServiceDescriptor {
	return s.services
}

// Transform parses and converts a raw coordinate between reference systems.
func (s *IncidenceService) Transform(_ context.Context, rawX, rawY string, from, to domain.CRS) (domain.Coordinate, error) {
	c, err := domain.ParseCoordinate(rawX, rawY, from)
	if err != nil {
		return domain.Coordinate{}, err
	}
	out, err := s.transformer.Transform(c, to)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownCRS) {
			return domain.Coordinate{}, err
		}
		return domain.Coordinate{}, &domain.ValidationError{Field: "coordinates", Message: err.Error()}
	}
	return out, nil
}

// Run parses a raw latitude/longitude pair and runs a full round. Malformed
// input fails before any request is issued.
func (s *IncidenceService) Run(ctx context.Context, rawLat, rawLon string, onProgress ProgressFunc) (*domain.Report, error) {
	pt, err := domain.ParseGeoPoint(rawLat, rawLon)
	if err != nil {
		return nil, err
	}
	return s.RunPoint(ctx, pt, onProgress)
}

// RunPoint runs a full round for an already parsed point. It returns exactly
// one outcome per registered service. When ctx reaches its deadline the
// remaining services are reported failed; any other cancellation returns an
// error and no report.
func (s *IncidenceService) RunPoint(ctx context.Context, pt domain.GeoPoint, onProgress ProgressFunc) (*domain.Report, error) {
	log := logging.FromContext(ctx)

	projected, err := s.transformer.Transform(pt.Coordinate(), domain.EPSG31983)
	if err != nil {
		return nil, &domain.ValidationError{Field: "coordinates", Message: "invalid coordinates: " + err.Error()}
	}

	ctx, span := s.tracer.Start(ctx, telemetry.SpanRound, trace.WithAttributes(
		attribute.Int(telemetry.AttrTotal, len(s.services)),
		attribute.Float64(telemetry.AttrEasting, projected.X),
		attribute.Float64(telemetry.AttrNorthing, projected.Y),
	))
	defer span.End()

	report := &domain.Report{
		Input:     pt,
		Projected: projected,
		Outcomes:  make([]domain.QueryOutcome, 0, len(s.services)),
		StartedAt: s.now(),
	}
	total := len(s.services)
	progress := func(p domain.Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}
	cancelled := func(i int, err error) (*domain.Report, error) {
		span.SetStatus(codes.Error, "cancelled")
		return nil, fmt.Errorf("round cancelled after %d of %d services: %w", i, total, err)
	}

	expired := false
	for i, svc := range s.services {
		if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return cancelled(i, err)
		}
		progress(domain.Progress{Done: i, Total: total, Current: svc.Name})

		var outcome *domain.QueryOutcome
		if expired {
			outcome = domain.Failed(svc.Name, svc.Kind, domain.ErrRoundDeadline)
		} else {
			outcome = s.queryOne(ctx, svc, projected)
		}
		if err := ctx.Err(); err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				return cancelled(i, err)
			}
			if !expired {
				expired = true
				log.Warn("round deadline exceeded", "service", svc.Name, "done", i, "total", total)
			}
			if outcome.Status == domain.StatusFailed {
				outcome.Error = domain.ErrRoundDeadline.Error()
			}
		}
		if outcome.Status == domain.StatusFailed && !expired {
			log.Warn("service query failed", "service", svc.Name, "error", outcome.Error)
		}

		report.Outcomes = append(report.Outcomes, *outcome)
		progress(domain.Progress{Done: i + 1, Total: total, Last: outcome})
	}

	report.CompletedAt = s.now()
	report.Summarize()

	result := report.Result()
	metrics.Rounds.WithLabelValues(string(result)).Inc()
	metrics.RoundDuration.Observe(report.CompletedAt.Sub(report.StartedAt).Seconds())
	span.SetAttributes(
		attribute.Int(telemetry.AttrIntersecting, report.Summary.Intersecting),
		attribute.Int(telemetry.AttrFailed, report.Summary.Failed),
		attribute.String(telemetry.AttrStatus, string(result)),
	)

	log.Info("query round completed",
		"lat", pt.Lat, "lon", pt.Lon,
		"services", report.Summary.Total,
		"intersecting", report.Summary.Intersecting,
		"failed", report.Summary.Failed,
		"duration_ms", report.CompletedAt.Sub(report.StartedAt).Milliseconds(),
	)

	if s.publisher != nil {
		s.publish(ctx, report)
	}
	return report, nil
}

// publish is best effort. It is detached from round cancellation and bounded
// by the publish timeout.
func (s *IncidenceService) publish(ctx context.Context, report *domain.Report) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pubTimeout)
	defer cancel()
	if err := s.publisher.PublishReport(pctx, report); err != nil {
		logging.FromContext(ctx).Warn("report publish failed", "error", err)
	}
}

// queryOne never returns nil: every failure becomes a failed outcome.
func (s *IncidenceService) queryOne(ctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate) *domain.QueryOutcome {
	ctx, span := s.tracer.Start(ctx, telemetry.SpanQuery, trace.WithAttributes(
		attribute.String(telemetry.AttrService, svc.Name),
		attribute.String(telemetry.AttrKind, string(svc.Kind)),
	))
	defer span.End()

	start := s.now()
	outcome, err := s.dispatch(ctx, svc, at)
	elapsed := s.now().Sub(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome = domain.Failed(svc.Name, svc.Kind, err)
	}
	outcome.LayerName = svc.Name
	outcome.Kind = svc.Kind
	outcome.ElapsedMS = elapsed.Milliseconds()

	span.SetAttributes(attribute.String(telemetry.AttrStatus, string(outcome.Status)))
	metrics.UpstreamQueries.WithLabelValues(svc.Name, string(svc.Kind), string(outcome.Status)).Inc()
	metrics.UpstreamQueryDuration.WithLabelValues(string(svc.Kind)).Observe(elapsed.Seconds())
	return outcome
}

func (s *IncidenceService) dispatch(ctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate) (*domain.QueryOutcome, error) {
	client, ok := s.clients[svc.Kind]
	if !ok {
		return nil, fmt.Errorf("no client for protocol %q", svc.Kind)
	}

	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	outcome, err := client.Query(qctx, svc, at)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("timed out after %s: %w", s.timeout, err)
		}
		return nil, err
	}
	if outcome == nil {
		return nil, errors.New("client returned no outcome")
	}
	return outcome, nil
}
