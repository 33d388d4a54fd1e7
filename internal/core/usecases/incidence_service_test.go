package usecases_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samirrijal/geoincidence/internal/core/domain"
	"github.com/samirrijal/geoincidence/internal/core/ports"
	"github.com/samirrijal/geoincidence/internal/core/usecases"
	"github.com/samirrijal/geoincidence/internal/pkg/geospatial"
)

// --- Mock QueryClient ---

type mockClient struct {
	queryFn func(ctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate) (*domain.QueryOutcome, error)
	calls   atomic.Int32
}

func (m *mockClient) Query(ctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate) (*domain.QueryOutcome, error) {
	m.calls.Add(1)
	if m.queryFn != nil {
		return m.queryFn(ctx, svc, at)
	}
	return domain.Clear(svc.Name, svc.Kind), nil
}

// --- Mock ReportPublisher ---

type mockPublisher struct {
	publishFn func(ctx context.Context, r *domain.Report) error
	published []*domain.Report
}

func (m *mockPublisher) PublishReport(ctx context.Context, r *domain.Report) error {
	m.published = append(m.published, r)
	if m.publishFn != nil {
		return m.publishFn(ctx, r)
	}
	return nil
}

const (
	testLat = "-15.886986"
	testLon = "-47.984292"
)

func testServices() []domain.ServiceDescriptor {
	return []domain.ServiceDescriptor{
		{Name: "Hidrografia", URL: "https://example.test/arcgis/rest/services/HIDRO/MapServer/0", Kind: domain.ArcGISRest},
		{Name: "Unidades de Conservação", URL: "https://example.test/arcgis/rest/services/UC/MapServer/2", Kind: domain.ArcGISRest},
		{Name: "ZEE", URL: "https://example.test/arcgis/services/ZEE/MapServer/WMSServer", Kind: domain.WMS},
	}
}

func newService(arc, wms ports.QueryClient, opts ...usecases.IncidenceOption) *usecases.IncidenceService {
	clients := map[domain.ProtocolKind]ports.QueryClient{
		domain.ArcGISRest: arc,
		domain.WMS:        wms,
	}
	return usecases.NewIncidenceService(testServices(), clients, geospatial.NewTransformer(), opts...)
}

func TestIncidenceService_Run_OrderAndSummary(t *testing.T) {
	arc := &mockClient{queryFn: func(ctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate) (*domain.QueryOutcome, error) {
		if at.CRS != domain.EPSG31983 {
			t.Errorf("client received %s coordinate", at.CRS)
		}
		if svc.Name == "Unidades de Conservação" {
			attrs := domain.NewAttributes()
			attrs.Set("NOME", domain.String("APA"))
			return domain.Intersecting(svc.Name, svc.Kind, attrs), nil
		}
		return domain.Clear(svc.Name, svc.Kind), nil
	}}
	wms := &mockClient{}

	var updates []domain.Progress
	report, err := newService(arc, wms).Run(context.Background(), testLat, testLon, func(p domain.Progress) {
		updates = append(updates, p)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	services := testServices()
	if len(report.Outcomes) != len(services) {
		t.Fatalf("expected %d outcomes, got %d", len(services), len(report.Outcomes))
	}
	for i, svc := range services {
		if report.Outcomes[i].LayerName != svc.Name {
			t.Errorf("outcome %d: expected %s, got %s", i, svc.Name, report.Outcomes[i].LayerName)
		}
	}
	if !report.Outcomes[1].HasIntersection || report.Outcomes[1].Attributes.Len() != 1 {
		t.Errorf("expected intersection with attributes, got %+v", report.Outcomes[1])
	}
	if report.Outcomes[0].Attributes != nil {
		t.Error("clear outcome must have nil attributes")
	}
	if report.Summary != (domain.Summary{Total: 3, Intersecting: 1, Clear: 2}) {
		t.Errorf("unexpected summary %+v", report.Summary)
	}
	if report.Projected.CRS != domain.EPSG31983 {
		t.Errorf("projected CRS = %s", report.Projected.CRS)
	}
	if arc.calls.Load() != 2 || wms.calls.Load() != 1 {
		t.Errorf("expected 2 arcgis and 1 wms calls, got %d and %d", arc.calls.Load(), wms.calls.Load())
	}

	if len(updates) != 2*len(services) {
		t.Fatalf("expected %d progress updates, got %d", 2*len(services), len(updates))
	}
	if updates[0].Done != 0 || updates[0].Current != "Hidrografia" {
		t.Errorf("unexpected first update %+v", updates[0])
	}
	last := updates[len(updates)-1]
	if last.Done != 3 || last.Total != 3 || last.Last == nil {
		t.Errorf("unexpected final update %+v", last)
	}
}

func TestIncidenceService_Run_InvalidInput(t *testing.T) {
	tests := []struct {
		name, lat, lon string
	}{
		{"non-numeric", "abc", "-47.9"},
		{"empty", "", ""},
		{"NaN", "NaN", "-47.9"},
		{"out of range", "-95", "-47.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arc, wms := &mockClient{}, &mockClient{}
			report, err := newService(arc, wms).Run(context.Background(), tt.lat, tt.lon, nil)
			if !domain.IsValidation(err) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if report != nil {
				t.Error("expected no report")
			}
			if n := arc.calls.Load() + wms.calls.Load(); n != 0 {
				t.Errorf("expected zero queries, got %d", n)
			}
		})
	}
}

func TestIncidenceService_Run_FailureIsolation(t *testing.T) {
	arc := &mockClient{queryFn: func(ctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate) (*domain.QueryOutcome, error) {
		if svc.Name == "Hidrografia" {
			return nil, &domain.QueryError{Service: svc.Name, Status: 500, Message: "unexpected status"}
		}
		return domain.Clear(svc.Name, svc.Kind), nil
	}}
	wms := &mockClient{queryFn: func(ctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate) (*domain.QueryOutcome, error) {
		return nil, &domain.AuthError{Service: svc.Name, Message: "invalid credentials"}
	}}

	report, err := newService(arc, wms).Run(context.Background(), testLat, testLon, nil)
	if err != nil {
		t.Fatalf("service failures must not fail the round: %v", err)
	}

	want := []domain.OutcomeStatus{domain.StatusFailed, domain.StatusClear, domain.StatusFailed}
	for i, o := range report.Outcomes {
		if o.Status != want[i] {
			t.Errorf("outcome %d: status %s, want %s", i, o.Status, want[i])
		}
	}
	if !strings.Contains(report.Outcomes[0].Error, "HTTP 500") {
		t.Errorf("failure reason lost: %q", report.Outcomes[0].Error)
	}
	if !strings.Contains(report.Outcomes[2].Error, "invalid credentials") {
		t.Errorf("auth reason lost: %q", report.Outcomes[2].Error)
	}
	if report.Outcomes[0].Attributes != nil {
		t.Error("failed outcome must have nil attributes")
	}
	if report.Result() != domain.StatusFailed {
		t.Errorf("result = %s, want failed", report.Result())
	}
}

func TestIncidenceService_Run_UnknownKind(t *testing.T) {
	svc := usecases.NewIncidenceService(
		[]domain.ServiceDescriptor{{Name: "Solo", URL: "https://example.test/wfs", Kind: "wfs"}},
		map[domain.ProtocolKind]ports.QueryClient{domain.ArcGISRest: &mockClient{}},
		geospatial.NewTransformer(),
	)

	report, err := svc.Run(context.Background(), testLat, testLon, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Outcomes[0].Status != domain.StatusFailed {
		t.Errorf("expected failed outcome, got %s", report.Outcomes[0].Status)
	}
}

func TestIncidenceService_Run_PerServiceTimeout(t *testing.T) {
	arc := &mockClient{queryFn: func(ctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate) (*domain.QueryOutcome, error) {
		if svc.Name == "Hidrografia" {
			<-ctx.Done()
			return nil, &domain.QueryError{Service: svc.Name, Message: "request failed", Err: ctx.Err()}
		}
		return domain.Clear(svc.Name, svc.Kind), nil
	}}

	report, err := newService(arc, &mockClient{}, usecases.WithQueryTimeout(20*time.Millisecond)).
		Run(context.Background(), testLat, testLon, nil)
	if err != nil {
		t.Fatalf("a slow service must not fail the round: %v", err)
	}
	if report.Outcomes[0].Status != domain.StatusFailed || !strings.Contains(report.Outcomes[0].Error, "timed out") {
		t.Errorf("expected timeout failure, got %+v", report.Outcomes[0])
	}
	if report.Outcomes[1].Status != domain.StatusClear {
		t.Errorf("round did not continue after timeout: %+v", report.Outcomes[1])
	}
}

func TestIncidenceService_Run_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	arc := &mockClient{queryFn: func(qctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate) (*domain.QueryOutcome, error) {
		cancel()
		return nil, qctx.Err()
	}}
	wms := &mockClient{}

	report, err := newService(arc, wms).Run(ctx, testLat, testLon, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report != nil {
		t.Error("cancelled round must not return a report")
	}
	if arc.calls.Load() != 1 || wms.calls.Load() != 0 {
		t.Errorf("queries continued after cancellation: arcgis=%d wms=%d", arc.calls.Load(), wms.calls.Load())
	}
}

func TestIncidenceService_Run_RoundDeadlineMarksRemainingFailed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	arc := &mockClient{queryFn: func(qctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate) (*domain.QueryOutcome, error) {
		<-qctx.Done()
		return nil, qctx.Err()
	}}
	wms := &mockClient{}

	var events []domain.Progress
	report, err := newService(arc, wms, usecases.WithQueryTimeout(time.Hour)).
		Run(ctx, testLat, testLon, func(p domain.Progress) { events = append(events, p) })
	if err != nil {
		t.Fatalf("deadline must still yield a report, got %v", err)
	}
	if len(report.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(report.Outcomes))
	}
	for i, o := range report.Outcomes {
		if o.LayerName != testServices()[i].Name {
			t.Errorf("outcome %d: expected %s, got %s", i, testServices()[i].Name, o.LayerName)
		}
		if o.Status != domain.StatusFailed || o.Error != domain.ErrRoundDeadline.Error() {
			t.Errorf("outcome %d: expected round deadline failure, got %+v", i, o)
		}
	}
	if report.Summary.Failed != 3 || report.Result() != domain.StatusFailed {
		t.Errorf("unexpected summary %+v result %s", report.Summary, report.Result())
	}
	if arc.calls.Load() != 1 || wms.calls.Load() != 0 {
		t.Errorf("services queried after the deadline: arcgis=%d wms=%d", arc.calls.Load(), wms.calls.Load())
	}
	if len(events) != 6 {
		t.Errorf("expected 6 progress events, got %d", len(events))
	}
}

func TestIncidenceService_Run_SlowServicesExhaustRound(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	hang := func(qctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate) (*domain.QueryOutcome, error) {
		<-qctx.Done()
		return nil, qctx.Err()
	}
	arc := &mockClient{queryFn: hang}
	wms := &mockClient{queryFn: hang}

	report, err := newService(arc, wms, usecases.WithQueryTimeout(40*time.Millisecond)).Run(ctx, testLat, testLon, nil)
	if err != nil {
		t.Fatalf("deadline must still yield a report, got %v", err)
	}
	if len(report.Outcomes) != 3 || report.Summary.Failed != 3 {
		t.Fatalf("expected 3 failed outcomes, got %+v", report.Summary)
	}
	last := report.Outcomes[2]
	if last.Error != domain.ErrRoundDeadline.Error() {
		t.Errorf("expected last service to hit the round deadline, got %q", last.Error)
	}
}

func TestIncidenceService_Run_PublishDetachedAndBounded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pubErr error
	var hadDeadline bool
	pub := &mockPublisher{publishFn: func(pctx context.Context, r *domain.Report) error {
		_, hadDeadline = pctx.Deadline()
		cancel()
		<-pctx.Done()
		pubErr = pctx.Err()
		return pubErr
	}}

	start := time.Now()
	report, err := newService(&mockClient{}, &mockClient{},
		usecases.WithPublisher(pub),
		usecases.WithPublishTimeout(30*time.Millisecond),
	).Run(ctx, testLat, testLon, nil)
	if err != nil || report == nil {
		t.Fatalf("stuck publish must not fail the round: %v", err)
	}
	if !hadDeadline {
		t.Error("publish context has no deadline")
	}
	if !errors.Is(pubErr, context.DeadlineExceeded) {
		t.Errorf("publish context must end on its own timeout, not round cancellation: %v", pubErr)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("round blocked on publish for %s", elapsed)
	}
}

func TestIncidenceService_Run_Publishes(t *testing.T) {
	pub := &mockPublisher{publishFn: func(ctx context.Context, r *domain.Report) error {
		return errors.New("nats unavailable")
	}}

	report, err := newService(&mockClient{}, &mockClient{}, usecases.WithPublisher(pub)).
		Run(context.Background(), testLat, testLon, nil)
	if err != nil {
		t.Fatalf("publish failure must not fail the round: %v", err)
	}
	if len(pub.published) != 1 || pub.published[0] != report {
		t.Errorf("expected report to be published once, got %d", len(pub.published))
	}
}

func TestIncidenceService_Transform(t *testing.T) {
	svc := newService(&mockClient{}, &mockClient{})

	c, err := svc.Transform(context.Background(), "-47,984292", "-15,886986", domain.EPSG4326, domain.EPSG31983)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.CRS != domain.EPSG31983 || c.X < 100000 || c.X > 300000 {
		t.Errorf("unexpected projection %+v", c)
	}

	if _, err := svc.Transform(context.Background(), "x", "1", domain.EPSG4326, domain.EPSG31983); !domain.IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	if _, err := svc.Transform(context.Background(), "1", "1", domain.EPSG4326, domain.CRS(3857)); !errors.Is(err, domain.ErrUnknownCRS) {
		t.Errorf("expected ErrUnknownCRS, got %v", err)
	}
}

func TestLatestRound_Supersedes(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	arc := &mockClient{queryFn: func(ctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate) (*domain.QueryOutcome, error) {
		first := false
		once.Do(func() { first = true })
		if first {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return domain.Clear(svc.Name, svc.Kind), nil
	}}
	rounds := usecases.NewLatestRound(newService(arc, &mockClient{}))

	type result struct {
		report *domain.Report
		err    error
	}
	firstDone := make(chan result, 1)
	go func() {
		r, err := rounds.Run(context.Background(), testLat, testLon, nil)
		firstDone <- result{r, err}
	}()

	<-started
	report, err := rounds.Run(context.Background(), testLat, testLon, nil)
	if err != nil {
		t.Fatalf("second round failed: %v", err)
	}
	if len(report.Outcomes) != 3 {
		t.Errorf("expected 3 outcomes, got %d", len(report.Outcomes))
	}

	select {
	case res := <-firstDone:
		if !errors.Is(res.err, domain.ErrRoundSuperseded) {
			t.Errorf("expected ErrRoundSuperseded, got %v", res.err)
		}
		if res.report != nil {
			t.Error("superseded round must not return a report")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first round did not stop")
	}
}
