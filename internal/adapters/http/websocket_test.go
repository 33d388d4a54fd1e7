package http_test

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"

	handler "github.com/samirrijal/geoincidence/internal/adapters/http"
	"github.com/samirrijal/geoincidence/internal/core/domain"
)

type wsEvent struct {
	Type     string           `json:"type"`
	Round    int              `json:"round"`
	Progress *domain.Progress `json:"progress"`
	Report   *domain.Report   `json:"report"`
	Code     string           `json:"code"`
	Message  string           `json:"message"`
}

// dialIncidence serves the app on a loopback listener and opens a WebSocket
// to /ws/incidence.
func dialIncidence(t *testing.T, deps *handler.Dependencies) *fws.Conn {
	t.Helper()
	app := setupApp(deps)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.ShutdownWithTimeout(time.Second) })

	conn, _, err := fws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/incidence", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *fws.Conn) wsEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev wsEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestWebSocket_ProgressThenReport(t *testing.T) {
	conn := dialIncidence(t, makeDeps(nil))

	if err := conn.WriteJSON(map[string]string{"lat": "-15,886986", "lon": "-47,984292"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	services := testServices()
	for i := 0; i < 2*len(services); i++ {
		ev := readEvent(t, conn)
		if ev.Type != "progress" || ev.Round != 1 || ev.Progress == nil {
			t.Fatalf("event %d: expected progress for round 1, got %+v", i, ev)
		}
		p := ev.Progress
		if p.Total != len(services) {
			t.Errorf("event %d: total = %d", i, p.Total)
		}
		if i%2 == 0 {
			if p.Done != i/2 || p.Current != services[i/2].Name {
				t.Errorf("event %d: expected start of %s, got %+v", i, services[i/2].Name, p)
			}
			continue
		}
		if p.Done != i/2+1 || p.Last == nil || p.Last.LayerName != services[i/2].Name {
			t.Errorf("event %d: expected result of %s, got %+v", i, services[i/2].Name, p)
		}
	}

	ev := readEvent(t, conn)
	if ev.Type != "report" || ev.Round != 1 || ev.Report == nil {
		t.Fatalf("expected report for round 1, got %+v", ev)
	}
	if len(ev.Report.Outcomes) != len(services) || ev.Report.Summary.Clear != len(services) {
		t.Errorf("unexpected report summary %+v", ev.Report.Summary)
	}
}

func TestWebSocket_InvalidCoordinates(t *testing.T) {
	client := &mockClient{}
	conn := dialIncidence(t, makeDeps(client))

	if err := conn.WriteJSON(map[string]any{"lat": 91, "lon": -47.98}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Type != "error" || ev.Code != "invalid_coordinates" || ev.Round != 1 {
		t.Errorf("expected invalid_coordinates error, got %+v", ev)
	}
	if client.calls.Load() != 0 {
		t.Errorf("no service may be queried for invalid input, got %d calls", client.calls.Load())
	}
}

func TestWebSocket_NewRequestSupersedesRound(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	var first atomic.Bool
	client := &mockClient{queryFn: func(ctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate) (*domain.QueryOutcome, error) {
		if first.CompareAndSwap(false, true) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return domain.Clear(svc.Name, svc.Kind), nil
	}}
	conn := dialIncidence(t, makeDeps(client))

	// Numbers are accepted as well as strings.
	if err := conn.WriteJSON(map[string]any{"lat": -15.886986, "lon": -47.984292}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first round never reached a service")
	}
	if err := conn.WriteJSON(map[string]string{"lat": "-15.80", "lon": "-47.90"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var report *wsEvent
	for report == nil {
		ev := readEvent(t, conn)
		switch {
		case ev.Round == 1 && ev.Type != "progress":
			t.Fatalf("superseded round sent %s: %+v", ev.Type, ev)
		case ev.Type == "report":
			report = &ev
		case ev.Type == "error":
			t.Fatalf("unexpected error event %+v", ev)
		}
	}
	if report.Round != 2 {
		t.Fatalf("expected report for round 2, got round %d", report.Round)
	}
	if report.Report.Input.Lat != -15.80 || report.Report.Summary.Clear != 3 {
		t.Errorf("unexpected report %+v", report.Report.Summary)
	}
	if n := client.calls.Load(); n != 4 {
		t.Errorf("expected 1 cancelled and 3 completed queries, got %d", n)
	}

	// Nothing else is sent for the superseded round.
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var extra wsEvent
	if err := conn.ReadJSON(&extra); err == nil {
		t.Errorf("unexpected event after final report: %+v", extra)
	}
}
