package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/geoincidence/internal/core/domain"
	"github.com/samirrijal/geoincidence/internal/core/usecases"
	"github.com/samirrijal/geoincidence/internal/pkg/metrics"
)

// wsRequest starts a round. lat and lon may be JSON strings or numbers.
type wsRequest struct {
	Lat looseString `json:"lat"`
	Lon looseString `json:"lon"`
}

// wsEvent is sent from server to client. Round numbers increase per
// connection so clients can drop events of superseded rounds.
type wsEvent struct {
	Type     string           `json:"type"` // "progress" | "report" | "error"
	Round    int              `json:"round"`
	Progress *domain.Progress `json:"progress,omitempty"`
	Report   *domain.Report   `json:"report,omitempty"`
	Code     string           `json:"code,omitempty"`
	Message  string           `json:"message,omitempty"`
}

type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	*s = looseString(strings.TrimSpace(string(b)))
	return nil
}

// IncidenceWebSocketHandler streams query rounds over a WebSocket.
// Clients send {"lat":"-15.88","lon":"-47.98"}; the server answers with
// progress events followed by a report or an error. A new request cancels
// the round in flight.
func IncidenceWebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		remoteAddr := c.RemoteAddr().String()
		log := slog.Default().With("remote", remoteAddr)
		log.Info("ws client connected")

		ctx, cancel := context.WithCancel(context.Background())
		rounds := usecases.NewLatestRound(deps.Incidence)

		var mu sync.Mutex
		writeJSON := func(v interface{}) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}

		// Keep-alive ping
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		var wg sync.WaitGroup
		round := 0
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}

			var req wsRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				_ = writeJSON(wsEvent{Type: "error", Code: "bad_request", Message: "invalid JSON"})
				continue
			}

			round++
			n := round
			wg.Add(1)
			go func() {
				defer wg.Done()
				report, err := rounds.Run(ctx, string(req.Lat), string(req.Lon), func(p domain.Progress) {
					_ = writeJSON(wsEvent{Type: "progress", Round: n, Progress: &p})
				})
				switch {
				case err == nil:
					_ = writeJSON(wsEvent{Type: "report", Round: n, Report: report})
				case errors.Is(err, domain.ErrRoundSuperseded), ctx.Err() != nil:
					// A newer round owns the connection, or the client left.
				case domain.IsValidation(err):
					_ = writeJSON(wsEvent{Type: "error", Round: n, Code: "invalid_coordinates", Message: err.Error()})
				default:
					log.Warn("ws round failed", "round", n, "error", err)
					_ = writeJSON(wsEvent{Type: "error", Round: n, Code: "internal_error", Message: err.Error()})
				}
			}()
		}

		// Cleanup
		cancel()
		rounds.Cancel()
		wg.Wait()
		close(done)
		log.Info("ws client disconnected")
	}
}
