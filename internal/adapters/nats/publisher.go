package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/geoincidence/internal/core/domain"
)

const (
	// StreamName is the JetStream stream holding completed reports.
	StreamName = "INCIDENCE_REPORTS"
	// SubjectPrefix is followed by the report's overall result.
	SubjectPrefix = "incidence.report."
)

// Publisher implements ports.ReportPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and ensures the report stream exists.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := connect(url)
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	cfg := nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ">"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	}
	if _, err := js.AddStream(&cfg); err != nil {
		// Stream may already exist, try update
		if _, err := js.UpdateStream(&cfg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// ReportSubject returns the subject a report is published on.
func ReportSubject(r *domain.Report) string {
	return SubjectPrefix + string(r.Result())
}

// PublishReport publishes a completed round.
func (p *Publisher) PublishReport(ctx context.Context, report *domain.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if _, err := p.js.Publish(ReportSubject(report), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish report: %w", err)
	}
	return nil
}

// Ping reports whether the connection is usable.
func (p *Publisher) Ping(ctx context.Context) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("nats: %s", p.conn.Status())
	}
	return p.conn.FlushWithContext(ctx)
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

func connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("geoincidence"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}
