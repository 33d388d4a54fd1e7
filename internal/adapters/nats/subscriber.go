package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/geoincidence/internal/core/domain"
)

// Subscriber implements ports.ReportSubscriber using NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber connects to NATS.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := connect(url)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeReports delivers reports published from now on. The subscription
// is ephemeral and ends with Close.
func (s *Subscriber) SubscribeReports(ctx context.Context, handler func(ctx context.Context, report *domain.Report) error) error {
	sub, err := s.js.Subscribe(SubjectPrefix+">", func(msg *nats.Msg) {
		if err := decodeReport(ctx, msg.Data, handler); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.DeliverNew(),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return fmt.Errorf("subscribe reports: %w", err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

func decodeReport(ctx context.Context, data []byte, handler func(ctx context.Context, report *domain.Report) error) error {
	var report domain.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return fmt.Errorf("decode report: %w", err)
	}
	return handler(ctx, &report)
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
