// Package events publishes job lifecycle events to Kafka for downstream
// consumers. Publishing is fire-and-forget: a broker outage never blocks or
// fails a job outcome.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

// Producer implements domain.EventPublisher on a Kafka topic.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer connects to the given brokers. An empty broker list disables
// publishing and returns a nil Producer, which callers pass around as a nil
// domain.EventPublisher.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(5),
		kgo.ProducerBatchMaxBytes(1000000),
	)
	if err != nil {
		return nil, fmt.Errorf("op=events.NewProducer: %w", err)
	}
	slog.Info("event producer connected", slog.Any("brokers", brokers), slog.String("topic", topic))
	return &Producer{client: client, topic: topic}, nil
}

// Publish emits one lifecycle event keyed by job id. Failures are logged and
// dropped.
func (p *Producer) Publish(ctx context.Context, event domain.JobEvent) {
	b, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to marshal job event",
			slog.String("job_id", event.JobID),
			slog.Any("error", err))
		return
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.JobID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "state", Value: []byte(event.State)},
			{Key: "correlation_id", Value: []byte(event.CorrelationID)},
		},
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			slog.Warn("failed to publish job event",
				slog.String("job_id", event.JobID),
				slog.String("state", string(event.State)),
				slog.Any("error", err))
		}
	})
}

// Close flushes and closes the underlying client.
func (p *Producer) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Close()
}
