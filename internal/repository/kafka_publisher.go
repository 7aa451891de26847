package repository

import (
	"context"
	"fmt"

	"AstroCal/internal/domain/models"
	domrepo "AstroCal/internal/domain/repository"
	pkgkafka "AstroCal/pkg/kafka"
)

// batchProducer is the part of pkg/kafka.Producer the publisher needs.
type batchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaEventPublisher publishes conjunction events keyed by chart id so
// one chart's events stay ordered within a partition.
type KafkaEventPublisher struct {
	producer batchProducer
	topic    string
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)

// NewKafkaEventPublisher creates Kafka publisher.
func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) PublishEvents(ctx context.Context, chartID string, events []models.ConjunctionEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(events))
	for i, ev := range events {
		if ev.ChartID == "" {
			ev.ChartID = chartID
		}
		msgs[i] = pkgkafka.Message{
			Key:     []byte(chartID),
			Value:   ev,
			Headers: map[string]string{"event_type": "conjunction", "body": string(ev.ProgressedBody)},
		}
	}
	if err := p.producer.PublishBatch(ctx, p.topic, msgs); err != nil {
		return fmt.Errorf("publish events: %w", err)
	}
	return nil
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NoopPublisher drops events. Used when Kafka is disabled.
type NoopPublisher struct{}

var _ domrepo.EventPublisher = NoopPublisher{}

func (NoopPublisher) PublishEvents(context.Context, string, []models.ConjunctionEvent) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }
