package repository

import (
	"context"

	"OTCFeed/internal/domain/models"
	domrepo "OTCFeed/internal/domain/repository"
)

// Producer is the part of pkg/kafka.Producer the journal needs.
type Producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaPublisher journals canonical ticks to a topic keyed by symbol, so one
// symbol's ticks stay ordered within a partition.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, t models.Tick) error {
	return p.producer.Publish(ctx, p.topic, []byte(t.Symbol), t)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ domrepo.Publisher = (*KafkaPublisher)(nil)
