package producers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onchain-casino-settlement/internal/config"
	"github.com/onchain-casino-settlement/internal/domain/outbox"
	"github.com/segmentio/kafka-go"
)

// SettlementEventProducer writes settlement events keyed by aggregate, so every
// event of one user or job lands on the same partition in commit order
type SettlementEventProducer struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
}

func NewSettlementEventProducer(logger *slog.Logger, cfg *config.KafkaConfig) (*SettlementEventProducer, error) {
	if cfg.EventsTopic == "" {
		return nil, errors.New("kafka events topic is not configured")
	}

	if err := ensureTopic(cfg.Brokers, cfg.EventsTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure events topic %s exists: %w", cfg.EventsTopic, err)
	}

	// Synchronous writes: the outbox row is only marked processed after the broker acknowledged it
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.EventsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: cfg.MaxWait,
	}

	return &SettlementEventProducer{
		logger: logger.With("component", "event_producer"),
		writer: writer,
		topic:  cfg.EventsTopic,
	}, nil
}

func (p *SettlementEventProducer) PublishEvent(ctx context.Context, event *outbox.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement event %s: %w", event.EventID, err)
	}

	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(event.EventID.String())},
			{Key: "event-type", Value: []byte(event.EventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event %s to %s: %w", event.EventID, p.topic, err)
	}

	p.logger.Debug("Published settlement event",
		"event_id", event.EventID.String(),
		"event_type", event.EventType,
		"aggregate_id", event.AggregateID,
	)
	return nil
}

func (p *SettlementEventProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close events writer for topic %s: %w", p.topic, err)
	}
	return nil
}
