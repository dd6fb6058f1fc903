// Package events publishes committed audit events to downstream consumers.
// Publishing happens after the ledger transaction commits; a failed publish
// is logged and never rolls back the transition.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/vegais/ledger-engine/internal/model"
)

// Publisher delivers audit events.
type Publisher interface {
	Publish(ctx context.Context, e model.Event) error
	Close() error
}

// KafkaPublisher writes events as JSON to one topic, keyed by user so a
// user's events stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka publisher requires a topic")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e model.Event) error {
	msg, err := Message(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Message encodes e as a Kafka message. The partition key is the user, or
// the record key for events without one.
func Message(e model.Event) (kafka.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	key := e.User
	if key == "" {
		key = e.Ref
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}, nil
}

// LogPublisher writes events to the default slog logger. Used when no
// broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, e model.Event) error {
	slog.Info("ledger event",
		"id", e.ID,
		"type", string(e.Type),
		"user", e.User,
		"ref", e.Ref,
		"amount", e.Amount,
	)
	return nil
}

func (LogPublisher) Close() error { return nil }

// Multi fans an event out to every publisher. All publishers are tried; the
// errors are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e model.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
