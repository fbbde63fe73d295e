package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventProducer publishes booking and payment events keyed by booking id, so
// every event of one booking lands on the same partition in order.
type EventProducer struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

func NewEventProducer(brokers []string, topic string, logger *zap.Logger) *EventProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	logger.Info("Kafka event producer initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return NewEventProducerWithWriter(w, topic, logger)
}

func NewEventProducerWithWriter(w MessageWriter, topic string, logger *zap.Logger) *EventProducer {
	return &EventProducer{writer: w, topic: topic, logger: logger}
}

func (p *EventProducer) Publish(ctx context.Context, event models.DomainEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.BookingID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to send event",
			zap.String("event_type", string(event.Type)),
			zap.String("booking_id", event.BookingID.String()),
			zap.Error(err),
		)
		return err
	}

	p.logger.Debug("Sent event",
		zap.String("event_type", string(event.Type)),
		zap.String("booking_id", event.BookingID.String()),
	)
	return nil
}

func (p *EventProducer) Close() {
	_ = p.writer.Close()
	p.logger.Info("Kafka producer closed")
}
