package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	awspkg "github.com/satheshM/sakkaram-mobile-app/backend/pkg/aws"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
)

// EventPublisher delivers domain events after the state change committed.
// Delivery is best effort; a failed publish never undoes the change.
type EventPublisher interface {
	Publish(ctx context.Context, event models.DomainEvent) error
}

type snsEventPublisher struct {
	sns      awspkg.SNSPublisher
	topicArn string
}

// NewSNSEventPublisher publishes events to one SNS topic with the event type
// as a filterable message attribute.
func NewSNSEventPublisher(sns awspkg.SNSPublisher, topicArn string) EventPublisher {
	return &snsEventPublisher{sns: sns, topicArn: topicArn}
}

func (p *snsEventPublisher) Publish(ctx context.Context, event models.DomainEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.sns.Publish(ctx, p.topicArn, data, string(event.Type))
}

type noopPublisher struct{}

func NewNoopPublisher() EventPublisher { return noopPublisher{} }

func (noopPublisher) Publish(context.Context, models.DomainEvent) error { return nil }

// publishAll sends events and logs failures.
func publishAll(ctx context.Context, pub EventPublisher, logger *zap.Logger, events ...models.DomainEvent) {
	if pub == nil {
		return
	}
	for _, evt := range events {
		if err := pub.Publish(ctx, evt); err != nil {
			logger.Warn("Failed to publish event",
				zap.String("event_type", string(evt.Type)),
				zap.String("booking_id", evt.BookingID.String()),
				zap.Error(err),
			)
		}
	}
}

// MetricsRecorder is satisfied by *awspkg.MetricsClient, including a nil one.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
}

type noopMetrics struct{}

func (noopMetrics) RecordCount(context.Context, string, map[string]string) error { return nil }
func (noopMetrics) RecordLatency(context.Context, string, time.Duration, map[string]string) error {
	return nil
}

func metricsOrNoop(m MetricsRecorder) MetricsRecorder {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

// SettlementCache remembers order ids that are already settled so duplicate
// webhook deliveries skip the gateway round trip. It is only a shortcut: the
// database status checks still decide.
type SettlementCache interface {
	IsSettled(ctx context.Context, orderID string) bool
	MarkSettled(ctx context.Context, orderID string)
}

type redisSettlementCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisSettlementCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) SettlementCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisSettlementCache{client: client, ttl: ttl, logger: logger}
}

func settledKey(orderID string) string {
	return "payment:settled:" + orderID
}

func (c *redisSettlementCache) IsSettled(ctx context.Context, orderID string) bool {
	n, err := c.client.Exists(ctx, settledKey(orderID)).Result()
	if err != nil {
		c.logger.Warn("Settlement cache lookup failed", zap.String("order_id", orderID), zap.Error(err))
		return false
	}
	return n > 0
}

func (c *redisSettlementCache) MarkSettled(ctx context.Context, orderID string) {
	if err := c.client.Set(ctx, settledKey(orderID), time.Now().UTC().Format(time.RFC3339), c.ttl).Err(); err != nil {
		c.logger.Warn("Settlement cache write failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

// RetryQueue schedules an order for another verification attempt.
// *awspkg.SQSConsumer satisfies it.
type RetryQueue interface {
	SendMessageWithDelay(ctx context.Context, body string, delaySeconds int32) error
}

// WebhookArchive keeps raw webhook deliveries. *awspkg.S3Archive satisfies it.
type WebhookArchive interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}
