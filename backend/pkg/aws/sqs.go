package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// SQSConsumer receives from and sends to a single queue.
type SQSConsumer struct {
	client            *sqs.Client
	queueURL          string
	waitSeconds       int32
	visibilitySeconds int32
	logger            *zap.Logger
}

// NewSQSConsumer creates a new SQS consumer for the given queue URL
func NewSQSConsumer(cfg aws.Config, queueURL string, logger *zap.Logger) *SQSConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQSConsumer{
		client:            sqs.NewFromConfig(cfg),
		queueURL:          queueURL,
		waitSeconds:       20,
		visibilitySeconds: 60,
		logger:            logger.With(zap.String("queue_url", queueURL)),
	}
}

// MessageHandler is a function that processes an SQS message
type MessageHandler func(ctx context.Context, body string) error

// StartPolling long-polls the queue until ctx is cancelled. A message is
// deleted only after handler returns nil; otherwise it becomes visible again
// after the visibility timeout.
func (c *SQSConsumer) StartPolling(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("sqs polling started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("sqs polling stopped")
			return ctx.Err()
		default:
			if err := c.pollOnce(ctx, handler); err != nil && ctx.Err() == nil {
				c.logger.Warn("sqs poll failed", zap.Error(err))
			}
		}
	}
}

func (c *SQSConsumer) pollOnce(ctx context.Context, handler MessageHandler) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &c.queueURL,
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     c.waitSeconds,
		VisibilityTimeout:   c.visibilitySeconds,
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	for _, msg := range result.Messages {
		if msg.Body == nil {
			continue
		}

		if err := handler(ctx, *msg.Body); err != nil {
			c.logger.Warn("sqs message handler failed, leaving for redelivery",
				zap.String("message_id", aws.ToString(msg.MessageId)), zap.Error(err))
			continue
		}

		if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      &c.queueURL,
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			c.logger.Warn("sqs delete failed", zap.String("message_id", aws.ToString(msg.MessageId)), zap.Error(err))
		}
	}

	return nil
}

// SendMessage sends a single message to the queue
func (c *SQSConsumer) SendMessage(ctx context.Context, body string) error {
	return c.SendMessageWithDelay(ctx, body, 0)
}

// SendMessageWithDelay hides the message from consumers for delaySeconds
// (at most 900).
func (c *SQSConsumer) SendMessageWithDelay(ctx context.Context, body string, delaySeconds int32) error {
	if delaySeconds > 900 {
		delaySeconds = 900
	}
	_, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     &c.queueURL,
		MessageBody:  &body,
		DelaySeconds: delaySeconds,
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
