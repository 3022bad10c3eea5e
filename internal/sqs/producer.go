// Package sqs queues notification messages on Amazon SQS.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/metrics"
	"github.com/mariomelembe98/necrologia-tempo/internal/notify"
)

// Config holds SQS configuration.
type Config struct {
	QueueURL string
	DLQURL   string
}

// API is the subset of the SQS client used by the producer and consumer.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// NewAPI builds the SQS client from an AWS config.
func NewAPI(cfg aws.Config) API {
	return sqs.NewFromConfig(cfg)
}

// Envelope is the JSON body put on the queue.
type Envelope struct {
	Message    notify.Message `json:"message"`
	EnqueuedAt int64          `json:"enqueued_at"`
}

// Producer sends notifications to SQS. It implements notify.Dispatcher.
type Producer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

func NewProducer(client API, queueURL string, logger *zap.Logger) *Producer {
	logger.Info("sqs producer initialized", zap.String("queue_url", queueURL))
	return &Producer{client: client, queueURL: queueURL, logger: logger}
}

// Enqueue sends a message to SQS for asynchronous delivery and returns the
// SQS message id.
func (p *Producer) Enqueue(ctx context.Context, msg *notify.Message) (string, error) {
	body, err := json.Marshal(Envelope{Message: *msg, EnqueuedAt: time.Now().UnixNano()})
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind":    {DataType: aws.String("String"), StringValue: aws.String(string(msg.Kind))},
			"channel": {DataType: aws.String("String"), StringValue: aws.String(string(msg.Channel))},
		},
	})
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("id", msg.ID.String()),
		)
		return "", fmt.Errorf("sqs send: %w", err)
	}
	return aws.ToString(result.MessageId), nil
}

// Dispatch enqueues msg; delivery happens in the worker.
func (p *Producer) Dispatch(ctx context.Context, msg *notify.Message) error {
	_, err := p.Enqueue(ctx, msg)
	status := "queued"
	if err != nil {
		status = "failed"
	}
	metrics.RecordNotification(string(msg.Kind), string(msg.Channel), status)
	return err
}

// Delivery is one received message.
type Delivery struct {
	Message       *notify.Message
	ReceiptHandle string
	// ReceiveCount is how many times SQS has handed this message out.
	ReceiveCount int
}

// Consumer reads notifications from SQS.
type Consumer struct {
	client   API
	queueURL string
	dlqURL   string
	logger   *zap.Logger
}

func NewConsumer(client API, cfg Config, logger *zap.Logger) *Consumer {
	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
		zap.Bool("dlq", cfg.DLQURL != ""),
	)
	return &Consumer{client: client, queueURL: cfg.QueueURL, dlqURL: cfg.DLQURL, logger: logger}
}

// Receive long-polls for up to max messages. Bodies that fail to decode are
// deleted and skipped.
func (c *Consumer) Receive(ctx context.Context, max int32) ([]Delivery, error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	out := make([]Delivery, 0, len(result.Messages))
	for _, m := range result.Messages {
		var env Envelope
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &env); err != nil {
			c.logger.Error("dropping undecodable message",
				zap.Error(err),
				zap.String("message_id", aws.ToString(m.MessageId)),
			)
			if delErr := c.Delete(ctx, aws.ToString(m.ReceiptHandle)); delErr != nil {
				c.logger.Warn("failed to delete undecodable message", zap.Error(delErr))
			}
			continue
		}
		count, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		if count == 0 {
			count = 1
		}
		msg := env.Message
		out = append(out, Delivery{
			Message:       &msg,
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			ReceiveCount:  count,
		})
	}
	return out, nil
}

// Delete removes a message after successful processing.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

// Delay hides a message for the given duration before it is retried.
func (c *Consumer) Delay(ctx context.Context, receiptHandle string, d time.Duration) error {
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: int32(d / time.Second),
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility: %w", err)
	}
	return nil
}

// DeadLetter copies the message to the dead-letter queue, when one is
// configured, and removes it from the main queue.
func (c *Consumer) DeadLetter(ctx context.Context, d Delivery, lastErr string) error {
	if c.dlqURL != "" {
		body, err := json.Marshal(Envelope{Message: *d.Message, EnqueuedAt: time.Now().UnixNano()})
		if err != nil {
			return fmt.Errorf("marshal dead letter: %w", err)
		}
		_, err = c.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(c.dlqURL),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"last_error": {DataType: aws.String("String"), StringValue: aws.String(lastErr)},
			},
		})
		if err != nil {
			return fmt.Errorf("sqs dead letter send: %w", err)
		}
	}
	return c.Delete(ctx, d.ReceiptHandle)
}
