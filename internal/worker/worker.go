// Package worker drains the notification queue and delivers messages.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/metrics"
	"github.com/mariomelembe98/necrologia-tempo/internal/notify"
	"github.com/mariomelembe98/necrologia-tempo/internal/sqs"
)

// Queue is satisfied by *sqs.Consumer.
type Queue interface {
	Receive(ctx context.Context, max int32) ([]sqs.Delivery, error)
	Delete(ctx context.Context, receiptHandle string) error
	Delay(ctx context.Context, receiptHandle string, d time.Duration) error
	DeadLetter(ctx context.Context, d sqs.Delivery, lastErr string) error
}

type Worker struct {
	queue  Queue
	sender notify.Sender
	config Config
	logger *zap.Logger
}

type Config struct {
	// PollInterval is the pause after a failed receive.
	PollInterval time.Duration
	BatchSize    int32
	MaxRetries   int
}

func New(queue Queue, sender notify.Sender, cfg Config, logger *zap.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 5
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	return &Worker{
		queue:  queue,
		sender: sender,
		config: cfg,
		logger: logger,
	}
}

// Start blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("notification worker started",
		zap.Int32("batch_size", w.config.BatchSize),
		zap.Int("max_retries", w.config.MaxRetries),
	)
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopping")
			return
		}
		if err := w.processBatch(ctx); err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return
			}
			w.logger.Error("failed to receive notifications", zap.Error(err))
			select {
			case <-ctx.Done():
				w.logger.Info("worker stopping")
				return
			case <-time.After(w.config.PollInterval):
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	deliveries, err := w.queue.Receive(ctx, w.config.BatchSize)
	if err != nil {
		return err
	}
	for _, d := range deliveries {
		w.process(ctx, d)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, d sqs.Delivery) {
	msg := d.Message
	err := w.sender.Send(ctx, msg)
	if err == nil {
		metrics.RecordNotification(string(msg.Kind), string(msg.Channel), "sent")
		w.logger.Info("notification sent",
			zap.String("id", msg.ID.String()),
			zap.String("kind", string(msg.Kind)),
		)
		if err := w.queue.Delete(ctx, d.ReceiptHandle); err != nil {
			w.logger.Warn("failed to delete delivered message", zap.Error(err), zap.String("id", msg.ID.String()))
		}
		return
	}

	metrics.RecordNotification(string(msg.Kind), string(msg.Channel), "failed")
	w.logger.Error("failed to send notification",
		zap.Error(err),
		zap.String("id", msg.ID.String()),
		zap.Int("attempt", d.ReceiveCount),
	)

	if d.ReceiveCount >= w.config.MaxRetries {
		if dlqErr := w.queue.DeadLetter(ctx, d, err.Error()); dlqErr != nil {
			w.logger.Error("failed to dead-letter notification",
				zap.String("id", msg.ID.String()),
				zap.Error(dlqErr),
			)
			return
		}
		metrics.RecordNotification(string(msg.Kind), string(msg.Channel), "dead_letter")
		w.logger.Info("notification moved to dead letter queue",
			zap.String("id", msg.ID.String()),
			zap.Int("attempts", d.ReceiveCount),
		)
		return
	}

	if err := w.queue.Delay(ctx, d.ReceiptHandle, retryDelay(d.ReceiveCount)); err != nil {
		w.logger.Warn("failed to delay retry", zap.Error(err), zap.String("id", msg.ID.String()))
	}
}

// retryDelay is the backoff before the next delivery attempt.
func retryDelay(attempt int) time.Duration {
	delays := []time.Duration{
		1 * time.Minute,
		5 * time.Minute,
		15 * time.Minute,
	}

	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}
