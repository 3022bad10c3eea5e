// Package notify renders and delivers announcement notifications by e-mail
// (SES) and SMS (SNS).
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/circuitbreaker"
	"github.com/mariomelembe98/necrologia-tempo/internal/metrics"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Kind names the event a message reports.
type Kind string

const (
	KindSubmitted           Kind = "submitted"
	KindSubmittedAdvertiser Kind = "submitted_advertiser"
	KindModerationRequired  Kind = "moderation_required"
	KindStatusChanged       Kind = "status_changed"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	ID             uuid.UUID `json:"id"`
	Kind           Kind      `json:"kind"`
	Channel        Channel   `json:"channel"`
	To             string    `json:"to"`
	Subject        string    `json:"subject,omitempty"`
	Body           string    `json:"body"`
	AnnouncementID int64     `json:"announcement_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Sender delivers messages on one or more channels.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
	SupportsChannel(ch Channel) bool
}

// MultiSender routes each message to the first sender supporting its channel.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders, logger: logger}
}

func (m *MultiSender) Send(ctx context.Context, msg *Message) error {
	for _, s := range m.senders {
		if s.SupportsChannel(msg.Channel) {
			return s.Send(ctx, msg)
		}
	}
	return fmt.Errorf("no sender for channel %q", msg.Channel)
}

func (m *MultiSender) SupportsChannel(ch Channel) bool {
	for _, s := range m.senders {
		if s.SupportsChannel(ch) {
			return true
		}
	}
	return false
}

// LogSender only logs. Used in development when AWS is not configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg *Message) error {
	s.logger.Info("notification (log only)",
		zap.String("id", msg.ID.String()),
		zap.String("kind", string(msg.Kind)),
		zap.String("channel", string(msg.Channel)),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

func (s *LogSender) SupportsChannel(ch Channel) bool {
	return ch == ChannelEmail || ch == ChannelSMS
}

// ProtectedSender fails fast through a circuit breaker while the wrapped
// sender's backend is unhealthy.
type ProtectedSender struct {
	sender  Sender
	breaker *circuitbreaker.CircuitBreaker
}

func NewProtectedSender(sender Sender, breaker *circuitbreaker.CircuitBreaker) *ProtectedSender {
	return &ProtectedSender{sender: sender, breaker: breaker}
}

func (p *ProtectedSender) Send(ctx context.Context, msg *Message) error {
	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.sender.Send(ctx, msg)
	})
}

func (p *ProtectedSender) SupportsChannel(ch Channel) bool {
	return p.sender.SupportsChannel(ch)
}

// Dispatcher hands a message off for delivery, either inline or via a queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *Message) error
}

// Direct dispatches by sending immediately.
type Direct struct {
	Sender Sender
}

func (d Direct) Dispatch(ctx context.Context, msg *Message) error {
	err := d.Sender.Send(ctx, msg)
	status := "sent"
	if err != nil {
		status = "failed"
	}
	metrics.RecordNotification(string(msg.Kind), string(msg.Channel), status)
	return err
}
