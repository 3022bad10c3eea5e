package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// SESAPI is the subset of the SES client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender delivers e-mail through Amazon SES.
type SESSender struct {
	client SESAPI
	from   string
	logger *zap.Logger
}

func NewSESSender(client SESAPI, from string, logger *zap.Logger) *SESSender {
	return &SESSender{client: client, from: from, logger: logger}
}

// NewSESSenderFromConfig builds the SES client from an AWS config.
func NewSESSenderFromConfig(cfg aws.Config, from string, logger *zap.Logger) *SESSender {
	return NewSESSender(ses.NewFromConfig(cfg), from, logger)
}

func (s *SESSender) Send(ctx context.Context, msg *Message) error {
	if msg.Channel != ChannelEmail {
		return fmt.Errorf("ses sender only supports email, got %q", msg.Channel)
	}
	if msg.To == "" || msg.Subject == "" || msg.Body == "" {
		return errors.New("email message needs to, subject and body")
	}

	out, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &sestypes.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("id", msg.ID.String()),
		zap.String("kind", string(msg.Kind)),
		zap.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil
}

func (s *SESSender) SupportsChannel(ch Channel) bool {
	return ch == ChannelEmail
}

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender delivers SMS through Amazon SNS direct publish.
type SNSSender struct {
	client SNSAPI
	logger *zap.Logger
}

func NewSNSSender(client SNSAPI, logger *zap.Logger) *SNSSender {
	return &SNSSender{client: client, logger: logger}
}

// NewSNSSenderFromConfig builds the SNS client from an AWS config.
func NewSNSSenderFromConfig(cfg aws.Config, logger *zap.Logger) *SNSSender {
	return NewSNSSender(sns.NewFromConfig(cfg), logger)
}

func (s *SNSSender) Send(ctx context.Context, msg *Message) error {
	if msg.Channel != ChannelSMS {
		return fmt.Errorf("sns sender only supports sms, got %q", msg.Channel)
	}
	if msg.To == "" || msg.Body == "" {
		return errors.New("sms message needs to and body")
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(msg.To),
		Message:     aws.String(msg.Body),
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}

	s.logger.Info("sms sent via SNS",
		zap.String("id", msg.ID.String()),
		zap.String("kind", string(msg.Kind)),
		zap.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil
}

func (s *SNSSender) SupportsChannel(ch Channel) bool {
	return ch == ChannelSMS
}
