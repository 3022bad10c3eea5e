package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/notify"
)

type fakeAPI struct {
	sent       []*sqs.SendMessageInput
	sendErr    error
	received   []types.Message
	deleted    []string
	visibility map[string]int32
}

func (f *fakeAPI) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeAPI) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	msgs := f.received
	f.received = nil
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeAPI) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	if f.visibility == nil {
		f.visibility = map[string]int32{}
	}
	f.visibility[aws.ToString(in.ReceiptHandle)] = in.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func testMessage() *notify.Message {
	return &notify.Message{
		ID:             uuid.New(),
		Kind:           notify.KindStatusChanged,
		Channel:        notify.ChannelSMS,
		To:             "+258841234567",
		Body:           "publicado",
		AnnouncementID: 7,
	}
}

func TestProducer_Dispatch(t *testing.T) {
	api := &fakeAPI{}
	p := NewProducer(api, "https://sqs/queue", zap.NewNop())
	msg := testMessage()

	if err := p.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(api.sent))
	}
	in := api.sent[0]
	if aws.ToString(in.QueueUrl) != "https://sqs/queue" {
		t.Errorf("unexpected queue %q", aws.ToString(in.QueueUrl))
	}
	if got := aws.ToString(in.MessageAttributes["channel"].StringValue); got != "sms" {
		t.Errorf("channel attribute = %q, want sms", got)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &env); err != nil {
		t.Fatalf("body is not an envelope: %v", err)
	}
	if env.Message.ID != msg.ID || env.Message.AnnouncementID != 7 || env.EnqueuedAt == 0 {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestProducer_DispatchError(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("throttled")}
	p := NewProducer(api, "q", zap.NewNop())
	if err := p.Dispatch(context.Background(), testMessage()); !errors.Is(err, api.sendErr) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}

func TestConsumer_Receive(t *testing.T) {
	msg := testMessage()
	body, _ := json.Marshal(Envelope{Message: *msg})

	api := &fakeAPI{received: []types.Message{
		{
			Body:          aws.String(string(body)),
			ReceiptHandle: aws.String("r-1"),
			Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
		},
		{
			Body:          aws.String("not json"),
			ReceiptHandle: aws.String("r-bad"),
		},
	}}
	c := NewConsumer(api, Config{QueueURL: "q"}, zap.NewNop())

	got, err := c.Receive(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one decodable delivery, got %d", len(got))
	}
	if got[0].Message.ID != msg.ID || got[0].ReceiptHandle != "r-1" || got[0].ReceiveCount != 3 {
		t.Errorf("unexpected delivery: %+v", got[0])
	}
	if len(api.deleted) != 1 || api.deleted[0] != "r-bad" {
		t.Errorf("undecodable message should be deleted, got %v", api.deleted)
	}
}

func TestConsumer_Delay(t *testing.T) {
	api := &fakeAPI{}
	c := NewConsumer(api, Config{QueueURL: "q"}, zap.NewNop())

	if err := c.Delay(context.Background(), "r-1", 5*time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.visibility["r-1"] != 300 {
		t.Errorf("visibility = %d, want 300", api.visibility["r-1"])
	}
}

func TestConsumer_DeadLetter(t *testing.T) {
	tests := []struct {
		name      string
		dlq       string
		wantSends int
	}{
		{"with dlq", "https://sqs/dlq", 1},
		{"without dlq", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			c := NewConsumer(api, Config{QueueURL: "q", DLQURL: tt.dlq}, zap.NewNop())
			d := Delivery{Message: testMessage(), ReceiptHandle: "r-9", ReceiveCount: 3}

			if err := c.DeadLetter(context.Background(), d, "sns down"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(api.sent) != tt.wantSends {
				t.Errorf("sends = %d, want %d", len(api.sent), tt.wantSends)
			}
			if tt.wantSends == 1 && aws.ToString(api.sent[0].QueueUrl) != tt.dlq {
				t.Errorf("dead letter sent to %q", aws.ToString(api.sent[0].QueueUrl))
			}
			if len(api.deleted) != 1 || api.deleted[0] != "r-9" {
				t.Errorf("message should leave the main queue, deleted %v", api.deleted)
			}
		})
	}
}
