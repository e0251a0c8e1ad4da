package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"botarena/internal/arena/model"
	"botarena/internal/common/mq"
	appErr "botarena/pkg/errors"
)

type recordingProducer struct {
	topic string
	msgs  []*mq.Message
	err   error
}

func (p *recordingProducer) Publish(_ context.Context, topic string, m *mq.Message) error {
	if p.err != nil {
		return p.err
	}
	p.topic = topic
	p.msgs = append(p.msgs, m)
	return nil
}

func TestPublishMatchFinished(t *testing.T) {
	t.Parallel()
	prod := &recordingProducer{}
	pub := NewMQPublisher(prod, "")

	ev := MatchFinished{MatchID: 9, WhiteID: 1, BlackID: 2, Winner: model.WinnerWhite, Reason: "Checkmate", Rated: true, WhiteDelta: 16, BlackDelta: -16}
	if err := pub.PublishMatchFinished(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if prod.topic != TopicMatchFinished {
		t.Fatalf("unexpected topic %q", prod.topic)
	}
	msg := prod.msgs[0]
	if msg.ID == "" {
		t.Fatalf("expected message id")
	}
	if msg.Key != "9" {
		t.Fatalf("expected partition key 9, got %q", msg.Key)
	}
	if id, _ := msg.GetHeader(headerMatchID); id != "9" {
		t.Fatalf("unexpected match header %q", id)
	}
	var got MatchFinished
	if err := json.Unmarshal(msg.Body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Reason != "Checkmate" || got.WhiteDelta != 16 || got.EndedAt == 0 {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestPublishFailureIsCoded(t *testing.T) {
	t.Parallel()
	boom := errors.New("broker down")
	pub := NewMQPublisher(&recordingProducer{err: boom}, "custom")
	err := pub.PublishMatchFinished(context.Background(), MatchFinished{MatchID: 1})
	if !errors.Is(err, boom) || !appErr.Is(err, appErr.PublishFailed) {
		t.Fatalf("expected coded publish error, got %v", err)
	}
	var nilPub *MQPublisher
	if err := nilPub.PublishMatchFinished(context.Background(), MatchFinished{}); err == nil {
		t.Fatalf("expected error from unconfigured publisher")
	}
}

func TestFightRequestCodec(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		req     FightRequest
		wantErr bool
	}{
		{"explicit", FightRequest{WhiteID: 1, BlackID: 2}, false},
		{"matchmaker", FightRequest{}, false},
		{"half specified", FightRequest{WhiteID: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := EncodeFightRequest(tt.req)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := DecodeFightRequest(msg)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.RequestID == "" || got.RequestID != msg.ID {
				t.Fatalf("request id not carried: %+v", got)
			}
			if got.Explicit() != tt.req.Explicit() || got.WhiteID != tt.req.WhiteID {
				t.Fatalf("unexpected request %+v", got)
			}
		})
	}

	if _, err := DecodeFightRequest(&mq.Message{Body: []byte("{")}); !appErr.Is(err, appErr.InvalidFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
	if _, err := DecodeFightRequest(&mq.Message{Body: []byte(`{"white_id":-1,"black_id":2}`)}); err == nil {
		t.Fatalf("expected validation error")
	}
}
