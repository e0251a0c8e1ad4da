// Package events defines the arena's message-queue payloads.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"botarena/internal/arena/model"
	"botarena/internal/common/mq"
	appErr "botarena/pkg/errors"

	"github.com/google/uuid"
)

const (
	TopicMatchFinished  = "arena.match.finished"
	TopicFightRequested = "arena.fight.requested"

	headerEventType = "event-type"
	headerMatchID   = "match-id"
)

// MatchFinished is published once a match has been finalized.
type MatchFinished struct {
	MatchID    int64        `json:"match_id"`
	WhiteID    int64        `json:"white_id"`
	BlackID    int64        `json:"black_id"`
	Winner     model.Winner `json:"winner"`
	Reason     string       `json:"reason"`
	Rated      bool         `json:"rated"`
	WhiteDelta float64      `json:"white_delta"`
	BlackDelta float64      `json:"black_delta"`
	Plies      int          `json:"plies"`
	EndedAt    int64        `json:"ended_at"`
}

// FightRequest asks the arena to run a match. Zero ids let the matchmaker choose.
type FightRequest struct {
	RequestID string `json:"request_id"`
	WhiteID   int64  `json:"white_id,omitempty"`
	BlackID   int64  `json:"black_id,omitempty"`
}

// Explicit reports whether both sides were named by the requester.
func (r FightRequest) Explicit() bool {
	return r.WhiteID > 0 && r.BlackID > 0
}

// Publisher emits match lifecycle events.
type Publisher interface {
	PublishMatchFinished(ctx context.Context, ev MatchFinished) error
}

// MQPublisher publishes events through a message queue producer.
type MQPublisher struct {
	producer mq.Producer
	topic    string
}

func NewMQPublisher(producer mq.Producer, topic string) *MQPublisher {
	if topic == "" {
		topic = TopicMatchFinished
	}
	return &MQPublisher{producer: producer, topic: topic}
}

func (p *MQPublisher) PublishMatchFinished(ctx context.Context, ev MatchFinished) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if ev.EndedAt == 0 {
		ev.EndedAt = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return appErr.Wrap(err, appErr.PublishFailed)
	}
	msg := mq.NewMessage(payload)
	msg.ID = uuid.NewString()
	msg.Key = strconv.FormatInt(ev.MatchID, 10)
	msg.SetHeader(headerEventType, "match.finished")
	msg.SetHeader(headerMatchID, strconv.FormatInt(ev.MatchID, 10))
	if err := p.producer.Publish(ctx, p.topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "publish match %d finished", ev.MatchID)
	}
	return nil
}

// EncodeFightRequest builds the queue message for req, assigning a request id if missing.
func EncodeFightRequest(req FightRequest) (*mq.Message, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if (req.WhiteID > 0) != (req.BlackID > 0) {
		return nil, appErr.ValidationError("black_id", "both sides or neither must be given")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.InvalidFormat)
	}
	msg := mq.NewMessage(payload)
	msg.ID = req.RequestID
	msg.SetHeader(headerEventType, "fight.requested")
	return msg, nil
}

// DecodeFightRequest parses a fight request message.
func DecodeFightRequest(msg *mq.Message) (FightRequest, error) {
	var req FightRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		return FightRequest{}, appErr.Wrap(err, appErr.InvalidFormat)
	}
	if req.RequestID == "" {
		req.RequestID = msg.ID
	}
	if req.WhiteID < 0 || req.BlackID < 0 || (req.WhiteID > 0) != (req.BlackID > 0) {
		return FightRequest{}, appErr.ValidationError("fight_request", "invalid bot ids")
	}
	return req, nil
}
