package mq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type recordingProducer struct {
	mu       sync.Mutex
	topics   []string
	messages []*Message
}

func (p *recordingProducer) Publish(_ context.Context, topic string, m *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, m)
	return nil
}

func TestDeliverRetriesThenDeadLetters(t *testing.T) {
	t.Parallel()
	producer := &recordingProducer{}
	calls := 0
	handler := func(context.Context, *Message) error {
		calls++
		return errors.New("fail")
	}
	opts := SubscribeOptions{MaxRetries: 2, RetryDelay: time.Millisecond, DeadLetterTopic: "dlq"}

	deliver(context.Background(), "arena.fight.requested", NewMessage([]byte("x")), handler, opts, producer)

	// NewMessage sets MaxRetries to 3, which wins over the subscription default.
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
	if len(producer.topics) != 1 || producer.topics[0] != "dlq" {
		t.Fatalf("expected one dead letter, got %v", producer.topics)
	}
	dead := producer.messages[0]
	if v, _ := dead.GetHeader(HeaderDeadReason); v != "fail" {
		t.Fatalf("expected dead reason %q, got %q", "fail", v)
	}
	if v, _ := dead.GetHeader(HeaderOriginTopic); v != "arena.fight.requested" {
		t.Fatalf("expected origin topic, got %q", v)
	}
}

func TestDeliverDropsExpired(t *testing.T) {
	t.Parallel()
	msg := &Message{Timestamp: time.Now().Add(-time.Hour)}
	called := false
	deliver(context.Background(), "arena.fight.requested", msg, func(context.Context, *Message) error {
		called = true
		return nil
	}, SubscribeOptions{MessageTTL: time.Minute}, nil)
	if called {
		t.Fatalf("expired message must not reach the handler")
	}
}

func TestDeliverStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	deliver(ctx, "arena.fight.requested", &Message{MaxRetries: 100}, func(context.Context, *Message) error {
		calls++
		cancel()
		return errors.New("fail")
	}, SubscribeOptions{RetryDelay: time.Hour}, nil)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestKafkaHeadersRoundTrip(t *testing.T) {
	t.Parallel()
	in := &Message{
		ID:         "m-1",
		Key:        "match-42",
		Body:       []byte(`{"white_id":1}`),
		Headers:    map[string]string{"type": "fight.requested"},
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		RetryCount: 1,
		MaxRetries: 5,
		Expiration: 30 * time.Second,
	}
	km := toKafkaMessage("arena.fight.requested", in)
	if string(km.Key) != "match-42" {
		t.Fatalf("expected partition key match-42, got %q", km.Key)
	}
	out := fromKafkaMessage(km)
	if out.Key != "match-42" || out.ID != in.ID || out.RetryCount != 1 || out.MaxRetries != 5 || out.Expiration != 30*time.Second {
		t.Fatalf("metadata lost: %+v", out)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Fatalf("expected %v, got %v", in.Timestamp, out.Timestamp)
	}
	if v, _ := out.GetHeader("type"); v != "fight.requested" {
		t.Fatalf("custom header lost: %v", out.Headers)
	}
}

func TestKafkaKeyFallsBackToID(t *testing.T) {
	t.Parallel()
	km := toKafkaMessage("arena.fight.requested", &Message{ID: "req-7", Body: []byte("{}")})
	if string(km.Key) != "req-7" {
		t.Fatalf("expected key req-7, got %q", km.Key)
	}
	// Messages from foreign producers carry only the record key.
	bare := fromKafkaMessage(kafka.Message{Key: []byte("req-8"), Value: []byte("{}")})
	if bare.ID != "req-8" || bare.Key != "req-8" {
		t.Fatalf("expected id and key from record key, got %+v", bare)
	}
}

func TestMalformedMetadataIsDropped(t *testing.T) {
	t.Parallel()
	m := &Message{}
	m.setHeader(headerRetryCount, "-3")
	m.setHeader(headerExpiration, "soon")
	m.setHeader("x-trace", "abc")
	if m.RetryCount != 0 || m.Expiration != 0 {
		t.Fatalf("malformed fields must be ignored: %+v", m)
	}
	if v, _ := m.GetHeader("x-trace"); v != "abc" {
		t.Fatalf("custom header lost: %v", m.Headers)
	}
}

func TestPrepareSubscriptionDefaults(t *testing.T) {
	t.Parallel()
	opts, err := prepareSubscription("arena.fight.requested", func(context.Context, *Message) error { return nil }, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.ConsumerGroup != "arena-arena.fight.requested" || opts.Concurrency != 1 || opts.MaxRetries != 3 {
		t.Fatalf("unexpected defaults %+v", opts)
	}
	if _, err := prepareSubscription("", func(context.Context, *Message) error { return nil }, nil); err == nil {
		t.Fatalf("expected error for empty topic")
	}
	if _, err := prepareSubscription("t", nil, nil); err == nil {
		t.Fatalf("expected error for nil handler")
	}
}

func TestNATSHeadersCarryMetadata(t *testing.T) {
	t.Parallel()
	in := NewMessage([]byte("body"))
	in.ID = "m-2"
	in.Key = "match-9"
	in.SetHeader("type", "match.finished")
	out := fromNATSMessage(toNATSMessage("arena.match.finished", in))
	if out.ID != "m-2" || out.Key != "match-9" || string(out.Body) != "body" || out.MaxRetries != 3 {
		t.Fatalf("metadata lost: %+v", out)
	}
	if v, _ := out.GetHeader("type"); v != "match.finished" {
		t.Fatalf("custom header lost: %v", out.Headers)
	}
}

func TestTokenLimiter(t *testing.T) {
	t.Parallel()
	l := NewTokenLimiter(2)
	if !l.TryAcquire() || !l.TryAcquire() {
		t.Fatalf("expected two free tokens")
	}
	if l.TryAcquire() {
		t.Fatalf("expected limiter to be exhausted")
	}
	if l.InUse() != 2 {
		t.Fatalf("expected 2 in use, got %d", l.InUse())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	l.Release()
	l.Release()
	l.Release()
	if l.InUse() != 0 {
		t.Fatalf("extra release must not overfill, in use %d", l.InUse())
	}
}

func TestNewKafkaQueueDefaults(t *testing.T) {
	t.Parallel()
	if _, err := NewKafkaQueue(KafkaConfig{}); err == nil {
		t.Fatalf("expected error without brokers")
	}
	q, err := NewKafkaQueue(KafkaConfig{Brokers: []string{"127.0.0.1:1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer q.Close()
	if q.config.RequiredAcks != kafka.RequireAll || q.config.Partitions != 3 || q.config.ClientID != "botarena" {
		t.Fatalf("unexpected defaults %+v", q.config)
	}
	if _, ok := q.writer.Balancer.(*kafka.Hash); !ok {
		t.Fatalf("expected key-hash balancer, got %T", q.writer.Balancer)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.EnsureTopics(ctx, "arena.fight.requested"); err == nil {
		t.Fatalf("expected unreachable broker error")
	}
}
