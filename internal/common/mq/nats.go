package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures the NATS backend.
type NATSConfig struct {
	URL           string        `yaml:"url" env:"URL"`
	Name          string        `yaml:"name"`
	ReconnectWait time.Duration `yaml:"reconnectWait"`
}

// NATSQueue implements MessageQueue over core NATS subjects.
// Queue groups give each message to one subscriber of the group.
type NATSQueue struct {
	nc *nats.Conn

	mu            sync.Mutex
	subscriptions []*natsSubscription
	started       bool
	closed        bool
}

type natsSubscription struct {
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	baseCtx context.Context

	sub    *nats.Subscription
	msgCh  chan *nats.Msg
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNATSQueue connects to the NATS server, reconnecting forever on loss.
func NewNATSQueue(cfg NATSConfig) (*NATSQueue, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "botarena"
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSQueue{nc: nc}, nil
}

// Publish sends message on subject topic with its metadata as NATS headers.
func (q *NATSQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.nc.PublishMsg(toNATSMessage(topic, message))
}

// Subscribe subscribes to a topic with default options.
func (q *NATSQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc) error {
	return q.SubscribeWithOptions(ctx, topic, handler, nil)
}

// SubscribeWithOptions subscribes to a topic with custom options.
func (q *NATSQueue) SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	options, err := prepareSubscription(topic, handler, opts)
	if err != nil {
		return err
	}

	sub := &natsSubscription{topic: topic, handler: handler, opts: options, baseCtx: ctx}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	q.subscriptions = append(q.subscriptions, sub)
	if q.started {
		return q.startSubscription(sub)
	}
	return nil
}

// Start starts all registered subscriptions.
func (q *NATSQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	if q.started {
		return nil
	}
	for _, sub := range q.subscriptions {
		if err := q.startSubscription(sub); err != nil {
			return err
		}
	}
	q.started = true
	return nil
}

func (q *NATSQueue) startSubscription(sub *natsSubscription) error {
	if sub.baseCtx == nil {
		sub.baseCtx = context.Background()
	}
	sub.ctx, sub.cancel = context.WithCancel(sub.baseCtx)
	sub.msgCh = make(chan *nats.Msg, sub.opts.Concurrency)

	s, err := q.nc.ChanQueueSubscribe(sub.topic, sub.opts.ConsumerGroup, sub.msgCh)
	if err != nil {
		sub.cancel()
		return fmt.Errorf("subscribe %s: %w", sub.topic, err)
	}
	sub.sub = s

	for i := 0; i < sub.opts.Concurrency; i++ {
		sub.wg.Add(1)
		go func() {
			defer sub.wg.Done()
			for {
				select {
				case <-sub.ctx.Done():
					return
				case msg := <-sub.msgCh:
					deliver(sub.ctx, sub.topic, fromNATSMessage(msg), sub.handler, sub.opts, q)
				}
			}
		}()
	}
	return nil
}

// Stop unsubscribes and waits for in-flight handlers.
func (q *NATSQueue) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, sub := range q.subscriptions {
		if sub.sub != nil {
			_ = sub.sub.Unsubscribe()
		}
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	for _, sub := range q.subscriptions {
		sub.wg.Wait()
	}
	q.started = false
	return nil
}

// Ping verifies the connection by flushing a round trip to the server.
func (q *NATSQueue) Ping(ctx context.Context) error {
	return q.nc.FlushWithContext(ctx)
}

// Close drains the connection after stopping consumers.
func (q *NATSQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	_ = q.Stop()
	return q.nc.Drain()
}

func toNATSMessage(subject string, message *Message) *nats.Msg {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	msg := nats.NewMsg(subject)
	msg.Data = message.Body
	for k, v := range metadataHeaders(message) {
		msg.Header.Set(k, v)
	}
	return msg
}

func fromNATSMessage(msg *nats.Msg) *Message {
	m := &Message{Body: msg.Data, Headers: make(map[string]string)}
	for key := range msg.Header {
		m.setHeader(key, msg.Header.Get(key))
	}
	return m
}

var _ MessageQueue = (*NATSQueue)(nil)
