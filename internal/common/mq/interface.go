package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"botarena/pkg/utils/logger"

	"go.uber.org/zap"
)

// MessageQueue is implemented by the Kafka and NATS backends.
type MessageQueue interface {
	Producer
	Consumer

	// Ping verifies the message queue connection is alive
	Ping(ctx context.Context) error

	// Close stops consumers and releases the connection
	Close() error
}

// Producer defines the interface for publishing messages
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer defines the interface for consuming messages
type Consumer interface {
	// Subscribe registers handler for topic. Consumption begins at Start.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc) error

	SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error

	Start() error

	// Stop cancels consumers and waits for in-flight handlers.
	Stop() error
}

// Message represents a message in the queue
type Message struct {
	ID string `json:"id"`
	// Key groups related messages, e.g. every event of one match; Kafka partitions by it.
	Key       string            `json:"key,omitempty"`
	Body      []byte            `json:"body"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Expiration drops the message when it is older than this on delivery.
	Expiration time.Duration `json:"expiration"`
}

// HandlerFunc processes one message; a non-nil error triggers a retry.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions defines options for subscribing to a topic
type SubscribeOptions struct {
	// ConsumerGroup is the Kafka group id or the NATS queue group.
	ConsumerGroup string

	// Concurrency sets the number of concurrent workers
	// Default: 1
	Concurrency int

	// MaxRetries sets the maximum number of retries for failed messages
	// Default: 3
	MaxRetries int

	// RetryDelay sets the delay between retries
	// Default: 1 second
	RetryDelay time.Duration

	// DeadLetterTopic is where messages go after max retries
	DeadLetterTopic string

	MessageTTL time.Duration
}

// SetDefaults sets default values for subscribe options
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency == 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage creates a new message with the given body
func NewMessage(body []byte) *Message {
	return &Message{
		Body:       body,
		Headers:    make(map[string]string),
		Timestamp:  time.Now(),
		MaxRetries: 3,
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}

func prepareSubscription(topic string, handler HandlerFunc, opts *SubscribeOptions) (SubscribeOptions, error) {
	if topic == "" {
		return SubscribeOptions{}, errors.New("topic is required")
	}
	if handler == nil {
		return SubscribeOptions{}, errors.New("handler is required")
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = fmt.Sprintf("arena-%s", topic)
	}
	return options, nil
}

// deliver runs handler with retries. It returns once the message is handled, expired,
// dead-lettered or ctx is done; the caller acknowledges afterwards. Dead letters carry
// the last handler error and the topic they came from.
func deliver(ctx context.Context, topic string, m *Message, handler HandlerFunc, opts SubscribeOptions, producer Producer) {
	if m.MaxRetries == 0 {
		m.MaxRetries = opts.MaxRetries
	}
	if m.Expiration == 0 && opts.MessageTTL > 0 {
		m.Expiration = opts.MessageTTL
	}
	if m.Expiration > 0 && !m.Timestamp.IsZero() && time.Since(m.Timestamp) > m.Expiration {
		logger.Debug(ctx, "dropping expired message", zap.String("topic", topic), zap.String("message_id", m.ID))
		return
	}
	for {
		err := handler(ctx, m)
		if err == nil {
			return
		}
		m.RetryCount++
		if m.RetryCount > m.MaxRetries {
			logger.Warn(ctx, "message exhausted retries", zap.String("topic", topic),
				zap.String("message_id", m.ID), zap.Int("retries", m.MaxRetries), zap.Error(err))
			if opts.DeadLetterTopic != "" && producer != nil {
				m.SetHeader(HeaderDeadReason, err.Error())
				m.SetHeader(HeaderOriginTopic, topic)
				if perr := producer.Publish(ctx, opts.DeadLetterTopic, m); perr != nil {
					logger.Error(ctx, "dead letter publish failed", zap.String("topic", opts.DeadLetterTopic), zap.Error(perr))
				}
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(opts.RetryDelay):
		}
	}
}
