package mq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"botarena/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	fetchBackoffMin = 100 * time.Millisecond
	fetchBackoffMax = 5 * time.Second
)

// KafkaConfig defines configuration for Kafka implementation.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
	ClientID string   `yaml:"clientID"`

	RequiredAcks kafka.RequiredAcks `yaml:"-"`
	BatchSize    int                `yaml:"batchSize"`
	BatchTimeout time.Duration      `yaml:"batchTimeout"`
	Compression  kafka.Compression  `yaml:"-"`

	MinBytes int           `yaml:"minBytes"`
	MaxBytes int           `yaml:"maxBytes"`
	MaxWait  time.Duration `yaml:"maxWait"`

	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`

	// Partitions and ReplicationFactor are used by EnsureTopics.
	Partitions        int `yaml:"partitions"`
	ReplicationFactor int `yaml:"replicationFactor"`
}

func (c *KafkaConfig) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "botarena"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout == 0 {
		// Match events are few and latency matters more than batching.
		c.BatchTimeout = 10 * time.Millisecond
	}
	if c.MinBytes == 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = 1 << 20
	}
	if c.MaxWait == 0 {
		c.MaxWait = time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = kafka.RequireAll
	}
	if c.Partitions <= 0 {
		c.Partitions = 3
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
}

// KafkaQueue implements MessageQueue on Kafka. Messages are partitioned by Message.Key,
// so every event of one match stays in order on one partition.
type KafkaQueue struct {
	config KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu      sync.Mutex
	readers []*kafkaReader
	started bool
	closed  bool
}

// kafkaReader is one consumer-group subscription: a fetch loop feeding a worker pool.
type kafkaReader struct {
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	parent  context.Context

	reader *kafka.Reader
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKafkaQueue creates a Kafka-backed message queue.
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	cfg.applyDefaults()

	dialer := &kafka.Dialer{ClientID: cfg.ClientID, Timeout: cfg.DialTimeout, DualStack: true}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: cfg.RequiredAcks,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Compression:  cfg.Compression,
		Transport: &kafka.Transport{
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, address)
			},
			ClientID: cfg.ClientID,
		},
	}
	return &KafkaQueue{config: cfg, writer: writer, dialer: dialer}, nil
}

// EnsureTopics creates the arena topics that do not exist yet.
func (k *KafkaQueue) EnsureTopics(ctx context.Context, topics ...string) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka: %w", err)
	}
	defer conn.Close()
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find kafka controller: %w", err)
	}
	cconn, err := k.dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial kafka controller: %w", err)
	}
	defer cconn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	seen := make(map[string]bool, len(topics))
	for _, topic := range topics {
		if topic == "" || seen[topic] {
			continue
		}
		seen[topic] = true
		configs = append(configs, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     k.config.Partitions,
			ReplicationFactor: k.config.ReplicationFactor,
		})
	}
	if len(configs) == 0 {
		return nil
	}
	if err := cconn.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topics: %w", err)
	}
	return nil
}

// Publish writes message to topic keyed by Message.Key, or by its id when unkeyed.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	if err := k.writer.WriteMessages(ctx, toKafkaMessage(topic, message)); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

func (k *KafkaQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc) error {
	return k.SubscribeWithOptions(ctx, topic, handler, nil)
}

func (k *KafkaQueue) SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	options, err := prepareSubscription(topic, handler, opts)
	if err != nil {
		return err
	}
	r := &kafkaReader{topic: topic, handler: handler, opts: options, parent: ctx}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	k.readers = append(k.readers, r)
	if k.started {
		k.run(r)
	}
	return nil
}

func (k *KafkaQueue) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	if !k.started {
		for _, r := range k.readers {
			k.run(r)
		}
		k.started = true
	}
	return nil
}

// Stop cancels every reader and waits for in-flight handlers; uncommitted
// messages are redelivered to the group later.
func (k *KafkaQueue) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, r := range k.readers {
		if r.cancel != nil {
			r.cancel()
		}
	}
	var errs []error
	for _, r := range k.readers {
		r.wg.Wait()
		if r.reader != nil {
			errs = append(errs, r.reader.Close())
			r.reader = nil
		}
	}
	k.started = false
	return errors.Join(errs...)
}

// Ping dials the first broker.
func (k *KafkaQueue) Ping(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	stopErr := k.Stop()
	return errors.Join(stopErr, k.writer.Close())
}

func (k *KafkaQueue) run(r *kafkaReader) {
	parent := r.parent
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	// A new group starts from the oldest retained request so fights queued
	// before the first worker came up are still played.
	r.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		Topic:       r.topic,
		GroupID:     r.opts.ConsumerGroup,
		Dialer:      k.dialer,
		MinBytes:    k.config.MinBytes,
		MaxBytes:    k.config.MaxBytes,
		MaxWait:     k.config.MaxWait,
		StartOffset: kafka.FirstOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(ctx, "kafka reader error", zap.String("topic", r.topic), zap.String("detail", fmt.Sprintf(msg, args...)))
		}),
	})

	fetched := make(chan kafka.Message, r.opts.Concurrency)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(fetched)
		r.fetch(ctx, fetched)
	}()
	for i := 0; i < r.opts.Concurrency; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for msg := range fetched {
				deliver(ctx, r.topic, fromKafkaMessage(msg), r.handler, r.opts, k)
				if ctx.Err() != nil {
					return
				}
				if err := r.reader.CommitMessages(ctx, msg); err != nil {
					logger.Warn(ctx, "kafka commit failed", zap.String("topic", r.topic),
						zap.Int64("offset", msg.Offset), zap.Error(err))
				}
			}
		}()
	}
}

func (r *kafkaReader) fetch(ctx context.Context, out chan<- kafka.Message) {
	backoff := fetchBackoffMin
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "kafka fetch failed", zap.String("topic", r.topic),
				zap.Duration("backoff", backoff), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, fetchBackoffMax)
			continue
		}
		backoff = fetchBackoffMin
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func toKafkaMessage(topic string, message *Message) kafka.Message {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	meta := metadataHeaders(message)
	headers := make([]kafka.Header, 0, len(meta))
	for k, v := range meta {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	key := message.Key
	if key == "" {
		key = message.ID
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   message.Body,
		Headers: headers,
		Time:    message.Timestamp,
	}
}

func fromKafkaMessage(msg kafka.Message) *Message {
	m := &Message{Body: msg.Value, Headers: make(map[string]string), Timestamp: msg.Time}
	for _, h := range msg.Headers {
		m.setHeader(h.Key, string(h.Value))
	}
	if m.Key == "" {
		m.Key = string(msg.Key)
	}
	if m.ID == "" {
		m.ID = m.Key
	}
	return m
}

var _ MessageQueue = (*KafkaQueue)(nil)
