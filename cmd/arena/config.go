package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"botarena/internal/arena/artifact"
	"botarena/internal/arena/liveboard"
	"botarena/internal/arena/match"
	"botarena/internal/arena/matchmaker"
	"botarena/internal/arena/sandbox"
	"botarena/internal/arena/scheduler"
	"botarena/internal/arena/server"
	"botarena/internal/common/cache"
	"botarena/internal/common/db"
	"botarena/internal/common/mq"
	"botarena/internal/common/storage"
	"botarena/pkg/utils/logger"

	"github.com/caarlos0/env/v11"
	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath      = "configs/arena.yaml"
	envPrefix              = "ARENA_"
	defaultShutdownTimeout = 15 * time.Second
)

// Broker names accepted by events.broker.
const (
	brokerNone  = "none"
	brokerKafka = "kafka"
	brokerNATS  = "nats"
)

// KafkaConfig mirrors mq.KafkaConfig with YAML-friendly acks and compression.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" env:"BROKERS" envSeparator:","`
	ClientID     string        `yaml:"clientID"`
	MinBytes     int           `yaml:"minBytes"`
	MaxBytes     int           `yaml:"maxBytes"`
	MaxWait      time.Duration `yaml:"maxWait"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	RequiredAcks int           `yaml:"requiredAcks"`
	Compression  string        `yaml:"compression"`

	// AutoCreateTopics creates the fight, dead-letter and match-finished topics at startup.
	AutoCreateTopics  bool `yaml:"autoCreateTopics" env:"AUTO_CREATE_TOPICS"`
	Partitions        int  `yaml:"partitions"`
	ReplicationFactor int  `yaml:"replicationFactor"`
}

// EventsConfig selects the broker for match events and fight requests.
type EventsConfig struct {
	Broker             string `yaml:"broker" env:"BROKER"`
	MatchFinishedTopic string `yaml:"matchFinishedTopic"`
}

// DatabaseConfig adds schema handling to the connection settings.
type DatabaseConfig struct {
	db.Config   `yaml:",inline"`
	AutoMigrate bool `yaml:"autoMigrate" env:"AUTO_MIGRATE"`
}

// LiveBoardConfig controls the Redis mirror of running matches.
type LiveBoardConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// AppConfig holds the arena configuration.
type AppConfig struct {
	Logger    logger.Config       `yaml:"logger"`
	Database  DatabaseConfig      `yaml:"database" envPrefix:"DATABASE_"`
	Redis     cache.RedisConfig   `yaml:"redis" envPrefix:"REDIS_"`
	LiveBoard LiveBoardConfig     `yaml:"liveBoard"`
	Events    EventsConfig        `yaml:"events" envPrefix:"EVENTS_"`
	Kafka     KafkaConfig         `yaml:"kafka" envPrefix:"KAFKA_"`
	NATS      mq.NATSConfig       `yaml:"nats" envPrefix:"NATS_"`
	MinIO     storage.MinIOConfig `yaml:"minio" envPrefix:"MINIO_"`
	Artifacts artifact.Config     `yaml:"artifacts" envPrefix:"ARTIFACTS_"`
	Sandbox   sandbox.Config      `yaml:"sandbox" envPrefix:"SANDBOX_"`
	Match     match.Config        `yaml:"match"`
	// OpeningBook is a file of starting positions; empty means the standard start.
	OpeningBook string            `yaml:"openingBook" env:"OPENING_BOOK"`
	Matchmaker  matchmaker.Config `yaml:"matchmaker"`
	Scheduler   scheduler.Config  `yaml:"scheduler" envPrefix:"SCHEDULER_"`
	Server      server.Config     `yaml:"server" envPrefix:"SERVER_"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads path, applies ARENA_* environment overrides and fills defaults.
// A missing file at the default path is not an error.
func loadAppConfig(path string) (*AppConfig, error) {
	cfg := AppConfig{
		Sandbox:    sandbox.DefaultConfig(),
		Matchmaker: matchmaker.DefaultConfig(),
		Scheduler:  scheduler.DefaultConfig(),
		Server:     server.DefaultConfig(),
	}
	if err := loadYAML(path, &cfg); err != nil {
		if !(path == defaultConfigPath && errors.Is(err, os.ErrNotExist)) {
			return nil, err
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) error {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = db.DriverSQLite
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr != "" {
		applyRedisDefaults(&cfg.Redis)
	}
	if cfg.LiveBoard.TTL <= 0 {
		cfg.LiveBoard.TTL = liveboard.DefaultTTL
	}

	cfg.Events.Broker = strings.ToLower(strings.TrimSpace(cfg.Events.Broker))
	switch cfg.Events.Broker {
	case "":
		cfg.Events.Broker = brokerNone
	case brokerNone, brokerKafka, brokerNATS:
	default:
		return fmt.Errorf("unknown events broker %q", cfg.Events.Broker)
	}
	if cfg.Events.Broker == brokerKafka && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}
	if cfg.Events.Broker == brokerNATS && cfg.NATS.URL == "" {
		return fmt.Errorf("nats url is required")
	}

	if cfg.Artifacts.Backend == "minio" && cfg.Artifacts.Bucket == "" {
		cfg.Artifacts.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Artifacts.Backend != "minio" && cfg.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts dir is required for the local backend")
	}
	return nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	cfg := mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		ReadTimeout:  k.ReadTimeout,
		WriteTimeout: k.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),

		Partitions:        k.Partitions,
		ReplicationFactor: k.ReplicationFactor,
	}
	cfg.Compression = parseCompression(k.Compression)
	return cfg
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}
