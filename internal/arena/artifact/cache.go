package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"time"

	appErr "botarena/pkg/errors"
	"botarena/pkg/utils/logger"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const keyPrefix = "artifact:"

// CacheConfig controls the local read-through cache. An empty Dir disables it.
type CacheConfig struct {
	Dir      string        `yaml:"dir" env:"CACHE_DIR"`
	TTL      time.Duration `yaml:"ttl"`
	MaxBytes int64         `yaml:"maxBytes"`
}

// BadgerCache keeps artifacts from a slower Source on local disk. Each value is a
// sha256 digest of the content followed by the zstd-compressed content.
type BadgerCache struct {
	db       *badger.DB
	inner    Source
	ttl      time.Duration
	maxBytes int64
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// NewBadgerCache opens the cache directory. Pass an empty dir for an in-memory cache.
func NewBadgerCache(cfg CacheConfig, inner Source) (*BadgerCache, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.Dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "open artifact cache")
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, appErr.Wrap(err, appErr.CacheError)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		_ = db.Close()
		return nil, appErr.Wrap(err, appErr.CacheError)
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 256 << 20
	}
	return &BadgerCache{db: db, inner: inner, ttl: cfg.TTL, maxBytes: cfg.MaxBytes, enc: enc, dec: dec}, nil
}

func (c *BadgerCache) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	data, err := c.lookup(name)
	switch {
	case err == nil:
		return io.NopCloser(bytes.NewReader(data)), nil
	case appErr.Is(err, appErr.ArtifactCorrupted):
		logger.Warn(ctx, "dropping corrupted cached artifact", zap.String("name", name), zap.Error(err))
		c.evict(name)
	case !errors.Is(err, badger.ErrKeyNotFound):
		logger.Warn(ctx, "artifact cache read failed", zap.String("name", name), zap.Error(err))
	}

	data, err = c.fetch(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := c.store(name, data); err != nil {
		logger.Warn(ctx, "artifact cache write failed", zap.String("name", name), zap.Error(err))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *BadgerCache) fetch(ctx context.Context, name string) ([]byte, error) {
	rc, err := c.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, c.maxBytes+1))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxError, "read artifact %s", name)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, appErr.Newf(appErr.SandboxError, "artifact %s exceeds %d bytes", name, c.maxBytes)
	}
	return data, nil
}

func (c *BadgerCache) lookup(name string) ([]byte, error) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + name))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(raw) < sha256.Size {
		return nil, appErr.New(appErr.ArtifactCorrupted)
	}
	data, err := c.dec.DecodeAll(raw[sha256.Size:], nil)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.ArtifactCorrupted)
	}
	sum := sha256.Sum256(data)
	if !bytes.Equal(sum[:], raw[:sha256.Size]) {
		return nil, appErr.New(appErr.ArtifactCorrupted)
	}
	return data, nil
}

func (c *BadgerCache) store(name string, data []byte) error {
	sum := sha256.Sum256(data)
	value := c.enc.EncodeAll(data, sum[:])
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+name), value)
		if c.ttl > 0 {
			entry = entry.WithTTL(c.ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (c *BadgerCache) evict(name string) {
	_ = c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + name))
	})
}

func (c *BadgerCache) Close() error {
	c.dec.Close()
	_ = c.enc.Close()
	return c.db.Close()
}
