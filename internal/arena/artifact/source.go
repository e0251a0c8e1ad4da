// Package artifact fetches bot executables and their support files by name.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"botarena/internal/common/storage"
	appErr "botarena/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

// Source opens an artifact by name. Missing names report appErr.ArtifactNotFound.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Config selects and configures the artifact backend.
type Config struct {
	// Backend is "local" or "minio".
	Backend string `yaml:"backend" env:"BACKEND"`
	Dir     string `yaml:"dir" env:"DIR"`
	Bucket  string `yaml:"bucket" env:"BUCKET"`
	Prefix  string `yaml:"prefix"`
	// Compressed marks objects as zstd frames stored under "<name>.zst".
	Compressed bool        `yaml:"compressed"`
	Cache      CacheConfig `yaml:"cache"`
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) || strings.ContainsRune(name, '/') {
		return appErr.ValidationError("artifact", "invalid name "+name)
	}
	return nil
}

func notFound(name string, cause error) error {
	return appErr.Wrapf(cause, appErr.ArtifactNotFound, "artifact %s not found", name)
}

// LocalSource reads artifacts from a directory, as produced by the compiler on the same host.
type LocalSource struct {
	dir string
}

func NewLocalSource(dir string) *LocalSource {
	return &LocalSource{dir: dir}
}

func (s *LocalSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound(name, err)
		}
		return nil, appErr.Wrapf(err, appErr.SandboxError, "open artifact %s", name)
	}
	return f, nil
}

// Upload writes data as name, replacing any previous artifact atomically.
func (s *LocalSource) Upload(_ context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.SandboxError, "create artifact dir")
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return appErr.Wrapf(err, appErr.SandboxError, "upload artifact %s", name)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return appErr.Wrapf(err, appErr.SandboxError, "upload artifact %s", name)
	}
	if err := tmp.Chmod(0o755); err != nil {
		_ = tmp.Close()
		return appErr.Wrapf(err, appErr.SandboxError, "upload artifact %s", name)
	}
	if err := tmp.Close(); err != nil {
		return appErr.Wrapf(err, appErr.SandboxError, "upload artifact %s", name)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return appErr.Wrapf(err, appErr.SandboxError, "upload artifact %s", name)
	}
	return nil
}

// ObjectSource reads artifacts from an object store bucket.
type ObjectSource struct {
	store      storage.ObjectStorage
	bucket     string
	prefix     string
	compressed bool
}

func NewObjectSource(store storage.ObjectStorage, cfg Config) *ObjectSource {
	return &ObjectSource{store: store, bucket: cfg.Bucket, prefix: cfg.Prefix, compressed: cfg.Compressed}
}

func (s *ObjectSource) key(name string) string {
	key := path.Join(s.prefix, name)
	if s.compressed {
		key += ".zst"
	}
	return key
}

func (s *ObjectSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	rc, err := s.store.GetObject(ctx, s.bucket, s.key(name))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, notFound(name, err)
		}
		return nil, appErr.Wrapf(err, appErr.SandboxError, "download artifact %s", name)
	}
	if !s.compressed {
		return rc, nil
	}
	dec, err := zstd.NewReader(rc)
	if err != nil {
		_ = rc.Close()
		return nil, appErr.Wrapf(err, appErr.ArtifactCorrupted, "open zstd stream for %s", name)
	}
	return &decodedReader{dec: dec, raw: rc}, nil
}

// Upload stores an artifact under name, compressing it when configured.
func (s *ObjectSource) Upload(ctx context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	contentType := "application/octet-stream"
	if s.compressed {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return appErr.Wrap(err, appErr.InternalServerError)
		}
		data = enc.EncodeAll(data, nil)
		_ = enc.Close()
		contentType = "application/zstd"
	}
	if err := s.store.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return appErr.Wrapf(err, appErr.SandboxError, "upload artifact %s", name)
	}
	return nil
}

type decodedReader struct {
	dec *zstd.Decoder
	raw io.Closer
}

func (r *decodedReader) Read(p []byte) (int, error) { return r.dec.Read(p) }

func (r *decodedReader) Close() error {
	r.dec.Close()
	return r.raw.Close()
}

// Uploader stores artifacts for later matches.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) error
}

// NewUploader returns the writer for the configured backend. Cached copies are keyed by
// content hash, so a new upload never needs to invalidate them.
func NewUploader(cfg Config, store storage.ObjectStorage) (Uploader, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalSource(cfg.Dir), nil
	case "minio":
		if store == nil {
			return nil, appErr.New(appErr.InvalidParams).WithMessage("minio backend requires object storage")
		}
		return NewObjectSource(store, cfg), nil
	default:
		return nil, appErr.Newf(appErr.InvalidParams, "unknown artifact backend %q", cfg.Backend)
	}
}

// New builds the configured source, behind a BadgerCache when a cache dir is set.
// The returned closer releases the cache.
func New(cfg Config, store storage.ObjectStorage) (Source, io.Closer, error) {
	var src Source
	switch cfg.Backend {
	case "", "local":
		src = NewLocalSource(cfg.Dir)
	case "minio":
		if store == nil {
			return nil, nil, appErr.New(appErr.InvalidParams).WithMessage("minio backend requires object storage")
		}
		src = NewObjectSource(store, cfg)
	default:
		return nil, nil, appErr.Newf(appErr.InvalidParams, "unknown artifact backend %q", cfg.Backend)
	}
	if cfg.Cache.Dir == "" {
		return src, io.NopCloser(nil), nil
	}
	cache, err := NewBadgerCache(cfg.Cache, src)
	if err != nil {
		return nil, nil, err
	}
	return cache, cache, nil
}
