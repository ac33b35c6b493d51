package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thruflo/knitron/internal/config"
)

// Cache stores chunk results by key.
type Cache interface {
	// Get returns the cached result for key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) (*Result, bool, error)
	Put(ctx context.Context, key string, res *Result) error
	Close() error
}

// Key identifies a chunk by everything that affects its result.
func Key(opts *Options) string {
	h := sha256.New()
	for _, part := range []string{
		opts.Source(),
		opts.Device,
		opts.FigExt,
		strconv.FormatFloat(opts.FigWidth, 'g', -1, 64),
		strconv.FormatFloat(opts.FigHeight, 'g', -1, 64),
		strconv.FormatFloat(opts.DPI, 'g', -1, 64),
		opts.FigPath,
		opts.BaseDir,
		strconv.FormatBool(opts.WantsFigures()),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NewCache returns the cache selected by cfg.
func NewCache(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "", config.CacheBackendNone:
		return NopCache{}, nil
	case config.CacheBackendFile:
		return NewFileCache(cfg.Dir), nil
	case config.CacheBackendRedis:
		return NewRedisCache(cfg.RedisURL, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// NopCache never hits.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*Result, bool, error) { return nil, false, nil }
func (NopCache) Put(context.Context, string, *Result) error        { return nil }
func (NopCache) Close() error                                      { return nil }

// FileCache keeps one JSON file per key in a directory.
type FileCache struct {
	dir string
}

// NewFileCache creates a cache under dir. The directory is created on the
// first Put.
func NewFileCache(dir string) *FileCache {
	return &FileCache{dir: dir}
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *FileCache) Get(_ context.Context, key string) (*Result, bool, error) {
	data, err := os.ReadFile(c.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &res, true, nil
}

func (c *FileCache) Put(_ context.Context, key string, res *Result) error {
	data, err := res.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (c *FileCache) Close() error { return nil }

const redisKeyPrefix = "knitron:chunk:"

// RedisCache keeps results in Redis with an expiry.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to the Redis server at url, e.g.
// redis://localhost:6379/0. A zero ttl keeps entries forever.
func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Result, bool, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &res, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, res *Result) error {
	data, err := res.Marshal()
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
