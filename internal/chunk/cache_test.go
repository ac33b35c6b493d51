package chunk

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/knitron/internal/config"
)

func cachedResult() *Result {
	return &Result{
		Stdout:  []string{"hello\n"},
		Stderr:  []string{},
		Text:    []string{"42"},
		Figures: []string{},
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	base := DefaultOptions()
	base.Code = []string{"x = 1"}
	key := Key(&base)
	assert.Len(t, key, 64)
	assert.Equal(t, key, Key(&base))

	tests := []struct {
		name   string
		modify func(o *Options)
	}{
		{"code", func(o *Options) { o.Code = []string{"x = 2"} }},
		{"code split", func(o *Options) { o.Code = []string{"x =", "1"} }},
		{"device", func(o *Options) { o.Device = "svg" }},
		{"dpi", func(o *Options) { o.DPI = 300 }},
		{"width", func(o *Options) { o.FigWidth = 5 }},
		{"height", func(o *Options) { o.FigHeight = 5 }},
		{"fig path", func(o *Options) { o.FigPath = "figure/x" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opts := base
			opts.Code = append([]string(nil), base.Code...)
			tt.modify(&opts)
			assert.NotEqual(t, key, Key(&opts))
		})
	}

	t.Run("label ignored", func(t *testing.T) {
		t.Parallel()
		opts := base
		opts.Label = "other"
		assert.Equal(t, key, Key(&opts))
	})
}

func TestFileCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "cache")
	cache := NewFileCache(dir)
	defer cache.Close()

	_, ok, err := cache.Get(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Put(ctx, "abc", cachedResult()))
	assert.FileExists(t, filepath.Join(dir, "abc.json"))

	got, ok, err := cache.Get(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cachedResult(), got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileCache_Corrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0o644))

	_, _, err := NewFileCache(dir).Get(context.Background(), "bad")
	assert.Error(t, err)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	cache, err := NewRedisCache("redis://"+mr.Addr()+"/0", time.Hour)
	require.NoError(t, err)
	defer cache.Close()

	_, ok, err := cache.Get(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Put(ctx, "abc", cachedResult()))
	assert.True(t, mr.Exists(redisKeyPrefix+"abc"))
	assert.Equal(t, time.Hour, mr.TTL(redisKeyPrefix+"abc"))

	got, ok, err := cache.Get(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cachedResult(), got)

	mr.FastForward(2 * time.Hour)
	_, ok, err = cache.Get(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := NewRedisCache("redis://"+mr.Addr(), 0)
	require.NoError(t, err)
	defer cache.Close()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err = cache.Get(ctx, "abc")
	assert.Error(t, err)
}

func TestNewCache(t *testing.T) {
	t.Parallel()

	c, err := NewCache(config.CacheConfig{Backend: config.CacheBackendNone})
	require.NoError(t, err)
	assert.IsType(t, NopCache{}, c)

	c, err = NewCache(config.CacheConfig{Backend: config.CacheBackendFile, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileCache{}, c)

	c, err = NewCache(config.CacheConfig{Backend: config.CacheBackendRedis, RedisURL: "redis://localhost:6379/0"})
	require.NoError(t, err)
	assert.IsType(t, &RedisCache{}, c)
	require.NoError(t, c.Close())

	_, err = NewCache(config.CacheConfig{Backend: config.CacheBackendRedis, RedisURL: "http://nope"})
	assert.Error(t, err)

	_, err = NewCache(config.CacheConfig{Backend: "memcached"})
	assert.Error(t, err)
}
