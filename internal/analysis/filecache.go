package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/simonmoedinger/aitab/config"
)

// FileCache is a Redis-backed TTL cache in front of RetrieveFile, so a
// file cited in every pipeline step is looked up once per TTL window.
// Every cache failure is treated as a miss; the catalog degrades on its
// own terms either way.
type FileCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewFileCache builds a cache from config. Returns nil when Redis is not
// configured; a nil *FileCache is a valid no-op dependency.
func NewFileCache(cfg config.RedisConfig) *FileCache {
	if !cfg.Enabled() {
		return nil
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &FileCache{client: client, ttl: ttl}
}

// Ping verifies the Redis connection.
func (fc *FileCache) Ping(ctx context.Context) error {
	if fc == nil {
		return nil
	}
	return fc.client.Ping(ctx).Err()
}

func (fc *FileCache) key(fileID string) string {
	return "aitab:file:" + fileID
}

// Get returns the cached display name for a file id.
func (fc *FileCache) Get(ctx context.Context, fileID string) (string, bool) {
	if fc == nil {
		return "", false
	}
	val, err := fc.client.Get(ctx, fc.key(fileID)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Set stores a display name with the configured TTL.
func (fc *FileCache) Set(ctx context.Context, fileID, name string) {
	if fc == nil || name == "" {
		return
	}
	_ = fc.client.Set(ctx, fc.key(fileID), name, fc.ttl).Err()
}
