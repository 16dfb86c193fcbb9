package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yellowtv/streamgate/pkg/models"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Video Cache Operations

// videoRecord is the cached shape. The model hides the commitment tree and
// encrypted master secret from its JSON form, but the cache must carry them
// or cached records could not serve key requests.
type videoRecord struct {
	models.Video
	SerializedTree        []byte `json:"serialized_tree"`
	MasterSecretEncrypted []byte `json:"master_secret_encrypted"`
}

// SetVideo caches a full video record, including the encrypted master secret
// and serialized commitment tree, so key requests can be served without a
// database round trip.
func (c *Cache) SetVideo(ctx context.Context, video *models.Video, ttl time.Duration) error {
	record := videoRecord{
		Video:                 *video,
		SerializedTree:        video.SerializedTree,
		MasterSecretEncrypted: video.MasterSecretEncrypted,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal video: %w", err)
	}

	key := fmt.Sprintf("video:%s", video.ID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetVideo retrieves video metadata from cache
func (c *Cache) GetVideo(ctx context.Context, videoID string) (*models.Video, error) {
	key := fmt.Sprintf("video:%s", videoID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get video from cache: %w", err)
	}

	var record videoRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video: %w", err)
	}

	video := record.Video
	video.SerializedTree = record.SerializedTree
	video.MasterSecretEncrypted = record.MasterSecretEncrypted
	return &video, nil
}

// DeleteVideo removes video from cache
func (c *Cache) DeleteVideo(ctx context.Context, videoID string) error {
	key := fmt.Sprintf("video:%s", videoID)
	return c.client.Del(ctx, key).Err()
}

// Playlist Cache Operations

// SetPlaylist caches a rendered playlist body
func (c *Cache) SetPlaylist(ctx context.Context, videoID, name, body string, ttl time.Duration) error {
	key := fmt.Sprintf("playlist:%s:%s", videoID, name)
	return c.client.Set(ctx, key, body, ttl).Err()
}

// GetPlaylist retrieves a rendered playlist body from cache
func (c *Cache) GetPlaylist(ctx context.Context, videoID, name string) (string, error) {
	key := fmt.Sprintf("playlist:%s:%s", videoID, name)
	body, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil // Cache miss
		}
		return "", fmt.Errorf("failed to get playlist from cache: %w", err)
	}
	return body, nil
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
