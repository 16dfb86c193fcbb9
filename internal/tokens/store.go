// Package tokens implements the legacy, unmetered session path: expiring
// bearer tokens stored in Redis. A token grants unlimited segment access for
// its video until it expires; it exists as a degraded mode for when the
// payment path is unavailable.
package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yellowtv/streamgate/pkg/models"
)

// Store persists legacy tokens in Redis with a TTL matching their expiry.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewStore connects to Redis and returns a token store issuing tokens valid
// for ttl.
func NewStore(host string, port int, password string, db int, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client, ttl: ttl, now: time.Now}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func tokenKey(id string) string {
	return fmt.Sprintf("legacy_token:%s", id)
}

func accessKey(id string) string {
	return fmt.Sprintf("legacy_token:access:%s", id)
}

// Create issues a new legacy token for a video. viewerAddress may be empty;
// legacy sessions are anonymous by default.
func (s *Store) Create(ctx context.Context, videoID, viewerAddress string) (*models.LegacyToken, error) {
	token := &models.LegacyToken{
		ID:            uuid.New().String(),
		VideoID:       videoID,
		ViewerAddress: viewerAddress,
		ExpiresAt:     s.now().Add(s.ttl),
	}

	data, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := s.client.Set(ctx, tokenKey(token.ID), data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	return token, nil
}

// Get retrieves a token by id. Returns (nil, nil) when the token does not
// exist or Redis has already expired it.
func (s *Store) Get(ctx context.Context, id string) (*models.LegacyToken, error) {
	data, err := s.client.Get(ctx, tokenKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var token models.LegacyToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	// Redis TTL normally handles expiry; the explicit check covers clock
	// skew between issuance and the Redis server.
	if token.Expired(s.now()) {
		return nil, nil
	}

	count, err := s.client.Get(ctx, accessKey(id)).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get access count: %w", err)
	}
	token.SegmentsAccessed = count

	return &token, nil
}

// IncrementAccess bumps the advisory per-token access counter. It never
// gates anything; failures are the caller's to log and ignore.
func (s *Store) IncrementAccess(ctx context.Context, id string) (int64, error) {
	count, err := s.client.Incr(ctx, accessKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment access count: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, accessKey(id), s.ttl).Err(); err != nil {
			return count, fmt.Errorf("failed to set access count expiry: %w", err)
		}
	}
	return count, nil
}
