package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/yellowtv/streamgate/internal/cache"
	"github.com/yellowtv/streamgate/internal/keygate"
	"github.com/yellowtv/streamgate/internal/metrics"
	"github.com/yellowtv/streamgate/pkg/models"
)

// videoCacheTTL bounds staleness for pre-processing states; a processed
// record is immutable, so a longer TTL would also be safe.
const videoCacheTTL = 5 * time.Minute

// cachedVideoSource fronts the repository with the Redis video cache. Key
// requests hit this on every segment, so the cache carries the hot path.
type cachedVideoSource struct {
	repo  keygate.VideoSource
	cache *cache.Cache
	log   zerolog.Logger
}

func newCachedVideoSource(repo keygate.VideoSource, videoCache *cache.Cache, log zerolog.Logger) *cachedVideoSource {
	return &cachedVideoSource{
		repo:  repo,
		cache: videoCache,
		log:   log.With().Str("component", "video_cache").Logger(),
	}
}

// GetVideo returns the cached record when present, falling back to the
// repository. Cache failures degrade to repository reads, never to errors.
func (s *cachedVideoSource) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	if cached, err := s.cache.GetVideo(ctx, id); err == nil && cached != nil {
		metrics.RecordCacheAccess("video", true)
		return cached, nil
	} else if err != nil {
		s.log.Warn().Err(err).Str("video_id", id).Msg("Video cache read failed")
	}
	metrics.RecordCacheAccess("video", false)

	video, err := s.repo.GetVideo(ctx, id)
	if err != nil || video == nil {
		return video, err
	}

	if err := s.cache.SetVideo(ctx, video, videoCacheTTL); err != nil {
		s.log.Warn().Err(err).Str("video_id", id).Msg("Video cache write failed")
	}
	return video, nil
}
