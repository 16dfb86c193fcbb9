package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yellowtv/streamgate/internal/config"
	"github.com/yellowtv/streamgate/internal/keygate"
	"github.com/yellowtv/streamgate/internal/ledger"
	"github.com/yellowtv/streamgate/internal/metrics"
	"github.com/yellowtv/streamgate/internal/middleware"
	"github.com/yellowtv/streamgate/internal/playlist"
	"github.com/yellowtv/streamgate/internal/settlement"
	"github.com/yellowtv/streamgate/internal/storage"
	"github.com/yellowtv/streamgate/pkg/models"
)

// CreatorStore is the slice of the repository the creator endpoints need.
type CreatorStore interface {
	CreateVideo(ctx context.Context, video *models.Video) error
	ListVideos(ctx context.Context, limit, offset int) ([]*models.Video, error)
	Health(ctx context.Context) error
}

// ObjectStorage is the slice of object storage the API needs.
type ObjectStorage interface {
	UploadFile(ctx context.Context, objectName, filePath string) error
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
	GetURL(ctx context.Context, objectName string) (string, error)
}

// SessionArchive is the audit store for closed sessions. The close path
// records settlement outcomes here; status queries fall back to it once a
// session has been evicted from the in-memory registry.
type SessionArchive interface {
	GetArchivedSession(ctx context.Context, id string) (*models.LedgerSession, error)
	MarkSessionSettled(ctx context.Context, id, txHash string) error
}

// PlaylistCache caches rendered playlist bodies. Playlists of a processed
// video are immutable, so the cache only bounds object-storage reads.
type PlaylistCache interface {
	GetPlaylist(ctx context.Context, videoID, name string) (string, error)
	SetPlaylist(ctx context.Context, videoID, name, body string, ttl time.Duration) error
}

// JobPublisher publishes processing jobs for the worker.
type JobPublisher interface {
	PublishProcessingJob(ctx context.Context, job *models.ProcessingJob) error
}

// TokenIssuer issues legacy bearer tokens.
type TokenIssuer interface {
	Create(ctx context.Context, videoID, viewerAddress string) (*models.LegacyToken, error)
}

// API holds the composed request-path collaborators.
type API struct {
	videos    keygate.VideoSource
	creator   CreatorStore
	storage   ObjectStorage
	queue     JobPublisher
	registry  *ledger.Registry
	tokens    TokenIssuer
	gate      *keygate.Gate
	settle    *settlement.Service
	archive   SessionArchive
	playlists PlaylistCache
	cfg       *config.Config
	log       zerolog.Logger
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := api.creator.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// Upload video endpoint. The video lands as "uploaded" and a processing job
// is queued; keys cannot be served until the worker publishes the commitment.
func (api *API) uploadVideo(c *gin.Context) {
	creatorAddress, _ := middleware.GetCreatorAddress(c)

	file, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No video file provided"})
		return
	}

	price := api.cfg.Metering.DefaultPricePerSegment
	if p := c.PostForm("pricePerSegment"); p != "" {
		price = p
	}
	pricePerSegment, err := decimal.NewFromString(price)
	if err != nil || pricePerSegment.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid price per segment"})
		return
	}

	// Save to temporary location
	tempPath := filepath.Join(os.TempDir(), uuid.New().String())
	if err := c.SaveUploadedFile(file, tempPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
		return
	}
	defer os.Remove(tempPath)

	video := &models.Video{
		ID:              uuid.New().String(),
		Title:           c.PostForm("title"),
		CreatorAddress:  creatorAddress,
		Size:            file.Size,
		PricePerSegment: pricePerSegment,
		Status:          models.VideoStatusUploaded,
	}
	if video.Title == "" {
		video.Title = file.Filename
	}

	// Upload the original to storage
	storageKey := storage.OriginalKey(video.ID, file.Filename)
	if err := api.storage.UploadFile(c.Request.Context(), storageKey, tempPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to upload: %v", err)})
		return
	}
	video.OriginalURL = storageKey

	if err := api.creator.CreateVideo(c.Request.Context(), video); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to create video: %v", err)})
		return
	}

	job := &models.ProcessingJob{
		ID:          uuid.New().String(),
		VideoID:     video.ID,
		Priority:    models.JobPriorityNormal,
		RequestedAt: time.Now(),
	}
	if err := api.queue.PublishProcessingJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to queue processing: %v", err)})
		return
	}

	metrics.VideoUploadsTotal.Inc()
	c.JSON(http.StatusCreated, video)
}

// Get video endpoint
func (api *API) getVideo(c *gin.Context) {
	video, err := api.videos.GetVideo(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if video == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		return
	}

	c.JSON(http.StatusOK, video)
}

// List videos endpoint
func (api *API) listVideos(c *gin.Context) {
	limit := 20
	offset := 0

	videos, err := api.creator.ListVideos(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"videos": videos,
		"limit":  limit,
		"offset": offset,
	})
}

// playlistCacheTTL bounds how long a rendered playlist body stays cached.
// Playlists are immutable once a video is processed, so the TTL only caps
// Redis memory, not staleness.
const playlistCacheTTL = time.Hour

// Get playlist endpoint. Playlists are public; the keys they point at are
// what the gate protects. Bodies are served from the Redis cache when
// possible; cache failures degrade to object-storage reads.
func (api *API) getPlaylist(c *gin.Context) {
	videoID := c.Param("id")
	name := c.Param("name")

	if name != "master.m3u8" && name != "media.m3u8" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown playlist"})
		return
	}

	video, err := api.videos.GetVideo(c.Request.Context(), videoID)
	if err != nil || video == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		return
	}
	if !video.IsProcessed() {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video has not been processed"})
		return
	}

	if cached, err := api.playlists.GetPlaylist(c.Request.Context(), videoID, name); err == nil && cached != "" {
		metrics.RecordCacheAccess("playlist", true)
		c.Data(http.StatusOK, "application/vnd.apple.mpegurl", []byte(cached))
		return
	} else if err != nil {
		api.log.Warn().Err(err).Str("video_id", videoID).Msg("Playlist cache read failed")
	}
	metrics.RecordCacheAccess("playlist", false)

	reader, err := api.storage.Download(c.Request.Context(), storage.PlaylistKey(videoID, name))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch playlist"})
		return
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read playlist"})
		return
	}

	if err := api.playlists.SetPlaylist(c.Request.Context(), videoID, name, string(body), playlistCacheTTL); err != nil {
		api.log.Warn().Err(err).Str("video_id", videoID).Msg("Playlist cache write failed")
	}

	c.Data(http.StatusOK, "application/vnd.apple.mpegurl", body)
}

// Get segment endpoint: redirects the player to a presigned object-storage
// URL for the encrypted segment. The bytes are useless without the key, so
// this surface needs no auth of its own.
func (api *API) getSegment(c *gin.Context) {
	videoID := c.Param("id")
	index, err := strconv.Atoi(c.Param("segment"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid segment index"})
		return
	}

	video, err := api.videos.GetVideo(c.Request.Context(), videoID)
	if err != nil || video == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		return
	}
	if !video.IsProcessed() {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video has not been processed"})
		return
	}
	if index < 0 || index >= video.TotalSegments {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Segment index out of range"})
		return
	}

	url, err := api.storage.GetURL(c.Request.Context(), storage.SegmentKey(videoID, playlist.SegmentFilename(index)))
	if err != nil {
		api.log.Error().Err(err).Str("video_id", videoID).Int("segment", index).Msg("Failed to presign segment")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to locate segment"})
		return
	}

	c.Redirect(http.StatusFound, url)
}

// closeAndSettle closes a session in the ledger and runs best-effort
// settlement of the accrued creator balance. Both the viewer-initiated close
// handler and the idle reaper call this, so the two paths cannot diverge.
func (api *API) closeAndSettle(ctx context.Context, sessionID string) (ledger.CloseResult, settlement.Result, error) {
	closeResult, err := api.registry.Close(ctx, sessionID)
	if err != nil {
		return ledger.CloseResult{}, settlement.Result{}, err
	}

	settleResult := api.settle.Settle(ctx, sessionID, closeResult.TotalPaid)
	if settleResult.Settled {
		if err := api.registry.MarkSettled(sessionID); err != nil {
			api.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to mark session settled")
		}
		// The archive row was written at close with status closed; record
		// the settlement outcome there so the audit trail matches.
		if api.archive != nil {
			if err := api.archive.MarkSessionSettled(ctx, sessionID, settleResult.TxHash); err != nil {
				api.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to record settlement in archive")
			}
		}
		metrics.RecordSettlement("settled")
	} else {
		metrics.RecordSettlement("skipped")
	}

	metrics.SessionsActive.Set(float64(api.registry.ActiveCount()))
	return closeResult, settleResult, nil
}
