// Package processor runs the worker-side pipeline that turns an uploaded
// video into a served, metered one: segment the source, derive per-segment
// keys, encrypt and upload every segment, build the key commitment, render
// playlists, and publish the result on the video record.
package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/yellowtv/streamgate/internal/commitment"
	"github.com/yellowtv/streamgate/internal/encoder"
	"github.com/yellowtv/streamgate/internal/keys"
	"github.com/yellowtv/streamgate/internal/metrics"
	"github.com/yellowtv/streamgate/internal/playlist"
	"github.com/yellowtv/streamgate/internal/segment"
	"github.com/yellowtv/streamgate/internal/storage"
	"github.com/yellowtv/streamgate/pkg/models"
)

// VideoStore is the slice of the repository the processor needs.
type VideoStore interface {
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	UpdateVideoStatus(ctx context.Context, id, status string) error
	UpdateVideoProcessed(ctx context.Context, video *models.Video) error
}

// ObjectStore is the slice of object storage the processor needs.
type ObjectStore interface {
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
}

// Config holds processing parameters.
type Config struct {
	SegmentTime int
	Bandwidth   int64
	TempDir     string
	BaseURL     string
}

// Processor executes processing jobs.
type Processor struct {
	videos  VideoStore
	objects ObjectStore
	encoder encoder.Encoder
	kek     []byte
	cfg     Config
	log     zerolog.Logger
}

// New creates a processor.
func New(videos VideoStore, objects ObjectStore, enc encoder.Encoder, kek []byte, cfg Config, log zerolog.Logger) *Processor {
	if cfg.SegmentTime <= 0 {
		cfg.SegmentTime = 6
	}
	if cfg.Bandwidth <= 0 {
		cfg.Bandwidth = 2500000
	}
	return &Processor{
		videos:  videos,
		objects: objects,
		encoder: enc,
		kek:     kek,
		cfg:     cfg,
		log:     log.With().Str("component", "processor").Logger(),
	}
}

// Process runs the full pipeline for one job. On any failure after the video
// moves to processing, the video is marked failed before the error is
// returned so it never sticks in the processing state.
func (p *Processor) Process(ctx context.Context, job *models.ProcessingJob) error {
	log := p.log.With().Str("job_id", job.ID).Str("video_id", job.VideoID).Logger()
	start := time.Now()

	video, err := p.videos.GetVideo(ctx, job.VideoID)
	if err != nil {
		return fmt.Errorf("failed to load video: %w", err)
	}
	if video == nil {
		return fmt.Errorf("video %s not found", job.VideoID)
	}
	if video.Status == models.VideoStatusProcessed {
		log.Info().Msg("Video already processed, skipping")
		return nil
	}

	if err := p.videos.UpdateVideoStatus(ctx, video.ID, models.VideoStatusProcessing); err != nil {
		return fmt.Errorf("failed to mark video processing: %w", err)
	}

	if err := p.process(ctx, video, log); err != nil {
		metrics.RecordError("processor", "processing_failed")
		if statusErr := p.videos.UpdateVideoStatus(ctx, video.ID, models.VideoStatusFailed); statusErr != nil {
			log.Error().Err(statusErr).Msg("Failed to mark video failed")
		}
		return err
	}

	metrics.SegmentsProcessedTotal.Add(float64(video.TotalSegments))
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())

	log.Info().
		Int("total_segments", video.TotalSegments).
		Str("merkle_root", video.MerkleRoot).
		Dur("duration", time.Since(start)).
		Msg("Video processed")
	return nil
}

func (p *Processor) process(ctx context.Context, video *models.Video, log zerolog.Logger) error {
	inputPath, cleanup, err := p.fetchOriginal(ctx, video)
	if err != nil {
		return err
	}
	defer cleanup()

	segments, err := p.encoder.Segment(ctx, inputPath, p.cfg.SegmentTime)
	if err != nil {
		return fmt.Errorf("segmentation failed: %w", err)
	}
	log.Info().Int("segments", len(segments)).Msg("Segmentation complete")

	masterSecret, err := keys.NewMasterSecret()
	if err != nil {
		return err
	}

	material, err := keys.DeriveAllSegmentKeys(masterSecret, video.ID, len(segments))
	if err != nil {
		return err
	}

	// Encrypt and upload each segment under its derived key.
	for i, seg := range segments {
		ciphertext, err := segment.Encrypt(seg.Data, material[i].Key[:], material[i].IV[:])
		if err != nil {
			return fmt.Errorf("failed to encrypt segment %d: %w", i, err)
		}

		name := playlist.SegmentFilename(i)
		key := storage.SegmentKey(video.ID, name)
		if err := p.objects.Upload(ctx, key, bytes.NewReader(ciphertext), int64(len(ciphertext)), storage.ContentType(name)); err != nil {
			return fmt.Errorf("failed to upload segment %d: %w", i, err)
		}
	}

	tree, err := commitment.Build(material)
	if err != nil {
		return err
	}
	serialized, err := tree.Serialize()
	if err != nil {
		return err
	}

	if err := p.uploadPlaylists(ctx, video, segments, material); err != nil {
		return err
	}

	encryptedSecret, err := keys.EncryptMasterSecret(p.kek, masterSecret)
	if err != nil {
		return fmt.Errorf("failed to seal master secret: %w", err)
	}

	video.TotalSegments = len(segments)
	video.SegmentDuration = meanDuration(segments)
	video.MerkleRoot = tree.Root().Hex()
	video.SerializedTree = serialized
	video.MasterSecretEncrypted = encryptedSecret

	if err := p.videos.UpdateVideoProcessed(ctx, video); err != nil {
		return fmt.Errorf("failed to publish processed video: %w", err)
	}
	return nil
}

// fetchOriginal downloads the uploaded original to a temp file for ffmpeg.
func (p *Processor) fetchOriginal(ctx context.Context, video *models.Video) (string, func(), error) {
	reader, err := p.objects.Download(ctx, video.OriginalURL)
	if err != nil {
		return "", nil, fmt.Errorf("failed to download original: %w", err)
	}
	defer reader.Close()

	dir, err := os.MkdirTemp(p.cfg.TempDir, "original-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	inputPath := filepath.Join(dir, "input"+filepath.Ext(video.OriginalURL))
	file, err := os.Create(inputPath)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write original: %w", err)
	}
	return inputPath, cleanup, nil
}

func (p *Processor) uploadPlaylists(ctx context.Context, video *models.Video, encoded []models.EncodedSegment, material []keys.SegmentKeyMaterial) error {
	plSegments := make([]playlist.Segment, len(encoded))
	for i, seg := range encoded {
		plSegments[i] = playlist.Segment{
			Index:    i,
			Duration: seg.Duration,
			IV:       material[i].IV,
		}
	}

	media := playlist.Media(video.ID, p.cfg.BaseURL, plSegments)
	master := playlist.Master("media.m3u8", p.cfg.Bandwidth)

	for name, body := range map[string]string{
		"media.m3u8":  media,
		"master.m3u8": master,
	} {
		key := storage.PlaylistKey(video.ID, name)
		if err := p.objects.Upload(ctx, key, bytes.NewReader([]byte(body)), int64(len(body)), storage.ContentType(name)); err != nil {
			return fmt.Errorf("failed to upload %s: %w", name, err)
		}
	}
	return nil
}

func meanDuration(segments []models.EncodedSegment) float64 {
	if len(segments) == 0 {
		return 0
	}
	total := 0.0
	for _, seg := range segments {
		total += seg.Duration
	}
	return total / float64(len(segments))
}
