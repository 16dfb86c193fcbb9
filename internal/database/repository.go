package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/yellowtv/streamgate/pkg/models"
)

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Health reports database connectivity
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

// Videos

// CreateVideo creates a new video record
func (r *Repository) CreateVideo(ctx context.Context, video *models.Video) error {
	if video.ID == "" {
		video.ID = uuid.New().String()
	}

	query := `
		INSERT INTO videos (id, title, creator_address, original_url, size, total_segments,
		                    segment_duration, merkle_root, serialized_tree, master_secret_encrypted,
		                    price_per_segment, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		video.ID, video.Title, video.CreatorAddress, video.OriginalURL, video.Size,
		video.TotalSegments, video.SegmentDuration, video.MerkleRoot, video.SerializedTree,
		video.MasterSecretEncrypted, video.PricePerSegment, video.Status,
	).Scan(&video.CreatedAt, &video.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}

	return nil
}

// GetVideo retrieves a video by ID. A missing video returns (nil, nil).
func (r *Repository) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	var video models.Video

	query := `
		SELECT id, title, creator_address, original_url, size, total_segments,
		       segment_duration, merkle_root, serialized_tree, master_secret_encrypted,
		       price_per_segment, status, created_at, updated_at
		FROM videos
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&video.ID, &video.Title, &video.CreatorAddress, &video.OriginalURL, &video.Size,
		&video.TotalSegments, &video.SegmentDuration, &video.MerkleRoot, &video.SerializedTree,
		&video.MasterSecretEncrypted, &video.PricePerSegment, &video.Status,
		&video.CreatedAt, &video.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return &video, nil
}

// UpdateVideoStatus updates only a video's processing status
func (r *Repository) UpdateVideoStatus(ctx context.Context, id, status string) error {
	query := `UPDATE videos SET status = $2, updated_at = NOW() WHERE id = $1`

	_, err := r.db.Pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update video status: %w", err)
	}

	return nil
}

// UpdateVideoProcessed publishes the processing result: segment count and
// duration, the commitment root and tree, and the envelope-encrypted master
// secret, all in one statement so a half-published video is never visible.
func (r *Repository) UpdateVideoProcessed(ctx context.Context, video *models.Video) error {
	query := `
		UPDATE videos
		SET total_segments = $2, segment_duration = $3, merkle_root = $4,
		    serialized_tree = $5, master_secret_encrypted = $6, status = $7,
		    updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query,
		video.ID, video.TotalSegments, video.SegmentDuration, video.MerkleRoot,
		video.SerializedTree, video.MasterSecretEncrypted, models.VideoStatusProcessed,
	)

	if err != nil {
		return fmt.Errorf("failed to publish processed video: %w", err)
	}

	return nil
}

// ListVideos retrieves all videos with pagination
func (r *Repository) ListVideos(ctx context.Context, limit, offset int) ([]*models.Video, error) {
	query := `
		SELECT id, title, creator_address, original_url, size, total_segments,
		       segment_duration, merkle_root, serialized_tree, master_secret_encrypted,
		       price_per_segment, status, created_at, updated_at
		FROM videos
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []*models.Video
	for rows.Next() {
		var video models.Video
		err := rows.Scan(
			&video.ID, &video.Title, &video.CreatorAddress, &video.OriginalURL, &video.Size,
			&video.TotalSegments, &video.SegmentDuration, &video.MerkleRoot, &video.SerializedTree,
			&video.MasterSecretEncrypted, &video.PricePerSegment, &video.Status,
			&video.CreatedAt, &video.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, &video)
	}

	return videos, nil
}

// Sessions

// ArchiveSession writes a closed session's final snapshot to the session
// archive. The in-memory ledger remains the source of truth while a session
// is live; the archive is for settlement audits after close.
func (r *Repository) ArchiveSession(ctx context.Context, session *models.LedgerSession) error {
	query := `
		INSERT INTO session_archive (id, video_id, viewer_address, creator_address, server_address,
		                             total_deposited, viewer_balance, creator_balance,
		                             segments_delivered, price_per_segment, version,
		                             created_at, last_activity_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE
		SET viewer_balance = EXCLUDED.viewer_balance,
		    creator_balance = EXCLUDED.creator_balance,
		    segments_delivered = EXCLUDED.segments_delivered,
		    version = EXCLUDED.version,
		    last_activity_at = EXCLUDED.last_activity_at,
		    status = EXCLUDED.status
	`

	_, err := r.db.Pool.Exec(ctx, query,
		session.ID, session.VideoID, session.ViewerAddress, session.CreatorAddress,
		session.ServerAddress, session.TotalDeposited, session.ViewerBalance,
		session.CreatorBalance, session.SegmentsDelivered, session.PricePerSegment,
		session.Version, session.CreatedAt, session.LastActivityAt, session.Status,
	)

	if err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}

	return nil
}

// GetArchivedSession retrieves an archived session by ID. A missing session
// returns (nil, nil).
func (r *Repository) GetArchivedSession(ctx context.Context, id string) (*models.LedgerSession, error) {
	var session models.LedgerSession

	query := `
		SELECT id, video_id, viewer_address, creator_address, server_address,
		       total_deposited, viewer_balance, creator_balance, segments_delivered,
		       price_per_segment, version, created_at, last_activity_at, status
		FROM session_archive
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&session.ID, &session.VideoID, &session.ViewerAddress, &session.CreatorAddress,
		&session.ServerAddress, &session.TotalDeposited, &session.ViewerBalance,
		&session.CreatorBalance, &session.SegmentsDelivered, &session.PricePerSegment,
		&session.Version, &session.CreatedAt, &session.LastActivityAt, &session.Status,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archived session: %w", err)
	}

	return &session, nil
}

// MarkSessionSettled flips an archived session to settled and records the
// settlement transaction hash.
func (r *Repository) MarkSessionSettled(ctx context.Context, id, txHash string) error {
	query := `UPDATE session_archive SET status = $2, settlement_tx = $3 WHERE id = $1`

	_, err := r.db.Pool.Exec(ctx, query, id, models.SessionStatusSettled, txHash)
	if err != nil {
		return fmt.Errorf("failed to mark session settled: %w", err)
	}

	return nil
}
