package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Video processing statuses
const (
	VideoStatusUploaded   = "uploaded"
	VideoStatusProcessing = "processing"
	VideoStatusProcessed  = "processed"
	VideoStatusFailed     = "failed"
)

// Video represents a video and its published key commitment.
//
// MerkleRoot and SerializedTree are written once, when processing completes,
// and never change afterwards. MasterSecretEncrypted holds the per-video
// master secret envelope-encrypted under the server KEK; the plaintext secret
// is never persisted.
type Video struct {
	ID                    string          `json:"id" db:"id"`
	Title                 string          `json:"title" db:"title"`
	CreatorAddress        string          `json:"creator_address" db:"creator_address"`
	OriginalURL           string          `json:"original_url" db:"original_url"`
	Size                  int64           `json:"size" db:"size"`
	TotalSegments         int             `json:"total_segments" db:"total_segments"`
	SegmentDuration       float64         `json:"segment_duration" db:"segment_duration"`
	MerkleRoot            string          `json:"merkle_root" db:"merkle_root"`
	SerializedTree        []byte          `json:"-" db:"serialized_tree"`
	MasterSecretEncrypted []byte          `json:"-" db:"master_secret_encrypted"`
	PricePerSegment       decimal.Decimal `json:"price_per_segment" db:"price_per_segment"`
	Status                string          `json:"status" db:"status"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
}

// IsProcessed reports whether the video has a published commitment and an
// encrypted master secret, i.e. whether segment keys can be served for it.
func (v *Video) IsProcessed() bool {
	return v.Status == VideoStatusProcessed &&
		len(v.MasterSecretEncrypted) > 0 &&
		v.TotalSegments > 0
}
