package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger session statuses. A session moves active -> closed -> settled and
// never skips or re-enters a state.
const (
	SessionStatusActive  = "active"
	SessionStatusClosed  = "closed"
	SessionStatusSettled = "settled"
)

// LedgerSession is the metered-access ledger unit for one viewer watching one
// video. Balances are exact decimals; at every observable instant
// ViewerBalance + CreatorBalance == TotalDeposited.
type LedgerSession struct {
	ID                string          `json:"id" db:"id"`
	VideoID           string          `json:"video_id" db:"video_id"`
	ViewerAddress     string          `json:"viewer_address" db:"viewer_address"`
	CreatorAddress    string          `json:"creator_address" db:"creator_address"`
	ServerAddress     string          `json:"server_address" db:"server_address"`
	TotalDeposited    decimal.Decimal `json:"total_deposited" db:"total_deposited"`
	ViewerBalance     decimal.Decimal `json:"viewer_balance" db:"viewer_balance"`
	CreatorBalance    decimal.Decimal `json:"creator_balance" db:"creator_balance"`
	SegmentsDelivered int64           `json:"segments_delivered" db:"segments_delivered"`
	PricePerSegment   decimal.Decimal `json:"price_per_segment" db:"price_per_segment"`
	Version           int64           `json:"version" db:"version"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	LastActivityAt    time.Time       `json:"last_activity_at" db:"last_activity_at"`
	Status            string          `json:"status" db:"status"`
}

// LegacyToken is the unmetered fallback session: a bearer token granting
// unlimited segment access until it expires. SegmentsAccessed is advisory
// only and never gates key release.
type LegacyToken struct {
	ID               string    `json:"id"`
	VideoID          string    `json:"video_id"`
	ViewerAddress    string    `json:"viewer_address,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	SegmentsAccessed int64     `json:"segments_accessed"`
}

// Expired reports whether the token is past its expiry at the given instant.
func (t *LegacyToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
