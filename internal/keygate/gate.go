// Package keygate decides whether a segment key may be released for a
// request and, when allowed, re-derives it on demand. Metered sessions pay
// per segment through the ledger; legacy bearer tokens get unmetered access
// until expiry; everything else is denied with instructions for opening a
// paid session.
package keygate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yellowtv/streamgate/internal/commitment"
	"github.com/yellowtv/streamgate/internal/keys"
	"github.com/yellowtv/streamgate/internal/ledger"
	"github.com/yellowtv/streamgate/internal/metrics"
	"github.com/yellowtv/streamgate/pkg/models"
)

// Denial reasons, machine-readable and stable.
type Denial string

const (
	DenialInvalidSession      Denial = "invalid_session"
	DenialExpiredSession      Denial = "invalid_or_expired_session"
	DenialPaymentRequired     Denial = "payment_required"
	DenialInsufficientBalance Denial = "insufficient_balance"
)

// DeniedError is an authorization denial. It carries enough context for the
// HTTP layer to build an actionable 401/402 response without reaching back
// into the ledger.
type DeniedError struct {
	Reason          Denial
	ViewerBalance   decimal.Decimal
	PricePerSegment decimal.Decimal
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("key release denied: %s", e.Reason)
}

// Request-level errors that are not denials.
var (
	ErrVideoNotFound     = fmt.Errorf("video not found")
	ErrVideoNotProcessed = fmt.Errorf("video has not been processed")
	ErrIndexOutOfRange   = commitment.ErrIndexOutOfRange
	ErrKeyDerivation     = fmt.Errorf("key derivation failure")
)

// AuthContext is what the request presented: a metered session id from the
// X-Yellow-Session header, a legacy bearer token, or neither.
type AuthContext struct {
	SessionID   string
	BearerToken string
}

// VideoSource looks up video records. Implemented by the database repository
// (optionally behind the Redis cache).
type VideoSource interface {
	GetVideo(ctx context.Context, id string) (*models.Video, error)
}

// TokenSource validates legacy bearer tokens.
type TokenSource interface {
	Get(ctx context.Context, id string) (*models.LegacyToken, error)
	IncrementAccess(ctx context.Context, id string) (int64, error)
}

// KeyMaterial is a granted response: the segment's key and IV, plus the
// Merkle inclusion proof when the caller asked for the verifiable path.
type KeyMaterial struct {
	SegmentIndex int
	Key          [keys.KeySize]byte
	IV           [keys.IVSize]byte
	Proof        []commitment.Digest
}

// Gate authorizes key requests. Pure derivation work is unbounded-parallel;
// the only serialization happens inside the ledger's per-session debit.
type Gate struct {
	videos VideoSource
	ledger *ledger.Registry
	tokens TokenSource
	kek    []byte
	log    zerolog.Logger
}

// New creates a key gate. tokens may be nil when the legacy path is
// disabled.
func New(videos VideoSource, registry *ledger.Registry, tokens TokenSource, kek []byte, log zerolog.Logger) *Gate {
	return &Gate{
		videos: videos,
		ledger: registry,
		tokens: tokens,
		kek:    kek,
		log:    log.With().Str("component", "keygate").Logger(),
	}
}

// AuthorizeAndDeriveKey validates the request, debits metered sessions, and
// derives the segment's key material. withProof additionally attaches the
// Merkle inclusion proof from the stored commitment tree.
//
// The segment index is validated before authorization, so an out-of-range
// request fails the same way whether or not the caller could have paid.
func (g *Gate) AuthorizeAndDeriveKey(ctx context.Context, videoID string, segmentIndex int, auth AuthContext, withProof bool) (*KeyMaterial, error) {
	video, err := g.videos.GetVideo(ctx, videoID)
	if err != nil || video == nil {
		return nil, ErrVideoNotFound
	}
	if !video.IsProcessed() {
		return nil, ErrVideoNotProcessed
	}
	if segmentIndex < 0 || segmentIndex >= video.TotalSegments {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, segmentIndex, video.TotalSegments)
	}

	switch {
	case auth.SessionID != "":
		if err := g.authorizeMetered(video, segmentIndex, auth.SessionID); err != nil {
			return nil, err
		}
	case auth.BearerToken != "":
		if err := g.authorizeLegacy(ctx, video, auth.BearerToken); err != nil {
			return nil, err
		}
	default:
		return nil, &DeniedError{
			Reason:          DenialPaymentRequired,
			PricePerSegment: video.PricePerSegment,
		}
	}

	return g.derive(video, segmentIndex, withProof)
}

func (g *Gate) authorizeMetered(video *models.Video, segmentIndex int, sessionID string) error {
	session, ok := g.ledger.Lookup(sessionID)
	if !ok || session.VideoID != video.ID {
		return &DeniedError{Reason: DenialInvalidSession}
	}

	result, err := g.ledger.Debit(sessionID, segmentIndex)
	if err != nil {
		if err == ledger.ErrSessionClosed {
			metrics.RecordDebit("session_closed")
			return &DeniedError{Reason: DenialExpiredSession}
		}
		// Conservation violations and the like: internal, never a denial.
		metrics.RecordDebit("error")
		return fmt.Errorf("debit failed: %w", err)
	}
	if !result.Success {
		metrics.RecordDebit("insufficient_balance")
		return &DeniedError{
			Reason:          DenialInsufficientBalance,
			ViewerBalance:   result.NewViewerBalance,
			PricePerSegment: session.PricePerSegment,
		}
	}
	metrics.RecordDebit("ok")
	return nil
}

func (g *Gate) authorizeLegacy(ctx context.Context, video *models.Video, bearerToken string) error {
	if g.tokens == nil {
		return &DeniedError{Reason: DenialExpiredSession}
	}

	token, err := g.tokens.Get(ctx, bearerToken)
	if err != nil {
		return fmt.Errorf("token lookup failed: %w", err)
	}
	if token == nil || token.VideoID != video.ID {
		return &DeniedError{Reason: DenialExpiredSession}
	}

	// Advisory only; a failed increment never blocks the key.
	if _, err := g.tokens.IncrementAccess(ctx, token.ID); err != nil {
		g.log.Warn().Err(err).Str("token_id", token.ID).Msg("Failed to increment legacy access counter")
	}
	return nil
}

func (g *Gate) derive(video *models.Video, segmentIndex int, withProof bool) (*KeyMaterial, error) {
	start := time.Now()
	defer func() {
		metrics.KeyDerivationDuration.Observe(time.Since(start).Seconds())
	}()

	masterSecret, err := keys.DecryptMasterSecret(g.kek, video.MasterSecretEncrypted)
	if err != nil {
		g.log.Error().Err(err).Str("video_id", video.ID).Msg("Failed to decrypt master secret")
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}

	km, err := keys.DeriveSegmentKeyMaterial(masterSecret, video.ID, uint32(segmentIndex))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}

	material := &KeyMaterial{
		SegmentIndex: segmentIndex,
		Key:          km.Key,
		IV:           km.IV,
	}

	if withProof {
		tree, err := commitment.Deserialize(video.SerializedTree)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
		}
		proof, err := tree.Proof(segmentIndex)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
		}
		material.Proof = proof
	}

	return material, nil
}
