// Package ledger implements the in-memory micropayment ledger that gates
// segment key release. Each session is mutated under its own mutex, so debits
// for one session are strictly serialized while unrelated sessions proceed in
// parallel. Amounts are exact decimals; floating point never touches a
// balance.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yellowtv/streamgate/pkg/models"
)

// Sentinel errors. ErrConservationViolated signals an internal invariant
// breach; the offending mutation is aborted before anything becomes visible.
var (
	ErrSessionNotFound      = fmt.Errorf("session not found")
	ErrSessionClosed        = fmt.Errorf("session is closed")
	ErrConservationViolated = fmt.Errorf("ledger conservation invariant violated")
)

// Archiver persists closed sessions for audit. Archive failures are logged
// and never roll back the in-memory close.
type Archiver interface {
	ArchiveSession(ctx context.Context, session *models.LedgerSession) error
}

// DebitResult reports one debit attempt. A failed debit mutates nothing.
type DebitResult struct {
	Success          bool
	NewViewerBalance decimal.Decimal
}

// CloseResult reports the final balances of a closed session. Closing an
// already-closed session returns the same result again without mutating it.
type CloseResult struct {
	TotalPaid         decimal.Decimal
	ViewerRefund      decimal.Decimal
	SegmentsDelivered int64
	AlreadyClosed     bool
}

// session pairs the session data with the mutex that serializes every
// mutation of it.
type session struct {
	mu   sync.Mutex
	data models.LedgerSession
}

// Registry owns every live session. It is the composition root's single
// mutable shared resource; handlers and the key gate receive it by injection.
type Registry struct {
	mu       sync.RWMutex // guards the maps, never held across a session lock
	sessions map[string]*session
	byViewer map[string]string // videoID+"\x00"+viewerAddress -> session id

	archiver Archiver
	log      zerolog.Logger
	now      func() time.Time
}

// NewRegistry creates an empty session registry. archiver may be nil when no
// audit store is configured.
func NewRegistry(archiver Archiver, log zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*session),
		byViewer: make(map[string]string),
		archiver: archiver,
		log:      log.With().Str("component", "ledger").Logger(),
		now:      time.Now,
	}
}

func viewerKey(videoID, viewerAddress string) string {
	return videoID + "\x00" + viewerAddress
}

func validateOpen(videoID, viewerAddress string, deposit, pricePerSegment decimal.Decimal) error {
	if videoID == "" || viewerAddress == "" {
		return fmt.Errorf("video id and viewer address are required")
	}
	if deposit.Sign() <= 0 {
		return fmt.Errorf("deposit must be positive, got %s", deposit)
	}
	if pricePerSegment.Sign() <= 0 {
		return fmt.Errorf("price per segment must be positive, got %s", pricePerSegment)
	}
	return nil
}

func (r *Registry) newSession(videoID, viewerAddress, creatorAddress, serverAddress string, deposit, pricePerSegment decimal.Decimal) *session {
	now := r.now()
	return &session{
		data: models.LedgerSession{
			ID:              uuid.New().String(),
			VideoID:         videoID,
			ViewerAddress:   viewerAddress,
			CreatorAddress:  creatorAddress,
			ServerAddress:   serverAddress,
			TotalDeposited:  deposit,
			ViewerBalance:   deposit,
			CreatorBalance:  decimal.Zero,
			PricePerSegment: pricePerSegment,
			CreatedAt:       now,
			LastActivityAt:  now,
			Status:          models.SessionStatusActive,
		},
	}
}

func (r *Registry) logOpened(s *models.LedgerSession) {
	r.log.Info().
		Str("session_id", s.ID).
		Str("video_id", s.VideoID).
		Str("viewer", s.ViewerAddress).
		Str("deposit", s.TotalDeposited.String()).
		Str("price_per_segment", s.PricePerSegment.String()).
		Msg("Session opened")
}

// Open creates a new active session funded with the viewer's deposit.
func (r *Registry) Open(videoID, viewerAddress, creatorAddress, serverAddress string, deposit, pricePerSegment decimal.Decimal) (*models.LedgerSession, error) {
	if err := validateOpen(videoID, viewerAddress, deposit, pricePerSegment); err != nil {
		return nil, err
	}

	s := r.newSession(videoID, viewerAddress, creatorAddress, serverAddress, deposit, pricePerSegment)

	r.mu.Lock()
	r.sessions[s.data.ID] = s
	r.byViewer[viewerKey(videoID, viewerAddress)] = s.data.ID
	r.mu.Unlock()

	snapshot := s.data
	r.logOpened(&snapshot)
	return &snapshot, nil
}

// OpenOrExisting returns the viewer's live session for the video if one
// exists, otherwise it opens a new one. The check and the insert happen under
// the registry lock, so concurrent opens by the same viewer converge on a
// single session instead of locking two deposits.
func (r *Registry) OpenOrExisting(videoID, viewerAddress, creatorAddress, serverAddress string, deposit, pricePerSegment decimal.Decimal) (*models.LedgerSession, bool, error) {
	if err := validateOpen(videoID, viewerAddress, deposit, pricePerSegment); err != nil {
		return nil, false, err
	}

	key := viewerKey(videoID, viewerAddress)
	for {
		r.mu.RLock()
		var existing *session
		if id, ok := r.byViewer[key]; ok {
			existing = r.sessions[id]
		}
		r.mu.RUnlock()

		if existing != nil {
			existing.mu.Lock()
			snapshot := existing.data
			existing.mu.Unlock()
			if snapshot.Status == models.SessionStatusActive {
				return &snapshot, true, nil
			}
			// Closed between the index read and here; the close path is
			// releasing the index entry. Retry until it has.
			continue
		}

		s := r.newSession(videoID, viewerAddress, creatorAddress, serverAddress, deposit, pricePerSegment)

		r.mu.Lock()
		if _, raced := r.byViewer[key]; raced {
			// A concurrent open won; loop around and return its session.
			r.mu.Unlock()
			continue
		}
		r.sessions[s.data.ID] = s
		r.byViewer[key] = s.data.ID
		r.mu.Unlock()

		snapshot := s.data
		r.logOpened(&snapshot)
		return &snapshot, false, nil
	}
}

// Debit atomically moves one segment's price from viewer to creator balance.
// If the viewer cannot afford the segment the session is left untouched and
// Success is false; that failure is what keeps the key locked.
func (r *Registry) Debit(sessionID string, segmentIndex int) (DebitResult, error) {
	s, ok := r.get(sessionID)
	if !ok {
		return DebitResult{}, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.Status != models.SessionStatusActive {
		return DebitResult{}, ErrSessionClosed
	}

	price := s.data.PricePerSegment
	if s.data.ViewerBalance.LessThan(price) {
		return DebitResult{Success: false, NewViewerBalance: s.data.ViewerBalance}, nil
	}

	// Compute on temporaries and check conservation before anything is
	// written; a violation aborts with no partial state visible.
	newViewer := s.data.ViewerBalance.Sub(price)
	newCreator := s.data.CreatorBalance.Add(price)
	if newViewer.Sign() < 0 || !newViewer.Add(newCreator).Equal(s.data.TotalDeposited) {
		return DebitResult{}, fmt.Errorf("%w: session %s", ErrConservationViolated, sessionID)
	}

	s.data.ViewerBalance = newViewer
	s.data.CreatorBalance = newCreator
	s.data.SegmentsDelivered++
	s.data.Version++
	s.data.LastActivityAt = r.now()

	r.log.Debug().
		Str("session_id", sessionID).
		Int("segment", segmentIndex).
		Str("viewer_balance", newViewer.String()).
		Int64("version", s.data.Version).
		Msg("Segment debited")

	return DebitResult{Success: true, NewViewerBalance: newViewer}, nil
}

// Close transitions the session to closed and returns the final balances.
// It is idempotent: a second close returns the same result with
// AlreadyClosed set and mutates nothing.
func (r *Registry) Close(ctx context.Context, sessionID string) (CloseResult, error) {
	s, ok := r.get(sessionID)
	if !ok {
		return CloseResult{}, ErrSessionNotFound
	}

	s.mu.Lock()
	if s.data.Status != models.SessionStatusActive {
		result := CloseResult{
			TotalPaid:         s.data.CreatorBalance,
			ViewerRefund:      s.data.ViewerBalance,
			SegmentsDelivered: s.data.SegmentsDelivered,
			AlreadyClosed:     true,
		}
		s.mu.Unlock()
		return result, nil
	}

	s.data.Status = models.SessionStatusClosed
	s.data.Version++
	s.data.LastActivityAt = r.now()
	snapshot := s.data
	result := CloseResult{
		TotalPaid:         snapshot.CreatorBalance,
		ViewerRefund:      snapshot.ViewerBalance,
		SegmentsDelivered: snapshot.SegmentsDelivered,
	}
	s.mu.Unlock()

	// The closed session stays addressable so close stays idempotent, but
	// the viewer index entry is released so a new session can be opened.
	r.mu.Lock()
	if r.byViewer[viewerKey(snapshot.VideoID, snapshot.ViewerAddress)] == sessionID {
		delete(r.byViewer, viewerKey(snapshot.VideoID, snapshot.ViewerAddress))
	}
	r.mu.Unlock()

	if r.archiver != nil {
		if err := r.archiver.ArchiveSession(ctx, &snapshot); err != nil {
			r.log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to archive closed session")
		}
	}

	r.log.Info().
		Str("session_id", sessionID).
		Str("total_paid", result.TotalPaid.String()).
		Str("viewer_refund", result.ViewerRefund.String()).
		Int64("segments_delivered", result.SegmentsDelivered).
		Msg("Session closed")

	return result, nil
}

// MarkSettled records that settlement completed for a closed session.
// Settlement is strictly downstream of close, so marking an active session
// settled is an error.
func (r *Registry) MarkSettled(sessionID string) error {
	s, ok := r.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.Status == models.SessionStatusActive {
		return fmt.Errorf("cannot settle active session %s", sessionID)
	}
	if s.data.Status == models.SessionStatusSettled {
		return nil
	}
	s.data.Status = models.SessionStatusSettled
	s.data.Version++
	return nil
}

// Lookup returns a snapshot of the session, if present.
func (r *Registry) Lookup(sessionID string) (models.LedgerSession, bool) {
	s, ok := r.get(sessionID)
	if !ok {
		return models.LedgerSession{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, true
}

// IdleSessions returns the ids of active sessions with no activity for at
// least the given window. The reaper closes them to release held deposits.
func (r *Registry) IdleSessions(window time.Duration) []string {
	cutoff := r.now().Add(-window)

	r.mu.RLock()
	candidates := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.RUnlock()

	var idle []string
	for _, s := range candidates {
		s.mu.Lock()
		if s.data.Status == models.SessionStatusActive && s.data.LastActivityAt.Before(cutoff) {
			idle = append(idle, s.data.ID)
		}
		s.mu.Unlock()
	}
	return idle
}

// EvictClosed drops terminal sessions whose last activity is older than the
// given window and returns how many were evicted. Closed sessions stay
// addressable for a while so close stays idempotent and status queries keep
// working, but the snapshot is already archived, so holding them forever
// would only grow the map.
func (r *Registry) EvictClosed(olderThan time.Duration) int {
	cutoff := r.now().Add(-olderThan)

	r.mu.RLock()
	candidates := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.RUnlock()

	// Terminal states never transition back to active, so an id collected
	// here is still safe to delete after the locks are dropped.
	var evict []string
	for _, s := range candidates {
		s.mu.Lock()
		if s.data.Status != models.SessionStatusActive && s.data.LastActivityAt.Before(cutoff) {
			evict = append(evict, s.data.ID)
		}
		s.mu.Unlock()
	}

	if len(evict) == 0 {
		return 0
	}

	r.mu.Lock()
	for _, id := range evict {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	r.log.Debug().Int("evicted", len(evict)).Msg("Evicted terminal sessions")
	return len(evict)
}

// ActiveCount returns the number of active sessions, for metrics.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	candidates := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.RUnlock()

	count := 0
	for _, s := range candidates {
		s.mu.Lock()
		if s.data.Status == models.SessionStatusActive {
			count++
		}
		s.mu.Unlock()
	}
	return count
}

func (r *Registry) get(sessionID string) (*session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	return s, ok
}
