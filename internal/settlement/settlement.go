// Package settlement computes the revenue split when a session closes and
// hands it to the external chain-settlement collaborator. Distribution is
// strictly best-effort and strictly downstream: the ledger close has already
// committed, and no settlement outcome can roll it back.
package settlement

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Revenue split shares. They sum to 1 exactly.
var (
	creatorShare  = decimal.RequireFromString("0.70")
	holderShare   = decimal.RequireFromString("0.20")
	protocolShare = decimal.RequireFromString("0.10")
)

// Split is the exact 70/20/10 division of a session's accrued creator
// balance.
type Split struct {
	Total         decimal.Decimal `json:"total"`
	CreatorShare  decimal.Decimal `json:"creator_share"`
	HolderShare   decimal.Decimal `json:"holder_share"`
	ProtocolShare decimal.Decimal `json:"protocol_share"`
}

// ComputeSplit divides totalPaid 70/20/10 between creator, token holders and
// the protocol. Pure decimal arithmetic; the three shares always sum back to
// the total.
func ComputeSplit(totalPaid decimal.Decimal) Split {
	creator := totalPaid.Mul(creatorShare)
	holder := totalPaid.Mul(holderShare)
	// The protocol share absorbs any representational remainder so the
	// three parts reconstruct the total exactly.
	protocol := totalPaid.Sub(creator).Sub(holder)

	return Split{
		Total:         totalPaid,
		CreatorShare:  creator,
		HolderShare:   holder,
		ProtocolShare: protocol,
	}
}

// Settler is the external chain-settlement capability. Distribute returns
// the transaction hash on success; any error means the distribution did not
// happen and will not be retried synchronously.
type Settler interface {
	Distribute(ctx context.Context, sessionID string, split Split) (string, error)
}

// Result reports one settlement attempt.
type Result struct {
	Split   Split
	TxHash  string
	Settled bool
}

// Service drives settlement for closed sessions.
type Service struct {
	settler Settler
	log     zerolog.Logger
}

// NewService creates a settlement service. settler may be nil, in which case
// every close settles as a logged no-op.
func NewService(settler Settler, log zerolog.Logger) *Service {
	return &Service{
		settler: settler,
		log:     log.With().Str("component", "settlement").Logger(),
	}
}

// Settle computes the split for a closed session and attempts distribution.
// It never returns an error: a failed distribution is logged and reported in
// the result, and the already-closed session stays closed.
func (s *Service) Settle(ctx context.Context, sessionID string, totalPaid decimal.Decimal) Result {
	split := ComputeSplit(totalPaid)

	if totalPaid.Sign() == 0 {
		s.log.Debug().Str("session_id", sessionID).Msg("Nothing to settle")
		return Result{Split: split, Settled: true}
	}
	if s.settler == nil {
		s.log.Warn().Str("session_id", sessionID).Msg("No settler configured, skipping distribution")
		return Result{Split: split}
	}

	txHash, err := s.settler.Distribute(ctx, sessionID, split)
	if err != nil {
		s.log.Error().Err(err).
			Str("session_id", sessionID).
			Str("total_paid", totalPaid.String()).
			Msg("Chain settlement failed, ledger close stands")
		return Result{Split: split}
	}

	s.log.Info().
		Str("session_id", sessionID).
		Str("tx_hash", txHash).
		Str("creator_share", split.CreatorShare.String()).
		Str("holder_share", split.HolderShare.String()).
		Str("protocol_share", split.ProtocolShare.String()).
		Msg("Session settled on chain")

	return Result{Split: split, TxHash: txHash, Settled: true}
}
