package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CloseFunc closes one session end to end: ledger close, settlement and
// archival. The reaper borrows it from the composition root so the
// server-initiated path and the viewer-initiated path share one code path.
type CloseFunc func(ctx context.Context, sessionID string)

// Reaper closes sessions that have been idle longer than the configured
// window, releasing held deposits. Close is idempotent, so racing a viewer's
// own close is harmless.
type Reaper struct {
	registry *Registry
	closeFn  CloseFunc
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger
}

// NewReaper creates a reaper sweeping every interval for sessions idle
// longer than window.
func NewReaper(registry *Registry, closeFn CloseFunc, interval, window time.Duration, log zerolog.Logger) *Reaper {
	return &Reaper{
		registry: registry,
		closeFn:  closeFn,
		interval: interval,
		window:   window,
		log:      log.With().Str("component", "session_reaper").Logger(),
	}
}

// Run sweeps until the context is cancelled. It is meant to be launched as a
// goroutine from main.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	idle := r.registry.IdleSessions(r.window)
	for _, sessionID := range idle {
		r.log.Info().Str("session_id", sessionID).Msg("Closing idle session")
		r.closeFn(ctx, sessionID)
	}

	// Terminal sessions are archived at close; once they have also been
	// quiet for a full window they are dropped from memory.
	r.registry.EvictClosed(r.window)
}
