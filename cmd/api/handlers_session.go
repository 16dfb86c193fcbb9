package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/yellowtv/streamgate/internal/ledger"
	"github.com/yellowtv/streamgate/internal/metrics"
)

type openSessionRequest struct {
	ViewerAddress string `json:"viewerAddress"`
	DepositAmount string `json:"depositAmount"`
}

// openSession opens a viewing session for a video. A request carrying a
// depositAmount opens a metered ledger session; without one it falls back to
// issuing a legacy expiring token.
func (api *API) openSession(c *gin.Context) {
	videoID := c.Param("id")

	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
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

	if req.DepositAmount == "" {
		api.openLegacySession(c, videoID, req.ViewerAddress)
		return
	}

	deposit, err := decimal.NewFromString(req.DepositAmount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid deposit amount"})
		return
	}

	// One active session per viewer per video: the registry hands the
	// existing one back instead of locking a second deposit.
	session, existing, err := api.registry.OpenOrExisting(
		videoID,
		req.ViewerAddress,
		video.CreatorAddress,
		api.cfg.Metering.ServerAddress,
		deposit,
		video.PricePerSegment,
	)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusCreated
	if existing {
		status = http.StatusOK
	} else {
		metrics.RecordSessionOpened("metered")
		metrics.SessionsActive.Set(float64(api.registry.ActiveCount()))
	}

	c.JSON(status, gin.H{
		"appSessionId":    session.ID,
		"pricePerSegment": session.PricePerSegment.String(),
		"viewerBalance":   session.ViewerBalance.String(),
		"totalDeposited":  session.TotalDeposited.String(),
		"asset":           api.cfg.Metering.Asset,
	})
}

func (api *API) openLegacySession(c *gin.Context, videoID, viewerAddress string) {
	token, err := api.tokens.Create(c.Request.Context(), videoID, viewerAddress)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	metrics.RecordSessionOpened("legacy")
	c.JSON(http.StatusCreated, gin.H{
		"sessionId": token.ID,
		"expiresAt": token.ExpiresAt.Format(time.RFC3339),
	})
}

// closeSession closes a metered session, refunds the remaining viewer
// balance and triggers best-effort settlement of the creator's take.
func (api *API) closeSession(c *gin.Context) {
	sessionID := c.Param("sid")

	if session, ok := api.registry.Lookup(sessionID); !ok || session.VideoID != c.Param("id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	closeResult, settleResult, err := api.closeAndSettle(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ledger.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if !closeResult.AlreadyClosed {
		metrics.RecordSessionClosed("viewer")
	}

	c.JSON(http.StatusOK, gin.H{
		"closed":            true,
		"totalPaid":         closeResult.TotalPaid.String(),
		"viewerRefund":      closeResult.ViewerRefund.String(),
		"segmentsDelivered": closeResult.SegmentsDelivered,
		"settled":           settleResult.Settled,
	})
}

// sessionStatus reports a session's live balances and watch progress. Closed
// sessions eventually leave the in-memory registry; those are served from the
// archive so a viewer can still audit what they paid.
func (api *API) sessionStatus(c *gin.Context) {
	sessionID := c.Param("sid")

	session, ok := api.registry.Lookup(sessionID)
	if !ok {
		if api.archive != nil {
			if archived, err := api.archive.GetArchivedSession(c.Request.Context(), sessionID); err == nil && archived != nil {
				session = *archived
				ok = true
			} else if err != nil {
				api.log.Warn().Err(err).Str("session_id", sessionID).Msg("Archive lookup failed")
			}
		}
	}
	if !ok || session.VideoID != c.Param("id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	secondsWatched := 0.0
	if video, err := api.videos.GetVideo(c.Request.Context(), session.VideoID); err == nil && video != nil {
		secondsWatched = float64(session.SegmentsDelivered) * video.SegmentDuration
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId":         session.ID,
		"videoId":           session.VideoID,
		"status":            session.Status,
		"viewerBalance":     session.ViewerBalance.String(),
		"creatorBalance":    session.CreatorBalance.String(),
		"totalDeposited":    session.TotalDeposited.String(),
		"segmentsDelivered": session.SegmentsDelivered,
		"secondsWatched":    secondsWatched,
		"version":           session.Version,
	})
}
