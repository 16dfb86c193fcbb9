package main

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yellowtv/streamgate/internal/keygate"
	"github.com/yellowtv/streamgate/internal/metrics"
)

// authFromRequest extracts the presented credentials: a metered session id
// from X-Yellow-Session, or a legacy bearer token. The metered header wins
// when both are present.
func authFromRequest(c *gin.Context) keygate.AuthContext {
	auth := keygate.AuthContext{
		SessionID: c.GetHeader("X-Yellow-Session"),
	}
	if auth.SessionID == "" {
		header := c.GetHeader("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			auth.BearerToken = strings.TrimPrefix(header, "Bearer ")
		}
	}
	return auth
}

// getSegmentKey serves raw key bytes for HLS players following the media
// playlist's EXT-X-KEY URI. The IV travels in the playlist, not here.
func (api *API) getSegmentKey(c *gin.Context) {
	videoID := c.Param("id")
	segmentIndex, err := strconv.Atoi(c.Param("segment"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid segment index"})
		return
	}

	material, err := api.gate.AuthorizeAndDeriveKey(c.Request.Context(), videoID, segmentIndex, authFromRequest(c), false)
	if err != nil {
		metrics.RecordKeyRequest("binary", outcomeLabel(err))
		api.writeKeyError(c, videoID, err)
		return
	}

	metrics.RecordKeyRequest("binary", "granted")
	c.Data(http.StatusOK, "application/octet-stream", material.Key[:])
}

// getSegmentKeyJSON serves the verifiable path: key, IV and the Merkle
// inclusion proof, base64-encoded, for clients that check delivered keys
// against the published root.
func (api *API) getSegmentKeyJSON(c *gin.Context) {
	videoID := c.Param("id")
	segmentIndex, err := strconv.Atoi(c.Param("segment"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid segment index"})
		return
	}

	material, err := api.gate.AuthorizeAndDeriveKey(c.Request.Context(), videoID, segmentIndex, authFromRequest(c), true)
	if err != nil {
		metrics.RecordKeyRequest("json", outcomeLabel(err))
		api.writeKeyError(c, videoID, err)
		return
	}

	proof := make([]string, len(material.Proof))
	for i, digest := range material.Proof {
		proof[i] = base64.StdEncoding.EncodeToString(digest[:])
	}

	metrics.RecordKeyRequest("json", "granted")
	c.JSON(http.StatusOK, gin.H{
		"segmentIndex": material.SegmentIndex,
		"key":          base64.StdEncoding.EncodeToString(material.Key[:]),
		"iv":           base64.StdEncoding.EncodeToString(material.IV[:]),
		"proof":        proof,
	})
}

// writeKeyError maps gate errors onto the HTTP surface. Denials become 401
// or 402 with actionable bodies; everything else is a request or server
// error.
func (api *API) writeKeyError(c *gin.Context, videoID string, err error) {
	var denied *keygate.DeniedError
	if errors.As(err, &denied) {
		switch denied.Reason {
		case keygate.DenialPaymentRequired:
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error": string(denied.Reason),
				"instructions": gin.H{
					"step1":           "POST /api/videos/" + videoID + "/session with your address and depositAmount",
					"step2":           "retry this request with the X-Yellow-Session header",
					"pricePerSegment": denied.PricePerSegment.String(),
					"asset":           api.cfg.Metering.Asset,
				},
			})
		case keygate.DenialInsufficientBalance:
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":           string(denied.Reason),
				"viewerBalance":   denied.ViewerBalance.String(),
				"pricePerSegment": denied.PricePerSegment.String(),
			})
		default:
			c.JSON(http.StatusUnauthorized, gin.H{"error": string(denied.Reason)})
		}
		return
	}

	switch {
	case errors.Is(err, keygate.ErrIndexOutOfRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Segment index out of range"})
	case errors.Is(err, keygate.ErrVideoNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
	case errors.Is(err, keygate.ErrVideoNotProcessed):
		c.JSON(http.StatusNotFound, gin.H{"error": "Video has not been processed"})
	default:
		metrics.RecordError("api", "key_request")
		api.log.Error().Err(err).Str("video_id", videoID).Msg("Key request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func outcomeLabel(err error) string {
	var denied *keygate.DeniedError
	if errors.As(err, &denied) {
		return "denied"
	}
	return "error"
}
