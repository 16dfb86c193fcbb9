package settlement

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ChainSettler posts distributions to the external settlement service over
// HTTP, signing each payload with a shared HMAC secret.
type ChainSettler struct {
	client   *http.Client
	endpoint string
	secret   string
}

// NewChainSettler creates a settler for the given endpoint.
func NewChainSettler(endpoint, secret string) *ChainSettler {
	return &ChainSettler{
		client:   &http.Client{Timeout: 30 * time.Second},
		endpoint: endpoint,
		secret:   secret,
	}
}

type distributeRequest struct {
	SessionID string `json:"session_id"`
	Split     Split  `json:"split"`
}

type distributeResponse struct {
	TxHash string `json:"tx_hash"`
}

// Distribute submits the split for on-chain distribution and returns the
// transaction hash reported by the settlement service.
func (c *ChainSettler) Distribute(ctx context.Context, sessionID string, split Split) (string, error) {
	payload, err := json.Marshal(distributeRequest{SessionID: sessionID, Split: split})
	if err != nil {
		return "", fmt.Errorf("failed to marshal distribution: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", c.sign(payload))

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("distribution request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read distribution response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("distribution rejected with status %d: %s", resp.StatusCode, body)
	}

	var result distributeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode distribution response: %w", err)
	}
	if result.TxHash == "" {
		return "", fmt.Errorf("distribution response missing tx hash")
	}
	return result.TxHash, nil
}

func (c *ChainSettler) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
