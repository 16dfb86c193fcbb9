package models

import "time"

// ProcessingJob is the message published to the processing queue when a
// video upload completes. The worker derives keys, encrypts segments,
// uploads them and publishes the key commitment.
type ProcessingJob struct {
	ID          string    `json:"id"`
	VideoID     string    `json:"video_id"`
	Priority    int       `json:"priority"`
	RequestedAt time.Time `json:"requested_at"`
}

// Processing job priorities
const (
	JobPriorityLow    = 1
	JobPriorityNormal = 5
	JobPriorityHigh   = 9
)

// EncodedSegment is one raw segment produced by the encoder collaborator:
// plaintext transport-stream bytes plus the segment's playback duration.
type EncodedSegment struct {
	Index    int
	Duration float64
	Data     []byte
}
