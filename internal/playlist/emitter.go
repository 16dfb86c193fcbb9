// Package playlist renders the HLS playlists for an encrypted video. The
// media playlist carries one EXT-X-KEY directive per segment pointing at the
// key-delivery endpoint, with the exact IV the deriver produces for that
// index; the player needs both the fetched key bytes and this IV to decrypt.
package playlist

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/yellowtv/streamgate/internal/keys"
)

// Segment is the per-segment metadata the emitter needs: playback order,
// duration and the derived IV.
type Segment struct {
	Index    int
	Duration float64
	IV       [keys.IVSize]byte
}

// SegmentFilename returns the canonical object name for a segment, matching
// what the processor uploads and the media playlist references.
func SegmentFilename(index int) string {
	return fmt.Sprintf("segment_%05d.ts", index)
}

// KeyURI returns the key-delivery URL for one segment:
// {base}/api/videos/{videoID}/key/{index}.
func KeyURI(baseURL, videoID string, index int) string {
	return fmt.Sprintf("%s/api/videos/%s/key/%d", strings.TrimSuffix(baseURL, "/"), videoID, index)
}

// Media renders the media playlist for a video's ordered segments.
func Media(videoID, keyBaseURL string, segments []Segment) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDuration(segments)))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")

	for _, seg := range segments {
		b.WriteString(fmt.Sprintf("#EXT-X-KEY:METHOD=AES-128,URI=\"%s\",IV=0x%s\n",
			KeyURI(keyBaseURL, videoID, seg.Index),
			hex.EncodeToString(seg.IV[:]),
		))
		b.WriteString(fmt.Sprintf("#EXTINF:%.3f,\n", seg.Duration))
		b.WriteString(SegmentFilename(seg.Index) + "\n")
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// Master renders the master playlist referencing the single rendition.
func Master(mediaPlaylistName string, bandwidth int64) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d\n", bandwidth))
	b.WriteString(mediaPlaylistName + "\n")
	return b.String()
}

// targetDuration is the ceiling of the longest segment duration, per the HLS
// spec's EXT-X-TARGETDURATION requirement.
func targetDuration(segments []Segment) int {
	longest := 0.0
	for _, seg := range segments {
		if seg.Duration > longest {
			longest = seg.Duration
		}
	}
	if longest == 0 {
		return 1
	}
	return int(math.Ceil(longest))
}
