package playlist

import (
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yellowtv/streamgate/internal/keys"
)

func testSegments(t *testing.T, n int) []Segment {
	t.Helper()
	secret := make([]byte, keys.MasterSecretSize)
	segments := make([]Segment, n)
	for i := 0; i < n; i++ {
		km, err := keys.DeriveSegmentKeyMaterial(secret, "video-1", uint32(i))
		require.NoError(t, err)
		segments[i] = Segment{Index: i, Duration: 6.006, IV: km.IV}
	}
	return segments
}

func TestMedia_Structure(t *testing.T) {
	segments := testSegments(t, 3)
	out := Media("video-1", "https://cdn.example.com/", segments)

	assert.True(t, strings.HasPrefix(out, "#EXTM3U\n"))
	assert.Contains(t, out, "#EXT-X-VERSION:3\n")
	assert.Contains(t, out, "#EXT-X-TARGETDURATION:7\n")
	assert.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:0\n")
	assert.Contains(t, out, "#EXT-X-PLAYLIST-TYPE:VOD\n")
	assert.True(t, strings.HasSuffix(out, "#EXT-X-ENDLIST\n"))

	assert.Equal(t, 3, strings.Count(out, "#EXT-X-KEY:"))
	assert.Equal(t, 3, strings.Count(out, "#EXTINF:6.006,\n"))
}

func TestMedia_KeyDirectiveMatchesDeriver(t *testing.T) {
	segments := testSegments(t, 2)
	out := Media("video-1", "https://cdn.example.com", segments)

	for _, seg := range segments {
		directive := fmt.Sprintf(
			"#EXT-X-KEY:METHOD=AES-128,URI=\"https://cdn.example.com/api/videos/video-1/key/%d\",IV=0x%s",
			seg.Index, hex.EncodeToString(seg.IV[:]),
		)
		assert.Contains(t, out, directive)
	}
}

func TestMedia_SegmentOrder(t *testing.T) {
	segments := testSegments(t, 3)
	out := Media("video-1", "https://cdn.example.com", segments)

	first := strings.Index(out, "segment_00000.ts")
	second := strings.Index(out, "segment_00001.ts")
	third := strings.Index(out, "segment_00002.ts")
	assert.True(t, first >= 0 && first < second && second < third)
}

func TestKeyURI(t *testing.T) {
	assert.Equal(t,
		"https://cdn.example.com/api/videos/abc/key/4",
		KeyURI("https://cdn.example.com/", "abc", 4),
	)
	assert.Equal(t,
		"https://cdn.example.com/api/videos/abc/key/4",
		KeyURI("https://cdn.example.com", "abc", 4),
	)
}

func TestMaster(t *testing.T) {
	out := Master("playlist.m3u8", 2500000)

	assert.True(t, strings.HasPrefix(out, "#EXTM3U\n"))
	assert.Contains(t, out, "#EXT-X-STREAM-INF:BANDWIDTH=2500000\n")
	assert.Contains(t, out, "playlist.m3u8\n")
}

func TestSegmentFilename(t *testing.T) {
	assert.Equal(t, "segment_00000.ts", SegmentFilename(0))
	assert.Equal(t, "segment_00042.ts", SegmentFilename(42))
}
