package storage

import (
	"testing"
)

func TestContentType(t *testing.T) {
	tests := []struct {
		filePath string
		wantType string
	}{
		{"video.mp4", "video/mp4"},
		{"video.mov", "video/quicktime"},
		{"video.mkv", "video/x-matroska"},
		{"video.webm", "video/webm"},
		{"playlist.m3u8", "application/vnd.apple.mpegurl"},
		{"segment_00000.ts", "video/mp2t"},
		{"unknown.xyz", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.filePath, func(t *testing.T) {
			contentType := ContentType(tt.filePath)
			if contentType != tt.wantType {
				t.Errorf("ContentType(%q) = %q, want %q", tt.filePath, contentType, tt.wantType)
			}
		})
	}
}

func TestObjectKeys(t *testing.T) {
	if got := OriginalKey("vid-1", "upload.mp4"); got != "originals/vid-1/upload.mp4" {
		t.Errorf("OriginalKey = %q", got)
	}
	if got := SegmentKey("vid-1", "segment_00003.ts"); got != "videos/vid-1/segment_00003.ts" {
		t.Errorf("SegmentKey = %q", got)
	}
	if got := PlaylistKey("vid-1", "media.m3u8"); got != "videos/vid-1/media.m3u8" {
		t.Errorf("PlaylistKey = %q", got)
	}
}
