package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/yellowtv/streamgate/pkg/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	// Create a mini Redis server for testing
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	// Parse host and port
	cache, err := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create cache: %v", err)
	}

	return cache, mr
}

func TestNewCache(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	if cache == nil {
		t.Fatal("Cache should not be nil")
	}

	// Test ping
	ctx := context.Background()
	if err := cache.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestCache_VideoOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	// Create test video
	video := &models.Video{
		ID:                    "test-video-1",
		Title:                 "Test Video",
		CreatorAddress:        "0xcreator",
		Size:                  1024,
		TotalSegments:         10,
		SegmentDuration:       6,
		MerkleRoot:            "abc123",
		MasterSecretEncrypted: []byte{1, 2, 3},
		PricePerSegment:       decimal.RequireFromString("0.01"),
		Status:                models.VideoStatusProcessed,
	}

	// Test SetVideo
	err := cache.SetVideo(ctx, video, 5*time.Minute)
	if err != nil {
		t.Fatalf("SetVideo failed: %v", err)
	}

	// Test GetVideo
	retrieved, err := cache.GetVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("GetVideo failed: %v", err)
	}

	if retrieved == nil {
		t.Fatal("Retrieved video should not be nil")
	}

	if retrieved.ID != video.ID {
		t.Errorf("Expected ID %s, got %s", video.ID, retrieved.ID)
	}

	if retrieved.MerkleRoot != video.MerkleRoot {
		t.Errorf("Expected merkle root %s, got %s", video.MerkleRoot, retrieved.MerkleRoot)
	}

	if !retrieved.PricePerSegment.Equal(video.PricePerSegment) {
		t.Errorf("Expected price %s, got %s", video.PricePerSegment, retrieved.PricePerSegment)
	}

	// The secret-bearing fields are hidden from the model's JSON form but
	// must survive the cache round trip.
	if string(retrieved.MasterSecretEncrypted) != string(video.MasterSecretEncrypted) {
		t.Error("Encrypted master secret must survive the cache round trip")
	}

	// Test GetVideo for non-existent video
	nonExistent, err := cache.GetVideo(ctx, "non-existent")
	if err != nil {
		t.Fatalf("GetVideo for non-existent should not error: %v", err)
	}

	if nonExistent != nil {
		t.Error("Non-existent video should return nil")
	}

	// Test DeleteVideo
	err = cache.DeleteVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("DeleteVideo failed: %v", err)
	}

	// Verify deletion
	deleted, err := cache.GetVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("GetVideo after delete failed: %v", err)
	}

	if deleted != nil {
		t.Error("Deleted video should return nil")
	}
}

func TestCache_PlaylistOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	videoID := "test-video-1"
	body := "#EXTM3U\n#EXT-X-VERSION:3\n"

	// Test SetPlaylist
	err := cache.SetPlaylist(ctx, videoID, "media.m3u8", body, 10*time.Minute)
	if err != nil {
		t.Fatalf("SetPlaylist failed: %v", err)
	}

	// Test GetPlaylist
	retrieved, err := cache.GetPlaylist(ctx, videoID, "media.m3u8")
	if err != nil {
		t.Fatalf("GetPlaylist failed: %v", err)
	}

	if retrieved != body {
		t.Errorf("Expected playlist %q, got %q", body, retrieved)
	}

	// Test non-existent playlist
	nonExistent, err := cache.GetPlaylist(ctx, videoID, "missing.m3u8")
	if err != nil {
		t.Fatalf("GetPlaylist for non-existent should not error: %v", err)
	}

	if nonExistent != "" {
		t.Error("Non-existent playlist should return empty string")
	}
}
