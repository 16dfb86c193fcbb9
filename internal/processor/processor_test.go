package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yellowtv/streamgate/internal/commitment"
	"github.com/yellowtv/streamgate/internal/keys"
	"github.com/yellowtv/streamgate/internal/segment"
	"github.com/yellowtv/streamgate/pkg/models"
)

type fakeVideoStore struct {
	mu     sync.Mutex
	videos map[string]*models.Video
}

func (f *fakeVideoStore) GetVideo(_ context.Context, id string) (*models.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.videos[id]
	if !ok {
		return nil, nil
	}
	copied := *v
	return &copied, nil
}

func (f *fakeVideoStore) UpdateVideoStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.videos[id]
	if !ok {
		return fmt.Errorf("video %s not found", id)
	}
	v.Status = status
	return nil
}

func (f *fakeVideoStore) UpdateVideoProcessed(_ context.Context, video *models.Video) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.videos[video.ID]
	if !ok {
		return fmt.Errorf("video %s not found", video.ID)
	}
	v.TotalSegments = video.TotalSegments
	v.SegmentDuration = video.SegmentDuration
	v.MerkleRoot = video.MerkleRoot
	v.SerializedTree = video.SerializedTree
	v.MasterSecretEncrypted = video.MasterSecretEncrypted
	v.Status = models.VideoStatusProcessed
	return nil
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Download(_ context.Context, objectName string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectName]
	if !ok {
		return nil, fmt.Errorf("object %s not found", objectName)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjectStore) Upload(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectName] = data
	return nil
}

func (f *fakeObjectStore) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

type fakeEncoder struct {
	segments []models.EncodedSegment
	err      error
}

func (f *fakeEncoder) Segment(_ context.Context, _ string, _ int) ([]models.EncodedSegment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.segments, nil
}

func testKEK() []byte {
	return bytes.Repeat([]byte{0x22}, keys.KEKSize)
}

func testSegments(n int) []models.EncodedSegment {
	segments := make([]models.EncodedSegment, n)
	for i := range segments {
		segments[i] = models.EncodedSegment{
			Index:    i,
			Duration: 6.006,
			Data:     bytes.Repeat([]byte{byte(i + 1)}, 188*3),
		}
	}
	return segments
}

func newTestProcessor(videos *fakeVideoStore, objects *fakeObjectStore, enc *fakeEncoder) *Processor {
	return New(videos, objects, enc, testKEK(), Config{
		SegmentTime: 6,
		Bandwidth:   2500000,
		BaseURL:     "https://stream.example.com",
	}, zerolog.Nop())
}

func TestProcess_FullPipeline(t *testing.T) {
	videos := &fakeVideoStore{videos: map[string]*models.Video{
		"vid-1": {
			ID:          "vid-1",
			OriginalURL: "originals/vid-1/upload.mp4",
			Status:      models.VideoStatusUploaded,
		},
	}}
	objects := newFakeObjectStore()
	objects.objects["originals/vid-1/upload.mp4"] = []byte("raw video bytes")
	enc := &fakeEncoder{segments: testSegments(5)}

	p := newTestProcessor(videos, objects, enc)
	job := &models.ProcessingJob{ID: "job-1", VideoID: "vid-1"}

	require.NoError(t, p.Process(context.Background(), job))

	video, err := videos.GetVideo(context.Background(), "vid-1")
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusProcessed, video.Status)
	assert.Equal(t, 5, video.TotalSegments)
	assert.InDelta(t, 6.006, video.SegmentDuration, 0.001)
	assert.NotEmpty(t, video.MerkleRoot)
	assert.NotEmpty(t, video.SerializedTree)
	assert.NotEmpty(t, video.MasterSecretEncrypted)
	assert.True(t, video.IsProcessed())

	// Every segment was uploaded, encrypted under its derived key.
	masterSecret, err := keys.DecryptMasterSecret(testKEK(), video.MasterSecretEncrypted)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ciphertext, ok := objects.get(fmt.Sprintf("videos/vid-1/segment_%05d.ts", i))
		require.True(t, ok, "segment %d must be uploaded", i)

		km, err := keys.DeriveSegmentKeyMaterial(masterSecret, "vid-1", uint32(i))
		require.NoError(t, err)

		plaintext, err := segment.Decrypt(ciphertext, km.Key[:], km.IV[:])
		require.NoError(t, err)
		assert.Equal(t, enc.segments[i].Data, plaintext)
	}

	// The stored tree commits to exactly the derived key set.
	tree, err := commitment.Deserialize(video.SerializedTree)
	require.NoError(t, err)
	assert.Equal(t, video.MerkleRoot, tree.Root().Hex())

	material, err := keys.DeriveAllSegmentKeys(masterSecret, "vid-1", 5)
	require.NoError(t, err)
	rebuilt, err := commitment.Build(material)
	require.NoError(t, err)
	assert.Equal(t, rebuilt.Root(), tree.Root())
}

func TestProcess_Playlists(t *testing.T) {
	videos := &fakeVideoStore{videos: map[string]*models.Video{
		"vid-1": {
			ID:          "vid-1",
			OriginalURL: "originals/vid-1/upload.mp4",
			Status:      models.VideoStatusUploaded,
		},
	}}
	objects := newFakeObjectStore()
	objects.objects["originals/vid-1/upload.mp4"] = []byte("raw video bytes")
	enc := &fakeEncoder{segments: testSegments(3)}

	p := newTestProcessor(videos, objects, enc)
	require.NoError(t, p.Process(context.Background(), &models.ProcessingJob{ID: "job-1", VideoID: "vid-1"}))

	media, ok := objects.get("videos/vid-1/media.m3u8")
	require.True(t, ok)
	body := string(media)
	assert.True(t, strings.HasPrefix(body, "#EXTM3U\n"))
	assert.Contains(t, body, "#EXT-X-KEY:METHOD=AES-128,URI=\"https://stream.example.com/api/videos/vid-1/key/0\"")
	assert.Contains(t, body, "segment_00002.ts")
	assert.Contains(t, body, "#EXT-X-ENDLIST")

	master, ok := objects.get("videos/vid-1/master.m3u8")
	require.True(t, ok)
	assert.Contains(t, string(master), "BANDWIDTH=2500000")
	assert.Contains(t, string(master), "media.m3u8")
}

func TestProcess_EncoderFailureMarksFailed(t *testing.T) {
	videos := &fakeVideoStore{videos: map[string]*models.Video{
		"vid-1": {
			ID:          "vid-1",
			OriginalURL: "originals/vid-1/upload.mp4",
			Status:      models.VideoStatusUploaded,
		},
	}}
	objects := newFakeObjectStore()
	objects.objects["originals/vid-1/upload.mp4"] = []byte("raw video bytes")
	enc := &fakeEncoder{err: fmt.Errorf("codec exploded")}

	p := newTestProcessor(videos, objects, enc)
	err := p.Process(context.Background(), &models.ProcessingJob{ID: "job-1", VideoID: "vid-1"})
	require.Error(t, err)

	video, _ := videos.GetVideo(context.Background(), "vid-1")
	assert.Equal(t, models.VideoStatusFailed, video.Status)
}

func TestProcess_MissingOriginalMarksFailed(t *testing.T) {
	videos := &fakeVideoStore{videos: map[string]*models.Video{
		"vid-1": {
			ID:          "vid-1",
			OriginalURL: "originals/vid-1/upload.mp4",
			Status:      models.VideoStatusUploaded,
		},
	}}
	objects := newFakeObjectStore()
	enc := &fakeEncoder{segments: testSegments(3)}

	p := newTestProcessor(videos, objects, enc)
	err := p.Process(context.Background(), &models.ProcessingJob{ID: "job-1", VideoID: "vid-1"})
	require.Error(t, err)

	video, _ := videos.GetVideo(context.Background(), "vid-1")
	assert.Equal(t, models.VideoStatusFailed, video.Status)
}

func TestProcess_UnknownVideo(t *testing.T) {
	p := newTestProcessor(&fakeVideoStore{videos: map[string]*models.Video{}}, newFakeObjectStore(), &fakeEncoder{})
	err := p.Process(context.Background(), &models.ProcessingJob{ID: "job-1", VideoID: "missing"})
	assert.Error(t, err)
}

func TestProcess_AlreadyProcessedIsNoop(t *testing.T) {
	videos := &fakeVideoStore{videos: map[string]*models.Video{
		"vid-1": {
			ID:     "vid-1",
			Status: models.VideoStatusProcessed,
		},
	}}
	enc := &fakeEncoder{err: fmt.Errorf("should not be called")}

	p := newTestProcessor(videos, newFakeObjectStore(), enc)
	assert.NoError(t, p.Process(context.Background(), &models.ProcessingJob{ID: "job-1", VideoID: "vid-1"}))
}
