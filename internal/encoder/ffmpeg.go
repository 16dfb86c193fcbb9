// Package encoder turns an uploaded video into plaintext MPEG-TS segments.
// Encryption is not its concern: the processor encrypts each segment with its
// derived key after segmentation.
package encoder

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/yellowtv/streamgate/pkg/models"
)

// Encoder segments a source video into fixed-duration transport stream
// segments.
type Encoder interface {
	Segment(ctx context.Context, inputPath string, segmentTime int) ([]models.EncodedSegment, error)
}

// FFmpeg is the ffmpeg-backed Encoder.
type FFmpeg struct {
	ffmpegPath string
	tempDir    string
}

// NewFFmpeg creates an ffmpeg encoder. ffmpegPath defaults to "ffmpeg" when
// empty.
func NewFFmpeg(ffmpegPath, tempDir string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpeg{
		ffmpegPath: ffmpegPath,
		tempDir:    tempDir,
	}
}

// Segment splits the input into MPEG-TS segments of roughly segmentTime
// seconds and returns them in index order with their exact durations as
// reported by ffmpeg's segment list.
func (f *FFmpeg) Segment(ctx context.Context, inputPath string, segmentTime int) ([]models.EncodedSegment, error) {
	if segmentTime <= 0 {
		segmentTime = 6
	}

	outputDir, err := os.MkdirTemp(f.tempDir, "segments-")
	if err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}
	defer os.RemoveAll(outputDir)

	listPath := filepath.Join(outputDir, "segments.csv")

	args := []string{
		"-i", inputPath,
		"-y",
		"-c", "copy",
		"-map", "0",
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%d", segmentTime),
		"-segment_format", "mpegts",
		"-segment_list", listPath,
		"-segment_list_type", "csv",
		"-reset_timestamps", "1",
		filepath.Join(outputDir, "segment_%05d.ts"),
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg segmentation failed: %w: %s", err, stderr.String())
	}

	durations, err := readSegmentList(listPath)
	if err != nil {
		return nil, err
	}

	return readSegments(outputDir, durations)
}

// readSegmentList parses ffmpeg's CSV segment list: filename,start,end per
// row.
func readSegmentList(listPath string) (map[string]float64, error) {
	file, err := os.Open(listPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment list: %w", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse segment list: %w", err)
	}

	durations := make(map[string]float64, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		start, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad segment start %q: %w", row[1], err)
		}
		end, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("bad segment end %q: %w", row[2], err)
		}
		durations[row[0]] = end - start
	}

	return durations, nil
}

func readSegments(outputDir string, durations map[string]float64) ([]models.EncodedSegment, error) {
	names := make([]string, 0, len(durations))
	for name := range durations {
		names = append(names, name)
	}
	// segment_%05d naming sorts lexically in index order
	sort.Strings(names)

	segments := make([]models.EncodedSegment, 0, len(names))
	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(outputDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read segment %s: %w", name, err)
		}
		segments = append(segments, models.EncodedSegment{
			Index:    i,
			Duration: durations[name],
			Data:     data,
		})
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no segments")
	}
	return segments, nil
}
