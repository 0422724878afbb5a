package extractor

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roadscan/roadscan/internal/models"
)

// ExtractFrames extracts frames from a video file at the given rate and
// returns one FrameRecord per extracted image, capped at maxFrames.
func ExtractFrames(videoPath, outputDir string, fps float64, maxFrames int) ([]models.FrameRecord, error) {
	// Check if video file exists
	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("video file does not exist at path: '%s'", videoPath)
	}

	// Create a subfolder with the video's name
	videoName := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	frameDirPath := filepath.Join(outputDir, videoName)

	if err := os.MkdirAll(frameDirPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory '%s': %v", frameDirPath, err)
	}

	// Reuse frames from a previous run when present
	if records, err := collectFrames(frameDirPath, fps, maxFrames); err == nil && len(records) > 0 {
		return records, nil
	}

	// Extract frames using ffmpeg
	ffmpegCommand := exec.Command(
		"ffmpeg",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=%g", fps),
		fmt.Sprintf("%s/frame_%%06d.jpg", frameDirPath),
	)

	output, err := ffmpegCommand.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %v\nOutput: %s", err, string(output))
	}

	return collectFrames(frameDirPath, fps, maxFrames)
}

// collectFrames lists the extracted JPEG files in order and builds frame
// records with timestamps derived from the extraction rate.
func collectFrames(frameDirPath string, fps float64, maxFrames int) ([]models.FrameRecord, error) {
	files, err := os.ReadDir(frameDirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames directory '%s': %v", frameDirPath, err)
	}

	var names []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(strings.ToLower(file.Name()), ".jpg") {
			names = append(names, file.Name())
		}
	}
	sort.Strings(names)

	if maxFrames > 0 && len(names) > maxFrames {
		names = names[:maxFrames]
	}

	records := make([]models.FrameRecord, len(names))
	for i, name := range names {
		records[i] = models.FrameRecord{
			Index:     i,
			Timestamp: float64(i) / fps,
			ImagePath: filepath.Join(frameDirPath, name),
		}
	}
	return records, nil
}

// LoadFrames produces the frame sequence for an input path. Still images
// wrap as a single frame; anything else goes through ffmpeg extraction.
func LoadFrames(inputPath, outputDir string, fps float64, maxFrames int) ([]models.FrameRecord, error) {
	switch strings.ToLower(filepath.Ext(inputPath)) {
	case ".jpg", ".jpeg", ".png":
		return WrapImage(inputPath)
	default:
		return ExtractFrames(inputPath, outputDir, fps, maxFrames)
	}
}

// WrapImage treats a single still image as a one-frame sequence.
func WrapImage(imagePath string) ([]models.FrameRecord, error) {
	if _, err := os.Stat(imagePath); err != nil {
		return nil, fmt.Errorf("could not open image '%s': %v", imagePath, err)
	}
	return []models.FrameRecord{{Index: 0, Timestamp: 0, ImagePath: imagePath}}, nil
}

// TrackPoint is one sample of a recorded GPS track.
type TrackPoint struct {
	Timestamp float64 `json:"timestamp"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
}

// LoadGPSTrack reads a JSON GPS track file sorted by timestamp.
func LoadGPSTrack(path string) ([]TrackPoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read GPS track '%s': %v", path, err)
	}
	var track []TrackPoint
	if err := json.Unmarshal(data, &track); err != nil {
		return nil, fmt.Errorf("failed to parse GPS track '%s': %v", path, err)
	}
	sort.Slice(track, func(i, j int) bool { return track[i].Timestamp < track[j].Timestamp })
	return track, nil
}

// AttachGPSTrack assigns each frame the track point nearest in time, within
// the tolerance. Frames without a close enough sample keep a nil fix.
func AttachGPSTrack(frames []models.FrameRecord, track []TrackPoint, toleranceS float64) []models.FrameRecord {
	if len(track) == 0 {
		return frames
	}
	out := make([]models.FrameRecord, len(frames))
	ti := 0
	for i, frame := range frames {
		for ti+1 < len(track) && track[ti+1].Timestamp <= frame.Timestamp {
			ti++
		}
		best := track[ti]
		if ti+1 < len(track) &&
			math.Abs(track[ti+1].Timestamp-frame.Timestamp) < math.Abs(best.Timestamp-frame.Timestamp) {
			best = track[ti+1]
		}
		if math.Abs(best.Timestamp-frame.Timestamp) <= toleranceS {
			frame.GPS = &models.GPS{Lat: best.Lat, Lon: best.Lon}
		}
		out[i] = frame
	}
	return out
}
