package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roadscan/roadscan/internal/models"
)

// Storage defines the interface for persisting analysis runs
type Storage interface {
	// SaveResult persists a completed analysis result
	SaveResult(ctx context.Context, result *models.AnalysisResult) error

	// UpdateStatus records a job status transition for polling
	UpdateStatus(ctx context.Context, analysisID string, status models.AnalysisStatus, progress int, failure string) error

	// Close releases any held resources
	Close()
}

// statusRecord is the on-disk status document
type statusRecord struct {
	AnalysisID string                `json:"analysis_id"`
	Status     models.AnalysisStatus `json:"status"`
	Progress   int                   `json:"progress"`
	Failure    string                `json:"failure,omitempty"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// fileStorage writes results and status documents as JSON files under an
// output directory, one subdirectory per analysis
type fileStorage struct {
	mu        sync.Mutex
	outputDir string
}

// NewFileStorage creates a file-based storage manager
func NewFileStorage(outputDir string) Storage {
	return &fileStorage{outputDir: outputDir}
}

// SaveResult writes the full analysis result document
func (s *fileStorage) SaveResult(ctx context.Context, result *models.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(result.AnalysisID, "results.json", result)
}

// UpdateStatus writes the status document for the analysis
func (s *fileStorage) UpdateStatus(ctx context.Context, analysisID string, status models.AnalysisStatus, progress int, failure string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(analysisID, "status.json", statusRecord{
		AnalysisID: analysisID,
		Status:     status,
		Progress:   progress,
		Failure:    failure,
		UpdatedAt:  time.Now().UTC(),
	})
}

func (s *fileStorage) Close() {}

func (s *fileStorage) writeJSON(analysisID, name string, doc any) error {
	dir := filepath.Join(s.outputDir, analysisID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory for results: %v", err)
	}

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create results file: %v", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode results: %v", err)
	}
	return nil
}

// LoadResult reads a previously saved result document, for replay and
// inspection tooling
func LoadResult(outputDir, analysisID string) (*models.AnalysisResult, error) {
	path := filepath.Join(outputDir, analysisID, "results.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results file: %v", err)
	}
	var result models.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal results: %v", err)
	}
	return &result, nil
}
