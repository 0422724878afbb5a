package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadscan/roadscan/internal/models"
)

func sampleResult() *models.AnalysisResult {
	fix := &models.GPS{Lat: 51.5, Lon: -0.12}
	return &models.AnalysisResult{
		AnalysisID: "test-analysis",
		Pairs: []models.AlignedPair{
			{PairIndex: 0, Method: models.AlignGPS, MatchConfidence: 1.0},
		},
		Changes: []models.ChangeRecord{
			{
				PairIndex:        0,
				ElementType:      models.ElementPavementCrack,
				Kind:             models.ChangeNew,
				Present:          &models.Detection{Confidence: 0.9},
				SeverityScore:    7.2,
				SeverityCategory: models.SeveritySevere,
				GPS:              fix,
			},
		},
		Segments: []models.SegmentSummary{
			{
				SegmentID:   models.UnsegmentedID,
				TotalIssues: 1,
				SevereCount: 1,
				ByElement: map[models.ElementType]models.SeverityCounts{
					models.ElementPavementCrack: {Severe: 1},
				},
			},
		},
		Summary: models.OverallSummary{
			TotalIssues:  1,
			SevereIssues: 1,
			ElementTypes: 1,
			ByElement: map[models.ElementType]models.SeverityCounts{
				models.ElementPavementCrack: {Severe: 1},
			},
			ResolvedIssues: map[models.ElementType]int{},
		},
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFileStorageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStorage(dir)
	defer store.Close()

	result := sampleResult()
	require.NoError(t, store.SaveResult(context.Background(), result))

	loaded, err := LoadResult(dir, result.AnalysisID)
	require.NoError(t, err)
	assert.Equal(t, result, loaded)
}

func TestFileStorageStatus(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStorage(dir)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.UpdateStatus(ctx, "job-9", models.StatusProcessing, 30, ""))
	require.NoError(t, store.UpdateStatus(ctx, "job-9", models.StatusFailed, 30, "no_frames: no frames in present video"))

	data, err := os.ReadFile(filepath.Join(dir, "job-9", "status.json"))
	require.NoError(t, err)

	var status statusRecord
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, "job-9", status.AnalysisID)
	assert.Equal(t, models.StatusFailed, status.Status)
	assert.Equal(t, 30, status.Progress)
	assert.Contains(t, status.Failure, "no frames")
}

func TestLoadResultMissing(t *testing.T) {
	_, err := LoadResult(t.TempDir(), "nope")
	assert.Error(t, err)
}

func TestDescribeChange(t *testing.T) {
	desc := describeChange(models.ChangeRecord{
		ElementType:      models.ElementMissingStud,
		Kind:             models.ChangeWorsened,
		SeverityScore:    8.4,
		SeverityCategory: models.SeveritySevere,
		GPS:              &models.GPS{Lat: 51.50001, Lon: -0.12345},
	})
	assert.Contains(t, desc, "worsened missing_stud")
	assert.Contains(t, desc, "severe")
	assert.Contains(t, desc, "51.50001")
}
