package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"

	"github.com/roadscan/roadscan/internal/analyzer"
	"github.com/roadscan/roadscan/internal/config"
	"github.com/roadscan/roadscan/internal/detect"
	"github.com/roadscan/roadscan/internal/embeddings"
	"github.com/roadscan/roadscan/internal/extractor"
	"github.com/roadscan/roadscan/internal/models"
	"github.com/roadscan/roadscan/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Configure logger
	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: "15:04:05",
		}),
	)

	// Parse command line arguments
	var (
		baseVideo    string
		presentVideo string
		baseTrack    string
		presentTrack string
		segmentsPath string
		configPath   string
		outputDir    = "output_frames"
		ollamaModel  = "llama3.2-vision:11b"
		usePostgres  bool
	)

	for i := 1; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "--base":
			if i+1 < len(os.Args) {
				baseVideo = os.Args[i+1]
				i++
			}
		case "--present":
			if i+1 < len(os.Args) {
				presentVideo = os.Args[i+1]
				i++
			}
		case "--base-track":
			if i+1 < len(os.Args) {
				baseTrack = os.Args[i+1]
				i++
			}
		case "--present-track":
			if i+1 < len(os.Args) {
				presentTrack = os.Args[i+1]
				i++
			}
		case "--segments":
			if i+1 < len(os.Args) {
				segmentsPath = os.Args[i+1]
				i++
			}
		case "--config":
			if i+1 < len(os.Args) {
				configPath = os.Args[i+1]
				i++
			}
		case "--output":
			if i+1 < len(os.Args) {
				outputDir = os.Args[i+1]
				i++
			}
		case "--model":
			if i+1 < len(os.Args) {
				ollamaModel = os.Args[i+1]
				i++
			}
		case "--postgres":
			usePostgres = true
		}
	}

	if baseVideo == "" || presentVideo == "" {
		fmt.Println("Usage: roadscan --base base.mp4 --present present.mp4 [--base-track track.json] [--present-track track.json] [--segments segments.json] [--config config.json] [--output output_directory] [--model ollama_model] [--postgres]")
		os.Exit(1)
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	// Extract frames from both recordings; still images pass through as
	// single-frame sequences
	baseFrames, err := extractor.LoadFrames(baseVideo, outputDir, cfg.FrameFPS, cfg.MaxFrames)
	if err != nil {
		log.Fatalf("Failed to extract base frames: %v", err)
	}
	presentFrames, err := extractor.LoadFrames(presentVideo, outputDir, cfg.FrameFPS, cfg.MaxFrames)
	if err != nil {
		log.Fatalf("Failed to extract present frames: %v", err)
	}

	baseFrames, err = attachTrack(baseFrames, baseTrack, cfg)
	if err != nil {
		log.Fatalf("Failed to attach base GPS track: %v", err)
	}
	presentFrames, err = attachTrack(presentFrames, presentTrack, cfg)
	if err != nil {
		log.Fatalf("Failed to attach present GPS track: %v", err)
	}

	segments, err := loadSegments(segmentsPath)
	if err != nil {
		log.Fatalf("Failed to load road segments: %v", err)
	}

	// Initialize the detection provider
	detector, err := detect.NewOllamaDetector(ctx, detect.OllamaConfig{
		BaseURL: "http://localhost",
		Port:    11434,
		Model:   ollamaModel,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize detector: %v", err)
	}

	// Initialize storage
	var store storage.Storage
	if usePostgres {
		pgConfig := storage.PostgresConfig{
			Host:     envOr("ROADSCAN_DB_HOST", "localhost"),
			Port:     envOr("ROADSCAN_DB_PORT", "5432"),
			User:     envOr("ROADSCAN_DB_USER", "postgres"),
			Password: os.Getenv("ROADSCAN_DB_PASSWORD"),
			DBName:   envOr("ROADSCAN_DB_NAME", "roadscan"),
		}
		if err := storage.InitSchema(ctx, pgConfig); err != nil {
			log.Fatalf("Failed to initialize database schema: %v", err)
		}
		embedder := embeddings.NewService(embeddings.Config{
			BaseURL: "http://localhost:11434",
			Model:   "nomic-embed-text",
		}, 4)
		defer embedder.Close()

		store, err = storage.NewPostgresStorage(ctx, pgConfig, embedder, logger)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
	} else {
		store = storage.NewFileStorage(outputDir)
	}
	defer store.Close()

	// Run the analysis
	jobID := uuid.NewString()
	processor := analyzer.NewProcessor(cfg, detector, segments, logger)
	processor.OnProgress(func(percent int) {
		logger.Info("progress", "analysis_id", jobID, "percent", percent)
		if err := store.UpdateStatus(ctx, jobID, models.StatusProcessing, percent, ""); err != nil {
			logger.Warn("failed to record progress", "error", err)
		}
	})

	fmt.Printf("Starting deterioration analysis...\n")
	if err := store.UpdateStatus(ctx, jobID, models.StatusPending, 0, ""); err != nil {
		logger.Warn("failed to record status", "error", err)
	}

	result, err := processor.Run(ctx, jobID, baseFrames, presentFrames)
	if err != nil {
		if serr := store.UpdateStatus(context.WithoutCancel(ctx), jobID, models.StatusFailed, 0, err.Error()); serr != nil {
			logger.Warn("failed to record failure", "error", serr)
		}
		logger.Error("analysis failed", "error", err)
		os.Exit(1)
	}

	if err := store.UpdateStatus(ctx, jobID, models.StatusCompleted, models.ProgressDone, ""); err != nil {
		logger.Warn("failed to record status", "error", err)
	}
	if err := store.SaveResult(ctx, result); err != nil {
		log.Fatalf("Failed to save results: %v", err)
	}

	fmt.Printf("Analysis %s complete: %d issues (%d severe) across %d element types\n",
		result.AnalysisID, result.Summary.TotalIssues, result.Summary.SevereIssues, result.Summary.ElementTypes)
}

func attachTrack(frames []models.FrameRecord, trackPath string, cfg config.Config) ([]models.FrameRecord, error) {
	if trackPath == "" {
		return frames, nil
	}
	track, err := extractor.LoadGPSTrack(trackPath)
	if err != nil {
		return nil, err
	}
	return extractor.AttachGPSTrack(frames, track, cfg.TemporalToleranceS), nil
}

func loadSegments(path string) ([]models.RoadSegment, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read segments file '%s': %v", path, err)
	}
	var segments []models.RoadSegment
	if err := json.Unmarshal(data, &segments); err != nil {
		return nil, fmt.Errorf("failed to parse segments file '%s': %v", path, err)
	}
	return segments, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
