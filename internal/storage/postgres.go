package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/roadscan/roadscan/internal/embeddings"
	"github.com/roadscan/roadscan/internal/models"
)

// PostgresConfig holds connection details for PostgreSQL
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

func (c PostgresConfig) connString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
	)
}

// IssueSearchResult is one hit from similarity search over change records.
type IssueSearchResult struct {
	AnalysisID  string
	PairIndex   int
	ElementType models.ElementType
	Kind        models.ChangeKind
	Description string
	Similarity  float64
}

// PostgresStorage manages interaction with PostgreSQL. The embedding
// service is optional; without it change records are stored without
// vectors and similarity search is unavailable.
type PostgresStorage struct {
	pool     *pgxpool.Pool
	embedder *embeddings.Service
	logger   *slog.Logger
}

// NewPostgresStorage creates a new PostgreSQL storage connection
func NewPostgresStorage(ctx context.Context, config PostgresConfig, embedder *embeddings.Service, logger *slog.Logger) (*PostgresStorage, error) {
	// Connect to PostgreSQL
	pool, err := pgxpool.New(ctx, config.connString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStorage{
		pool:     pool,
		embedder: embedder,
		logger:   logger,
	}, nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpdateStatus upserts the analysis row with the current job state
func (s *PostgresStorage) UpdateStatus(ctx context.Context, analysisID string, status models.AnalysisStatus, progress int, failure string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analyses (id, status, progress, failure, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $5)
        ON CONFLICT (id) DO UPDATE
        SET status = $2, progress = $3, failure = $4, updated_at = $5`,
		analysisID, string(status), progress, failure, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update analysis status: %w", err)
	}
	return nil
}

// SaveResult stores the summary, the change records, and the per-segment
// rollups for one completed analysis
func (s *PostgresStorage) SaveResult(ctx context.Context, result *models.AnalysisResult) error {
	summary, err := json.Marshal(result.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analyses (id, status, progress, summary, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $5)
        ON CONFLICT (id) DO UPDATE
        SET status = $2, progress = $3, summary = $4, updated_at = $5`,
		result.AnalysisID, string(models.StatusCompleted), 100, summary, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store analysis: %w", err)
	}

	for _, rec := range result.Changes {
		if err := s.insertChangeRecord(ctx, result.AnalysisID, rec); err != nil {
			return err
		}
	}

	for _, seg := range result.Segments {
		byElement, err := json.Marshal(seg.ByElement)
		if err != nil {
			return fmt.Errorf("failed to marshal segment breakdown: %w", err)
		}
		bounds, err := json.Marshal(seg.Bounds)
		if err != nil {
			return fmt.Errorf("failed to marshal segment bounds: %w", err)
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO segment_summaries
            (analysis_id, segment_id, segment_name, total_issues, severe_issues, by_element, bounds, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			result.AnalysisID, seg.SegmentID, seg.SegmentName,
			seg.TotalIssues, seg.SevereCount, byElement, bounds, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to store segment summary: %w", err)
		}
	}

	return nil
}

func (s *PostgresStorage) insertChangeRecord(ctx context.Context, analysisID string, rec models.ChangeRecord) error {
	var lat, lon *float64
	if rec.GPS != nil {
		lat, lon = &rec.GPS.Lat, &rec.GPS.Lon
	}

	bbox := rec.Present
	if bbox == nil {
		bbox = rec.Base
	}
	var bboxJSON []byte
	var confidence float64
	if bbox != nil {
		var err error
		bboxJSON, err = json.Marshal(bbox.BBox)
		if err != nil {
			return fmt.Errorf("failed to marshal bbox: %w", err)
		}
		confidence = bbox.Confidence
	}

	description := describeChange(rec)

	// Generate embedding for the record description
	var embedding *pgvector.Vector
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, description)
		if err != nil {
			// Log error but continue without embedding
			s.logger.Warn("failed to generate embedding", "error", err)
		} else {
			v := pgvector.NewVector(vec)
			embedding = &v
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO change_records
        (analysis_id, pair_index, element_type, change_kind, bbox, confidence,
         severity_score, severity_category, lat, lon, description, embedding, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		analysisID, rec.PairIndex, string(rec.ElementType), string(rec.Kind),
		bboxJSON, confidence, rec.SeverityScore, string(rec.SeverityCategory),
		lat, lon, description, embedding, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store change record: %w", err)
	}
	return nil
}

// describeChange renders a record as text for embedding and search.
func describeChange(rec models.ChangeRecord) string {
	desc := fmt.Sprintf("%s %s, severity %s (%.1f)",
		rec.Kind, rec.ElementType, rec.SeverityCategory, rec.SeverityScore)
	if rec.GPS != nil {
		desc += fmt.Sprintf(" at %.5f,%.5f", rec.GPS.Lat, rec.GPS.Lon)
	}
	return desc
}

// SearchSimilarIssues finds change records whose descriptions are close to
// the query in embedding space
func (s *PostgresStorage) SearchSimilarIssues(ctx context.Context, query string, limit int) ([]IssueSearchResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("similarity search requires an embedding service")
	}

	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT analysis_id, pair_index, element_type, change_kind, description,
        1 - (embedding <=> $1) AS similarity
        FROM change_records
        WHERE embedding IS NOT NULL
        ORDER BY embedding <=> $1
        LIMIT $2`,
		pgvector.NewVector(queryEmbedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search change records: %w", err)
	}
	defer rows.Close()

	var results []IssueSearchResult
	for rows.Next() {
		var r IssueSearchResult
		if err := rows.Scan(&r.AnalysisID, &r.PairIndex, &r.ElementType,
			&r.Kind, &r.Description, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search results: %w", err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// InitSchema creates the database schema if it doesn't exist
func InitSchema(ctx context.Context, config PostgresConfig) error {
	// Connect to PostgreSQL
	conn, err := pgx.Connect(ctx, config.connString())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	// Check if vector extension exists
	var exists bool
	err = conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check for vector extension: %w", err)
	}

	// Create vector extension if it doesn't exist
	if !exists {
		_, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
		if err != nil {
			return fmt.Errorf("failed to create vector extension: %w", err)
		}
	}

	// Create tables
	_, err = conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS analyses (
            id VARCHAR(64) PRIMARY KEY,
            status VARCHAR(32) NOT NULL,
            progress INTEGER NOT NULL DEFAULT 0,
            failure TEXT,
            summary JSONB,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );

        CREATE TABLE IF NOT EXISTS change_records (
            id SERIAL PRIMARY KEY,
            analysis_id VARCHAR(64) REFERENCES analyses(id) ON DELETE CASCADE,
            pair_index INTEGER NOT NULL,
            element_type VARCHAR(64) NOT NULL,
            change_kind VARCHAR(32) NOT NULL,
            bbox JSONB,
            confidence DOUBLE PRECISION,
            severity_score DOUBLE PRECISION NOT NULL,
            severity_category VARCHAR(32) NOT NULL,
            lat DOUBLE PRECISION,
            lon DOUBLE PRECISION,
            description TEXT NOT NULL,
            embedding vector(768),
            created_at TIMESTAMPTZ NOT NULL
        );

        CREATE TABLE IF NOT EXISTS segment_summaries (
            id SERIAL PRIMARY KEY,
            analysis_id VARCHAR(64) REFERENCES analyses(id) ON DELETE CASCADE,
            segment_id VARCHAR(64) NOT NULL,
            segment_name VARCHAR(255),
            total_issues INTEGER NOT NULL,
            severe_issues INTEGER NOT NULL,
            by_element JSONB,
            bounds JSONB,
            created_at TIMESTAMPTZ NOT NULL
        );
    `)
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	// Create indexes
	_, err = conn.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS idx_change_records_analysis_id ON change_records(analysis_id);
        CREATE INDEX IF NOT EXISTS idx_segment_summaries_analysis_id ON segment_summaries(analysis_id);
        CREATE INDEX IF NOT EXISTS idx_change_records_embedding ON change_records USING ivfflat (embedding vector_l2_ops) WITH (lists = 100);
    `)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}

	return nil
}
