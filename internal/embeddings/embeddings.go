package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Result represents the result of embedding generation
type Result struct {
	Content   string
	Embedding []float32
	Error     error
}

// Work represents a unit of embedding work
type Work struct {
	Content string
	Result  chan<- Result
}

// Config points the service at an Ollama embeddings endpoint.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Service manages embedding generation and caching
type Service struct {
	cfg        Config
	client     *http.Client
	numWorkers int
	workQueue  chan Work
	cache      sync.Map // Thread-safe map for caching embeddings
	wg         sync.WaitGroup
}

// NewService creates a new embedding service with the specified number of workers
func NewService(cfg Config, numWorkers int) *Service {
	if numWorkers <= 0 {
		numWorkers = 4 // Default to 4 workers if not specified
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	workQueue := make(chan Work, 100) // Buffer size for embedding requests

	service := &Service{
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
		numWorkers: numWorkers,
		workQueue:  workQueue,
	}

	// Start embedding workers
	service.startWorkers()

	return service
}

// startWorkers starts a pool of goroutines for generating embeddings
func (s *Service) startWorkers() {
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for work := range s.workQueue {
				// Check cache first
				if cachedEmb, ok := s.cache.Load(work.Content); ok {
					if embedding, validCache := cachedEmb.([]float32); validCache {
						work.Result <- Result{
							Content:   work.Content,
							Embedding: embedding,
						}
						continue
					}
				}

				// Generate embedding
				embedding, err := s.generateEmbedding(context.Background(), work.Content)
				if err == nil {
					// Cache the successful result
					s.cache.Store(work.Content, embedding)
				}

				// Send result back
				work.Result <- Result{
					Content:   work.Content,
					Embedding: embedding,
					Error:     err,
				}
			}
		}()
	}
}

// GetEmbedding requests an embedding generation asynchronously
func (s *Service) GetEmbedding(content string) <-chan Result {
	resultChan := make(chan Result, 1)

	// Check if we're already at capacity
	select {
	case s.workQueue <- Work{
		Content: content,
		Result:  resultChan,
	}:
		// Work queued successfully
	default:
		// Queue is full, return an error immediately
		resultChan <- Result{
			Content: content,
			Error:   fmt.Errorf("embedding queue is full, try again later"),
		}
		close(resultChan)
	}

	return resultChan
}

// Embed generates an embedding synchronously, dispatching through the
// worker pool so callers share its cache and concurrency limit.
func (s *Service) Embed(ctx context.Context, content string) ([]float32, error) {
	select {
	case result := <-s.GetEmbedding(content):
		if result.Error != nil {
			return nil, result.Error
		}
		return result.Embedding, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// generateEmbedding creates a vector embedding for the content via the
// Ollama embeddings API.
func (s *Service) generateEmbedding(ctx context.Context, content string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: s.cfg.Model, Prompt: content})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.BaseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding request returned status %d", resp.StatusCode)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %v", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("embedding response was empty")
	}

	return parsed.Embedding, nil
}

// Close shuts down the embedding service and waits for all workers to finish
func (s *Service) Close() {
	if s.workQueue != nil {
		close(s.workQueue)
	}
	s.wg.Wait() // Wait for all workers to finish
}
