package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/agent-api/core"
	"github.com/agent-api/core/agent"
	"github.com/agent-api/core/agent/bootstrap"
	"github.com/agent-api/ollama"
	"github.com/go-logr/logr"

	"github.com/roadscan/roadscan/internal/models"
)

const detectionPrompt = `Identify road infrastructure issues in this image. Report each as a JSON array entry with fields "element_type" (one of pavement_crack, faded_marking, missing_stud, damaged_sign, roadside_furniture_damage, vru_path_obstruction), "bbox" ([x1, y1, x2, y2] in pixels), and "confidence" (0 to 1). Respond with the JSON array only, [] if nothing is found.`

// OllamaConfig configures the vision-model detector.
type OllamaConfig struct {
	BaseURL string
	Port    int
	Model   string
}

// OllamaDetector runs a local Ollama vision model per frame and parses the
// detection list it returns.
type OllamaDetector struct {
	agent  *agent.Agent
	logger *slog.Logger
}

// NewOllamaDetector initializes the Ollama provider and vision agent.
func NewOllamaDetector(ctx context.Context, cfg OllamaConfig, logger *slog.Logger) (*OllamaDetector, error) {
	lgr := logr.FromSlogHandler(logger.Handler())

	provider := ollama.NewProvider(&ollama.ProviderOpts{
		Logger:  &lgr,
		BaseURL: cfg.BaseURL,
		Port:    cfg.Port,
	})
	if err := provider.UseModel(ctx, &core.Model{ID: cfg.Model}); err != nil {
		return nil, fmt.Errorf("failed to select model '%s': %w", cfg.Model, err)
	}

	a, err := agent.NewAgent(
		bootstrap.WithProvider(provider),
		bootstrap.WithSystemPrompt("You are a road infrastructure inspector. You only ever answer with JSON."),
		bootstrap.WithLogger(&lgr),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create detection agent: %w", err)
	}

	return &OllamaDetector{
		agent:  a,
		logger: logger,
	}, nil
}

// Detect prompts the vision model with the frame image and parses the JSON
// detection list from the reply.
func (d *OllamaDetector) Detect(ctx context.Context, frame models.FrameRecord) ([]models.Detection, error) {
	if frame.ImagePath == "" {
		return nil, fmt.Errorf("frame %d has no image path", frame.Index)
	}
	// WithImagePath panics on unreadable files, so check first.
	if _, err := os.Stat(frame.ImagePath); err != nil {
		return nil, fmt.Errorf("frame %d image unreadable: %v", frame.Index, err)
	}

	response, err := d.agent.Run(
		ctx,
		agent.WithInput(detectionPrompt),
		agent.WithImagePath(frame.ImagePath),
	)
	if err != nil {
		return nil, fmt.Errorf("frame %d detection failed: %v", frame.Index, err)
	}
	if len(response.Messages) == 0 {
		return nil, fmt.Errorf("no response messages received from model")
	}

	content := response.Messages[len(response.Messages)-1].Content
	dets, err := parseDetections(content)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %v", frame.Index, err)
	}

	for i := range dets {
		dets[i].FrameIndex = frame.Index
		if dets[i].GPS == nil {
			dets[i].GPS = frame.GPS
		}
	}
	return dets, nil
}

// rawDetection is the wire shape the model is prompted to produce.
type rawDetection struct {
	ElementType string    `json:"element_type"`
	BBox        []float64 `json:"bbox"`
	Confidence  float64   `json:"confidence"`
}

// parseDetections extracts the JSON array from the model reply, tolerating
// markdown code fences around it, and drops malformed entries.
func parseDetections(content string) ([]models.Detection, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var raw []rawDetection
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse detection response: %v", err)
	}

	dets := make([]models.Detection, 0, len(raw))
	for _, r := range raw {
		if len(r.BBox) != 4 || r.BBox[0] >= r.BBox[2] || r.BBox[1] >= r.BBox[3] {
			continue
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			continue
		}
		dets = append(dets, models.Detection{
			ElementType: models.ElementType(r.ElementType),
			BBox: models.BBox{
				X1: r.BBox[0],
				Y1: r.BBox[1],
				X2: r.BBox[2],
				Y2: r.BBox[3],
			},
			Confidence: r.Confidence,
		})
	}
	return dets, nil
}
