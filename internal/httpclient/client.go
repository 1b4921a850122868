package httpclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/sentinelvision/internal/inference"
	"github.com/example/sentinelvision/internal/logging"
	"github.com/example/sentinelvision/internal/moderation"
)

// Options configures the connection to the model runner.
type Options struct {
	// BaseURL is the root of the model-runner HTTP API, e.g. http://127.0.0.1:5000.
	BaseURL string
	// Timeout bounds a single analyze call end to end.
	Timeout time.Duration
	// CLIPModelID and CaptionModelID are forwarded so the runner can pick
	// checkpoints; empty values leave the choice to the runner.
	CLIPModelID    string
	CaptionModelID string
	// Calibration maps the runner's raw similarities onto [0,1] scores.
	Calibration inference.Calibration
}

// NewModelRunner returns a ready-to-use HTTP client for the model-runner
// service (CLIP zero-shot scoring plus BLIP captioning).
func NewModelRunner(opts Options, logger *zap.Logger) (inference.Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		if err == nil {
			err = fmt.Errorf("invalid model runner URL %q", opts.BaseURL)
		}
		wrapped := logging.NewOperationError("httpclient.configure_model_runner", "", err)
		logger.Error("failed to configure model runner client", zap.Error(wrapped), zap.String("url", opts.BaseURL))
		return nil, wrapped
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &modelRunner{
		analyzeURL:     base.JoinPath("analyze").String(),
		httpClient:     &http.Client{Timeout: timeout},
		clipModelID:    opts.CLIPModelID,
		captionModelID: opts.CaptionModelID,
		calibration:    opts.Calibration,
		logger:         logger,
	}, nil
}

type modelRunner struct {
	analyzeURL     string
	httpClient     *http.Client
	clipModelID    string
	captionModelID string
	calibration    inference.Calibration
	logger         *zap.Logger
}

type analyzeRequest struct {
	Image          string            `json:"image"`
	Prompts        map[string]string `json:"prompts"`
	CLIPModelID    string            `json:"clip_model_id,omitempty"`
	CaptionModelID string            `json:"caption_model_id,omitempty"`
}

type analyzeResponse struct {
	Similarities map[string]float64 `json:"similarities"`
	Caption      string             `json:"caption"`
}

func (m *modelRunner) Analyze(ctx context.Context, requestID string, image []byte) (*inference.Result, error) {
	prompts := make(map[string]string, len(moderation.Categories()))
	for _, cat := range moderation.Categories() {
		prompts[string(cat)] = cat.Prompt()
	}
	payload, err := json.Marshal(analyzeRequest{
		Image:          base64.StdEncoding.EncodeToString(image),
		Prompts:        prompts,
		CLIPModelID:    m.clipModelID,
		CaptionModelID: m.captionModelID,
	})
	if err != nil {
		return nil, m.fail(requestID, fmt.Errorf("encode analyze request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.analyzeURL, bytes.NewReader(payload))
	if err != nil {
		return nil, m.fail(requestID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, m.fail(requestID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("model runner returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		return nil, m.fail(requestID, err)
	}

	var decoded analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, m.fail(requestID, fmt.Errorf("decode analyze response: %w", err))
	}

	scores := make([]moderation.CategoryScore, 0, len(moderation.Categories()))
	for _, cat := range moderation.Categories() {
		sim, ok := decoded.Similarities[string(cat)]
		if !ok {
			return nil, m.fail(requestID, fmt.Errorf("model runner response missing category %q", cat))
		}
		scores = append(scores, moderation.CategoryScore{
			Category: cat,
			Score:    m.calibration.Score(sim),
			Label:    cat.Label(),
		})
	}

	caption := strings.TrimSpace(decoded.Caption)
	if caption == "" {
		caption = "No description generated."
	}
	return &inference.Result{Scores: scores, Caption: caption}, nil
}

func (m *modelRunner) fail(requestID string, err error) error {
	wrapped := logging.NewOperationError("httpclient.analyze_image", requestID, err)
	m.logger.Error("model runner call failed", zap.Error(wrapped), zap.String("request_id", requestID))
	return wrapped
}
