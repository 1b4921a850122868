package inference

import (
	"context"

	"github.com/example/sentinelvision/internal/moderation"
)

// Result contains the outcome returned by the model runner for one image:
// calibrated per-category scores in canonical order and a short caption.
type Result struct {
	Scores  []moderation.CategoryScore
	Caption string
}

// Client exposes the subset of model-runner functionality the analysis flow
// uses. The runner itself (CLIP zero-shot scoring, BLIP captioning) is an
// external service behind this boundary.
type Client interface {
	Analyze(ctx context.Context, requestID string, image []byte) (*Result, error)
}
