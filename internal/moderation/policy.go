package moderation

import (
	"fmt"
	"math"
	"time"
)

// Verdict is the overall moderation outcome for an image.
type Verdict string

const (
	VerdictSafe   Verdict = "SAFE"
	VerdictReview Verdict = "REVIEW"
	VerdictBlock  Verdict = "BLOCK"
)

// CategoryScore is the calibrated confidence for a single category.
type CategoryScore struct {
	Category Category `json:"category"`
	Score    float64  `json:"score"`
	Label    string   `json:"label"`
}

// Rounded returns a copy with the score rounded to four decimals. Rounding
// is applied to response payloads only; verdicts are computed on the
// unrounded score.
func (s CategoryScore) Rounded() CategoryScore {
	s.Score = math.Round(s.Score*10000) / 10000
	return s
}

// AnalysisResult is the immutable per-request outcome returned by the API.
type AnalysisResult struct {
	RequestID     string          `json:"request_id"`
	Verdict       Verdict         `json:"verdict"`
	VerdictReason string          `json:"verdict_reason"`
	Categories    []CategoryScore `json:"categories"`
	Description   string          `json:"description"`
	ImageID       string          `json:"image_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ThresholdConfig holds the verdict thresholds. It is loaded once at startup
// and passed explicitly so the policy stays pure.
type ThresholdConfig struct {
	Block          float64
	Review         float64
	BlockOverrides map[Category]float64
}

// BlockThreshold returns the effective block threshold for a category: the
// per-category override when present, the global block threshold otherwise.
func (t ThresholdConfig) BlockThreshold(c Category) float64 {
	if v, ok := t.BlockOverrides[c]; ok {
		return v
	}
	return t.Block
}

const safeReason = "No categories exceeded review threshold."

// EvaluateVerdict maps ordered category scores and thresholds to a verdict
// and a short reason. Comparisons are inclusive: a score equal to a
// threshold triggers it. When several categories trigger, the first in input
// order is named. An empty score list is SAFE.
func EvaluateVerdict(scores []CategoryScore, thresholds ThresholdConfig) (Verdict, string) {
	var blockHit, reviewHit *CategoryScore
	for i := range scores {
		s := &scores[i]
		if blockHit == nil && s.Score >= thresholds.BlockThreshold(s.Category) {
			blockHit = s
		}
		if reviewHit == nil && s.Score >= thresholds.Review {
			reviewHit = s
		}
	}
	if blockHit != nil {
		return VerdictBlock, fmt.Sprintf("Blocked: high confidence in (%s).", displayLabel(*blockHit))
	}
	if reviewHit != nil {
		return VerdictReview, fmt.Sprintf("Flagged for review: (%s) above review threshold.", displayLabel(*reviewHit))
	}
	return VerdictSafe, safeReason
}

func displayLabel(s CategoryScore) string {
	if s.Label != "" {
		return s.Label
	}
	return s.Category.Label()
}
