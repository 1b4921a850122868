package inference

import "math"

// Calibration maps raw CLIP cosine similarity onto an independent [0,1]
// score per category. Typical safe images sit near similarity 0.22-0.30 for
// this model family, so the sigmoid is centered at Baseline and sharpened by
// Scale: below-baseline similarity maps to a low score, strong visual
// evidence rises quickly toward 1. No softmax or cross-category
// normalization is applied.
type Calibration struct {
	Baseline float64
	Scale    float64
}

// DefaultCalibration returns the constants tuned for
// openai/clip-vit-base-patch32.
func DefaultCalibration() Calibration {
	return Calibration{Baseline: 0.27, Scale: 55.0}
}

// Score converts one raw similarity into a calibrated score, clamped to
// [0,1].
func (c Calibration) Score(similarity float64) float64 {
	x := (similarity - c.Baseline) * c.Scale
	s := 1.0 / (1.0 + math.Exp(-x))
	return math.Max(0, math.Min(1, s))
}
