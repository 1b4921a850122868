package usecase

import "context"

// MetricsSummary represents aggregated moderation insights.
type MetricsSummary struct {
	TotalRequests    int64   `json:"total_requests"`
	SafeCount        int64   `json:"safe_count"`
	ReviewCount      int64   `json:"review_count"`
	BlockCount       int64   `json:"block_count"`
	BlockRate        float64 `json:"block_rate"`
	AverageTopScore  float64 `json:"average_top_score"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates moderation metrics from persisted logs.
func (uc *AnalysisUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:    aggregation.TotalCount,
		SafeCount:        aggregation.SafeCount,
		ReviewCount:      aggregation.ReviewCount,
		BlockCount:       aggregation.BlockCount,
		AverageTopScore:  aggregation.AverageTopScore,
		AverageLatencyMs: aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.BlockRate = float64(aggregation.BlockCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
