package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/sentinelvision/internal/logging"
)

// AnalysisLog represents a persisted image analysis.
type AnalysisLog struct {
	ID            uint      `gorm:"primaryKey"`
	RequestID     string    `gorm:"column:request_id;uniqueIndex;size:64"`
	ImageID       string    `gorm:"column:image_id;size:128"`
	SHA1Hash      string    `gorm:"column:sha1_hash;index;size:40"`
	Verdict       string    `gorm:"column:verdict;size:16"`
	VerdictReason string    `gorm:"column:verdict_reason;type:text"`
	Description   string    `gorm:"column:description;type:text"`
	Scores        string    `gorm:"column:scores;type:text"`
	TopScore      float64   `gorm:"column:top_score"`
	LatencyMs     int64     `gorm:"column:latency_ms"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (AnalysisLog) TableName() string {
	return "analysis_logs"
}

// MetricsAggregation holds raw aggregates computed by the database.
type MetricsAggregation struct {
	TotalCount       int64
	SafeCount        int64
	ReviewCount      int64
	BlockCount       int64
	AverageTopScore  float64
	AverageLatencyMs float64
}

// AnalysisRepository provides persistence APIs for analysis logs.
type AnalysisRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalysisRepository creates a new repository instance.
func NewAnalysisRepository(db *gorm.DB, logger *zap.Logger) *AnalysisRepository {
	return &AnalysisRepository{
		db:             db,
		logger:         logger.Named("analysis_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AnalysisRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AnalysisLog{})
}

// SaveLog persists an analysis log entry, retrying transient failures.
func (r *AnalysisRepository) SaveLog(ctx context.Context, log *AnalysisLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves the analysis log matching the request.
func (r *AnalysisRepository) FindByRequestID(ctx context.Context, requestID string) (*AnalysisLog, error) {
	var log AnalysisLog
	if err := r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash lists prior analyses of the same image bytes,
// excluding the request that initiated the lookup.
func (r *AnalysisRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*AnalysisLog, error) {
	var logs []*AnalysisLog
	err := r.db.WithContext(ctx).
		Where("sha1_hash = ? AND request_id <> ?", hash, excludeRequestID).
		Order("created_at DESC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes verdict totals and averages across all logs.
func (r *AnalysisRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&AnalysisLog{}).
			Select(
				"COUNT(*) AS total_count, "+
					"COALESCE(SUM(CASE WHEN verdict = ? THEN 1 ELSE 0 END), 0) AS safe_count, "+
					"COALESCE(SUM(CASE WHEN verdict = ? THEN 1 ELSE 0 END), 0) AS review_count, "+
					"COALESCE(SUM(CASE WHEN verdict = ? THEN 1 ELSE 0 END), 0) AS block_count, "+
					"COALESCE(AVG(top_score), 0) AS average_top_score, "+
					"COALESCE(AVG(latency_ms), 0) AS average_latency_ms",
				"SAFE", "REVIEW", "BLOCK").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *AnalysisRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !logging.IsTransient(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}
