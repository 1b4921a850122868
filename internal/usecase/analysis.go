package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/sentinelvision/internal/inference"
	"github.com/example/sentinelvision/internal/logging"
	"github.com/example/sentinelvision/internal/moderation"
	"github.com/example/sentinelvision/internal/repository"
)

// AnalysisRepository defines the persistence operations needed by the use case.
type AnalysisRepository interface {
	SaveLog(ctx context.Context, log *repository.AnalysisLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.AnalysisLog, error)
	FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.AnalysisLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// ErrAnalysisNotFound is returned when no analysis exists for a request id.
var ErrAnalysisNotFound = errors.New("analysis not found")

// ModelUnavailableError marks a failed model-runner call so the API layer
// can answer with bad-gateway semantics instead of a generic server error.
type ModelUnavailableError struct {
	Err error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model runner unavailable: %v", e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// AnalysisUseCase encapsulates business logic for the moderation flow.
type AnalysisUseCase struct {
	repo           AnalysisRepository
	cache          Cache
	runner         inference.Client
	thresholds     moderation.ThresholdConfig
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedAnalysis struct {
	RequestID     string                     `json:"request_id"`
	ImageID       string                     `json:"image_id,omitempty"`
	Verdict       moderation.Verdict         `json:"verdict"`
	VerdictReason string                     `json:"verdict_reason"`
	Categories    []moderation.CategoryScore `json:"categories"`
	Description   string                     `json:"description"`
	Hash          string                     `json:"sha1_hash"`
	CreatedAt     time.Time                  `json:"created_at"`
}

// DuplicateReport lists prior submissions of the same image bytes.
type DuplicateReport struct {
	Request    *repository.AnalysisLog
	Duplicates []*repository.AnalysisLog
}

// NewAnalysisUseCase constructs a new use case instance.
func NewAnalysisUseCase(repo AnalysisRepository, cache Cache, runner inference.Client, thresholds moderation.ThresholdConfig, logger *zap.Logger) *AnalysisUseCase {
	return &AnalysisUseCase{
		repo:           repo,
		cache:          cache,
		runner:         runner,
		thresholds:     thresholds,
		logger:         logger.Named("analysis_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AnalyzeImage orchestrates inference, verdict policy, persistence, and caching.
func (uc *AnalysisUseCase) AnalyzeImage(ctx context.Context, imageID string, imageBytes []byte) (*moderation.AnalysisResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze_image", requestID)
	started := time.Now()

	cacheKey := analysisKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", processingTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	inferred, err := uc.runner.Analyze(ctx, requestID, imageBytes)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.run_model", requestID, &ModelUnavailableError{Err: err})
		opLogger.Error("model runner analysis failed", zap.Error(wrapped))
		return nil, wrapped
	}

	verdict, reason := moderation.EvaluateVerdict(inferred.Scores, uc.thresholds)

	categories := make([]moderation.CategoryScore, len(inferred.Scores))
	topScore := 0.0
	for i, s := range inferred.Scores {
		categories[i] = s.Rounded()
		if s.Score > topScore {
			topScore = s.Score
		}
	}

	hash := sha1.Sum(imageBytes)
	hashHex := hex.EncodeToString(hash[:])
	serializedScores, err := json.Marshal(categories)
	if err != nil {
		opLogger.Error("failed to serialize category scores", zap.Error(err))
		return nil, err
	}

	createdAt := time.Now().UTC()
	log := &repository.AnalysisLog{
		RequestID:     requestID,
		ImageID:       imageID,
		SHA1Hash:      hashHex,
		Verdict:       string(verdict),
		VerdictReason: reason,
		Description:   inferred.Caption,
		Scores:        string(serializedScores),
		TopScore:      topScore,
		LatencyMs:     time.Since(started).Milliseconds(),
		CreatedAt:     createdAt,
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist analysis log", zap.Error(wrapped))
		return nil, wrapped
	}

	cached := cachedAnalysis{
		RequestID:     requestID,
		ImageID:       imageID,
		Verdict:       verdict,
		VerdictReason: reason,
		Categories:    categories,
		Description:   inferred.Caption,
		Hash:          hashHex,
		CreatedAt:     createdAt,
	}
	serialized, err := json.Marshal(cached)
	if err != nil {
		opLogger.Error("failed to serialize analysis result", zap.Error(err))
		return nil, err
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache analysis result", zap.Error(err))
		return nil, err
	}

	opLogger.Info("analysis complete",
		zap.String("verdict", string(verdict)),
		zap.Float64("top_score", topScore),
		zap.Int64("latency_ms", log.LatencyMs))

	return &moderation.AnalysisResult{
		RequestID:     requestID,
		Verdict:       verdict,
		VerdictReason: reason,
		Categories:    categories,
		Description:   inferred.Caption,
		ImageID:       imageID,
		CreatedAt:     createdAt,
	}, nil
}

// GetAnalysis retrieves a cached analysis outcome or loads it from persistence.
func (uc *AnalysisUseCase) GetAnalysis(ctx context.Context, requestID string) (*moderation.AnalysisResult, error) {
	cacheKey := analysisKey(requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", cacheKey); err == nil {
		var payload cachedAnalysis
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_analysis", requestID).Warn("failed to decode cached result", zap.Error(err))
		} else if payload.RequestID != "" {
			return &moderation.AnalysisResult{
				RequestID:     payload.RequestID,
				Verdict:       payload.Verdict,
				VerdictReason: payload.VerdictReason,
				Categories:    payload.Categories,
				Description:   payload.Description,
				ImageID:       payload.ImageID,
				CreatedAt:     payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_analysis", requestID).Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.findLog(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return resultFromLog(log)
}

// GetDuplicateReport builds a duplicate detection report for an analysis request.
func (uc *AnalysisUseCase) GetDuplicateReport(ctx context.Context, requestID string) (*DuplicateReport, error) {
	log, err := uc.findLog(ctx, requestID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

func (uc *AnalysisUseCase) findLog(ctx context.Context, requestID string) (*repository.AnalysisLog, error) {
	log, err := uc.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}
	return log, nil
}

func resultFromLog(log *repository.AnalysisLog) (*moderation.AnalysisResult, error) {
	var categories []moderation.CategoryScore
	if log.Scores != "" {
		if err := json.Unmarshal([]byte(log.Scores), &categories); err != nil {
			return nil, fmt.Errorf("decode stored scores: %w", err)
		}
	}
	return &moderation.AnalysisResult{
		RequestID:     log.RequestID,
		Verdict:       moderation.Verdict(log.Verdict),
		VerdictReason: log.VerdictReason,
		Categories:    categories,
		Description:   log.Description,
		ImageID:       log.ImageID,
		CreatedAt:     log.CreatedAt,
	}, nil
}

func (uc *AnalysisUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !logging.IsTransient(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *AnalysisUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
