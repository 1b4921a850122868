package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/sentinelvision/internal/inference"
	"github.com/example/sentinelvision/internal/moderation"
)

const ServiceName = "SentinelVision"

// Config is the process-wide configuration, loaded once at startup from
// environment variables and read-only afterwards.
type Config struct {
	ListenAddr string
	Debug      bool

	Thresholds moderation.ThresholdConfig

	MaxUploadMB         int
	AllowedContentTypes []string

	ModelRunnerURL     string
	ModelRunnerTimeout time.Duration
	CLIPModelID        string
	CaptionModelID     string

	CalibrationBaseline float64
	CalibrationScale    float64

	DatabaseDSN string
	RedisAddr   string

	JWTSecret   string
	JWTAudience string
}

// Load reads configuration from the environment, applies defaults matching
// the service defaults, and validates the result. Invalid configuration is
// an error: the process must not start with inconsistent thresholds.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		AllowedContentTypes: []string{"image/jpeg", "image/png", "image/webp"},
		ModelRunnerURL:      getEnv("MODEL_RUNNER_URL", "http://127.0.0.1:5000"),
		CLIPModelID:         getEnv("CLIP_MODEL_ID", "openai/clip-vit-base-patch32"),
		CaptionModelID:      getEnv("CAPTION_MODEL_ID", "Salesforce/blip-image-captioning-base"),
		DatabaseDSN:         getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=sentinelvision port=5432 sslmode=disable"),
		RedisAddr:           getEnv("REDIS_ADDR", "redis:6379"),
		JWTSecret:           strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTAudience:         strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
	}

	var err error
	if cfg.Debug, err = getBool("DEBUG", false); err != nil {
		return nil, err
	}
	if cfg.Thresholds.Block, err = getFloat("THRESHOLD_BLOCK", 0.85); err != nil {
		return nil, err
	}
	if cfg.Thresholds.Review, err = getFloat("THRESHOLD_REVIEW", 0.45); err != nil {
		return nil, err
	}
	if cfg.Thresholds.BlockOverrides, err = ParseOverrides(os.Getenv("CATEGORY_BLOCK_OVERRIDES")); err != nil {
		return nil, err
	}
	if cfg.MaxUploadMB, err = getInt("MAX_UPLOAD_MB", 10); err != nil {
		return nil, err
	}
	calibration := inference.DefaultCalibration()
	if cfg.CalibrationBaseline, err = getFloat("CALIBRATION_BASELINE", calibration.Baseline); err != nil {
		return nil, err
	}
	if cfg.CalibrationScale, err = getFloat("CALIBRATION_SCALE", calibration.Scale); err != nil {
		return nil, err
	}

	timeoutSec, err := getInt("MODEL_RUNNER_TIMEOUT_SEC", 60)
	if err != nil {
		return nil, err
	}
	cfg.ModelRunnerTimeout = time.Duration(timeoutSec) * time.Second

	// The upload handler compares lowercased content types, so the
	// allowlist must be lowercased too.
	if raw := strings.TrimSpace(os.Getenv("ALLOWED_CONTENT_TYPES")); raw != "" {
		cfg.AllowedContentTypes = splitAndTrim(strings.ToLower(raw))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MaxUploadBytes converts the configured megabyte cap into bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// AuthEnabled reports whether the API requires a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

// ParseOverrides parses a comma-separated list of category:value pairs into
// per-category block thresholds. Category names are normalized the same way
// the enumeration expects. Malformed pairs, unknown categories, and values
// outside [0,1] are errors rather than silently skipped.
func ParseOverrides(raw string) (map[moderation.Category]float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := make(map[moderation.Category]float64)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, ":")
		if !found {
			return nil, fmt.Errorf("CATEGORY_BLOCK_OVERRIDES: %q is not a category:value pair", part)
		}
		category, err := moderation.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("CATEGORY_BLOCK_OVERRIDES: %w", err)
		}
		threshold, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("CATEGORY_BLOCK_OVERRIDES: invalid threshold for %s: %q", category, value)
		}
		// NaN fails every comparison, so a plain range check would let it
		// through and the override could never trigger.
		if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
			return nil, fmt.Errorf("CATEGORY_BLOCK_OVERRIDES: threshold for %s must be in [0,1], got %v", category, threshold)
		}
		out[category] = threshold
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (c *Config) validate() error {
	if c.Thresholds.Block < 0 || c.Thresholds.Block > 1 {
		return fmt.Errorf("THRESHOLD_BLOCK must be in [0,1], got %v", c.Thresholds.Block)
	}
	if c.Thresholds.Review < 0 || c.Thresholds.Review > 1 {
		return fmt.Errorf("THRESHOLD_REVIEW must be in [0,1], got %v", c.Thresholds.Review)
	}
	if c.Thresholds.Review > c.Thresholds.Block {
		return fmt.Errorf("THRESHOLD_REVIEW (%v) must not exceed THRESHOLD_BLOCK (%v)", c.Thresholds.Review, c.Thresholds.Block)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB)
	}
	if c.CalibrationScale <= 0 {
		return fmt.Errorf("CALIBRATION_SCALE must be positive, got %v", c.CalibrationScale)
	}
	if c.ModelRunnerTimeout <= 0 {
		return fmt.Errorf("MODEL_RUNNER_TIMEOUT_SEC must be positive")
	}
	if len(c.AllowedContentTypes) == 0 {
		return fmt.Errorf("ALLOWED_CONTENT_TYPES must not be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid float %q", key, raw)
	}
	// ParseFloat accepts "nan" and "inf", and NaN slips through any range
	// guard because every comparison with it is false.
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s: must be finite, got %q", key, raw)
	}
	return v, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, raw)
	}
	return v, nil
}

func splitAndTrim(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
