package httpclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/sentinelvision/internal/inference"
	"github.com/example/sentinelvision/internal/logging"
	"github.com/example/sentinelvision/internal/moderation"
)

func newTestRunner(t *testing.T, handler http.HandlerFunc) inference.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewModelRunner(Options{
		BaseURL:     srv.URL,
		Timeout:     5 * time.Second,
		Calibration: inference.DefaultCalibration(),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return client
}

func similaritiesForAll(value float64) map[string]float64 {
	sims := make(map[string]float64)
	for _, cat := range moderation.Categories() {
		sims[string(cat)] = value
	}
	return sims
}

func TestAnalyzeSendsImageAndPrompts(t *testing.T) {
	image := []byte("fake-image-bytes")
	var captured analyzeRequest

	client := newTestRunner(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/analyze" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(analyzeResponse{
			Similarities: similaritiesForAll(0.2),
			Caption:      "a cat on a sofa",
		})
	})

	result, err := client.Analyze(context.Background(), "req-1", image)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Caption != "a cat on a sofa" {
		t.Fatalf("unexpected caption %q", result.Caption)
	}

	decoded, err := base64.StdEncoding.DecodeString(captured.Image)
	if err != nil {
		t.Fatalf("image field is not base64: %v", err)
	}
	if string(decoded) != string(image) {
		t.Fatalf("image bytes did not round-trip")
	}
	if got := captured.Prompts["nsfw"]; got != "NSFW or adult content" {
		t.Fatalf("unexpected nsfw prompt %q", got)
	}
	if len(captured.Prompts) != len(moderation.Categories()) {
		t.Fatalf("expected a prompt per category, got %d", len(captured.Prompts))
	}
}

func TestAnalyzeCalibratesSimilarities(t *testing.T) {
	cal := inference.DefaultCalibration()
	client := newTestRunner(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(analyzeResponse{
			Similarities: similaritiesForAll(cal.Baseline),
			Caption:      "calibration sample",
		})
	})

	result, err := client.Analyze(context.Background(), "req-2", []byte("img"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Scores) != len(moderation.Categories()) {
		t.Fatalf("expected %d scores, got %d", len(moderation.Categories()), len(result.Scores))
	}
	for i, cat := range moderation.Categories() {
		score := result.Scores[i]
		if score.Category != cat {
			t.Fatalf("score %d out of canonical order: got %s want %s", i, score.Category, cat)
		}
		if score.Label != cat.Label() {
			t.Fatalf("missing label for %s: got %q", cat, score.Label)
		}
		if math.Abs(score.Score-0.5) > 1e-9 {
			t.Fatalf("baseline similarity should calibrate to 0.5, got %v", score.Score)
		}
	}
}

func TestAnalyzeFallsBackOnEmptyCaption(t *testing.T) {
	client := newTestRunner(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(analyzeResponse{
			Similarities: similaritiesForAll(0.1),
			Caption:      "   ",
		})
	})

	result, err := client.Analyze(context.Background(), "req-3", []byte("img"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Caption != "No description generated." {
		t.Fatalf("expected caption fallback, got %q", result.Caption)
	}
}

func TestAnalyzeRejectsIncompleteResponse(t *testing.T) {
	client := newTestRunner(t, func(w http.ResponseWriter, r *http.Request) {
		sims := similaritiesForAll(0.1)
		delete(sims, string(moderation.CategoryDrugs))
		json.NewEncoder(w).Encode(analyzeResponse{Similarities: sims, Caption: "partial"})
	})

	_, err := client.Analyze(context.Background(), "req-4", []byte("img"))
	if err == nil {
		t.Fatal("expected error for missing category")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "httpclient.analyze_image" {
		t.Fatalf("unexpected operation %q", opErr.Operation)
	}
	if opErr.RequestID != "req-4" {
		t.Fatalf("unexpected request id %q", opErr.RequestID)
	}
}

func TestAnalyzeSurfacesUpstreamFailure(t *testing.T) {
	client := newTestRunner(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	})

	_, err := client.Analyze(context.Background(), "req-5", []byte("img"))
	if err == nil {
		t.Fatal("expected error for upstream 500")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
}

func TestNewModelRunnerRejectsBadURL(t *testing.T) {
	if _, err := NewModelRunner(Options{BaseURL: "not-a-url"}, zap.NewNop()); err == nil {
		t.Fatal("expected error for URL without scheme")
	}
	if _, err := NewModelRunner(Options{BaseURL: "://missing"}, zap.NewNop()); err == nil {
		t.Fatal("expected error for malformed URL")
	}
}
