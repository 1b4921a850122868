package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/sentinelvision/internal/config"
	"github.com/example/sentinelvision/internal/moderation"
	"github.com/example/sentinelvision/internal/usecase"
)

// CORSMiddleware allows browser clients on any origin to reach the API. The
// bundled web UI is served from the same process, but the API is also meant
// for direct consumption.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Max-Age", "86400")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Middleware (JWT
// auth when enabled) guards the /api group; the health endpoint stays open.
func RegisterRoutes(router *gin.Engine, uc *usecase.AnalysisUseCase, cfg *config.Config, middleware ...gin.HandlerFunc) {
	router.GET("/health", health)

	api := router.Group("/api", middleware...)
	api.POST("/analyze-image", analyzeImage(uc, cfg))
	api.GET("/analyses/:id", getAnalysis(uc))
	api.GET("/analyses/:id/duplicates", getDuplicates(uc))
	api.GET("/metrics/summary", metricsSummary(uc))
	api.GET("/categories", listCategories(cfg))
}

// health godoc
// @Summary Service health check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": config.ServiceName})
}

// analyzeImage godoc
// @Summary Analyze an uploaded image
// @Description Runs zero-shot moderation and captioning on the uploaded file, applies the verdict policy, and returns the analysis envelope.
// @Tags Analysis
// @Accept mpfd
// @Produce json
// @Param file formData file true "Image file (jpeg, png, or webp)"
// @Param image_id formData string false "Caller-supplied image identifier"
// @Success 200 {object} moderation.AnalysisResult
// @Failure 400 {object} map[string]string
// @Failure 413 {object} map[string]string
// @Failure 415 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Router /analyze-image [post]
// @Security Bearer
func analyzeImage(uc *usecase.AnalysisUseCase, cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(cfg.AllowedContentTypes))
	for _, ct := range cfg.AllowedContentTypes {
		allowed[ct] = struct{}{}
	}
	maxBytes := cfg.MaxUploadBytes()

	return func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}

		contentType := file.Header.Get("Content-Type")
		if i := strings.IndexByte(contentType, ';'); i >= 0 {
			contentType = contentType[:i]
		}
		contentType = strings.ToLower(strings.TrimSpace(contentType))
		if _, ok := allowed[contentType]; !ok {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": fmt.Sprintf("unsupported content type %q", contentType)})
			return
		}

		if file.Size > maxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("image exceeds the %dMB limit", cfg.MaxUploadMB)})
			return
		}
		if file.Size == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "uploaded file is empty"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		result, err := uc.AnalyzeImage(c.Request.Context(), c.PostForm("image_id"), data)
		if err != nil {
			var modelErr *usecase.ModelUnavailableError
			if errors.As(err, &modelErr) {
				c.JSON(http.StatusBadGateway, gin.H{"error": "image analysis failed", "detail": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// getAnalysis godoc
// @Summary Fetch a persisted analysis
// @Tags Analysis
// @Produce json
// @Param id path string true "Analysis request id"
// @Success 200 {object} moderation.AnalysisResult
// @Failure 404 {object} map[string]string
// @Router /analyses/{id} [get]
// @Security Bearer
func getAnalysis(uc *usecase.AnalysisUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := uc.GetAnalysis(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, usecase.ErrAnalysisNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

type duplicateEntry struct {
	RequestID string    `json:"request_id"`
	ImageID   string    `json:"image_id,omitempty"`
	Verdict   string    `json:"verdict"`
	CreatedAt time.Time `json:"created_at"`
}

// getDuplicates godoc
// @Summary List prior submissions of the same image
// @Description Matches analyses by SHA-1 of the uploaded bytes, excluding the queried request itself.
// @Tags Analysis
// @Produce json
// @Param id path string true "Analysis request id"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]string
// @Router /analyses/{id}/duplicates [get]
// @Security Bearer
func getDuplicates(uc *usecase.AnalysisUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := uc.GetDuplicateReport(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, usecase.ErrAnalysisNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		entries := make([]duplicateEntry, 0, len(report.Duplicates))
		for _, d := range report.Duplicates {
			entries = append(entries, duplicateEntry{
				RequestID: d.RequestID,
				ImageID:   d.ImageID,
				Verdict:   d.Verdict,
				CreatedAt: d.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"request_id":      report.Request.RequestID,
			"sha1_hash":       report.Request.SHA1Hash,
			"duplicate_count": len(entries),
			"duplicates":      entries,
		})
	}
}

// metricsSummary godoc
// @Summary Aggregated moderation metrics
// @Tags Metrics
// @Produce json
// @Success 200 {object} usecase.MetricsSummary
// @Router /metrics/summary [get]
// @Security Bearer
func metricsSummary(uc *usecase.AnalysisUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

type categoryView struct {
	Category       moderation.Category `json:"category"`
	Label          string              `json:"label"`
	Prompt         string              `json:"prompt"`
	BlockThreshold float64             `json:"block_threshold"`
}

// listCategories godoc
// @Summary Moderation categories and effective thresholds
// @Tags Analysis
// @Produce json
// @Success 200 {object} map[string]any
// @Router /categories [get]
// @Security Bearer
func listCategories(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		infos := moderation.CategoryInfos()
		views := make([]categoryView, 0, len(infos))
		for _, info := range infos {
			views = append(views, categoryView{
				Category:       info.Category,
				Label:          info.Label,
				Prompt:         info.Prompt,
				BlockThreshold: cfg.Thresholds.BlockThreshold(info.Category),
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"categories":       views,
			"review_threshold": cfg.Thresholds.Review,
		})
	}
}
