package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/billguard/internal/aggregate"
	"github.com/opensource-finance/billguard/internal/bus"
	"github.com/opensource-finance/billguard/internal/cache"
	"github.com/opensource-finance/billguard/internal/config"
	"github.com/opensource-finance/billguard/internal/detector"
	"github.com/opensource-finance/billguard/internal/domain"
	"github.com/opensource-finance/billguard/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	detector   *detector.Detector
	configPath string
	version    string
}

// NewHandler creates a new API handler. repo, cache and bus may be nil.
// configPath is re-read by POST /config/reload.
func NewHandler(repo domain.Repository, c domain.Cache, eventBus domain.EventBus, d *detector.Detector, configPath, version string) *Handler {
	return &Handler{
		repo:       repo,
		cache:      c,
		bus:        eventBus,
		detector:   d,
		configPath: configPath,
		version:    version,
	}
}

// RecordsRequest is the request body for POST /baseline.
type RecordsRequest struct {
	Records []domain.BillingRecord `json:"records"`
}

// DetectRequest is the request body for POST /detect. With Historical set,
// baselines are built from it for this request only.
type DetectRequest struct {
	Records    []domain.BillingRecord `json:"records"`
	Historical []domain.BillingRecord `json:"historical,omitempty"`
}

// DetectResponse is the response for POST /detect.
type DetectResponse struct {
	RunID     string                  `json:"runId"`
	Scores    map[string]float64      `json:"scores"`
	Records   []domain.ScoredRecord   `json:"records"`
	Summary   domain.Summary          `json:"summary"`
	HighRisk  []domain.HighRiskRecord `json:"highRisk"`
	Threshold float64                 `json:"threshold"`
	Breakdown domain.Breakdown        `json:"breakdown"`
	Skipped   []domain.SkippedRecord  `json:"skipped,omitempty"`
	Metadata  struct {
		domain.RunMetadata
		Version string `json:"version"`
	} `json:"metadata"`
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":             true,
		"operatorBaselines": len(h.detector.Baselines().Operators),
	})
}

// BuildBaseline handles POST /baseline. The posted records replace the
// baselines and are archived when a repository is available.
func (h *Handler) BuildBaseline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RecordsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	report := h.detector.BuildBaseline(ctx, req.Records)

	if h.repo != nil {
		valid, _ := domain.Partition(req.Records)
		if err := h.repo.SaveRecords(ctx, valid); err != nil {
			slog.Error("failed to archive historical records", "error", err)
		}
	}

	slog.Info("baselines rebuilt",
		"records", report.Records,
		"operators", report.Operators,
		"business_types", report.BusinessTypes,
		"skipped", len(report.Skipped),
	)
	writeJSON(w, http.StatusOK, report)
}

// BuildBaselineFromArchive handles POST /baseline/archive?from=&to=.
func (h *Handler) BuildBaselineFromArchive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.repo.ListRecords(ctx, from, to)
	if err != nil {
		slog.Error("failed to list archived records", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load archived records")
		return
	}

	report := h.detector.BuildBaseline(ctx, records)
	slog.Info("baselines rebuilt from archive",
		"records", report.Records,
		"operators", report.Operators,
	)
	writeJSON(w, http.StatusOK, report)
}

// GetBaseline handles GET /baseline.
func (h *Handler) GetBaseline(w http.ResponseWriter, r *http.Request) {
	b := h.detector.Baselines()
	writeJSON(w, http.StatusOK, map[string]any{
		"operatorCount":     len(b.Operators),
		"businessTypeCount": len(b.BusinessTypes),
		"operators":         b.Operators,
		"businessTypes":     b.BusinessTypes,
	})
}

// Detect handles POST /detect requests.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	threshold, err := parseThreshold(r, h.detector.Config().HighRiskThreshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	var run *domain.DetectionRun
	if len(req.Historical) > 0 {
		run, err = detector.Run(ctx, h.detector.Config(), req.Historical, req.Records)
	} else {
		run, err = h.detector.Detect(ctx, req.Records)
	}
	if err != nil {
		slog.Error("detection failed", "error", err)
		writeError(w, http.StatusInternalServerError, "detection failed")
		return
	}
	if traceID := GetTraceID(ctx); run.Metadata.TraceID == "" {
		run.Metadata.TraceID = traceID
	}

	h.archive(ctx, run)

	resp := DetectResponse{
		RunID:     run.ID,
		Scores:    run.ScoreMap(),
		Records:   run.Scores,
		Summary:   run.Summary,
		HighRisk:  aggregate.HighRisk(run.Scores, threshold),
		Threshold: threshold,
		Breakdown: run.Breakdown,
		Skipped:   run.Skipped,
	}
	resp.Metadata.RunMetadata = run.Metadata
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) archive(ctx context.Context, run *domain.DetectionRun) {
	if h.repo != nil {
		if err := h.repo.SaveRun(ctx, run); err != nil {
			slog.Error("failed to save detection run", "run_id", run.ID, "error", err)
		}
	}
	if h.cache != nil {
		if err := cache.SetRun(ctx, h.cache, run, cache.DefaultRunTTL); err != nil {
			slog.Warn("failed to cache detection run", "run_id", run.ID, "error", err)
		}
	}
}

// SubmitBatch handles POST /batches. The batch is scored by the worker.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	var batch domain.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if len(batch.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records are required")
		return
	}
	if th := batch.Threshold; th != nil && (*th < 0 || *th > 1) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("threshold must be within [0, 1], got %v", *th))
		return
	}
	if batch.BatchID == "" {
		batch.BatchID = uuid.New().String()
	}

	if err := bus.PublishJSON(r.Context(), h.bus, domain.TopicBatchSubmitted, batch); err != nil {
		slog.Error("failed to enqueue batch", "batch_id", batch.BatchID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue batch")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"batchId": batch.BatchID,
		"records": len(batch.Records),
	})
}

// GetRun handles GET /runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, status, err := h.loadRun(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetRunHighRisk handles GET /runs/{id}/high-risk?threshold=.
func (h *Handler) GetRunHighRisk(w http.ResponseWriter, r *http.Request) {
	threshold, err := parseThreshold(r, h.detector.Config().HighRiskThreshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, status, err := h.loadRun(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runId":     run.ID,
		"threshold": threshold,
		"records":   aggregate.HighRisk(run.Scores, threshold),
	})
}

// loadRun reads the run named in the path from the cache, then the archive.
func (h *Handler) loadRun(r *http.Request) (*domain.DetectionRun, int, error) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")
	if runID == "" {
		return nil, http.StatusBadRequest, errors.New("run id is required")
	}

	if h.cache != nil {
		run, err := cache.GetRun(ctx, h.cache, runID)
		if err != nil {
			slog.Warn("cache lookup failed", "run_id", runID, "error", err)
		}
		if run != nil {
			return run, http.StatusOK, nil
		}
	}

	if h.repo == nil {
		return nil, http.StatusNotFound, errors.New("run not found")
	}

	run, err := h.repo.GetRun(ctx, runID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, http.StatusNotFound, errors.New("run not found")
	}
	if err != nil {
		slog.Error("failed to get run", "run_id", runID, "error", err)
		return nil, http.StatusInternalServerError, errors.New("failed to load run")
	}

	if h.cache != nil {
		if err := cache.SetRun(ctx, h.cache, run, cache.DefaultRunTTL); err != nil {
			slog.Warn("failed to cache detection run", "run_id", run.ID, "error", err)
		}
	}
	return run, http.StatusOK, nil
}

// GetConfig handles GET /config.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.detector.Config())
}

// ReloadConfig handles POST /config/reload. The configured file is re-read
// and the baselines rebuilt from the retained historical set. A bad file
// leaves the active configuration in place.
func (h *Handler) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.Load(h.configPath)
	if err != nil {
		slog.Error("failed to load detection configuration", "path", h.configPath, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.detector.ReloadConfig(cfg)
	if err != nil {
		slog.Error("failed to apply detection configuration", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "configuration reloaded",
		"baseline": report,
	})
}

func parseThreshold(r *http.Request, def float64) (float64, error) {
	v := r.URL.Query().Get("threshold")
	if v == "" {
		return def, nil
	}
	t, err := strconv.ParseFloat(v, 64)
	if err != nil || t < 0 || t > 1 {
		return 0, fmt.Errorf("threshold must be a number within [0, 1], got %q", v)
	}
	return t, nil
}

// parseTimeParam accepts RFC 3339 timestamps or plain dates. An absent
// parameter is the zero time.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%s must be RFC 3339 or YYYY-MM-DD, got %q", name, v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
