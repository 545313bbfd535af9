package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/billguard/internal/bus"
	"github.com/opensource-finance/billguard/internal/cache"
	"github.com/opensource-finance/billguard/internal/config"
	"github.com/opensource-finance/billguard/internal/detector"
	"github.com/opensource-finance/billguard/internal/domain"
	"github.com/opensource-finance/billguard/internal/repository"
	"github.com/shopspring/decimal"
)

// createTestServer creates a server over the built-in configuration with an
// in-memory cache and channel bus.
func createTestServer(t *testing.T, repo domain.Repository, configPath string) (*Server, domain.EventBus) {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
		MaxBodyBytes: 1 << 20,
	}

	d, err := detector.New(config.Default())
	if err != nil {
		t.Fatalf("failed to create detector: %v", err)
	}

	eventBus := bus.NewChannelBus(16)
	t.Cleanup(func() { eventBus.Close() })

	return NewServer(cfg, repo, cache.NewLRUCache(32), eventBus, d, configPath, "test-v1"), eventBus
}

// normalBatch returns ten weekday activation records of OP001 inside
// business hours with amounts between 130 and 175.
func normalBatch(prefix string) []domain.BillingRecord {
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	out := make([]domain.BillingRecord, 10)
	for i := range out {
		ts := base.Add(time.Duration(i) * time.Hour)
		amount := decimal.NewFromInt(int64(130 + 5*i))
		out[i] = domain.BillingRecord{
			BillID:        fmt.Sprintf("%s%03d", prefix, i+1),
			BranchID:      "BR001",
			BillDate:      domain.DateOf(ts),
			OperatorID:    "OP001",
			BusinessType:  domain.BusinessActivation,
			ChargedAmount: amount,
			NetAmount:     amount,
			OperationTime: ts,
		}
	}
	return out
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := createTestServer(t, nil, "")

	rr := do(t, server, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var health map[string]string
	json.Unmarshal(rr.Body.Bytes(), &health)
	if health["status"] != "healthy" || health["version"] != "test-v1" {
		t.Errorf("unexpected health response: %v", health)
	}

	if rr := do(t, server, http.MethodGet, "/ready", nil); rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestDetectEndpoint(t *testing.T) {
	server, _ := createTestServer(t, nil, "")

	t.Run("NormalBatch", func(t *testing.T) {
		records := normalBatch("BILL")
		if rr := do(t, server, http.MethodPost, "/baseline", RecordsRequest{Records: records}); rr.Code != http.StatusOK {
			t.Fatalf("baseline: expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr := do(t, server, http.MethodPost, "/detect", DetectRequest{Records: records})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp DetectResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.RunID == "" {
			t.Error("expected run id")
		}
		if len(resp.Scores) != 10 {
			t.Fatalf("expected 10 scores, got %d", len(resp.Scores))
		}
		for id, score := range resp.Scores {
			if score >= 0.3 {
				t.Errorf("%s: expected low risk, got %.3f", id, score)
			}
		}
		if resp.Summary.LowRiskCount != 10 {
			t.Errorf("expected 10 low risk records, got %+v", resp.Summary)
		}
		if len(resp.HighRisk) != 0 {
			t.Errorf("expected no high risk records, got %v", resp.HighRisk)
		}
		if resp.Threshold != 0.7 {
			t.Errorf("expected default threshold 0.7, got %v", resp.Threshold)
		}
		if resp.Metadata.Version != "test-v1" || resp.Metadata.OperatorBaselines != 1 {
			t.Errorf("unexpected metadata: %+v", resp.Metadata)
		}
	})

	t.Run("ThresholdOverride", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/detect?threshold=0", DetectRequest{Records: normalBatch("T")})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp DetectResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if len(resp.HighRisk) != 10 {
			t.Errorf("expected every record at threshold 0, got %d", len(resp.HighRisk))
		}
	})

	t.Run("InvalidThreshold", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/detect?threshold=1.5", DetectRequest{Records: normalBatch("X")})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewBufferString("{invalid"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MalformedRecordsSkipped", func(t *testing.T) {
		records := normalBatch("M")
		records[1].ChargedAmount = decimal.NewFromInt(-5)
		records[2].BillID = records[0].BillID

		rr := do(t, server, http.MethodPost, "/detect", DetectRequest{Records: records})
		var resp DetectResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if len(resp.Scores) != 8 {
			t.Errorf("expected 8 scores, got %d", len(resp.Scores))
		}
		if len(resp.Skipped) != 2 {
			t.Errorf("expected 2 skipped records, got %v", resp.Skipped)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/detect", DetectRequest{})
		var resp DetectResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if rr.Code != http.StatusOK || len(resp.Scores) != 0 || resp.Summary.TotalRecords != 0 {
			t.Errorf("expected empty result, got %d %s", rr.Code, rr.Body.String())
		}
	})
}

func TestRunEndpoints(t *testing.T) {
	server, _ := createTestServer(t, nil, "")

	rr := do(t, server, http.MethodPost, "/detect", DetectRequest{Records: normalBatch("R")})
	var resp DetectResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)

	t.Run("GetCachedRun", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/runs/"+resp.RunID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var run domain.DetectionRun
		json.Unmarshal(rr.Body.Bytes(), &run)
		if run.ID != resp.RunID || len(run.Scores) != 10 {
			t.Errorf("unexpected run: %s with %d scores", run.ID, len(run.Scores))
		}
	})

	t.Run("HighRisk", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/runs/"+resp.RunID+"/high-risk?threshold=0", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var body struct {
			Records []domain.HighRiskRecord `json:"records"`
		}
		json.Unmarshal(rr.Body.Bytes(), &body)
		if len(body.Records) != 10 {
			t.Errorf("expected 10 records, got %d", len(body.Records))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if rr := do(t, server, http.MethodGet, "/runs/missing", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestArchiveEndpoints(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "api.db")
	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: dbPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	server, _ := createTestServer(t, repo, "")

	if rr := do(t, server, http.MethodPost, "/baseline", RecordsRequest{Records: normalBatch("A")}); rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	t.Run("RebuildFromArchive", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/baseline/archive?from=2024-01-01&to=2024-02-01", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var report detector.BaselineReport
		json.Unmarshal(rr.Body.Bytes(), &report)
		if report.Records != 10 || report.Operators != 1 {
			t.Errorf("unexpected report: %+v", report)
		}
	})

	t.Run("InvalidRange", func(t *testing.T) {
		if rr := do(t, server, http.MethodPost, "/baseline/archive?from=yesterday", nil); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("RunFromRepository", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/detect", DetectRequest{Records: normalBatch("D")})
		var resp DetectResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		run, err := repo.GetRun(context.Background(), resp.RunID)
		if err != nil {
			t.Fatalf("expected archived run: %v", err)
		}
		if len(run.Scores) != 10 {
			t.Errorf("expected 10 archived scores, got %d", len(run.Scores))
		}
	})
}

func TestSubmitBatch(t *testing.T) {
	server, eventBus := createTestServer(t, nil, "")

	got := make(chan *domain.Message, 1)
	eventBus.Subscribe(context.Background(), domain.TopicBatchSubmitted, func(ctx context.Context, msg *domain.Message) error {
		got <- msg
		return nil
	})

	rr := do(t, server, http.MethodPost, "/batches", domain.BatchRequest{Records: normalBatch("B")})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}

	select {
	case msg := <-got:
		var batch domain.BatchRequest
		json.Unmarshal(msg.Payload, &batch)
		if batch.BatchID == "" || len(batch.Records) != 10 {
			t.Errorf("unexpected batch: id=%q records=%d", batch.BatchID, len(batch.Records))
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for submitted batch")
	}

	if rr := do(t, server, http.MethodPost, "/batches", domain.BatchRequest{}); rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for empty batch, got %d", rr.Code)
	}

	for _, th := range []float64{-0.1, 1.5} {
		th := th
		rr := do(t, server, http.MethodPost, "/batches", domain.BatchRequest{Records: normalBatch("T"), Threshold: &th})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("threshold %v: expected status 400, got %d", th, rr.Code)
		}
	}
	select {
	case msg := <-got:
		t.Errorf("rejected batch was enqueued: %s", msg.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

const reloadDocument = `
operators:
  min_operations_for_baseline: 3
risk_weights:
  amount_anomaly: 0.4
  frequency_anomaly: 0.2
  time_anomaly: 0.2
  operator_anomaly: 0.2
anomaly_thresholds:
  amount: {low: 0.2, medium: 0.5, high: 0.8}
time_patterns:
  business_hours: {start: "09:00", end: "18:00"}
  night_hours: {start: "22:00", end: "06:00"}
  weekend_multiplier: 1.5
business_types:
  roaming:
    normal_frequency_per_day: 5
    normal_amount_range: [0, 500]
special_patterns:
  night_high_traffic: {enabled: true, risk_boost: 0.2}
  international_roaming_surge: {enabled: false, risk_boost: 0.3}
  rapid_succession: {enabled: true, risk_boost: 0.15, min_interval_seconds: 30}
`

func TestConfigReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detection.yaml")
	if err := os.WriteFile(path, []byte(reloadDocument), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	server, _ := createTestServer(t, nil, path)

	rr := do(t, server, http.MethodPost, "/config/reload", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, server, http.MethodGet, "/config", nil)
	var cfg domain.DetectionConfig
	if err := json.Unmarshal(rr.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("failed to decode config: %v", err)
	}
	if cfg.Weights.Amount != 0.4 || cfg.MinOperationsForBaseline != 3 {
		t.Errorf("expected reloaded configuration, got %+v", cfg.Weights)
	}

	t.Run("InvalidFileKeepsActiveConfig", func(t *testing.T) {
		if err := os.WriteFile(path, []byte("operators: {}\n"), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if rr := do(t, server, http.MethodPost, "/config/reload", nil); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
		if got := server.Handler().detector.Config().Weights.Amount; got != 0.4 {
			t.Errorf("expected active weight 0.4 to survive, got %v", got)
		}
	})
}

func TestMiddleware(t *testing.T) {
	server, _ := createTestServer(t, nil, "")

	t.Run("RequestIDEchoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if got := rr.Header().Get(RequestIDHeader); got != "req-123" {
			t.Errorf("expected request id req-123, got %q", got)
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected trace id header")
		}
	})

	t.Run("Preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/detect", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Error("expected CORS header")
		}
	})

	t.Run("BodyLimit", func(t *testing.T) {
		small, _ := createTestServer(t, nil, "")
		small.config.MaxBodyBytes = 64
		limited := NewServer(small.config, nil, nil, nil, small.handler.detector, "", "test-v1")

		rr := do(t, limited, http.MethodPost, "/detect", DetectRequest{Records: normalBatch("BIG")})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for oversized body, got %d", rr.Code)
		}
	})
}
