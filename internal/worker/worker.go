// Package worker runs submitted batches through the detector asynchronously.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/billguard/internal/aggregate"
	"github.com/opensource-finance/billguard/internal/bus"
	"github.com/opensource-finance/billguard/internal/cache"
	"github.com/opensource-finance/billguard/internal/detector"
	"github.com/opensource-finance/billguard/internal/domain"
)

// Worker consumes submitted batches from the EventBus, scores them, archives
// the run and publishes the outcome.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	cache    domain.Cache
	detector *detector.Detector

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker. repo and c may be nil.
func NewWorker(eventBus domain.EventBus, repo domain.Repository, c domain.Cache, d *detector.Detector) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      eventBus,
		repo:     repo,
		cache:    c,
		detector: d,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to submitted batches.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicBatchSubmitted, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("batch worker started",
		"topic", domain.TopicBatchSubmitted,
	)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var batch domain.BatchRequest
	if err := json.Unmarshal(msg.Payload, &batch); err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if batch.BatchID == "" {
		batch.BatchID = msg.ID
	}

	_, err := w.Process(ctx, &batch)
	return err
}

// Process scores one batch. A batch carrying its own historical set gets a
// one-shot pass; otherwise the detector's current baselines are used.
func (w *Worker) Process(ctx context.Context, batch *domain.BatchRequest) (*domain.DetectionRun, error) {
	start := time.Now()

	slog.Debug("processing batch",
		"batch_id", batch.BatchID,
		"records", len(batch.Records),
		"historical", len(batch.Historical),
	)

	var run *domain.DetectionRun
	var err error
	if len(batch.Historical) > 0 {
		run, err = detector.Run(ctx, w.detector.Config(), batch.Historical, batch.Records)
	} else {
		run, err = w.detector.Detect(ctx, batch.Records)
	}
	if err != nil {
		slog.Error("batch detection failed",
			"batch_id", batch.BatchID,
			"error", err,
		)
		return nil, err
	}

	// 1. Archive
	if w.repo != nil {
		if err := w.repo.SaveRun(ctx, run); err != nil {
			slog.Error("failed to save detection run",
				"run_id", run.ID,
				"error", err,
			)
		}
	}
	if w.cache != nil {
		if err := cache.SetRun(ctx, w.cache, run, cache.DefaultRunTTL); err != nil {
			slog.Warn("failed to cache detection run",
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	// 2. Publish the completed run
	if err := bus.PublishJSON(ctx, w.bus, domain.TopicDetectionCompleted, run); err != nil {
		slog.Error("failed to publish detection run",
			"run_id", run.ID,
			"error", err,
		)
	}

	// 3. One alert per high-risk record
	threshold := w.detector.Config().HighRiskThreshold
	if batch.Threshold != nil {
		threshold = *batch.Threshold
	}
	alerts := w.publishAlerts(ctx, batch.BatchID, run, threshold)

	slog.Info("batch processed",
		"batch_id", batch.BatchID,
		"run_id", run.ID,
		"records", run.Summary.TotalRecords,
		"skipped", len(run.Skipped),
		"alerts", alerts,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return run, nil
}

func (w *Worker) publishAlerts(ctx context.Context, batchID string, run *domain.DetectionRun, threshold float64) int {
	byID := make(map[string]*domain.ScoredRecord, len(run.Scores))
	for i := range run.Scores {
		byID[run.Scores[i].BillID] = &run.Scores[i]
	}

	published := 0
	for _, hr := range aggregate.HighRisk(run.Scores, threshold) {
		s := byID[hr.BillID]
		alert := domain.HighRiskAlert{
			RunID:        run.ID,
			BatchID:      batchID,
			BillID:       hr.BillID,
			OperatorID:   s.OperatorID,
			BusinessType: s.BusinessType,
			Score:        hr.Score,
		}
		if err := bus.PublishJSON(ctx, w.bus, domain.TopicHighRiskAlert, alert); err != nil {
			slog.Error("failed to publish alert",
				"bill_id", hr.BillID,
				"error", err,
			)
			continue
		}
		published++
	}
	return published
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("batch worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
