// Package detector runs detection passes: it validates the current record
// set, scores every record against the baselines and assembles the run.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/billguard/internal/aggregate"
	"github.com/opensource-finance/billguard/internal/baseline"
	"github.com/opensource-finance/billguard/internal/domain"
	"github.com/opensource-finance/billguard/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("billguard-detector")

// snapshot is the immutable state a pass reads. Updates replace it whole.
type snapshot struct {
	cfg        *domain.DetectionConfig
	rules      *rules.RuleSet
	baselines  *domain.Baselines
	historical []domain.BillingRecord
	builtAt    time.Time
	buildTime  time.Duration
}

// Detector holds the current configuration and baselines. Passes run against
// a snapshot taken at their start, so a concurrent rebuild or reload never
// affects a pass in flight.
type Detector struct {
	mu        sync.RWMutex
	engine    *rules.Engine
	processor *aggregate.Processor
	state     *snapshot
}

// New creates a detector with empty baselines.
func New(cfg *domain.DetectionConfig) (*Detector, error) {
	engine, err := rules.NewEngine()
	if err != nil {
		return nil, err
	}
	ruleSet, err := engine.Compile(cfg.CustomRules)
	if err != nil {
		return nil, fmt.Errorf("custom rules: %w", err)
	}

	return &Detector{
		engine:    engine,
		processor: aggregate.NewProcessor(),
		state: &snapshot{
			cfg:       cfg,
			rules:     ruleSet,
			baselines: domain.EmptyBaselines(),
		},
	}, nil
}

// BaselineReport describes a baseline rebuild.
type BaselineReport struct {
	Records       int                    `json:"records"`
	Operators     int                    `json:"operators"`
	BusinessTypes int                    `json:"businessTypes"`
	Skipped       []domain.SkippedRecord `json:"skipped,omitempty"`
	BuiltAt       time.Time              `json:"builtAt"`
	DurationMs    int64                  `json:"durationMs"`
}

// BuildBaseline replaces the baselines with ones built from historical.
// Malformed records are excluded and reported.
func (d *Detector) BuildBaseline(ctx context.Context, historical []domain.BillingRecord) BaselineReport {
	_, span := tracer.Start(ctx, "detector.BuildBaseline",
		trace.WithAttributes(attribute.Int("historical.records", len(historical))),
	)
	defer span.End()

	valid, skipped := domain.Partition(historical)
	if len(skipped) > 0 {
		slog.Warn("historical records skipped", "count", len(skipped))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	next := *d.state
	next.historical = valid
	rebuild(&next)
	d.state = &next

	return report(&next, skipped)
}

// ReloadConfig swaps the configuration, recompiles the custom rules and
// rebuilds the baselines from the retained historical set. On error the
// previous configuration stays active.
func (d *Detector) ReloadConfig(cfg *domain.DetectionConfig) (BaselineReport, error) {
	ruleSet, err := d.engine.Compile(cfg.CustomRules)
	if err != nil {
		return BaselineReport{}, fmt.Errorf("custom rules: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	next := *d.state
	next.cfg = cfg
	next.rules = ruleSet
	rebuild(&next)
	d.state = &next

	slog.Info("detection configuration reloaded",
		"custom_rules", ruleSet.Len(),
		"operator_baselines", len(next.baselines.Operators),
	)
	return report(&next, nil), nil
}

func rebuild(s *snapshot) {
	start := time.Now()
	s.baselines = baseline.Build(s.historical, s.cfg.MinOperationsForBaseline)
	s.builtAt = time.Now().UTC()
	s.buildTime = time.Since(start)
}

func report(s *snapshot, skipped []domain.SkippedRecord) BaselineReport {
	return BaselineReport{
		Records:       len(s.historical),
		Operators:     len(s.baselines.Operators),
		BusinessTypes: len(s.baselines.BusinessTypes),
		Skipped:       skipped,
		BuiltAt:       s.builtAt,
		DurationMs:    s.buildTime.Milliseconds(),
	}
}

func (d *Detector) snapshot() *snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Config returns the active detection configuration.
func (d *Detector) Config() *domain.DetectionConfig {
	return d.snapshot().cfg
}

// Baselines returns the active baselines. Callers must not modify them.
func (d *Detector) Baselines() *domain.Baselines {
	return d.snapshot().baselines
}

// RulesCount returns the number of active custom rules.
func (d *Detector) RulesCount() int {
	return d.snapshot().rules.Len()
}

// Detect scores the current record set against the active baselines.
func (d *Detector) Detect(ctx context.Context, current []domain.BillingRecord) (*domain.DetectionRun, error) {
	s := d.snapshot()
	return d.pass(ctx, s, current, time.Now())
}

// Run is a one-shot pass: baselines are built from historical and discarded
// once current has been scored.
func Run(ctx context.Context, cfg *domain.DetectionConfig, historical, current []domain.BillingRecord) (*domain.DetectionRun, error) {
	start := time.Now()
	d, err := New(cfg)
	if err != nil {
		return nil, err
	}
	valid, skipped := domain.Partition(historical)
	if len(skipped) > 0 {
		slog.Warn("historical records skipped", "count", len(skipped))
	}

	s := *d.state
	s.historical = valid
	rebuild(&s)
	return d.pass(ctx, &s, current, start)
}

func (d *Detector) pass(ctx context.Context, s *snapshot, current []domain.BillingRecord, start time.Time) (*domain.DetectionRun, error) {
	ctx, span := tracer.Start(ctx, "detector.Detect",
		trace.WithAttributes(
			attribute.Int("current.records", len(current)),
			attribute.Int("baselines.operators", len(s.baselines.Operators)),
		),
	)
	defer span.End()

	valid, skipped := domain.Partition(current)
	if len(skipped) > 0 {
		slog.Warn("current records skipped", "count", len(skipped))
	}

	scoringStart := time.Now()
	scored, err := scoreAll(ctx, s, valid)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var traceID string
	if sc := span.SpanContext(); sc.TraceID().IsValid() {
		traceID = sc.TraceID().String()
	}

	run := d.processor.Process(&aggregate.RunInput{
		TraceID:           traceID,
		Scores:            scored,
		Skipped:           skipped,
		HistoricalRecords: len(s.historical),
		Baselines:         s.baselines,
		CustomRules:       s.rules.Len(),
		StartTime:         start,
		BaselineDuration:  s.buildTime,
		ScoringDuration:   time.Since(scoringStart),
	})

	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("run.high_risk", run.Summary.HighRiskCount),
	)
	slog.Debug("detection pass completed",
		"run_id", run.ID,
		"records", len(scored),
		"skipped", len(skipped),
		"high_risk", run.Summary.HighRiskCount,
		"total_ms", run.Metadata.TotalMs,
	)
	return run, nil
}
