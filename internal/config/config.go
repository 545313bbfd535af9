// Package config loads and validates BillGuard configuration: the detection
// document (YAML or JSON) and the service settings taken from the environment.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/billguard/internal/domain"
	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingKey is wrapped when a required key is absent.
	ErrMissingKey = errors.New("missing required configuration key")

	// ErrInvalidValue is wrapped when a key is present but malformed.
	ErrInvalidValue = errors.New("invalid configuration value")
)

//go:embed default.yaml
var defaultDocument []byte

// Default returns the built-in detection configuration.
func Default() *domain.DetectionConfig {
	cfg, err := Parse(defaultDocument)
	if err != nil {
		panic(fmt.Sprintf("built-in detection configuration is invalid: %v", err))
	}
	return cfg
}

// Load reads and parses the detection document at path. An empty path
// yields the built-in configuration.
func Load(path string) (*domain.DetectionConfig, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read detection config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("detection config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML or JSON detection document and validates it.
// Every problem is reported, joined into one error.
func Parse(data []byte) (*domain.DetectionConfig, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}

	b := &builder{}
	cfg := b.build(&doc)
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

type builder struct {
	errs []error
}

func (b *builder) missing(key string) {
	b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrMissingKey, key))
}

func (b *builder) invalid(key, format string, args ...any) {
	b.errs = append(b.errs, fmt.Errorf("%w: %s: %s", ErrInvalidValue, key, fmt.Sprintf(format, args...)))
}

func (b *builder) float(key string, v *float64) float64 {
	if v == nil {
		b.missing(key)
		return 0
	}
	return *v
}

func (b *builder) build(doc *document) *domain.DetectionConfig {
	cfg := &domain.DetectionConfig{
		BusinessTypes:     map[domain.BusinessType]domain.BusinessTypeConfig{},
		HighRiskThreshold: domain.DefaultHighRiskThreshold,
	}

	if doc.Operators == nil || doc.Operators.MinOperationsForBaseline == nil {
		b.missing("operators.min_operations_for_baseline")
	} else if n := *doc.Operators.MinOperationsForBaseline; n < 1 {
		b.invalid("operators.min_operations_for_baseline", "must be at least 1, got %d", n)
	} else {
		cfg.MinOperationsForBaseline = n
	}

	cfg.Weights = b.weights(doc.RiskWeights)

	if doc.AnomalyThresholds == nil || doc.AnomalyThresholds.Amount == nil {
		b.missing("anomaly_thresholds.amount")
	} else {
		t := doc.AnomalyThresholds.Amount
		cfg.AmountThresholds = domain.AmountThresholds{
			Low:    b.float("anomaly_thresholds.amount.low", t.Low),
			Medium: b.float("anomaly_thresholds.amount.medium", t.Medium),
			High:   b.float("anomaly_thresholds.amount.high", t.High),
		}
	}

	b.timePatterns(cfg, doc.TimePatterns)

	if doc.BusinessTypes == nil {
		b.missing("business_types")
	}
	for name, bt := range doc.BusinessTypes {
		key := "business_types." + name
		t := domain.BusinessType(name)
		if !t.Valid() {
			b.invalid(key, "unknown business type")
			continue
		}
		cfg.BusinessTypes[t] = b.businessType(key, bt, cfg.AmountThresholds)
	}

	b.specialPatterns(cfg, doc.SpecialPatterns)
	cfg.CustomRules = b.customRules(doc.CustomRules)

	if d := doc.Detection; d != nil {
		if d.HighRiskThreshold != nil {
			if v := *d.HighRiskThreshold; v < 0 || v > 1 {
				b.invalid("detection.high_risk_threshold", "must be within [0, 1], got %g", v)
			} else {
				cfg.HighRiskThreshold = v
			}
		}
		if d.MaxWorkers != nil {
			if *d.MaxWorkers < 0 {
				b.invalid("detection.max_workers", "must not be negative")
			} else {
				cfg.MaxWorkers = *d.MaxWorkers
			}
		}
	}

	return cfg
}

func (b *builder) weights(w *weightsDoc) domain.RiskWeights {
	if w == nil {
		b.missing("risk_weights")
		return domain.RiskWeights{}
	}
	out := domain.RiskWeights{
		Amount:    b.float("risk_weights.amount_anomaly", w.Amount),
		Frequency: b.float("risk_weights.frequency_anomaly", w.Frequency),
		Time:      b.float("risk_weights.time_anomaly", w.Time),
		Operator:  b.float("risk_weights.operator_anomaly", w.Operator),
	}
	if out.Amount < 0 || out.Frequency < 0 || out.Time < 0 || out.Operator < 0 {
		slog.Warn("negative risk weight configured",
			"amount", out.Amount,
			"frequency", out.Frequency,
			"time", out.Time,
			"operator", out.Operator,
		)
	}
	return out
}

func (b *builder) timePatterns(cfg *domain.DetectionConfig, tp *timePatternsDoc) {
	if tp == nil {
		b.missing("time_patterns")
		return
	}

	cfg.BusinessHours = b.window("time_patterns.business_hours", tp.BusinessHours)
	if cfg.BusinessHours.Start > cfg.BusinessHours.End {
		b.invalid("time_patterns.business_hours", "start must not be after end")
	}
	cfg.NightHours = b.window("time_patterns.night_hours", tp.NightHours)

	cfg.WeekendMultiplier = b.float("time_patterns.weekend_multiplier", tp.WeekendMultiplier)
	if cfg.WeekendMultiplier < 0 {
		b.invalid("time_patterns.weekend_multiplier", "must not be negative")
	}
}

func (b *builder) window(key string, w *windowDoc) domain.HourWindow {
	if w == nil {
		b.missing(key)
		return domain.HourWindow{}
	}
	return domain.HourWindow{
		Start: b.hour(key+".start", w.Start),
		End:   b.hour(key+".end", w.End),
	}
}

// hour parses "HH:MM" and keeps the hour.
func (b *builder) hour(key string, v *string) int {
	if v == nil {
		b.missing(key)
		return 0
	}
	h, err := ParseHour(*v)
	if err != nil {
		b.invalid(key, "%v", err)
	}
	return h
}

// ParseHour returns the hour of an "HH:MM" clock string.
func ParseHour(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour(), nil
}

func (b *builder) businessType(key string, bt *businessTypeDoc, global domain.AmountThresholds) domain.BusinessTypeConfig {
	out := domain.BusinessTypeConfig{AmountThresholds: global}
	if bt == nil {
		b.missing(key + ".normal_frequency_per_day")
		return out
	}

	if bt.NormalFrequencyPerDay == nil {
		b.missing(key + ".normal_frequency_per_day")
	} else if *bt.NormalFrequencyPerDay <= 0 {
		b.invalid(key+".normal_frequency_per_day", "must be positive")
	} else {
		out.NormalFrequencyPerDay = *bt.NormalFrequencyPerDay
	}

	if t := bt.AmountThresholds; t != nil {
		if t.Low != nil {
			out.AmountThresholds.Low = *t.Low
		}
		if t.Medium != nil {
			out.AmountThresholds.Medium = *t.Medium
		}
		if t.High != nil {
			out.AmountThresholds.High = *t.High
		}
	}

	if r := bt.NormalAmountRange; r != nil {
		switch {
		case len(r) != 2:
			b.invalid(key+".normal_amount_range", "expected [min, max]")
		case r[0] > r[1]:
			b.invalid(key+".normal_amount_range", "min %g exceeds max %g", r[0], r[1])
		default:
			out.AmountRange = &domain.AmountRange{Min: r[0], Max: r[1]}
		}
	}

	if sr := bt.SpecialRules; sr != nil {
		out.SpecialRules = domain.SpecialRuleToggles{
			NightHighTraffic: sr.NightHighTraffic,
			RoamingSurge:     sr.RoamingSurge,
			RapidSuccession:  sr.RapidSuccession,
		}
	}
	return out
}

func (b *builder) pattern(key string, p *patternDoc) domain.PatternRule {
	if p == nil {
		b.missing(key)
		return domain.PatternRule{}
	}
	out := domain.PatternRule{RiskBoost: b.float(key+".risk_boost", p.RiskBoost)}
	if p.Enabled == nil {
		b.missing(key + ".enabled")
	} else {
		out.Enabled = *p.Enabled
	}
	return out
}

func (b *builder) specialPatterns(cfg *domain.DetectionConfig, sp *specialPatternsDoc) {
	if sp == nil {
		b.missing("special_patterns")
		return
	}
	cfg.SpecialPatterns.NightHighTraffic = b.pattern("special_patterns.night_high_traffic", sp.NightHighTraffic)
	cfg.SpecialPatterns.RoamingSurge = b.pattern("special_patterns.international_roaming_surge", sp.RoamingSurge)

	const rapidKey = "special_patterns.rapid_succession"
	cfg.SpecialPatterns.RapidSuccession.PatternRule = b.pattern(rapidKey, sp.RapidSuccession)
	if sp.RapidSuccession == nil {
		return
	}
	secs := b.float(rapidKey+".min_interval_seconds", sp.RapidSuccession.MinIntervalSeconds)
	if secs < 0 {
		b.invalid(rapidKey+".min_interval_seconds", "must not be negative")
	}
	cfg.SpecialPatterns.RapidSuccession.MinInterval = time.Duration(secs * float64(time.Second))
}

func (b *builder) customRules(docs []customRuleDoc) []domain.CustomRule {
	var out []domain.CustomRule
	seen := make(map[string]bool, len(docs))
	for i, d := range docs {
		key := "custom_rules[" + strconv.Itoa(i) + "]"
		switch {
		case d.ID == "":
			b.missing(key + ".id")
			continue
		case seen[d.ID]:
			b.invalid(key+".id", "duplicate rule id %q", d.ID)
			continue
		case d.Expression == "":
			b.missing(key + ".expression")
			continue
		}
		seen[d.ID] = true

		rule := domain.CustomRule{
			ID:         d.ID,
			Name:       d.Name,
			Expression: d.Expression,
			RiskBoost:  b.float(key+".risk_boost", d.RiskBoost),
			Enabled:    true,
		}
		if d.Enabled != nil {
			rule.Enabled = *d.Enabled
		}
		out = append(out, rule)
	}
	return out
}
