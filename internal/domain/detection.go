package domain

import (
	"runtime"
	"time"
)

// DetectionConfig is the typed detection configuration. Every default is
// explicit; the config package fills it from a document and validates it.
type DetectionConfig struct {
	MinOperationsForBaseline int                                 `json:"minOperationsForBaseline"`
	Weights                  RiskWeights                         `json:"riskWeights"`
	AmountThresholds         AmountThresholds                    `json:"amountThresholds"`
	BusinessHours            HourWindow                          `json:"businessHours"`
	NightHours               HourWindow                          `json:"nightHours"`
	WeekendMultiplier        float64                             `json:"weekendMultiplier"`
	BusinessTypes            map[BusinessType]BusinessTypeConfig `json:"businessTypes"`
	SpecialPatterns          SpecialPatterns                     `json:"specialPatterns"`
	CustomRules              []CustomRule                        `json:"customRules,omitempty"`
	HighRiskThreshold        float64                             `json:"highRiskThreshold"`
	MaxWorkers               int                                 `json:"maxWorkers"`
}

// RiskWeights are the per-dimension weights of the aggregate score.
type RiskWeights struct {
	Amount    float64 `json:"amountAnomaly"`
	Frequency float64 `json:"frequencyAnomaly"`
	Time      float64 `json:"timeAnomaly"`
	Operator  float64 `json:"operatorAnomaly"`
}

// AmountThresholds are deviation fractions mapped to discrete amount scores.
type AmountThresholds struct {
	Low    float64 `json:"low"`
	Medium float64 `json:"medium"`
	High   float64 `json:"high"`
}

// AmountRange is an inclusive normal amount range.
type AmountRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether amount lies within the range.
func (r AmountRange) Contains(amount float64) bool {
	return amount >= r.Min && amount <= r.Max
}

// HourWindow is an inclusive hour-of-day window. Start > End wraps midnight.
type HourWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether hour h is inside the window.
func (w HourWindow) Contains(h int) bool {
	if w.Start <= w.End {
		return h >= w.Start && h <= w.End
	}
	return h >= w.Start || h <= w.End
}

// BusinessTypeConfig is the per-type override block. Thresholds are already
// resolved against the global ones; a nil AmountRange means none is configured.
type BusinessTypeConfig struct {
	NormalFrequencyPerDay float64            `json:"normalFrequencyPerDay"`
	AmountThresholds      AmountThresholds   `json:"amountThresholds"`
	AmountRange           *AmountRange       `json:"normalAmountRange,omitempty"`
	SpecialRules          SpecialRuleToggles `json:"specialRules"`
}

// SpecialRuleToggles are per-type pattern toggles. Nil falls back to the global toggle.
type SpecialRuleToggles struct {
	NightHighTraffic *bool `json:"nightHighTraffic,omitempty"`
	RoamingSurge     *bool `json:"roamingSurge,omitempty"`
	RapidSuccession  *bool `json:"rapidSuccession,omitempty"`
}

// PatternRule is a global special-pattern toggle with its boost.
type PatternRule struct {
	Enabled   bool    `json:"enabled"`
	RiskBoost float64 `json:"riskBoost"`
}

// RapidSuccessionRule adds the minimum interval to a pattern rule.
type RapidSuccessionRule struct {
	PatternRule
	MinInterval time.Duration `json:"minInterval"`
}

// SpecialPatterns holds the three built-in special patterns.
type SpecialPatterns struct {
	NightHighTraffic PatternRule         `json:"nightHighTraffic"`
	RoamingSurge     PatternRule         `json:"internationalRoamingSurge"`
	RapidSuccession  RapidSuccessionRule `json:"rapidSuccession"`
}

// CustomRule is a CEL expression contributing an additional boost.
type CustomRule struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Expression string  `json:"expression"`
	RiskBoost  float64 `json:"riskBoost"`
	Enabled    bool    `json:"enabled"`
}

// Thresholds returns the effective amount thresholds for t.
func (c *DetectionConfig) Thresholds(t BusinessType) AmountThresholds {
	if bt, ok := c.BusinessTypes[t]; ok {
		return bt.AmountThresholds
	}
	return c.AmountThresholds
}

// Range returns the configured normal amount range for t, if any.
func (c *DetectionConfig) Range(t BusinessType) (AmountRange, bool) {
	if bt, ok := c.BusinessTypes[t]; ok && bt.AmountRange != nil {
		return *bt.AmountRange, true
	}
	return AmountRange{}, false
}

// NormalFrequency returns the configured normal operations per day for t.
func (c *DetectionConfig) NormalFrequency(t BusinessType) (float64, bool) {
	bt, ok := c.BusinessTypes[t]
	if !ok || bt.NormalFrequencyPerDay <= 0 {
		return 0, false
	}
	return bt.NormalFrequencyPerDay, true
}

// Workers returns the scoring concurrency.
func (c *DetectionConfig) Workers() int {
	if c.MaxWorkers > 0 {
		return c.MaxWorkers
	}
	return runtime.NumCPU()
}

// DefaultHighRiskThreshold is used when the configuration does not set one.
const DefaultHighRiskThreshold = HighRiskFrom
