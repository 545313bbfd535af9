// Package scoring computes the four per-dimension anomaly sub-scores of a
// billing record. Every scorer is a pure function of its inputs.
package scoring

import (
	"math"
	"time"

	"github.com/opensource-finance/billguard/internal/domain"
	"github.com/opensource-finance/billguard/internal/velocity"
)

// Discrete amount scores by deviation band.
const (
	amountScoreHigh   = 1.0
	amountScoreMedium = 0.7
	amountScoreLow    = 0.4
	amountScoreMinor  = 0.1
)

const (
	// frequencyRatioTrigger is the multiple of an operator's daily average
	// above which the frequency sub-score becomes positive.
	frequencyRatioTrigger = 1.5

	// businessTypeShareFloor and hourShareFloor are the operator profile
	// shares below which a record is unusual for that operator.
	businessTypeShareFloor = 0.1
	hourShareFloor         = 0.05

	operatorTypeScore = 0.3
	operatorHourScore = 0.2
)

// Inputs bundles the read-only state shared by every record of a pass.
type Inputs struct {
	Config    *domain.DetectionConfig
	Baselines *domain.Baselines
	Index     *velocity.Index
}

// Dimensions computes all four sub-scores of r.
func (in Inputs) Dimensions(r *domain.BillingRecord) domain.DimensionScores {
	return domain.DimensionScores{
		Amount:    Amount(in.Config, in.Baselines, r),
		Frequency: Frequency(in.Config, in.Baselines, in.Index, r),
		Time:      Time(in.Config, r),
		Operator:  Operator(in.Baselines, r),
	}
}

// Amount scores the charged amount. An amount outside the business type's
// configured range maps to a discrete score by its relative deviation from
// the nearest bound. Otherwise the business-type baseline z-score is used.
func Amount(cfg *domain.DetectionConfig, b *domain.Baselines, r *domain.BillingRecord) float64 {
	amount := r.Amount()

	if rng, ok := cfg.Range(r.BusinessType); ok && !rng.Contains(amount) {
		bound := rng.Max
		if amount < rng.Min {
			bound = rng.Min
		}
		deviation := math.Abs(amount-bound) / math.Max(rng.Max, 1)

		th := cfg.Thresholds(r.BusinessType)
		switch {
		case deviation >= th.High:
			return amountScoreHigh
		case deviation >= th.Medium:
			return amountScoreMedium
		case deviation >= th.Low:
			return amountScoreLow
		default:
			return amountScoreMinor
		}
	}

	if bt := b.BusinessType(r.BusinessType); bt != nil && bt.StdAmount > 0 {
		z := math.Abs(amount-bt.AvgAmount) / bt.StdAmount
		return math.Min(1, z/3)
	}
	return 0
}

// Frequency scores the operator's same-day volume in the current set. The
// operator baseline ratio is checked first, then the business type's normal
// daily frequency. The first positive signal wins.
func Frequency(cfg *domain.DetectionConfig, b *domain.Baselines, ix *velocity.Index, r *domain.BillingRecord) float64 {
	daily := float64(ix.DailyCount(r.OperatorID, r.OperationTime))

	if op := b.Operator(r.OperatorID); op != nil && op.AvgOperationsPerDay > 0 {
		if ratio := daily / op.AvgOperationsPerDay; ratio > frequencyRatioTrigger {
			return math.Min(1, (ratio-frequencyRatioTrigger)/2)
		}
	}

	if normal, ok := cfg.NormalFrequency(r.BusinessType); ok && daily > 2*normal {
		return math.Min(1, (daily-2*normal)/normal)
	}
	return 0
}

// Time scores operations outside business hours by their distance from the
// nearest boundary. Weekend operations are multiplied by the weekend factor
// after the clamp, so the result may exceed 1.
func Time(cfg *domain.DetectionConfig, r *domain.BillingRecord) float64 {
	hour := r.Hour()
	bh := cfg.BusinessHours

	var hours int
	switch {
	case hour < bh.Start:
		hours = bh.Start - hour
	case hour > bh.End:
		hours = hour - bh.End
	default:
		return 0
	}

	score := math.Min(1, float64(hours)/24*2)
	if IsWeekend(r.OperationTime) {
		score *= cfg.WeekendMultiplier
	}
	return score
}

// Operator scores how unusual the business type, then the hour, is for the
// operator's own profile. Operators without a baseline score 0.
func Operator(b *domain.Baselines, r *domain.BillingRecord) float64 {
	op := b.Operator(r.OperatorID)
	if op == nil || op.Operations == 0 {
		return 0
	}
	if op.BusinessTypeShare(r.BusinessType) < businessTypeShareFloor {
		return operatorTypeScore
	}
	if op.HourShare(r.Hour()) < hourShareFloor {
		return operatorHourScore
	}
	return 0
}

// IsWeekend reports whether t falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
