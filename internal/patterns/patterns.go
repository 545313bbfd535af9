// Package patterns detects the special behaviour patterns that add a fixed
// boost on top of the weighted dimension scores.
package patterns

import (
	"github.com/opensource-finance/billguard/internal/domain"
	"github.com/opensource-finance/billguard/internal/velocity"
)

const (
	// nightTrafficLimit is the same-operator night operation count above
	// which night traffic is considered high.
	nightTrafficLimit = 5

	// roamingSurgeLimit is the trailing-week roaming count above which
	// roaming is considered a surge.
	roamingSurgeLimit = 3
)

// Toggles are the resolved on/off switches of the three patterns for one
// business type.
type Toggles struct {
	NightHighTraffic bool
	RoamingSurge     bool
	RapidSuccession  bool
}

// Resolve applies the business type's own special_rules first and falls back
// to the global pattern switches for every rule it leaves unset.
func Resolve(cfg *domain.DetectionConfig, t domain.BusinessType) Toggles {
	sp := cfg.SpecialPatterns
	out := Toggles{
		NightHighTraffic: sp.NightHighTraffic.Enabled,
		RoamingSurge:     sp.RoamingSurge.Enabled,
		RapidSuccession:  sp.RapidSuccession.Enabled,
	}

	bt, ok := cfg.BusinessTypes[t]
	if !ok {
		return out
	}
	if v := bt.SpecialRules.NightHighTraffic; v != nil {
		out.NightHighTraffic = *v
	}
	if v := bt.SpecialRules.RoamingSurge; v != nil {
		out.RoamingSurge = *v
	}
	if v := bt.SpecialRules.RapidSuccession; v != nil {
		out.RapidSuccession = *v
	}
	return out
}

// Boosts evaluates every enabled pattern for r. The custom boost is left to
// the rule engine.
func Boosts(cfg *domain.DetectionConfig, ix *velocity.Index, r *domain.BillingRecord) domain.PatternBoosts {
	on := Resolve(cfg, r.BusinessType)

	var out domain.PatternBoosts
	if on.NightHighTraffic {
		out.NightHighTraffic = NightHighTraffic(cfg, ix, r)
	}
	if on.RoamingSurge {
		out.RoamingSurge = RoamingSurge(cfg, ix, r)
	}
	if on.RapidSuccession {
		out.RapidSuccession = RapidSuccession(cfg, ix, r)
	}
	return out
}

// NightHighTraffic boosts a night-time record when its operator performed more
// than five night operations on the same date.
func NightHighTraffic(cfg *domain.DetectionConfig, ix *velocity.Index, r *domain.BillingRecord) float64 {
	if !cfg.NightHours.Contains(r.Hour()) {
		return 0
	}
	if ix.NightCount(r.OperatorID, r.OperationTime) > nightTrafficLimit {
		return cfg.SpecialPatterns.NightHighTraffic.RiskBoost
	}
	return 0
}

// RoamingSurge boosts a roaming record when more than three roaming records,
// itself included, fall in the trailing seven days.
func RoamingSurge(cfg *domain.DetectionConfig, ix *velocity.Index, r *domain.BillingRecord) float64 {
	if r.BusinessType != domain.BusinessRoaming {
		return 0
	}
	if ix.RoamingWithin(r.OperationTime, velocity.RoamingWindow) > roamingSurgeLimit {
		return cfg.SpecialPatterns.RoamingSurge.RiskBoost
	}
	return 0
}

// RapidSuccession boosts a record that follows another operation of the same
// operator within the minimum interval.
func RapidSuccession(cfg *domain.DetectionConfig, ix *velocity.Index, r *domain.BillingRecord) float64 {
	rule := cfg.SpecialPatterns.RapidSuccession
	if ix.HasPriorWithin(r.OperatorID, r.OperationTime, rule.MinInterval) {
		return rule.RiskBoost
	}
	return 0
}
