// Package aggregate combines dimension scores into risk scores and reduces
// scored records into summaries, breakdowns and high-risk lists.
package aggregate

import (
	"math"
	"sort"

	"github.com/opensource-finance/billguard/internal/domain"
)

// Combine returns clamp(sum of weighted sub-scores + boosts, 0, 1).
func Combine(w domain.RiskWeights, d domain.DimensionScores, boosts float64) float64 {
	risk := w.Amount*d.Amount +
		w.Frequency*d.Frequency +
		w.Time*d.Time +
		w.Operator*d.Operator +
		boosts
	return Clamp(risk)
}

// Clamp bounds v to [0, 1]. NaN maps to 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// HighRisk returns the records scoring at or above threshold, highest first.
// Equal scores keep their input order.
func HighRisk(scored []domain.ScoredRecord, threshold float64) []domain.HighRiskRecord {
	out := make([]domain.HighRiskRecord, 0)
	for _, s := range scored {
		if s.Score >= threshold {
			out = append(out, domain.HighRiskRecord{BillID: s.BillID, Score: s.Score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Summarize reports per-band counts, mean, max and the banded histogram.
func Summarize(scores []float64) domain.Summary {
	s := domain.Summary{
		TotalRecords: len(scores),
		Distribution: map[string]int{
			domain.BucketLow:    0,
			domain.BucketMedium: 0,
			domain.BucketHigh:   0,
		},
	}
	if len(scores) == 0 {
		return s
	}

	for _, v := range scores {
		switch domain.BandOf(v) {
		case domain.BandHigh:
			s.HighRiskCount++
		case domain.BandMedium:
			s.MediumRiskCount++
		default:
			s.LowRiskCount++
		}
	}
	s.Distribution[domain.BucketLow] = s.LowRiskCount
	s.Distribution[domain.BucketMedium] = s.MediumRiskCount
	s.Distribution[domain.BucketHigh] = s.HighRiskCount

	s.AvgRiskScore, s.MaxRiskScore = meanMax(scores)
	return s
}

// SummarizeMap summarizes a bill id to score mapping.
func SummarizeMap(scores map[string]float64) domain.Summary {
	values := make([]float64, 0, len(scores))
	for _, v := range scores {
		values = append(values, v)
	}
	return Summarize(values)
}

// Breakdown groups scored records by operator and by business type. Groups
// are ordered by key.
func Breakdown(scored []domain.ScoredRecord) domain.Breakdown {
	return domain.Breakdown{
		Operators:     groupStats(scored, func(s *domain.ScoredRecord) string { return s.OperatorID }),
		BusinessTypes: groupStats(scored, func(s *domain.ScoredRecord) string { return string(s.BusinessType) }),
	}
}

func groupStats(scored []domain.ScoredRecord, key func(*domain.ScoredRecord) string) []domain.GroupStats {
	groups := make(map[string][]float64)
	for i := range scored {
		k := key(&scored[i])
		groups[k] = append(groups[k], scored[i].Score)
	}

	out := make([]domain.GroupStats, 0, len(groups))
	for k, scores := range groups {
		g := domain.GroupStats{Key: k, Records: len(scores)}
		g.AvgRiskScore, g.MaxRiskScore = meanMax(scores)
		for _, v := range scores {
			if domain.BandOf(v) == domain.BandHigh {
				g.HighRiskCount++
			}
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// meanMax sums in ascending order so the mean does not depend on input order.
func meanMax(values []float64) (mean, peak float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return sum / float64(len(sorted)), sorted[len(sorted)-1]
}
