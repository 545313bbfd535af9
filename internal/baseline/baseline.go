// Package baseline builds behavioural baselines from a historical record set.
package baseline

import (
	"math"
	"sort"

	"github.com/opensource-finance/billguard/internal/domain"
)

// Build groups the historical records by operator and by business type and
// reduces every group independently. Operators with fewer than minOperations
// records get no baseline. The result does not depend on record order.
func Build(historical []domain.BillingRecord, minOperations int) *domain.Baselines {
	out := domain.EmptyBaselines()

	for id, group := range groupBy(historical, func(r *domain.BillingRecord) string { return r.OperatorID }) {
		if len(group) < minOperations {
			continue
		}
		out.Operators[id] = operatorBaseline(group)
	}

	for t, group := range groupBy(historical, func(r *domain.BillingRecord) domain.BusinessType { return r.BusinessType }) {
		out.BusinessTypes[t] = businessTypeBaseline(group)
	}

	return out
}

func groupBy[K comparable](records []domain.BillingRecord, key func(*domain.BillingRecord) K) map[K][]*domain.BillingRecord {
	groups := make(map[K][]*domain.BillingRecord)
	for i := range records {
		k := key(&records[i])
		groups[k] = append(groups[k], &records[i])
	}
	return groups
}

func operatorBaseline(group []*domain.BillingRecord) *domain.OperatorBaseline {
	mean, std := AmountStats(group)
	types := make(map[domain.BusinessType]int)
	for _, r := range group {
		types[r.BusinessType]++
	}
	return &domain.OperatorBaseline{
		AvgAmount:           mean,
		StdAmount:           std,
		AvgOperationsPerDay: perDay(group),
		BusinessTypeCounts:  types,
		HourlyCounts:        hourly(group),
		Operations:          len(group),
	}
}

func businessTypeBaseline(group []*domain.BillingRecord) *domain.BusinessTypeBaseline {
	mean, std := AmountStats(group)
	return &domain.BusinessTypeBaseline{
		AvgAmount:           mean,
		StdAmount:           std,
		AvgOperationsPerDay: perDay(group),
		HourlyCounts:        hourly(group),
		Operations:          len(group),
	}
}

// AmountStats returns the mean and sample standard deviation of the charged
// amounts. Amounts are summed in ascending order so the result is identical
// for any permutation. The deviation of fewer than two samples is 0.
func AmountStats(group []*domain.BillingRecord) (mean, std float64) {
	n := len(group)
	if n == 0 {
		return 0, 0
	}

	amounts := make([]float64, n)
	for i, r := range group {
		amounts[i] = r.Amount()
	}
	sort.Float64s(amounts)

	var sum float64
	for _, a := range amounts {
		sum += a
	}
	mean = sum / float64(n)
	if n < 2 {
		return mean, 0
	}

	var sq float64
	for _, a := range amounts {
		d := a - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(n-1))
}

// perDay divides the group size by the span in days between its earliest
// and latest bill date, floored at one day.
func perDay(group []*domain.BillingRecord) float64 {
	first := domain.DayNumber(group[0].BillDay())
	last := first
	for _, r := range group[1:] {
		d := domain.DayNumber(r.BillDay())
		if d < first {
			first = d
		}
		if d > last {
			last = d
		}
	}
	span := last - first
	if span < 1 {
		span = 1
	}
	return float64(len(group)) / float64(span)
}

func hourly(group []*domain.BillingRecord) map[int]int {
	counts := make(map[int]int)
	for _, r := range group {
		counts[r.Hour()]++
	}
	return counts
}
