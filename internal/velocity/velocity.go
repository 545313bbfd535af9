// Package velocity indexes the current record set for the window counts
// used by the frequency scorer and the special-pattern detectors.
package velocity

import (
	"sort"
	"time"

	"github.com/opensource-finance/billguard/internal/domain"
)

// RoamingWindow is the trailing window of the roaming surge pattern.
const RoamingWindow = 7 * 24 * time.Hour

type operatorDay struct {
	operator string
	day      int64
}

// Index answers operation counts over one record set. It is read-only after
// New returns and safe for concurrent use.
type Index struct {
	daily      map[operatorDay]int
	nightly    map[operatorDay]int
	byOperator map[string][]time.Time
	roaming    []time.Time
}

// New builds an index over records. night is the night-hours window used by
// NightCount.
func New(records []domain.BillingRecord, night domain.HourWindow) *Index {
	ix := &Index{
		daily:      make(map[operatorDay]int),
		nightly:    make(map[operatorDay]int),
		byOperator: make(map[string][]time.Time),
	}

	for i := range records {
		r := &records[i]
		key := operatorDay{operator: r.OperatorID, day: domain.DayNumber(r.OperationTime)}
		ix.daily[key]++
		if night.Contains(r.Hour()) {
			ix.nightly[key]++
		}
		ix.byOperator[r.OperatorID] = append(ix.byOperator[r.OperatorID], r.OperationTime)
		if r.BusinessType == domain.BusinessRoaming {
			ix.roaming = append(ix.roaming, r.OperationTime)
		}
	}

	for _, ts := range ix.byOperator {
		sortTimes(ts)
	}
	sortTimes(ix.roaming)
	return ix
}

// DailyCount returns the operator's operations on the calendar date of at.
func (ix *Index) DailyCount(operator string, at time.Time) int {
	return ix.daily[operatorDay{operator: operator, day: domain.DayNumber(at)}]
}

// NightCount returns the operator's operations inside the night window on the
// calendar date of at.
func (ix *Index) NightCount(operator string, at time.Time) int {
	return ix.nightly[operatorDay{operator: operator, day: domain.DayNumber(at)}]
}

// RoamingWithin returns the roaming operations, of any operator, with
// at-window <= ts <= at.
func (ix *Index) RoamingWithin(at time.Time, window time.Duration) int {
	lo := lowerBound(ix.roaming, at.Add(-window))
	hi := upperBound(ix.roaming, at)
	return hi - lo
}

// HasPriorWithin reports whether the operator has an operation with
// at-interval <= ts < at.
func (ix *Index) HasPriorWithin(operator string, at time.Time, interval time.Duration) bool {
	ts := ix.byOperator[operator]
	lo := lowerBound(ts, at.Add(-interval))
	return lo < len(ts) && ts[lo].Before(at)
}

func sortTimes(ts []time.Time) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
}

// lowerBound returns the first index with ts[i] >= t.
func lowerBound(ts []time.Time, t time.Time) int {
	return sort.Search(len(ts), func(i int) bool { return !ts[i].Before(t) })
}

// upperBound returns the first index with ts[i] > t.
func upperBound(ts []time.Time, t time.Time) int {
	return sort.Search(len(ts), func(i int) bool { return ts[i].After(t) })
}
