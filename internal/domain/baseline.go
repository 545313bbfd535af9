package domain

// OperatorBaseline is the behavioural profile of one operator over the historical window.
type OperatorBaseline struct {
	AvgAmount           float64              `json:"avgAmount"`
	StdAmount           float64              `json:"stdAmount"`
	AvgOperationsPerDay float64              `json:"avgOperationsPerDay"`
	BusinessTypeCounts  map[BusinessType]int `json:"businessTypeCounts"`
	HourlyCounts        map[int]int          `json:"hourlyCounts"`
	Operations          int                  `json:"operations"`
}

// BusinessTypeShare returns the fraction of the operator's operations of type t.
func (b *OperatorBaseline) BusinessTypeShare(t BusinessType) float64 {
	if b.Operations == 0 {
		return 0
	}
	return float64(b.BusinessTypeCounts[t]) / float64(b.Operations)
}

// HourShare returns the fraction of the operator's operations performed at hour h.
func (b *OperatorBaseline) HourShare(h int) float64 {
	if b.Operations == 0 {
		return 0
	}
	return float64(b.HourlyCounts[h]) / float64(b.Operations)
}

// BusinessTypeBaseline is the profile of one business type across all operators.
type BusinessTypeBaseline struct {
	AvgAmount           float64     `json:"avgAmount"`
	StdAmount           float64     `json:"stdAmount"`
	AvgOperationsPerDay float64     `json:"avgOperationsPerDay"`
	HourlyCounts        map[int]int `json:"hourlyCounts"`
	Operations          int         `json:"operations"`
}

// Baselines holds every profile built from one historical window.
// It is treated as immutable once built.
type Baselines struct {
	Operators     map[string]*OperatorBaseline           `json:"operators"`
	BusinessTypes map[BusinessType]*BusinessTypeBaseline `json:"businessTypes"`
}

// EmptyBaselines returns baselines with no profiles.
func EmptyBaselines() *Baselines {
	return &Baselines{
		Operators:     map[string]*OperatorBaseline{},
		BusinessTypes: map[BusinessType]*BusinessTypeBaseline{},
	}
}

// Operator returns the operator's baseline, or nil.
func (b *Baselines) Operator(id string) *OperatorBaseline {
	if b == nil {
		return nil
	}
	return b.Operators[id]
}

// BusinessType returns the business type's baseline, or nil.
func (b *Baselines) BusinessType(t BusinessType) *BusinessTypeBaseline {
	if b == nil {
		return nil
	}
	return b.BusinessTypes[t]
}
