package domain

import (
	"time"
)

// Band is the coarse classification of a risk score.
type Band string

const (
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandHigh   Band = "high"
)

// Band boundaries. Low is [0, 0.3), medium [0.3, 0.7), high [0.7, 1].
const (
	MediumRiskFrom = 0.3
	HighRiskFrom   = 0.7
)

// BandOf maps a score to its band.
func BandOf(score float64) Band {
	switch {
	case score < MediumRiskFrom:
		return BandLow
	case score < HighRiskFrom:
		return BandMedium
	default:
		return BandHigh
	}
}

// Histogram bucket labels.
const (
	BucketLow    = "0-0.3"
	BucketMedium = "0.3-0.7"
	BucketHigh   = "0.7-1.0"
)

// DimensionScores holds the four per-dimension sub-scores of a record.
type DimensionScores struct {
	Amount    float64 `json:"amount"`
	Frequency float64 `json:"frequency"`
	Time      float64 `json:"time"`
	Operator  float64 `json:"operator"`
}

// PatternBoosts holds the additive boosts contributed by special patterns.
type PatternBoosts struct {
	NightHighTraffic float64 `json:"nightHighTraffic"`
	RoamingSurge     float64 `json:"roamingSurge"`
	RapidSuccession  float64 `json:"rapidSuccession"`
	Custom           float64 `json:"custom"`
}

// Total returns the sum of all boosts.
func (p PatternBoosts) Total() float64 {
	return p.NightHighTraffic + p.RoamingSurge + p.RapidSuccession + p.Custom
}

// ScoredRecord is the outcome of scoring one record.
type ScoredRecord struct {
	BillID       string          `json:"billId"`
	OperatorID   string          `json:"operatorId"`
	BusinessType BusinessType    `json:"businessType"`
	Score        float64         `json:"score"`
	Band         Band            `json:"band"`
	Dimensions   DimensionScores `json:"dimensions"`
	Boosts       PatternBoosts   `json:"boosts"`
}

// HighRiskRecord is an entry of the high-risk list.
type HighRiskRecord struct {
	BillID string  `json:"billId"`
	Score  float64 `json:"score"`
}

// Summary reports aggregate statistics over a score map.
type Summary struct {
	TotalRecords    int            `json:"totalRecords"`
	HighRiskCount   int            `json:"highRiskCount"`
	MediumRiskCount int            `json:"mediumRiskCount"`
	LowRiskCount    int            `json:"lowRiskCount"`
	AvgRiskScore    float64        `json:"avgRiskScore"`
	MaxRiskScore    float64        `json:"maxRiskScore"`
	Distribution    map[string]int `json:"riskDistribution"`
}

// GroupStats aggregates scores of the records sharing one key.
type GroupStats struct {
	Key           string  `json:"key"`
	Records       int     `json:"records"`
	AvgRiskScore  float64 `json:"avgRiskScore"`
	MaxRiskScore  float64 `json:"maxRiskScore"`
	HighRiskCount int     `json:"highRiskCount"`
}

// Breakdown groups scores by operator and by business type.
type Breakdown struct {
	Operators     []GroupStats `json:"operators"`
	BusinessTypes []GroupStats `json:"businessTypes"`
}

// DetectionRun is the complete result of one detection pass.
type DetectionRun struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"createdAt"`
	Scores    []ScoredRecord  `json:"scores"`
	Summary   Summary         `json:"summary"`
	Breakdown Breakdown       `json:"breakdown"`
	Skipped   []SkippedRecord `json:"skipped,omitempty"`
	Metadata  RunMetadata     `json:"metadata"`
}

// RunMetadata contains processing information.
type RunMetadata struct {
	TraceID           string `json:"traceId,omitempty"`
	HistoricalRecords int    `json:"historicalRecords"`
	OperatorBaselines int    `json:"operatorBaselines"`
	BusinessBaselines int    `json:"businessTypeBaselines"`
	BaselineMs        int64  `json:"baselineMs"`
	ScoringMs         int64  `json:"scoringMs"`
	TotalMs           int64  `json:"totalMs"`
	CustomRules       int    `json:"customRules"`
	EngineVersion     string `json:"engineVersion"`
}

// ScoreMap returns bill id to risk score.
func (r *DetectionRun) ScoreMap() map[string]float64 {
	m := make(map[string]float64, len(r.Scores))
	for _, s := range r.Scores {
		m[s.BillID] = s.Score
	}
	return m
}
