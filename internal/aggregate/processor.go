package aggregate

import (
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/billguard/internal/domain"
)

// EngineVersion is stamped on every detection run.
const EngineVersion = "billguard-1.0"

// Processor turns the scored records of one pass into a detection run.
type Processor struct {
	now func() time.Time
}

// NewProcessor creates a processor stamping runs with the current time.
func NewProcessor() *Processor {
	return &Processor{now: time.Now}
}

// RunInput contains everything a detection run is assembled from.
type RunInput struct {
	TraceID           string
	Scores            []domain.ScoredRecord
	Skipped           []domain.SkippedRecord
	HistoricalRecords int
	Baselines         *domain.Baselines
	CustomRules       int
	StartTime         time.Time
	BaselineDuration  time.Duration
	ScoringDuration   time.Duration
}

// Process assembles the run: id, summary, breakdown and metadata.
func (p *Processor) Process(in *RunInput) *domain.DetectionRun {
	scores := make([]float64, len(in.Scores))
	for i, s := range in.Scores {
		scores[i] = s.Score
	}

	run := &domain.DetectionRun{
		ID:        uuid.New().String(),
		CreatedAt: p.now().UTC(),
		Scores:    in.Scores,
		Summary:   Summarize(scores),
		Breakdown: Breakdown(in.Scores),
		Skipped:   in.Skipped,
		Metadata: domain.RunMetadata{
			TraceID:           in.TraceID,
			HistoricalRecords: in.HistoricalRecords,
			BaselineMs:        in.BaselineDuration.Milliseconds(),
			ScoringMs:         in.ScoringDuration.Milliseconds(),
			CustomRules:       in.CustomRules,
			EngineVersion:     EngineVersion,
		},
	}
	if in.Baselines != nil {
		run.Metadata.OperatorBaselines = len(in.Baselines.Operators)
		run.Metadata.BusinessBaselines = len(in.Baselines.BusinessTypes)
	}
	if !in.StartTime.IsZero() {
		run.Metadata.TotalMs = p.now().Sub(in.StartTime).Milliseconds()
	}
	return run
}
