package detector

import (
	"context"
	"sync"

	"github.com/opensource-finance/billguard/internal/aggregate"
	"github.com/opensource-finance/billguard/internal/domain"
	"github.com/opensource-finance/billguard/internal/patterns"
	"github.com/opensource-finance/billguard/internal/rules"
	"github.com/opensource-finance/billguard/internal/scoring"
	"github.com/opensource-finance/billguard/internal/velocity"
)

// scoreAll scores every record concurrently. Each goroutine writes only its
// own slot, so the output order is the input order.
func scoreAll(ctx context.Context, s *snapshot, records []domain.BillingRecord) ([]domain.ScoredRecord, error) {
	ix := velocity.New(records, s.cfg.NightHours)
	in := scoring.Inputs{Config: s.cfg, Baselines: s.baselines, Index: ix}

	results := make([]domain.ScoredRecord, len(records))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, s.cfg.Workers())

	for i := range records {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = scoreRecord(in, s.rules, &records[idx])
		}(i)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func scoreRecord(in scoring.Inputs, ruleSet *rules.RuleSet, r *domain.BillingRecord) domain.ScoredRecord {
	dims := in.Dimensions(r)

	boosts := patterns.Boosts(in.Config, in.Index, r)
	boosts.Custom = ruleSet.Boost(rules.Input{
		Record:     r,
		DailyCount: in.Index.DailyCount(r.OperatorID, r.OperationTime),
	})

	score := aggregate.Combine(in.Config.Weights, dims, boosts.Total())
	return domain.ScoredRecord{
		BillID:       r.BillID,
		OperatorID:   r.OperatorID,
		BusinessType: r.BusinessType,
		Score:        score,
		Band:         domain.BandOf(score),
		Dimensions:   dims,
		Boosts:       boosts,
	}
}
