package patterns

import (
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/billguard/internal/domain"
	"github.com/opensource-finance/billguard/internal/velocity"
)

var tuesday = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

func testConfig() *domain.DetectionConfig {
	return &domain.DetectionConfig{
		NightHours:    domain.HourWindow{Start: 23, End: 5},
		BusinessHours: domain.HourWindow{Start: 8, End: 20},
		BusinessTypes: map[domain.BusinessType]domain.BusinessTypeConfig{
			domain.BusinessRoaming:    {NormalFrequencyPerDay: 2},
			domain.BusinessActivation: {NormalFrequencyPerDay: 20},
		},
		SpecialPatterns: domain.SpecialPatterns{
			NightHighTraffic: domain.PatternRule{Enabled: true, RiskBoost: 0.2},
			RoamingSurge:     domain.PatternRule{Enabled: true, RiskBoost: 0.25},
			RapidSuccession: domain.RapidSuccessionRule{
				PatternRule: domain.PatternRule{Enabled: true, RiskBoost: 0.15},
				MinInterval: 30 * time.Second,
			},
		},
	}
}

func rec(id, op string, bt domain.BusinessType, at time.Time) domain.BillingRecord {
	return domain.BillingRecord{BillID: id, OperatorID: op, BusinessType: bt, OperationTime: at}
}

func boolPtr(v bool) *bool { return &v }

func TestResolve(t *testing.T) {
	cfg := testConfig()
	cfg.SpecialPatterns.RoamingSurge.Enabled = false
	bt := cfg.BusinessTypes[domain.BusinessRoaming]
	bt.SpecialRules = domain.SpecialRuleToggles{
		RoamingSurge:    boolPtr(true),
		RapidSuccession: boolPtr(false),
	}
	cfg.BusinessTypes[domain.BusinessRoaming] = bt

	t.Run("TypeOverrideWins", func(t *testing.T) {
		got := Resolve(cfg, domain.BusinessRoaming)
		want := Toggles{NightHighTraffic: true, RoamingSurge: true, RapidSuccession: false}
		if got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
	})

	t.Run("GlobalFallback", func(t *testing.T) {
		got := Resolve(cfg, domain.BusinessRecharge)
		want := Toggles{NightHighTraffic: true, RoamingSurge: false, RapidSuccession: true}
		if got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
	})
}

func TestNightHighTraffic(t *testing.T) {
	cfg := testConfig()

	night := func(n int, op string) []domain.BillingRecord {
		out := make([]domain.BillingRecord, n)
		for i := range out {
			// 00:00..04:00 plus 23:00 of the same date
			hour := i % 5
			if i == n-1 {
				hour = 23
			}
			out[i] = rec(fmt.Sprintf("N%d", i), op, domain.BusinessActivation, tuesday.Add(time.Duration(hour)*time.Hour+time.Duration(i)*time.Minute))
		}
		return out
	}

	t.Run("AboveLimit", func(t *testing.T) {
		records := night(6, "OP001")
		ix := velocity.New(records, cfg.NightHours)
		for i := range records {
			if got := NightHighTraffic(cfg, ix, &records[i]); got != 0.2 {
				t.Errorf("record %d: expected 0.2, got %v", i, got)
			}
		}
	})

	t.Run("AtLimit", func(t *testing.T) {
		records := night(5, "OP001")
		ix := velocity.New(records, cfg.NightHours)
		if got := NightHighTraffic(cfg, ix, &records[0]); got != 0 {
			t.Errorf("expected 0 at exactly five, got %v", got)
		}
	})

	t.Run("OtherOperatorsDoNotCount", func(t *testing.T) {
		records := append(night(3, "OP001"), night(3, "OP002")...)
		ix := velocity.New(records, cfg.NightHours)
		if got := NightHighTraffic(cfg, ix, &records[0]); got != 0 {
			t.Errorf("expected 0, got %v", got)
		}
	})

	t.Run("DaytimeRecord", func(t *testing.T) {
		records := append(night(6, "OP001"), rec("day", "OP001", domain.BusinessActivation, tuesday.Add(12*time.Hour)))
		ix := velocity.New(records, cfg.NightHours)
		if got := NightHighTraffic(cfg, ix, &records[len(records)-1]); got != 0 {
			t.Errorf("expected 0 for daytime record, got %v", got)
		}
	})
}

func TestRoamingSurge(t *testing.T) {
	cfg := testConfig()
	var records []domain.BillingRecord
	for d := 0; d < 4; d++ {
		records = append(records, rec(fmt.Sprintf("R%d", d), "OP003", domain.BusinessRoaming, tuesday.AddDate(0, 0, d).Add(10*time.Hour)))
	}
	records = append(records,
		rec("R-late", "OP003", domain.BusinessRoaming, tuesday.AddDate(0, 0, 13).Add(10*time.Hour)),
		rec("A", "OP003", domain.BusinessActivation, tuesday.AddDate(0, 0, 3).Add(11*time.Hour)),
	)
	ix := velocity.New(records, cfg.NightHours)

	want := []float64{0, 0, 0, 0.25, 0, 0}
	for i := range records {
		if got := RoamingSurge(cfg, ix, &records[i]); got != want[i] {
			t.Errorf("%s: expected %v, got %v", records[i].BillID, want[i], got)
		}
	}
}

func TestRapidSuccession(t *testing.T) {
	cfg := testConfig()
	first := tuesday.Add(14 * time.Hour)
	records := []domain.BillingRecord{
		rec("S1", "OP002", domain.BusinessRecharge, first),
		rec("S2", "OP002", domain.BusinessRecharge, first.Add(7*time.Second)),
		rec("S3", "OP002", domain.BusinessRecharge, first.Add(2*time.Minute)),
		rec("S4", "OP001", domain.BusinessRecharge, first.Add(8*time.Second)),
	}
	ix := velocity.New(records, cfg.NightHours)

	want := map[string]float64{"S1": 0, "S2": 0.15, "S3": 0, "S4": 0}
	for i := range records {
		if got := RapidSuccession(cfg, ix, &records[i]); got != want[records[i].BillID] {
			t.Errorf("%s: expected %v, got %v", records[i].BillID, want[records[i].BillID], got)
		}
	}
}

func TestBoostsRespectToggles(t *testing.T) {
	cfg := testConfig()
	first := tuesday.Add(14 * time.Hour)
	records := []domain.BillingRecord{
		rec("S1", "OP002", domain.BusinessRecharge, first),
		rec("S2", "OP002", domain.BusinessRecharge, first.Add(7*time.Second)),
	}
	ix := velocity.New(records, cfg.NightHours)

	if got := Boosts(cfg, ix, &records[1]).Total(); got != 0.15 {
		t.Errorf("expected 0.15 with the rule on, got %v", got)
	}

	cfg.SpecialPatterns.RapidSuccession.Enabled = false
	if got := Boosts(cfg, ix, &records[1]).Total(); got != 0 {
		t.Errorf("expected 0 with the rule off, got %v", got)
	}
}
