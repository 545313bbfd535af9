package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/billguard/internal/domain"
	"github.com/opensource-finance/billguard/internal/velocity"
	"github.com/shopspring/decimal"
)

// 2024-03-05 is a Tuesday, 2024-03-09 a Saturday.
var (
	tuesday  = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	saturday = time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
)

func testConfig() *domain.DetectionConfig {
	global := domain.AmountThresholds{Low: 0.2, Medium: 0.5, High: 0.8}
	return &domain.DetectionConfig{
		MinOperationsForBaseline: 5,
		Weights:                  domain.RiskWeights{Amount: 0.4, Frequency: 0.25, Time: 0.2, Operator: 0.15},
		AmountThresholds:         global,
		BusinessHours:            domain.HourWindow{Start: 8, End: 20},
		NightHours:               domain.HourWindow{Start: 23, End: 5},
		WeekendMultiplier:        1.5,
		BusinessTypes: map[domain.BusinessType]domain.BusinessTypeConfig{
			domain.BusinessActivation: {NormalFrequencyPerDay: 2, AmountThresholds: global},
			domain.BusinessRoaming: {
				NormalFrequencyPerDay: 2,
				AmountThresholds:      global,
				AmountRange:           &domain.AmountRange{Min: 0, Max: 500},
			},
		},
		HighRiskThreshold: 0.7,
	}
}

func testBaselines() *domain.Baselines {
	b := domain.EmptyBaselines()
	b.Operators["OP001"] = &domain.OperatorBaseline{
		AvgAmount:           150,
		StdAmount:           10,
		AvgOperationsPerDay: 2.5,
		BusinessTypeCounts:  map[domain.BusinessType]int{domain.BusinessActivation: 10},
		HourlyCounts:        map[int]int{9: 5, 10: 5},
		Operations:          10,
	}
	b.BusinessTypes[domain.BusinessActivation] = &domain.BusinessTypeBaseline{AvgAmount: 150, StdAmount: 10, Operations: 10}
	b.BusinessTypes[domain.BusinessRoaming] = &domain.BusinessTypeBaseline{AvgAmount: 200, StdAmount: 50, Operations: 4}
	return b
}

func rec(id, op string, bt domain.BusinessType, amount float64, at time.Time) *domain.BillingRecord {
	return &domain.BillingRecord{
		BillID:        id,
		OperatorID:    op,
		BusinessType:  bt,
		ChargedAmount: decimal.NewFromFloat(amount),
		OperationTime: at,
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAmount(t *testing.T) {
	cfg, b := testConfig(), testBaselines()
	at := tuesday.Add(10 * time.Hour)

	cases := []struct {
		name   string
		bt     domain.BusinessType
		amount float64
		want   float64
	}{
		{"farAboveRange", domain.BusinessRoaming, 2000, 1.0},
		{"mediumDeviation", domain.BusinessRoaming, 800, 0.7},
		{"lowDeviation", domain.BusinessRoaming, 600, 0.4},
		{"minorDeviation", domain.BusinessRoaming, 550, 0.1},
		{"insideRangeUsesZScore", domain.BusinessRoaming, 275, 0.5},
		{"zScoreAtMean", domain.BusinessActivation, 150, 0},
		{"zScoreClamped", domain.BusinessActivation, 190, 1.0},
		{"zScoreScaled", domain.BusinessActivation, 165, 0.5},
		{"noRangeNoBaseline", domain.BusinessRecharge, 99999, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Amount(cfg, b, rec("x", "OP001", tc.bt, tc.amount, at))
			if !approx(got, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}

	t.Run("BelowRangeUsesMinBound", func(t *testing.T) {
		c := testConfig()
		c.BusinessTypes[domain.BusinessRecharge] = domain.BusinessTypeConfig{
			NormalFrequencyPerDay: 10,
			AmountThresholds:      c.AmountThresholds,
			AmountRange:           &domain.AmountRange{Min: 100, Max: 1000},
		}
		// |10 - 100| / 1000 = 0.09, below every threshold
		if got := Amount(c, b, rec("x", "OP001", domain.BusinessRecharge, 10, at)); got != 0.1 {
			t.Errorf("expected 0.1, got %v", got)
		}
	})

	t.Run("MonotonicAboveRange", func(t *testing.T) {
		prev := 0.0
		for amount := 500.0; amount <= 2000; amount += 25 {
			got := Amount(cfg, b, rec("x", "OP001", domain.BusinessRoaming, amount, at))
			if amount > 500 && got < prev {
				t.Fatalf("score decreased at %v: %v < %v", amount, got, prev)
			}
			prev = got
		}
	})
}

func TestFrequency(t *testing.T) {
	cfg, b := testConfig(), testBaselines()
	at := tuesday.Add(10 * time.Hour)

	batch := func(op string, bt domain.BusinessType, n int) []domain.BillingRecord {
		out := make([]domain.BillingRecord, n)
		for i := range out {
			out[i] = *rec(string(rune('a'+i)), op, bt, 100, at.Add(time.Duration(i)*time.Minute))
		}
		return out
	}

	t.Run("OperatorRatio", func(t *testing.T) {
		records := batch("OP001", domain.BusinessActivation, 5)
		ix := velocity.New(records, cfg.NightHours)
		// ratio 5 / 2.5 = 2 -> (2 - 1.5) / 2. The normal-frequency signal
		// would give 0.5 but the ratio fired first.
		if got := Frequency(cfg, b, ix, &records[0]); !approx(got, 0.25) {
			t.Errorf("expected 0.25, got %v", got)
		}
	})

	t.Run("NormalFrequencyWithoutBaseline", func(t *testing.T) {
		records := batch("OP777", domain.BusinessActivation, 5)
		ix := velocity.New(records, cfg.NightHours)
		// (5 - 4) / 2
		if got := Frequency(cfg, b, ix, &records[0]); !approx(got, 0.5) {
			t.Errorf("expected 0.5, got %v", got)
		}
	})

	t.Run("FallsThroughWhenRatioIsQuiet", func(t *testing.T) {
		c := testConfig()
		bt := c.BusinessTypes[domain.BusinessActivation]
		bt.NormalFrequencyPerDay = 1
		c.BusinessTypes[domain.BusinessActivation] = bt

		records := batch("OP001", domain.BusinessActivation, 3)
		ix := velocity.New(records, c.NightHours)
		// ratio 1.2 does not fire; 3 > 2 * 1 -> min(1, 1)
		if got := Frequency(c, b, ix, &records[0]); got != 1 {
			t.Errorf("expected 1, got %v", got)
		}
	})

	t.Run("Quiet", func(t *testing.T) {
		records := batch("OP001", domain.BusinessActivation, 2)
		ix := velocity.New(records, cfg.NightHours)
		if got := Frequency(cfg, b, ix, &records[0]); got != 0 {
			t.Errorf("expected 0, got %v", got)
		}
	})

	t.Run("UnconfiguredTypeWithoutBaseline", func(t *testing.T) {
		records := batch("OP777", domain.BusinessRecharge, 50)
		ix := velocity.New(records, cfg.NightHours)
		if got := Frequency(cfg, b, ix, &records[0]); got != 0 {
			t.Errorf("expected 0, got %v", got)
		}
	})
}

func TestTime(t *testing.T) {
	cfg := testConfig()

	cases := []struct {
		name string
		at   time.Time
		want float64
	}{
		{"inside", tuesday.Add(12 * time.Hour), 0},
		{"startBoundary", tuesday.Add(8 * time.Hour), 0},
		{"endBoundary", tuesday.Add(20*time.Hour + 59*time.Minute), 0},
		{"lateEvening", tuesday.Add(23 * time.Hour), 0.25},
		{"earlyMorning", tuesday.Add(2 * time.Hour), 0.5},
		{"weekendLateEvening", saturday.Add(23 * time.Hour), 0.375},
		{"weekendInside", saturday.Add(12 * time.Hour), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Time(cfg, rec("x", "OP001", domain.BusinessActivation, 1, tc.at))
			if !approx(got, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}

	t.Run("WeekendMultiplierCanExceedOne", func(t *testing.T) {
		c := testConfig()
		c.WeekendMultiplier = 2
		got := Time(c, rec("x", "OP001", domain.BusinessActivation, 1, saturday))
		if !approx(got, 8.0/24*2*2) || got <= 1 {
			t.Errorf("expected %v, got %v", 8.0/24*2*2, got)
		}
	})
}

func TestOperator(t *testing.T) {
	b := testBaselines()

	cases := []struct {
		name string
		op   string
		bt   domain.BusinessType
		at   time.Time
		want float64
	}{
		{"usual", "OP001", domain.BusinessActivation, tuesday.Add(9 * time.Hour), 0},
		{"rareBusinessType", "OP001", domain.BusinessRoaming, tuesday.Add(9 * time.Hour), 0.3},
		{"rareHour", "OP001", domain.BusinessActivation, tuesday.Add(3 * time.Hour), 0.2},
		{"typeCheckedFirst", "OP001", domain.BusinessRoaming, tuesday.Add(3 * time.Hour), 0.3},
		{"noBaseline", "OP404", domain.BusinessRoaming, tuesday.Add(3 * time.Hour), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Operator(b, rec("x", tc.op, tc.bt, 1, tc.at)); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestDimensionsBounds(t *testing.T) {
	cfg, b := testConfig(), testBaselines()
	var records []domain.BillingRecord
	for h := 0; h < 24; h++ {
		for _, bt := range domain.BusinessTypes {
			records = append(records, *rec("x", "OP001", bt, float64(h*137), tuesday.Add(time.Duration(h)*time.Hour)))
		}
	}
	in := Inputs{Config: cfg, Baselines: b, Index: velocity.New(records, cfg.NightHours)}

	for i := range records {
		d := in.Dimensions(&records[i])
		for name, v := range map[string]float64{"amount": d.Amount, "frequency": d.Frequency, "time": d.Time, "operator": d.Operator} {
			if v < 0 || v > 1 {
				t.Errorf("%s sub-score %v out of range for %+v", name, v, records[i])
			}
		}
	}
}
