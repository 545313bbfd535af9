package baseline

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/opensource-finance/billguard/internal/domain"
	"github.com/shopspring/decimal"
)

var day0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC) // Monday

func record(id, op string, bt domain.BusinessType, amount float64, at time.Time) domain.BillingRecord {
	return domain.BillingRecord{
		BillID:        id,
		BranchID:      "BR001",
		BillDate:      domain.DateOf(at),
		OperatorID:    op,
		BusinessType:  bt,
		ChargedAmount: decimal.NewFromFloat(amount),
		NetAmount:     decimal.NewFromFloat(amount),
		OperationTime: at,
	}
}

func history() []domain.BillingRecord {
	var out []domain.BillingRecord
	offsets := []float64{-20, -15, -10, -5, 0, 0, 5, 10, 15, 20}
	for i, off := range offsets {
		at := day0.AddDate(0, 0, i%5).Add(time.Duration(9+i%8) * time.Hour)
		out = append(out, record("H-OP1-"+string(rune('a'+i)), "OP001", domain.BusinessActivation, 150+off, at))
	}
	// OP002 has too few operations for a baseline
	out = append(out,
		record("H-OP2-a", "OP002", domain.BusinessRecharge, 50, day0.Add(10*time.Hour)),
		record("H-OP2-b", "OP002", domain.BusinessRecharge, 70, day0.Add(11*time.Hour)),
	)
	return out
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestBuild(t *testing.T) {
	b := Build(history(), 5)

	t.Run("OperatorBaseline", func(t *testing.T) {
		op := b.Operator("OP001")
		if op == nil {
			t.Fatal("expected OP001 baseline")
		}
		if op.Operations != 10 {
			t.Errorf("expected 10 operations, got %d", op.Operations)
		}
		if !approx(op.AvgAmount, 150) {
			t.Errorf("expected mean 150, got %v", op.AvgAmount)
		}
		// sum of squares 2*(400+225+100+25) = 1500, over n-1 = 9
		if !approx(op.StdAmount, math.Sqrt(1500.0/9)) {
			t.Errorf("unexpected std %v", op.StdAmount)
		}
		// bill dates span day0..day0+4
		if !approx(op.AvgOperationsPerDay, 10.0/4) {
			t.Errorf("expected 2.5 operations per day, got %v", op.AvgOperationsPerDay)
		}
		if op.BusinessTypeCounts[domain.BusinessActivation] != 10 {
			t.Errorf("unexpected type counts: %v", op.BusinessTypeCounts)
		}
		var hours int
		for _, c := range op.HourlyCounts {
			hours += c
		}
		if hours != 10 {
			t.Errorf("hourly counts should cover every record, got %d", hours)
		}
	})

	t.Run("BelowMinimumIsSkipped", func(t *testing.T) {
		if b.Operator("OP002") != nil {
			t.Error("OP002 should have no baseline")
		}
	})

	t.Run("BusinessTypesHaveNoGate", func(t *testing.T) {
		rc := b.BusinessType(domain.BusinessRecharge)
		if rc == nil {
			t.Fatal("expected recharge baseline")
		}
		if rc.Operations != 2 || !approx(rc.AvgAmount, 60) {
			t.Errorf("unexpected recharge baseline: %+v", rc)
		}
		if !approx(rc.StdAmount, math.Sqrt(200)) {
			t.Errorf("expected std sqrt(200), got %v", rc.StdAmount)
		}
		// single day span is floored at one day
		if !approx(rc.AvgOperationsPerDay, 2) {
			t.Errorf("expected 2 operations per day, got %v", rc.AvgOperationsPerDay)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		empty := Build(nil, 1)
		if len(empty.Operators) != 0 || len(empty.BusinessTypes) != 0 {
			t.Errorf("expected empty baselines, got %+v", empty)
		}
	})

	t.Run("SingleRecordHasZeroStd", func(t *testing.T) {
		one := Build([]domain.BillingRecord{record("X", "OP9", domain.BusinessRoaming, 99, day0)}, 1)
		if std := one.Operator("OP9").StdAmount; std != 0 {
			t.Errorf("expected std 0, got %v", std)
		}
	})
}

func TestBuildIsPermutationInvariant(t *testing.T) {
	base := history()
	want := Build(base, 5)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]domain.BillingRecord(nil), base...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := Build(shuffled, 5)
		for id, w := range want.Operators {
			g := got.Operators[id]
			if g == nil || g.AvgAmount != w.AvgAmount || g.StdAmount != w.StdAmount || g.AvgOperationsPerDay != w.AvgOperationsPerDay {
				t.Fatalf("operator %s baseline changed under permutation: %+v vs %+v", id, g, w)
			}
		}
		for bt, w := range want.BusinessTypes {
			g := got.BusinessTypes[bt]
			if g == nil || g.AvgAmount != w.AvgAmount || g.StdAmount != w.StdAmount {
				t.Fatalf("business type %s baseline changed under permutation", bt)
			}
		}
	}
}
