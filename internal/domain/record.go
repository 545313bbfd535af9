package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BusinessType classifies the operation carried by a billing record.
type BusinessType string

const (
	BusinessActivation   BusinessType = "activation"
	BusinessDeactivation BusinessType = "deactivation"
	BusinessPlanChange   BusinessType = "plan_change"
	BusinessRecharge     BusinessType = "recharge"
	BusinessDataPackage  BusinessType = "data_package"
	BusinessRoaming      BusinessType = "roaming"
)

// BusinessTypes lists every known business type in a stable order.
var BusinessTypes = []BusinessType{
	BusinessActivation,
	BusinessDeactivation,
	BusinessPlanChange,
	BusinessRecharge,
	BusinessDataPackage,
	BusinessRoaming,
}

// Valid reports whether t is one of the known business types.
func (t BusinessType) Valid() bool {
	for _, known := range BusinessTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ErrInvalidRecord is wrapped by every record validation failure.
var ErrInvalidRecord = errors.New("invalid billing record")

// BillingRecord is a single billed operation performed by an operator at a branch.
// Amounts are decimals; OperationTime carries the full timestamp.
type BillingRecord struct {
	BillID         string          `json:"billId"`
	BranchID       string          `json:"branchId"`
	BillDate       time.Time       `json:"billDate"`
	OperatorID     string          `json:"operatorId"`
	BusinessType   BusinessType    `json:"businessType"`
	ChargedAmount  decimal.Decimal `json:"chargedAmount"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	NetAmount      decimal.Decimal `json:"netAmount"`
	OperationTime  time.Time       `json:"operationTime"`
}

// Amount returns the charged amount as a float for statistics.
func (r *BillingRecord) Amount() float64 {
	return r.ChargedAmount.InexactFloat64()
}

// Hour returns the hour of day of the operation.
func (r *BillingRecord) Hour() int {
	return r.OperationTime.Hour()
}

// Day returns the calendar date of the operation.
func (r *BillingRecord) Day() time.Time {
	return DateOf(r.OperationTime)
}

// BillDay returns the bill date, or the operation date when none is set.
func (r *BillingRecord) BillDay() time.Time {
	if r.BillDate.IsZero() {
		return r.Day()
	}
	return DateOf(r.BillDate)
}

// Validate checks the record shape. It does not check bill id uniqueness,
// which is a property of a set.
func (r *BillingRecord) Validate() error {
	switch {
	case r.BillID == "":
		return fmt.Errorf("%w: empty bill id", ErrInvalidRecord)
	case r.OperatorID == "":
		return fmt.Errorf("%w: empty operator id", ErrInvalidRecord)
	case !r.BusinessType.Valid():
		return fmt.Errorf("%w: unknown business type %q", ErrInvalidRecord, r.BusinessType)
	case r.ChargedAmount.IsNegative():
		return fmt.Errorf("%w: negative charged amount %s", ErrInvalidRecord, r.ChargedAmount)
	case r.OperationTime.IsZero():
		return fmt.Errorf("%w: missing operation time", ErrInvalidRecord)
	case !r.BillDate.IsZero() && DayNumber(r.OperationTime) < DayNumber(r.BillDate):
		return fmt.Errorf("%w: operation date before bill date", ErrInvalidRecord)
	}
	return nil
}

// SkippedRecord reports a record excluded from a pass.
type SkippedRecord struct {
	Index  int    `json:"index"`
	BillID string `json:"billId"`
	Reason string `json:"reason"`
}

// Partition splits records into valid ones and skipped ones. A bill id seen
// earlier in the slice makes later records with the same id skipped.
func Partition(records []BillingRecord) ([]BillingRecord, []SkippedRecord) {
	valid := make([]BillingRecord, 0, len(records))
	var skipped []SkippedRecord
	seen := make(map[string]struct{}, len(records))

	for i := range records {
		rec := &records[i]
		if err := rec.Validate(); err != nil {
			skipped = append(skipped, SkippedRecord{Index: i, BillID: rec.BillID, Reason: err.Error()})
			continue
		}
		if _, dup := seen[rec.BillID]; dup {
			skipped = append(skipped, SkippedRecord{Index: i, BillID: rec.BillID, Reason: "duplicate bill id"})
			continue
		}
		seen[rec.BillID] = struct{}{}
		valid = append(valid, *rec)
	}
	return valid, skipped
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DayNumber returns the number of calendar days between the Unix epoch and
// the date of t in its own location. Differences between day numbers are
// exact day counts regardless of daylight saving shifts.
func DayNumber(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
