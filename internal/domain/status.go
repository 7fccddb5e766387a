package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settlement tolerances. Sub-cent remainders on USD invoices are written
// off at creation; AFN debt payments may overshoot by a rounding margin
// and snap to the exact remainder; a debt below one afghani is settled.
var (
	DustThresholdUSD   = decimal.RequireFromString("0.05")
	DebtToleranceAFN   = decimal.NewFromInt(10)
	SettleThresholdAFN = decimal.NewFromInt(1)
)

const DefaultCreditTermDays = 30

// DeriveCreditStatus computes a debt's status from its remaining balance
// and due date. Pure: persisted copies are a cache of this result.
// Day arithmetic is calendar-based, so a debt is OVERDUE starting the
// day after its due date and DUE_SOON on the due date and the day before.
func DeriveCreditStatus(remainingAFN decimal.Decimal, dueDate time.Time, now time.Time) string {
	if remainingAFN.LessThanOrEqual(decimal.Zero) {
		return CreditStatusSettled
	}
	daysUntilDue := daysBetween(now, dueDate)
	switch {
	case daysUntilDue < 0:
		return CreditStatusOverdue
	case daysUntilDue <= 1:
		return CreditStatusDueSoon
	default:
		return CreditStatusActive
	}
}

func daysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}

// DeriveDepositStatus computes a deposit's status from its balances.
func DeriveDepositStatus(originalAFN, withdrawnAFN decimal.Decimal) string {
	remaining := originalAFN.Sub(withdrawnAFN)
	switch {
	case remaining.LessThanOrEqual(decimal.Zero):
		return DepositStatusWithdrawn
	case withdrawnAFN.GreaterThan(decimal.Zero):
		return DepositStatusPartial
	default:
		return DepositStatusActive
	}
}

// DeriveInvoiceStatus computes an invoice's payment status from its
// outstanding remainder. Written-off dust leaves paid below total, so
// the remainder, not the paid sum, decides settlement.
func DeriveInvoiceStatus(outstandingUSD, paidUSD decimal.Decimal) string {
	switch {
	case outstandingUSD.LessThanOrEqual(decimal.Zero):
		return InvoiceStatusPaid
	case paidUSD.GreaterThan(decimal.Zero):
		return InvoiceStatusPartial
	default:
		return InvoiceStatusUnpaid
	}
}

// SnapDustUSD writes off a sub-threshold positive remainder to zero.
func SnapDustUSD(outstanding decimal.Decimal) decimal.Decimal {
	if outstanding.GreaterThan(decimal.Zero) && outstanding.LessThan(DustThresholdUSD) {
		return decimal.Zero
	}
	return outstanding
}
