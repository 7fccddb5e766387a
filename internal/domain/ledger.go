package domain

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrAlreadySettled   = errors.New("debt already settled")
	ErrAlreadyWithdrawn = errors.New("deposit already withdrawn")
	ErrExceedsBalance   = errors.New("amount exceeds remaining balance")
	ErrOverReturn       = errors.New("return exceeds sold quantity")
)

// ApplyDebtPayment applies an AFN payment against a credit entry and
// returns the updated entry plus the cash amount actually collected.
// Overshoot within DebtToleranceAFN snaps to the exact remainder; a
// post-payment remainder below SettleThresholdAFN is written off to
// zero so the entry settles cleanly. Callers persist the result inside
// their own atomicity boundary.
func ApplyDebtPayment(entry CreditEntry, amountAFN decimal.Decimal, now time.Time) (CreditEntry, decimal.Decimal, error) {
	if entry.RemainingAFN.LessThanOrEqual(decimal.Zero) {
		return entry, decimal.Zero, ErrAlreadySettled
	}
	if amountAFN.LessThanOrEqual(decimal.Zero) {
		return entry, decimal.Zero, ErrInvalidAmount
	}
	if amountAFN.GreaterThan(entry.RemainingAFN.Add(DebtToleranceAFN)) {
		return entry, decimal.Zero, ErrExceedsBalance
	}
	applied := amountAFN
	if applied.GreaterThan(entry.RemainingAFN) {
		applied = entry.RemainingAFN
	}
	entry.PaidAFN = entry.PaidAFN.Add(applied)
	entry.RemainingAFN = entry.RemainingAFN.Sub(applied)
	if entry.RemainingAFN.LessThan(SettleThresholdAFN) {
		entry.RemainingAFN = decimal.Zero
	}
	entry.Status = DeriveCreditStatus(entry.RemainingAFN, entry.DueDate, now)
	return entry, applied, nil
}

// AllocateCustomerPayment spreads a lump AFN payment over a customer's
// open credit entries, oldest invoice first (ties broken by insertion
// order). The whole amount must fit within the customer's total
// outstanding balance plus the per-payment tolerance. Returns the
// updated entries alongside the per-entry allocations.
func AllocateCustomerPayment(entries []CreditEntry, amountAFN decimal.Decimal, now time.Time) ([]CreditEntry, []PaymentAllocation, error) {
	if amountAFN.LessThanOrEqual(decimal.Zero) {
		return nil, nil, ErrInvalidAmount
	}
	open := make([]CreditEntry, 0, len(entries))
	total := decimal.Zero
	for _, e := range entries {
		if e.RemainingAFN.GreaterThan(decimal.Zero) {
			open = append(open, e)
			total = total.Add(e.RemainingAFN)
		}
	}
	if amountAFN.GreaterThan(total.Add(DebtToleranceAFN)) {
		return nil, nil, ErrExceedsBalance
	}
	sort.SliceStable(open, func(i, j int) bool {
		if !open[i].InvoiceDate.Equal(open[j].InvoiceDate) {
			return open[i].InvoiceDate.Before(open[j].InvoiceDate)
		}
		return open[i].Seq < open[j].Seq
	})
	left := amountAFN
	if left.GreaterThan(total) {
		left = total
	}
	var updated []CreditEntry
	var allocations []PaymentAllocation
	for _, e := range open {
		if left.LessThanOrEqual(decimal.Zero) {
			break
		}
		chunk := left
		if chunk.GreaterThan(e.RemainingAFN) {
			chunk = e.RemainingAFN
		}
		next, applied, err := ApplyDebtPayment(e, chunk, now)
		if err != nil {
			return nil, nil, err
		}
		left = left.Sub(applied)
		updated = append(updated, next)
		allocations = append(allocations, PaymentAllocation{
			CreditEntryID: next.ID,
			InvoiceNumber: next.InvoiceNumber,
			AppliedAFN:    applied,
			Status:        next.Status,
		})
	}
	return updated, allocations, nil
}

// ReversalCashEffect is the ledger delta that undoes a credit entry's
// net recorded cash movement. Lending moved cash out at creation and
// back in with each repayment, so deleting it restores original minus
// paid. A sale credit never moved cash at creation, so deleting it only
// removes the repayments received.
func ReversalCashEffect(entry CreditEntry) decimal.Decimal {
	if entry.Kind == CreditKindLending {
		return entry.OriginalAFN.Sub(entry.PaidAFN)
	}
	return entry.PaidAFN.Neg()
}

// ApplyDepositWithdrawal deducts an AFN amount from a deposit. The
// amount must not exceed the exact remainder; withdrawing the full
// remainder is allowed and closes the deposit.
func ApplyDepositWithdrawal(dep CustomerDeposit, amountAFN decimal.Decimal) (CustomerDeposit, error) {
	if dep.RemainingAFN().LessThanOrEqual(decimal.Zero) {
		return dep, ErrAlreadyWithdrawn
	}
	if amountAFN.LessThanOrEqual(decimal.Zero) {
		return dep, ErrInvalidAmount
	}
	if amountAFN.GreaterThan(dep.RemainingAFN()) {
		return dep, ErrExceedsBalance
	}
	dep.WithdrawnAFN = dep.WithdrawnAFN.Add(amountAFN)
	dep.Status = DeriveDepositStatus(dep.OriginalAFN, dep.WithdrawnAFN)
	return dep, nil
}
