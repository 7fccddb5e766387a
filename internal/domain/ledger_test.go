package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func afn(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func openEntry(remaining string) CreditEntry {
	return CreditEntry{
		ID:           "crd-test",
		Kind:         CreditKindSale,
		OriginalAFN:  afn(remaining),
		RemainingAFN: afn(remaining),
		DueDate:      time.Now().UTC().AddDate(0, 0, DefaultCreditTermDays),
	}
}

func TestApplyDebtPaymentExactSettles(t *testing.T) {
	entry := openEntry("2800")
	updated, applied, err := ApplyDebtPayment(entry, afn("2800"), time.Now().UTC())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !applied.Equal(afn("2800")) {
		t.Fatalf("expected 2800 applied, got %s", applied)
	}
	if updated.Status != CreditStatusSettled || !updated.RemainingAFN.IsZero() {
		t.Fatalf("expected settled entry, got %s remaining %s", updated.Status, updated.RemainingAFN)
	}
}

func TestApplyDebtPaymentToleranceSnap(t *testing.T) {
	entry := openEntry("2800")
	updated, applied, err := ApplyDebtPayment(entry, afn("2810"), time.Now().UTC())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !applied.Equal(afn("2800")) {
		t.Fatalf("expected overshoot snapped to 2800, got %s", applied)
	}
	if updated.Status != CreditStatusSettled {
		t.Fatalf("expected settled, got %s", updated.Status)
	}
}

func TestApplyDebtPaymentBeyondToleranceFails(t *testing.T) {
	entry := openEntry("2800")
	_, _, err := ApplyDebtPayment(entry, afn("2810.01"), time.Now().UTC())
	if !errors.Is(err, ErrExceedsBalance) {
		t.Fatalf("expected ErrExceedsBalance, got %v", err)
	}
}

func TestApplyDebtPaymentWriteOff(t *testing.T) {
	entry := openEntry("2800")
	updated, applied, err := ApplyDebtPayment(entry, afn("2799.50"), time.Now().UTC())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !applied.Equal(afn("2799.50")) {
		t.Fatalf("expected full amount applied, got %s", applied)
	}
	if !updated.RemainingAFN.IsZero() || updated.Status != CreditStatusSettled {
		t.Fatalf("expected sub-afghani remainder written off, got %s remaining %s", updated.Status, updated.RemainingAFN)
	}
	// PaidAFN records the cash actually received, not the written-off value.
	if !updated.PaidAFN.Equal(afn("2799.50")) {
		t.Fatalf("expected paid 2799.50, got %s", updated.PaidAFN)
	}
}

func TestApplyDebtPaymentGuards(t *testing.T) {
	settled := openEntry("2800")
	settled.RemainingAFN = decimal.Zero
	if _, _, err := ApplyDebtPayment(settled, afn("10"), time.Now().UTC()); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	if _, _, err := ApplyDebtPayment(openEntry("2800"), decimal.Zero, time.Now().UTC()); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestAllocateCustomerPaymentOldestFirst(t *testing.T) {
	older := openEntry("1000")
	older.ID = "crd-a"
	older.InvoiceDate = day("2026-01-05")
	newer := openEntry("500")
	newer.ID = "crd-b"
	newer.InvoiceDate = day("2026-02-01")

	// Passed newest first to prove ordering comes from the invoice date.
	updated, allocations, err := AllocateCustomerPayment([]CreditEntry{newer, older}, afn("1200"), time.Now().UTC())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocations))
	}
	if allocations[0].CreditEntryID != "crd-a" || !allocations[0].AppliedAFN.Equal(afn("1000")) {
		t.Fatalf("expected 1000 on the older entry first, got %+v", allocations[0])
	}
	if allocations[1].CreditEntryID != "crd-b" || !allocations[1].AppliedAFN.Equal(afn("200")) {
		t.Fatalf("expected 200 on the newer entry, got %+v", allocations[1])
	}
	if !updated[1].RemainingAFN.Equal(afn("300")) {
		t.Fatalf("expected 300 left on the newer entry, got %s", updated[1].RemainingAFN)
	}
}

func TestAllocateCustomerPaymentSeqBreaksDateTies(t *testing.T) {
	sameDay := day("2026-01-05")
	first := openEntry("400")
	first.ID = "crd-1"
	first.Seq = 1
	first.InvoiceDate = sameDay
	second := openEntry("400")
	second.ID = "crd-2"
	second.Seq = 2
	second.InvoiceDate = sameDay

	_, allocations, err := AllocateCustomerPayment([]CreditEntry{second, first}, afn("500"), time.Now().UTC())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if allocations[0].CreditEntryID != "crd-1" {
		t.Fatalf("expected the lower seq to receive funds first, got %s", allocations[0].CreditEntryID)
	}
}

func TestAllocateCustomerPaymentOverTotalRejected(t *testing.T) {
	entry := openEntry("1000")
	_, _, err := AllocateCustomerPayment([]CreditEntry{entry}, afn("1011"), time.Now().UTC())
	if !errors.Is(err, ErrExceedsBalance) {
		t.Fatalf("expected ErrExceedsBalance, got %v", err)
	}
}

func TestAllocateCustomerPaymentSkipsSettledEntries(t *testing.T) {
	settled := openEntry("1000")
	settled.ID = "crd-settled"
	settled.RemainingAFN = decimal.Zero
	open := openEntry("600")
	open.ID = "crd-open"

	_, allocations, err := AllocateCustomerPayment([]CreditEntry{settled, open}, afn("600"), time.Now().UTC())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(allocations) != 1 || allocations[0].CreditEntryID != "crd-open" {
		t.Fatalf("expected only the open entry to be touched, got %+v", allocations)
	}
}

func TestReversalCashEffect(t *testing.T) {
	lending := CreditEntry{Kind: CreditKindLending, OriginalAFN: afn("5000"), PaidAFN: afn("2000")}
	if got := ReversalCashEffect(lending); !got.Equal(afn("3000")) {
		t.Fatalf("expected +3000 restoring unpaid principal, got %s", got)
	}

	sale := CreditEntry{Kind: CreditKindSale, OriginalAFN: afn("2800"), PaidAFN: afn("1000")}
	if got := ReversalCashEffect(sale); !got.Equal(afn("-1000")) {
		t.Fatalf("expected -1000 removing collected repayments, got %s", got)
	}
}

func TestApplyDepositWithdrawal(t *testing.T) {
	dep := CustomerDeposit{OriginalAFN: afn("3000"), Status: DepositStatusActive}

	partial, err := ApplyDepositWithdrawal(dep, afn("1200"))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if partial.Status != DepositStatusPartial || !partial.RemainingAFN().Equal(afn("1800")) {
		t.Fatalf("expected PARTIAL with 1800 left, got %s %s", partial.Status, partial.RemainingAFN())
	}

	if _, err := ApplyDepositWithdrawal(partial, afn("1800.01")); !errors.Is(err, ErrExceedsBalance) {
		t.Fatalf("expected ErrExceedsBalance, got %v", err)
	}

	closed, err := ApplyDepositWithdrawal(partial, afn("1800"))
	if err != nil {
		t.Fatalf("final withdraw: %v", err)
	}
	if closed.Status != DepositStatusWithdrawn {
		t.Fatalf("expected WITHDRAWN, got %s", closed.Status)
	}

	if _, err := ApplyDepositWithdrawal(closed, afn("1")); !errors.Is(err, ErrAlreadyWithdrawn) {
		t.Fatalf("expected ErrAlreadyWithdrawn, got %v", err)
	}
}
