package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func day(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDeriveCreditStatus(t *testing.T) {
	now := day("2026-03-10")
	remaining := decimal.NewFromInt(500)

	cases := []struct {
		name      string
		remaining decimal.Decimal
		dueDate   time.Time
		want      string
	}{
		{"settled wins over overdue", decimal.Zero, day("2020-01-01"), CreditStatusSettled},
		{"negative remainder settles", decimal.NewFromInt(-3), day("2026-04-01"), CreditStatusSettled},
		{"day after due is overdue", remaining, day("2026-03-09"), CreditStatusOverdue},
		{"due today is due soon", remaining, day("2026-03-10"), CreditStatusDueSoon},
		{"due tomorrow is due soon", remaining, day("2026-03-11"), CreditStatusDueSoon},
		{"two days out is active", remaining, day("2026-03-12"), CreditStatusActive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveCreditStatus(tc.remaining, tc.dueDate, now)
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestDeriveCreditStatusIgnoresTimeOfDay(t *testing.T) {
	// 23:59 on the due date is still DUE_SOON, not OVERDUE.
	now := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if got := DeriveCreditStatus(decimal.NewFromInt(100), due, now); got != CreditStatusDueSoon {
		t.Fatalf("expected DUE_SOON at end of due day, got %s", got)
	}
}

func TestDeriveInvoiceStatus(t *testing.T) {
	if got := DeriveInvoiceStatus(decimal.Zero, decimal.NewFromInt(99)); got != InvoiceStatusPaid {
		t.Fatalf("expected PAID, got %s", got)
	}
	// Dust write-off: paid below total but no remainder still means PAID.
	if got := DeriveInvoiceStatus(decimal.Zero, decimal.RequireFromString("99.95")); got != InvoiceStatusPaid {
		t.Fatalf("expected PAID after write-off, got %s", got)
	}
	if got := DeriveInvoiceStatus(decimal.NewFromInt(40), decimal.NewFromInt(60)); got != InvoiceStatusPartial {
		t.Fatalf("expected PARTIAL, got %s", got)
	}
	if got := DeriveInvoiceStatus(decimal.NewFromInt(100), decimal.Zero); got != InvoiceStatusUnpaid {
		t.Fatalf("expected UNPAID, got %s", got)
	}
}

func TestDeriveDepositStatus(t *testing.T) {
	original := decimal.NewFromInt(3000)
	if got := DeriveDepositStatus(original, decimal.Zero); got != DepositStatusActive {
		t.Fatalf("expected ACTIVE, got %s", got)
	}
	if got := DeriveDepositStatus(original, decimal.NewFromInt(1200)); got != DepositStatusPartial {
		t.Fatalf("expected PARTIAL, got %s", got)
	}
	if got := DeriveDepositStatus(original, original); got != DepositStatusWithdrawn {
		t.Fatalf("expected WITHDRAWN, got %s", got)
	}
}

func TestSnapDustUSD(t *testing.T) {
	if got := SnapDustUSD(decimal.RequireFromString("0.02")); !got.IsZero() {
		t.Fatalf("expected 0.02 written off, got %s", got)
	}
	if got := SnapDustUSD(decimal.RequireFromString("0.05")); !got.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("expected 0.05 kept as debt, got %s", got)
	}
	if got := SnapDustUSD(decimal.Zero); !got.IsZero() {
		t.Fatalf("expected zero unchanged, got %s", got)
	}
	if got := SnapDustUSD(decimal.RequireFromString("-0.01")); !got.Equal(decimal.RequireFromString("-0.01")) {
		t.Fatalf("expected negative remainder untouched, got %s", got)
	}
}
