package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"partspos/internal/cache"
	"partspos/internal/domain"
	"partspos/internal/store"
	"partspos/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopSummaryCache{}, LogNotifier{}, decimal.NewFromInt(70))
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "sayed", Role: domain.RoleStaff})
}

func mustCustomer(t *testing.T, svc *Service, name string) domain.Customer {
	t.Helper()
	customer, err := svc.CreateCustomer(adminCtx(), domain.CustomerCreateRequest{Name: name})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return customer
}

func usd(val string) decimal.Decimal {
	return decimal.RequireFromString(val)
}

func usdPtr(val string) *decimal.Decimal {
	d := decimal.RequireFromString(val)
	return &d
}

// creditSale books a 2x$50 sale with $60 paid, leaving a $40 remainder
// that becomes a 2800 AFN credit entry at the default rate of 70.
func creditSale(t *testing.T, svc *Service, customerID string) domain.SaleResponse {
	t.Helper()
	resp, err := svc.CreateSale(adminCtx(), domain.SaleCreateRequest{
		CustomerID: customerID,
		Items: []domain.SaleItemInput{
			{SKU: "PRT-BRK-PAD01", Quantity: 2, UnitPriceUSD: usdPtr("50")},
		},
		PaidUSD: usd("60"),
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	return resp
}

func TestCreditSaleBooksDebtAtLockedRate(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Haji Karim")

	resp := creditSale(t, svc, customer.ID)

	if resp.Invoice.Status != domain.InvoiceStatusPartial {
		t.Fatalf("expected PARTIAL invoice, got %s", resp.Invoice.Status)
	}
	if !strings.HasPrefix(resp.Invoice.Number, "INV-") {
		t.Fatalf("unexpected invoice number %s", resp.Invoice.Number)
	}
	if resp.CreditEntry == nil {
		t.Fatalf("expected a credit entry for the unpaid remainder")
	}
	if !resp.CreditEntry.OriginalAFN.Equal(usd("2800")) {
		t.Fatalf("expected 2800 AFN credit, got %s", resp.CreditEntry.OriginalAFN)
	}
	if !resp.CreditEntry.ExchangeRate.Equal(usd("70")) {
		t.Fatalf("expected rate locked at 70, got %s", resp.CreditEntry.ExchangeRate)
	}

	refreshed, err := svc.GetCustomer(adminCtx(), customer.ID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !refreshed.OutstandingAFN.Equal(usd("2800")) {
		t.Fatalf("expected customer outstanding 2800, got %s", refreshed.OutstandingAFN)
	}

	cash, err := svc.CashBalance(adminCtx())
	if err != nil {
		t.Fatalf("cash balance: %v", err)
	}
	if !cash.BalanceAFN.Equal(usd("4200")) {
		t.Fatalf("expected 4200 AFN in the drawer, got %s", cash.BalanceAFN)
	}
}

func TestCashSaleWritesOffDustRemainder(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Dust Customer")

	resp, err := svc.CreateSale(adminCtx(), domain.SaleCreateRequest{
		CustomerID: customer.ID,
		Items: []domain.SaleItemInput{
			{SKU: "PRT-SPK-NGK01", Quantity: 1, UnitPriceUSD: usdPtr("99.97")},
		},
		PaidUSD: usd("99.95"),
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if resp.Invoice.Status != domain.InvoiceStatusPaid {
		t.Fatalf("expected sub-five-cent remainder to be written off, got status %s", resp.Invoice.Status)
	}
	if resp.CreditEntry != nil {
		t.Fatalf("expected no credit entry for a dust remainder")
	}
}

func TestOverpaymentIsCappedAtTotal(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Generous Customer")

	resp, err := svc.CreateSale(adminCtx(), domain.SaleCreateRequest{
		CustomerID: customer.ID,
		Items: []domain.SaleItemInput{
			{SKU: "PRT-OIL-5W30", Quantity: 1, UnitPriceUSD: usdPtr("24")},
		},
		PaidUSD: usd("100"),
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if !resp.Invoice.PaidUSD.Equal(usd("24")) {
		t.Fatalf("expected paid capped at 24, got %s", resp.Invoice.PaidUSD)
	}

	cash, err := svc.CashBalance(adminCtx())
	if err != nil {
		t.Fatalf("cash balance: %v", err)
	}
	if !cash.BalanceAFN.Equal(usd("1680")) {
		t.Fatalf("expected drawer to hold 24x70=1680 AFN, got %s", cash.BalanceAFN)
	}
}

func TestWalkInCannotBuyOnCredit(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateSale(adminCtx(), domain.SaleCreateRequest{
		Items: []domain.SaleItemInput{
			{SKU: "PRT-BRK-PAD01", Quantity: 1, UnitPriceUSD: usdPtr("50")},
		},
		PaidUSD: usd("10"),
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected walk-in credit sale to be rejected, got %v", err)
	}
}

func TestInsufficientStockLeavesNothingBehind(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Big Order")

	before, err := svc.GetProduct(adminCtx(), "PRT-BAT-6001")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}

	_, err = svc.CreateSale(adminCtx(), domain.SaleCreateRequest{
		CustomerID: customer.ID,
		Items: []domain.SaleItemInput{
			{SKU: "PRT-BAT-6001", Quantity: before.Quantity + 1},
		},
		PaidUSD: usd("100"),
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	after, err := svc.GetProduct(adminCtx(), "PRT-BAT-6001")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Quantity != before.Quantity {
		t.Fatalf("expected stock untouched at %d, got %d", before.Quantity, after.Quantity)
	}

	cash, err := svc.CashBalance(adminCtx())
	if err != nil {
		t.Fatalf("cash balance: %v", err)
	}
	if !cash.BalanceAFN.IsZero() {
		t.Fatalf("expected no cash movement on a failed sale, got %s", cash.BalanceAFN)
	}
}

func TestDebtPaymentSettlesEntry(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Settling Customer")
	sale := creditSale(t, svc, customer.ID)

	resp, err := svc.RecordDebtPayment(staffCtx(), sale.CreditEntry.ID, domain.DebtPaymentRequest{
		AmountAFN: usdPtr("2800"),
	})
	if err != nil {
		t.Fatalf("record debt payment: %v", err)
	}
	if resp.CreditEntry.Status != domain.CreditStatusSettled {
		t.Fatalf("expected SETTLED, got %s", resp.CreditEntry.Status)
	}
	if !resp.CreditEntry.RemainingAFN.IsZero() {
		t.Fatalf("expected zero remaining, got %s", resp.CreditEntry.RemainingAFN)
	}

	refreshed, err := svc.GetCustomer(adminCtx(), customer.ID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !refreshed.OutstandingAFN.IsZero() {
		t.Fatalf("expected customer outstanding zero, got %s", refreshed.OutstandingAFN)
	}

	invoice, err := svc.GetSale(adminCtx(), sale.Invoice.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if invoice.Status != domain.InvoiceStatusPaid {
		t.Fatalf("expected invoice PAID after debt settles, got %s", invoice.Status)
	}

	cash, err := svc.CashBalance(adminCtx())
	if err != nil {
		t.Fatalf("cash balance: %v", err)
	}
	if !cash.BalanceAFN.Equal(usd("7000")) {
		t.Fatalf("expected 4200+2800=7000 AFN, got %s", cash.BalanceAFN)
	}
}

func TestDebtPaymentToleranceSnapsToRemaining(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Rounded Customer")
	sale := creditSale(t, svc, customer.ID)

	// 5 AFN over the remainder is inside the counting tolerance and
	// settles the debt at exactly the remaining amount.
	resp, err := svc.RecordDebtPayment(staffCtx(), sale.CreditEntry.ID, domain.DebtPaymentRequest{
		AmountAFN: usdPtr("2805"),
	})
	if err != nil {
		t.Fatalf("record debt payment: %v", err)
	}
	if resp.CreditEntry.Status != domain.CreditStatusSettled {
		t.Fatalf("expected SETTLED, got %s", resp.CreditEntry.Status)
	}
	if !resp.Payment.AmountAFN.Equal(usd("2800")) {
		t.Fatalf("expected applied amount snapped to 2800, got %s", resp.Payment.AmountAFN)
	}
}

func TestDebtPaymentOverToleranceRejected(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Overpaying Customer")
	sale := creditSale(t, svc, customer.ID)

	_, err := svc.RecordDebtPayment(staffCtx(), sale.CreditEntry.ID, domain.DebtPaymentRequest{
		AmountAFN: usdPtr("2811"),
	})
	if !errors.Is(err, domain.ErrExceedsBalance) {
		t.Fatalf("expected over-tolerance payment rejected, got %v", err)
	}
}

func TestDebtPaymentWritesOffSubAfghaniRemainder(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Near Settled")
	sale := creditSale(t, svc, customer.ID)

	resp, err := svc.RecordDebtPayment(staffCtx(), sale.CreditEntry.ID, domain.DebtPaymentRequest{
		AmountAFN: usdPtr("2799.50"),
	})
	if err != nil {
		t.Fatalf("record debt payment: %v", err)
	}
	if resp.CreditEntry.Status != domain.CreditStatusSettled {
		t.Fatalf("expected sub-afghani remainder written off, got %s", resp.CreditEntry.Status)
	}
	if !resp.CreditEntry.RemainingAFN.IsZero() {
		t.Fatalf("expected zero remaining, got %s", resp.CreditEntry.RemainingAFN)
	}
}

func TestCustomerPaymentAllocatesOldestFirst(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Two Debts")

	first, err := svc.CreateSale(adminCtx(), domain.SaleCreateRequest{
		CustomerID: customer.ID,
		Items:      []domain.SaleItemInput{{SKU: "PRT-FLT-OIL01", Quantity: 1, UnitPriceUSD: usdPtr("20")}},
	})
	if err != nil {
		t.Fatalf("first sale: %v", err)
	}
	second, err := svc.CreateSale(adminCtx(), domain.SaleCreateRequest{
		CustomerID: customer.ID,
		Items:      []domain.SaleItemInput{{SKU: "PRT-FLT-AIR01", Quantity: 1, UnitPriceUSD: usdPtr("10")}},
	})
	if err != nil {
		t.Fatalf("second sale: %v", err)
	}

	// 20x70=1400 on the first, 10x70=700 on the second. 1700 settles the
	// older debt in full and leaves 400 on the newer one.
	resp, err := svc.ApplyCustomerPayment(staffCtx(), customer.ID, domain.CustomerPaymentRequest{
		AmountAFN: usd("1700"),
	})
	if err != nil {
		t.Fatalf("apply customer payment: %v", err)
	}
	if len(resp.Allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(resp.Allocations))
	}
	if resp.Allocations[0].CreditEntryID != first.CreditEntry.ID || !resp.Allocations[0].AppliedAFN.Equal(usd("1400")) {
		t.Fatalf("expected 1400 applied to the oldest entry, got %s on %s", resp.Allocations[0].AppliedAFN, resp.Allocations[0].CreditEntryID)
	}
	if resp.Allocations[0].Status != domain.CreditStatusSettled {
		t.Fatalf("expected oldest entry settled, got %s", resp.Allocations[0].Status)
	}
	if !resp.Allocations[1].AppliedAFN.Equal(usd("300")) {
		t.Fatalf("expected 300 applied to the newer entry, got %s", resp.Allocations[1].AppliedAFN)
	}

	remaining, err := svc.GetDebt(staffCtx(), second.CreditEntry.ID)
	if err != nil {
		t.Fatalf("get debt: %v", err)
	}
	if !remaining.RemainingAFN.Equal(usd("400")) {
		t.Fatalf("expected 400 remaining on the newer entry, got %s", remaining.RemainingAFN)
	}
}

func TestLendingLifecycle(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Borrower")

	entry, err := svc.CreateLending(adminCtx(), domain.LendingCreateRequest{
		CustomerID: customer.ID,
		AmountAFN:  usd("5000"),
	})
	if err != nil {
		t.Fatalf("create lending: %v", err)
	}
	if !strings.HasPrefix(entry.InvoiceNumber, "LEND-") {
		t.Fatalf("unexpected lending number %s", entry.InvoiceNumber)
	}
	if entry.Kind != domain.CreditKindLending {
		t.Fatalf("expected LENDING kind, got %s", entry.Kind)
	}

	cash, err := svc.CashBalance(adminCtx())
	if err != nil {
		t.Fatalf("cash balance: %v", err)
	}
	if !cash.BalanceAFN.Equal(usd("-5000")) {
		t.Fatalf("expected -5000 AFN after lending out, got %s", cash.BalanceAFN)
	}

	if _, err := svc.RecordDebtPayment(staffCtx(), entry.ID, domain.DebtPaymentRequest{
		AmountAFN: usdPtr("2000"),
	}); err != nil {
		t.Fatalf("repay lending: %v", err)
	}

	cash, err = svc.CashBalance(adminCtx())
	if err != nil {
		t.Fatalf("cash balance: %v", err)
	}
	if !cash.BalanceAFN.Equal(usd("-3000")) {
		t.Fatalf("expected -3000 AFN after partial repayment, got %s", cash.BalanceAFN)
	}

	// Deleting the loan reverses the unpaid principal only, so the
	// drawer lands back at zero.
	if _, err := svc.DeleteDebt(adminCtx(), entry.ID, "recorded by mistake"); err != nil {
		t.Fatalf("delete lending: %v", err)
	}
	cash, err = svc.CashBalance(adminCtx())
	if err != nil {
		t.Fatalf("cash balance: %v", err)
	}
	if !cash.BalanceAFN.IsZero() {
		t.Fatalf("expected drawer back at zero after loan reversal, got %s", cash.BalanceAFN)
	}

	refreshed, err := svc.GetCustomer(adminCtx(), customer.ID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !refreshed.OutstandingAFN.IsZero() {
		t.Fatalf("expected customer outstanding zero, got %s", refreshed.OutstandingAFN)
	}
}

func TestLendingRequiresAdmin(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Staff Borrower")

	_, err := svc.CreateLending(staffCtx(), domain.LendingCreateRequest{
		CustomerID: customer.ID,
		AmountAFN:  usd("1000"),
	})
	if err == nil {
		t.Fatalf("expected lending to require admin role")
	}
}

func TestDeleteSaleInvertsEverything(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Voided Customer")

	before, err := svc.GetProduct(adminCtx(), "PRT-BRK-PAD01")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	sale := creditSale(t, svc, customer.ID)

	during, err := svc.GetProduct(adminCtx(), "PRT-BRK-PAD01")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if during.Quantity != before.Quantity-2 {
		t.Fatalf("expected stock down by 2, got %d -> %d", before.Quantity, during.Quantity)
	}

	if _, err := svc.DeleteSale(adminCtx(), sale.Invoice.ID, "wrong customer"); err != nil {
		t.Fatalf("delete sale: %v", err)
	}

	after, err := svc.GetProduct(adminCtx(), "PRT-BRK-PAD01")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Quantity != before.Quantity {
		t.Fatalf("expected stock restored to %d, got %d", before.Quantity, after.Quantity)
	}

	cash, err := svc.CashBalance(adminCtx())
	if err != nil {
		t.Fatalf("cash balance: %v", err)
	}
	if !cash.BalanceAFN.IsZero() {
		t.Fatalf("expected drawer back at zero, got %s", cash.BalanceAFN)
	}

	refreshed, err := svc.GetCustomer(adminCtx(), customer.ID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !refreshed.OutstandingAFN.IsZero() {
		t.Fatalf("expected customer outstanding zero, got %s", refreshed.OutstandingAFN)
	}

	if _, err := svc.GetSale(adminCtx(), sale.Invoice.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted sale lookup to fail, got %v", err)
	}
	if _, err := svc.GetDebt(staffCtx(), sale.CreditEntry.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted credit entry lookup to fail, got %v", err)
	}
}

func TestDeleteSaleRequiresAdmin(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Protected Sale")
	sale := creditSale(t, svc, customer.ID)

	if _, err := svc.DeleteSale(staffCtx(), sale.Invoice.ID, "nope"); err == nil {
		t.Fatalf("expected staff delete to be rejected")
	}
}

func TestDeleteAllSalesResetsLedgerAndDebts(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Reset Customer")
	creditSale(t, svc, customer.ID)
	creditSale(t, svc, customer.ID)

	count, err := svc.DeleteAllSales(adminCtx(), "season close")
	if err != nil {
		t.Fatalf("delete all sales: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 deleted invoices, got %d", count)
	}

	cash, err := svc.CashBalance(adminCtx())
	if err != nil {
		t.Fatalf("cash balance: %v", err)
	}
	if !cash.BalanceAFN.IsZero() {
		t.Fatalf("expected drawer back at zero, got %s", cash.BalanceAFN)
	}

	refreshed, err := svc.GetCustomer(adminCtx(), customer.ID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !refreshed.OutstandingAFN.IsZero() {
		t.Fatalf("expected outstanding zero after wipe, got %s", refreshed.OutstandingAFN)
	}
}

func TestReturnItemsReducesDebtBeforeCash(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Returning Customer")
	sale := creditSale(t, svc, customer.ID)

	// Refund for one $50 item at rate 70 is 3500 AFN: 2800 clears the
	// open debt and only 700 leaves the drawer as cash.
	resp, err := svc.ReturnItems(staffCtx(), sale.Invoice.ID, domain.ReturnItemsRequest{
		Items:  []domain.ReturnItemLine{{SKU: "PRT-BRK-PAD01", Quantity: 1}},
		Reason: "wrong part",
	})
	if err != nil {
		t.Fatalf("return items: %v", err)
	}
	if !resp.RefundAFN.Equal(usd("3500")) {
		t.Fatalf("expected 3500 AFN refund, got %s", resp.RefundAFN)
	}
	if !resp.DebtReducedAFN.Equal(usd("2800")) {
		t.Fatalf("expected 2800 AFN of debt cleared, got %s", resp.DebtReducedAFN)
	}
	if !resp.CashRefundAFN.Equal(usd("700")) {
		t.Fatalf("expected 700 AFN cash refund, got %s", resp.CashRefundAFN)
	}

	cash, err := svc.CashBalance(adminCtx())
	if err != nil {
		t.Fatalf("cash balance: %v", err)
	}
	if !cash.BalanceAFN.Equal(usd("3500")) {
		t.Fatalf("expected 4200-700=3500 AFN in the drawer, got %s", cash.BalanceAFN)
	}

	refreshed, err := svc.GetCustomer(adminCtx(), customer.ID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !refreshed.OutstandingAFN.IsZero() {
		t.Fatalf("expected debt fully cleared by the return, got %s", refreshed.OutstandingAFN)
	}
}

func TestReturnMoreThanSoldRejected(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Over Returner")
	sale := creditSale(t, svc, customer.ID)

	_, err := svc.ReturnItems(staffCtx(), sale.Invoice.ID, domain.ReturnItemsRequest{
		Items: []domain.ReturnItemLine{{SKU: "PRT-BRK-PAD01", Quantity: 3}},
	})
	if !errors.Is(err, domain.ErrOverReturn) {
		t.Fatalf("expected over-return rejection, got %v", err)
	}
}

func TestDepositLifecycle(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Depositor")

	deposit, err := svc.CreateDeposit(staffCtx(), domain.DepositCreateRequest{
		CustomerID: customer.ID,
		AmountAFN:  usd("3000"),
	})
	if err != nil {
		t.Fatalf("create deposit: %v", err)
	}
	if !strings.HasPrefix(deposit.Number, "DEP-") {
		t.Fatalf("unexpected deposit number %s", deposit.Number)
	}

	partial, err := svc.WithdrawDeposit(staffCtx(), deposit.ID, domain.DepositWithdrawRequest{AmountAFN: usd("1200")})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if partial.Status != domain.DepositStatusPartial {
		t.Fatalf("expected PARTIAL, got %s", partial.Status)
	}

	if _, err := svc.WithdrawDeposit(staffCtx(), deposit.ID, domain.DepositWithdrawRequest{AmountAFN: usd("2000")}); !errors.Is(err, domain.ErrExceedsBalance) {
		t.Fatalf("expected over-withdrawal rejected, got %v", err)
	}

	final, err := svc.WithdrawDeposit(staffCtx(), deposit.ID, domain.DepositWithdrawRequest{AmountAFN: usd("1800")})
	if err != nil {
		t.Fatalf("final withdraw: %v", err)
	}
	if final.Status != domain.DepositStatusWithdrawn {
		t.Fatalf("expected WITHDRAWN, got %s", final.Status)
	}

	if _, err := svc.WithdrawDeposit(staffCtx(), deposit.ID, domain.DepositWithdrawRequest{AmountAFN: usd("1")}); !errors.Is(err, domain.ErrAlreadyWithdrawn) {
		t.Fatalf("expected already-withdrawn rejection, got %v", err)
	}

	cash, err := svc.CashBalance(adminCtx())
	if err != nil {
		t.Fatalf("cash balance: %v", err)
	}
	if !cash.BalanceAFN.IsZero() {
		t.Fatalf("expected deposit in and out to net zero, got %s", cash.BalanceAFN)
	}
}

func TestLedgerRowsChainBalances(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Ledger Customer")
	sale := creditSale(t, svc, customer.ID)
	if _, err := svc.RecordDebtPayment(staffCtx(), sale.CreditEntry.ID, domain.DebtPaymentRequest{AmountAFN: usdPtr("1000")}); err != nil {
		t.Fatalf("debt payment: %v", err)
	}
	if _, err := svc.RecordExpense(adminCtx(), domain.ExpenseCreateRequest{Category: "rent", AmountAFN: usd("500")}); err != nil {
		t.Fatalf("expense: %v", err)
	}

	entries, err := svc.ListLedger(adminCtx(), 50)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 journal rows, got %d", len(entries))
	}
	running := decimal.Zero
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if !e.BalanceAfter.Sub(e.BalanceBefore).Equal(e.AmountAFN) {
			t.Fatalf("row %s: balance delta %s does not match amount %s", e.ID, e.BalanceAfter.Sub(e.BalanceBefore), e.AmountAFN)
		}
		if !e.BalanceBefore.Equal(running) {
			t.Fatalf("row %s: expected opening balance %s, got %s", e.ID, running, e.BalanceBefore)
		}
		running = e.BalanceAfter
	}

	cash, err := svc.CashBalance(adminCtx())
	if err != nil {
		t.Fatalf("cash balance: %v", err)
	}
	if !cash.BalanceAFN.Equal(running) {
		t.Fatalf("expected balance %s to match the last journal row, got %s", running, cash.BalanceAFN)
	}
	if !cash.BalanceAFN.Equal(usd("4700")) {
		t.Fatalf("expected 4200+1000-500=4700 AFN, got %s", cash.BalanceAFN)
	}
}

func TestDebtSummaryBucketsAndConversion(t *testing.T) {
	svc := newTestService()
	overdue := mustCustomer(t, svc, "Overdue Customer")
	active := mustCustomer(t, svc, "Active Customer")

	if _, err := svc.CreateSale(adminCtx(), domain.SaleCreateRequest{
		CustomerID: overdue.ID,
		Items:      []domain.SaleItemInput{{SKU: "PRT-FLT-OIL01", Quantity: 1, UnitPriceUSD: usdPtr("10")}},
		DueDate:    "2020-01-01",
	}); err != nil {
		t.Fatalf("overdue sale: %v", err)
	}
	if _, err := svc.CreateSale(adminCtx(), domain.SaleCreateRequest{
		CustomerID: active.ID,
		Items:      []domain.SaleItemInput{{SKU: "PRT-FLT-AIR01", Quantity: 1, UnitPriceUSD: usdPtr("20")}},
	}); err != nil {
		t.Fatalf("active sale: %v", err)
	}

	summary, err := svc.DebtSummary(adminCtx())
	if err != nil {
		t.Fatalf("debt summary: %v", err)
	}
	if summary.Debtors != 2 {
		t.Fatalf("expected 2 debtors, got %d", summary.Debtors)
	}
	if !summary.TotalOutstandingAFN.Equal(usd("2100")) {
		t.Fatalf("expected 700+1400=2100 AFN outstanding, got %s", summary.TotalOutstandingAFN)
	}
	if !summary.TotalOutstandingUSD.Equal(usd("30")) {
		t.Fatalf("expected 30 USD outstanding at rate 70, got %s", summary.TotalOutstandingUSD)
	}

	byStatus := map[string]domain.DebtSummaryBucket{}
	for _, bucket := range summary.Buckets {
		byStatus[bucket.Status] = bucket
	}
	if byStatus[domain.CreditStatusOverdue].Count != 1 {
		t.Fatalf("expected one overdue entry, got %+v", summary.Buckets)
	}
	if byStatus[domain.CreditStatusActive].Count != 1 {
		t.Fatalf("expected one active entry, got %+v", summary.Buckets)
	}
}

func TestDailyReportSeparatesLendingFromSales(t *testing.T) {
	svc := newTestService()
	customer := mustCustomer(t, svc, "Reported Customer")
	creditSale(t, svc, customer.ID)
	if _, err := svc.CreateLending(adminCtx(), domain.LendingCreateRequest{
		CustomerID: customer.ID,
		AmountAFN:  usd("5000"),
	}); err != nil {
		t.Fatalf("create lending: %v", err)
	}

	report, err := svc.DailyReport(adminCtx(), "")
	if err != nil {
		t.Fatalf("daily report: %v", err)
	}
	if report.Sales != 1 {
		t.Fatalf("expected lending placeholder excluded from sales count, got %d", report.Sales)
	}
	if !report.GrossUSD.Equal(usd("100")) {
		t.Fatalf("expected gross 100 USD, got %s", report.GrossUSD)
	}
	if !report.CollectedAFN.Equal(usd("4200")) {
		t.Fatalf("expected 4200 AFN collected, got %s", report.CollectedAFN)
	}
	if !report.DebtIssuedAFN.Equal(usd("2800")) {
		t.Fatalf("expected 2800 AFN debt issued, got %s", report.DebtIssuedAFN)
	}
	if !report.ClosingAFN.Equal(usd("-800")) {
		t.Fatalf("expected 4200-5000=-800 AFN closing, got %s", report.ClosingAFN)
	}
}

func TestExchangeRateFallsBackToDefault(t *testing.T) {
	svc := newTestService()

	rate, err := svc.ExchangeRate(context.Background())
	if err != nil {
		t.Fatalf("exchange rate: %v", err)
	}
	if !rate.Equal(usd("70")) {
		t.Fatalf("expected seeded rate 70, got %s", rate)
	}

	if _, err := svc.SetExchangeRate(staffCtx(), domain.ExchangeRateUpdateRequest{Rate: usd("72")}); err == nil {
		t.Fatalf("expected staff rate update to be rejected")
	}
	if _, err := svc.SetExchangeRate(adminCtx(), domain.ExchangeRateUpdateRequest{Rate: usd("72.5")}); err != nil {
		t.Fatalf("admin rate update: %v", err)
	}
	rate, err = svc.ExchangeRate(context.Background())
	if err != nil {
		t.Fatalf("exchange rate: %v", err)
	}
	if !rate.Equal(usd("72.5")) {
		t.Fatalf("expected updated rate 72.5, got %s", rate)
	}
}
