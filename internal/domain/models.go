package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID           string          `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	CostPriceUSD decimal.Decimal `json:"cost_price_usd"`
	SalePriceUSD decimal.Decimal `json:"sale_price_usd"`
	SalePriceAFN decimal.Decimal `json:"sale_price_afn"`
	Quantity     int             `json:"quantity"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
}

type ProductCreateRequest struct {
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	CostPriceUSD decimal.Decimal `json:"cost_price_usd"`
	SalePriceUSD decimal.Decimal `json:"sale_price_usd"`
	SalePriceAFN decimal.Decimal `json:"sale_price_afn"`
	InitialStock int             `json:"initial_stock"`
}

type ProductUpdateRequest struct {
	Name         *string          `json:"name,omitempty"`
	Category     *string          `json:"category,omitempty"`
	CostPriceUSD *decimal.Decimal `json:"cost_price_usd,omitempty"`
	SalePriceUSD *decimal.Decimal `json:"sale_price_usd,omitempty"`
	SalePriceAFN *decimal.Decimal `json:"sale_price_afn,omitempty"`
	Active       *bool            `json:"active,omitempty"`
}

type StockAdjustRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type Customer struct {
	ID             string          `json:"id"`
	DisplayID      string          `json:"display_id"`
	Name           string          `json:"name"`
	Phone          string          `json:"phone,omitempty"`
	Email          string          `json:"email,omitempty"`
	Address        string          `json:"address,omitempty"`
	OutstandingAFN decimal.Decimal `json:"outstanding_afn"`
	WalkIn         bool            `json:"walk_in"`
	Archived       bool            `json:"archived"`
	CreatedAt      time.Time       `json:"created_at"`
}

// OutstandingUSD converts the canonical AFN aggregate at the given rate.
// Rates lock per document; this is a display conversion only.
func (c Customer) OutstandingUSD(rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return decimal.Zero
	}
	return c.OutstandingAFN.DivRound(rate, 2)
}

type CustomerCreateRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

type CustomerUpdateRequest struct {
	Name    *string `json:"name,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Email   *string `json:"email,omitempty"`
	Address *string `json:"address,omitempty"`
}

type InvoiceItem struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	ReturnedQty  int             `json:"returned_qty"`
	UnitPriceUSD decimal.Decimal `json:"unit_price_usd"`
}

func (it InvoiceItem) LineTotalUSD() decimal.Decimal {
	return it.UnitPriceUSD.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

type Invoice struct {
	ID             string          `json:"id"`
	Number         string          `json:"number"`
	CustomerID     string          `json:"customer_id"`
	CustomerName   string          `json:"customer_name"`
	SubtotalUSD    decimal.Decimal `json:"subtotal_usd"`
	DiscountUSD    decimal.Decimal `json:"discount_usd"`
	TaxUSD         decimal.Decimal `json:"tax_usd"`
	TotalUSD       decimal.Decimal `json:"total_usd"`
	PaidUSD        decimal.Decimal `json:"paid_usd"`
	OutstandingUSD decimal.Decimal `json:"outstanding_usd"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	Status         string          `json:"status"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
	Note           string          `json:"note,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	Items          []InvoiceItem   `json:"items"`
}

// TotalAFN is derived from the rate locked at creation, never stored.
func (inv Invoice) TotalAFN() decimal.Decimal {
	return inv.TotalUSD.Mul(inv.ExchangeRate).Round(2)
}

func (inv Invoice) OutstandingAFN() decimal.Decimal {
	return inv.OutstandingUSD.Mul(inv.ExchangeRate).Round(2)
}

type SaleItemInput struct {
	SKU          string           `json:"sku"`
	Quantity     int              `json:"quantity"`
	UnitPriceUSD *decimal.Decimal `json:"unit_price_usd,omitempty"`
}

type SaleCreateRequest struct {
	CustomerID    string          `json:"customer_id,omitempty"`
	Items         []SaleItemInput `json:"items"`
	DiscountUSD   decimal.Decimal `json:"discount_usd"`
	TaxUSD        decimal.Decimal `json:"tax_usd"`
	PaidUSD       decimal.Decimal `json:"paid_usd"`
	PaymentMethod string          `json:"payment_method"`
	Reference     string          `json:"reference,omitempty"`
	DueDate       string          `json:"due_date,omitempty"`
	Note          string          `json:"note,omitempty"`
}

type SaleResponse struct {
	Invoice     Invoice      `json:"invoice"`
	CreditEntry *CreditEntry `json:"credit_entry,omitempty"`
}

type CreditEntry struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	Kind          string          `json:"kind"`
	CustomerID    string          `json:"customer_id"`
	CustomerName  string          `json:"customer_name"`
	InvoiceID     string          `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	InvoiceDate   time.Time       `json:"invoice_date"`
	OriginalAFN   decimal.Decimal `json:"original_afn"`
	PaidAFN       decimal.Decimal `json:"paid_afn"`
	RemainingAFN  decimal.Decimal `json:"remaining_afn"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	DueDate       time.Time       `json:"due_date"`
	Status        string          `json:"status"`
	Note          string          `json:"note,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (ce CreditEntry) RemainingUSD() decimal.Decimal {
	if ce.ExchangeRate.IsZero() {
		return decimal.Zero
	}
	return ce.RemainingAFN.DivRound(ce.ExchangeRate, 2)
}

func (ce CreditEntry) OriginalUSD() decimal.Decimal {
	if ce.ExchangeRate.IsZero() {
		return decimal.Zero
	}
	return ce.OriginalAFN.DivRound(ce.ExchangeRate, 2)
}

type DebtPaymentRequest struct {
	AmountAFN *decimal.Decimal `json:"amount_afn,omitempty"`
	AmountUSD *decimal.Decimal `json:"amount_usd,omitempty"`
	Method    string           `json:"method"`
	Reference string           `json:"reference,omitempty"`
	Note      string           `json:"note,omitempty"`
}

type DebtPayment struct {
	ID            string          `json:"id"`
	CreditEntryID string          `json:"credit_entry_id"`
	CustomerID    string          `json:"customer_id"`
	AmountAFN     decimal.Decimal `json:"amount_afn"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	Method        string          `json:"method"`
	Reference     string          `json:"reference,omitempty"`
	Note          string          `json:"note,omitempty"`
	ReceivedBy    string          `json:"received_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

type DebtPaymentResponse struct {
	Payment     DebtPayment     `json:"payment"`
	CreditEntry CreditEntry     `json:"credit_entry"`
	BalanceAFN  decimal.Decimal `json:"balance_afn"`
}

type LendingCreateRequest struct {
	CustomerID string          `json:"customer_id"`
	AmountAFN  decimal.Decimal `json:"amount_afn"`
	DueDate    string          `json:"due_date,omitempty"`
	Note       string          `json:"note,omitempty"`
}

type CustomerPaymentRequest struct {
	AmountAFN decimal.Decimal `json:"amount_afn"`
	Method    string          `json:"method"`
	Reference string          `json:"reference,omitempty"`
}

type PaymentAllocation struct {
	CreditEntryID string          `json:"credit_entry_id"`
	InvoiceNumber string          `json:"invoice_number"`
	AppliedAFN    decimal.Decimal `json:"applied_afn"`
	Status        string          `json:"status"`
}

type CustomerPaymentResponse struct {
	Allocations []PaymentAllocation `json:"allocations"`
	BalanceAFN  decimal.Decimal     `json:"balance_afn"`
}

// Payment is the invoice-level mirror row. Negative amounts are refunds.
type Payment struct {
	ID           string          `json:"id"`
	InvoiceID    string          `json:"invoice_id"`
	CustomerID   string          `json:"customer_id"`
	AmountAFN    decimal.Decimal `json:"amount_afn"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Method       string          `json:"method"`
	Reference    string          `json:"reference,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type CustomerDeposit struct {
	ID           string          `json:"id"`
	Number       string          `json:"number"`
	CustomerID   string          `json:"customer_id"`
	CustomerName string          `json:"customer_name"`
	OriginalAFN  decimal.Decimal `json:"original_afn"`
	WithdrawnAFN decimal.Decimal `json:"withdrawn_afn"`
	Status       string          `json:"status"`
	Note         string          `json:"note,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (d CustomerDeposit) RemainingAFN() decimal.Decimal {
	return d.OriginalAFN.Sub(d.WithdrawnAFN)
}

type DepositCreateRequest struct {
	CustomerID string          `json:"customer_id"`
	AmountAFN  decimal.Decimal `json:"amount_afn"`
	Note       string          `json:"note,omitempty"`
}

type DepositWithdrawRequest struct {
	AmountAFN decimal.Decimal `json:"amount_afn"`
	Note      string          `json:"note,omitempty"`
}

type DepositWithdrawal struct {
	ID        string          `json:"id"`
	DepositID string          `json:"deposit_id"`
	AmountAFN decimal.Decimal `json:"amount_afn"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type LedgerEntry struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	Type          string          `json:"type"`
	AmountAFN     decimal.Decimal `json:"amount_afn"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	RefType       string          `json:"ref_type,omitempty"`
	RefID         string          `json:"ref_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type CashBalanceResponse struct {
	BalanceAFN decimal.Decimal `json:"balance_afn"`
	BalanceUSD decimal.Decimal `json:"balance_usd"`
	Rate       decimal.Decimal `json:"rate"`
	AsOf       time.Time       `json:"as_of"`
}

type Expense struct {
	ID        string          `json:"id"`
	Category  string          `json:"category"`
	AmountAFN decimal.Decimal `json:"amount_afn"`
	Note      string          `json:"note,omitempty"`
	SpentBy   string          `json:"spent_by"`
	CreatedAt time.Time       `json:"created_at"`
}

type ExpenseCreateRequest struct {
	Category  string          `json:"category"`
	AmountAFN decimal.Decimal `json:"amount_afn"`
	Note      string          `json:"note,omitempty"`
}

type ReturnItemLine struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type ReturnItemsRequest struct {
	Items  []ReturnItemLine `json:"items"`
	Reason string           `json:"reason"`
}

type ReturnItemsResponse struct {
	Invoice        Invoice         `json:"invoice"`
	RefundAFN      decimal.Decimal `json:"refund_afn"`
	DebtReducedAFN decimal.Decimal `json:"debt_reduced_afn"`
	CashRefundAFN  decimal.Decimal `json:"cash_refund_afn"`
}

type DeleteRequest struct {
	Password string `json:"password"`
	Reason   string `json:"reason,omitempty"`
}

type ExchangeRateResponse struct {
	Rate      decimal.Decimal `json:"rate"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ExchangeRateUpdateRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

type DebtSummaryBucket struct {
	Status   string          `json:"status"`
	Count    int             `json:"count"`
	TotalAFN decimal.Decimal `json:"total_afn"`
}

type DebtSummary struct {
	Buckets             []DebtSummaryBucket `json:"buckets"`
	TotalOutstandingAFN decimal.Decimal     `json:"total_outstanding_afn"`
	TotalOutstandingUSD decimal.Decimal     `json:"total_outstanding_usd"`
	Debtors             int                 `json:"debtors"`
	GeneratedAt         time.Time           `json:"generated_at"`
}

type DailyReportMethod struct {
	Method   string          `json:"method"`
	Count    int             `json:"count"`
	TotalAFN decimal.Decimal `json:"total_afn"`
}

type DailyReport struct {
	Date             string              `json:"date"`
	Sales            int                 `json:"sales"`
	GrossUSD         decimal.Decimal     `json:"gross_usd"`
	DiscountUSD      decimal.Decimal     `json:"discount_usd"`
	CollectedAFN     decimal.Decimal     `json:"collected_afn"`
	DebtIssuedAFN    decimal.Decimal     `json:"debt_issued_afn"`
	DebtCollectedAFN decimal.Decimal     `json:"debt_collected_afn"`
	ExpensesAFN      decimal.Decimal     `json:"expenses_afn"`
	ClosingAFN       decimal.Decimal     `json:"closing_afn"`
	ByMethod         []DailyReportMethod `json:"by_method"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

const (
	InvoiceStatusPaid      = "PAID"
	InvoiceStatusPartial   = "PARTIAL"
	InvoiceStatusUnpaid    = "UNPAID"
	InvoiceStatusCancelled = "CANCELLED"
)

const (
	CreditKindSale    = "SALE_CREDIT"
	CreditKindLending = "LENDING"
)

const (
	CreditStatusActive  = "ACTIVE"
	CreditStatusDueSoon = "DUE_SOON"
	CreditStatusOverdue = "OVERDUE"
	CreditStatusSettled = "SETTLED"
)

const (
	DepositStatusActive    = "ACTIVE"
	DepositStatusPartial   = "PARTIAL"
	DepositStatusWithdrawn = "WITHDRAWN"
)

const (
	LedgerSalePayment = "SALE_PAYMENT"
	LedgerDebtPayment = "DEBT_PAYMENT"
	LedgerLendingOut  = "LENDING_OUT"
	LedgerDeposit     = "DEPOSIT"
	LedgerWithdrawal  = "WITHDRAWAL"
	LedgerExpense     = "EXPENSE"
	LedgerRefund      = "REFUND"
	LedgerReversal    = "REVERSAL"
)
