package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"partspos/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicate         = errors.New("already exists")
)

// Repository is the persistence contract for the ledger. Methods that
// touch money are atomic: the memory store runs them under one lock,
// the postgres store inside one serializable transaction, so partial
// writes never become visible.
type Repository interface {
	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	AdjustStock(ctx context.Context, sku string, delta int) (*domain.Product, error)

	ListCustomers(ctx context.Context, includeArchived bool) ([]domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	SetCustomerArchived(ctx context.Context, id string, archived bool) error
	WalkInCustomer(ctx context.Context) (*domain.Customer, error)

	CreateSale(ctx context.Context, invoice domain.Invoice, credit *domain.CreditEntry, payment *domain.Payment) (*domain.SaleResponse, error)
	GetInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, customerID string, limit int) ([]domain.Invoice, error)
	DeleteSale(ctx context.Context, invoiceID string) (*domain.Invoice, error)
	DeleteAllSales(ctx context.Context) (int, error)
	ReturnItems(ctx context.Context, invoiceID string, lines []domain.ReturnItemLine) (*domain.ReturnItemsResponse, error)

	GetCreditEntry(ctx context.Context, id string) (*domain.CreditEntry, error)
	ListCreditEntries(ctx context.Context, customerID string, status string, limit int) ([]domain.CreditEntry, error)
	RecordDebtPayment(ctx context.Context, entryID string, payment domain.DebtPayment) (*domain.DebtPaymentResponse, error)
	CreateLending(ctx context.Context, invoice domain.Invoice, credit domain.CreditEntry) (*domain.CreditEntry, error)
	DeleteCreditEntry(ctx context.Context, entryID string) (*domain.CreditEntry, error)
	ApplyCustomerPayment(ctx context.Context, customerID string, payment domain.DebtPayment) (*domain.CustomerPaymentResponse, error)
	RefreshCreditStatuses(ctx context.Context, now time.Time) (int, error)
	DebtSummary(ctx context.Context, now time.Time) (*domain.DebtSummary, error)

	CreateDeposit(ctx context.Context, deposit domain.CustomerDeposit) (*domain.CustomerDeposit, error)
	GetDeposit(ctx context.Context, id string) (*domain.CustomerDeposit, error)
	ListDeposits(ctx context.Context, customerID string) ([]domain.CustomerDeposit, error)
	WithdrawDeposit(ctx context.Context, depositID string, withdrawal domain.DepositWithdrawal) (*domain.CustomerDeposit, error)

	CashBalance(ctx context.Context) (decimal.Decimal, error)
	ListLedger(ctx context.Context, limit int) ([]domain.LedgerEntry, error)
	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpenses(ctx context.Context, from time.Time, to time.Time) ([]domain.Expense, error)

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key string, value string) error

	GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
