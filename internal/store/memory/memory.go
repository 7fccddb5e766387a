package memory

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"partspos/internal/domain"
	"partspos/internal/store"
	"partspos/internal/xid"
)

type Store struct {
	mu                   sync.RWMutex
	products             map[string]domain.Product
	customersByID        map[string]domain.Customer
	walkInID             string
	invoicesByID         map[string]domain.Invoice
	paymentsByInvoice    map[string][]domain.Payment
	creditsByID          map[string]domain.CreditEntry
	debtPaymentsByEntry  map[string][]domain.DebtPayment
	depositsByID         map[string]domain.CustomerDeposit
	withdrawalsByDeposit map[string][]domain.DepositWithdrawal
	ledger               []domain.LedgerEntry
	balance              decimal.Decimal
	expenses             []domain.Expense
	settings             map[string]string
	auditLogs            []domain.AuditLog
	usersByUsername      map[string]domain.UserAccount
	invoiceSeqByYear     map[int]int64
	lendSeqByYear        map[int]int64
	depositSeq           int64
	creditSeq            int64
	ledgerSeq            int64
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning. These credentials are never used in production (the backend
// uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func NewSeeded() *Store {
	products := []domain.Product{
		{SKU: "PRT-FLT-OIL01", Name: "Oil Filter Toyota 1NZ", Category: "filters", CostPriceUSD: d("2.80"), SalePriceUSD: d("4.50"), Quantity: 80, Active: true},
		{SKU: "PRT-FLT-AIR01", Name: "Air Filter Corolla 2008-2013", Category: "filters", CostPriceUSD: d("4.10"), SalePriceUSD: d("6.75"), Quantity: 60, Active: true},
		{SKU: "PRT-BRK-PAD01", Name: "Brake Pad Set Front Hilux", Category: "brakes", CostPriceUSD: d("14.00"), SalePriceUSD: d("22.00"), Quantity: 40, Active: true},
		{SKU: "PRT-BRK-DSC01", Name: "Brake Disc Corolla", Category: "brakes", CostPriceUSD: d("19.50"), SalePriceUSD: d("31.00"), Quantity: 24, Active: true},
		{SKU: "PRT-SPK-NGK01", Name: "Spark Plug NGK BKR6E", Category: "ignition", CostPriceUSD: d("1.60"), SalePriceUSD: d("2.90"), Quantity: 200, Active: true},
		{SKU: "PRT-BAT-6001", Name: "Battery 60Ah", Category: "electrical", CostPriceUSD: d("48.00"), SalePriceUSD: d("68.00"), Quantity: 15, Active: true},
		{SKU: "PRT-OIL-5W30", Name: "Engine Oil 5W-30 4L", Category: "fluids", CostPriceUSD: d("15.50"), SalePriceUSD: d("24.00"), Quantity: 90, Active: true},
		{SKU: "PRT-CLT-KIT01", Name: "Clutch Kit Town Ace", Category: "transmission", CostPriceUSD: d("55.00"), SalePriceUSD: d("85.00"), Quantity: 8, Active: true},
		{SKU: "PRT-BLT-TIM01", Name: "Timing Belt Corolla 2ZR", Category: "engine", CostPriceUSD: d("9.80"), SalePriceUSD: d("16.00"), Quantity: 30, Active: true},
		{SKU: "PRT-SHK-FRT01", Name: "Shock Absorber Front Surf", Category: "suspension", CostPriceUSD: d("26.00"), SalePriceUSD: d("42.00"), Quantity: 18, Active: true},
	}

	productMap := make(map[string]domain.Product, len(products))
	now := time.Now().UTC()
	for _, p := range products {
		p.CreatedAt = now
		productMap[p.SKU] = p
	}

	s := &Store{
		products:             productMap,
		customersByID:        make(map[string]domain.Customer),
		invoicesByID:         make(map[string]domain.Invoice),
		paymentsByInvoice:    make(map[string][]domain.Payment),
		creditsByID:          make(map[string]domain.CreditEntry),
		debtPaymentsByEntry:  make(map[string][]domain.DebtPayment),
		depositsByID:         make(map[string]domain.CustomerDeposit),
		withdrawalsByDeposit: make(map[string][]domain.DepositWithdrawal),
		ledger:               make([]domain.LedgerEntry, 0, 128),
		expenses:             make([]domain.Expense, 0, 32),
		settings:             map[string]string{"exchange_rate": "70"},
		auditLogs:            make([]domain.AuditLog, 0, 128),
		usersByUsername:      seedUsers(),
		invoiceSeqByYear:     make(map[int]int64),
		lendSeqByYear:        make(map[int]int64),
	}
	s.ensureWalkInLocked()
	return s
}

// ensureWalkInLocked creates the synthetic walk-in customer once. The
// caller must not hold the lock during construction; afterwards it runs
// under the write lock.
func (s *Store) ensureWalkInLocked() domain.Customer {
	if s.walkInID != "" {
		if c, ok := s.customersByID[s.walkInID]; ok {
			return c
		}
	}
	c := domain.Customer{
		ID:        xid.New("cus"),
		DisplayID: s.displayIDLocked(),
		Name:      "Walk-in Customer",
		WalkIn:    true,
		CreatedAt: time.Now().UTC(),
	}
	s.customersByID[c.ID] = c
	s.walkInID = c.ID
	return c
}

func (s *Store) displayIDLocked() string {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	for {
		id := make([]byte, 0, 7)
		for i := 0; i < 2; i++ {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
			if err != nil {
				n = big.NewInt(time.Now().UnixNano() % int64(len(letters)))
			}
			id = append(id, letters[n.Int64()])
		}
		for i := 0; i < 5; i++ {
			n, err := rand.Int(rand.Reader, big.NewInt(10))
			if err != nil {
				n = big.NewInt(time.Now().UnixNano() % 10)
			}
			id = append(id, byte('0'+n.Int64()))
		}
		candidate := string(id)
		taken := false
		for _, c := range s.customersByID {
			if c.DisplayID == candidate {
				taken = true
				break
			}
		}
		if !taken {
			return candidate
		}
	}
}

// applyLedgerLocked is the single mutation point for the shop cash
// balance. Every cash movement appends a journal row carrying the
// balance before and after, under the same lock as the domain change.
func (s *Store) applyLedgerLocked(entryType string, amount decimal.Decimal, refType, refID, description string, at time.Time) domain.LedgerEntry {
	before := s.balance
	s.balance = s.balance.Add(amount)
	s.ledgerSeq++
	entry := domain.LedgerEntry{
		ID:            xid.New("led"),
		Seq:           s.ledgerSeq,
		Type:          entryType,
		AmountAFN:     amount,
		BalanceBefore: before,
		BalanceAfter:  s.balance,
		RefType:       refType,
		RefID:         refID,
		Description:   description,
		CreatedAt:     at,
	}
	s.ledger = append(s.ledger, entry)
	return entry
}

func cmpString(a, b string) int {
	return strings.Compare(a, b)
}

func invoiceClone(inv domain.Invoice) domain.Invoice {
	out := inv
	out.Items = make([]domain.InvoiceItem, len(inv.Items))
	copy(out.Items, inv.Items)
	return out
}

// --- products ---

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active && !includeInactive {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if product.SalePriceUSD.LessThanOrEqual(decimal.Zero) || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.products[product.SKU]; exists {
		return nil, fmt.Errorf("%w: sku %s", store.ErrDuplicate, product.SKU)
	}

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true
	s.products[product.SKU] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.SalePriceUSD.LessThanOrEqual(decimal.Zero) {
		return nil, store.ErrInvalidInput
	}
	existing, exists := s.products[product.SKU]
	if !exists {
		return nil, store.ErrNotFound
	}

	product.ID = existing.ID
	product.Quantity = existing.Quantity
	product.CreatedAt = existing.CreatedAt
	s.products[product.SKU] = product
	updated := product
	return &updated, nil
}

func (s *Store) AdjustStock(_ context.Context, sku string, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	next := product.Quantity + delta
	if next < 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, product.Name)
	}
	product.Quantity = next
	s.products[sku] = product
	updated := product
	return &updated, nil
}

// --- customers ---

func (s *Store) ListCustomers(_ context.Context, includeArchived bool) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		if c.Archived && !includeArchived {
			continue
		}
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	customer.DisplayID = s.displayIDLocked()
	customer.OutstandingAFN = decimal.Zero
	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.customersByID[customer.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}

	existing.Name = customer.Name
	existing.Phone = customer.Phone
	existing.Email = customer.Email
	existing.Address = customer.Address
	s.customersByID[existing.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) SetCustomerArchived(_ context.Context, id string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customersByID[id]
	if !exists {
		return store.ErrNotFound
	}
	if customer.WalkIn {
		return store.ErrInvalidInput
	}
	customer.Archived = archived
	s.customersByID[id] = customer
	return nil
}

func (s *Store) WalkInCustomer(_ context.Context) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ensureWalkInLocked()
	copyCustomer := c
	return &copyCustomer, nil
}

// --- sales ---

func (s *Store) nextInvoiceNumberLocked(lending bool, at time.Time) string {
	year := at.Year()
	if lending {
		s.lendSeqByYear[year]++
		return fmt.Sprintf("LEND-%d-%04d", year, s.lendSeqByYear[year])
	}
	s.invoiceSeqByYear[year]++
	return fmt.Sprintf("INV-%d-%04d", year, s.invoiceSeqByYear[year])
}

func (s *Store) CreateSale(_ context.Context, invoice domain.Invoice, credit *domain.CreditEntry, payment *domain.Payment) (*domain.SaleResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customersByID[invoice.CustomerID]
	if !exists {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, invoice.CustomerID)
	}

	// Stock is checked and deducted under the same lock so concurrent
	// sales cannot oversell.
	for _, item := range invoice.Items {
		product, ok := s.products[item.SKU]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.SKU)
		}
		if product.Quantity < item.Quantity {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, product.Name)
		}
	}
	for i, item := range invoice.Items {
		product := s.products[item.SKU]
		product.Quantity -= item.Quantity
		s.products[item.SKU] = product
		if item.ID == "" {
			invoice.Items[i].ID = xid.New("itm")
		}
		invoice.Items[i].ProductID = product.ID
	}

	if invoice.ID == "" {
		invoice.ID = xid.New("inv")
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now().UTC()
	}
	invoice.Number = s.nextInvoiceNumberLocked(false, invoice.CreatedAt)
	invoice.CustomerName = customer.Name
	invoice.Status = domain.DeriveInvoiceStatus(invoice.OutstandingUSD, invoice.PaidUSD)

	if payment != nil {
		if payment.ID == "" {
			payment.ID = xid.New("pay")
		}
		payment.InvoiceID = invoice.ID
		payment.CustomerID = invoice.CustomerID
		payment.CreatedAt = invoice.CreatedAt
		s.paymentsByInvoice[invoice.ID] = append(s.paymentsByInvoice[invoice.ID], *payment)
		s.applyLedgerLocked(domain.LedgerSalePayment, payment.AmountAFN, "invoice", invoice.ID, "payment on "+invoice.Number, invoice.CreatedAt)
	}

	resp := domain.SaleResponse{}
	if credit != nil {
		if credit.ID == "" {
			credit.ID = xid.New("crd")
		}
		s.creditSeq++
		credit.Seq = s.creditSeq
		credit.Kind = domain.CreditKindSale
		credit.CustomerID = invoice.CustomerID
		credit.CustomerName = customer.Name
		credit.InvoiceID = invoice.ID
		credit.InvoiceNumber = invoice.Number
		credit.InvoiceDate = invoice.CreatedAt
		credit.CreatedAt = invoice.CreatedAt
		credit.RemainingAFN = credit.OriginalAFN.Sub(credit.PaidAFN)
		credit.Status = domain.DeriveCreditStatus(credit.RemainingAFN, credit.DueDate, invoice.CreatedAt)
		s.creditsByID[credit.ID] = *credit

		customer.OutstandingAFN = customer.OutstandingAFN.Add(credit.RemainingAFN)
		s.customersByID[customer.ID] = customer

		entryCopy := *credit
		resp.CreditEntry = &entryCopy
	}

	s.invoicesByID[invoice.ID] = invoice
	resp.Invoice = invoiceClone(invoice)
	return &resp, nil
}

func (s *Store) GetInvoiceByID(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, exists := s.invoicesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyInvoice := invoiceClone(invoice)
	return &copyInvoice, nil
}

func (s *Store) ListInvoices(_ context.Context, customerID string, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoices := make([]domain.Invoice, 0, len(s.invoicesByID))
	for _, inv := range s.invoicesByID {
		if customerID != "" && inv.CustomerID != customerID {
			continue
		}
		invoices = append(invoices, invoiceClone(inv))
	}
	slices.SortFunc(invoices, func(a, b domain.Invoice) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.Number, a.Number)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(invoices) > limit {
		invoices = invoices[:limit]
	}
	return invoices, nil
}

// deleteSaleLocked inverts one invoice: restock, cash reversal for every
// payment row, credit entry removal with the customer aggregate and the
// lending outflow corrected. Returns the reversed cash delta.
func (s *Store) deleteSaleLocked(invoice domain.Invoice, at time.Time) decimal.Decimal {
	for _, item := range invoice.Items {
		if product, ok := s.products[item.SKU]; ok {
			product.Quantity += item.Quantity - item.ReturnedQty
			s.products[item.SKU] = product
		}
	}

	cash := decimal.Zero
	for _, p := range s.paymentsByInvoice[invoice.ID] {
		cash = cash.Add(p.AmountAFN)
	}
	delete(s.paymentsByInvoice, invoice.ID)

	for id, entry := range s.creditsByID {
		if entry.InvoiceID != invoice.ID {
			continue
		}
		if customer, ok := s.customersByID[entry.CustomerID]; ok {
			customer.OutstandingAFN = customer.OutstandingAFN.Sub(entry.RemainingAFN)
			if customer.OutstandingAFN.IsNegative() {
				customer.OutstandingAFN = decimal.Zero
			}
			s.customersByID[customer.ID] = customer
		}
		if entry.Kind == domain.CreditKindLending {
			cash = cash.Sub(entry.OriginalAFN)
		}
		delete(s.debtPaymentsByEntry, id)
		delete(s.creditsByID, id)
	}

	delete(s.invoicesByID, invoice.ID)
	if !cash.IsZero() {
		s.applyLedgerLocked(domain.LedgerReversal, cash.Neg(), "invoice", invoice.ID, "reversal of "+invoice.Number, at)
	}
	return cash.Neg()
}

func (s *Store) DeleteSale(_ context.Context, invoiceID string) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, exists := s.invoicesByID[invoiceID]
	if !exists {
		return nil, store.ErrNotFound
	}
	deleted := invoiceClone(invoice)
	s.deleteSaleLocked(invoice, time.Now().UTC())
	return &deleted, nil
}

func (s *Store) DeleteAllSales(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	at := time.Now().UTC()
	for _, invoice := range s.invoicesByID {
		s.deleteSaleLocked(invoice, at)
		count++
	}
	for id, customer := range s.customersByID {
		customer.OutstandingAFN = decimal.Zero
		s.customersByID[id] = customer
	}
	return count, nil
}

func (s *Store) ReturnItems(_ context.Context, invoiceID string, lines []domain.ReturnItemLine) (*domain.ReturnItemsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, exists := s.invoicesByID[invoiceID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if len(lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	refundUSD := decimal.Zero
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, store.ErrInvalidInput
		}
		idx := -1
		for i, item := range invoice.Items {
			if item.SKU == line.SKU {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.SKU)
		}
		item := invoice.Items[idx]
		if line.Quantity > item.Quantity-item.ReturnedQty {
			return nil, fmt.Errorf("%w: %s", domain.ErrOverReturn, line.SKU)
		}
		refundUSD = refundUSD.Add(item.UnitPriceUSD.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	now := time.Now().UTC()
	for _, line := range lines {
		for i, item := range invoice.Items {
			if item.SKU != line.SKU {
				continue
			}
			invoice.Items[i].ReturnedQty += line.Quantity
			if product, ok := s.products[line.SKU]; ok {
				product.Quantity += line.Quantity
				s.products[line.SKU] = product
			}
			break
		}
	}

	refundAFN := refundUSD.Mul(invoice.ExchangeRate).Round(2)
	debtReduced := decimal.Zero

	// The refund settles open debt on this invoice before any cash
	// leaves the drawer.
	for id, entry := range s.creditsByID {
		if entry.InvoiceID != invoice.ID || entry.RemainingAFN.LessThanOrEqual(decimal.Zero) {
			continue
		}
		debtReduced = refundAFN
		if debtReduced.GreaterThan(entry.RemainingAFN) {
			debtReduced = entry.RemainingAFN
		}
		entry.RemainingAFN = entry.RemainingAFN.Sub(debtReduced)
		if entry.RemainingAFN.LessThan(domain.SettleThresholdAFN) {
			entry.RemainingAFN = decimal.Zero
		}
		entry.Status = domain.DeriveCreditStatus(entry.RemainingAFN, entry.DueDate, now)
		s.creditsByID[id] = entry

		if customer, ok := s.customersByID[entry.CustomerID]; ok {
			customer.OutstandingAFN = customer.OutstandingAFN.Sub(debtReduced)
			if customer.OutstandingAFN.IsNegative() {
				customer.OutstandingAFN = decimal.Zero
			}
			s.customersByID[customer.ID] = customer
		}
		break
	}

	cashRefund := refundAFN.Sub(debtReduced)
	if cashRefund.GreaterThan(decimal.Zero) {
		refundPayment := domain.Payment{
			ID:           xid.New("pay"),
			InvoiceID:    invoice.ID,
			CustomerID:   invoice.CustomerID,
			AmountAFN:    cashRefund.Neg(),
			ExchangeRate: invoice.ExchangeRate,
			Method:       "cash",
			CreatedAt:    now,
		}
		s.paymentsByInvoice[invoice.ID] = append(s.paymentsByInvoice[invoice.ID], refundPayment)
		s.applyLedgerLocked(domain.LedgerRefund, cashRefund.Neg(), "invoice", invoice.ID, "return refund on "+invoice.Number, now)
	}

	debtReducedUSD := decimal.Zero
	cashRefundUSD := decimal.Zero
	if !invoice.ExchangeRate.IsZero() {
		debtReducedUSD = debtReduced.DivRound(invoice.ExchangeRate, 2)
		cashRefundUSD = cashRefund.DivRound(invoice.ExchangeRate, 2)
	}
	invoice.TotalUSD = invoice.TotalUSD.Sub(refundUSD)
	invoice.PaidUSD = invoice.PaidUSD.Sub(cashRefundUSD)
	invoice.OutstandingUSD = invoice.OutstandingUSD.Sub(debtReducedUSD)
	if invoice.OutstandingUSD.IsNegative() {
		invoice.OutstandingUSD = decimal.Zero
	}
	invoice.Status = domain.DeriveInvoiceStatus(invoice.OutstandingUSD, invoice.PaidUSD)
	s.invoicesByID[invoice.ID] = invoice

	resp := domain.ReturnItemsResponse{
		Invoice:        invoiceClone(invoice),
		RefundAFN:      refundAFN,
		DebtReducedAFN: debtReduced,
		CashRefundAFN:  cashRefund,
	}
	return &resp, nil
}

// --- debts ---

func (s *Store) GetCreditEntry(_ context.Context, id string) (*domain.CreditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.creditsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyEntry := entry
	return &copyEntry, nil
}

func (s *Store) ListCreditEntries(_ context.Context, customerID string, status string, limit int) ([]domain.CreditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.CreditEntry, 0, len(s.creditsByID))
	for _, e := range s.creditsByID {
		if customerID != "" && e.CustomerID != customerID {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b domain.CreditEntry) int {
		if a.InvoiceDate.Equal(b.InvoiceDate) {
			if a.Seq == b.Seq {
				return 0
			}
			if a.Seq < b.Seq {
				return -1
			}
			return 1
		}
		if a.InvoiceDate.Before(b.InvoiceDate) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// applyDebtPaymentLocked persists the outcome of a debt payment: the
// updated entry, the customer aggregate, the cash ledger, the payment
// rows and the invoice mirror for sale credits.
func (s *Store) applyDebtPaymentLocked(entry domain.CreditEntry, updated domain.CreditEntry, applied decimal.Decimal, payment domain.DebtPayment, now time.Time) domain.DebtPayment {
	reduced := entry.RemainingAFN.Sub(updated.RemainingAFN)
	s.creditsByID[updated.ID] = updated

	if customer, ok := s.customersByID[updated.CustomerID]; ok {
		customer.OutstandingAFN = customer.OutstandingAFN.Sub(reduced)
		if customer.OutstandingAFN.IsNegative() {
			customer.OutstandingAFN = decimal.Zero
		}
		s.customersByID[customer.ID] = customer
	}

	if payment.ID == "" {
		payment.ID = xid.New("dpy")
	}
	payment.CreditEntryID = updated.ID
	payment.CustomerID = updated.CustomerID
	payment.AmountAFN = applied
	payment.ExchangeRate = updated.ExchangeRate
	payment.CreatedAt = now
	s.debtPaymentsByEntry[updated.ID] = append(s.debtPaymentsByEntry[updated.ID], payment)

	mirror := domain.Payment{
		ID:           xid.New("pay"),
		InvoiceID:    updated.InvoiceID,
		CustomerID:   updated.CustomerID,
		AmountAFN:    applied,
		ExchangeRate: updated.ExchangeRate,
		Method:       payment.Method,
		Reference:    payment.Reference,
		CreatedAt:    now,
	}
	s.paymentsByInvoice[updated.InvoiceID] = append(s.paymentsByInvoice[updated.InvoiceID], mirror)

	if invoice, ok := s.invoicesByID[updated.InvoiceID]; ok && updated.Kind == domain.CreditKindSale && !updated.ExchangeRate.IsZero() {
		appliedUSD := reduced.DivRound(updated.ExchangeRate, 2)
		invoice.PaidUSD = invoice.PaidUSD.Add(appliedUSD)
		invoice.OutstandingUSD = invoice.OutstandingUSD.Sub(appliedUSD)
		if invoice.OutstandingUSD.IsNegative() || updated.RemainingAFN.IsZero() {
			invoice.OutstandingUSD = decimal.Zero
		}
		invoice.Status = domain.DeriveInvoiceStatus(invoice.OutstandingUSD, invoice.PaidUSD)
		s.invoicesByID[invoice.ID] = invoice
	}

	s.applyLedgerLocked(domain.LedgerDebtPayment, applied, "credit_entry", updated.ID, "debt payment on "+updated.InvoiceNumber, now)
	return payment
}

func (s *Store) RecordDebtPayment(_ context.Context, entryID string, payment domain.DebtPayment) (*domain.DebtPaymentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.creditsByID[entryID]
	if !exists {
		return nil, store.ErrNotFound
	}
	now := time.Now().UTC()
	updated, applied, err := domain.ApplyDebtPayment(entry, payment.AmountAFN, now)
	if err != nil {
		return nil, err
	}
	saved := s.applyDebtPaymentLocked(entry, updated, applied, payment, now)

	resp := domain.DebtPaymentResponse{
		Payment:     saved,
		CreditEntry: updated,
		BalanceAFN:  s.balance,
	}
	return &resp, nil
}

func (s *Store) CreateLending(_ context.Context, invoice domain.Invoice, credit domain.CreditEntry) (*domain.CreditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customersByID[credit.CustomerID]
	if !exists {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, credit.CustomerID)
	}
	if customer.WalkIn {
		return nil, store.ErrInvalidInput
	}
	if credit.OriginalAFN.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidAmount
	}

	now := time.Now().UTC()
	if invoice.ID == "" {
		invoice.ID = xid.New("inv")
	}
	invoice.Number = s.nextInvoiceNumberLocked(true, now)
	invoice.CustomerID = customer.ID
	invoice.CustomerName = customer.Name
	invoice.Status = domain.InvoiceStatusPaid
	invoice.CreatedAt = now
	s.invoicesByID[invoice.ID] = invoice

	if credit.ID == "" {
		credit.ID = xid.New("crd")
	}
	s.creditSeq++
	credit.Seq = s.creditSeq
	credit.Kind = domain.CreditKindLending
	credit.CustomerName = customer.Name
	credit.InvoiceID = invoice.ID
	credit.InvoiceNumber = invoice.Number
	credit.InvoiceDate = now
	credit.PaidAFN = decimal.Zero
	credit.RemainingAFN = credit.OriginalAFN
	credit.Status = domain.DeriveCreditStatus(credit.RemainingAFN, credit.DueDate, now)
	credit.CreatedAt = now
	s.creditsByID[credit.ID] = credit

	customer.OutstandingAFN = customer.OutstandingAFN.Add(credit.OriginalAFN)
	s.customersByID[customer.ID] = customer

	s.applyLedgerLocked(domain.LedgerLendingOut, credit.OriginalAFN.Neg(), "credit_entry", credit.ID, "cash lent on "+invoice.Number, now)

	created := credit
	return &created, nil
}

func (s *Store) DeleteCreditEntry(_ context.Context, entryID string) (*domain.CreditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.creditsByID[entryID]
	if !exists {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	if customer, ok := s.customersByID[entry.CustomerID]; ok {
		customer.OutstandingAFN = customer.OutstandingAFN.Sub(entry.RemainingAFN)
		if customer.OutstandingAFN.IsNegative() {
			customer.OutstandingAFN = decimal.Zero
		}
		s.customersByID[customer.ID] = customer
	}

	effect := domain.ReversalCashEffect(entry)
	if !effect.IsZero() {
		s.applyLedgerLocked(domain.LedgerReversal, effect, "credit_entry", entry.ID, "reversal of "+entry.InvoiceNumber, now)
	}

	delete(s.debtPaymentsByEntry, entry.ID)
	delete(s.creditsByID, entry.ID)
	if entry.Kind == domain.CreditKindLending {
		delete(s.paymentsByInvoice, entry.InvoiceID)
		delete(s.invoicesByID, entry.InvoiceID)
	}

	deleted := entry
	return &deleted, nil
}

func (s *Store) ApplyCustomerPayment(_ context.Context, customerID string, payment domain.DebtPayment) (*domain.CustomerPaymentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customersByID[customerID]; !exists {
		return nil, store.ErrNotFound
	}

	entries := make([]domain.CreditEntry, 0)
	for _, e := range s.creditsByID {
		if e.CustomerID == customerID {
			entries = append(entries, e)
		}
	}

	now := time.Now().UTC()
	updated, allocations, err := domain.AllocateCustomerPayment(entries, payment.AmountAFN, now)
	if err != nil {
		return nil, err
	}

	// applyDebtPaymentLocked books the ledger per entry, so a lump
	// payment shows one journal row per invoice it touched.
	for _, next := range updated {
		prev := s.creditsByID[next.ID]
		applied := next.PaidAFN.Sub(prev.PaidAFN)
		p := payment
		p.ID = ""
		s.applyDebtPaymentLocked(prev, next, applied, p, now)
	}

	resp := domain.CustomerPaymentResponse{
		Allocations: allocations,
		BalanceAFN:  s.balance,
	}
	return &resp, nil
}

func (s *Store) RefreshCreditStatuses(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for id, entry := range s.creditsByID {
		next := domain.DeriveCreditStatus(entry.RemainingAFN, entry.DueDate, now)
		if next != entry.Status {
			entry.Status = next
			s.creditsByID[id] = entry
			changed++
		}
	}
	return changed, nil
}

func (s *Store) DebtSummary(_ context.Context, now time.Time) (*domain.DebtSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStatus := map[string]*domain.DebtSummaryBucket{}
	total := decimal.Zero
	debtors := map[string]bool{}
	for _, entry := range s.creditsByID {
		status := domain.DeriveCreditStatus(entry.RemainingAFN, entry.DueDate, now)
		bucket, ok := byStatus[status]
		if !ok {
			bucket = &domain.DebtSummaryBucket{Status: status}
			byStatus[status] = bucket
		}
		bucket.Count++
		bucket.TotalAFN = bucket.TotalAFN.Add(entry.RemainingAFN)
		if entry.RemainingAFN.GreaterThan(decimal.Zero) {
			total = total.Add(entry.RemainingAFN)
			debtors[entry.CustomerID] = true
		}
	}

	buckets := make([]domain.DebtSummaryBucket, 0, len(byStatus))
	for _, status := range []string{domain.CreditStatusOverdue, domain.CreditStatusDueSoon, domain.CreditStatusActive, domain.CreditStatusSettled} {
		if bucket, ok := byStatus[status]; ok {
			buckets = append(buckets, *bucket)
		}
	}

	summary := domain.DebtSummary{
		Buckets:             buckets,
		TotalOutstandingAFN: total,
		Debtors:             len(debtors),
		GeneratedAt:         now,
	}
	return &summary, nil
}

// --- deposits ---

func (s *Store) CreateDeposit(_ context.Context, deposit domain.CustomerDeposit) (*domain.CustomerDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customersByID[deposit.CustomerID]
	if !exists {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, deposit.CustomerID)
	}
	if deposit.OriginalAFN.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidAmount
	}

	now := time.Now().UTC()
	if deposit.ID == "" {
		deposit.ID = xid.New("dep")
	}
	s.depositSeq++
	deposit.Number = fmt.Sprintf("DEP-%05d", s.depositSeq)
	deposit.CustomerName = customer.Name
	deposit.WithdrawnAFN = decimal.Zero
	deposit.Status = domain.DepositStatusActive
	deposit.CreatedAt = now
	s.depositsByID[deposit.ID] = deposit

	s.applyLedgerLocked(domain.LedgerDeposit, deposit.OriginalAFN, "deposit", deposit.ID, "deposit "+deposit.Number, now)

	created := deposit
	return &created, nil
}

func (s *Store) GetDeposit(_ context.Context, id string) (*domain.CustomerDeposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deposit, exists := s.depositsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyDeposit := deposit
	return &copyDeposit, nil
}

func (s *Store) ListDeposits(_ context.Context, customerID string) ([]domain.CustomerDeposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deposits := make([]domain.CustomerDeposit, 0, len(s.depositsByID))
	for _, dep := range s.depositsByID {
		if customerID != "" && dep.CustomerID != customerID {
			continue
		}
		deposits = append(deposits, dep)
	}
	slices.SortFunc(deposits, func(a, b domain.CustomerDeposit) int {
		return cmpString(b.Number, a.Number)
	})
	return deposits, nil
}

func (s *Store) WithdrawDeposit(_ context.Context, depositID string, withdrawal domain.DepositWithdrawal) (*domain.CustomerDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deposit, exists := s.depositsByID[depositID]
	if !exists {
		return nil, store.ErrNotFound
	}

	updated, err := domain.ApplyDepositWithdrawal(deposit, withdrawal.AmountAFN)
	if err != nil {
		return nil, err
	}
	s.depositsByID[depositID] = updated

	now := time.Now().UTC()
	if withdrawal.ID == "" {
		withdrawal.ID = xid.New("wdr")
	}
	withdrawal.DepositID = depositID
	withdrawal.CreatedAt = now
	s.withdrawalsByDeposit[depositID] = append(s.withdrawalsByDeposit[depositID], withdrawal)

	s.applyLedgerLocked(domain.LedgerWithdrawal, withdrawal.AmountAFN.Neg(), "deposit", depositID, "withdrawal from "+updated.Number, now)

	result := updated
	return &result, nil
}

// --- cash ---

func (s *Store) CashBalance(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance, nil
}

func (s *Store) ListLedger(_ context.Context, limit int) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.LedgerEntry, len(s.ledger))
	copy(entries, s.ledger)
	slices.Reverse(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.AmountAFN.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidAmount
	}
	if expense.Category == "" {
		return nil, store.ErrInvalidInput
	}

	now := time.Now().UTC()
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	expense.CreatedAt = now
	s.expenses = append(s.expenses, expense)

	s.applyLedgerLocked(domain.LedgerExpense, expense.AmountAFN.Neg(), "expense", expense.ID, expense.Category, now)

	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(_ context.Context, from time.Time, to time.Time) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0)
	for _, e := range s.expenses {
		if (e.CreatedAt.Equal(from) || e.CreatedAt.After(from)) && e.CreatedAt.Before(to) {
			expenses = append(expenses, e)
		}
	}
	slices.SortFunc(expenses, func(a, b domain.Expense) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return expenses, nil
}

// --- settings ---

func (s *Store) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.settings[key]
	if !exists {
		return "", store.ErrNotFound
	}
	return value, nil
}

func (s *Store) SetSetting(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key == "" {
		return store.ErrInvalidInput
	}
	s.settings[key] = value
	return nil
}

// --- reports ---

func (s *Store) GetDailyReport(_ context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.DailyReport{Date: from.Format("2006-01-02")}
	inRange := func(t time.Time) bool {
		return (t.Equal(from) || t.After(from)) && t.Before(to)
	}

	lendingInvoices := map[string]bool{}
	for _, entry := range s.creditsByID {
		if entry.Kind == domain.CreditKindLending {
			lendingInvoices[entry.InvoiceID] = true
		}
	}

	for _, inv := range s.invoicesByID {
		if !inRange(inv.CreatedAt) || lendingInvoices[inv.ID] {
			continue
		}
		report.Sales++
		report.GrossUSD = report.GrossUSD.Add(inv.TotalUSD)
		report.DiscountUSD = report.DiscountUSD.Add(inv.DiscountUSD)
	}

	byMethod := map[string]*domain.DailyReportMethod{}
	for _, payments := range s.paymentsByInvoice {
		for _, p := range payments {
			if !inRange(p.CreatedAt) {
				continue
			}
			report.CollectedAFN = report.CollectedAFN.Add(p.AmountAFN)
			bucket, ok := byMethod[p.Method]
			if !ok {
				bucket = &domain.DailyReportMethod{Method: p.Method}
				byMethod[p.Method] = bucket
			}
			bucket.Count++
			bucket.TotalAFN = bucket.TotalAFN.Add(p.AmountAFN)
		}
	}
	methods := make([]domain.DailyReportMethod, 0, len(byMethod))
	for _, bucket := range byMethod {
		methods = append(methods, *bucket)
	}
	slices.SortFunc(methods, func(a, b domain.DailyReportMethod) int {
		return cmpString(a.Method, b.Method)
	})
	report.ByMethod = methods

	for _, entry := range s.creditsByID {
		if entry.Kind == domain.CreditKindSale && inRange(entry.CreatedAt) {
			report.DebtIssuedAFN = report.DebtIssuedAFN.Add(entry.OriginalAFN)
		}
	}
	for _, payments := range s.debtPaymentsByEntry {
		for _, p := range payments {
			if inRange(p.CreatedAt) {
				report.DebtCollectedAFN = report.DebtCollectedAFN.Add(p.AmountAFN)
			}
		}
	}
	for _, e := range s.expenses {
		if inRange(e.CreatedAt) {
			report.ExpensesAFN = report.ExpensesAFN.Add(e.AmountAFN)
		}
	}
	report.ClosingAFN = s.balance

	return report, nil
}

// --- audit ---

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	slices.SortFunc(logs, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

// --- users ---

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: user %s", store.ErrDuplicate, user.Username)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	if password == "" {
		return store.ErrInvalidInput
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
