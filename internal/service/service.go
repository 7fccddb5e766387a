package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"partspos/internal/cache"
	"partspos/internal/domain"
	"partspos/internal/store"
	"partspos/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	exchangeRateKey = "exchange_rate"
	summaryCacheKey = "debt-summary"
	summaryCacheTTL = 30 * time.Second
)

type Service struct {
	repo        store.Repository
	summaries   cache.SummaryCache
	notifier    Notifier
	defaultRate decimal.Decimal
}

func New(repo store.Repository, summaries cache.SummaryCache, notifier Notifier, defaultRate decimal.Decimal) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if defaultRate.LessThanOrEqual(decimal.Zero) {
		defaultRate = decimal.NewFromInt(70)
	}

	return &Service{
		repo:        repo,
		summaries:   summaries,
		notifier:    notifier,
		defaultRate: defaultRate,
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}
	return nil
}

// --- settings ---

// ExchangeRate returns the shop-wide AFN per USD rate used for new
// documents. Existing documents keep the rate locked at their creation.
func (s *Service) ExchangeRate(ctx context.Context) (decimal.Decimal, error) {
	raw, err := s.repo.GetSetting(ctx, exchangeRateKey)
	if err != nil {
		return s.defaultRate, nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil || rate.LessThanOrEqual(decimal.Zero) {
		log.Printf("[service] WARN: stored exchange rate %q is unusable, falling back to default", raw)
		return s.defaultRate, nil
	}
	return rate, nil
}

func (s *Service) SetExchangeRate(ctx context.Context, req domain.ExchangeRateUpdateRequest) (domain.ExchangeRateResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ExchangeRateResponse{}, err
	}
	if req.Rate.LessThanOrEqual(decimal.Zero) {
		return domain.ExchangeRateResponse{}, domain.ErrInvalidAmount
	}
	if err := s.repo.SetSetting(ctx, exchangeRateKey, req.Rate.String()); err != nil {
		return domain.ExchangeRateResponse{}, err
	}
	s.logAudit(ctx, "exchange_rate_update", "setting", exchangeRateKey, "rate="+req.Rate.String())
	s.invalidateSummary(ctx)
	return domain.ExchangeRateResponse{Rate: req.Rate, UpdatedAt: time.Now().UTC()}, nil
}

// --- products ---

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, includeInactive)
}

func (s *Service) GetProduct(ctx context.Context, sku string) (domain.Product, error) {
	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	product, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.SKU == "" || req.Name == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.SalePriceUSD.LessThanOrEqual(decimal.Zero) || req.CostPriceUSD.IsNegative() || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	product := domain.Product{
		SKU:          req.SKU,
		Name:         req.Name,
		Category:     req.Category,
		CostPriceUSD: req.CostPriceUSD,
		SalePriceUSD: req.SalePriceUSD,
		SalePriceAFN: req.SalePriceAFN,
		Quantity:     req.InitialStock,
		Active:       true,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.SKU, fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.SalePriceUSD.StringFixed(2), created.Quantity))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, sku string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.CostPriceUSD != nil {
		if req.CostPriceUSD.IsNegative() {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.CostPriceUSD = *req.CostPriceUSD
	}
	if req.SalePriceUSD != nil {
		if req.SalePriceUSD.LessThanOrEqual(decimal.Zero) {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.SalePriceUSD = *req.SalePriceUSD
	}
	if req.SalePriceAFN != nil {
		if req.SalePriceAFN.IsNegative() {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.SalePriceAFN = *req.SalePriceAFN
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.SKU, fmt.Sprintf("active=%t,price=%s", saved.Active, saved.SalePriceUSD.StringFixed(2)))
	return *saved, nil
}

func (s *Service) AdjustStock(ctx context.Context, sku string, req domain.StockAdjustRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" || req.Delta == 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	updated, err := s.repo.AdjustStock(ctx, sku, req.Delta)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "stock_adjust", "product", sku, fmt.Sprintf("delta=%d,reason=%s,qty=%d", req.Delta, req.Reason, updated.Quantity))
	return *updated, nil
}

// --- customers ---

func (s *Service) ListCustomers(ctx context.Context, includeArchived bool) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, includeArchived)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomerByID(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, store.ErrInvalidInput
	}

	customer := domain.Customer{
		Name:    req.Name,
		Phone:   strings.TrimSpace(req.Phone),
		Email:   strings.TrimSpace(req.Email),
		Address: strings.TrimSpace(req.Address),
	}

	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	existing, err := s.repo.GetCustomerByID(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Email != nil {
		updated.Email = strings.TrimSpace(*req.Email)
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_update", "customer", saved.ID, "name="+saved.Name)
	return *saved, nil
}

func (s *Service) ArchiveCustomer(ctx context.Context, id string, archived bool) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.SetCustomerArchived(ctx, id, archived); err != nil {
		return err
	}
	s.logAudit(ctx, "customer_archive", "customer", id, fmt.Sprintf("archived=%t", archived))
	return nil
}

// --- sales ---

// CreateSale turns a cart into an invoice. Stock is checked and
// deducted atomically in the store. Underpayment books a credit entry
// at the rate locked on the invoice; a sub-five-cent remainder is
// written off rather than carried as debt.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	if len(req.Items) == 0 {
		return domain.SaleResponse{}, store.ErrInvalidInput
	}
	if req.DiscountUSD.IsNegative() || req.TaxUSD.IsNegative() || req.PaidUSD.IsNegative() {
		return domain.SaleResponse{}, domain.ErrInvalidAmount
	}

	var customer *domain.Customer
	var err error
	if strings.TrimSpace(req.CustomerID) == "" {
		customer, err = s.repo.WalkInCustomer(ctx)
	} else {
		customer, err = s.repo.GetCustomerByID(ctx, req.CustomerID)
	}
	if err != nil {
		return domain.SaleResponse{}, err
	}

	rate, err := s.ExchangeRate(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	now := time.Now().UTC()
	subtotal := decimal.Zero
	items := make([]domain.InvoiceItem, 0, len(req.Items))
	for _, line := range req.Items {
		sku := strings.ToUpper(strings.TrimSpace(line.SKU))
		if sku == "" || line.Quantity <= 0 {
			return domain.SaleResponse{}, store.ErrInvalidInput
		}
		product, err := s.repo.GetProductBySKU(ctx, sku)
		if err != nil {
			return domain.SaleResponse{}, err
		}
		unit := product.SalePriceUSD
		if line.UnitPriceUSD != nil {
			if line.UnitPriceUSD.LessThanOrEqual(decimal.Zero) {
				return domain.SaleResponse{}, domain.ErrInvalidAmount
			}
			unit = *line.UnitPriceUSD
		}
		item := domain.InvoiceItem{
			SKU:          sku,
			Name:         product.Name,
			Quantity:     line.Quantity,
			UnitPriceUSD: unit,
		}
		subtotal = subtotal.Add(item.LineTotalUSD())
		items = append(items, item)
	}

	total := subtotal.Sub(req.DiscountUSD).Add(req.TaxUSD)
	if total.LessThanOrEqual(decimal.Zero) {
		return domain.SaleResponse{}, domain.ErrInvalidAmount
	}

	paid := req.PaidUSD
	if paid.GreaterThan(total) {
		// Overpayment is change handed back, not a balance in the
		// customer's favor.
		paid = total
	}
	outstanding := domain.SnapDustUSD(total.Sub(paid))

	invoice := domain.Invoice{
		CustomerID:     customer.ID,
		SubtotalUSD:    subtotal,
		DiscountUSD:    req.DiscountUSD,
		TaxUSD:         req.TaxUSD,
		TotalUSD:       total,
		PaidUSD:        paid,
		OutstandingUSD: outstanding,
		ExchangeRate:   rate,
		Note:           strings.TrimSpace(req.Note),
		CreatedBy:      actorUsername(ctx),
		CreatedAt:      now,
		Items:          items,
	}

	var payment *domain.Payment
	if req.PaidUSD.GreaterThan(decimal.Zero) {
		method := req.PaymentMethod
		if method == "" {
			method = "cash"
		}
		payment = &domain.Payment{
			AmountAFN:    paid.Mul(rate).Round(2),
			ExchangeRate: rate,
			Method:       method,
			Reference:    req.Reference,
		}
	}

	var credit *domain.CreditEntry
	if outstanding.GreaterThan(decimal.Zero) {
		if customer.WalkIn {
			return domain.SaleResponse{}, fmt.Errorf("%w: walk-in customers cannot buy on credit", store.ErrInvalidInput)
		}
		dueDate, err := parseDueDate(req.DueDate, now)
		if err != nil {
			return domain.SaleResponse{}, err
		}
		credit = &domain.CreditEntry{
			OriginalAFN:  outstanding.Mul(rate).Round(2),
			PaidAFN:      decimal.Zero,
			ExchangeRate: rate,
			DueDate:      dueDate,
			Note:         strings.TrimSpace(req.Note),
		}
	}

	resp, err := s.repo.CreateSale(ctx, invoice, credit, payment)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, "sale_create", "invoice", resp.Invoice.ID, fmt.Sprintf("number=%s,total=%s,paid=%s", resp.Invoice.Number, total.StringFixed(2), paid.StringFixed(2)))
	if resp.CreditEntry != nil {
		s.invalidateSummary(ctx)
	}
	if customer.Email != "" {
		inv := resp.Invoice
		email := customer.Email
		go func() {
			if err := s.notifier.InvoiceIssued(context.Background(), email, inv); err != nil {
				log.Printf("[notify] WARN: failed to send invoice %s: %v", inv.Number, err)
			}
		}()
	}
	return *resp, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Invoice, error) {
	invoice, err := s.repo.GetInvoiceByID(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) ListSales(ctx context.Context, customerID string, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListInvoices(ctx, customerID, limit)
}

// DeleteSale inverts a sale completely: stock, payments, credit entries
// and the cash ledger. Step-up password verification happens at the
// HTTP boundary before this is reached.
func (s *Service) DeleteSale(ctx context.Context, invoiceID string, reason string) (domain.Invoice, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Invoice{}, err
	}

	deleted, err := s.repo.DeleteSale(ctx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}

	s.logAudit(ctx, "sale_delete", "invoice", deleted.ID, fmt.Sprintf("number=%s,reason=%s", deleted.Number, reason))
	s.invalidateSummary(ctx)
	return *deleted, nil
}

func (s *Service) DeleteAllSales(ctx context.Context, reason string) (int, error) {
	if err := requireAdmin(ctx); err != nil {
		return 0, err
	}

	count, err := s.repo.DeleteAllSales(ctx)
	if err != nil {
		return 0, err
	}

	s.logAudit(ctx, "sale_delete_all", "invoice", "*", fmt.Sprintf("count=%d,reason=%s", count, reason))
	s.invalidateSummary(ctx)
	return count, nil
}

func (s *Service) ReturnItems(ctx context.Context, invoiceID string, req domain.ReturnItemsRequest) (domain.ReturnItemsResponse, error) {
	if len(req.Items) == 0 {
		return domain.ReturnItemsResponse{}, store.ErrInvalidInput
	}
	for i, line := range req.Items {
		req.Items[i].SKU = strings.ToUpper(strings.TrimSpace(line.SKU))
	}

	resp, err := s.repo.ReturnItems(ctx, invoiceID, req.Items)
	if err != nil {
		return domain.ReturnItemsResponse{}, err
	}

	s.logAudit(ctx, "sale_return", "invoice", invoiceID, fmt.Sprintf("refund_afn=%s,cash_afn=%s,reason=%s", resp.RefundAFN.StringFixed(2), resp.CashRefundAFN.StringFixed(2), req.Reason))
	s.invalidateSummary(ctx)
	return *resp, nil
}

// --- debts ---

func (s *Service) ListDebts(ctx context.Context, customerID string, status string, limit int) ([]domain.CreditEntry, error) {
	s.refreshStatuses(ctx)
	if limit < 1 {
		limit = 200
	}
	return s.repo.ListCreditEntries(ctx, customerID, status, limit)
}

func (s *Service) GetDebt(ctx context.Context, id string) (domain.CreditEntry, error) {
	s.refreshStatuses(ctx)
	entry, err := s.repo.GetCreditEntry(ctx, id)
	if err != nil {
		return domain.CreditEntry{}, err
	}
	return *entry, nil
}

// RecordDebtPayment normalizes the payment to AFN at the entry's locked
// rate, then lets the store apply the tolerance and settlement rules
// atomically against the live remainder.
func (s *Service) RecordDebtPayment(ctx context.Context, entryID string, req domain.DebtPaymentRequest) (domain.DebtPaymentResponse, error) {
	entry, err := s.repo.GetCreditEntry(ctx, entryID)
	if err != nil {
		return domain.DebtPaymentResponse{}, err
	}

	var amountAFN decimal.Decimal
	switch {
	case req.AmountAFN != nil && req.AmountAFN.GreaterThan(decimal.Zero):
		amountAFN = *req.AmountAFN
	case req.AmountUSD != nil && req.AmountUSD.GreaterThan(decimal.Zero):
		amountAFN = req.AmountUSD.Mul(entry.ExchangeRate).Round(2)
	default:
		return domain.DebtPaymentResponse{}, domain.ErrInvalidAmount
	}

	method := req.Method
	if method == "" {
		method = "cash"
	}
	payment := domain.DebtPayment{
		AmountAFN:  amountAFN,
		Method:     method,
		Reference:  req.Reference,
		Note:       req.Note,
		ReceivedBy: actorUsername(ctx),
	}

	resp, err := s.repo.RecordDebtPayment(ctx, entryID, payment)
	if err != nil {
		return domain.DebtPaymentResponse{}, err
	}

	s.logAudit(ctx, "debt_payment", "credit_entry", entryID, fmt.Sprintf("amount_afn=%s,status=%s", resp.Payment.AmountAFN.StringFixed(2), resp.CreditEntry.Status))
	s.invalidateSummary(ctx)
	return *resp, nil
}

func (s *Service) CreateLending(ctx context.Context, req domain.LendingCreateRequest) (domain.CreditEntry, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.CreditEntry{}, err
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		return domain.CreditEntry{}, store.ErrInvalidInput
	}
	if req.AmountAFN.LessThanOrEqual(decimal.Zero) {
		return domain.CreditEntry{}, domain.ErrInvalidAmount
	}

	rate, err := s.ExchangeRate(ctx)
	if err != nil {
		return domain.CreditEntry{}, err
	}

	now := time.Now().UTC()
	dueDate, err := parseDueDate(req.DueDate, now)
	if err != nil {
		return domain.CreditEntry{}, err
	}

	// A lending invoice is a zero-total placeholder that gives the
	// loan a document number; the credit entry carries the money.
	invoice := domain.Invoice{
		CustomerID:   req.CustomerID,
		ExchangeRate: rate,
		Note:         strings.TrimSpace(req.Note),
		CreatedBy:    actorUsername(ctx),
	}
	credit := domain.CreditEntry{
		CustomerID:   req.CustomerID,
		OriginalAFN:  req.AmountAFN.Round(2),
		ExchangeRate: rate,
		DueDate:      dueDate,
		Note:         strings.TrimSpace(req.Note),
	}

	created, err := s.repo.CreateLending(ctx, invoice, credit)
	if err != nil {
		return domain.CreditEntry{}, err
	}

	s.logAudit(ctx, "lending_create", "credit_entry", created.ID, fmt.Sprintf("number=%s,amount_afn=%s", created.InvoiceNumber, created.OriginalAFN.StringFixed(2)))
	s.invalidateSummary(ctx)
	return *created, nil
}

func (s *Service) DeleteDebt(ctx context.Context, entryID string, reason string) (domain.CreditEntry, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.CreditEntry{}, err
	}

	deleted, err := s.repo.DeleteCreditEntry(ctx, entryID)
	if err != nil {
		return domain.CreditEntry{}, err
	}

	s.logAudit(ctx, "debt_delete", "credit_entry", deleted.ID, fmt.Sprintf("kind=%s,number=%s,reason=%s", deleted.Kind, deleted.InvoiceNumber, reason))
	s.invalidateSummary(ctx)
	return *deleted, nil
}

func (s *Service) ApplyCustomerPayment(ctx context.Context, customerID string, req domain.CustomerPaymentRequest) (domain.CustomerPaymentResponse, error) {
	if req.AmountAFN.LessThanOrEqual(decimal.Zero) {
		return domain.CustomerPaymentResponse{}, domain.ErrInvalidAmount
	}

	method := req.Method
	if method == "" {
		method = "cash"
	}
	payment := domain.DebtPayment{
		AmountAFN:  req.AmountAFN,
		Method:     method,
		Reference:  req.Reference,
		ReceivedBy: actorUsername(ctx),
	}

	resp, err := s.repo.ApplyCustomerPayment(ctx, customerID, payment)
	if err != nil {
		return domain.CustomerPaymentResponse{}, err
	}

	s.logAudit(ctx, "customer_payment", "customer", customerID, fmt.Sprintf("amount_afn=%s,invoices=%d", req.AmountAFN.StringFixed(2), len(resp.Allocations)))
	s.invalidateSummary(ctx)
	return *resp, nil
}

func (s *Service) BatchUpdateDebtStatuses(ctx context.Context) (int, error) {
	return s.repo.RefreshCreditStatuses(ctx, time.Now().UTC())
}

func (s *Service) DebtSummary(ctx context.Context) (domain.DebtSummary, error) {
	s.refreshStatuses(ctx)

	if cached, ok, err := s.summaries.Get(ctx, summaryCacheKey); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: debt summary cache read failed: %v", err)
	}

	now := time.Now().UTC()
	summary, err := s.repo.DebtSummary(ctx, now)
	if err != nil {
		return domain.DebtSummary{}, err
	}

	rate, err := s.ExchangeRate(ctx)
	if err == nil && rate.GreaterThan(decimal.Zero) {
		summary.TotalOutstandingUSD = summary.TotalOutstandingAFN.DivRound(rate, 2)
	}

	if err := s.summaries.Set(ctx, summaryCacheKey, summary, summaryCacheTTL); err != nil {
		log.Printf("[service] WARN: debt summary cache write failed: %v", err)
	}
	return *summary, nil
}

func (s *Service) refreshStatuses(ctx context.Context) {
	if _, err := s.repo.RefreshCreditStatuses(ctx, time.Now().UTC()); err != nil {
		log.Printf("[service] WARN: failed to refresh credit statuses: %v", err)
	}
}

func (s *Service) invalidateSummary(ctx context.Context) {
	if err := s.summaries.Invalidate(ctx, summaryCacheKey); err != nil {
		log.Printf("[service] WARN: failed to invalidate debt summary cache: %v", err)
	}
}

// --- deposits ---

func (s *Service) CreateDeposit(ctx context.Context, req domain.DepositCreateRequest) (domain.CustomerDeposit, error) {
	if strings.TrimSpace(req.CustomerID) == "" {
		return domain.CustomerDeposit{}, store.ErrInvalidInput
	}
	if req.AmountAFN.LessThanOrEqual(decimal.Zero) {
		return domain.CustomerDeposit{}, domain.ErrInvalidAmount
	}

	deposit := domain.CustomerDeposit{
		CustomerID:  req.CustomerID,
		OriginalAFN: req.AmountAFN.Round(2),
		Note:        strings.TrimSpace(req.Note),
	}

	created, err := s.repo.CreateDeposit(ctx, deposit)
	if err != nil {
		return domain.CustomerDeposit{}, err
	}

	s.logAudit(ctx, "deposit_create", "deposit", created.ID, fmt.Sprintf("number=%s,amount_afn=%s", created.Number, created.OriginalAFN.StringFixed(2)))
	return *created, nil
}

func (s *Service) GetDeposit(ctx context.Context, id string) (domain.CustomerDeposit, error) {
	deposit, err := s.repo.GetDeposit(ctx, id)
	if err != nil {
		return domain.CustomerDeposit{}, err
	}
	return *deposit, nil
}

func (s *Service) ListDeposits(ctx context.Context, customerID string) ([]domain.CustomerDeposit, error) {
	return s.repo.ListDeposits(ctx, customerID)
}

func (s *Service) WithdrawDeposit(ctx context.Context, depositID string, req domain.DepositWithdrawRequest) (domain.CustomerDeposit, error) {
	withdrawal := domain.DepositWithdrawal{
		AmountAFN: req.AmountAFN,
		Note:      strings.TrimSpace(req.Note),
	}

	updated, err := s.repo.WithdrawDeposit(ctx, depositID, withdrawal)
	if err != nil {
		return domain.CustomerDeposit{}, err
	}

	s.logAudit(ctx, "deposit_withdraw", "deposit", depositID, fmt.Sprintf("amount_afn=%s,status=%s", req.AmountAFN.StringFixed(2), updated.Status))
	return *updated, nil
}

// --- cash ---

func (s *Service) CashBalance(ctx context.Context) (domain.CashBalanceResponse, error) {
	balance, err := s.repo.CashBalance(ctx)
	if err != nil {
		return domain.CashBalanceResponse{}, err
	}

	rate, err := s.ExchangeRate(ctx)
	if err != nil {
		return domain.CashBalanceResponse{}, err
	}

	resp := domain.CashBalanceResponse{
		BalanceAFN: balance,
		Rate:       rate,
		AsOf:       time.Now().UTC(),
	}
	if rate.GreaterThan(decimal.Zero) {
		resp.BalanceUSD = balance.DivRound(rate, 2)
	}
	return resp, nil
}

func (s *Service) ListLedger(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	if limit < 1 {
		limit = 200
	}
	return s.repo.ListLedger(ctx, limit)
}

func (s *Service) RecordExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Expense{}, err
	}
	if strings.TrimSpace(req.Category) == "" {
		return domain.Expense{}, store.ErrInvalidInput
	}
	if req.AmountAFN.LessThanOrEqual(decimal.Zero) {
		return domain.Expense{}, domain.ErrInvalidAmount
	}

	expense := domain.Expense{
		Category:  strings.TrimSpace(req.Category),
		AmountAFN: req.AmountAFN.Round(2),
		Note:      strings.TrimSpace(req.Note),
		SpentBy:   actorUsername(ctx),
	}

	created, err := s.repo.CreateExpense(ctx, expense)
	if err != nil {
		return domain.Expense{}, err
	}

	s.logAudit(ctx, "expense_create", "expense", created.ID, fmt.Sprintf("category=%s,amount_afn=%s", created.Category, created.AmountAFN.StringFixed(2)))
	return *created, nil
}

func (s *Service) ListExpenses(ctx context.Context, date string) ([]domain.Expense, error) {
	from, to, err := dayRange(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListExpenses(ctx, from, to)
}

// --- reports ---

func (s *Service) DailyReport(ctx context.Context, date string) (domain.DailyReport, error) {
	from, to, err := dayRange(date)
	if err != nil {
		return domain.DailyReport{}, err
	}
	return s.repo.GetDailyReport(ctx, from, to)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	from, to, err := dayRange(date)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 200
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// --- helpers ---

func actorUsername(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return "system"
}

func parseDueDate(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.AddDate(0, 0, domain.DefaultCreditTermDays), nil
	}
	due, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: due date %q", store.ErrInvalidInput, raw)
	}
	return due, nil
}

func dayRange(date string) (time.Time, time.Time, error) {
	date = strings.TrimSpace(date)
	var day time.Time
	if date == "" {
		day = time.Now().UTC()
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: date %q", store.ErrInvalidInput, date)
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 0, 1), nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
