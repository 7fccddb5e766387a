package postgres

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"partspos/internal/domain"
	"partspos/internal/store"
	"partspos/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			sku TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			cost_price_usd NUMERIC(18,2) NOT NULL DEFAULT 0,
			sale_price_usd NUMERIC(18,2) NOT NULL,
			sale_price_afn NUMERIC(18,2) NOT NULL DEFAULT 0,
			quantity INT NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			display_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			outstanding_afn NUMERIC(18,2) NOT NULL DEFAULT 0,
			walk_in BOOLEAN NOT NULL DEFAULT false,
			archived BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS invoices (
			id TEXT PRIMARY KEY,
			number TEXT NOT NULL UNIQUE,
			customer_id TEXT NOT NULL REFERENCES customers(id),
			customer_name TEXT NOT NULL DEFAULT '',
			subtotal_usd NUMERIC(18,2) NOT NULL DEFAULT 0,
			discount_usd NUMERIC(18,2) NOT NULL DEFAULT 0,
			tax_usd NUMERIC(18,2) NOT NULL DEFAULT 0,
			total_usd NUMERIC(18,2) NOT NULL DEFAULT 0,
			paid_usd NUMERIC(18,2) NOT NULL DEFAULT 0,
			outstanding_usd NUMERIC(18,2) NOT NULL DEFAULT 0,
			exchange_rate NUMERIC(18,4) NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			due_date TIMESTAMPTZ,
			note TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS invoice_items (
			id TEXT PRIMARY KEY,
			invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
			product_id TEXT NOT NULL DEFAULT '',
			sku TEXT NOT NULL,
			name TEXT NOT NULL,
			quantity INT NOT NULL,
			returned_qty INT NOT NULL DEFAULT 0,
			unit_price_usd NUMERIC(18,2) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			invoice_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			amount_afn NUMERIC(18,2) NOT NULL,
			exchange_rate NUMERIC(18,4) NOT NULL DEFAULT 0,
			method TEXT NOT NULL DEFAULT 'cash',
			reference TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS credit_entries (
			id TEXT PRIMARY KEY,
			seq BIGINT NOT NULL,
			kind TEXT NOT NULL,
			customer_id TEXT NOT NULL REFERENCES customers(id),
			customer_name TEXT NOT NULL DEFAULT '',
			invoice_id TEXT NOT NULL,
			invoice_number TEXT NOT NULL DEFAULT '',
			invoice_date TIMESTAMPTZ NOT NULL,
			original_afn NUMERIC(18,2) NOT NULL,
			paid_afn NUMERIC(18,2) NOT NULL DEFAULT 0,
			remaining_afn NUMERIC(18,2) NOT NULL,
			exchange_rate NUMERIC(18,4) NOT NULL DEFAULT 0,
			due_date TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS debt_payments (
			id TEXT PRIMARY KEY,
			credit_entry_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			amount_afn NUMERIC(18,2) NOT NULL,
			exchange_rate NUMERIC(18,4) NOT NULL DEFAULT 0,
			method TEXT NOT NULL DEFAULT 'cash',
			reference TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			received_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS deposits (
			id TEXT PRIMARY KEY,
			number TEXT NOT NULL UNIQUE,
			customer_id TEXT NOT NULL REFERENCES customers(id),
			customer_name TEXT NOT NULL DEFAULT '',
			original_afn NUMERIC(18,2) NOT NULL,
			withdrawn_afn NUMERIC(18,2) NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS deposit_withdrawals (
			id TEXT PRIMARY KEY,
			deposit_id TEXT NOT NULL REFERENCES deposits(id),
			amount_afn NUMERIC(18,2) NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			type TEXT NOT NULL,
			amount_afn NUMERIC(18,2) NOT NULL,
			balance_before NUMERIC(18,2) NOT NULL,
			balance_after NUMERIC(18,2) NOT NULL,
			ref_type TEXT NOT NULL DEFAULT '',
			ref_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			amount_afn NUMERIC(18,2) NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			spent_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			actor_username TEXT NOT NULL DEFAULT '',
			actor_role TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL DEFAULT '',
			entity_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS app_users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS document_sequences (
			kind TEXT NOT NULL,
			year INT NOT NULL,
			value BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (kind, year)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_customer ON invoices (customer_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_entries_customer ON credit_entries (customer_id, invoice_date, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_invoice ON payments (invoice_id)`,
		`CREATE INDEX IF NOT EXISTS idx_debt_payments_entry ON debt_payments (credit_entry_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema bootstrap: %w", err)
		}
	}
	return nil
}

// nextSequenceTx bumps a named counter and returns the new value. Document
// numbers (INV/LEND per year, DEP, credit entry ordinals) all come from here
// so they stay monotonic even across deletions.
func nextSequenceTx(ctx context.Context, tx *sql.Tx, kind string, year int) (int64, error) {
	var value int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO document_sequences (kind, year, value)
		VALUES ($1,$2,1)
		ON CONFLICT (kind, year)
		DO UPDATE SET value = document_sequences.value + 1
		RETURNING value
	`, kind, year).Scan(&value)
	return value, err
}

func nextInvoiceNumberTx(ctx context.Context, tx *sql.Tx, lending bool, at time.Time) (string, error) {
	year := at.Year()
	if lending {
		n, err := nextSequenceTx(ctx, tx, "lend", year)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("LEND-%d-%04d", year, n), nil
	}
	n, err := nextSequenceTx(ctx, tx, "invoice", year)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%d-%04d", year, n), nil
}

// appendLedgerTx is the single mutation point for the cash balance in the
// SQL store. The previous balance is read off the latest journal row inside
// the caller's serializable transaction.
func appendLedgerTx(ctx context.Context, tx *sql.Tx, entryType string, amount decimal.Decimal, refType, refID, description string, at time.Time) (decimal.Decimal, error) {
	var before decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT balance_after FROM ledger_entries ORDER BY seq DESC LIMIT 1), 0)
	`).Scan(&before)
	if err != nil {
		return decimal.Zero, err
	}
	after := before.Add(amount)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, type, amount_afn, balance_before, balance_after, ref_type, ref_id, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, xid.New("led"), entryType, amount, before, after, refType, refID, description, at)
	if err != nil {
		return decimal.Zero, err
	}
	return after, nil
}

// --- products ---

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, category, cost_price_usd, sale_price_usd, sale_price_afn, quantity, active, created_at
		FROM products
		WHERE ($1 OR active = true)
		ORDER BY category, name
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.CostPriceUSD, &p.SalePriceUSD, &p.SalePriceAFN, &p.Quantity, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if product.SalePriceUSD.LessThanOrEqual(decimal.Zero) || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, category, cost_price_usd, sale_price_usd, sale_price_afn, quantity, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, product.ID, product.SKU, product.Name, product.Category, product.CostPriceUSD, product.SalePriceUSD, product.SalePriceAFN, product.Quantity, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sku %s", store.ErrDuplicate, product.SKU)
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, category, cost_price_usd, sale_price_usd, sale_price_afn, quantity, active, created_at
		FROM products
		WHERE sku = $1
	`, sku).Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.CostPriceUSD, &p.SalePriceUSD, &p.SalePriceAFN, &p.Quantity, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.SalePriceUSD.LessThanOrEqual(decimal.Zero) {
		return nil, store.ErrInvalidInput
	}

	var updated domain.Product
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, cost_price_usd = $4, sale_price_usd = $5, sale_price_afn = $6, active = $7
		WHERE sku = $1
		RETURNING id, sku, name, category, cost_price_usd, sale_price_usd, sale_price_afn, quantity, active, created_at
	`, product.SKU, product.Name, product.Category, product.CostPriceUSD, product.SalePriceUSD, product.SalePriceAFN, product.Active).Scan(
		&updated.ID, &updated.SKU, &updated.Name, &updated.Category, &updated.CostPriceUSD, &updated.SalePriceUSD, &updated.SalePriceAFN, &updated.Quantity, &updated.Active, &updated.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	updated.CreatedAt = updated.CreatedAt.UTC()
	return &updated, nil
}

func (s *Store) AdjustStock(ctx context.Context, sku string, delta int) (*domain.Product, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var p domain.Product
	err = tx.QueryRowContext(ctx, `
		SELECT id, sku, name, category, cost_price_usd, sale_price_usd, sale_price_afn, quantity, active, created_at
		FROM products
		WHERE sku = $1
		FOR UPDATE
	`, sku).Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.CostPriceUSD, &p.SalePriceUSD, &p.SalePriceAFN, &p.Quantity, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	next := p.Quantity + delta
	if next < 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, p.Name)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE products SET quantity = $2 WHERE sku = $1`, sku, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	p.Quantity = next
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

// --- customers ---

func (s *Store) ListCustomers(ctx context.Context, includeArchived bool) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_id, name, phone, email, address, outstanding_afn, walk_in, archived, created_at
		FROM customers
		WHERE ($1 OR archived = false)
		ORDER BY name
	`, includeArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.DisplayID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.OutstandingAFN, &c.WalkIn, &c.Archived, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func randomDisplayID() string {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ"
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
	return string(id)
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	customer.OutstandingAFN = decimal.Zero

	// The unique index on display_id settles collisions; just retry with
	// a fresh candidate.
	for attempt := 0; attempt < 10; attempt++ {
		customer.DisplayID = randomDisplayID()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO customers (id, display_id, name, phone, email, address, outstanding_afn, walk_in, archived, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, customer.ID, customer.DisplayID, customer.Name, customer.Phone, customer.Email, customer.Address, customer.OutstandingAFN, customer.WalkIn, customer.Archived, customer.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return nil, err
		}
		created := customer
		return &created, nil
	}
	return nil, fmt.Errorf("could not allocate a unique display id")
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_id, name, phone, email, address, outstanding_afn, walk_in, archived, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.DisplayID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.OutstandingAFN, &c.WalkIn, &c.Archived, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}

	var updated domain.Customer
	err := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, email = $4, address = $5
		WHERE id = $1
		RETURNING id, display_id, name, phone, email, address, outstanding_afn, walk_in, archived, created_at
	`, customer.ID, customer.Name, customer.Phone, customer.Email, customer.Address).Scan(
		&updated.ID, &updated.DisplayID, &updated.Name, &updated.Phone, &updated.Email, &updated.Address, &updated.OutstandingAFN, &updated.WalkIn, &updated.Archived, &updated.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	updated.CreatedAt = updated.CreatedAt.UTC()
	return &updated, nil
}

func (s *Store) SetCustomerArchived(ctx context.Context, id string, archived bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET archived = $2
		WHERE id = $1 AND walk_in = false
	`, id, archived)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var walkIn bool
		lookupErr := s.db.QueryRowContext(ctx, `SELECT walk_in FROM customers WHERE id = $1`, id).Scan(&walkIn)
		if errors.Is(lookupErr, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if lookupErr == nil && walkIn {
			return store.ErrInvalidInput
		}
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) WalkInCustomer(ctx context.Context) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_id, name, phone, email, address, outstanding_afn, walk_in, archived, created_at
		FROM customers
		WHERE walk_in = true
		LIMIT 1
	`).Scan(&c.ID, &c.DisplayID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.OutstandingAFN, &c.WalkIn, &c.Archived, &c.CreatedAt)
	if err == nil {
		c.CreatedAt = c.CreatedAt.UTC()
		return &c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	created, createErr := s.CreateCustomer(ctx, domain.Customer{Name: "Walk-in Customer", WalkIn: true})
	if createErr != nil {
		// A concurrent request may have won the race.
		return s.WalkInCustomer(ctx)
	}
	return created, nil
}

// --- sales ---

func (s *Store) CreateSale(ctx context.Context, invoice domain.Invoice, credit *domain.CreditEntry, payment *domain.Payment) (*domain.SaleResponse, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var customerName string
	err = tx.QueryRowContext(ctx, `SELECT name FROM customers WHERE id = $1 FOR UPDATE`, invoice.CustomerID).Scan(&customerName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, invoice.CustomerID)
		}
		return nil, err
	}

	for i, item := range invoice.Items {
		var productID, productName string
		var qty int
		err := tx.QueryRowContext(ctx, `
			SELECT id, name, quantity FROM products WHERE sku = $1 FOR UPDATE
		`, item.SKU).Scan(&productID, &productName, &qty)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.SKU)
			}
			return nil, err
		}
		if qty < item.Quantity {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, productName)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE products SET quantity = quantity - $2 WHERE sku = $1`, item.SKU, item.Quantity); err != nil {
			return nil, err
		}
		if item.ID == "" {
			invoice.Items[i].ID = xid.New("itm")
		}
		invoice.Items[i].ProductID = productID
	}

	if invoice.ID == "" {
		invoice.ID = xid.New("inv")
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now().UTC()
	}
	invoice.Number, err = nextInvoiceNumberTx(ctx, tx, false, invoice.CreatedAt)
	if err != nil {
		return nil, err
	}
	invoice.CustomerName = customerName
	invoice.Status = domain.DeriveInvoiceStatus(invoice.OutstandingUSD, invoice.PaidUSD)

	if err := insertInvoiceTx(ctx, tx, invoice); err != nil {
		return nil, err
	}

	if payment != nil {
		if payment.ID == "" {
			payment.ID = xid.New("pay")
		}
		payment.InvoiceID = invoice.ID
		payment.CustomerID = invoice.CustomerID
		payment.CreatedAt = invoice.CreatedAt
		if err := insertPaymentTx(ctx, tx, *payment); err != nil {
			return nil, err
		}
		if _, err := appendLedgerTx(ctx, tx, domain.LedgerSalePayment, payment.AmountAFN, "invoice", invoice.ID, "payment on "+invoice.Number, invoice.CreatedAt); err != nil {
			return nil, err
		}
	}

	resp := domain.SaleResponse{}
	if credit != nil {
		if credit.ID == "" {
			credit.ID = xid.New("crd")
		}
		credit.Seq, err = nextSequenceTx(ctx, tx, "credit", 0)
		if err != nil {
			return nil, err
		}
		credit.Kind = domain.CreditKindSale
		credit.CustomerID = invoice.CustomerID
		credit.CustomerName = customerName
		credit.InvoiceID = invoice.ID
		credit.InvoiceNumber = invoice.Number
		credit.InvoiceDate = invoice.CreatedAt
		credit.CreatedAt = invoice.CreatedAt
		credit.RemainingAFN = credit.OriginalAFN.Sub(credit.PaidAFN)
		credit.Status = domain.DeriveCreditStatus(credit.RemainingAFN, credit.DueDate, invoice.CreatedAt)
		if err := insertCreditEntryTx(ctx, tx, *credit); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE customers SET outstanding_afn = outstanding_afn + $2 WHERE id = $1
		`, invoice.CustomerID, credit.RemainingAFN); err != nil {
			return nil, err
		}
		entryCopy := *credit
		resp.CreditEntry = &entryCopy
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	resp.Invoice = invoice
	return &resp, nil
}

func insertInvoiceTx(ctx context.Context, tx *sql.Tx, invoice domain.Invoice) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, number, customer_id, customer_name, subtotal_usd, discount_usd, tax_usd,
			total_usd, paid_usd, outstanding_usd, exchange_rate, status, due_date, note, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, invoice.ID, invoice.Number, invoice.CustomerID, invoice.CustomerName, invoice.SubtotalUSD, invoice.DiscountUSD,
		invoice.TaxUSD, invoice.TotalUSD, invoice.PaidUSD, invoice.OutstandingUSD, invoice.ExchangeRate,
		invoice.Status, nullTime(invoice.DueDate), invoice.Note, invoice.CreatedBy, invoice.CreatedAt)
	if err != nil {
		return err
	}
	for _, item := range invoice.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_items (id, invoice_id, product_id, sku, name, quantity, returned_qty, unit_price_usd)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, item.ID, invoice.ID, item.ProductID, item.SKU, item.Name, item.Quantity, item.ReturnedQty, item.UnitPriceUSD)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertPaymentTx(ctx context.Context, tx *sql.Tx, payment domain.Payment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payments (id, invoice_id, customer_id, amount_afn, exchange_rate, method, reference, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, payment.ID, payment.InvoiceID, payment.CustomerID, payment.AmountAFN, payment.ExchangeRate, payment.Method, payment.Reference, payment.CreatedAt)
	return err
}

func insertCreditEntryTx(ctx context.Context, tx *sql.Tx, entry domain.CreditEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_entries (
			id, seq, kind, customer_id, customer_name, invoice_id, invoice_number, invoice_date,
			original_afn, paid_afn, remaining_afn, exchange_rate, due_date, status, note, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, entry.ID, entry.Seq, entry.Kind, entry.CustomerID, entry.CustomerName, entry.InvoiceID, entry.InvoiceNumber,
		entry.InvoiceDate, entry.OriginalAFN, entry.PaidAFN, entry.RemainingAFN, entry.ExchangeRate, entry.DueDate,
		entry.Status, entry.Note, entry.CreatedAt)
	return err
}

const invoiceColumns = `id, number, customer_id, customer_name, subtotal_usd, discount_usd, tax_usd,
	total_usd, paid_usd, outstanding_usd, exchange_rate, status, due_date, note, created_by, created_at`

func scanInvoice(row interface{ Scan(...any) error }) (domain.Invoice, error) {
	var inv domain.Invoice
	var dueDate sql.NullTime
	err := row.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.CustomerName, &inv.SubtotalUSD, &inv.DiscountUSD,
		&inv.TaxUSD, &inv.TotalUSD, &inv.PaidUSD, &inv.OutstandingUSD, &inv.ExchangeRate, &inv.Status,
		&dueDate, &inv.Note, &inv.CreatedBy, &inv.CreatedAt)
	if err != nil {
		return inv, err
	}
	if dueDate.Valid {
		at := dueDate.Time.UTC()
		inv.DueDate = &at
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	return inv, nil
}

func (s *Store) loadInvoiceItems(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, invoiceID string) ([]domain.InvoiceItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, product_id, sku, name, quantity, returned_qty, unit_price_usd
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY id
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InvoiceItem, 0, 8)
	for rows.Next() {
		var item domain.InvoiceItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.SKU, &item.Name, &item.Quantity, &item.ReturnedQty, &item.UnitPriceUSD); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	inv.Items, err = s.loadInvoiceItems(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) ListInvoices(ctx context.Context, customerID string, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE ($1 = '' OR customer_id = $1)
		ORDER BY created_at DESC, number DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, limit)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range invoices {
		items, err := s.loadInvoiceItems(ctx, s.db, invoices[i].ID)
		if err != nil {
			return nil, err
		}
		invoices[i].Items = items
	}
	return invoices, nil
}

// deleteSaleTx inverts one invoice inside the caller's transaction:
// restock, cash reversal for every payment row, credit entry removal with
// the customer aggregate and the lending outflow corrected.
func (s *Store) deleteSaleTx(ctx context.Context, tx *sql.Tx, invoice domain.Invoice, at time.Time) error {
	for _, item := range invoice.Items {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET quantity = quantity + $2 WHERE sku = $1
		`, item.SKU, item.Quantity-item.ReturnedQty); err != nil {
			return err
		}
	}

	var cash decimal.Decimal
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_afn), 0) FROM payments WHERE invoice_id = $1
	`, invoice.ID).Scan(&cash); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM payments WHERE invoice_id = $1`, invoice.ID); err != nil {
		return err
	}

	entryRows, err := tx.QueryContext(ctx, `
		SELECT id, kind, customer_id, original_afn, remaining_afn
		FROM credit_entries
		WHERE invoice_id = $1
	`, invoice.ID)
	if err != nil {
		return err
	}
	type entryState struct {
		id         string
		kind       string
		customerID string
		original   decimal.Decimal
		remaining  decimal.Decimal
	}
	entries := make([]entryState, 0, 2)
	for entryRows.Next() {
		var e entryState
		if err := entryRows.Scan(&e.id, &e.kind, &e.customerID, &e.original, &e.remaining); err != nil {
			_ = entryRows.Close()
			return err
		}
		entries = append(entries, e)
	}
	if err := entryRows.Err(); err != nil {
		_ = entryRows.Close()
		return err
	}
	_ = entryRows.Close()

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			UPDATE customers SET outstanding_afn = GREATEST(outstanding_afn - $2, 0) WHERE id = $1
		`, e.customerID, e.remaining); err != nil {
			return err
		}
		if e.kind == domain.CreditKindLending {
			cash = cash.Sub(e.original)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM debt_payments WHERE credit_entry_id = $1`, e.id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM credit_entries WHERE id = $1`, e.id); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, invoice.ID); err != nil {
		return err
	}
	if !cash.IsZero() {
		if _, err := appendLedgerTx(ctx, tx, domain.LedgerReversal, cash.Neg(), "invoice", invoice.ID, "reversal of "+invoice.Number, at); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteSale(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	inv, err := scanInvoice(tx.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	inv.Items, err = s.loadInvoiceItems(ctx, tx, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := s.deleteSaleTx(ctx, tx, inv, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) DeleteAllSales(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices FOR UPDATE`)
	if err != nil {
		return 0, err
	}
	invoices := make([]domain.Invoice, 0, 64)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			_ = rows.Close()
			return 0, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	at := time.Now().UTC()
	for i := range invoices {
		items, err := s.loadInvoiceItems(ctx, tx, invoices[i].ID)
		if err != nil {
			return 0, err
		}
		invoices[i].Items = items
		if err := s.deleteSaleTx(ctx, tx, invoices[i], at); err != nil {
			return 0, err
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE customers SET outstanding_afn = 0`); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(invoices), nil
}

func (s *Store) ReturnItems(ctx context.Context, invoiceID string, lines []domain.ReturnItemLine) (*domain.ReturnItemsResponse, error) {
	if len(lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	invoice, err := scanInvoice(tx.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	invoice.Items, err = s.loadInvoiceItems(ctx, tx, invoiceID)
	if err != nil {
		return nil, err
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
			if _, err := tx.ExecContext(ctx, `
				UPDATE invoice_items SET returned_qty = returned_qty + $2 WHERE id = $1
			`, item.ID, line.Quantity); err != nil {
				return nil, err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE products SET quantity = quantity + $2 WHERE sku = $1
			`, line.SKU, line.Quantity); err != nil {
				return nil, err
			}
			break
		}
	}

	refundAFN := refundUSD.Mul(invoice.ExchangeRate).Round(2)
	debtReduced := decimal.Zero

	// The refund settles open debt on this invoice before any cash
	// leaves the drawer.
	var entryID, entryCustomerID string
	var entryRemaining decimal.Decimal
	var entryDueDate time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT id, customer_id, remaining_afn, due_date
		FROM credit_entries
		WHERE invoice_id = $1 AND remaining_afn > 0
		LIMIT 1
		FOR UPDATE
	`, invoice.ID).Scan(&entryID, &entryCustomerID, &entryRemaining, &entryDueDate)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err == nil {
		debtReduced = refundAFN
		if debtReduced.GreaterThan(entryRemaining) {
			debtReduced = entryRemaining
		}
		nextRemaining := entryRemaining.Sub(debtReduced)
		if nextRemaining.LessThan(domain.SettleThresholdAFN) {
			nextRemaining = decimal.Zero
		}
		nextStatus := domain.DeriveCreditStatus(nextRemaining, entryDueDate.UTC(), now)
		if _, err := tx.ExecContext(ctx, `
			UPDATE credit_entries SET remaining_afn = $2, status = $3 WHERE id = $1
		`, entryID, nextRemaining, nextStatus); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE customers SET outstanding_afn = GREATEST(outstanding_afn - $2, 0) WHERE id = $1
		`, entryCustomerID, debtReduced); err != nil {
			return nil, err
		}
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
		if err := insertPaymentTx(ctx, tx, refundPayment); err != nil {
			return nil, err
		}
		if _, err := appendLedgerTx(ctx, tx, domain.LedgerRefund, cashRefund.Neg(), "invoice", invoice.ID, "return refund on "+invoice.Number, now); err != nil {
			return nil, err
		}
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
	if _, err := tx.ExecContext(ctx, `
		UPDATE invoices SET total_usd = $2, paid_usd = $3, outstanding_usd = $4, status = $5 WHERE id = $1
	`, invoice.ID, invoice.TotalUSD, invoice.PaidUSD, invoice.OutstandingUSD, invoice.Status); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	resp := domain.ReturnItemsResponse{
		Invoice:        invoice,
		RefundAFN:      refundAFN,
		DebtReducedAFN: debtReduced,
		CashRefundAFN:  cashRefund,
	}
	return &resp, nil
}

// --- debts ---

const creditEntryColumns = `id, seq, kind, customer_id, customer_name, invoice_id, invoice_number, invoice_date,
	original_afn, paid_afn, remaining_afn, exchange_rate, due_date, status, note, created_at`

func scanCreditEntry(row interface{ Scan(...any) error }) (domain.CreditEntry, error) {
	var e domain.CreditEntry
	err := row.Scan(&e.ID, &e.Seq, &e.Kind, &e.CustomerID, &e.CustomerName, &e.InvoiceID, &e.InvoiceNumber,
		&e.InvoiceDate, &e.OriginalAFN, &e.PaidAFN, &e.RemainingAFN, &e.ExchangeRate, &e.DueDate,
		&e.Status, &e.Note, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	e.InvoiceDate = e.InvoiceDate.UTC()
	e.DueDate = e.DueDate.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (s *Store) GetCreditEntry(ctx context.Context, id string) (*domain.CreditEntry, error) {
	entry, err := scanCreditEntry(s.db.QueryRowContext(ctx, `SELECT `+creditEntryColumns+` FROM credit_entries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Store) ListCreditEntries(ctx context.Context, customerID string, status string, limit int) ([]domain.CreditEntry, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+creditEntryColumns+`
		FROM credit_entries
		WHERE ($1 = '' OR customer_id = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY invoice_date, seq
		LIMIT $3
	`, customerID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CreditEntry, 0, limit)
	for rows.Next() {
		entry, err := scanCreditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// applyDebtPaymentTx persists the outcome of a debt payment inside the
// caller's transaction: the updated entry, the customer aggregate, the
// payment rows, the invoice mirror for sale credits and the cash journal.
func (s *Store) applyDebtPaymentTx(ctx context.Context, tx *sql.Tx, entry domain.CreditEntry, updated domain.CreditEntry, applied decimal.Decimal, payment domain.DebtPayment, now time.Time) (domain.DebtPayment, decimal.Decimal, error) {
	reduced := entry.RemainingAFN.Sub(updated.RemainingAFN)

	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_entries SET paid_afn = $2, remaining_afn = $3, status = $4 WHERE id = $1
	`, updated.ID, updated.PaidAFN, updated.RemainingAFN, updated.Status); err != nil {
		return payment, decimal.Zero, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE customers SET outstanding_afn = GREATEST(outstanding_afn - $2, 0) WHERE id = $1
	`, updated.CustomerID, reduced); err != nil {
		return payment, decimal.Zero, err
	}

	if payment.ID == "" {
		payment.ID = xid.New("dpy")
	}
	payment.CreditEntryID = updated.ID
	payment.CustomerID = updated.CustomerID
	payment.AmountAFN = applied
	payment.ExchangeRate = updated.ExchangeRate
	payment.CreatedAt = now
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO debt_payments (id, credit_entry_id, customer_id, amount_afn, exchange_rate, method, reference, note, received_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, payment.ID, payment.CreditEntryID, payment.CustomerID, payment.AmountAFN, payment.ExchangeRate, payment.Method, payment.Reference, payment.Note, payment.ReceivedBy, payment.CreatedAt); err != nil {
		return payment, decimal.Zero, err
	}

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
	if err := insertPaymentTx(ctx, tx, mirror); err != nil {
		return payment, decimal.Zero, err
	}

	if updated.Kind == domain.CreditKindSale && !updated.ExchangeRate.IsZero() {
		invoice, err := scanInvoice(tx.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, updated.InvoiceID))
		if err == nil {
			appliedUSD := reduced.DivRound(updated.ExchangeRate, 2)
			invoice.PaidUSD = invoice.PaidUSD.Add(appliedUSD)
			invoice.OutstandingUSD = invoice.OutstandingUSD.Sub(appliedUSD)
			if invoice.OutstandingUSD.IsNegative() || updated.RemainingAFN.IsZero() {
				invoice.OutstandingUSD = decimal.Zero
			}
			invoice.Status = domain.DeriveInvoiceStatus(invoice.OutstandingUSD, invoice.PaidUSD)
			if _, err := tx.ExecContext(ctx, `
				UPDATE invoices SET paid_usd = $2, outstanding_usd = $3, status = $4 WHERE id = $1
			`, invoice.ID, invoice.PaidUSD, invoice.OutstandingUSD, invoice.Status); err != nil {
				return payment, decimal.Zero, err
			}
		} else if !errors.Is(err, sql.ErrNoRows) {
			return payment, decimal.Zero, err
		}
	}

	balance, err := appendLedgerTx(ctx, tx, domain.LedgerDebtPayment, applied, "credit_entry", updated.ID, "debt payment on "+updated.InvoiceNumber, now)
	if err != nil {
		return payment, decimal.Zero, err
	}
	return payment, balance, nil
}

func (s *Store) RecordDebtPayment(ctx context.Context, entryID string, payment domain.DebtPayment) (*domain.DebtPaymentResponse, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	entry, err := scanCreditEntry(tx.QueryRowContext(ctx, `SELECT `+creditEntryColumns+` FROM credit_entries WHERE id = $1 FOR UPDATE`, entryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	updated, applied, err := domain.ApplyDebtPayment(entry, payment.AmountAFN, now)
	if err != nil {
		return nil, err
	}

	saved, balance, err := s.applyDebtPaymentTx(ctx, tx, entry, updated, applied, payment, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	resp := domain.DebtPaymentResponse{
		Payment:     saved,
		CreditEntry: updated,
		BalanceAFN:  balance,
	}
	return &resp, nil
}

func (s *Store) CreateLending(ctx context.Context, invoice domain.Invoice, credit domain.CreditEntry) (*domain.CreditEntry, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var customerName string
	var walkIn bool
	err = tx.QueryRowContext(ctx, `SELECT name, walk_in FROM customers WHERE id = $1 FOR UPDATE`, credit.CustomerID).Scan(&customerName, &walkIn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, credit.CustomerID)
		}
		return nil, err
	}
	if walkIn {
		return nil, store.ErrInvalidInput
	}
	if credit.OriginalAFN.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidAmount
	}

	now := time.Now().UTC()
	if invoice.ID == "" {
		invoice.ID = xid.New("inv")
	}
	invoice.Number, err = nextInvoiceNumberTx(ctx, tx, true, now)
	if err != nil {
		return nil, err
	}
	invoice.CustomerID = credit.CustomerID
	invoice.CustomerName = customerName
	invoice.Status = domain.InvoiceStatusPaid
	invoice.CreatedAt = now
	if err := insertInvoiceTx(ctx, tx, invoice); err != nil {
		return nil, err
	}

	if credit.ID == "" {
		credit.ID = xid.New("crd")
	}
	credit.Seq, err = nextSequenceTx(ctx, tx, "credit", 0)
	if err != nil {
		return nil, err
	}
	credit.Kind = domain.CreditKindLending
	credit.CustomerName = customerName
	credit.InvoiceID = invoice.ID
	credit.InvoiceNumber = invoice.Number
	credit.InvoiceDate = now
	credit.PaidAFN = decimal.Zero
	credit.RemainingAFN = credit.OriginalAFN
	credit.Status = domain.DeriveCreditStatus(credit.RemainingAFN, credit.DueDate, now)
	credit.CreatedAt = now
	if err := insertCreditEntryTx(ctx, tx, credit); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE customers SET outstanding_afn = outstanding_afn + $2 WHERE id = $1
	`, credit.CustomerID, credit.OriginalAFN); err != nil {
		return nil, err
	}
	if _, err := appendLedgerTx(ctx, tx, domain.LedgerLendingOut, credit.OriginalAFN.Neg(), "credit_entry", credit.ID, "cash lent on "+invoice.Number, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := credit
	return &created, nil
}

func (s *Store) DeleteCreditEntry(ctx context.Context, entryID string) (*domain.CreditEntry, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	entry, err := scanCreditEntry(tx.QueryRowContext(ctx, `SELECT `+creditEntryColumns+` FROM credit_entries WHERE id = $1 FOR UPDATE`, entryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE customers SET outstanding_afn = GREATEST(outstanding_afn - $2, 0) WHERE id = $1
	`, entry.CustomerID, entry.RemainingAFN); err != nil {
		return nil, err
	}

	effect := domain.ReversalCashEffect(entry)
	if !effect.IsZero() {
		if _, err := appendLedgerTx(ctx, tx, domain.LedgerReversal, effect, "credit_entry", entry.ID, "reversal of "+entry.InvoiceNumber, now); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM debt_payments WHERE credit_entry_id = $1`, entry.ID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM credit_entries WHERE id = $1`, entry.ID); err != nil {
		return nil, err
	}
	if entry.Kind == domain.CreditKindLending {
		if _, err := tx.ExecContext(ctx, `DELETE FROM payments WHERE invoice_id = $1`, entry.InvoiceID); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, entry.InvoiceID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) ApplyCustomerPayment(ctx context.Context, customerID string, payment domain.DebtPayment) (*domain.CustomerPaymentResponse, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT true FROM customers WHERE id = $1 FOR UPDATE`, customerID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+creditEntryColumns+`
		FROM credit_entries
		WHERE customer_id = $1
		ORDER BY invoice_date, seq
		FOR UPDATE
	`, customerID)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.CreditEntry, 0, 16)
	byID := make(map[string]domain.CreditEntry, 16)
	for rows.Next() {
		entry, err := scanCreditEntry(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		entries = append(entries, entry)
		byID[entry.ID] = entry
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	now := time.Now().UTC()
	updated, allocations, err := domain.AllocateCustomerPayment(entries, payment.AmountAFN, now)
	if err != nil {
		return nil, err
	}

	balance := decimal.Zero
	for _, next := range updated {
		prev := byID[next.ID]
		applied := next.PaidAFN.Sub(prev.PaidAFN)
		p := payment
		p.ID = ""
		_, balance, err = s.applyDebtPaymentTx(ctx, tx, prev, next, applied, p, now)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	resp := domain.CustomerPaymentResponse{
		Allocations: allocations,
		BalanceAFN:  balance,
	}
	return &resp, nil
}

func (s *Store) RefreshCreditStatuses(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, remaining_afn, due_date, status FROM credit_entries
	`)
	if err != nil {
		return 0, err
	}
	type entryState struct {
		id        string
		remaining decimal.Decimal
		dueDate   time.Time
		status    string
	}
	entries := make([]entryState, 0, 64)
	for rows.Next() {
		var e entryState
		if err := rows.Scan(&e.id, &e.remaining, &e.dueDate, &e.status); err != nil {
			_ = rows.Close()
			return 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	changed := 0
	for _, e := range entries {
		next := domain.DeriveCreditStatus(e.remaining, e.dueDate.UTC(), now)
		if next == e.status {
			continue
		}
		res, err := s.db.ExecContext(ctx, `
			UPDATE credit_entries SET status = $2 WHERE id = $1 AND status = $3
		`, e.id, next, e.status)
		if err != nil {
			return changed, err
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			changed++
		}
	}
	return changed, nil
}

func (s *Store) DebtSummary(ctx context.Context, now time.Time) (*domain.DebtSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_id, remaining_afn, due_date FROM credit_entries
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byStatus := map[string]*domain.DebtSummaryBucket{}
	total := decimal.Zero
	debtors := map[string]bool{}
	for rows.Next() {
		var customerID string
		var remaining decimal.Decimal
		var dueDate time.Time
		if err := rows.Scan(&customerID, &remaining, &dueDate); err != nil {
			return nil, err
		}
		status := domain.DeriveCreditStatus(remaining, dueDate.UTC(), now)
		bucket, ok := byStatus[status]
		if !ok {
			bucket = &domain.DebtSummaryBucket{Status: status}
			byStatus[status] = bucket
		}
		bucket.Count++
		bucket.TotalAFN = bucket.TotalAFN.Add(remaining)
		if remaining.GreaterThan(decimal.Zero) {
			total = total.Add(remaining)
			debtors[customerID] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
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

func (s *Store) CreateDeposit(ctx context.Context, deposit domain.CustomerDeposit) (*domain.CustomerDeposit, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var customerName string
	err = tx.QueryRowContext(ctx, `SELECT name FROM customers WHERE id = $1`, deposit.CustomerID).Scan(&customerName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, deposit.CustomerID)
		}
		return nil, err
	}
	if deposit.OriginalAFN.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidAmount
	}

	now := time.Now().UTC()
	if deposit.ID == "" {
		deposit.ID = xid.New("dep")
	}
	seq, err := nextSequenceTx(ctx, tx, "deposit", 0)
	if err != nil {
		return nil, err
	}
	deposit.Number = fmt.Sprintf("DEP-%05d", seq)
	deposit.CustomerName = customerName
	deposit.WithdrawnAFN = decimal.Zero
	deposit.Status = domain.DepositStatusActive
	deposit.CreatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deposits (id, number, customer_id, customer_name, original_afn, withdrawn_afn, status, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, deposit.ID, deposit.Number, deposit.CustomerID, deposit.CustomerName, deposit.OriginalAFN, deposit.WithdrawnAFN, deposit.Status, deposit.Note, deposit.CreatedAt)
	if err != nil {
		return nil, err
	}
	if _, err := appendLedgerTx(ctx, tx, domain.LedgerDeposit, deposit.OriginalAFN, "deposit", deposit.ID, "deposit "+deposit.Number, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := deposit
	return &created, nil
}

const depositColumns = `id, number, customer_id, customer_name, original_afn, withdrawn_afn, status, note, created_at`

func scanDeposit(row interface{ Scan(...any) error }) (domain.CustomerDeposit, error) {
	var dep domain.CustomerDeposit
	err := row.Scan(&dep.ID, &dep.Number, &dep.CustomerID, &dep.CustomerName, &dep.OriginalAFN, &dep.WithdrawnAFN, &dep.Status, &dep.Note, &dep.CreatedAt)
	if err != nil {
		return dep, err
	}
	dep.CreatedAt = dep.CreatedAt.UTC()
	return dep, nil
}

func (s *Store) GetDeposit(ctx context.Context, id string) (*domain.CustomerDeposit, error) {
	dep, err := scanDeposit(s.db.QueryRowContext(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &dep, nil
}

func (s *Store) ListDeposits(ctx context.Context, customerID string) ([]domain.CustomerDeposit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE ($1 = '' OR customer_id = $1)
		ORDER BY number DESC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deposits := make([]domain.CustomerDeposit, 0, 32)
	for rows.Next() {
		dep, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return deposits, nil
}

func (s *Store) WithdrawDeposit(ctx context.Context, depositID string, withdrawal domain.DepositWithdrawal) (*domain.CustomerDeposit, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	deposit, err := scanDeposit(tx.QueryRowContext(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1 FOR UPDATE`, depositID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	updated, err := domain.ApplyDepositWithdrawal(deposit, withdrawal.AmountAFN)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE deposits SET withdrawn_afn = $2, status = $3 WHERE id = $1
	`, depositID, updated.WithdrawnAFN, updated.Status); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if withdrawal.ID == "" {
		withdrawal.ID = xid.New("wdr")
	}
	withdrawal.DepositID = depositID
	withdrawal.CreatedAt = now
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO deposit_withdrawals (id, deposit_id, amount_afn, note, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, withdrawal.ID, withdrawal.DepositID, withdrawal.AmountAFN, withdrawal.Note, withdrawal.CreatedAt); err != nil {
		return nil, err
	}
	if _, err := appendLedgerTx(ctx, tx, domain.LedgerWithdrawal, withdrawal.AmountAFN.Neg(), "deposit", depositID, "withdrawal from "+updated.Number, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	result := updated
	return &result, nil
}

// --- cash ---

func (s *Store) CashBalance(ctx context.Context) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT balance_after FROM ledger_entries ORDER BY seq DESC LIMIT 1), 0)
	`).Scan(&balance)
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func (s *Store) ListLedger(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, type, amount_afn, balance_before, balance_after, ref_type, ref_id, description, created_at
		FROM ledger_entries
		ORDER BY seq DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, limit)
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.Seq, &e.Type, &e.AmountAFN, &e.BalanceBefore, &e.BalanceAfter, &e.RefType, &e.RefID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.AmountAFN.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidAmount
	}
	if expense.Category == "" {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	expense.CreatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO expenses (id, category, amount_afn, note, spent_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, expense.ID, expense.Category, expense.AmountAFN, expense.Note, expense.SpentBy, expense.CreatedAt)
	if err != nil {
		return nil, err
	}
	if _, err := appendLedgerTx(ctx, tx, domain.LedgerExpense, expense.AmountAFN.Neg(), "expense", expense.ID, expense.Category, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(ctx context.Context, from time.Time, to time.Time) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, amount_afn, note, spent_by, created_at
		FROM expenses
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 32)
	for rows.Next() {
		var e domain.Expense
		if err := rows.Scan(&e.ID, &e.Category, &e.AmountAFN, &e.Note, &e.SpentBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

// --- settings ---

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key string, value string) error {
	if key == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	return err
}

// --- reports ---

func (s *Store) GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	report := domain.DailyReport{Date: from.Format("2006-01-02")}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_usd),0), COALESCE(SUM(discount_usd),0)
		FROM invoices i
		WHERE i.created_at >= $1 AND i.created_at < $2
			AND NOT EXISTS (
				SELECT 1 FROM credit_entries ce
				WHERE ce.invoice_id = i.id AND ce.kind = $3
			)
	`, from, to, domain.CreditKindLending).Scan(&report.Sales, &report.GrossUSD, &report.DiscountUSD)
	if err != nil {
		return report, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_afn),0)
		FROM payments
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&report.CollectedAFN)
	if err != nil {
		return report, err
	}

	methodRows, err := s.db.QueryContext(ctx, `
		SELECT method, COUNT(*), COALESCE(SUM(amount_afn),0)
		FROM payments
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY method
		ORDER BY method
	`, from, to)
	if err != nil {
		return report, err
	}
	for methodRows.Next() {
		var row domain.DailyReportMethod
		if err := methodRows.Scan(&row.Method, &row.Count, &row.TotalAFN); err != nil {
			_ = methodRows.Close()
			return report, err
		}
		report.ByMethod = append(report.ByMethod, row)
	}
	if err := methodRows.Err(); err != nil {
		_ = methodRows.Close()
		return report, err
	}
	_ = methodRows.Close()

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(original_afn),0)
		FROM credit_entries
		WHERE kind = $3 AND created_at >= $1 AND created_at < $2
	`, from, to, domain.CreditKindSale).Scan(&report.DebtIssuedAFN)
	if err != nil {
		return report, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_afn),0)
		FROM debt_payments
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&report.DebtCollectedAFN)
	if err != nil {
		return report, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_afn),0)
		FROM expenses
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&report.ExpensesAFN)
	if err != nil {
		return report, err
	}

	report.ClosingAFN, err = s.CashBalance(ctx)
	if err != nil {
		return report, err
	}
	return report, nil
}

// --- audit ---

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// --- users ---

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s", store.ErrDuplicate, user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
