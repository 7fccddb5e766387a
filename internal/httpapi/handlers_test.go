package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"partspos/internal/cache"
	"partspos/internal/domain"
	"partspos/internal/service"
	"partspos/internal/store/memory"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_STAFF_PASSWORD", "staff123")
	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopSummaryCache{}, service.LogNotifier{}, decimal.NewFromInt(70))
	auth := NewAuthManager("test-secret-0123456789abcdef01234567", time.Hour, repo)
	return New(svc, auth, "http://127.0.0.1:3000").Handler()
}

func doRequest(t *testing.T, handler http.Handler, method, path, token, csrfToken string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrfToken != "" {
		req.Header.Set("X-CSRF-Token", csrfToken)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		Username: username,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	return resp.AccessToken
}

func fetchCSRF(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/auth/csrf-token", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token: status %d", rec.Code)
	}
	var resp struct {
		CSRFToken string `json:"csrf_token"`
	}
	decodeBody(t, rec, &resp)
	return resp.CSRFToken
}

func createCustomer(t *testing.T, handler http.Handler, token, csrfToken, name string) domain.Customer {
	t.Helper()
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/customers", token, csrfToken, domain.CustomerCreateRequest{Name: name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create customer: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Customer domain.Customer `json:"customer"`
	}
	decodeBody(t, rec, &resp)
	return resp.Customer
}

func TestHealthz(t *testing.T) {
	handler := newTestHandler(t)
	rec := doRequest(t, handler, http.MethodGet, "/healthz", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestEndpointsRequireBearerToken(t *testing.T) {
	handler := newTestHandler(t)
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/products", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/products", "not-a-jwt", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestStaffBlockedFromAdminEndpoints(t *testing.T) {
	handler := newTestHandler(t)
	staffToken := loginAs(t, handler, "staff", "staff123")
	csrfToken := fetchCSRF(t, handler)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/reports/daily", staffToken, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff on reports, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/lending", staffToken, csrfToken, domain.LendingCreateRequest{
		CustomerID: "whatever",
		AmountAFN:  decimal.NewFromInt(1000),
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff lending, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/audit-logs", staffToken, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff audit logs, got %d", rec.Code)
	}
}

func TestSaleAndDebtFlowOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	token := loginAs(t, handler, "admin", "admin123")
	csrfToken := fetchCSRF(t, handler)
	customer := createCustomer(t, handler, token, csrfToken, "Haji Karim")

	unit := decimal.NewFromInt(50)
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/sales", token, csrfToken, domain.SaleCreateRequest{
		CustomerID: customer.ID,
		Items: []domain.SaleItemInput{
			{SKU: "PRT-BRK-PAD01", Quantity: 2, UnitPriceUSD: &unit},
		},
		PaidUSD: decimal.NewFromInt(60),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: status %d body %s", rec.Code, rec.Body.String())
	}
	var sale domain.SaleResponse
	decodeBody(t, rec, &sale)
	if sale.CreditEntry == nil {
		t.Fatalf("expected credit entry in sale response")
	}
	if !sale.CreditEntry.OriginalAFN.Equal(decimal.NewFromInt(2800)) {
		t.Fatalf("expected 2800 AFN credit, got %s", sale.CreditEntry.OriginalAFN)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/debts?customer_id="+customer.ID, token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list debts: status %d", rec.Code)
	}
	var debtList struct {
		Debts []domain.CreditEntry `json:"debts"`
	}
	decodeBody(t, rec, &debtList)
	if len(debtList.Debts) != 1 {
		t.Fatalf("expected 1 open debt, got %d", len(debtList.Debts))
	}

	amount := decimal.NewFromInt(2800)
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/debts/"+sale.CreditEntry.ID+"/payments", token, csrfToken, domain.DebtPaymentRequest{
		AmountAFN: &amount,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("debt payment: status %d body %s", rec.Code, rec.Body.String())
	}
	var paymentResp domain.DebtPaymentResponse
	decodeBody(t, rec, &paymentResp)
	if paymentResp.CreditEntry.Status != domain.CreditStatusSettled {
		t.Fatalf("expected SETTLED, got %s", paymentResp.CreditEntry.Status)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/cash/balance", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cash balance: status %d", rec.Code)
	}
	var balance domain.CashBalanceResponse
	decodeBody(t, rec, &balance)
	if !balance.BalanceAFN.Equal(decimal.NewFromInt(7000)) {
		t.Fatalf("expected 7000 AFN, got %s", balance.BalanceAFN)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/debts/summary", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("debt summary: status %d", rec.Code)
	}
}

func TestDeleteSaleDemandsStepUpPassword(t *testing.T) {
	handler := newTestHandler(t)
	token := loginAs(t, handler, "admin", "admin123")
	csrfToken := fetchCSRF(t, handler)
	customer := createCustomer(t, handler, token, csrfToken, "Voided Customer")

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/sales", token, csrfToken, domain.SaleCreateRequest{
		CustomerID: customer.ID,
		Items:      []domain.SaleItemInput{{SKU: "PRT-OIL-5W30", Quantity: 1}},
		PaidUSD:    decimal.NewFromInt(24),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: status %d body %s", rec.Code, rec.Body.String())
	}
	var sale domain.SaleResponse
	decodeBody(t, rec, &sale)

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/sales/"+sale.Invoice.ID+"/delete", token, csrfToken, domain.DeleteRequest{
		Password: "wrong-password",
		Reason:   "test",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on wrong step-up password, got %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/sales/"+sale.Invoice.ID+"/delete", token, csrfToken, domain.DeleteRequest{
		Password: "admin123",
		Reason:   "entered twice",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected delete to pass with valid password, got %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/sales/"+sale.Invoice.ID, token, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected deleted sale lookup to 404, got %d", rec.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	handler := newTestHandler(t)
	token := loginAs(t, handler, "admin", "admin123")
	csrfToken := fetchCSRF(t, handler)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/products/NO-SUCH-SKU", token, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing product, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/sales", token, csrfToken, domain.SaleCreateRequest{
		Items: []domain.SaleItemInput{{SKU: "PRT-CLT-KIT01", Quantity: 9999}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for insufficient stock, got %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodDelete, "/api/v1/products", token, "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestDailyReportFormats(t *testing.T) {
	handler := newTestHandler(t)
	token := loginAs(t, handler, "admin", "admin123")

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/reports/daily?format=csv", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csv report: status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("expected text/csv, got %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "summary,closing_afn") {
		t.Fatalf("expected closing balance row in CSV, got %q", rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/reports/daily?format=pdf", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("printable report: status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected text/html, got %s", ct)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/reports/daily", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("json report: status %d", rec.Code)
	}
	var report domain.DailyReport
	decodeBody(t, rec, &report)
	if report.Date == "" {
		t.Fatalf("expected a dated report, got %+v", report)
	}
}
