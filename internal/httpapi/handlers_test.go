package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posledger/backend/internal/service"
	"posledger/backend/internal/store/memory"
)

const (
	adminPassword   = "admin-pass-1"
	managerPassword = "manager-pass-1"
	cashierPassword = "cashier-pass-1"
)

// newTestHandler builds the full router over a seeded in-memory store, with
// a real AuthManager and Service so requests take the complete path.
func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", adminPassword)
	t.Setenv("SEED_MANAGER_PASSWORD", managerPassword)
	t.Setenv("SEED_CASHIER_PASSWORD", cashierPassword)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memory.NewSeeded()
	svc := service.New(repo, nil, service.Options{Logger: logger})
	auth := NewAuthManager("test-secret-key-that-is-long-enough!", time.Hour, repo)
	return New(svc, auth, "*", logger).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			payload, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(payload)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:4000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body), "body: %s", rec.Body.String())
	return body
}

func login(t *testing.T, h http.Handler, username, password string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := decodeBody(t, rec)["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func field(t *testing.T, body map[string]any, path ...string) any {
	t.Helper()
	var cur any = body
	for _, key := range path {
		m, ok := cur.(map[string]any)
		require.Truef(t, ok, "expected object at %q", key)
		cur = m[key]
	}
	return cur
}

func TestHandleHealth(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])
}

func TestLoginRejectsBadPassword(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodGet, "/api/v1/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/products", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRolePolicy(t *testing.T) {
	h := newTestHandler(t)
	cashier := login(t, h, "cashier", cashierPassword)
	manager := login(t, h, "manager", managerPassword)

	product := map[string]any{"code": "NEW-1", "name": "New", "category": "misc", "unit": "unit", "price": "5.00", "stock": "3", "min_stock": "1"}
	rec := doJSON(t, h, http.MethodPost, "/api/v1/products", cashier, product)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/products", manager, product)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/api/v1/users", manager, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/v1/cash-registers/daily", cashier, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/tickets/tkt-x/cancel", manager, map[string]string{"reason": "testing"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSaleFlowOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	admin := login(t, h, "admin", adminPassword)
	cashier := login(t, h, "cashier", cashierPassword)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/products", admin, map[string]any{
		"code": "SALE-1", "barcode": "999000111", "name": "Sale Item", "category": "misc",
		"unit": "unit", "price": "10.00", "stock": "5", "min_stock": "1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/v1/cash-registers/open", cashier, map[string]any{"initial_cash": "1000.00"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	registerID := field(t, decodeBody(t, rec), "cash_register", "id").(string)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/carts", cashier, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cartID := field(t, decodeBody(t, rec), "cart", "id").(string)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/carts/"+cartID+"/items", cashier, map[string]any{"barcode": "999000111", "quantity": "2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "20", field(t, decodeBody(t, rec), "cart", "total"))

	rec = doJSON(t, h, http.MethodPost, "/api/v1/tickets", cashier, map[string]any{
		"cart_id": cartID, "payment_method": "cash", "amount_paid": "50.00", "cash_register_id": registerID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	ticketID := field(t, body, "ticket", "id").(string)
	assert.Equal(t, "30", field(t, body, "ticket", "change_given"))

	rec = doJSON(t, h, http.MethodGet, "/api/v1/cash-registers/"+registerID, cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "20", field(t, body, "cash_register", "total_cash"))
	assert.EqualValues(t, 1, field(t, body, "cash_register", "num_transactions"))

	rec = doJSON(t, h, http.MethodPost, "/api/v1/tickets/"+ticketID+"/cancel", admin, map[string]string{"reason": "bad"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/tickets/"+ticketID+"/cancel", admin, map[string]string{"reason": "customer changed mind"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", field(t, decodeBody(t, rec), "ticket", "status"))

	rec = doJSON(t, h, http.MethodPost, "/api/v1/tickets/"+ticketID+"/cancel", admin, map[string]string{"reason": "customer changed mind"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_operation", decodeBody(t, rec)["kind"])
}

func TestErrorKindsMapToStatus(t *testing.T) {
	h := newTestHandler(t)
	admin := login(t, h, "admin", adminPassword)
	cashier := login(t, h, "cashier", cashierPassword)
	manager := login(t, h, "manager", managerPassword)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/products/prd-missing", cashier, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["kind"])

	rec = doJSON(t, h, http.MethodPost, "/api/v1/users", admin, map[string]string{"username": "cashier", "password": "secret1", "role": "cashier"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/cash-registers/open", cashier, map[string]any{"initial_cash": "100.00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	registerID := field(t, decodeBody(t, rec), "cash_register", "id").(string)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/cash-registers/"+registerID+"/close", manager, map[string]any{"final_cash": "100.00"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized", decodeBody(t, rec)["kind"])

	rec = doJSON(t, h, http.MethodPost, "/api/v1/withdrawals", cashier, map[string]any{"amount": "500.00", "reason": "deposit"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/withdrawals/limit-check", cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestInsufficientStockBodyCarriesShortage(t *testing.T) {
	h := newTestHandler(t)
	admin := login(t, h, "admin", adminPassword)
	cashier := login(t, h, "cashier", cashierPassword)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/products", admin, map[string]any{
		"code": "LOW-1", "name": "Scarce", "category": "misc", "unit": "unit", "price": "1.00", "stock": "1", "min_stock": "0",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	productID := field(t, decodeBody(t, rec), "product", "id").(string)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/carts", cashier, nil)
	cartID := field(t, decodeBody(t, rec), "cart", "id").(string)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/carts/"+cartID+"/items", cashier, map[string]any{"product_id": productID, "quantity": "2"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "insufficient_stock", body["kind"])
	assert.Equal(t, "Scarce", field(t, body, "shortage", "product_name"))
}

func TestCartStatusEndpointOnlyCancelsOpenCarts(t *testing.T) {
	h := newTestHandler(t)
	admin := login(t, h, "admin", adminPassword)
	cashier := login(t, h, "cashier", cashierPassword)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/products", admin, map[string]any{
		"code": "ONCE-1", "name": "Once", "category": "misc", "unit": "unit", "price": "4.00", "stock": "5", "min_stock": "0",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	productID := field(t, decodeBody(t, rec), "product", "id").(string)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/carts", cashier, nil)
	cartID := field(t, decodeBody(t, rec), "cart", "id").(string)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/carts/"+cartID+"/items", cashier, map[string]any{"product_id": productID, "quantity": "2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPatch, "/api/v1/carts/"+cartID+"/status", cashier, map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decodeBody(t, rec)["kind"])

	rec = doJSON(t, h, http.MethodPost, "/api/v1/tickets", cashier, map[string]any{"cart_id": cartID, "payment_method": "card"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPatch, "/api/v1/carts/"+cartID+"/status", cashier, map[string]string{"status": "open"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(t, h, http.MethodPatch, "/api/v1/carts/"+cartID+"/status", cashier, map[string]string{"status": "cancelled"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_operation", decodeBody(t, rec)["kind"])

	rec = doJSON(t, h, http.MethodPost, "/api/v1/tickets", cashier, map[string]any{"cart_id": cartID, "payment_method": "card"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/products/"+productID, cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", field(t, decodeBody(t, rec), "product", "stock"))
}

func TestDashboardRoutes(t *testing.T) {
	h := newTestHandler(t)
	admin := login(t, h, "admin", adminPassword)
	manager := login(t, h, "manager", managerPassword)
	cashier := login(t, h, "cashier", cashierPassword)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/products", admin, map[string]any{
		"code": "DASH-1", "name": "Dash", "category": "misc", "unit": "unit", "price": "7.50", "stock": "10", "min_stock": "1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	productID := field(t, decodeBody(t, rec), "product", "id").(string)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/carts", cashier, nil)
	cartID := field(t, decodeBody(t, rec), "cart", "id").(string)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/carts/"+cartID+"/items", cashier, map[string]any{"product_id": productID, "quantity": "2"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/tickets", cashier, map[string]any{"cart_id": cartID, "payment_method": "card"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	for _, path := range []string{
		"/api/v1/dashboard/summary",
		"/api/v1/dashboard/sales/by-month",
		"/api/v1/dashboard/sales/by-category",
		"/api/v1/dashboard/sales/by-hour",
		"/api/v1/dashboard/products/top-selling",
		"/api/v1/dashboard/cashiers/performance",
	} {
		rec = doJSON(t, h, http.MethodGet, path, cashier, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
		rec = doJSON(t, h, http.MethodGet, path, manager, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/dashboard/summary?period=today", manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "15", field(t, body, "sales", "total"))
	assert.EqualValues(t, 1, field(t, body, "transactions", "total"))

	rec = doJSON(t, h, http.MethodGet, "/api/v1/dashboard/products/top-selling?period=week&limit=5", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	products := decodeBody(t, rec)["products"].([]any)
	require.Len(t, products, 1)
	assert.Equal(t, "Dash", products[0].(map[string]any)["name"])

	rec = doJSON(t, h, http.MethodGet, "/api/v1/dashboard/sales/by-hour", manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["hourly_distribution"], 24)

	for _, path := range []string{
		"/api/v1/dashboard/summary?period=quarter",
		"/api/v1/dashboard/sales/by-month?months=abc",
		"/api/v1/dashboard/sales/by-month?months=25",
		"/api/v1/dashboard/products/top-selling?limit=51",
		"/api/v1/dashboard/sales/by-hour?date=yesterday",
	} {
		rec = doJSON(t, h, http.MethodGet, path, manager, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "validation", decodeBody(t, rec)["kind"], path)
	}
}
