package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posledger/backend/internal/store"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	h := newTestHandler(t)
	res := doJSON(t, h, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", res.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, res.Header().Get("Referrer-Policy"))
	assert.NotEmpty(t, res.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "*", res.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightShortCircuits(t *testing.T) {
	h := newTestHandler(t)
	res := doJSON(t, h, http.MethodOptions, "/api/v1/products", "", nil)
	assert.Equal(t, http.StatusNoContent, res.Code)
	assert.Contains(t, res.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestLoginRateLimitReturns429(t *testing.T) {
	h := newTestHandler(t)
	body := map[string]string{"username": "admin", "password": "wrong-pass"}

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"admin","password":"wrong-pass"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		h.ServeHTTP(res, req)

		if i < 5 {
			require.Equal(t, http.StatusUnauthorized, res.Code, "attempt %d before limit", i+1)
		} else {
			require.Equal(t, http.StatusTooManyRequests, res.Code, "attempt %d", i+1)
		}
	}

	// Other clients keep their own budget.
	res := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", body)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	h := newTestHandler(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	res := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", body)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestUnknownFieldsRejected(t *testing.T) {
	h := newTestHandler(t)
	res := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", `{"username":"admin","password":"x","pin":"1234"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestValidationTagsReportJSONNames(t *testing.T) {
	h := newTestHandler(t)
	cashier := login(t, h, "cashier", cashierPassword)

	res := doJSON(t, h, http.MethodPost, "/api/v1/cash-registers/open", cashier, map[string]any{"initial_cash": "-1"})
	require.Equal(t, http.StatusBadRequest, res.Code)
	body := decodeBody(t, res)
	assert.Equal(t, "validation", body["kind"])
	assert.Contains(t, body["error"], "initial_cash")
}

func TestInternalErrorsAreMasked(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusInternalServerError, errors.New("pq: connection refused at 10.0.0.3"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.3")
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestStatusForKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{store.NotFound("x"), http.StatusNotFound},
		{store.Duplicate("x"), http.StatusConflict},
		{store.Validation("x"), http.StatusBadRequest},
		{store.InvalidOperation("x"), http.StatusBadRequest},
		{store.Unauthorized("x"), http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", store.ErrNotFound), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	assert.Equal(t, 200, parsePositiveLimit("9999", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("invalid", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("-3", 50, 200))
}

func TestParseDateParam(t *testing.T) {
	from, err := parseDateParam("2026-03-09", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), *from)

	to, err := parseDateParam("2026-03-09", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), *to)

	none, err := parseDateParam("", true)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = parseDateParam("09/03/2026", false)
	assert.Equal(t, store.KindValidation, store.KindOf(err))
}
