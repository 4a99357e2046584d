package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

func (a *API) mountDashboard(r chi.Router) {
	r.Route("/dashboard", func(r chi.Router) {
		r.Use(a.allow(domain.RoleAdmin, domain.RoleManager))
		r.Get("/summary", a.handleDashboardSummary)
		r.Get("/sales/by-month", a.handleSalesByMonth)
		r.Get("/sales/by-category", a.handleSalesByCategory)
		r.Get("/sales/by-hour", a.handleSalesByHour)
		r.Get("/products/top-selling", a.handleTopProducts)
		r.Get("/cashiers/performance", a.handleCashierPerformance)
	})
}

// intParam returns 0 for an absent value so the service applies its default.
func intParam(raw string, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, store.Validation("%s must be a positive integer", name)
	}
	return n, nil
}

func (a *API) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.DashboardSummary(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleSalesByMonth(w http.ResponseWriter, r *http.Request) {
	months, err := intParam(r.URL.Query().Get("months"), "months")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	report, err := a.service.SalesByMonth(r.Context(), months)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleSalesByCategory(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.SalesByCategory(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleSalesByHour(w http.ResponseWriter, r *http.Request) {
	date, err := dayParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	report, err := a.service.SalesByHour(r.Context(), date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleTopProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	report, err := a.service.TopProducts(r.Context(), q.Get("period"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleCashierPerformance(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.CashierPerformance(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
