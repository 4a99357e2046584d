package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

func (a *API) mountInventory(r chi.Router) {
	editors := a.allow(domain.RoleAdmin, domain.RoleManager)

	r.Route("/products", func(r chi.Router) {
		r.Get("/", a.handleListProducts)
		r.Get("/search", a.handleSearchProducts)
		r.With(editors).Get("/summary", a.handleInventorySummary)
		r.With(editors).Post("/", a.handleCreateProduct)

		r.Route("/{productID}", func(r chi.Router) {
			r.Get("/", a.handleGetProduct)
			r.Get("/price-history", a.handlePriceHistory)
			r.With(editors).Patch("/", a.handleUpdateProduct)
			r.With(editors).Delete("/", a.handleDeactivateProduct)
			r.With(editors).Put("/stock", a.handleSetStock)
			r.With(editors).Put("/price", a.handleUpdatePrice)
		})
	})
	r.With(editors).Post("/prices/bulk", a.handleBulkPrices)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeInactive, _ := strconv.ParseBool(q.Get("include_inactive"))
	products, err := a.service.ListProducts(r.Context(), store.ProductFilter{
		IncludeInactive: includeInactive,
		Category:        q.Get("category"),
		Query:           q.Get("q"),
		Skip:            parseSkip(q.Get("skip")),
		Limit:           parsePositiveLimit(q.Get("limit"), 100, 500),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleSearchProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	products, err := a.service.SearchProducts(r.Context(), q.Get("q"), parsePositiveLimit(q.Get("limit"), 20, 100))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleInventorySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.InventorySummary(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "productID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleDeactivateProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.DeactivateProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleSetStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	product, err := a.service.SetStock(r.Context(), chi.URLParam(r, "productID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req domain.PriceUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	product, err := a.service.UpdatePrice(r.Context(), chi.URLParam(r, "productID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
	history, err := a.service.ListPriceHistory(r.Context(), chi.URLParam(r, "productID"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (a *API) handleBulkPrices(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkPriceRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.service.BulkUpdatePrices(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
