package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"posledger/backend/internal/domain"
)

func (a *API) mountSales(r chi.Router) {
	r.Route("/carts", func(r chi.Router) {
		r.Post("/", a.handleCreateCart)
		r.Route("/{cartID}", func(r chi.Router) {
			r.Get("/", a.handleGetCart)
			r.Patch("/status", a.handleCartStatus)
			r.Post("/items", a.handleAddCartItem)
			r.Delete("/items", a.handleClearCart)
			r.Patch("/items/{itemID}", a.handleUpdateCartItem)
			r.Delete("/items/{itemID}", a.handleRemoveCartItem)
		})
	})

	r.Route("/tickets", func(r chi.Router) {
		r.Post("/", a.handleCreateTicket)
		r.Get("/", a.handleListTickets)
		r.Get("/number/{number}", a.handleGetTicketByNumber)
		r.Get("/{ticketID}", a.handleGetTicket)
		r.With(a.allow(domain.RoleAdmin)).Post("/{ticketID}/cancel", a.handleCancelTicket)
	})
}

func (a *API) handleCreateCart(w http.ResponseWriter, r *http.Request) {
	cart, err := a.service.CreateCart(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cart": cart})
}

func (a *API) handleGetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := a.service.GetCart(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (a *API) handleCartStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.CartStatusRequest
	if !a.decode(w, r, &req) {
		return
	}
	cart, err := a.service.ChangeCartStatus(r.Context(), chi.URLParam(r, "cartID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (a *API) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	var req domain.AddCartItemRequest
	if !a.decode(w, r, &req) {
		return
	}
	cart, err := a.service.AddItem(r.Context(), chi.URLParam(r, "cartID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (a *API) handleUpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateCartItemRequest
	if !a.decode(w, r, &req) {
		return
	}
	cart, err := a.service.UpdateItemQuantity(r.Context(), chi.URLParam(r, "cartID"), chi.URLParam(r, "itemID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (a *API) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	cart, err := a.service.RemoveItem(r.Context(), chi.URLParam(r, "cartID"), chi.URLParam(r, "itemID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (a *API) handleClearCart(w http.ResponseWriter, r *http.Request) {
	cart, err := a.service.ClearCart(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (a *API) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTicketRequest
	if !a.decode(w, r, &req) {
		return
	}
	ticket, err := a.service.CreateTicket(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ticket": ticket})
}

func (a *API) handleListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDateParam(q.Get("from"), false)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	to, err := parseDateParam(q.Get("to"), true)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	tickets, err := a.service.ListTickets(r.Context(), domain.TicketFilter{
		Status: q.Get("status"),
		From:   from,
		To:     to,
		Skip:   parseSkip(q.Get("skip")),
		Limit:  parsePositiveLimit(q.Get("limit"), 100, 100),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (a *API) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := a.service.GetTicket(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket": ticket})
}

func (a *API) handleGetTicketByNumber(w http.ResponseWriter, r *http.Request) {
	ticket, err := a.service.GetTicketByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket": ticket})
}

func (a *API) handleCancelTicket(w http.ResponseWriter, r *http.Request) {
	var req domain.CancelTicketRequest
	if !a.decode(w, r, &req) {
		return
	}
	ticket, err := a.service.CancelTicket(r.Context(), chi.URLParam(r, "ticketID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket": ticket})
}
