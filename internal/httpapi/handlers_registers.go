package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"posledger/backend/internal/domain"
)

func (a *API) mountRegisters(r chi.Router) {
	supervisors := a.allow(domain.RoleAdmin, domain.RoleManager)

	r.Route("/cash-registers", func(r chi.Router) {
		r.Post("/open", a.handleOpenRegister)
		r.Get("/current", a.handleCurrentRegister)
		r.With(supervisors).Get("/", a.handleListRegisters)
		r.With(supervisors).Get("/daily", a.handleDailySales)

		r.Route("/{registerID}", func(r chi.Router) {
			r.Get("/", a.handleGetRegister)
			r.Post("/close", a.handleCloseRegister)
			r.Get("/summary", a.handleRegisterSummary)
			r.With(supervisors).Get("/reconciliation", a.handleReconcileRegister)
			r.Get("/withdrawals", a.handleRegisterWithdrawals)
			r.Post("/withdrawals", a.handleCreateWithdrawal)
			r.Get("/withdrawals/summary", a.handleWithdrawalSummary)
		})
	})

	r.Route("/withdrawals", func(r chi.Router) {
		r.Post("/", a.handleCreateWithdrawal)
		r.Get("/mine", a.handleMyWithdrawals)
		r.Get("/limit-check", a.handleCheckLimit)
		r.With(supervisors).Get("/daily", a.handleDailyWithdrawals)
		r.Get("/{withdrawalID}", a.handleGetWithdrawal)
		r.With(supervisors).Post("/{withdrawalID}/cancel", a.handleCancelWithdrawal)
	})
}

func (a *API) handleOpenRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.OpenRegisterRequest
	if !a.decode(w, r, &req) {
		return
	}
	register, err := a.service.OpenRegister(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cash_register": register})
}

func (a *API) handleCurrentRegister(w http.ResponseWriter, r *http.Request) {
	register, err := a.service.CurrentRegister(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cash_register": register})
}

func (a *API) handleListRegisters(w http.ResponseWriter, r *http.Request) {
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
	registers, err := a.service.ListRegisters(r.Context(), domain.RegisterFilter{
		Status: q.Get("status"),
		UserID: q.Get("user_id"),
		From:   from,
		To:     to,
		Skip:   parseSkip(q.Get("skip")),
		Limit:  parsePositiveLimit(q.Get("limit"), 100, 100),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cash_registers": registers})
}

func (a *API) handleDailySales(w http.ResponseWriter, r *http.Request) {
	date, err := dayParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	report, err := a.service.DailySales(r.Context(), date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleGetRegister(w http.ResponseWriter, r *http.Request) {
	register, err := a.service.GetRegister(r.Context(), chi.URLParam(r, "registerID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cash_register": register})
}

func (a *API) handleCloseRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.CloseRegisterRequest
	if !a.decode(w, r, &req) {
		return
	}
	register, err := a.service.CloseRegister(r.Context(), chi.URLParam(r, "registerID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cash_register": register})
}

func (a *API) handleRegisterSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.RegisterSummary(r.Context(), chi.URLParam(r, "registerID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleReconcileRegister(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.ReconcileRegister(r.Context(), chi.URLParam(r, "registerID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRegisterWithdrawals(w http.ResponseWriter, r *http.Request) {
	withdrawals, err := a.service.ListRegisterWithdrawals(r.Context(), chi.URLParam(r, "registerID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": withdrawals})
}

// handleCreateWithdrawal serves both routes; without a register in the path
// the actor's open register is used.
func (a *API) handleCreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateWithdrawalRequest
	if !a.decode(w, r, &req) {
		return
	}
	withdrawal, err := a.service.CreateWithdrawal(r.Context(), chi.URLParam(r, "registerID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"withdrawal": withdrawal})
}

func (a *API) handleWithdrawalSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.WithdrawalSummary(r.Context(), chi.URLParam(r, "registerID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleMyWithdrawals(w http.ResponseWriter, r *http.Request) {
	withdrawals, err := a.service.ListMyWithdrawals(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": withdrawals})
}

func (a *API) handleCheckLimit(w http.ResponseWriter, r *http.Request) {
	status, err := a.service.CheckLimit(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleDailyWithdrawals(w http.ResponseWriter, r *http.Request) {
	date, err := dayParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	withdrawals, err := a.service.ListDayWithdrawals(r.Context(), date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":        date.Format(time.DateOnly),
		"withdrawals": withdrawals,
	})
}

func (a *API) handleGetWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawal, err := a.service.GetWithdrawal(r.Context(), chi.URLParam(r, "withdrawalID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawal": withdrawal})
}

func (a *API) handleCancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawal, err := a.service.CancelWithdrawal(r.Context(), chi.URLParam(r, "withdrawalID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawal": withdrawal})
}

// dayParam reads ?date=YYYY-MM-DD, defaulting to today in UTC.
func dayParam(r *http.Request) (time.Time, error) {
	d, err := parseDateParam(r.URL.Query().Get("date"), false)
	if err != nil {
		return time.Time{}, err
	}
	if d == nil {
		return time.Now().UTC(), nil
	}
	return d.UTC(), nil
}
