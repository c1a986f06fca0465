package api

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/quota"
	"github.com/mtlprog/quota/internal/valuation"
)

type quoteRequest struct {
	Direction string          `json:"direction" validate:"required,direction"`
	Amount    decimal.Decimal `json:"amount" validate:"positive_decimal"`
}

// QuoteMovement handles POST /api/v1/funds/{id}/quote.
func (h *Handler) QuoteMovement(w http.ResponseWriter, r *http.Request) {
	f, ok := h.loadFund(w, r)
	if !ok {
		return
	}
	var req quoteRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dir, _ := domain.ParseDirection(req.Direction)

	q, err := h.engine.QuoteMovement(r.Context(), f.ID, req.Amount, dir)
	if err != nil {
		h.writeServiceError(w, err, "quote movement")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type movementRequest struct {
	ClientID      int64           `json:"clientId" validate:"required,gt=0"`
	Direction     string          `json:"direction" validate:"required,direction"`
	Amount        decimal.Decimal `json:"amount" validate:"positive_decimal"`
	EffectiveDate string          `json:"effectiveDate" validate:"omitempty,datetime=2006-01-02"`
	Note          string          `json:"note" validate:"max=500"`
	// Force skips the check that today's AUM has been recorded.
	Force bool `json:"force"`
}

// RegisterMovement handles POST /api/v1/funds/{id}/movements. Movements are refused while
// the fund has no valuation for today, unless forced.
func (h *Handler) RegisterMovement(w http.ResponseWriter, r *http.Request) {
	f, ok := h.loadFund(w, r)
	if !ok {
		return
	}
	var req movementRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !req.Force {
		current, err := h.valuation.IsAUMCurrentForToday(r.Context(), f.ID)
		if err != nil {
			h.writeServiceError(w, err, "staleness check")
			return
		}
		if !current {
			writeError(w, http.StatusConflict, "AUM not updated today; refresh the valuation first")
			return
		}
	}

	dir, _ := domain.ParseDirection(req.Direction)
	m, err := h.engine.RegisterMovement(r.Context(), quota.MovementRequest{
		FundID:        f.ID,
		ClientID:      req.ClientID,
		Direction:     dir,
		Cash:          req.Amount,
		EffectiveDate: parseDate(req.EffectiveDate),
		Note:          req.Note,
	})
	if err != nil {
		h.writeServiceError(w, err, "register movement")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type reverseRequest struct {
	Note string `json:"note" validate:"max=500"`
}

// ReverseMovement handles POST /api/v1/movements/{id}/reverse.
func (h *Handler) ReverseMovement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req reverseRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.engine.ReverseMovement(r.Context(), id, req.Note)
	if err != nil {
		h.writeServiceError(w, err, "reverse movement")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type refreshRequest struct {
	Date     string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Expenses decimal.Decimal `json:"expenses" validate:"nonnegative_decimal"`
	// Historical asks the provider for the valuation at Date before the current one.
	Historical bool `json:"historical"`
}

// RefreshAUM handles POST /api/v1/funds/{id}/refresh.
func (h *Handler) RefreshAUM(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req refreshRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.valuation.RefreshFundAUM(r.Context(), valuation.RefreshRequest{
		FundID:         id,
		AsOf:           parseDate(req.Date),
		ManualExpenses: req.Expenses,
		PreferCurrent:  !req.Historical,
		Kind:           domain.KindManualUpdate,
	})
	if err != nil {
		h.writeServiceError(w, err, "refresh AUM")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type manualAUMRequest struct {
	Date     string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	TotalAUM decimal.Decimal `json:"totalAum" validate:"positive_decimal"`
	Expenses decimal.Decimal `json:"expenses" validate:"nonnegative_decimal"`
}

// RecordManualAUM handles POST /api/v1/funds/{id}/aum.
func (h *Handler) RecordManualAUM(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req manualAUMRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.valuation.RecordManualAUM(r.Context(), valuation.ManualAUMRequest{
		FundID:         id,
		Date:           parseDate(req.Date),
		TotalAUM:       req.TotalAUM,
		ManualExpenses: req.Expenses,
	})
	if err != nil {
		h.writeServiceError(w, err, "record manual AUM")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// parseDate parses a validated YYYY-MM-DD value; empty yields the zero time.
func parseDate(s string) time.Time {
	t, _ := time.Parse(domain.DateLayout, s)
	return t
}
