package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/automation"
	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/fund"
	"github.com/mtlprog/quota/internal/ledger"
	"github.com/mtlprog/quota/internal/quota"
	"github.com/mtlprog/quota/internal/valuation"
)

// Handler provides HTTP endpoints for the fund API.
type Handler struct {
	funds     *fund.Service
	engine    *quota.Engine
	valuation *valuation.Service
	gate      *automation.Gate
	validate  *validator.Validate
	now       func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(funds *fund.Service, engine *quota.Engine, val *valuation.Service, gate *automation.Gate) *Handler {
	return &Handler{
		funds:     funds,
		engine:    engine,
		valuation: val,
		gate:      gate,
		validate:  newValidator(),
		now:       time.Now,
	}
}

// ListFunds handles GET /api/v1/funds. ?all=true includes deactivated funds.
func (h *Handler) ListFunds(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	funds, err := h.funds.ListFunds(r.Context(), !all)
	if err != nil {
		h.writeServiceError(w, err, "list funds")
		return
	}
	if funds == nil {
		funds = []domain.Fund{}
	}
	writeJSON(w, http.StatusOK, funds)
}

// GetFund handles GET /api/v1/funds/{id}.
func (h *Handler) GetFund(w http.ResponseWriter, r *http.Request) {
	f, ok := h.loadFund(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// GetLatestSnapshot handles GET /api/v1/funds/{id}/snapshots/latest.
func (h *Handler) GetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	f, ok := h.loadFund(w, r)
	if !ok {
		return
	}
	s, err := h.valuation.LatestSnapshot(r.Context(), f.ID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no snapshots found")
			return
		}
		h.writeServiceError(w, err, "get latest snapshot")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ListSnapshots handles GET /api/v1/funds/{id}/snapshots?days=&limit=.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	f, ok := h.loadFund(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 30, 365)
	days := queryInt(r, "days", 0, 3650)

	snaps, err := h.valuation.ListSnapshots(r.Context(), f.ID, days, limit)
	if err != nil {
		h.writeServiceError(w, err, "list snapshots")
		return
	}
	if snaps == nil {
		snaps = []domain.AumSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// ListLogs handles GET /api/v1/funds/{id}/logs?limit=.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	f, ok := h.loadFund(w, r)
	if !ok {
		return
	}
	logs, err := h.valuation.ListOperationLogs(r.Context(), f.ID, queryInt(r, "limit", 50, 500))
	if err != nil {
		h.writeServiceError(w, err, "list operation logs")
		return
	}
	if logs == nil {
		logs = []domain.OperationLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

type quotasResponse struct {
	FundID            int64           `json:"fundId"`
	CirculatingQuotas decimal.Decimal `json:"circulatingQuotas"`
	QuotaPrice        decimal.Decimal `json:"quotaPrice"`
	NetAssets         decimal.Decimal `json:"netAssets"`
}

// GetQuotas handles GET /api/v1/funds/{id}/quotas.
func (h *Handler) GetQuotas(w http.ResponseWriter, r *http.Request) {
	f, ok := h.loadFund(w, r)
	if !ok {
		return
	}
	circulating, err := h.engine.CirculatingQuotas(r.Context(), f.ID)
	if err != nil {
		h.writeServiceError(w, err, "circulating quotas")
		return
	}
	price, err := h.engine.CurrentPrice(r.Context(), f.ID)
	if err != nil {
		h.writeServiceError(w, err, "current price")
		return
	}
	writeJSON(w, http.StatusOK, quotasResponse{
		FundID:            f.ID,
		CirculatingQuotas: circulating,
		QuotaPrice:        price,
		NetAssets:         circulating.Mul(price).Round(2),
	})
}

// GetPerformance handles GET /api/v1/funds/{id}/performance.
func (h *Handler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	f, ok := h.loadFund(w, r)
	if !ok {
		return
	}
	perf, err := h.funds.Performance(r.Context(), f.ID)
	if err != nil {
		h.writeServiceError(w, err, "performance")
		return
	}
	writeJSON(w, http.StatusOK, perf)
}

type automationStatus struct {
	automation.Decision
	IntervalHours int        `json:"intervalHours"`
	LastRun       string     `json:"lastRun"`
	NextRun       *time.Time `json:"nextRun,omitempty"`
}

type statusResponse struct {
	FundID             int64                `json:"fundId"`
	Today              string               `json:"today"`
	AUMCurrentForToday bool                 `json:"aumCurrentForToday"`
	Automation         automationStatus     `json:"automation"`
	LatestLog          *domain.OperationLog `json:"latestLog,omitempty"`
}

// GetStatus handles GET /api/v1/funds/{id}/status: staleness, automation and the last log.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	f, ok := h.loadFund(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	now := h.now()

	current, err := h.valuation.IsAUMCurrentForToday(ctx, f.ID)
	if err != nil {
		h.writeServiceError(w, err, "staleness check")
		return
	}
	decision, err := h.gate.ShouldAutoRefresh(ctx, f.ID, now)
	if err != nil {
		h.writeServiceError(w, err, "automation check")
		return
	}
	cfg, err := h.gate.Config(ctx, f.ID)
	if err != nil {
		h.writeServiceError(w, err, "automation config")
		return
	}

	resp := statusResponse{
		FundID:             f.ID,
		Today:              h.valuation.Today().Format(domain.DateLayout),
		AUMCurrentForToday: current,
		Automation: automationStatus{
			Decision:      decision,
			IntervalHours: cfg.IntervalHours,
			LastRun:       cfg.LastRun,
		},
	}
	if next := h.gate.NextRun(cfg, now); !next.IsZero() {
		resp.Automation.NextRun = &next
	}
	if l, err := h.valuation.LatestOperationLog(ctx, f.ID); err == nil {
		resp.LatestLog = &l
	} else if !errors.Is(err, ledger.ErrNotFound) {
		h.writeServiceError(w, err, "latest operation log")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetClientPositions handles GET /api/v1/clients/{id}/positions.
func (h *Handler) GetClientPositions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.funds.ClientPositions(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "client positions")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// loadFund resolves the {id} path value to a fund, writing the error response on failure.
func (h *Handler) loadFund(w http.ResponseWriter, r *http.Request) (domain.Fund, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return domain.Fund{}, false
	}
	f, err := h.funds.GetFund(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "get fund")
		return domain.Fund{}, false
	}
	return f, true
}

func queryInt(r *http.Request, key string, def, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return min(n, max)
}

// writeServiceError maps domain errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, valuation.ErrFundUnavailable):
		writeError(w, http.StatusNotFound, "fund unavailable")
	case errors.Is(err, quota.ErrInvalidAmount), errors.Is(err, quota.ErrInvalidDirection),
		errors.Is(err, automation.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, quota.ErrInsufficientQuotas), errors.Is(err, quota.ErrNotReversible),
		errors.Is(err, quota.ErrFundInactive), errors.Is(err, ledger.ErrConstraintViolation):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, valuation.ErrUnavailable), errors.Is(err, valuation.ErrInvalidValue):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write HTTP response body", "error", err)
		return
	}
	_, _ = w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
