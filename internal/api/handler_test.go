package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/automation"
	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/external"
	"github.com/mtlprog/quota/internal/fund"
	"github.com/mtlprog/quota/internal/ledger"
	"github.com/mtlprog/quota/internal/quota"
	"github.com/mtlprog/quota/internal/valuation"
)

type stubFetcher struct {
	networth decimal.Decimal
	err      error
}

func (s *stubFetcher) FetchNetworth(_ context.Context, _ domain.ValuationSource, _ external.FetchRequest) (decimal.Decimal, error) {
	return s.networth, s.err
}

type testEnv struct {
	store   *ledger.MemoryStore
	fetcher *stubFetcher
	handler *Handler
	mux     *http.ServeMux
	fund    domain.Fund
	client  domain.Client
}

const testKey = "secret-key"

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	engine := quota.NewEngine(store)
	funds := fund.NewService(store, engine, 24)
	fetcher := &stubFetcher{networth: decimal.NewFromInt(600)}
	val := valuation.NewService(store, fetcher, engine, time.UTC)
	gate := automation.NewGate(store, time.UTC, 24)

	f, err := store.CreateFund(ctx, domain.Fund{Name: "Alpha", InitialQuotaPrice: decimal.NewFromInt(1), Active: true})
	if err != nil {
		t.Fatalf("CreateFund() error = %v", err)
	}
	c, err := store.CreateClient(ctx, domain.Client{Name: "Ana", Email: "ana@example.com", Role: domain.RoleClient, Active: true})
	if err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}

	h := NewHandler(funds, engine, val, gate)
	return testEnv{store: store, fetcher: fetcher, handler: h, mux: NewMux(h, testKey), fund: f, client: c}
}

func (e testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+testKey)
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid JSON %q: %v", w.Body.String(), err)
	}
	return v
}

func TestGetFund(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/api/v1/funds/1", http.StatusOK},
		{"/api/v1/funds/99", http.StatusNotFound},
		{"/api/v1/funds/abc", http.StatusBadRequest},
		{"/api/v1/funds/0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := env.do(t, http.MethodGet, tt.path, ""); w.Code != tt.wantStatus {
			t.Errorf("GET %s status = %d, want %d", tt.path, w.Code, tt.wantStatus)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/funds", "")
	funds := decode[[]domain.Fund](t, w)
	if len(funds) != 1 || funds[0].Name != "Alpha" {
		t.Errorf("funds = %+v", funds)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestQuoteMovement(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/funds/1/quote", `{"direction":"in","amount":"1000"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	q := decode[quota.Quote](t, w)
	if !q.QuotaDelta.Equal(decimal.NewFromInt(1000)) || !q.QuotaPrice.Equal(decimal.NewFromInt(1)) {
		t.Errorf("quote = %+v, want 1000 quotas at 1", q)
	}

	bad := []string{
		`{"direction":"in","amount":"0"}`,
		`{"direction":"sideways","amount":"10"}`,
		`{"amount":"10"}`,
		`{"direction":"in","amount":"10","extra":true}`,
		`not json`,
	}
	for _, body := range bad {
		if w := env.do(t, http.MethodPost, "/api/v1/funds/1/quote", body); w.Code != http.StatusBadRequest {
			t.Errorf("quote %s status = %d, want 400", body, w.Code)
		}
	}
}

func TestRegisterMovementRequiresCurrentAUM(t *testing.T) {
	env := newTestEnv(t)
	body := `{"clientId":1,"direction":"IN","amount":"500"}`

	if w := env.do(t, http.MethodPost, "/api/v1/funds/1/movements", body); w.Code != http.StatusConflict {
		t.Errorf("stale AUM status = %d, want 409", w.Code)
	}

	w := env.do(t, http.MethodPost, "/api/v1/funds/1/aum", `{"totalAum":"100"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("manual AUM status = %d, body = %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/v1/funds/1/movements", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	m := decode[domain.Movement](t, w)
	if m.Direction != domain.DirectionIn || !m.QuotaAmount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("movement = %+v", m)
	}

	over := `{"clientId":1,"direction":"OUT","amount":"900"}`
	if w := env.do(t, http.MethodPost, "/api/v1/funds/1/movements", over); w.Code != http.StatusConflict {
		t.Errorf("overdraw status = %d, want 409", w.Code)
	}
}

func TestReverseMovement(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/funds/1/movements", `{"clientId":1,"direction":"IN","amount":"50","force":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/v1/movements/1/reverse", `{"note":"typo"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("reverse status = %d, body = %s", w.Code, w.Body.String())
	}
	rev := decode[domain.Movement](t, w)
	if rev.Direction != domain.DirectionOut || rev.ReversesID == nil || *rev.ReversesID != 1 || rev.Note != "typo" {
		t.Errorf("reversal = %+v", rev)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/movements/1/reverse", ""); w.Code != http.StatusConflict {
		t.Errorf("second reversal status = %d, want 409", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/movements/42/reverse", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown movement status = %d, want 404", w.Code)
	}

	q := decode[quotasResponse](t, env.do(t, http.MethodGet, "/api/v1/funds/1/quotas", ""))
	if !q.CirculatingQuotas.IsZero() {
		t.Errorf("circulating = %s after reversal, want 0", q.CirculatingQuotas)
	}
}

func TestRefreshAUM(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodPost, "/api/v1/funds/1/movements", `{"clientId":1,"direction":"IN","amount":"500","force":true}`); w.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d", w.Code)
	}

	w := env.do(t, http.MethodPost, "/api/v1/funds/1/refresh", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	out := decode[valuation.RefreshOutcome](t, w)
	if !out.AUM.Equal(decimal.NewFromInt(600)) || !out.QuotaPrice.Equal(decimal.RequireFromString("1.2")) {
		t.Errorf("outcome = %+v, want AUM 600 and price 1.2", out)
	}

	env.fetcher.err = external.ErrUnavailable
	if w := env.do(t, http.MethodPost, "/api/v1/funds/1/refresh", `{"expenses":"5"}`); w.Code != http.StatusBadGateway {
		t.Errorf("unavailable status = %d, want 502", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/funds/1/refresh", `{"expenses":"-5"}`); w.Code != http.StatusBadRequest {
		t.Errorf("negative expenses status = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/funds/7/refresh", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown fund status = %d, want 404", w.Code)
	}

	logs := decode[[]domain.OperationLog](t, env.do(t, http.MethodGet, "/api/v1/funds/1/logs", ""))
	if len(logs) != 2 || logs[0].Status != domain.StatusError || logs[1].Status != domain.StatusSuccess {
		t.Errorf("logs = %+v", logs)
	}

	snaps := decode[[]domain.AumSnapshot](t, env.do(t, http.MethodGet, "/api/v1/funds/1/snapshots?days=7", ""))
	if len(snaps) != 1 {
		t.Errorf("snapshots = %+v", snaps)
	}
	latest := env.do(t, http.MethodGet, "/api/v1/funds/1/snapshots/latest", "")
	if latest.Code != http.StatusOK {
		t.Errorf("latest status = %d", latest.Code)
	}
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodGet, "/api/v1/funds/1/snapshots/latest", ""); w.Code != http.StatusNotFound {
		t.Errorf("latest without snapshots status = %d, want 404", w.Code)
	}

	st := decode[statusResponse](t, env.do(t, http.MethodGet, "/api/v1/funds/1/status", ""))
	if st.AUMCurrentForToday || !st.Automation.Enabled || !st.Automation.Due || st.Automation.IntervalHours != 24 {
		t.Errorf("status before refresh = %+v", st)
	}
	if st.LatestLog != nil {
		t.Errorf("latest log = %+v, want none", st.LatestLog)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/funds/1/aum", `{"totalAum":"250","expenses":"10"}`); w.Code != http.StatusOK {
		t.Fatalf("manual AUM status = %d, body = %s", w.Code, w.Body.String())
	}
	st = decode[statusResponse](t, env.do(t, http.MethodGet, "/api/v1/funds/1/status", ""))
	if !st.AUMCurrentForToday || st.LatestLog == nil || st.LatestLog.Kind != domain.KindManualUpdate {
		t.Errorf("status after manual AUM = %+v", st)
	}
}

func TestClientPositions(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodPost, "/api/v1/funds/1/movements", `{"clientId":1,"direction":"IN","amount":"300","force":true}`); w.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/v1/clients/1/positions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	p := decode[fund.Portfolio](t, w)
	if len(p.Positions) != 1 || !p.TotalValue.Equal(decimal.NewFromInt(300)) {
		t.Errorf("portfolio = %+v", p)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/clients/9/positions", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown client status = %d, want 404", w.Code)
	}
}

func TestGetPerformance(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/funds/1/performance", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	perf := decode[fund.Performance](t, w)
	if !perf.QuotaPrice.Equal(decimal.NewFromInt(1)) {
		t.Errorf("performance = %+v", perf)
	}
}
