package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

var testSource = domain.ValuationSource{FundID: 1, APIToken: "secret", WalletAddress: "0xabc"}

func TestFetchNetworthHistorical(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/historical" {
			t.Errorf("path = %q, want /v1/historical", r.URL.Path)
		}
		if got := r.URL.Query().Get("addresses"); got != "0xabc" {
			t.Errorf("addresses = %q, want 0xabc", got)
		}
		if got := r.URL.Query().Get("date"); got != "2025-03-04" {
			t.Errorf("date = %q, want 2025-03-04", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"networth": "600.00"}`))
	}))
	defer server.Close()

	client := NewOctavClient(server.URL, time.Second, 0, 0)
	got, err := client.FetchNetworth(context.Background(), testSource, FetchRequest{
		Date: time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("FetchNetworth() error = %v", err)
	}
	if !got.Equal(decimal.NewFromInt(600)) {
		t.Errorf("FetchNetworth() = %s, want 600", got)
	}
}

func TestFetchNetworthFallsBackToCurrent(t *testing.T) {
	var historical, current atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/historical":
			historical.Add(1)
			w.WriteHeader(http.StatusNotFound)
		case "/v1/portfolio":
			current.Add(1)
			w.Write([]byte(`[{"networth": 1234.5}]`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewOctavClient(server.URL, time.Second, 0, 0)
	got, err := client.FetchNetworth(context.Background(), testSource, FetchRequest{Date: time.Now()})
	if err != nil {
		t.Fatalf("FetchNetworth() error = %v", err)
	}
	if !got.Equal(decimal.RequireFromString("1234.5")) {
		t.Errorf("FetchNetworth() = %s, want 1234.5", got)
	}
	if historical.Load() != 1 || current.Load() != 1 {
		t.Errorf("calls historical=%d current=%d, want 1 and 1", historical.Load(), current.Load())
	}
}

func TestFetchNetworthFallsBackOnBadShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/historical" {
			w.Write([]byte(`{"unexpected": true}`))
			return
		}
		w.Write([]byte(`{"data": {"total_value": 50}}`))
	}))
	defer server.Close()

	client := NewOctavClient(server.URL, time.Second, 0, 0)
	got, err := client.FetchNetworth(context.Background(), testSource, FetchRequest{Date: time.Now()})
	if err != nil {
		t.Fatalf("FetchNetworth() error = %v", err)
	}
	if !got.Equal(decimal.NewFromInt(50)) {
		t.Errorf("FetchNetworth() = %s, want 50", got)
	}
}

func TestFetchNetworthPreferCurrent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/portfolio" {
			t.Errorf("path = %q, want only /v1/portfolio", r.URL.Path)
		}
		w.Write([]byte(`{"value": 10}`))
	}))
	defer server.Close()

	client := NewOctavClient(server.URL, time.Second, 0, 0)
	if _, err := client.FetchNetworth(context.Background(), testSource, FetchRequest{PreferCurrent: true}); err != nil {
		t.Fatalf("FetchNetworth() error = %v", err)
	}
}

func TestFetchNetworthServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal error"))
	}))
	defer server.Close()

	client := NewOctavClient(server.URL, time.Second, 3, time.Millisecond)
	_, err := client.FetchNetworth(context.Background(), testSource, FetchRequest{Date: time.Now()})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("FetchNetworth() error = %v, want ErrUnavailable", err)
	}
	// 500 is not retried: one historical call plus one current fallback.
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestFetchNetworthRetryOn429(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"networth": 7}`))
	}))
	defer server.Close()

	client := NewOctavClient(server.URL, time.Second, 2, 10*time.Millisecond)
	got, err := client.FetchNetworth(context.Background(), testSource, FetchRequest{PreferCurrent: true})
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(7)) {
		t.Errorf("FetchNetworth() = %s, want 7", got)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
}

func TestFetchNetworthTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"networth": 1}`))
	}))
	defer server.Close()

	client := NewOctavClient(server.URL, 20*time.Millisecond, 0, 0)
	_, err := client.FetchNetworth(context.Background(), testSource, FetchRequest{PreferCurrent: true})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("FetchNetworth() error = %v, want ErrUnavailable", err)
	}
}

func TestFetchNetworthInvalidValue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"networth": "-1"}`))
	}))
	defer server.Close()

	client := NewOctavClient(server.URL, time.Second, 0, 0)
	_, err := client.FetchNetworth(context.Background(), testSource, FetchRequest{Date: time.Now()})
	if !errors.Is(err, ErrInvalidValue) {
		t.Errorf("FetchNetworth() error = %v, want ErrInvalidValue", err)
	}
}

func TestFetchNetworthUnconfiguredSource(t *testing.T) {
	client := NewOctavClient("http://127.0.0.1:1", time.Second, 0, 0)
	_, err := client.FetchNetworth(context.Background(), domain.ValuationSource{FundID: 3}, FetchRequest{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("FetchNetworth() error = %v, want ErrUnavailable", err)
	}
}
