package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

// NewServer creates an HTTP server with all routes configured. Write endpoints require the
// admin key as a bearer token; with an empty key they are left open.
func NewServer(port string, handler *Handler, adminAPIKey string) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      NewMux(handler, adminAPIKey),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewMux registers the API routes.
func NewMux(handler *Handler, adminAPIKey string) *http.ServeMux {
	admin := func(h http.HandlerFunc) http.Handler {
		if adminAPIKey == "" {
			return h
		}
		return requireAuth(adminAPIKey, h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/funds", handler.ListFunds)
	mux.HandleFunc("GET /api/v1/funds/{id}", handler.GetFund)
	mux.HandleFunc("GET /api/v1/funds/{id}/snapshots/latest", handler.GetLatestSnapshot)
	mux.HandleFunc("GET /api/v1/funds/{id}/snapshots", handler.ListSnapshots)
	mux.HandleFunc("GET /api/v1/funds/{id}/logs", handler.ListLogs)
	mux.HandleFunc("GET /api/v1/funds/{id}/quotas", handler.GetQuotas)
	mux.HandleFunc("GET /api/v1/funds/{id}/performance", handler.GetPerformance)
	mux.HandleFunc("GET /api/v1/funds/{id}/status", handler.GetStatus)
	mux.HandleFunc("POST /api/v1/funds/{id}/quote", handler.QuoteMovement)
	mux.HandleFunc("GET /api/v1/clients/{id}/positions", handler.GetClientPositions)

	mux.Handle("POST /api/v1/funds/{id}/movements", admin(handler.RegisterMovement))
	mux.Handle("POST /api/v1/movements/{id}/reverse", admin(handler.ReverseMovement))
	mux.Handle("POST /api/v1/funds/{id}/refresh", admin(handler.RefreshAUM))
	mux.Handle("POST /api/v1/funds/{id}/aum", admin(handler.RecordManualAUM))
	return mux
}

func requireAuth(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if !strings.HasPrefix(auth, "Bearer ") || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
