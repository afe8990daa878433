package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/handlers"
)

// NewRouter constructs a ServeMux with settlement API routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	// Health check and metrics
	mux.HandleFunc("/healthz", h.HealthCheck)
	mux.Handle("/metrics", promhttp.Handler())

	// Record ingestion
	mux.HandleFunc("/api/v1/records", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.SubmitRecord(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Access checks from the data-serving shell
	mux.HandleFunc("/api/v1/access/authorize", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.Authorize(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Agreements API routes
	mux.HandleFunc("/api/v1/agreements", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.CreateAgreement(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/agreements/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/agreements/")

		// POST /api/v1/agreements/:id/cancel
		if r.Method == http.MethodPost && strings.HasSuffix(rest, "/cancel") {
			h.CancelAgreement(w, r, strings.TrimSuffix(rest, "/cancel"))
			// GET /api/v1/agreements/:id
		} else if r.Method == http.MethodGet && rest != "" && !strings.Contains(rest, "/") {
			h.GetAgreement(w, r, rest)
		} else {
			http.Error(w, "Not found", http.StatusNotFound)
		}
	})

	return mux
}
