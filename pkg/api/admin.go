package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nortis/idverify/pkg/metrics"
	"github.com/nortis/idverify/pkg/storage"
)

// AdminServer serves the operational surface kept off the tenant-scoped
// control plane: liveness, readiness, and Prometheus metrics.
type AdminServer struct {
	store storage.Store
	mux   *http.ServeMux
}

// NewAdminServer builds the admin mux.
func NewAdminServer(store storage.Store) *AdminServer {
	mux := http.NewServeMux()
	as := &AdminServer{
		store: store,
		mux:   mux,
	}

	mux.HandleFunc("/health", as.healthHandler)
	mux.HandleFunc("/ready", as.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return as
}

// Start runs the admin HTTP server on addr. Blocks until the server
// exits.
func (as *AdminServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      as.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// Handler returns the admin mux for embedding elsewhere.
func (as *AdminServer) Handler() http.Handler {
	return as.mux
}

// HealthResponse is the /health liveness response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the /ready readiness response.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

func (as *AdminServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

// readyHandler checks the storage engine is reachable by listing
// batches for a placeholder tenant id that owns no data.
func (as *AdminServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	message := ""

	if _, err := as.store.ListBatches("__healthcheck__"); err != nil {
		checks["storage"] = "error: " + err.Error()
		ready = false
		message = "storage not accessible"
	} else {
		checks["storage"] = "ok"
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, ReadyResponse{Status: status, Timestamp: time.Now(), Checks: checks, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
