// Package api implements the tenant-scoped HTTP control plane: file
// ingestion, status/listing/export projections, and worker lifecycle
// operations, routed with go-chi and guarded by the X-Session-ID
// tenant header.
package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/nortis/idverify/pkg/ingest"
	"github.com/nortis/idverify/pkg/log"
	"github.com/nortis/idverify/pkg/metrics"
	"github.com/nortis/idverify/pkg/orchestrator"
	"github.com/nortis/idverify/pkg/recovery"
	"github.com/nortis/idverify/pkg/report"
	"github.com/nortis/idverify/pkg/retry"
	"github.com/nortis/idverify/pkg/sessionmgr"
	"github.com/nortis/idverify/pkg/stage"
	"github.com/nortis/idverify/pkg/storage"
	"github.com/nortis/idverify/pkg/types"
)

// TenantHeader is the opaque tenant identifier every tenant-scoped
// request must carry.
const TenantHeader = "X-Session-ID"

// MinTenantIDLength is the minimum accepted length of the tenant
// header's value.
const MinTenantIDLength = 8

// WorkersPerSession is how many workers one tenant's orchestrator
// allocates against the global budget: one for Stage A, one for Stage B.
const WorkersPerSession = 2

type tenantCtxKey struct{}

// Server wires the tenant-scoped control plane to its dependencies.
type Server struct {
	store     storage.Store
	sessions  *sessionmgr.Manager
	recovery  *recovery.Service
	retry     *retry.Service
	report    *report.Service
	factory   stage.Factory
	procA     stage.Processor
	procB     stage.Processor
	timing    orchestrator.Timing
	validate  *validator.Validate
	router    chi.Router
}

// Deps bundles Server's constructor dependencies.
type Deps struct {
	Store    storage.Store
	Sessions *sessionmgr.Manager
	Recovery *recovery.Service
	Retry    *retry.Service
	Report   *report.Service
	Factory  stage.Factory
	ProcA    stage.Processor
	ProcB    stage.Processor
	Timing   orchestrator.Timing
}

// NewServer builds the HTTP control plane router.
func NewServer(d Deps) *Server {
	s := &Server{
		store:    d.Store,
		sessions: d.Sessions,
		recovery: d.Recovery,
		retry:    d.Retry,
		report:   d.Report,
		factory:  d.Factory,
		procA:    d.ProcA,
		procB:    d.ProcB,
		timing:   d.Timing,
		validate: validator.New(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(instrumentRoute)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	r.Get("/server-stats", s.handleServerStats)

	r.Group(func(tr chi.Router) {
		tr.Use(s.tenantMiddleware)
		tr.Post("/ingest", s.handleIngest)
		tr.Get("/status", s.handleStatus)
		tr.Get("/records", s.handleListRecords)
		tr.Get("/batches", s.handleListBatches)
		tr.Get("/export", s.handleExport)
		tr.Post("/workers/start", s.handleStartWorkers)
		tr.Post("/workers/stop", s.handleStopWorkers)
		tr.Post("/retry-failed", s.handleRetryFailed)
		tr.Post("/recover", s.handleRecover)
		tr.Post("/clean", s.handleClean)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.WithComponent("api").Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func instrumentRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		timer.ObserveDurationVec(metrics.HTTPRequestDuration, route)
	})
}

// tenantMiddleware extracts and validates the tenant header, touches
// the session, and stores the tenant-id on the request context.
func (s *Server) tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(TenantHeader)
		if len(tenantID) < MinTenantIDLength {
			writeErr(w, http.StatusBadRequest, "missing or invalid "+TenantHeader+" header")
			return
		}
		s.sessions.Touch(tenantID)
		ctx := context.WithValue(r.Context(), tenantCtxKey{}, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFrom(r *http.Request) string {
	v, _ := r.Context().Value(tenantCtxKey{}).(string)
	return v
}

func writeErr(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleIngest accepts a single-file multipart upload, parses it, and
// creates a batch from the accepted keys.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "missing upload file")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	result, err := ingest.ParseFile(header.Filename, content)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(result.Accepted) == 0 {
		writeErr(w, http.StatusBadRequest, "no valid entries in upload")
		return
	}

	batch, err := s.store.CreateBatch(tenantID, header.Filename, result.Accepted)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to create batch")
		return
	}

	metrics.IngestAcceptedTotal.Add(float64(len(result.Accepted)))
	metrics.IngestRejectedTotal.Add(float64(len(result.Rejected)))

	writeJSON(w, http.StatusOK, map[string]any{
		"batch":    batch,
		"accepted": len(result.Accepted),
		"rejected": result.Rejected,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.report.Status(tenantFrom(r))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to compute status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// paginationQuery validates the list-records query parameters once
// parsed, so bad limit/offset combinations fail the same way any other
// validated request body would.
type paginationQuery struct {
	Limit  int `validate:"min=1,max=500"`
	Offset int `validate:"min=0"`
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	q := r.URL.Query()

	var state *types.State
	if v := q.Get("state"); v != "" {
		st := types.State(v)
		state = &st
	}

	var batchID *uint64
	if v := q.Get("batch_id"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid batch_id")
			return
		}
		batchID = &n
	}

	page := paginationQuery{Limit: 50, Offset: 0}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		page.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid offset")
			return
		}
		page.Offset = n
	}
	if err := s.validate.Struct(page); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid pagination: "+err.Error())
		return
	}

	records, total, err := s.report.ListRecords(tenantID, state, batchID, page.Limit, page.Offset)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to list records")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
		"limit":   page.Limit,
		"offset":  page.Offset,
	})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.report.ListBatches(tenantFrom(r))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	rows, err := s.report.Export(tenantFrom(r))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to build export")
		return
	}
	if len(rows) == 0 {
		writeErr(w, http.StatusNotFound, "no data to export")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleStartWorkers recovers stranded records for the tenant, then
// starts the orchestrator if it is not running, or resumes it if it
// is running but paused.
func (s *Server) handleStartWorkers(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)

	orch, ok := s.sessions.GetOrchestrator(tenantID)
	if !ok {
		if !s.sessions.CanStart(WorkersPerSession) {
			writeErr(w, http.StatusServiceUnavailable, "global worker capacity exceeded")
			return
		}
		orch = orchestrator.New(tenantID, s.store, s.recovery, s.factory, s.procA, s.procB, s.timing)
		s.sessions.SetOrchestrator(tenantID, orch)
	}

	if orch.IsRunning() {
		orch.Resume()
		writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
		return
	}

	if !s.sessions.CanStart(WorkersPerSession) {
		writeErr(w, http.StatusServiceUnavailable, "global worker capacity exceeded")
		return
	}
	orch.Start()
	s.sessions.RegisterWorkers(tenantID, WorkersPerSession)
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStopWorkers(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)

	orch, ok := s.sessions.GetOrchestrator(tenantID)
	if !ok || !orch.IsRunning() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not running"})
		return
	}

	orch.Stop()
	s.sessions.UnregisterWorkers(tenantID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.retry.RetryFailed(tenantFrom(r))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to retry records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"retried": n})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	n, err := s.recovery.RecoverTenant(tenantFrom(r))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to recover records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"recovered": n})
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)

	if orch, ok := s.sessions.GetOrchestrator(tenantID); ok && orch.IsRunning() {
		orch.Stop()
		s.sessions.UnregisterWorkers(tenantID)
	}

	if err := s.store.Clean(tenantID); err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to clean tenant data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleaned"})
}

func (s *Server) handleServerStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Stats())
}
