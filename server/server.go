package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rxtrust/rxtrust-api/localstore"
	"github.com/rxtrust/rxtrust-api/registry"
	"github.com/rxtrust/rxtrust-api/types"
)

const (
	shutdownTimeout = 5 * time.Second
	maxBodyBytes    = 64 << 10
	requestIDHeader = "X-Request-ID"
)

// Auditor runs one audit.
type Auditor interface {
	Audit(ctx context.Context, req types.AuditRequest) (*types.AuditResponse, error)
}

// Store is the part of the local store the API exposes.
type Store interface {
	QueryEvents(ctx context.Context, filters localstore.EventQueryFilters, page, limit int) (*localstore.QueryEventsResult, error)
	GetEvent(ctx context.Context, id string) (*types.AuditEvent, error)
	Stats(ctx context.Context) (localstore.CacheStats, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

// Server serves the audit API.
type Server struct {
	auditor  Auditor
	store    Store
	registry *registry.Registry
	logger   *zap.Logger
	router   *mux.Router
}

func New(auditor Auditor, store Store, reg *registry.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		auditor:  auditor,
		store:    store,
		registry: reg,
		logger:   logger.Named("server"),
	}
	s.router = s.routes()
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.requestLogger)

	router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/audit", s.auditHandler).Methods(http.MethodPost)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/audits", s.auditsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/audits/{id}", s.auditDetailHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/cache/stats", s.cacheStatsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/cache/expired", s.cachePurgeHandler).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/registry", s.registryHandler).Methods(http.MethodGet)

	// Subrouters do not inherit these handlers from their parent.
	for _, r := range []*mux.Router{router, apiRouter} {
		r.NotFoundHandler = http.HandlerFunc(notFound)
		r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	}
	return router
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, "not found", http.StatusNotFound)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, "method not allowed", http.StatusMethodNotAllowed)
}

// Run listens on address until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, address string) error {
	srv := &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server: listening", zap.String("address", address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("could not listen on %s: %w", address, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("Server: exited gracefully")
	return nil
}

type apiError struct {
	Error  string                 `json:"error"`
	Detail types.ValidationErrors `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, apiError{Error: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) auditHandler(w http.ResponseWriter, r *http.Request) {
	var req types.AuditRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, "malformed JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.auditor.Audit(r.Context(), req)
	if err != nil {
		var verrs types.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: "validation failed", Detail: verrs})
			return
		}
		s.logger.Error("Server: audit failed", zap.Error(err), zap.String("request_id", requestID(r)))
		writeError(w, "audit failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) auditsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := strconv.Atoi(query.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(query.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	filters := localstore.EventQueryFilters{
		Verdict:    query.Get("verdict"),
		SearchTerm: query.Get("search"),
	}

	result, err := s.store.QueryEvents(r.Context(), filters, page, limit)
	if err != nil {
		s.logger.Error("Server: failed to query audit events", zap.Error(err))
		writeError(w, "failed to retrieve audit events", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) auditDetailHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ev, err := s.store.GetEvent(r.Context(), id)
	if err != nil {
		s.logger.Error("Server: failed to get audit event", zap.String("id", id), zap.Error(err))
		writeError(w, "failed to retrieve audit event", http.StatusInternalServerError)
		return
	}
	if ev == nil {
		writeError(w, "audit event not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("Server: failed to read cache stats", zap.Error(err))
		writeError(w, "failed to read cache stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) cachePurgeHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.PurgeExpired(r.Context())
	if err != nil {
		s.logger.Error("Server: failed to purge cache", zap.Error(err))
		writeError(w, "failed to purge expired cache entries", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}

// RegistryEntry is a registry record annotated with the verdict its issue implies.
type RegistryEntry struct {
	types.RegistryRecord
	ExpectedVerdict types.Verdict `json:"expected_verdict"`
}

func (s *Server) registryHandler(w http.ResponseWriter, r *http.Request) {
	records := s.registry.Records()
	entries := make([]RegistryEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, RegistryEntry{RegistryRecord: rec, ExpectedVerdict: registry.ClassifyIssue(rec.Issue)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": entries, "count": len(entries)})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Info("Server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", id),
		)
	})
}

func requestID(r *http.Request) string {
	return r.Header.Get(requestIDHeader)
}
