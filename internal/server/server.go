// Package server exposes the dashboard API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/affiliate-outreach/internal/credit"
	"github.com/sells-group/affiliate-outreach/internal/enrich"
	"github.com/sells-group/affiliate-outreach/internal/lock"
	"github.com/sells-group/affiliate-outreach/internal/metrics"
	"github.com/sells-group/affiliate-outreach/internal/outreach"
	"github.com/sells-group/affiliate-outreach/internal/store"
	"github.com/sells-group/affiliate-outreach/pkg/dashapi"
)

// MessageWriter drafts outreach emails.
type MessageWriter interface {
	Write(ctx context.Context, in outreach.Input) (*outreach.Draft, error)
}

// Config wires the server's collaborators. Enrich and Writer may be nil when
// the corresponding feature is not configured.
type Config struct {
	Store       store.Store
	Enrich      *enrich.Service
	Writer      MessageWriter
	Credits     *credit.Guard
	Locker      lock.Locker
	LockTTL     time.Duration
	CORSOrigins []string
}

// Server handles API requests.
type Server struct {
	store   store.Store
	enrich  *enrich.Service
	writer  MessageWriter
	credits *credit.Guard
	locker  lock.Locker
	lockTTL time.Duration
	origins []string
	now     func() time.Time
}

// New creates a Server.
func New(cfg Config) *Server {
	s := &Server{
		store:   cfg.Store,
		enrich:  cfg.Enrich,
		writer:  cfg.Writer,
		credits: cfg.Credits,
		locker:  cfg.Locker,
		lockTTL: cfg.LockTTL,
		origins: cfg.CORSOrigins,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if s.credits == nil {
		s.credits = credit.NewGuard(nil, false)
	}
	if s.locker == nil {
		s.locker = lock.NewMemoryLocker()
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 2 * time.Minute
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(recordMetrics)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", dashapi.UserHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(requireUser)

		r.Post("/enrich-email", s.handleEnrichEmail)
		r.Post("/generate-message", s.handleGenerateMessage)
		r.Patch("/generate-message", s.handleUpdateMessage)
		r.Get("/enrichment-status", s.handleEnrichmentStatus)
		r.Get("/job-status", s.handleJobStatus)

		r.Get("/affiliates", s.handleListAffiliates)
		r.Post("/affiliates", s.handleCreateAffiliate)
		r.Post("/jobs", s.handleCreateJob)
		r.Post("/jobs/{jobID}/items", s.handleStageItems)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Error("server: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userKey struct{}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(dashapi.UserHeader)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing "+dashapi.UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, id)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

func recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			pattern = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTP(r.Method, pattern, status, time.Since(start))
	})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, dashapi.ErrorResponse{Error: msg})
}
