// Package http exposes the month-end JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"backoffice/internal/core"
	"backoffice/internal/export"
	"backoffice/internal/inventory"
	applog "backoffice/internal/log"
	"backoffice/internal/middleware/ratelimit"
	"backoffice/internal/middleware/security"
	"backoffice/internal/middleware/trace"
	"backoffice/internal/monthend"
	limiter "backoffice/internal/ratelimit"
	"backoffice/internal/reconcile"
)

// StatusService is the month-end status store.
type StatusService interface {
	GetStatuses(ctx context.Context, year, month int) ([]core.MonthEndStatus, error)
	SetStatus(ctx context.Context, req monthend.SetStatusRequest) (core.MonthEndStatus, error)
	BatchSetStatus(ctx context.Context, req monthend.BatchStatusRequest) (monthend.BatchResult, error)
}

// ReadinessService answers inventory readiness.
type ReadinessService interface {
	IsReady(ctx context.Context, propertyID string, year, month int) inventory.Readiness
	BatchCheck(ctx context.Context, propertyIDs []string, year, month int) map[string]inventory.Readiness
}

type CalculatorService interface {
	Calculate(ctx context.Context, req reconcile.CalculateRequest) (reconcile.Result, error)
	CalculateFromStore(ctx context.Context, key core.PropertyMonth, dryRun bool) (reconcile.Result, error)
}

type ExportService interface {
	ExportMonthEnd(ctx context.Context, year, month int) (export.ExportResult, error)
	NotifyOwner(ctx context.Context, key core.PropertyMonth) (export.SendResult, error)
}

type InvoiceService interface {
	Record(ctx context.Context, inv core.Invoice) (core.Invoice, error)
}

type BookingService interface {
	AddBooking(ctx context.Context, b core.Booking) (core.Booking, error)
}

var (
	_ StatusService     = (*monthend.Store)(nil)
	_ ReadinessService  = (*inventory.Checker)(nil)
	_ CalculatorService = (*reconcile.Calculator)(nil)
	_ ExportService     = (*export.Exporter)(nil)
	_ InvoiceService    = (*inventory.Recorder)(nil)
)

// Deps are the services behind the API. Limiter and Ready are optional.
type Deps struct {
	Statuses   StatusService
	Readiness  ReadinessService
	Calculator CalculatorService
	Exporter   ExportService
	Invoices   InvoiceService
	Bookings   BookingService

	// Limiter paces outbound Google calls; its counters feed /stats/limiter.
	Limiter *limiter.Limiter
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error

	Logger             *applog.Logger
	RateLimitPerMinute int
}

type Server struct {
	http.Server
	deps Deps

	trace       *trace.Middleware
	detector    *security.Detector
	rateLimiter *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = applog.New(applog.DefaultConfig())
	}

	s := &Server{
		deps:        deps,
		trace:       trace.NewMiddleware(),
		detector:    security.NewDetector(),
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: deps.RateLimitPerMinute}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /stats/limiter", s.handleStats)

	mux.HandleFunc("GET /property-month-end/statuses", s.handleStatuses)
	mux.HandleFunc("PUT /property-month-end/status", s.handleSetStatus)
	mux.HandleFunc("POST /property-month-end/status/batch", s.handleBatchStatus)
	mux.HandleFunc("GET /property-month-end/options", s.handleOptions)
	mux.HandleFunc("POST /property-month-end/options/batch", s.handleOptionsBatch)
	mux.HandleFunc("POST /property-month-end/calculate", s.handleCalculate)
	mux.HandleFunc("POST /property-month-end/owner-email", s.handleOwnerEmail)
	mux.HandleFunc("POST /sheets/export-month-end", s.handleExport)

	mux.HandleFunc("POST /invoices", s.handleRecordInvoice)
	mux.HandleFunc("POST /bookings", s.handleAddBooking)

	// Outermost first: trace assigns the request id the logger picks up.
	var h http.Handler = mux
	h = s.rateLimiter.Middleware(s.detector.ExtractClientIP)(h)
	h = s.detector.Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = applog.AccessLog(s.detector.ExtractClientIP)(h)
	h = applog.RequestIDMiddleware(trace.FromRequest)(h)
	h = applog.Middleware(deps.Logger.WithComponent(applog.ComponentHTTP))(h)
	h = s.trace.Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Exports pace several Google calls 2s apart.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness probe failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "not ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statsResponse struct {
	Limiter   *limiter.Stats            `json:"limiter,omitempty"`
	Requests  trace.Metrics             `json:"requests"`
	RateLimit ratelimit.Metrics         `json:"rateLimit"`
	Security  security.DetectionMetrics `json:"security"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Requests:  s.trace.GetMetrics(),
		RateLimit: s.rateLimiter.GetMetrics(),
		Security:  s.detector.GetMetrics(),
	}
	if s.deps.Limiter != nil {
		st := s.deps.Limiter.Stats()
		resp.Limiter = &st
	}
	writeJSON(w, http.StatusOK, resp)
}
