package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/connectedhealth/careengine/eligibility"
	"github.com/connectedhealth/careengine/facilities"
	"github.com/connectedhealth/careengine/gateway"
	"github.com/connectedhealth/careengine/health"
	"github.com/connectedhealth/careengine/internal/logger"
	"github.com/connectedhealth/careengine/internal/metrics"
	"github.com/connectedhealth/careengine/knowledge"
	"github.com/connectedhealth/careengine/orchestrator"
	"github.com/connectedhealth/careengine/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Deps are the collaborators a Server is built from.
type Deps struct {
	Store        store.Store
	Monitor      *health.Monitor
	Corpus       *knowledge.Corpus
	Orchestrator orchestrator.Runner
	Metrics      *metrics.Metrics
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

type Server struct {
	store        store.Store
	monitor      *health.Monitor
	corpus       *knowledge.Corpus
	orchestrator orchestrator.Runner
	metrics      *metrics.Metrics

	catalog     *eligibility.Catalog
	eligibility *eligibility.Service
	facilities  *facilities.Service
	gateway     *gateway.Gateway

	triageSchema *jsonschema.Schema
	router       *chi.Mux
}

func NewServer(deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Monitor == nil || deps.Corpus == nil || deps.Orchestrator == nil {
		return nil, errors.New("server requires a store, monitor, corpus and orchestrator")
	}

	catalog := eligibility.NewCatalog(deps.Store)
	s := &Server{
		store:        deps.Store,
		monitor:      deps.Monitor,
		corpus:       deps.Corpus,
		orchestrator: deps.Orchestrator,
		metrics:      deps.Metrics,
		catalog:      catalog,
		eligibility:  eligibility.NewService(catalog, deps.Store),
		facilities:   facilities.NewService(deps.Store, nil),
	}

	gw, err := gateway.New(gateway.Deps{
		Store:       deps.Store,
		Facilities:  s.facilities,
		Eligibility: s.eligibility,
		Corpus:      deps.Corpus,
	}, deps.Monitor, gateway.WithMetrics(deps.Metrics))
	if err != nil {
		return nil, err
	}
	s.gateway = gw

	s.triageSchema, err = gateway.CompileSchema("triage_request", triageRequestSchema)
	if err != nil {
		return nil, err
	}

	s.setupRoutes(deps.Gatherer)
	return s, nil
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/", s.handleRoot)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/system/health", s.handleSystemHealth)
		r.Post("/triage", s.handleTriage)
		r.Post("/facilities/search", s.handleFacilitySearch)

		r.Route("/programs", func(r chi.Router) {
			r.Get("/", s.handleListPrograms)
			r.Post("/eligibility", s.handleEligibility)
			r.Post("/reload", s.handleReloadPrograms)
		})

		r.Route("/knowledge", func(r chi.Router) {
			r.Get("/triage", s.handleTriageRules)
			r.Post("/query", s.handleKnowledgeQuery)
		})

		r.Route("/reminders", func(r chi.Router) {
			r.Get("/", s.handleListReminders)
			r.Post("/", s.handleCreateReminder)
			r.Patch("/{id}", s.handleUpdateReminder)
		})

		r.Post("/interactions", s.handleCreateInteraction)

		r.Route("/patients", func(r chi.Router) {
			r.Get("/", s.handleListPatients)
			r.Get("/{id}", s.handleGetPatient)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/summary", s.handleAnalyticsSummary)
			r.Post("/events", s.handleCreateAnalyticsEvent)
		})

		r.Route("/mcp", func(r chi.Router) {
			r.Get("/logs", s.handleListToolLogs)
			r.Post("/logs", s.handleCreateToolLog)
			r.Get("/tools", s.handleListTools)
			r.Post("/tools/{name}", s.handleInvokeTool)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// observe records per-route metrics and the sampled 4xx/5xx counters.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		s.metrics.ObserveHTTP(r.Method, route, status, time.Since(start))

		switch {
		case status >= 500:
			logger.ErrorHttp5xx()
		case status >= 400:
			logger.WarnHttp4xx(status)
		}
	})
}

// Warm loads the program catalogue and corpus and computes the initial
// degraded state. Failures are logged; the server still starts degraded.
func (s *Server) Warm(ctx context.Context) {
	if degraded := s.monitor.Compute(ctx); degraded {
		logger.Warn("starting in degraded mode", "reason", s.monitor.Snapshot().Reason)
	}
	if n, err := s.catalog.Reload(ctx); err != nil {
		logger.Warn("program catalogue not loaded", "error", err)
	} else {
		logger.Info("program catalogue loaded", "programs", n)
	}
	if _, err := s.corpus.Snapshot(); err != nil {
		logger.Warn("knowledge corpus not loaded", "error", err)
	}
}
