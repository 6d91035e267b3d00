package olympus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
	"github.com/tartarus-sandbox/pythia/pkg/hermes"
	"github.com/tartarus-sandbox/pythia/pkg/themis"
)

// Server exposes the service over HTTP
type Server struct {
	router  *chi.Mux
	server  *http.Server
	service *Service
	log     hermes.Logger
}

type ServerConfig struct {
	Port     int
	Service  *Service
	Gatherer prometheus.Gatherer // nil serves the default registry
	APIKey   string              // empty leaves the API open
	Logger   hermes.Logger
}

func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		service: cfg.Service,
		log:     cfg.Logger,
	}
	if s.log == nil {
		s.log = hermes.NewNoopLogger()
	}

	s.setupMiddleware()
	s.setupRoutes(cfg.Gatherer, cfg.APIKey)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer, apiKey string) {
	s.router.Get("/healthz", s.handleHealth)
	if gatherer == nil {
		s.router.Handle("/metrics", promhttp.Handler())
	} else {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(apiKey, s.log))

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.handleRun)
			r.Get("/latest", s.handleLatest)
			r.Get("/latest/{table}", s.handleLatestTable)
		})
		r.Post("/observations", s.handleIngest)
		r.Route("/sites", func(r chi.Router) {
			r.Get("/", s.handleListSites)
			r.Put("/{site}/capacity", s.handlePutCapacity)
		})
		r.Route("/policy", func(r chi.Router) {
			r.Get("/", s.handleGetPolicy)
			r.Put("/", s.handlePutPolicy)
		})
	})
}

func (s *Server) Start() error {
	s.log.Info(context.Background(), "starting HTTP server", map[string]any{"addr": s.server.Addr})
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info(ctx, "shutting down HTTP server", nil)
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug(r.Context(), "http request", map[string]any{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration_s": hermes.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		})
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error(context.Background(), "failed to encode response", map[string]any{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	he := toHTTPError(err)
	if he.Status >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed", map[string]any{"path": r.URL.Path, "error": err.Error()})
	}
	s.writeJSON(w, he.Status, he)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RunSummary is the response of a run
type RunSummary struct {
	RunID         string                        `json:"run_id"`
	PolicyVersion int64                         `json:"policy_version"`
	Forecasts     int                           `json:"forecasts"`
	Tiers         map[domain.Tier]int           `json:"tiers"`
	Exclusions    []domain.Exclusion            `json:"exclusions"`
	Backtest      *domain.BacktestResult        `json:"backtest,omitempty"`
	TopPriorities []domain.ActionRecommendation `json:"top_priorities"`
}

func summarize(res *Result, top int) RunSummary {
	sum := RunSummary{
		RunID:         res.RunID,
		PolicyVersion: res.PolicyVersion,
		Forecasts:     len(res.Forecasts),
		Tiers:         map[domain.Tier]int{},
		Exclusions:    res.Exclusions,
	}
	if sum.Exclusions == nil {
		sum.Exclusions = []domain.Exclusion{}
	}
	for _, a := range res.Assessments {
		sum.Tiers[a.Tier]++
	}
	if res.Backtest != nil {
		overall := res.Backtest.Overall
		sum.Backtest = &overall
	}
	recs := res.Recommendations
	if len(recs) > top {
		recs = recs[:top]
	}
	sum.TopPriorities = recs
	return sum
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Run(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, summarize(res, 15))
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Latest()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summarize(res, 15))
}

func (s *Server) handleLatestTable(w http.ResponseWriter, r *http.Request) {
	table, err := s.service.LatestTable(chi.URLParam(r, "table"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", table.Filename()))
	if err := table.WriteCSV(w); err != nil {
		s.log.Error(r.Context(), "failed to write table", map[string]any{"table": table.Name, "error": err.Error()})
	}
}

// ObservationRequest is one row of POST /observations
type ObservationRequest struct {
	SiteID string  `json:"site_id"`
	Date   string  `json:"date"`
	Volume float64 `json:"volume"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req []ObservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badRequest("invalid request body"))
		return
	}

	obs := make([]domain.Observation, len(req))
	for i, o := range req {
		day, err := domain.ParseDay(o.Date)
		if err != nil {
			s.writeError(w, r, badRequest(fmt.Sprintf("observation %d: invalid date %q", i, o.Date)))
			return
		}
		obs[i] = domain.Observation{SiteID: o.SiteID, Date: day, Volume: o.Volume}
	}

	if err := s.service.Ingest(r.Context(), obs); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(obs)})
}

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.service.Sites(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sites)
}

func (s *Server) handlePutCapacity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Capacity float64 `json:"capacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badRequest("invalid request body"))
		return
	}

	profile := domain.CapacityProfile{SiteID: chi.URLParam(r, "site"), Capacity: req.Capacity}
	if err := s.service.PutCapacity(r.Context(), profile); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.Policy(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	var p themis.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, r, badRequest("invalid request body"))
		return
	}
	p.Playbook = p.Playbook.Merge()

	if err := s.service.UpdatePolicy(r.Context(), &p, r.Header.Get("X-Actor")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &p)
}
