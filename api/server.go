package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"listing-geocoder/config"
	"listing-geocoder/services"
	"listing-geocoder/utils"
)

// Server exposes the crawl manager over HTTP.
type Server struct {
	router   *chi.Mux
	manager  *services.CrawlManager
	regions  *config.RegionCatalogue
	insights *services.InsightService
	logger   *utils.Logger
}

func NewServer(manager *services.CrawlManager, regions *config.RegionCatalogue, logger *utils.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		manager:  manager,
		regions:  regions,
		insights: services.NewInsightService(regions.CostModel(), logger),
		logger:   logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/regions", s.handleListRegions)
		r.Get("/crawls", s.handleListCrawls)
		r.Post("/crawls", s.handleStartCrawl)
		r.Get("/crawls/{id}", s.handleGetCrawl)
		r.Get("/crawls/{id}/report", s.handleCrawlReport)
		r.Delete("/crawls/{id}", s.handleCancelCrawl)
	})
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("[api] %s %s -> %d (%s)", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
