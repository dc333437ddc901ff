package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"looklinks/internal/handlers"
	"looklinks/internal/middlewares"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	r.Use(middlewares.CorsMiddleware)
	r.Use(middlewares.RateLimit)
	r.Use(middlewares.NewPrometheusMiddleware().Instrument)

	ch := handlers.NewCommonHandler(s.db)
	r.HandleFunc("/", ch.HelloHandler)
	r.HandleFunc("/health", ch.HealthHandler)
	r.Handle("/metrics", promhttp.Handler())

	s.registerCatalogRoutes(r)

	return r
}

func (s *Server) registerCatalogRoutes(r *mux.Router) {
	h := handlers.NewCatalogHandler(s.catalogService, s.adminService)

	r.HandleFunc("/api/websites", h.GetCatalog).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/websites", h.AddWebsite).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/websites/load-more", h.LoadMore).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/websites/favorites", h.GetFavorites).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/websites/{id}/visit", h.RecordVisit).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/websites/{id}/favorite", h.ToggleFavorite).Methods("POST", "OPTIONS")

	r.HandleFunc("/api/tabs/{tab}", h.ActivateTab).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/tabs/{tab}", h.UnloadTab).Methods("DELETE", "OPTIONS")

	r.HandleFunc("/api/search", h.Search).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/search", h.SearchTypeahead).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/search", h.ClearSearch).Methods("DELETE", "OPTIONS")

	r.HandleFunc("/api/categories", h.GetCategories).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/admin/backfill-titles", h.BackfillTitles).Methods("POST", "OPTIONS")
}
