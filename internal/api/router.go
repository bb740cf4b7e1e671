// Package api exposes the scoring service over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/vivabilite/internal/config"
	"github.com/sells-group/vivabilite/internal/service"
)

// Prefix is the mount point of every route.
const Prefix = "/api/v1"

// Server serves the scoring service.
type Server struct {
	svc     *service.Service
	cfg     config.ServerConfig
	version string
}

// New creates a Server. Page sizes left at zero take the config defaults.
func New(svc *service.Service, cfg config.ServerConfig, version string) *Server {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 50
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}
	return &Server{svc: svc, cfg: cfg, version: version}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route(Prefix, func(r chi.Router) {
		r.Get("/health", s.health)

		r.Route("/communes", func(r chi.Router) {
			r.Get("/", s.listCommunes)
			r.Post("/search", s.searchCommunes)
			r.Get("/{code_insee}", s.getCommune)
		})

		r.Route("/filters", func(r chi.Router) {
			r.Get("/categories", s.filterCategories)
			r.Get("/defaults", s.defaultWeights)
			r.Get("/data-status", s.dataStatus)
		})

		r.Route("/geojson", func(r chi.Router) {
			r.Get("/communes", s.communesGeoJSON)
			r.Post("/communes/search", s.searchGeoJSON)
		})
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
