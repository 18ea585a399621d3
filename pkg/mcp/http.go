package mcp

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// maxBodyBytes bounds a single JSON-RPC request body.
const maxBodyBytes = 1 << 20

// Handler returns the HTTP surface: the JSON-RPC endpoint, health, metrics
// (when gatherer is non-nil) and the cache admin endpoints (when a cache is set).
func (s *Server) Handler(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)

	r.Post("/", s.serveRPC)
	r.Get("/health", s.serveHealth)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	if s.cache != nil {
		r.Get("/admin/cache", s.serveCacheStats)
		r.Delete("/admin/cache", s.serveCacheClear)
	}
	return r
}

// serveRPC always answers 200 with a JSON-RPC envelope.
func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.logger.Warn("read request body", zap.Error(err))
		writeJSON(w, http.StatusOK, errorResponse(nil, CodeParseError, "Parse error"))
		return
	}
	writeJSON(w, http.StatusOK, s.Handle(r.Context(), body))
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) serveCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) serveCacheClear(w http.ResponseWriter, _ *http.Request) {
	before := s.cache.Stats().CurrentSize
	s.cache.Clear()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "cleared",
		"removed": before,
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote", r.RemoteAddr),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
