package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/family-crawler/internal/crawler"
	"github.com/JakeFAU/family-crawler/internal/lifecycle"
	"github.com/JakeFAU/family-crawler/internal/metrics"
)

// CrawlSource is the running crawl as seen by the status API.
type CrawlSource interface {
	Snapshot() lifecycle.Snapshot
	Failures() *crawler.FailureLog
}

// Server exposes read-only crawl status over HTTP.
type Server struct {
	router chi.Router
	source CrawlSource
	logger *zap.Logger
}

const requestTimeout = 10 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(source CrawlSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{source: source, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/crawl", func(r chi.Router) {
		r.Get("/", s.getCrawl)
		r.Get("/history", s.getHistory)
		r.Get("/failures", s.getFailures)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

// readyz reports 503 once the crawl has failed so orchestrators can react.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.source == nil {
		writeError(w, http.StatusServiceUnavailable, "no crawl attached", s.logger)
		return
	}
	state := s.source.Snapshot().State
	if state == lifecycle.StateFailed {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": string(state)}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(state)}, s.logger)
}

func (s *Server) getCrawl(w http.ResponseWriter, _ *http.Request) {
	if s.source == nil {
		writeError(w, http.StatusNotFound, "no crawl attached", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, s.source.Snapshot(), s.logger)
}

func (s *Server) getHistory(w http.ResponseWriter, _ *http.Request) {
	if s.source == nil {
		writeError(w, http.StatusNotFound, "no crawl attached", s.logger)
		return
	}
	snap := s.source.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"crawl_id": snap.CrawlID,
		"history":  snap.History,
	}, s.logger)
}

func (s *Server) getFailures(w http.ResponseWriter, _ *http.Request) {
	if s.source == nil {
		writeError(w, http.StatusNotFound, "no crawl attached", s.logger)
		return
	}
	failures := s.source.Failures()
	dead := failures.DeadLetters()
	if dead == nil {
		dead = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"failed_dirs":   failures.FailedDirsDocument().Failed,
		"failed_groups": failures.FailedGroupsDocument(),
		"dead_letters":  dead,
	}, s.logger)
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID)))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", RequestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error", logger)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (rw *statusWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}
