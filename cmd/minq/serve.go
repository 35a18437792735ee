package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/minq/internal/config"
	logpkg "github.com/kailas-cloud/minq/internal/logger"
	"github.com/kailas-cloud/minq/internal/metrics"
	chiTransport "github.com/kailas-cloud/minq/internal/transport/chi"
	"github.com/kailas-cloud/minq/internal/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Reconcile configured collections and run the admin HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			a.logger.Info("Starting minq admin server",
				zap.String("version", version.Version),
				zap.String("commit", version.Commit),
				zap.String("env", a.env),
				zap.Int("http_port", a.cfg.HTTP.Port),
				zap.String("cache_driver", a.cfg.Cache.Driver),
			)

			for _, c := range a.cfg.Collections {
				report, err := a.reconcile(ctx, c.Name)
				if err != nil {
					return err
				}
				if !report.OK() {
					a.logger.Warn("Startup reconciliation incomplete",
						zap.String("collection", c.Name), zap.Int("failed", len(report.Failed)))
				}
			}

			handler, err := newRouter(a, a.reg)
			if err != nil {
				return err
			}
			return serve(a.logger, a.cfg.HTTP, handler)
		},
	}
}

func serve(logger *zap.Logger, cfg config.HTTPConfig, handler http.Handler) error {
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-quit:
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// newRouter wires the admin endpoints.
func newRouter(a *app, reg *prometheus.Registry) (http.Handler, error) {
	httpMetrics, err := metrics.NewHTTP(reg)
	if err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}

	r := chi.NewRouter()
	r.Use(jsonRecoverer(a.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(a.logger))
	r.Use(chiTransport.BearerAuthMiddleware(a.cfg.Auth.APIKeys))
	r.Use(httpMetrics.Middleware())

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Route("/collections/{name}", func(r chi.Router) {
		r.Get("/indexes", a.handleIndexes)
		r.Post("/reconcile", a.handleReconcile)
	})
	return r, nil
}

type indexResponse struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
	Keys   string   `json:"keys"`
	Unique bool     `json:"unique"`
}

type reconcileResponse struct {
	Created []string          `json:"created"`
	Dropped []string          `json:"dropped"`
	Skipped []string          `json:"skipped"`
	Failed  map[string]string `json:"failed,omitempty"`
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.client.Ping(ctx); err != nil {
		logpkg.FromContext(r.Context()).Warn("Health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

func (a *app) handleIndexes(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	m, err := a.collection(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_collection", err.Error())
		return
	}
	indexes, err := m.Indexes(r.Context())
	if err != nil {
		logpkg.FromContext(r.Context()).Error("Failed to list indexes", zap.String("collection", name), zap.Error(err))
		writeError(w, http.StatusBadGateway, "list_failed", "failed to list indexes")
		return
	}

	out := make([]indexResponse, 0, len(indexes))
	for _, idx := range indexes {
		fields := make([]string, 0, len(idx.Fields()))
		for _, f := range idx.Fields() {
			fields = append(fields, f.String())
		}
		out = append(out, indexResponse{Name: idx.Name(), Fields: fields, Keys: idx.String(), Unique: idx.Unique()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *app) handleReconcile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := a.cfg.Collection(name); !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("collection %q is not configured", name))
		return
	}
	report, err := a.reconcile(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_declaration", err.Error())
		return
	}

	resp := reconcileResponse{
		Created: nonNil(report.Created),
		Dropped: nonNil(report.Dropped),
		Skipped: nonNil(report.Skipped),
	}
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusMultiStatus
		resp.Failed = make(map[string]string, len(report.Failed))
		for _, f := range report.Failed {
			resp.Failed[f.Index] = f.Err.Error()
		}
	}
	writeJSON(w, status, resp)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits one log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
