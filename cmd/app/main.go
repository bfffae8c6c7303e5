package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"coach-attendance/internal/cache"
	"coach-attendance/internal/config"
	attendanceBulkMark "coach-attendance/internal/http-server/handlers/attendance/bulkmark"
	attendanceCorrect "coach-attendance/internal/http-server/handlers/attendance/correct"
	attendanceGet "coach-attendance/internal/http-server/handlers/attendance/get"
	attendanceHistory "coach-attendance/internal/http-server/handlers/attendance/history"
	attendanceSelfMark "coach-attendance/internal/http-server/handlers/attendance/selfmark"
	reportBatch "coach-attendance/internal/http-server/handlers/reports/batch"
	reportStudent "coach-attendance/internal/http-server/handlers/reports/student"
	sessionClose "coach-attendance/internal/http-server/handlers/sessions/close"
	sessionGet "coach-attendance/internal/http-server/handlers/sessions/get"
	sessionOpen "coach-attendance/internal/http-server/handlers/sessions/open"
	"coach-attendance/internal/lock"
	svc "coach-attendance/internal/service"
	"coach-attendance/internal/storage/postgres"
	slogpretty "coach-attendance/pkg/handlers/slogPretty"
	"coach-attendance/pkg/middleware/mwLogger"
	"coach-attendance/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {

	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting attendance API", slog.String("env", cfg.Env))
	log.Debug("Debug messages are enabled")

	storage, err := postgres.New(cfg.StoragePath)
	if err != nil {
		log.Error("Failed to init storage", sl.Err(err))
		os.Exit(1)
	}

	locker, err := lock.NewRedisLock(cfg.RedisAddr)
	if err != nil {
		log.Error("Failed to init redis lock", sl.Err(err))
		os.Exit(1)
	}

	summaryCache, err := cache.NewRedisCache(cfg.RedisAddr)
	if err != nil {
		log.Error("Failed to init redis cache", sl.Err(err))
		os.Exit(1)
	}

	service := svc.NewService(storage, locker, summaryCache, cfg.Attendance.LockTTL, cfg.Attendance.SummaryCacheTTL)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(mwLogger.New(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)
	router.Use(CORS)

	// Sessions
	router.Get("/sessions", sessionGet.New(log, service))
	router.Get("/sessions/{id}", sessionGet.New(log, service))
	router.Post("/sessions/{id}/open", sessionOpen.New(log, service))
	router.Post("/sessions/{id}/close", sessionClose.New(log, service))

	// Attendance
	router.Get("/attendance", attendanceGet.New(log, service))
	router.Post("/attendance/bulk-mark", attendanceBulkMark.New(log, service))
	router.Post("/attendance/self-mark", attendanceSelfMark.New(log, service))
	router.Post("/attendance/corrections", attendanceCorrect.New(log, service))
	router.Get("/attendance/corrections", attendanceHistory.New(log, service))

	// Reports
	router.Get("/reports/students/{id}", reportStudent.New(log, service))
	router.Get("/reports/batches/{id}", reportBatch.New(log, service))

	serv := &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	serverErrCh := make(chan error, 1)

	go func() {
		log.Info("Starting HTTP server", slog.String("addr", cfg.Address))
		if err := serv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		} else {
			serverErrCh <- nil
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			log.Error("HTTP server stopped unexpectedly", sl.Err(err))
		} else {
			log.Info("HTTP server stopped gracefully")
		}
	}

	shutdownTimeout := cfg.HTTPServer.ShutdownTimeout

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("Shutting down HTTP server", slog.String("timeout", shutdownTimeout.String()))

	if err := serv.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", sl.Err(err))
	} else {
		log.Info("Server shutdown complete")
	}

	if storage != nil {
		if err := storage.Close(); err != nil {
			log.Error("Failed to close storage", sl.Err(err))
		} else {
			log.Info("Storage closed")
		}
	} else {
		log.Debug("Storage is nil, nothing to close")
	}

	if locker != nil {
		if err := locker.Close(); err != nil {
			log.Error("Failed to close locker", sl.Err(err))
		} else {
			log.Info("Locker closed")
		}
	}

	if summaryCache != nil {
		if err := summaryCache.Close(); err != nil {
			log.Error("Failed to close cache", sl.Err(err))
		} else {
			log.Info("Cache closed")
		}
	}

	log.Info("Shutdown finished, server stopped")

}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
