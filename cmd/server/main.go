package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gerenciadorbet/ledger-engine/internal/account"
	"github.com/gerenciadorbet/ledger-engine/internal/bootstrap"
	"github.com/gerenciadorbet/ledger-engine/internal/config"
	"github.com/gerenciadorbet/ledger-engine/internal/logger"
	"github.com/gerenciadorbet/ledger-engine/internal/metrics"
	"github.com/gerenciadorbet/ledger-engine/internal/notify"
	"github.com/gerenciadorbet/ledger-engine/internal/scheduler"
)

const serviceName = "ledger-engine"

func main() {
	configPath := flag.String("config", os.Getenv("LEDGER_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(serviceName, cfg.App, cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- WebSocket hub ---
	hub := notify.NewHub(log)
	go hub.Run(ctx)

	deps, err := bootstrap.Open(ctx, cfg, log, hub)
	if err != nil {
		return err
	}
	defer deps.Close()

	// --- Scheduled reconciliation ---
	if cfg.Cron.Enabled {
		runner := scheduler.New(log, ctx)
		sweep := scheduler.NewSweep(deps.Store, deps.Service, log)
		if _, err := runner.Add(cfg.Cron.Reconcile, sweep.Job); err != nil {
			return fmt.Errorf("schedule reconcile %q: %w", cfg.Cron.Reconcile, err)
		}
		runner.Start()
		defer runner.Stop()
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"` + serviceName + `"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	h := account.NewHandler(deps.Service, log)
	r.Route("/api/v1", func(r chi.Router) {
		// Live notifications for one user: /api/v1/ws?user_id=...
		r.Get("/ws", hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			h.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("ledger-engine listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	log.Info("shutting down ledger-engine")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
