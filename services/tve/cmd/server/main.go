package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"templane/pkg/db"
	"templane/pkg/httpx"
	"templane/pkg/logx"
	"templane/services/tve/internal/engine"
	"templane/services/tve/internal/scheduler"
	"templane/services/tve/internal/signclient"
	"templane/services/tve/internal/snapcache"
	"templane/services/tve/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func main() {
	cfg, err := loadServerConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := logx.New(cfg.LogLevel, cfg.LogFormat, "tve")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := db.MustConnect()
	defer pool.Close()

	st := store.New(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema init failed", zap.Error(err))
	}

	var oracle engine.Oracle = engine.AllowAllOracle{}
	if cfg.VersionAdminAuthMode == "credential" {
		oracle = &engine.ScopeOracle{DB: pool, ScopeFor: engine.DefaultActionScopes()}
	}
	eng := engine.New(st, oracle, logger)

	var cache *snapcache.Cache
	if cfg.RedisAddr != "" {
		client, err := snapcache.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("redis unavailable, snapshot cache disabled", zap.Error(err))
		} else {
			cache = snapcache.New(client, cfg.SnapshotTTL)
			defer client.Close()
		}
	}

	var sign *signclient.Client
	if cfg.SignBaseURL != "" {
		sign = signclient.New(cfg.SignBaseURL)
	}

	sched := scheduler.New(logger)
	if cfg.SchedulerEnabled {
		sched.Register("due-publishes", cfg.SchedulerInterval, func(ctx context.Context) error {
			eng.ProcessDuePublishes(ctx, time.Now().UTC())
			return nil
		})
		sched.Register("due-archives", cfg.SchedulerInterval, func(ctx context.Context) error {
			eng.ProcessDueArchives(ctx, time.Now().UTC())
			return nil
		})
	}
	sched.Start(ctx)

	limiter := newFixedWindowLimiter(cfg.AssembleRateLimitPerMinute, time.Minute)

	r := chi.NewRouter()
	r.Use(httpx.RequestID)
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteJSON(w, 200, map[string]any{"status": "ok", "service": "tve"})
	})
	r.Route("/tve", func(api chi.Router) {
		registerVersionAdminRoutes(api, versionAdminDeps{
			engine:  eng,
			idem:    st,
			pool:    pool,
			cache:   cache,
			sign:    sign,
			log:     logger,
			cfg:     cfg,
			limiter: limiter,
		})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("tve listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
