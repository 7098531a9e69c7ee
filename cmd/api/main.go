package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"restaurant-voice/internal/audit"
	"restaurant-voice/internal/auth"
	"restaurant-voice/internal/cache"
	"restaurant-voice/internal/calls"
	"restaurant-voice/internal/config"
	"restaurant-voice/internal/httpapi"
	"restaurant-voice/internal/knowledge"
	"restaurant-voice/internal/reconcile"
	"restaurant-voice/internal/reporting"
	"restaurant-voice/internal/telephony"
	"restaurant-voice/internal/tenant"
	"restaurant-voice/internal/webhook"
	"restaurant-voice/pkg/logger"
	"restaurant-voice/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	retry := utils.ConnectRetry{Logger: log}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{}, retry)
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis is optional; without it the cache lives in-process only.
	cacheOpts := cache.Options{
		DefaultTTL: cfg.Cache.TTL,
		MaxEntries: cfg.Cache.MaxEntries,
		OpTimeout:  cfg.Cache.OpTimeout,
		Logger:     log,
	}
	// An unreachable Redis at boot is not fatal: the manager falls back per
	// call and picks Redis up again once it answers.
	if cfg.Redis.URL != "" {
		redisCfg := utils.RedisConfig{URL: cfg.Redis.URL}
		rdb, err := utils.NewRedisClient(redisCfg)
		if err != nil {
			log.Warn("invalid redis url, caching in memory", "err", err)
		} else {
			defer rdb.Close()
			if err := utils.PingRedis(rootCtx, rdb, redisCfg, utils.ConnectRetry{Logger: log, MaxElapsedTime: 5 * time.Second}); err != nil {
				log.Warn("redis unreachable at startup", "err", err)
			}
			cacheOpts.Remote = cache.NewRedisStore(rdb)
		}
	}
	cacheManager := cache.NewManager(cacheOpts)
	defer cacheManager.Close()

	phoneStore := tenant.NewPostgresStore(db)
	tenants := tenant.NewResolver(phoneStore, tenant.DefaultLookupTimeout, log)
	callRepo := calls.NewPostgresRepository(db)

	vapi := telephony.NewVapiClient(telephony.VapiClientConfig{
		BaseURL: cfg.Vapi.BaseURL,
		APIKey:  cfg.Vapi.APIKey,
		Timeout: cfg.Vapi.Timeout,
	})
	fetcher := reconcile.NewFetcher(vapi, cacheManager, tenants, callRepo, log)
	scheduler, err := reconcile.NewScheduler(fetcher, reconcile.SchedulerConfig{
		Workers:      cfg.Reconcile.Workers,
		FetchTimeout: cfg.Reconcile.FetchTimeout,
		Logger:       log,
	})
	if err != nil {
		log.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}

	deps := routeDeps{
		authMW:     auth.RequireAccessToken(authManager),
		vapiSecret: cfg.Vapi.SecretKey,
		webhook:    webhook.Handler{Dispatcher: webhook.NewDispatcher(scheduler, cacheManager, tenants, log)},
		api: httpapi.Handlers{
			Calls:     callRepo,
			Reporting: reporting.NewService(callRepo),
			Phones:    tenants,
			Cache:     cacheManager,
			Audit:     audit.NewService(audit.NewPostgresRepository(db), log),
		},
	}
	if cfg.KnowledgeEnabled() {
		svc := knowledge.NewService(knowledge.Options{
			Cache: cacheManager,
			Embedder: knowledge.NewOpenAIEmbedder(knowledge.OpenAIConfig{
				BaseURL:    cfg.Embedding.BaseURL,
				APIKey:     cfg.Embedding.APIKey,
				Model:      cfg.Embedding.Model,
				Dimensions: cfg.Embedding.Dimensions,
			}),
			Searcher: knowledge.NewPostgresSearcher(db),
			Tenants:  tenant.NewChain(tenants),
			Logger:   log,
		})
		deps.knowledge = &knowledge.Handler{Service: svc}
	} else {
		log.Warn("OPENAI_API_KEY not set, knowledge tool disabled")
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Error("scheduler shutdown failed", "err", err, "pending", scheduler.PendingCount())
	}

}
