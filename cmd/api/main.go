package main

import (
	"context"
	"crypto/subtle"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/pulsefeed/pulsefeed/internal/api"
	"github.com/pulsefeed/pulsefeed/internal/config"
	"github.com/pulsefeed/pulsefeed/internal/orchestrator"
	"github.com/pulsefeed/pulsefeed/internal/ratelimit"
	"github.com/pulsefeed/pulsefeed/internal/scheduler"
	"github.com/pulsefeed/pulsefeed/internal/sentiment"
	"github.com/pulsefeed/pulsefeed/internal/source"
	"github.com/pulsefeed/pulsefeed/internal/storage"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
	if err != nil {
		logger.Fatal("init store", zap.Error(err))
	}

	ctx := context.Background()
	if err := seedKeywords(ctx, store, cfg.Keywords); err != nil {
		logger.Fatal("seed keywords", zap.Error(err))
	}

	adapters := buildAdapters(ctx, cfg, store, logger)
	if len(adapters) == 0 {
		logger.Fatal("no source adapters configured")
	}

	tracker := ratelimit.NewTracker(store, logger)
	tracker.SetBudget("reddit", ratelimit.Budget{Calls: 60, Window: time.Minute})
	tracker.SetBudget("telegram", ratelimit.Budget{Calls: 20, Window: time.Minute})

	orch := orchestrator.New(store, tracker, sentiment.NewScorer(nil), source.Pacing{
		MaxItems: cfg.MaxItemsPerCycle,
		Delay:    cfg.FetchDelay,
	}, logger)

	sched, err := scheduler.New(cfg.CollectCron, adapters, orch, store, logger)
	if err != nil {
		logger.Fatal("init scheduler", zap.Error(err))
	}
	sched.Start()

	r := gin.Default()
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPass != "" {
		r.Use(basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass))
	}
	api.NewServer(store, sched, logger).RegisterRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.AppPort, Handler: r}
	go func() {
		logger.Info("api server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server exit", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}

func seedKeywords(ctx context.Context, store *storage.Store, terms []string) error {
	seeds := make([]storage.KeywordSeed, 0, len(terms))
	for _, term := range terms {
		seeds = append(seeds, storage.KeywordSeed{Term: term, Category: "crypto"})
	}
	return store.SeedKeywords(ctx, seeds)
}

// buildAdapters constructs every configured source adapter. A failing
// constructor excludes that source and records the failure; the rest keep
// running.
func buildAdapters(ctx context.Context, cfg *config.Config, store *storage.Store, logger *zap.Logger) []source.Adapter {
	var adapters []source.Adapter

	reddit, err := source.NewRedditAdapter(cfg.RedditSubreddits, cfg.RedditUserAgent)
	if err != nil {
		logger.Warn("reddit adapter disabled", zap.Error(err))
		logInitError(ctx, store, logger, "reddit: "+err.Error())
	} else {
		adapters = append(adapters, reddit)
	}

	telegram, err := source.NewTelegramAdapter(cfg.TelegramChannels)
	if err != nil {
		logger.Warn("telegram adapter disabled", zap.Error(err))
		logInitError(ctx, store, logger, "telegram: "+err.Error())
	} else {
		adapters = append(adapters, telegram)
	}

	for _, a := range adapters {
		if _, err := store.EnsureSource(ctx, a.Name()); err != nil {
			logger.Warn("ensure source", zap.String("source", a.Name()), zap.Error(err))
		}
	}
	return adapters
}

func logInitError(ctx context.Context, store *storage.Store, logger *zap.Logger, msg string) {
	if err := store.LogError(ctx, nil, storage.ErrorKindInitialization, msg); err != nil {
		logger.Warn("log init error", zap.Error(err))
	}
}

// basicAuthMiddleware gates every route except /health behind a single
// operator credential pair.
func basicAuthMiddleware(user, pass string) gin.HandlerFunc {
	uBytes := []byte(user)
	pBytes := []byte(pass)

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		u, p, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), uBytes) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), pBytes) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="Restricted"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}
