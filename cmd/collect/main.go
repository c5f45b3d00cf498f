package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/pulsefeed/pulsefeed/internal/config"
	"github.com/pulsefeed/pulsefeed/internal/orchestrator"
	"github.com/pulsefeed/pulsefeed/internal/ratelimit"
	"github.com/pulsefeed/pulsefeed/internal/sentiment"
	"github.com/pulsefeed/pulsefeed/internal/source"
	"github.com/pulsefeed/pulsefeed/internal/storage"
)

// One-shot collection entrypoint: runs a single cycle for every configured
// source and exits. Suited for cron jobs and manual spot checks.
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

	seeds := make([]storage.KeywordSeed, 0, len(cfg.Keywords))
	for _, term := range cfg.Keywords {
		seeds = append(seeds, storage.KeywordSeed{Term: term, Category: "crypto"})
	}
	if err := store.SeedKeywords(ctx, seeds); err != nil {
		logger.Fatal("seed keywords", zap.Error(err))
	}

	var adapters []source.Adapter
	if reddit, err := source.NewRedditAdapter(cfg.RedditSubreddits, cfg.RedditUserAgent); err != nil {
		logger.Warn("reddit adapter disabled", zap.Error(err))
	} else {
		adapters = append(adapters, reddit)
	}
	if telegram, err := source.NewTelegramAdapter(cfg.TelegramChannels); err != nil {
		logger.Warn("telegram adapter disabled", zap.Error(err))
	} else {
		adapters = append(adapters, telegram)
	}
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

	for _, adapter := range adapters {
		job, err := orch.RunCycle(ctx, adapter)
		if err != nil {
			logger.Error("cycle aborted", zap.String("source", adapter.Name()), zap.Error(err))
			continue
		}
		logger.Info("cycle finished",
			zap.String("source", adapter.Name()),
			zap.String("state", job.State),
			zap.Int("items_ingested", job.ItemsIngested))
	}
}
