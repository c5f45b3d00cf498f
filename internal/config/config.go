package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries all process settings. List values are materialized once at
// load time; the scheduler and adapters receive them by value and never
// mutate them.
type Config struct {
	AppPort string

	PostgresDSN string
	RedisAddr   string

	// CollectCron drives the recurring collection cycle, e.g. "@every 30m".
	CollectCron string

	// MaxItemsPerCycle bounds one adapter batch per criterion.
	MaxItemsPerCycle int

	// FetchDelay is the pause between criteria within one source cycle.
	FetchDelay time.Duration

	// Keywords tracked across all sources (seeded into storage on startup).
	Keywords []string

	RedditSubreddits []string
	RedditUserAgent  string

	TelegramChannels []string

	BasicAuthUser string
	BasicAuthPass string
}

func Load() *Config {
	cfg := &Config{
		AppPort:     getEnv("APP_PORT", "9000"),
		PostgresDSN: getEnv("POSTGRES_DSN", "host=localhost user=pulsefeed password=pulsefeed dbname=pulsefeed port=5432 sslmode=disable TimeZone=UTC"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),

		CollectCron:      getEnv("COLLECT_CRON", "@every 30m"),
		MaxItemsPerCycle: getEnvInt("MAX_ITEMS_PER_CYCLE", 100),
		FetchDelay:       getEnvDuration("FETCH_DELAY", 2*time.Second),

		Keywords: getEnvList("KEYWORDS", []string{
			"Bitcoin", "BTC", "Ethereum", "ETH", "DeFi", "NFT",
			"crypto", "blockchain", "altcoins", "Solana", "Cardano",
			"Polygon", "Chainlink", "Uniswap", "Aave", "Compound",
		}),

		RedditSubreddits: getEnvList("REDDIT_SUBREDDITS", []string{
			"CryptoCurrency", "Bitcoin", "ethereum", "DeFi",
			"NFT", "altcoins", "CryptoNews", "CryptoMarkets",
		}),
		RedditUserAgent: getEnv("REDDIT_USER_AGENT", "pulsefeed/1.0"),

		TelegramChannels: getEnvList("TELEGRAM_CHANNELS", []string{
			"bitcoinmagazine", "ethereum", "defi_news", "crypto", "blockchain",
		}),

		BasicAuthUser: getEnv("APP_BASIC_USER", ""),
		BasicAuthPass: getEnv("APP_BASIC_PASS", ""),
	}

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return def
}

// getEnvList parses a comma-separated env value, trimming blanks.
func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
