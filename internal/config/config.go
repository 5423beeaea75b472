// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Exchange ExchangeConfig
	Sync     SyncConfig
	Pricing  PricingConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	// URL is a pgx connection string; empty selects the in-memory store.
	URL string
}

type RedisConfig struct {
	// URL is a redis connection string; empty disables the cache and the
	// distributed sync lock.
	URL string
	TTL time.Duration
}

type ExchangeConfig struct {
	APIKey    string
	SecretKey string
	Timeout   time.Duration
}

type SyncConfig struct {
	Timeout time.Duration
	LockTTL time.Duration
}

type PricingConfig struct {
	// QuoteAssets are tried in order when resolving an asset's trading
	// pair; stablecoins always price at 1.
	QuoteAssets []string
	// WatchAssets are broadcast over the price stream on each refresh.
	WatchAssets []string
	// RefreshInterval drives the background price broadcast loop.
	RefreshInterval time.Duration
}

// Load reads configuration from the environment. A missing .env file is not
// an error; deployed environments inject variables directly.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: envOr("PORT", "8080"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
			TTL: envDuration("REDIS_CACHE_TTL", 30*time.Second),
		},
		Exchange: ExchangeConfig{
			APIKey:    os.Getenv("BINANCE_API_KEY"),
			SecretKey: os.Getenv("BINANCE_SECRET_KEY"),
			Timeout:   envDuration("EXCHANGE_TIMEOUT", 10*time.Second),
		},
		Sync: SyncConfig{
			Timeout: envDuration("SYNC_TIMEOUT", 30*time.Second),
			LockTTL: envDuration("SYNC_LOCK_TTL", 5*time.Minute),
		},
		Pricing: PricingConfig{
			QuoteAssets:     envList("QUOTE_ASSETS", []string{"USDT", "USDC", "BTC", "ETH"}),
			WatchAssets:     envList("WATCH_ASSETS", []string{"BTC", "ETH", "SOL"}),
			RefreshInterval: envDuration("PRICE_REFRESH_INTERVAL", 30*time.Second),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare numbers are seconds.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
