package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnv              = "development"
	defaultHTTPHost         = "0.0.0.0"
	defaultHTTPPort         = 8080
	defaultRedisAddr        = "localhost:6379"
	defaultRedisDB          = 0
	defaultCacheTTLSeconds  = 30
	defaultFeedURL          = "wss://stream.binance.com:9443/stream"
	defaultSymbols          = "BTCUSDT,ETHUSDT"
	defaultReconnectSeconds = 5
	defaultEventsExchange   = "marketdata.events"
)

// Config keeps the runtime configuration for the service.
type Config struct {
	Env      string
	HTTP     HTTPConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Feed     FeedConfig
	AMQP     AMQPConfig
}

// HTTPConfig holds HTTP server related settings.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr renders the listen address in host:port form.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// PostgresConfig stores database connection parameters.
type PostgresConfig struct {
	DSN string
}

// RedisConfig stores Redis connection parameters.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig stores HTTP response cache behavior.
type CacheConfig struct {
	TTLSeconds int
}

// FeedConfig stores exchange stream parameters.
type FeedConfig struct {
	URL              string
	Symbols          []string
	ReconnectBackoff time.Duration
}

// AMQPConfig stores the optional event fanout settings. An empty URL
// disables AMQP publishing.
type AMQPConfig struct {
	URL            string
	EventsExchange string
}

// Load builds Config from environment variables.
func Load() (*Config, error) {
	host := getString("HTTP_HOST", defaultHTTPHost)
	port, err := getInt("HTTP_PORT", defaultHTTPPort)
	if err != nil {
		return nil, fmt.Errorf("parse HTTP_PORT: %w", err)
	}

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		return nil, errors.New("DATABASE_DSN is required")
	}

	redisDB, err := getInt("REDIS_DB", defaultRedisDB)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_DB: %w", err)
	}

	cacheTTL, err := getInt("CACHE_TTL_SECONDS", defaultCacheTTLSeconds)
	if err != nil {
		return nil, fmt.Errorf("parse CACHE_TTL_SECONDS: %w", err)
	}

	backoff, err := getInt("FEED_RECONNECT_SECONDS", defaultReconnectSeconds)
	if err != nil {
		return nil, fmt.Errorf("parse FEED_RECONNECT_SECONDS: %w", err)
	}

	symbols := splitSymbols(getString("SYMBOLS", defaultSymbols))
	if len(symbols) == 0 {
		return nil, errors.New("SYMBOLS must name at least one symbol")
	}

	return &Config{
		Env:  getString("APP_ENV", defaultEnv),
		HTTP: HTTPConfig{Host: host, Port: port},
		Postgres: PostgresConfig{
			DSN: dsn,
		},
		Redis: RedisConfig{
			Addr:     getString("REDIS_ADDR", defaultRedisAddr),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Cache: CacheConfig{
			TTLSeconds: cacheTTL,
		},
		Feed: FeedConfig{
			URL:              getString("FEED_WS_URL", defaultFeedURL),
			Symbols:          symbols,
			ReconnectBackoff: time.Duration(backoff) * time.Second,
		},
		AMQP: AMQPConfig{
			URL:            os.Getenv("AMQP_URL"),
			EventsExchange: getString("AMQP_EVENTS_EXCHANGE", defaultEventsExchange),
		},
	}, nil
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	symbols := make([]string, 0, len(parts))
	for _, part := range parts {
		symbol := strings.ToUpper(strings.TrimSpace(part))
		if symbol != "" {
			symbols = append(symbols, symbol)
		}
	}
	return symbols
}

func getString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to int: %w", key, value, err)
	}
	return parsed, nil
}
