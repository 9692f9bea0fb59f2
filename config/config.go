package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cryptoscope/internal/calendar"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Universe
	Symbols     []string
	Timeframes  []string
	CandleLimit int
	HTFInterval string

	// Engine
	RefreshSchedule   string
	ProfileResolution int
	HTFResolution     int
	Workers           int
	FetchTimeout      time.Duration
	RingCapacity      int

	// Binance
	BinanceBaseURL string
	BinanceRPS     float64

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	HTTPAddr      string
	MetricsAddr   string
	LogLevel      string

	// Alert sinks (optional)
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// ValidInterval reports whether tf is a Binance kline interval.
func ValidInterval(tf string) bool {
	_, ok := calendar.IntervalDuration(tf)
	return ok
}

// Load reads configuration from the environment, after loading a .env file
// when one is present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("[config] no .env file, using process environment")
	}

	cfg := &Config{
		Symbols:     ParseSymbols(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")),
		CandleLimit: getEnvInt("CANDLE_LIMIT", 500),
		HTFInterval: getEnv("HTF_INTERVAL", "1h"),

		RefreshSchedule:   getEnv("REFRESH_SCHEDULE", "@every 30s"),
		ProfileResolution: getEnvInt("PROFILE_RESOLUTION", 48),
		HTFResolution:     getEnvInt("HTF_RESOLUTION", 12),
		Workers:           getEnvInt("WORKERS", 4),
		FetchTimeout:      time.Duration(getEnvInt("FETCH_TIMEOUT_SEC", 15)) * time.Second,
		RingCapacity:      getEnvInt("RING_CAPACITY", 1024),

		BinanceBaseURL: getEnv("BINANCE_BASE_URL", "https://api.binance.com"),
		BinanceRPS:     getEnvFloat("BINANCE_RPS", 10),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/cryptoscope.db"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}

	tfs, err := ParseTimeframes(getEnv("TIMEFRAMES", "15m,1h,4h"))
	if err != nil {
		return nil, err
	}
	cfg.Timeframes = tfs

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: SYMBOLS is empty")
	}
	if len(c.Timeframes) == 0 {
		return fmt.Errorf("config: TIMEFRAMES is empty")
	}
	if !ValidInterval(c.HTFInterval) {
		return fmt.Errorf("config: invalid HTF_INTERVAL %q", c.HTFInterval)
	}
	if c.CandleLimit < 2 || c.CandleLimit > 1000 {
		return fmt.Errorf("config: CANDLE_LIMIT must be in [2, 1000], got %d", c.CandleLimit)
	}
	if c.ProfileResolution < 2 || c.HTFResolution < 2 {
		return fmt.Errorf("config: profile resolutions must be >= 2")
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: WORKERS must be >= 1, got %d", c.Workers)
	}
	if c.BinanceRPS <= 0 {
		return fmt.Errorf("config: BINANCE_RPS must be > 0")
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		return fmt.Errorf("config: TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	return nil
}

// ParseSymbols splits a comma-separated symbol list, upper-cased and
// de-duplicated, preserving order.
func ParseSymbols(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// ParseTimeframes splits a comma-separated interval list. Intervals are case
// sensitive ("1m" is a minute, "1M" a month).
func ParseTimeframes(s string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		if !ValidInterval(p) {
			return nil, fmt.Errorf("config: invalid timeframe %q", p)
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("[config] invalid integer, using default", "key", key, "value", v)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("[config] invalid number, using default", "key", key, "value", v)
		return fallback
	}
	return f
}
