package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	FeedConfig       FeedConfig       `json:"feed"`
	DetectorConfig   DetectorConfig   `json:"detector"`
	ConfluenceConfig ConfluenceConfig `json:"confluence"`
	SignalConfig     SignalConfig     `json:"signal"`
	RiskConfig       RiskConfig       `json:"risk"`
	OrdersConfig     OrdersConfig     `json:"orders"`
	ServerConfig     ServerConfig     `json:"server"`
	DatabaseConfig   DatabaseConfig   `json:"database"`
	RedisConfig      RedisConfig      `json:"redis"`
	LoggingConfig    LoggingConfig    `json:"logging"`
}

// FeedConfig holds market data feed configuration
type FeedConfig struct {
	BaseURL        string   `json:"base_url"`
	Symbols        []string `json:"symbols"`
	ReferencePairs []string `json:"reference_pairs"`
	Timeframes     []string `json:"timeframes"`
	RollingWindow  int      `json:"rolling_window"` // candles kept per series
	PaperTrading   bool     `json:"paper_trading"`  // use the in-process gateway
}

// DetectorConfig holds pattern detection configuration
type DetectorConfig struct {
	Lookback        int     `json:"lookback"`
	UltraHighVolume float64 `json:"ultra_high_volume"` // volume z-score
	HighVolume      float64 `json:"high_volume"`
	LowVolume       float64 `json:"low_volume"`
	UltraLowVolume  float64 `json:"ultra_low_volume"`
	WideSpread      float64 `json:"wide_spread"` // spread ratio
	NarrowSpread    float64 `json:"narrow_spread"`
	UpperThird      float64 `json:"upper_third"` // close position marking a strong close
	LowerThird      float64 `json:"lower_third"`
}

// ConfluenceConfig holds 3D confluence configuration
type ConfluenceConfig struct {
	AlignThreshold   float64 `json:"align_threshold"`    // dimension magnitude to vote
	EMAPeriod        int     `json:"ema_period"`
	EMADeviation     float64 `json:"ema_deviation"`      // fractional deviation for a timeframe to vote
	RelationalWindow int     `json:"relational_window"`  // bars of correlation lookback
	PreEventMinutes  int     `json:"pre_event_minutes"`  // blackout before a macro release
	PostEventMinutes int     `json:"post_event_minutes"` // trading window after a release
}

// SignalConfig holds signal gate configuration
type SignalConfig struct {
	StrengthFloor   float64 `json:"strength_floor"`
	EMADeviationMin float64 `json:"ema_deviation_min"` // entry stretch from the EMA
	RequireMacro    bool    `json:"require_macro"`     // gate on the macro window
}

// RiskConfig holds risk management configuration
type RiskConfig struct {
	Equity          float64 `json:"equity"`            // starting account equity
	RiskPerTrade    float64 `json:"risk_per_trade"`    // fraction of equity per trade
	MaxSlippage     float64 `json:"max_slippage"`      // fractional slippage bound
	MinQuantity     float64 `json:"min_quantity"`      // smallest tradable size
	DrawdownLimit   float64 `json:"drawdown_limit"`    // daily loss fraction tripping the breaker
	RewardRatio     float64 `json:"reward_ratio"`
	ATRMultiplier   float64 `json:"atr_multiplier"`
	FallbackStopPct float64 `json:"fallback_stop_pct"`
	TrailingTrigger float64 `json:"trailing_trigger"` // profit fraction activating the trail
	TrailingOffset  float64 `json:"trailing_offset"`  // trail distance fraction
}

// OrdersConfig holds order state machine configuration
type OrdersConfig struct {
	SubmitTimeout time.Duration `json:"submit_timeout"`
	CancelRetries int           `json:"cancel_retries"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

// RedisConfig holds Redis configuration for hot position state
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Pretty bool   `json:"pretty"` // console writer instead of JSON
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Feed config
	cfg.FeedConfig.BaseURL = getEnvOrDefault("FEED_BASE_URL", cfg.FeedConfig.BaseURL)
	if cfg.FeedConfig.BaseURL == "" {
		cfg.FeedConfig.BaseURL = "wss://stream.binance.com:9443"
	}
	if symbols := os.Getenv("FEED_SYMBOLS"); symbols != "" {
		cfg.FeedConfig.Symbols = splitList(symbols)
	}
	if len(cfg.FeedConfig.Symbols) == 0 {
		cfg.FeedConfig.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	}
	if refs := os.Getenv("FEED_REFERENCE_PAIRS"); refs != "" {
		cfg.FeedConfig.ReferencePairs = splitList(refs)
	}
	if len(cfg.FeedConfig.ReferencePairs) == 0 {
		cfg.FeedConfig.ReferencePairs = []string{"BTCUSDT", "ETHUSDT"}
	}
	if tfs := os.Getenv("FEED_TIMEFRAMES"); tfs != "" {
		cfg.FeedConfig.Timeframes = splitList(tfs)
	}
	if len(cfg.FeedConfig.Timeframes) == 0 {
		cfg.FeedConfig.Timeframes = []string{"1m", "5m", "15m", "1h"}
	}
	cfg.FeedConfig.RollingWindow = getEnvIntOrDefault("FEED_ROLLING_WINDOW", defaultInt(cfg.FeedConfig.RollingWindow, 100))
	cfg.FeedConfig.PaperTrading = getEnvOrDefault("PAPER_TRADING", "true") == "true"

	// Detector config
	cfg.DetectorConfig.Lookback = getEnvIntOrDefault("DETECTOR_LOOKBACK", defaultInt(cfg.DetectorConfig.Lookback, 20))
	cfg.DetectorConfig.UltraHighVolume = getEnvFloatOrDefault("DETECTOR_ULTRA_HIGH_VOLUME", defaultFloat(cfg.DetectorConfig.UltraHighVolume, 2.5))
	cfg.DetectorConfig.HighVolume = getEnvFloatOrDefault("DETECTOR_HIGH_VOLUME", defaultFloat(cfg.DetectorConfig.HighVolume, 1.5))
	cfg.DetectorConfig.LowVolume = getEnvFloatOrDefault("DETECTOR_LOW_VOLUME", defaultFloat(cfg.DetectorConfig.LowVolume, -0.5))
	cfg.DetectorConfig.UltraLowVolume = getEnvFloatOrDefault("DETECTOR_ULTRA_LOW_VOLUME", defaultFloat(cfg.DetectorConfig.UltraLowVolume, -1.5))
	cfg.DetectorConfig.WideSpread = getEnvFloatOrDefault("DETECTOR_WIDE_SPREAD", defaultFloat(cfg.DetectorConfig.WideSpread, 1.5))
	cfg.DetectorConfig.NarrowSpread = getEnvFloatOrDefault("DETECTOR_NARROW_SPREAD", defaultFloat(cfg.DetectorConfig.NarrowSpread, 0.75))
	cfg.DetectorConfig.UpperThird = getEnvFloatOrDefault("DETECTOR_UPPER_THIRD", defaultFloat(cfg.DetectorConfig.UpperThird, 0.67))
	cfg.DetectorConfig.LowerThird = getEnvFloatOrDefault("DETECTOR_LOWER_THIRD", defaultFloat(cfg.DetectorConfig.LowerThird, 0.33))

	// Confluence config
	cfg.ConfluenceConfig.AlignThreshold = getEnvFloatOrDefault("CONFLUENCE_ALIGN_THRESHOLD", defaultFloat(cfg.ConfluenceConfig.AlignThreshold, 0.3))
	cfg.ConfluenceConfig.EMAPeriod = getEnvIntOrDefault("CONFLUENCE_EMA_PERIOD", defaultInt(cfg.ConfluenceConfig.EMAPeriod, 20))
	cfg.ConfluenceConfig.EMADeviation = getEnvFloatOrDefault("CONFLUENCE_EMA_DEVIATION", defaultFloat(cfg.ConfluenceConfig.EMADeviation, 0.001))
	cfg.ConfluenceConfig.RelationalWindow = getEnvIntOrDefault("CONFLUENCE_RELATIONAL_WINDOW", defaultInt(cfg.ConfluenceConfig.RelationalWindow, 50))
	cfg.ConfluenceConfig.PreEventMinutes = getEnvIntOrDefault("CONFLUENCE_PRE_EVENT_MINUTES", defaultInt(cfg.ConfluenceConfig.PreEventMinutes, 30))
	cfg.ConfluenceConfig.PostEventMinutes = getEnvIntOrDefault("CONFLUENCE_POST_EVENT_MINUTES", defaultInt(cfg.ConfluenceConfig.PostEventMinutes, 60))

	// Signal config
	cfg.SignalConfig.StrengthFloor = getEnvFloatOrDefault("SIGNAL_STRENGTH_FLOOR", defaultFloat(cfg.SignalConfig.StrengthFloor, 0.5))
	cfg.SignalConfig.EMADeviationMin = getEnvFloatOrDefault("SIGNAL_EMA_DEVIATION_MIN", defaultFloat(cfg.SignalConfig.EMADeviationMin, 0.001))
	cfg.SignalConfig.RequireMacro = getEnvOrDefault("SIGNAL_REQUIRE_MACRO", "false") == "true"

	// Risk config
	cfg.RiskConfig.Equity = getEnvFloatOrDefault("RISK_EQUITY", defaultFloat(cfg.RiskConfig.Equity, 10000))
	cfg.RiskConfig.RiskPerTrade = getEnvFloatOrDefault("RISK_PER_TRADE", defaultFloat(cfg.RiskConfig.RiskPerTrade, 0.015))
	cfg.RiskConfig.MaxSlippage = getEnvFloatOrDefault("RISK_MAX_SLIPPAGE", defaultFloat(cfg.RiskConfig.MaxSlippage, 0.002))
	cfg.RiskConfig.MinQuantity = getEnvFloatOrDefault("RISK_MIN_QUANTITY", defaultFloat(cfg.RiskConfig.MinQuantity, 0.0001))
	cfg.RiskConfig.DrawdownLimit = getEnvFloatOrDefault("RISK_DRAWDOWN_LIMIT", defaultFloat(cfg.RiskConfig.DrawdownLimit, 0.05))
	cfg.RiskConfig.RewardRatio = getEnvFloatOrDefault("RISK_REWARD_RATIO", defaultFloat(cfg.RiskConfig.RewardRatio, 2.0))
	cfg.RiskConfig.ATRMultiplier = getEnvFloatOrDefault("RISK_ATR_MULTIPLIER", defaultFloat(cfg.RiskConfig.ATRMultiplier, 2.0))
	cfg.RiskConfig.FallbackStopPct = getEnvFloatOrDefault("RISK_FALLBACK_STOP_PCT", defaultFloat(cfg.RiskConfig.FallbackStopPct, 0.01))
	cfg.RiskConfig.TrailingTrigger = getEnvFloatOrDefault("RISK_TRAILING_TRIGGER", defaultFloat(cfg.RiskConfig.TrailingTrigger, 0.02))
	cfg.RiskConfig.TrailingOffset = getEnvFloatOrDefault("RISK_TRAILING_OFFSET", defaultFloat(cfg.RiskConfig.TrailingOffset, 0.01))

	// Orders config
	cfg.OrdersConfig.SubmitTimeout = getEnvDurationOrDefault("ORDERS_SUBMIT_TIMEOUT", defaultDuration(cfg.OrdersConfig.SubmitTimeout, 30*time.Second))
	cfg.OrdersConfig.CancelRetries = getEnvIntOrDefault("ORDERS_CANCEL_RETRIES", defaultInt(cfg.OrdersConfig.CancelRetries, 3))

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", defaultString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultString(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DATABASE_ENABLED", boolString(cfg.DatabaseConfig.Enabled)) == "true"
	cfg.DatabaseConfig.URL = getEnvOrDefault("DATABASE_URL", cfg.DatabaseConfig.URL)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.Pretty = getEnvOrDefault("LOG_PRETTY", boolString(cfg.LoggingConfig.Pretty)) == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func defaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func defaultFloat(value, fallback float64) float64 {
	if value == 0 {
		return fallback
	}
	return value
}

func defaultDuration(value, fallback time.Duration) time.Duration {
	if value == 0 {
		return fallback
	}
	return value
}

func boolString(value bool) string {
	if value {
		return "true"
	}
	return "false"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
