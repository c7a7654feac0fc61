package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerConfig     ServerConfig     `json:"server"`
	LoggingConfig    LoggingConfig    `json:"logging"`
	FeedConfig       FeedConfig       `json:"feed"`
	LogConfig        LogConfig        `json:"log"`
	IndicatorsConfig IndicatorsConfig `json:"indicators"`
	AnalyzerConfig   AnalyzerConfig   `json:"analyzer"`
	LLMConfig        LLMConfig        `json:"llm"`
	VoiceConfig      VoiceConfig      `json:"voice"`
	StateConfig      StateConfig      `json:"state"`
	VaultConfig      VaultConfig      `json:"vault"`
	BreakerConfig    BreakerConfig    `json:"breaker"`
}

type ServerConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	AllowedOrigins  string `json:"allowed_origins"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

type LoggingConfig struct {
	Level   string `json:"level"`   // DEBUG, INFO, WARN, ERROR
	Console bool   `json:"console"` // human-readable instead of JSON
}

// FeedConfig describes the upstream exchange stream.
type FeedConfig struct {
	Driver         string   `json:"driver"` // "binance" or "mock"
	URL            string   `json:"url"`
	Symbols        []string `json:"symbols"`
	ReadTimeoutSec int      `json:"read_timeout_sec"`
	MaxBackoffSec  int      `json:"max_backoff_sec"`
}

// LogConfig describes the durable trade/alert log.
type LogConfig struct {
	Driver      string `json:"driver"` // "redis" or "memory"
	RedisAddr   string `json:"redis_addr"`
	RedisPass   string `json:"redis_pass"`
	RedisDB     int    `json:"redis_db"`
	TradesTopic string `json:"trades_topic"`
	AlertsTopic string `json:"alerts_topic"`
	Group       string `json:"group"`
	MaxLen      int64  `json:"max_len"` // approximate stream cap
}

type IndicatorsConfig struct {
	RSIPeriod          int     `json:"rsi_period"`
	RSIOverbought      float64 `json:"rsi_overbought"`
	RSIOversold        float64 `json:"rsi_oversold"`
	VolumeWindow       int     `json:"volume_window"`
	VolumeThreshold    float64 `json:"volume_threshold"`
	PriceWindowSeconds int     `json:"price_window_seconds"`
	PriceThreshold     float64 `json:"price_threshold"`
	Levels             []int   `json:"levels"`
}

type AnalyzerConfig struct {
	CooldownSeconds int `json:"cooldown_seconds"`
	TradeQueueSize  int `json:"trade_queue_size"`
	AlertQueueSize  int `json:"alert_queue_size"`
}

type LLMConfig struct {
	Enabled     bool    `json:"enabled"`
	Provider    string  `json:"provider"` // "gemini", "openai", or "deepseek"
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TimeoutSec  int     `json:"timeout_sec"`
	Persona     string  `json:"persona"` // "commentator" or "desk"
}

type VoiceConfig struct {
	Enabled    bool              `json:"enabled"`
	APIKey     string            `json:"api_key"`
	VoiceID    string            `json:"voice_id"`
	ModelID    string            `json:"model_id"`
	TimeoutSec int               `json:"timeout_sec"`
	Overrides  map[string]string `json:"overrides"` // symbol -> voice ID
}

// StateConfig controls the optional Redis live-state cache.
type StateConfig struct {
	Enabled      bool   `json:"enabled"`
	RedisAddr    string `json:"redis_addr"`
	RedisPass    string `json:"redis_pass"`
	RedisDB      int    `json:"redis_db"`
	HistoryLimit int64  `json:"history_limit"`
	TickTTLSec   int    `json:"tick_ttl_sec"`
	DedupTTLSec  int    `json:"dedup_ttl_sec"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// BreakerConfig controls the circuit breaker guarding LLM/TTS calls.
type BreakerConfig struct {
	Enabled     bool `json:"enabled"`
	MaxFailures int  `json:"max_failures"`
	CooldownSec int  `json:"cooldown_sec"`
}

// Load reads config.json if present, then applies environment overrides.
// A .env file in the working directory is honored before reading the
// environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8000)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Console = getEnvOrDefault("LOG_CONSOLE", "false") == "true"

	// Feed config
	cfg.FeedConfig.Driver = getEnvOrDefault("FEED_DRIVER", "binance")
	cfg.FeedConfig.URL = getEnvOrDefault("FEED_URL", "wss://stream.binance.us:9443/ws/")
	if symbols := os.Getenv("FEED_SYMBOLS"); symbols != "" {
		cfg.FeedConfig.Symbols = splitList(symbols)
	}
	if len(cfg.FeedConfig.Symbols) == 0 {
		cfg.FeedConfig.Symbols = []string{"btcusdt", "ethusdt", "solusdt"}
	}
	cfg.FeedConfig.ReadTimeoutSec = getEnvIntOrDefault("FEED_READ_TIMEOUT", 30)
	cfg.FeedConfig.MaxBackoffSec = getEnvIntOrDefault("FEED_MAX_BACKOFF", 60)

	// Durable log config
	cfg.LogConfig.Driver = getEnvOrDefault("TRADELOG_DRIVER", "redis")
	cfg.LogConfig.RedisAddr = getEnvOrDefault("TRADELOG_REDIS_ADDR", "localhost:6379")
	cfg.LogConfig.RedisPass = getEnvOrDefault("TRADELOG_REDIS_PASSWORD", cfg.LogConfig.RedisPass)
	cfg.LogConfig.RedisDB = getEnvIntOrDefault("TRADELOG_REDIS_DB", 0)
	cfg.LogConfig.TradesTopic = getEnvOrDefault("TRADELOG_TRADES_TOPIC", "crypto-trades")
	cfg.LogConfig.AlertsTopic = getEnvOrDefault("TRADELOG_ALERTS_TOPIC", "crypto-alerts")
	cfg.LogConfig.Group = getEnvOrDefault("TRADELOG_GROUP", "ai-processor-group")
	cfg.LogConfig.MaxLen = int64(getEnvIntOrDefault("TRADELOG_MAX_LEN", 100000))

	// Indicator config
	cfg.IndicatorsConfig.RSIPeriod = getEnvIntOrDefault("RSI_PERIOD", 60)
	cfg.IndicatorsConfig.RSIOverbought = getEnvFloatOrDefault("RSI_OVERBOUGHT", 70)
	cfg.IndicatorsConfig.RSIOversold = getEnvFloatOrDefault("RSI_OVERSOLD", 30)
	cfg.IndicatorsConfig.VolumeWindow = getEnvIntOrDefault("VOLUME_WINDOW", 30)
	cfg.IndicatorsConfig.VolumeThreshold = getEnvFloatOrDefault("VOLUME_THRESHOLD", 5.0)
	cfg.IndicatorsConfig.PriceWindowSeconds = getEnvIntOrDefault("PRICE_WINDOW_SECONDS", 60)
	cfg.IndicatorsConfig.PriceThreshold = getEnvFloatOrDefault("PRICE_THRESHOLD", 1.0)
	if levels := os.Getenv("PSYCH_LEVELS"); levels != "" {
		cfg.IndicatorsConfig.Levels = parseLevels(levels)
	}

	// Analyzer config
	cfg.AnalyzerConfig.CooldownSeconds = getEnvIntOrDefault("ALERT_COOLDOWN_SECONDS", 300)
	cfg.AnalyzerConfig.TradeQueueSize = getEnvIntOrDefault("TRADE_QUEUE_SIZE", 1000)
	cfg.AnalyzerConfig.AlertQueueSize = getEnvIntOrDefault("ALERT_QUEUE_SIZE", 10)

	// LLM config
	cfg.LLMConfig.Enabled = getEnvOrDefault("LLM_ENABLED", "true") == "true"
	cfg.LLMConfig.Provider = getEnvOrDefault("LLM_PROVIDER", "gemini")
	cfg.LLMConfig.APIKey = getEnvOrDefault("LLM_API_KEY", cfg.LLMConfig.APIKey)
	cfg.LLMConfig.Model = getEnvOrDefault("LLM_MODEL", "")
	cfg.LLMConfig.MaxTokens = getEnvIntOrDefault("LLM_MAX_TOKENS", 100)
	cfg.LLMConfig.Temperature = getEnvFloatOrDefault("LLM_TEMPERATURE", 0.7)
	cfg.LLMConfig.TimeoutSec = getEnvIntOrDefault("LLM_TIMEOUT", 30)
	cfg.LLMConfig.Persona = getEnvOrDefault("LLM_PERSONA", "commentator")

	// Voice config
	cfg.VoiceConfig.Enabled = getEnvOrDefault("VOICE_ENABLED", "true") == "true"
	cfg.VoiceConfig.APIKey = getEnvOrDefault("ELEVEN_API_KEY", cfg.VoiceConfig.APIKey)
	cfg.VoiceConfig.VoiceID = getEnvOrDefault("ELEVEN_VOICE_ID", "Brian")
	cfg.VoiceConfig.ModelID = getEnvOrDefault("ELEVEN_MODEL_ID", "eleven_turbo_v2_5")
	cfg.VoiceConfig.TimeoutSec = getEnvIntOrDefault("VOICE_TIMEOUT", 30)

	// Live-state config
	cfg.StateConfig.Enabled = getEnvOrDefault("STATE_ENABLED", "false") == "true"
	cfg.StateConfig.RedisAddr = getEnvOrDefault("STATE_REDIS_ADDR", cfg.LogConfig.RedisAddr)
	cfg.StateConfig.RedisPass = getEnvOrDefault("STATE_REDIS_PASSWORD", cfg.LogConfig.RedisPass)
	cfg.StateConfig.RedisDB = getEnvIntOrDefault("STATE_REDIS_DB", 0)
	cfg.StateConfig.HistoryLimit = int64(getEnvIntOrDefault("STATE_HISTORY_LIMIT", 500))
	cfg.StateConfig.TickTTLSec = getEnvIntOrDefault("STATE_TICK_TTL", 60)
	cfg.StateConfig.DedupTTLSec = getEnvIntOrDefault("STATE_DEDUP_TTL", 30)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "pulsetrade/api-keys")
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"

	// Breaker config
	cfg.BreakerConfig.Enabled = getEnvOrDefault("BREAKER_ENABLED", "true") == "true"
	cfg.BreakerConfig.MaxFailures = getEnvIntOrDefault("BREAKER_MAX_FAILURES", 5)
	cfg.BreakerConfig.CooldownSec = getEnvIntOrDefault("BREAKER_COOLDOWN", 60)
}

func (c *Config) validate() error {
	if c.IndicatorsConfig.RSIPeriod < 1 {
		return fmt.Errorf("rsi_period must be at least 1, got %d", c.IndicatorsConfig.RSIPeriod)
	}
	if c.IndicatorsConfig.RSIOversold >= c.IndicatorsConfig.RSIOverbought {
		return fmt.Errorf("rsi_oversold %.1f must be below rsi_overbought %.1f",
			c.IndicatorsConfig.RSIOversold, c.IndicatorsConfig.RSIOverbought)
	}
	if c.IndicatorsConfig.VolumeWindow < minVolumeWindow {
		return fmt.Errorf("volume_window must be at least %d, got %d", minVolumeWindow, c.IndicatorsConfig.VolumeWindow)
	}
	if c.IndicatorsConfig.PriceWindowSeconds < 1 {
		return fmt.Errorf("price_window_seconds must be at least 1, got %d", c.IndicatorsConfig.PriceWindowSeconds)
	}
	if c.AnalyzerConfig.TradeQueueSize < 1 || c.AnalyzerConfig.AlertQueueSize < 1 {
		return fmt.Errorf("queue sizes must be positive")
	}
	switch c.FeedConfig.Driver {
	case "binance", "mock":
	default:
		return fmt.Errorf("unknown feed driver %q", c.FeedConfig.Driver)
	}
	switch c.LogConfig.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown tradelog driver %q", c.LogConfig.Driver)
	}
	return nil
}

// minVolumeWindow matches the spike detector's warmup requirement.
const minVolumeWindow = 5

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

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLevels(s string) []int {
	var out []int
	for _, p := range splitList(s) {
		if v, err := strconv.Atoi(p); err == nil {
			out = append(out, v)
		}
	}
	return out
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

// GenerateSampleConfig writes a config.json template with the defaults.
func GenerateSampleConfig(filename string) error {
	config := Config{
		ServerConfig: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			AllowedOrigins:  "*",
			ShutdownTimeout: 10,
		},
		LoggingConfig: LoggingConfig{
			Level:   "INFO",
			Console: false,
		},
		FeedConfig: FeedConfig{
			Driver:         "binance",
			URL:            "wss://stream.binance.us:9443/ws/",
			Symbols:        []string{"btcusdt", "ethusdt", "solusdt"},
			ReadTimeoutSec: 30,
			MaxBackoffSec:  60,
		},
		LogConfig: LogConfig{
			Driver:      "redis",
			RedisAddr:   "localhost:6379",
			TradesTopic: "crypto-trades",
			AlertsTopic: "crypto-alerts",
			Group:       "ai-processor-group",
			MaxLen:      100000,
		},
		IndicatorsConfig: IndicatorsConfig{
			RSIPeriod:          60,
			RSIOverbought:      70,
			RSIOversold:        30,
			VolumeWindow:       30,
			VolumeThreshold:    5.0,
			PriceWindowSeconds: 60,
			PriceThreshold:     1.0,
			Levels:             []int{60000, 65000, 69000, 70000, 75000, 80000, 100000},
		},
		AnalyzerConfig: AnalyzerConfig{
			CooldownSeconds: 300,
			TradeQueueSize:  1000,
			AlertQueueSize:  10,
		},
		LLMConfig: LLMConfig{
			Enabled:     true,
			Provider:    "gemini",
			APIKey:      "your_api_key_here",
			MaxTokens:   100,
			Temperature: 0.7,
			TimeoutSec:  30,
			Persona:     "commentator",
		},
		VoiceConfig: VoiceConfig{
			Enabled: true,
			APIKey:  "your_api_key_here",
			VoiceID: "Brian",
			ModelID: "eleven_turbo_v2_5",
		},
		StateConfig: StateConfig{
			Enabled:      false,
			RedisAddr:    "localhost:6379",
			HistoryLimit: 500,
			TickTTLSec:   60,
			DedupTTLSec:  30,
		},
		VaultConfig: VaultConfig{
			Enabled:    false,
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "pulsetrade/api-keys",
		},
		BreakerConfig: BreakerConfig{
			Enabled:     true,
			MaxFailures: 5,
			CooldownSec: 60,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling sample config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("error writing sample config: %w", err)
	}

	return nil
}
