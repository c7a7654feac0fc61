package config

import "testing"

// TestLoadDefaults tests the defaults applied when no file or env is set.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.FeedConfig.Driver != "binance" {
		t.Errorf("Default feed driver should be binance, got %s", cfg.FeedConfig.Driver)
	}
	if len(cfg.FeedConfig.Symbols) != 3 {
		t.Errorf("Expected 3 default symbols, got %v", cfg.FeedConfig.Symbols)
	}
	if cfg.IndicatorsConfig.RSIPeriod != 60 {
		t.Errorf("Default RSI period should be 60, got %d", cfg.IndicatorsConfig.RSIPeriod)
	}
	if cfg.IndicatorsConfig.RSIOverbought != 70 || cfg.IndicatorsConfig.RSIOversold != 30 {
		t.Errorf("Default RSI thresholds should be 70/30, got %v/%v",
			cfg.IndicatorsConfig.RSIOverbought, cfg.IndicatorsConfig.RSIOversold)
	}
	if cfg.AnalyzerConfig.CooldownSeconds != 300 {
		t.Errorf("Default cooldown should be 300s, got %d", cfg.AnalyzerConfig.CooldownSeconds)
	}
	if cfg.AnalyzerConfig.TradeQueueSize != 1000 || cfg.AnalyzerConfig.AlertQueueSize != 10 {
		t.Errorf("Default queue sizes should be 1000/10, got %d/%d",
			cfg.AnalyzerConfig.TradeQueueSize, cfg.AnalyzerConfig.AlertQueueSize)
	}
	if cfg.LogConfig.TradesTopic != "crypto-trades" || cfg.LogConfig.AlertsTopic != "crypto-alerts" {
		t.Errorf("Unexpected default topics: %s / %s", cfg.LogConfig.TradesTopic, cfg.LogConfig.AlertsTopic)
	}
	if cfg.LogConfig.Group != "ai-processor-group" {
		t.Errorf("Unexpected default consumer group: %s", cfg.LogConfig.Group)
	}
	if cfg.LLMConfig.MaxTokens != 100 {
		t.Errorf("Default LLM max tokens should be 100, got %d", cfg.LLMConfig.MaxTokens)
	}
}

// TestLoadEnvOverrides tests that environment variables take precedence.
func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FEED_SYMBOLS", "btcusdt, dogeusdt")
	t.Setenv("RSI_OVERBOUGHT", "80")
	t.Setenv("RSI_OVERSOLD", "20")
	t.Setenv("PSYCH_LEVELS", "69000,100000")
	t.Setenv("ALERT_COOLDOWN_SECONDS", "60")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.FeedConfig.Symbols) != 2 || cfg.FeedConfig.Symbols[1] != "dogeusdt" {
		t.Errorf("FEED_SYMBOLS override not applied: %v", cfg.FeedConfig.Symbols)
	}
	if cfg.IndicatorsConfig.RSIOverbought != 80 || cfg.IndicatorsConfig.RSIOversold != 20 {
		t.Errorf("RSI threshold overrides not applied: %v/%v",
			cfg.IndicatorsConfig.RSIOverbought, cfg.IndicatorsConfig.RSIOversold)
	}
	if len(cfg.IndicatorsConfig.Levels) != 2 || cfg.IndicatorsConfig.Levels[0] != 69000 {
		t.Errorf("PSYCH_LEVELS override not applied: %v", cfg.IndicatorsConfig.Levels)
	}
	if cfg.AnalyzerConfig.CooldownSeconds != 60 {
		t.Errorf("Cooldown override not applied: %d", cfg.AnalyzerConfig.CooldownSeconds)
	}
}

// TestLoadRejectsInvalid tests fatal-at-startup validation.
func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("RSI_OVERBOUGHT", "30")
	t.Setenv("RSI_OVERSOLD", "70")

	if _, err := Load(); err == nil {
		t.Error("Should reject oversold threshold above overbought")
	}
}

// TestLoadRejectsUnknownDriver tests driver validation.
func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("FEED_DRIVER", "carrier-pigeon")

	if _, err := Load(); err == nil {
		t.Error("Should reject unknown feed driver")
	}
}

// TestLoadRejectsTinyVolumeWindow tests the spike warmup constraint.
func TestLoadRejectsTinyVolumeWindow(t *testing.T) {
	t.Setenv("VOLUME_WINDOW", "2")

	if _, err := Load(); err == nil {
		t.Error("Should reject a volume window below the warmup minimum")
	}
}
