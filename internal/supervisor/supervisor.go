// Package supervisor owns the pipeline components and their lifecycle:
// construction from config, leaves-first startup and reverse-order
// graceful shutdown under a single cancellation context.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"pulsetrade/config"
	"pulsetrade/internal/ai/llm"
	"pulsetrade/internal/analyze"
	"pulsetrade/internal/api"
	"pulsetrade/internal/circuit"
	"pulsetrade/internal/ingest"
	"pulsetrade/internal/logging"
	"pulsetrade/internal/state"
	"pulsetrade/internal/tradelog"
	"pulsetrade/internal/vault"
	"pulsetrade/internal/voice"
)

// Supervisor wires and runs the pipeline.
type Supervisor struct {
	cfg    *config.Config
	logger *logging.Logger

	log      tradelog.Log
	hub      *api.WSHub
	server   *api.Server
	feed     ingest.Feed
	analyzer *analyze.Analyzer
	store    *state.Store

	cancel    context.CancelFunc
	serverErr chan error
}

// New builds the full component graph. Optional pieces (vault, state,
// LLM, TTS, breaker) are wired only when enabled in config.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = logging.Default()
	}
	log := logger.WithComponent("supervisor")

	secrets, err := loadSecrets(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if secrets.RedisPassword != "" {
		cfg.LogConfig.RedisPass = secrets.RedisPassword
	}

	// Durable log transport.
	var tlog tradelog.Log
	switch cfg.LogConfig.Driver {
	case "redis":
		tlog, err = tradelog.NewRedisLog(ctx, tradelog.RedisConfig{
			Addr:     cfg.LogConfig.RedisAddr,
			Password: cfg.LogConfig.RedisPass,
			DB:       cfg.LogConfig.RedisDB,
			MaxLen:   cfg.LogConfig.MaxLen,
		})
		if err != nil {
			return nil, fmt.Errorf("trade log: %w", err)
		}
	default:
		tlog = tradelog.NewMemoryLog()
	}

	// Optional Redis live state.
	var store *state.Store
	if cfg.StateConfig.Enabled {
		store = state.NewStore(state.StoreConfig{
			Addr:         cfg.StateConfig.RedisAddr,
			Password:     cfg.StateConfig.RedisPass,
			DB:           cfg.StateConfig.RedisDB,
			HistoryLimit: int(cfg.StateConfig.HistoryLimit),
			TickTTL:      time.Duration(cfg.StateConfig.TickTTLSec) * time.Second,
			DedupTTL:     time.Duration(cfg.StateConfig.DedupTTLSec) * time.Second,
		}, logger)
	}

	hub := api.NewWSHub(api.HubConfig{
		TradeQueueSize: cfg.AnalyzerConfig.TradeQueueSize,
		AlertQueueSize: cfg.AnalyzerConfig.AlertQueueSize,
	}, logger)

	server := api.NewServer(cfg.ServerConfig, hub, store, logger)

	// Feed.
	feedCfg := ingest.Config{
		URL:         cfg.FeedConfig.URL,
		Symbols:     cfg.FeedConfig.Symbols,
		TradesTopic: cfg.LogConfig.TradesTopic,
		ReadTimeout: time.Duration(cfg.FeedConfig.ReadTimeoutSec) * time.Second,
		MaxBackoff:  time.Duration(cfg.FeedConfig.MaxBackoffSec) * time.Second,
	}
	var feed ingest.Feed
	if cfg.FeedConfig.Driver == "mock" {
		feed = ingest.NewMockFeed(feedCfg, tlog.Producer(), hub.PushTrade, logger)
	} else {
		feed = ingest.New(feedCfg, tlog.Producer(), hub.PushTrade, logger)
	}

	// Downstream services.
	var llmClient analyze.LLM
	if cfg.LLMConfig.Enabled && secrets.LLMAPIKey != "" {
		llmClient = llm.NewClient(&llm.ClientConfig{
			Provider:    llm.Provider(cfg.LLMConfig.Provider),
			APIKey:      secrets.LLMAPIKey,
			Model:       cfg.LLMConfig.Model,
			MaxTokens:   cfg.LLMConfig.MaxTokens,
			Temperature: cfg.LLMConfig.Temperature,
			Timeout:     time.Duration(cfg.LLMConfig.TimeoutSec) * time.Second,
		})
	}

	var tts analyze.TTS
	if cfg.VoiceConfig.Enabled && secrets.VoiceAPIKey != "" {
		tts = voice.NewSynthesizer(voice.SynthConfig{
			APIKey:    secrets.VoiceAPIKey,
			VoiceID:   cfg.VoiceConfig.VoiceID,
			ModelID:   cfg.VoiceConfig.ModelID,
			Timeout:   time.Duration(cfg.VoiceConfig.TimeoutSec) * time.Second,
			Overrides: cfg.VoiceConfig.Overrides,
		})
	}

	var breaker *circuit.Breaker
	if cfg.BreakerConfig.Enabled {
		breaker = circuit.NewBreaker(&circuit.BreakerConfig{
			Enabled:     true,
			MaxFailures: cfg.BreakerConfig.MaxFailures,
			Cooldown:    time.Duration(cfg.BreakerConfig.CooldownSec) * time.Second,
		})
		breaker.OnTrip(func(failures int) {
			log.WithField("failures", failures).Warn("Commentary breaker opened")
		})
		breaker.OnReset(func() {
			log.Info("Commentary breaker closed")
		})
	}

	consumer, err := tlog.Subscribe(cfg.LogConfig.TradesTopic, cfg.LogConfig.Group)
	if err != nil {
		return nil, fmt.Errorf("subscribe trades: %w", err)
	}

	persona := llm.Persona(cfg.LLMConfig.Persona)
	buildPrompt := llm.BuildAlertPrompt
	if persona == llm.PersonaDeskAnalyst {
		buildPrompt = llm.BuildDeskAlertPrompt
	}

	analyzer := analyze.New(analyze.Config{
		Cooldown:           time.Duration(cfg.AnalyzerConfig.CooldownSeconds) * time.Second,
		AlertsTopic:        cfg.LogConfig.AlertsTopic,
		SystemPrompt:       llm.SystemPromptFor(persona),
		BuildPrompt:        buildPrompt,
		RSIPeriod:          cfg.IndicatorsConfig.RSIPeriod,
		RSIOverbought:      cfg.IndicatorsConfig.RSIOverbought,
		RSIOversold:        cfg.IndicatorsConfig.RSIOversold,
		VolumeWindow:       cfg.IndicatorsConfig.VolumeWindow,
		VolumeThreshold:    cfg.IndicatorsConfig.VolumeThreshold,
		PriceWindowSeconds: cfg.IndicatorsConfig.PriceWindowSeconds,
		PriceThreshold:     cfg.IndicatorsConfig.PriceThreshold,
		Levels:             cfg.IndicatorsConfig.Levels,
	}, consumer, tlog.Producer(), hub, llmClient, tts, breaker, store, logger)

	server.AttachIngestor(feed)
	server.AttachAnalyzer(analyzer)

	return &Supervisor{
		cfg:       cfg,
		logger:    log,
		log:       tlog,
		hub:       hub,
		server:    server,
		feed:      feed,
		analyzer:  analyzer,
		store:     store,
		serverErr: make(chan error, 1),
	}, nil
}

// loadSecrets resolves API credentials from Vault when enabled, falling
// back to the values already present in config.
func loadSecrets(ctx context.Context, cfg *config.Config, log *logging.Logger) (*vault.Secrets, error) {
	secrets := &vault.Secrets{
		LLMAPIKey:   cfg.LLMConfig.APIKey,
		VoiceAPIKey: cfg.VoiceConfig.APIKey,
	}
	if !cfg.VaultConfig.Enabled {
		return secrets, nil
	}

	client, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	loaded, err := client.LoadSecrets(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault secrets: %w", err)
	}
	if loaded.LLMAPIKey != "" {
		secrets.LLMAPIKey = loaded.LLMAPIKey
	}
	if loaded.VoiceAPIKey != "" {
		secrets.VoiceAPIKey = loaded.VoiceAPIKey
	}
	secrets.RedisPassword = loaded.RedisPassword
	log.Info("Credentials loaded from vault")
	return secrets, nil
}

// Start brings the pipeline up leaves-first: hub, server, analyzer, feed.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run()

	go func() {
		s.serverErr <- s.server.Start()
	}()

	s.analyzer.Start(ctx)
	s.feed.Start(ctx)

	s.logger.WithFields(map[string]interface{}{
		"feed":    s.cfg.FeedConfig.Driver,
		"log":     s.cfg.LogConfig.Driver,
		"symbols": len(s.cfg.FeedConfig.Symbols),
	}).Info("Pipeline started")
}

// ServerErr reports a fatal HTTP server error, if any.
func (s *Supervisor) ServerErr() <-chan error { return s.serverErr }

// Stop tears the pipeline down in reverse order within the configured
// grace period: feed first (no new trades), then analyzer, server, hub
// and the transport clients.
func (s *Supervisor) Stop() {
	grace := time.Duration(s.cfg.ServerConfig.ShutdownTimeout) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	s.logger.Info("Stopping pipeline")

	s.feed.Stop()
	s.analyzer.Stop()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Warn("HTTP shutdown failed")
	}

	s.hub.Stop()

	if s.cancel != nil {
		s.cancel()
	}

	if err := s.log.Close(); err != nil {
		s.logger.WithError(err).Warn("Trade log close failed")
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.WithError(err).Warn("State store close failed")
		}
	}

	s.logger.Info("Pipeline stopped")
}
