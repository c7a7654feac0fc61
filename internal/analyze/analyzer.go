// Package analyze consumes trades from the durable log, drives the
// per-symbol detectors, applies per-(symbol,trigger) cooldowns and turns
// detections into alerts, LLM commentary and synthesized audio.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pulsetrade/internal/ai/llm"
	"pulsetrade/internal/circuit"
	"pulsetrade/internal/indicators"
	"pulsetrade/internal/logging"
	"pulsetrade/internal/models"
	"pulsetrade/internal/state"
	"pulsetrade/internal/tradelog"
)

// LLM produces commentary text for an alert.
type LLM interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// TTS turns commentary into audio bytes.
type TTS interface {
	Synthesize(ctx context.Context, symbol, text string) ([]byte, error)
}

// Hub is the fan-out surface the analyzer publishes to.
type Hub interface {
	PushAlert(models.AlertEvent)
	BroadcastJSON(models.WSMessage)
	BroadcastBinary(data []byte)
	ClientCount() int
}

// Config holds the analyzer settings.
type Config struct {
	Cooldown    time.Duration
	AlertsTopic string
	PollTimeout time.Duration

	SystemPrompt string
	BuildPrompt  func(trigger string, symbol string, price, value float64) string

	RSIPeriod          int
	RSIOverbought      float64
	RSIOversold        float64
	VolumeWindow       int
	VolumeThreshold    float64
	PriceWindowSeconds int
	PriceThreshold     float64
	Levels             []int
}

// Analyzer owns one detector set shared across symbols (each detector
// keeps per-symbol state internally) and the cooldown table. All mutable
// state is confined to the poll goroutine.
type Analyzer struct {
	cfg      Config
	consumer tradelog.Consumer
	producer tradelog.Producer
	hub      Hub
	llm      LLM
	tts      TTS
	breaker  *circuit.Breaker
	store    *state.Store
	logger   *logging.Logger

	rsi    *indicators.RsiBySecond
	volume *indicators.VolumeSpikeBySecond
	whale  *indicators.PriceChangeWindow
	levels *indicators.LevelCross

	cooldowns map[cooldownKey]time.Time
	now       func() time.Time

	running         int32
	tradesProcessed uint64
	alertsTriggered uint64
	analysisSkipped uint64
	decodeErrors    uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type cooldownKey struct {
	symbol  string
	trigger models.TriggerType
}

// New creates an analyzer. llmClient, tts, breaker and store may be nil;
// the corresponding steps are skipped.
func New(cfg Config, consumer tradelog.Consumer, producer tradelog.Producer, hub Hub,
	llmClient LLM, tts TTS, breaker *circuit.Breaker, store *state.Store, logger *logging.Logger) *Analyzer {

	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 300 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = llm.SystemPromptCommentator
	}
	if cfg.BuildPrompt == nil {
		cfg.BuildPrompt = llm.BuildAlertPrompt
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Analyzer{
		cfg:       cfg,
		consumer:  consumer,
		producer:  producer,
		hub:       hub,
		llm:       llmClient,
		tts:       tts,
		breaker:   breaker,
		store:     store,
		logger:    logger.WithComponent("analyzer"),
		rsi:       indicators.NewRsiBySecond(cfg.RSIPeriod, cfg.RSIOverbought, cfg.RSIOversold),
		volume:    indicators.NewVolumeSpikeBySecond(cfg.VolumeWindow, cfg.VolumeThreshold),
		whale:     indicators.NewPriceChangeWindow(cfg.PriceWindowSeconds, cfg.PriceThreshold),
		levels:    indicators.NewLevelCross(cfg.Levels),
		cooldowns: make(map[cooldownKey]time.Time),
		now:       time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the poll loop in its own goroutine.
func (a *Analyzer) Start(ctx context.Context) {
	atomic.StoreInt32(&a.running, 1)
	go a.run(ctx)
}

func (a *Analyzer) run(ctx context.Context) {
	defer func() {
		atomic.StoreInt32(&a.running, 0)
		close(a.done)
	}()

	a.logger.Info("Analyzer consuming trades")
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		default:
		}

		msg, err := a.consumer.Poll(ctx, a.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.WithError(err).Warn("Trade log poll failed")
			continue
		}
		if msg == nil {
			continue
		}

		trade, err := models.UnmarshalTrade(msg.Value)
		if err != nil {
			atomic.AddUint64(&a.decodeErrors, 1)
			a.logger.WithError(err).Debug("Dropping undecodable log entry")
		} else {
			a.Process(ctx, trade)
		}

		if err := a.consumer.Ack(ctx, msg); err != nil {
			a.logger.WithError(err).Debug("Ack failed")
		}
	}
}

// Stop halts the poll loop and waits for it to drain.
func (a *Analyzer) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
		<-a.done
	})
}

// Process feeds one trade through all four detectors and fires triggers.
// The log delivers at least once; duplicate trades are absorbed by the
// cooldown (and the optional state dedup key).
func (a *Analyzer) Process(ctx context.Context, trade models.TradeEvent) {
	atomic.AddUint64(&a.tradesProcessed, 1)

	symbol := trade.Symbol
	price := trade.PriceFloat()

	if res, ok := a.rsi.Update(symbol, price, trade.Time); ok {
		if res.Overbought {
			a.maybeFire(ctx, symbol, models.TriggerRSIHigh, res.RSI, price,
				fmt.Sprintf("%s RSI hit %.2f - extremely overbought!", symbol, res.RSI))
		} else if res.Oversold {
			a.maybeFire(ctx, symbol, models.TriggerRSILow, res.RSI, price,
				fmt.Sprintf("%s RSI at %.2f - oversold territory!", symbol, res.RSI))
		}
	}

	if res, ok := a.volume.Update(symbol, trade.VolumeFloat(), trade.Time); ok && res.IsSpike {
		a.maybeFire(ctx, symbol, models.TriggerVolumeSpike, res.Multiplier, price,
			fmt.Sprintf("%s volume spike %.1fx!", symbol, res.Multiplier))
	}

	if res, ok := a.whale.Update(symbol, price, trade.Time); ok && res.IsWhale {
		a.maybeFire(ctx, symbol, models.TriggerWhaleAlert, res.ChangePercent, price,
			fmt.Sprintf("%s whale move %.2f%% in %ds!", symbol, res.ChangePercent, res.WindowSeconds))
	}

	if res, ok := a.levels.Update(symbol, price); ok {
		a.maybeFire(ctx, symbol, models.TriggerPsychLevel, float64(res.Level), price,
			fmt.Sprintf("%s crossed %d (%s)!", symbol, res.Level, res.Direction))
	}

	if a.store != nil {
		if err := a.store.SaveTick(ctx, trade); err != nil {
			a.logger.WithError(err).Debug("Live-state tick save failed")
		}
		if err := a.store.AddPricePoint(ctx, symbol, price, trade.Time); err != nil {
			a.logger.WithError(err).Debug("Live-state history append failed")
		}
	}
}

// maybeFire emits an alert unless the (symbol,trigger) cooldown is still
// active, then escalates to LLM commentary and audio when an audience is
// attached.
func (a *Analyzer) maybeFire(ctx context.Context, symbol string, trigger models.TriggerType, value, price float64, message string) {
	key := cooldownKey{symbol: symbol, trigger: trigger}
	now := a.now()
	if last, ok := a.cooldowns[key]; ok && now.Sub(last) < a.cfg.Cooldown {
		return
	}
	if a.store != nil && !a.store.ShouldSendAlert(ctx, symbol, string(trigger)) {
		return
	}
	a.cooldowns[key] = now

	alert := models.AlertEvent{
		Symbol:       symbol,
		Price:        price,
		TriggerType:  trigger,
		TriggerValue: value,
		Message:      message,
		Time:         now.UnixMilli(),
	}
	atomic.AddUint64(&a.alertsTriggered, 1)

	a.logger.WithFields(map[string]interface{}{
		"symbol":  symbol,
		"trigger": string(trigger),
		"value":   value,
	}).Info("Alert triggered")

	a.hub.PushAlert(alert)
	a.publishAlert(ctx, alert)

	// Audience gate: the LLM and TTS calls are the expensive part of the
	// pipeline; skip them when nobody is listening.
	if a.hub.ClientCount() == 0 {
		atomic.AddUint64(&a.analysisSkipped, 1)
		return
	}

	text := a.commentary(ctx, alert)
	if text == "" {
		return
	}

	a.hub.BroadcastJSON(models.NewAnalysisMessage(models.AnalysisEvent{
		Symbol: symbol,
		Text:   text,
		Time:   a.now().UnixMilli(),
	}))

	a.speak(ctx, symbol, text)
}

func (a *Analyzer) publishAlert(ctx context.Context, alert models.AlertEvent) {
	if a.producer == nil || a.cfg.AlertsTopic == "" {
		return
	}
	value, err := json.Marshal(alert)
	if err != nil {
		a.logger.WithError(err).Error("Failed to encode alert")
		return
	}
	if err := a.producer.Produce(ctx, a.cfg.AlertsTopic, alert.Symbol, value); err != nil {
		a.logger.WithError(err).Warn("Alert log produce failed")
	}
}

func (a *Analyzer) commentary(ctx context.Context, alert models.AlertEvent) string {
	if a.llm == nil {
		return ""
	}
	if a.breaker != nil && !a.breaker.Allow() {
		a.logger.WithField("symbol", alert.Symbol).Debug("Breaker open, skipping commentary")
		return ""
	}

	prompt := a.cfg.BuildPrompt(string(alert.TriggerType), alert.Symbol, alert.Price, alert.TriggerValue)
	start := a.now()
	text, err := a.llm.Complete(ctx, a.cfg.SystemPrompt, prompt)
	if err != nil {
		if a.breaker != nil {
			a.breaker.RecordFailure()
		}
		a.logger.WithError(err).WithDuration(a.now().Sub(start)).Warn("LLM commentary failed")
		return ""
	}
	if a.breaker != nil {
		a.breaker.RecordSuccess()
	}
	return text
}

func (a *Analyzer) speak(ctx context.Context, symbol, text string) {
	if a.tts == nil {
		return
	}
	if a.breaker != nil && !a.breaker.Allow() {
		return
	}

	audio, err := a.tts.Synthesize(ctx, symbol, text)
	if err != nil {
		if a.breaker != nil {
			a.breaker.RecordFailure()
		}
		a.logger.WithError(err).Warn("Speech synthesis failed")
		return
	}
	if a.breaker != nil {
		a.breaker.RecordSuccess()
	}
	a.hub.BroadcastBinary(audio)
}

// Running reports whether the poll loop is active.
func (a *Analyzer) Running() bool { return atomic.LoadInt32(&a.running) == 1 }

// TradesProcessed returns the count of trades consumed.
func (a *Analyzer) TradesProcessed() uint64 { return atomic.LoadUint64(&a.tradesProcessed) }

// AlertsTriggered returns the count of alerts emitted past the cooldown.
func (a *Analyzer) AlertsTriggered() uint64 { return atomic.LoadUint64(&a.alertsTriggered) }

// AnalysisSkipped returns the count of alerts whose commentary was
// suppressed by the audience gate.
func (a *Analyzer) AnalysisSkipped() uint64 { return atomic.LoadUint64(&a.analysisSkipped) }

// BreakerState names the commentary breaker state for health reporting.
func (a *Analyzer) BreakerState() string {
	if a.breaker == nil {
		return "disabled"
	}
	return string(a.breaker.State())
}
