package analyze

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"pulsetrade/internal/models"
	"pulsetrade/internal/tradelog"

	"github.com/shopspring/decimal"
)

// stubHub records everything the analyzer publishes.
type stubHub struct {
	mu       sync.Mutex
	clients  int
	alerts   []models.AlertEvent
	messages []models.WSMessage
	binary   [][]byte
}

func (h *stubHub) PushAlert(a models.AlertEvent) {
	h.mu.Lock()
	h.alerts = append(h.alerts, a)
	h.mu.Unlock()
}

func (h *stubHub) BroadcastJSON(m models.WSMessage) {
	h.mu.Lock()
	h.messages = append(h.messages, m)
	h.mu.Unlock()
}

func (h *stubHub) BroadcastBinary(data []byte) {
	h.mu.Lock()
	h.binary = append(h.binary, data)
	h.mu.Unlock()
}

func (h *stubHub) ClientCount() int { return h.clients }

func (h *stubHub) alertCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.alerts)
}

// stubLLM counts calls and returns fixed commentary.
type stubLLM struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (s *stubLLM) Complete(ctx context.Context, system, user string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fail {
		return "", fmt.Errorf("llm unavailable")
	}
	return "Looks like a pump.", nil
}

// stubTTS returns fixed audio bytes.
type stubTTS struct {
	calls int
}

func (s *stubTTS) Synthesize(ctx context.Context, symbol, text string) ([]byte, error) {
	s.calls++
	return []byte("mp3"), nil
}

func testConfig() Config {
	return Config{
		Cooldown:           300 * time.Second,
		RSIPeriod:          2,
		RSIOverbought:      70,
		RSIOversold:        30,
		VolumeWindow:       10,
		VolumeThreshold:    5.0,
		PriceWindowSeconds: 60,
		PriceThreshold:     1.0,
		Levels:             []int{69000},
	}
}

func newTestAnalyzer(cfg Config, hub Hub, llmStub LLM, ttsStub TTS) *Analyzer {
	return New(cfg, nil, nil, hub, llmStub, ttsStub, nil, nil, nil)
}

func trade(symbol string, price float64, timeMs int64) models.TradeEvent {
	return models.TradeEvent{
		Symbol: symbol,
		Price:  decimal.NewFromFloat(price),
		Volume: decimal.NewFromFloat(0.1),
		Time:   timeMs,
	}
}

// TestCooldownAbsorbsRepeatedTriggers tests that two detections of the
// same trigger within the cooldown produce exactly one alert.
func TestCooldownAbsorbsRepeatedTriggers(t *testing.T) {
	hub := &stubHub{}
	a := newTestAnalyzer(testConfig(), hub, nil, nil)

	wall := time.Unix(1700000000, 0)
	a.now = func() time.Time { return wall }

	a.maybeFire(context.Background(), "BTCUSDT", models.TriggerRSIHigh, 95.0, 50000, "msg")
	wall = wall.Add(10 * time.Second)
	a.maybeFire(context.Background(), "BTCUSDT", models.TriggerRSIHigh, 96.0, 50100, "msg")

	if hub.alertCount() != 1 {
		t.Errorf("Two detections 10s apart should produce 1 alert, got %d", hub.alertCount())
	}

	// A different trigger for the same symbol is not blocked.
	a.maybeFire(context.Background(), "BTCUSDT", models.TriggerRSILow, 5.0, 50000, "msg")
	if hub.alertCount() != 2 {
		t.Errorf("Different trigger should fire independently, got %d alerts", hub.alertCount())
	}

	// Past the cooldown the original trigger fires again.
	wall = wall.Add(300 * time.Second)
	a.maybeFire(context.Background(), "BTCUSDT", models.TriggerRSIHigh, 97.0, 50200, "msg")
	if hub.alertCount() != 3 {
		t.Errorf("Trigger should fire again after cooldown, got %d alerts", hub.alertCount())
	}
}

// TestCooldownGapInvariant tests that consecutive alerts for one
// (symbol,trigger) are never closer than the cooldown.
func TestCooldownGapInvariant(t *testing.T) {
	hub := &stubHub{}
	cfg := testConfig()
	cfg.Cooldown = 30 * time.Second
	a := newTestAnalyzer(cfg, hub, nil, nil)

	wall := time.Unix(1700000000, 0)
	a.now = func() time.Time { return wall }

	for i := 0; i < 100; i++ {
		a.maybeFire(context.Background(), "ETHUSDT", models.TriggerVolumeSpike, 6.0, 3500, "msg")
		wall = wall.Add(7 * time.Second)
	}

	var lastFire int64 = -1
	for _, alert := range hub.alerts {
		if lastFire >= 0 && alert.Time-lastFire < 30_000 {
			t.Fatalf("Alerts %d ms apart, cooldown is 30s", alert.Time-lastFire)
		}
		lastFire = alert.Time
	}
}

// TestAudienceGateSkipsLLM tests that with zero subscribers no LLM call
// is made and the skip counter moves.
func TestAudienceGateSkipsLLM(t *testing.T) {
	hub := &stubHub{clients: 0}
	llmStub := &stubLLM{}
	a := newTestAnalyzer(testConfig(), hub, llmStub, nil)

	a.maybeFire(context.Background(), "BTCUSDT", models.TriggerWhaleAlert, 1.2, 50600, "msg")

	if llmStub.calls != 0 {
		t.Errorf("Zero subscribers should mean zero LLM calls, got %d", llmStub.calls)
	}
	if a.AnalysisSkipped() != 1 {
		t.Errorf("Skip counter should be 1, got %d", a.AnalysisSkipped())
	}
	if hub.alertCount() != 1 {
		t.Error("Alert fan-out should happen regardless of the audience gate")
	}
}

// TestCommentaryAndAudioWithAudience tests the full escalation path when
// subscribers are attached.
func TestCommentaryAndAudioWithAudience(t *testing.T) {
	hub := &stubHub{clients: 2}
	llmStub := &stubLLM{}
	ttsStub := &stubTTS{}
	a := newTestAnalyzer(testConfig(), hub, llmStub, ttsStub)

	a.maybeFire(context.Background(), "BTCUSDT", models.TriggerWhaleAlert, 1.2, 50600, "msg")

	if llmStub.calls != 1 {
		t.Errorf("Expected 1 LLM call, got %d", llmStub.calls)
	}
	if ttsStub.calls != 1 {
		t.Errorf("Expected 1 TTS call, got %d", ttsStub.calls)
	}
	if len(hub.binary) != 1 {
		t.Errorf("Audio should reach the binary broadcast, got %d frames", len(hub.binary))
	}

	var analysis *models.WSMessage
	for i := range hub.messages {
		if hub.messages[i].Type == "analysis" {
			analysis = &hub.messages[i]
		}
	}
	if analysis == nil {
		t.Fatal("Commentary should be broadcast as an analysis message")
	}
}

// TestLLMFailureIsLocal tests that a failing LLM still leaves the alert
// emitted and no audio attempted.
func TestLLMFailureIsLocal(t *testing.T) {
	hub := &stubHub{clients: 1}
	llmStub := &stubLLM{fail: true}
	ttsStub := &stubTTS{}
	a := newTestAnalyzer(testConfig(), hub, llmStub, ttsStub)

	a.maybeFire(context.Background(), "BTCUSDT", models.TriggerRSIHigh, 95.0, 50000, "msg")

	if hub.alertCount() != 1 {
		t.Error("Alert should be emitted even when the LLM fails")
	}
	if ttsStub.calls != 0 {
		t.Error("No commentary means no synthesis")
	}
}

// TestProcessEndToEndWhale tests the detector-to-alert path through
// Process with the rapid price move scenario. The RSI period is raised
// so three ticks cannot also fire the momentum trigger.
func TestProcessEndToEndWhale(t *testing.T) {
	hub := &stubHub{}
	cfg := testConfig()
	cfg.RSIPeriod = 60
	a := newTestAnalyzer(cfg, hub, nil, nil)

	start := int64(1700000000000)
	a.Process(context.Background(), trade("BTCUSDT", 50000, start))
	a.Process(context.Background(), trade("BTCUSDT", 50200, start+30000))
	if hub.alertCount() != 0 {
		t.Fatalf("0.4%% move should not alert, got %d alerts", hub.alertCount())
	}

	a.Process(context.Background(), trade("BTCUSDT", 50600, start+50000))
	if hub.alertCount() != 1 {
		t.Fatalf("1.2%% move should alert, got %d alerts", hub.alertCount())
	}

	alert := hub.alerts[0]
	if alert.TriggerType != models.TriggerWhaleAlert {
		t.Errorf("Expected WHALE_ALERT, got %s", alert.TriggerType)
	}
	if alert.TriggerValue != 1.2 {
		t.Errorf("Expected change_percent 1.2, got %v", alert.TriggerValue)
	}
	if !strings.Contains(alert.Message, "whale move 1.20% in 60s") {
		t.Errorf("Unexpected message %q", alert.Message)
	}
	if a.TradesProcessed() != 3 {
		t.Errorf("Expected 3 trades processed, got %d", a.TradesProcessed())
	}
}

// TestProcessLevelCross tests the PSYCH_LEVEL path and its message. The
// RSI and whale thresholds are widened so the 1.48% jump that crosses the
// level fires nothing else.
func TestProcessLevelCross(t *testing.T) {
	hub := &stubHub{}
	cfg := testConfig()
	cfg.RSIPeriod = 60
	cfg.PriceThreshold = 5.0
	a := newTestAnalyzer(cfg, hub, nil, nil)

	start := int64(1700000000000)
	a.Process(context.Background(), trade("BTCUSDT", 68000, start))
	a.Process(context.Background(), trade("BTCUSDT", 69005, start+1000))

	if hub.alertCount() != 1 {
		t.Fatalf("Crossing 69000 should alert, got %d alerts", hub.alertCount())
	}
	alert := hub.alerts[0]
	if alert.TriggerType != models.TriggerPsychLevel {
		t.Errorf("Expected PSYCH_LEVEL, got %s", alert.TriggerType)
	}
	if alert.TriggerValue != 69000 {
		t.Errorf("Trigger value should be the level, got %v", alert.TriggerValue)
	}
	if !strings.Contains(alert.Message, "crossed 69000 (UP)") {
		t.Errorf("Unexpected message %q", alert.Message)
	}
}

// TestOneTickFiresMultipleDetectors tests that a single tick satisfying
// several detectors emits one alert per trigger kind, each with its own
// cooldown entry.
func TestOneTickFiresMultipleDetectors(t *testing.T) {
	hub := &stubHub{}
	a := newTestAnalyzer(testConfig(), hub, nil, nil)

	start := int64(1700000000000)
	// 1.1s spacing closes a candle per tick; the final tick is a +1.48%
	// move that crosses 69000 and pins a period-2 RSI at 100.
	a.Process(context.Background(), trade("BTCUSDT", 68000, start))
	a.Process(context.Background(), trade("BTCUSDT", 68200, start+1100))
	a.Process(context.Background(), trade("BTCUSDT", 69005, start+2200))

	triggers := map[models.TriggerType]bool{}
	for _, alert := range hub.alerts {
		if triggers[alert.TriggerType] {
			t.Errorf("Trigger %s fired twice within one cooldown window", alert.TriggerType)
		}
		triggers[alert.TriggerType] = true
	}

	for _, want := range []models.TriggerType{
		models.TriggerRSIHigh, models.TriggerWhaleAlert, models.TriggerPsychLevel,
	} {
		if !triggers[want] {
			t.Errorf("Expected trigger %s to fire, got %v", want, triggers)
		}
	}
	if len(hub.alerts) != 3 {
		t.Errorf("Expected 3 alerts (one per trigger kind), got %d", len(hub.alerts))
	}
}

// TestAnalyzerConsumesFromLog tests the poll loop end to end over the
// in-memory log, including per-symbol delivery order.
func TestAnalyzerConsumesFromLog(t *testing.T) {
	memlog := tradelog.NewMemoryLog()
	consumer, err := memlog.Subscribe("crypto-trades", "ai-processor-group")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	hub := &stubHub{}
	cfg := testConfig()
	cfg.PollTimeout = 10 * time.Millisecond
	cfg.RSIPeriod = 60
	cfg.PriceThreshold = 5.0
	a := New(cfg, consumer, memlog.Producer(), hub, nil, nil, nil, nil, nil)

	producer := memlog.Producer()
	start := int64(1700000000000)
	prices := []float64{68000, 68500, 69005}
	for i, p := range prices {
		tr := trade("BTCUSDT", p, start+int64(i)*1000)
		value, _ := tr.MarshalJSON()
		if err := producer.Produce(context.Background(), "crypto-trades", "BTCUSDT", value); err != nil {
			t.Fatalf("Produce failed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)

	deadline := time.After(2 * time.Second)
	for a.TradesProcessed() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Analyzer processed %d of 3 trades", a.TradesProcessed())
		case <-time.After(5 * time.Millisecond):
		}
	}
	a.Stop()

	// 68000 -> 68500 does not cross 69000; 68500 -> 69005 does.
	if hub.alertCount() != 1 {
		t.Errorf("Expected exactly 1 level alert, got %d", hub.alertCount())
	}
	if a.Running() {
		t.Error("Analyzer should report not running after Stop")
	}
}
