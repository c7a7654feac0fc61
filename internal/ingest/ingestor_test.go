package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pulsetrade/internal/models"
	"pulsetrade/internal/tradelog"

	"github.com/gorilla/websocket"
)

// TestNextBackoffSchedule tests the exponential reconnect schedule with
// its cap.
func TestNextBackoffSchedule(t *testing.T) {
	max := 60 * time.Second
	want := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}

	backoff := time.Second
	for i, expected := range want {
		backoff = NextBackoff(backoff, max)
		if backoff != expected {
			t.Errorf("Step %d: expected %v, got %v", i, expected, backoff)
		}
	}
}

// TestStreamURL tests the combined per-symbol stream URL.
func TestStreamURL(t *testing.T) {
	i := New(Config{
		URL:     "wss://stream.binance.us:9443/ws/",
		Symbols: []string{"BTCUSDT", "ethusdt"},
	}, tradelog.NewMemoryLog().Producer(), nil, nil)

	want := "wss://stream.binance.us:9443/ws/btcusdt@trade/ethusdt@trade"
	if got := i.StreamURL(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

// TestQuietFeedSurvivesReadTimeout tests that a feed with no trades for
// longer than the read timeout stays connected through ping/pong instead
// of cycling through reconnects.
func TestQuietFeedSurvivesReadTimeout(t *testing.T) {
	var connects int32
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&connects, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// A server read loop so inbound pings are answered; gorilla's
		// default ping handler sends the pong.
		stop := make(chan struct{})
		go func() {
			defer close(stop)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		// Stay quiet well past the client's read timeout, then deliver
		// one trade.
		time.Sleep(500 * time.Millisecond)
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"e":"trade","E":1700000000100,"s":"btcusdt","t":1,"p":"50000","q":"0.1","T":1700000000000}`))
		<-stop
	}))
	defer srv.Close()

	ing := New(Config{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http") + "/",
		Symbols:     []string{"btcusdt"},
		TradesTopic: "crypto-trades",
		ReadTimeout: 150 * time.Millisecond,
		MaxBackoff:  time.Second,
	}, tradelog.NewMemoryLog().Producer(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ing.Start(ctx)

	deadline := time.After(5 * time.Second)
	for ing.MessagesProcessed() == 0 {
		select {
		case <-deadline:
			t.Fatal("Trade sent after the quiet period should be processed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	ing.Stop()

	if n := atomic.LoadInt32(&connects); n != 1 {
		t.Errorf("Quiet period should not force a reconnect, got %d connections", n)
	}
}

// TestMockFeedContract tests that the mock generator publishes to the log
// and invokes the trade callback like the live ingestor.
func TestMockFeedContract(t *testing.T) {
	log := tradelog.NewMemoryLog()
	received := make(chan models.TradeEvent, 64)

	feed := NewMockFeed(Config{
		Symbols:     []string{"btcusdt"},
		TradesTopic: "crypto-trades",
	}, log.Producer(), func(trade models.TradeEvent) {
		select {
		case received <- trade:
		default:
		}
	}, nil)
	feed.interval = 5 * time.Millisecond

	consumer, err := log.Subscribe("crypto-trades", "test-group")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.Start(ctx)

	var trade models.TradeEvent
	select {
	case trade = <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("Mock feed should invoke the trade callback")
	}
	feed.Stop()

	if trade.Symbol != "BTCUSDT" {
		t.Errorf("Mock trades should carry normalized symbols, got %q", trade.Symbol)
	}
	if !trade.Price.IsPositive() {
		t.Errorf("Mock price should be positive, got %s", trade.Price)
	}

	msg, err := consumer.Poll(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if msg == nil {
		t.Fatal("Mock feed should produce trades to the log")
	}
	decoded, err := models.UnmarshalTrade(msg.Value)
	if err != nil {
		t.Fatalf("Logged trade should decode: %v", err)
	}
	if decoded.Symbol != msg.Key {
		t.Errorf("Log key should be the symbol, got key %q for %q", msg.Key, decoded.Symbol)
	}

	if feed.Running() {
		t.Error("Feed should report not running after Stop")
	}
	if feed.MessagesProcessed() == 0 {
		t.Error("Feed should count generated ticks")
	}
}
