package ingest

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"pulsetrade/internal/logging"
	"pulsetrade/internal/models"
	"pulsetrade/internal/tradelog"

	"github.com/shopspring/decimal"
)

// MockFeed generates synthetic random-walk ticks behind the same contract
// as the live ingestor, for development without an exchange connection.
type MockFeed struct {
	cfg      Config
	producer tradelog.Producer
	onTrade  TradeHandler
	logger   *logging.Logger
	interval time.Duration

	running   int32
	processed uint64

	prices   map[string]float64
	rng      *rand.Rand
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// mockStartPrices seeds the random walk with plausible magnitudes.
var mockStartPrices = map[string]float64{
	"BTCUSDT": 68000,
	"ETHUSDT": 3500,
	"SOLUSDT": 150,
}

// NewMockFeed creates a generator emitting one tick per symbol every
// interval (default 200ms).
func NewMockFeed(cfg Config, producer tradelog.Producer, onTrade TradeHandler, logger *logging.Logger) *MockFeed {
	if logger == nil {
		logger = logging.Default()
	}
	prices := make(map[string]float64, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		s := normalizeSymbol(sym)
		if p, ok := mockStartPrices[s]; ok {
			prices[s] = p
		} else {
			prices[s] = 100
		}
	}
	return &MockFeed{
		cfg:      cfg,
		producer: producer,
		onTrade:  onTrade,
		logger:   logger.WithComponent("mock_feed"),
		interval: 200 * time.Millisecond,
		prices:   prices,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the generator loop in its own goroutine.
func (m *MockFeed) Start(ctx context.Context) {
	atomic.StoreInt32(&m.running, 1)
	m.logger.WithField("interval", m.interval.String()).Info("Mock feed started")

	go func() {
		defer func() {
			atomic.StoreInt32(&m.running, 0)
			close(m.done)
		}()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.emit(ctx)
			}
		}
	}()
}

func (m *MockFeed) emit(ctx context.Context) {
	now := time.Now().UnixMilli()
	for symbol, price := range m.prices {
		// ±0.05% step with an occasional larger move so whale and
		// volume triggers fire during development.
		step := (m.rng.Float64() - 0.5) * 0.001
		if m.rng.Intn(200) == 0 {
			step *= 25
		}
		price *= 1 + step
		m.prices[symbol] = price

		volume := m.rng.Float64() * 0.5
		if m.rng.Intn(100) == 0 {
			volume *= 50
		}

		trade := models.TradeEvent{
			Symbol: symbol,
			Price:  decimal.NewFromFloat(price).Round(2),
			Volume: decimal.NewFromFloat(volume).Round(6),
			Time:   now,
		}

		value, err := json.Marshal(trade)
		if err != nil {
			continue
		}
		if err := m.producer.Produce(ctx, m.cfg.TradesTopic, trade.Symbol, value); err != nil {
			m.logger.WithError(err).Warn("Mock produce failed")
		}
		atomic.AddUint64(&m.processed, 1)

		if m.onTrade != nil {
			m.onTrade(trade)
		}
	}
}

// Stop halts the generator and flushes the producer.
func (m *MockFeed) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.done

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.producer.Flush(ctx); err != nil {
			m.logger.WithError(err).Warn("Producer flush on stop failed")
		}
	})
}

// Running reports whether the generator loop is active.
func (m *MockFeed) Running() bool { return atomic.LoadInt32(&m.running) == 1 }

// MessagesProcessed returns the count of ticks generated.
func (m *MockFeed) MessagesProcessed() uint64 { return atomic.LoadUint64(&m.processed) }

// ParseErrors is always zero; the generator never parses.
func (m *MockFeed) ParseErrors() uint64 { return 0 }
