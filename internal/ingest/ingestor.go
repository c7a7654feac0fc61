// Package ingest maintains the upstream exchange WebSocket, parses trade
// messages into canonical trade events, publishes them to the durable log
// and forwards them to the hub.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pulsetrade/internal/logging"
	"pulsetrade/internal/models"
	"pulsetrade/internal/tradelog"

	"github.com/gorilla/websocket"
)

// State is the connection state machine position.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateStreaming    State = "STREAMING"
	StateReconnecting State = "RECONNECTING"
)

// TradeHandler receives each parsed trade after it is produced to the log.
type TradeHandler func(models.TradeEvent)

// Feed is the contract shared by the live ingestor and the mock generator.
type Feed interface {
	Start(ctx context.Context)
	Stop()
	Running() bool
	MessagesProcessed() uint64
	ParseErrors() uint64
}

// Config holds the ingestor settings.
type Config struct {
	URL         string
	Symbols     []string
	TradesTopic string
	ReadTimeout time.Duration
	MaxBackoff  time.Duration
}

// Ingestor streams trades from the exchange combined-stream endpoint.
// Fatal transport errors move it to RECONNECTING with exponential backoff;
// Stop cancels all future reconnects and flushes the producer.
type Ingestor struct {
	cfg      Config
	producer tradelog.Producer
	onTrade  TradeHandler
	logger   *logging.Logger

	running     int32
	processed   uint64
	parseErrors uint64

	state    atomic.Value // State
	connMu   sync.Mutex
	conn     *websocket.Conn
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates an ingestor. onTrade may be nil when no fan-out is attached.
func New(cfg Config, producer tradelog.Producer, onTrade TradeHandler, logger *logging.Logger) *Ingestor {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	i := &Ingestor{
		cfg:      cfg,
		producer: producer,
		onTrade:  onTrade,
		logger:   logger.WithComponent("ingestor"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	i.state.Store(StateDisconnected)
	return i
}

// StreamURL builds the combined per-symbol trade stream URL.
func (i *Ingestor) StreamURL() string {
	streams := make([]string, 0, len(i.cfg.Symbols))
	for _, sym := range i.cfg.Symbols {
		streams = append(streams, strings.ToLower(sym)+"@trade")
	}
	return i.cfg.URL + strings.Join(streams, "/")
}

// Start runs the connect/stream/reconnect loop in its own goroutine.
func (i *Ingestor) Start(ctx context.Context) {
	atomic.StoreInt32(&i.running, 1)
	go i.run(ctx)
}

func (i *Ingestor) run(ctx context.Context) {
	defer func() {
		atomic.StoreInt32(&i.running, 0)
		i.state.Store(StateDisconnected)
		close(i.done)
	}()

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-i.stop:
			return
		default:
		}

		i.state.Store(StateConnecting)
		url := i.StreamURL()
		i.logger.WithField("url", url).Info("Connecting to exchange feed")

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			i.logger.WithError(err).WithField("backoff", backoff.String()).Warn("Feed connect failed")
			if !i.waitBackoff(ctx, backoff) {
				return
			}
			backoff = NextBackoff(backoff, i.cfg.MaxBackoff)
			continue
		}

		i.setConn(conn)
		i.state.Store(StateStreaming)
		i.logger.WithField("symbols", strings.Join(i.cfg.Symbols, ",")).Info("Feed streaming")
		backoff = time.Second

		err = i.readLoop(ctx, conn)
		i.setConn(nil)
		conn.Close()

		select {
		case <-ctx.Done():
			return
		case <-i.stop:
			return
		default:
		}

		i.state.Store(StateReconnecting)
		i.logger.WithError(err).WithField("backoff", backoff.String()).Warn("Feed disconnected, reconnecting")
		if !i.waitBackoff(ctx, backoff) {
			return
		}
		backoff = NextBackoff(backoff, i.cfg.MaxBackoff)
	}
}

// readLoop reads until a fatal transport error. Keepalive runs on the
// write side: a ticker sends pings at half the read timeout and the pong
// handler extends the read deadline, so a quiet feed never times out as
// long as the peer answers. Errors from ReadMessage are permanent, so any
// read error tears the connection down for a reconnect.
func (i *Ingestor) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(i.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(i.cfg.ReadTimeout))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(i.cfg.ReadTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-i.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-i.stop:
			return nil
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(i.cfg.ReadTimeout))

		trade, err := ParseTradeMessage(data)
		if err != nil {
			atomic.AddUint64(&i.parseErrors, 1)
			i.logger.WithError(err).Debug("Dropping malformed feed message")
			continue
		}

		i.publish(ctx, trade)
	}
}

func (i *Ingestor) publish(ctx context.Context, trade models.TradeEvent) {
	value, err := json.Marshal(trade)
	if err != nil {
		i.logger.WithError(err).Error("Failed to encode trade")
		return
	}
	if err := i.producer.Produce(ctx, i.cfg.TradesTopic, trade.Symbol, value); err != nil {
		i.logger.WithError(err).WithField("symbol", trade.Symbol).Warn("Trade log produce failed")
	}
	atomic.AddUint64(&i.processed, 1)

	if i.onTrade != nil {
		i.onTrade(trade)
	}
}

func (i *Ingestor) waitBackoff(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-i.stop:
		return false
	case <-timer.C:
		return true
	}
}

func (i *Ingestor) setConn(conn *websocket.Conn) {
	i.connMu.Lock()
	i.conn = conn
	i.connMu.Unlock()
}

// Stop cancels reconnects, closes the socket and flushes the producer.
func (i *Ingestor) Stop() {
	i.stopOnce.Do(func() {
		close(i.stop)
		i.connMu.Lock()
		if i.conn != nil {
			i.conn.Close()
		}
		i.connMu.Unlock()

		<-i.done

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := i.producer.Flush(ctx); err != nil {
			i.logger.WithError(err).Warn("Producer flush on stop failed")
		}
	})
}

// Running reports whether the run loop is active.
func (i *Ingestor) Running() bool { return atomic.LoadInt32(&i.running) == 1 }

// MessagesProcessed returns the count of trades published.
func (i *Ingestor) MessagesProcessed() uint64 { return atomic.LoadUint64(&i.processed) }

// ParseErrors returns the count of malformed messages dropped.
func (i *Ingestor) ParseErrors() uint64 { return atomic.LoadUint64(&i.parseErrors) }

// ConnState returns the current state machine position.
func (i *Ingestor) ConnState() State { return i.state.Load().(State) }

// NextBackoff doubles the reconnect delay up to max.
func NextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
