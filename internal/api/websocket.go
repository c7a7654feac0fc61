package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"pulsetrade/internal/logging"
	"pulsetrade/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin filtering is handled by the CORS middleware; subscriber
		// authentication is out of scope.
		return true
	},
}

// WSClient represents one connected subscriber.
type WSClient struct {
	id        string
	conn      *websocket.Conn
	send      chan wsFrame
	hub       *WSHub
	closeOnce sync.Once
	closeChan chan struct{}
}

// wsFrame carries either a JSON text payload or raw binary (audio).
type wsFrame struct {
	messageType int
	data        []byte
}

// WSHub is the subscriber registry and fan-out point. Trades and alerts
// enter through bounded queues with drop-newest overflow; broadcasts never
// block on a slow subscriber because each client has its own bounded send
// buffer and is evicted when it fills.
type WSHub struct {
	clients    map[*WSClient]bool
	register   chan *WSClient
	unregister chan *WSClient

	trades chan models.TradeEvent
	alerts chan models.AlertEvent

	tradesDropped uint64
	alertsDropped uint64

	// clientCount mirrors len(clients) so the audience gate never touches
	// the registry map from another goroutine.
	clientCount int64

	stopOnce sync.Once
	stop     chan struct{}
	mu       sync.RWMutex
	logger   *logging.Logger
}

// HubConfig sizes the hub's bounded queues.
type HubConfig struct {
	TradeQueueSize int
	AlertQueueSize int
}

// NewWSHub creates the hub with bounded trade and alert queues.
func NewWSHub(cfg HubConfig, logger *logging.Logger) *WSHub {
	if cfg.TradeQueueSize < 1 {
		cfg.TradeQueueSize = 1000
	}
	if cfg.AlertQueueSize < 1 {
		cfg.AlertQueueSize = 10
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		trades:     make(chan models.TradeEvent, cfg.TradeQueueSize),
		alerts:     make(chan models.AlertEvent, cfg.AlertQueueSize),
		stop:       make(chan struct{}),
		logger:     logger.WithComponent("ws_hub"),
	}
}

// Run drives registration and drains the trade/alert queues into
// broadcasts. It returns when Stop is called.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			atomic.StoreInt64(&h.clientCount, int64(len(h.clients)))
			h.mu.Unlock()
			h.logger.WithField("client_id", client.id).Debug("Subscriber attached")

		case client := <-h.unregister:
			h.removeClient(client)

		case trade := <-h.trades:
			h.BroadcastJSON(models.NewTradeMessage(trade))

		case alert := <-h.alerts:
			h.BroadcastJSON(models.NewAlertMessage(alert))

		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			atomic.StoreInt64(&h.clientCount, 0)
			h.mu.Unlock()
			return
		}
	}
}

// Stop shuts down the run loop and disconnects all subscribers.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// requestUnregister hands a client to the run loop, giving up when the
// hub has already stopped so pump goroutines never block at shutdown.
func (h *WSHub) requestUnregister(client *WSClient) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

func (h *WSHub) removeClient(client *WSClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
	}
	atomic.StoreInt64(&h.clientCount, int64(len(h.clients)))
	h.mu.Unlock()
}

// PushTrade enqueues a trade for broadcast. On a full queue the trade is
// dropped and counted; producers never block.
func (h *WSHub) PushTrade(trade models.TradeEvent) {
	select {
	case h.trades <- trade:
	default:
		atomic.AddUint64(&h.tradesDropped, 1)
	}
}

// PushAlert enqueues an alert for broadcast with the same drop-newest
// policy.
func (h *WSHub) PushAlert(alert models.AlertEvent) {
	select {
	case h.alerts <- alert:
	default:
		atomic.AddUint64(&h.alertsDropped, 1)
	}
}

// BroadcastJSON sends a JSON message to every subscriber. A subscriber
// whose send buffer is full is evicted rather than slowing the others.
func (h *WSHub) BroadcastJSON(msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal broadcast message")
		return
	}
	h.broadcast(wsFrame{messageType: websocket.TextMessage, data: data})
}

// BroadcastBinary sends raw bytes (synthesized audio) to every subscriber.
func (h *WSHub) BroadcastBinary(data []byte) {
	h.broadcast(wsFrame{messageType: websocket.BinaryMessage, data: data})
}

func (h *WSHub) broadcast(frame wsFrame) {
	var evicted []*WSClient

	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- frame:
		default:
			evicted = append(evicted, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range evicted {
		h.logger.WithField("client_id", client.id).Warn("Evicting slow subscriber")
		h.removeClient(client)
	}
}

// ClientCount backs the analyzer's audience gate.
func (h *WSHub) ClientCount() int {
	return int(atomic.LoadInt64(&h.clientCount))
}

// DroppedCounts returns the trade and alert drop counters.
func (h *WSHub) DroppedCounts() (trades, alerts uint64) {
	return atomic.LoadUint64(&h.tradesDropped), atomic.LoadUint64(&h.alertsDropped)
}

func (c *WSClient) close() {
	c.closeOnce.Do(func() { close(c.closeChan) })
}

// writePump drains the client's send buffer to the socket and keeps the
// connection alive with periodic pings.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(frame.messageType, frame.data); err != nil {
				c.hub.requestUnregister(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.requestUnregister(c)
				return
			}

		case <-c.closeChan:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// readPump consumes (and discards) inbound frames so pongs and close
// frames are processed.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.requestUnregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleWebSocket upgrades the request and attaches the subscriber.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Error("Failed to upgrade connection")
		return
	}

	client := &WSClient{
		id:        uuid.New().String(),
		conn:      conn,
		send:      make(chan wsFrame, 256),
		hub:       s.hub,
		closeChan: make(chan struct{}),
	}

	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}
