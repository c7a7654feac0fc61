package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"pulsetrade/internal/models"
)

// tradeMessage is the exchange wire shape. Price and quantity arrive as
// decimal strings and must not pass through float64. EventTime and
// TradeID must be declared even though only TradeTime is used: without an
// exact match for "E" and "t", encoding/json binds them case-insensitively
// to "e" and "T" and either rejects the message or corrupts the event
// time.
type tradeMessage struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ParseTradeMessage decodes one feed message into a canonical trade event.
func ParseTradeMessage(data []byte) (models.TradeEvent, error) {
	var msg tradeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.TradeEvent{}, fmt.Errorf("decode feed message: %w", err)
	}
	if msg.EventType != "" && msg.EventType != "trade" {
		return models.TradeEvent{}, fmt.Errorf("unexpected event type %q", msg.EventType)
	}
	if msg.Symbol == "" || msg.Price == "" || msg.Quantity == "" {
		return models.TradeEvent{}, fmt.Errorf("missing required fields in feed message")
	}
	if msg.TradeTime <= 0 {
		return models.TradeEvent{}, fmt.Errorf("missing event time in feed message")
	}

	trade, err := models.NewTradeEvent(strings.ToUpper(msg.Symbol), msg.Price, msg.Quantity, msg.TradeTime)
	if err != nil {
		return models.TradeEvent{}, err
	}
	if !trade.Price.IsPositive() {
		return models.TradeEvent{}, fmt.Errorf("non-positive price %s", trade.Price)
	}
	if trade.Volume.IsNegative() {
		return models.TradeEvent{}, fmt.Errorf("negative volume %s", trade.Volume)
	}
	return trade, nil
}
