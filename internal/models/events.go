// Package models defines the canonical event types that flow through the
// pipeline and their wire encodings.
package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// TriggerType identifies which detector fired an alert.
type TriggerType string

const (
	TriggerRSIHigh     TriggerType = "RSI_HIGH"
	TriggerRSILow      TriggerType = "RSI_LOW"
	TriggerVolumeSpike TriggerType = "VOLUME_SPIKE"
	TriggerWhaleAlert  TriggerType = "WHALE_ALERT"
	TriggerPsychLevel  TriggerType = "PSYCH_LEVEL"
)

// TradeEvent is a single matched-order observation from the exchange feed.
// Price and Volume keep the feed's exact decimal representation; indicator
// math converts to float64 at the point of use.
type TradeEvent struct {
	Symbol string
	Price  decimal.Decimal
	Volume decimal.Decimal
	Time   int64 // event time, epoch ms
}

// NewTradeEvent parses the feed's decimal strings without precision loss.
func NewTradeEvent(symbol, price, volume string, timeMs int64) (TradeEvent, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return TradeEvent{}, fmt.Errorf("invalid price %q: %w", price, err)
	}
	v, err := decimal.NewFromString(volume)
	if err != nil {
		return TradeEvent{}, fmt.Errorf("invalid volume %q: %w", volume, err)
	}
	return TradeEvent{Symbol: symbol, Price: p, Volume: v, Time: timeMs}, nil
}

// PriceFloat returns the price for indicator math.
func (t TradeEvent) PriceFloat() float64 {
	f, _ := t.Price.Float64()
	return f
}

// VolumeFloat returns the volume for indicator math.
func (t TradeEvent) VolumeFloat() float64 {
	f, _ := t.Volume.Float64()
	return f
}

// tradeWire fixes the log encoding: field names and order are part of the
// wire contract.
type tradeWire struct {
	Symbol string      `json:"symbol"`
	Price  json.Number `json:"price"`
	Volume json.Number `json:"volume"`
	Time   int64       `json:"time"`
}

// MarshalJSON encodes price and volume as JSON numbers, preserving the
// parsed decimal exactly.
func (t TradeEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(tradeWire{
		Symbol: t.Symbol,
		Price:  json.Number(t.Price.String()),
		Volume: json.Number(t.Volume.String()),
		Time:   t.Time,
	})
}

// UnmarshalJSON decodes the log encoding produced by MarshalJSON.
func (t *TradeEvent) UnmarshalJSON(data []byte) error {
	var w tradeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ev, err := NewTradeEvent(w.Symbol, w.Price.String(), w.Volume.String(), w.Time)
	if err != nil {
		return err
	}
	*t = ev
	return nil
}

// UnmarshalTrade decodes a trade from its log encoding.
func UnmarshalTrade(data []byte) (TradeEvent, error) {
	var t TradeEvent
	if err := json.Unmarshal(data, &t); err != nil {
		return TradeEvent{}, fmt.Errorf("decode trade: %w", err)
	}
	return t, nil
}

// AlertEvent is emitted by the analyzer when a detector fires and the
// cooldown allows it.
type AlertEvent struct {
	Symbol       string      `json:"symbol"`
	Price        float64     `json:"price"`
	TriggerType  TriggerType `json:"trigger_type"`
	TriggerValue float64     `json:"trigger_value"`
	Message      string      `json:"message"`
	Time         int64       `json:"time"`
}

// UnmarshalAlert decodes an alert from its log encoding.
func UnmarshalAlert(data []byte) (AlertEvent, error) {
	var a AlertEvent
	if err := json.Unmarshal(data, &a); err != nil {
		return AlertEvent{}, fmt.Errorf("decode alert: %w", err)
	}
	return a, nil
}

// AnalysisEvent carries LLM commentary for an alert.
type AnalysisEvent struct {
	Symbol string `json:"symbol"`
	Text   string `json:"text"`
	Time   int64  `json:"time"`
}

// WSMessage is the envelope pushed to WebSocket subscribers.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// alertView is the subscriber-facing alert shape. The keys differ from the
// log encoding (camelCase) and are part of the client contract.
type alertView struct {
	Symbol       string      `json:"symbol"`
	Price        float64     `json:"price"`
	TriggerType  TriggerType `json:"triggerType"`
	TriggerValue float64     `json:"triggerValue"`
	Message      string      `json:"message"`
	Time         int64       `json:"time"`
}

// NewTradeMessage wraps a trade for subscriber push.
func NewTradeMessage(t TradeEvent) WSMessage {
	return WSMessage{Type: "trade", Data: t}
}

// NewAlertMessage wraps an alert for subscriber push.
func NewAlertMessage(a AlertEvent) WSMessage {
	return WSMessage{Type: "alert", Data: alertView{
		Symbol:       a.Symbol,
		Price:        a.Price,
		TriggerType:  a.TriggerType,
		TriggerValue: a.TriggerValue,
		Message:      a.Message,
		Time:         a.Time,
	}}
}

// NewAnalysisMessage wraps LLM commentary for subscriber push.
func NewAnalysisMessage(a AnalysisEvent) WSMessage {
	return WSMessage{Type: "analysis", Data: a}
}
