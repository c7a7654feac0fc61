package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext adds a trace ID to the context and returns a logger with it
func WithTraceContext(ctx context.Context) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := Default().WithField("trace_id", traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// TickContext creates a logger context for per-tick processing
func TickContext(symbol string, price float64, eventMs int64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":   symbol,
		"price":    price,
		"event_ms": eventMs,
	}).WithComponent("tick")
}

// AlertContext creates a logger context for alert emission
func AlertContext(symbol, trigger string, value float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":  symbol,
		"trigger": trigger,
		"value":   value,
	}).WithComponent("alert")
}

// FeedContext creates a logger context for exchange stream handling
func FeedContext(url string, symbols int) *Logger {
	return Default().WithFields(map[string]interface{}{
		"url":     url,
		"symbols": symbols,
	}).WithComponent("feed")
}

// SubscriberContext creates a logger context for one WebSocket subscriber
func SubscriberContext(clientID string) *Logger {
	return Default().WithField("client_id", clientID).WithComponent("subscriber")
}
