// Package state provides Redis-backed live market state with graceful
// degradation. When Redis is unavailable the pipeline keeps running and
// state operations become no-ops.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"pulsetrade/internal/logging"
	"pulsetrade/internal/models"
)

// Key prefixes for the different state types
const (
	PrefixTick      = "tick:%s"     // Latest tick per symbol
	PrefixHistory   = "history:%s"  // Price history (sorted set by timestamp)
	PrefixAlert     = "alert:%s:%s" // Recent alerts for deduplication
	PrefixIndicator = "ind:%s"      // Latest indicator snapshot per symbol
)

// Default TTLs and limits
const (
	DefaultTickTTL      = 60 * time.Second
	DefaultHistoryTTL   = time.Hour
	DefaultDedupTTL     = 30 * time.Second
	DefaultHistoryLimit = 500
)

// StoreConfig holds Redis state store configuration
type StoreConfig struct {
	Addr         string
	Password     string
	DB           int
	HistoryLimit int
	TickTTL      time.Duration
	DedupTTL     time.Duration
}

// Store caches live market state in Redis. A nil *Store is valid and
// turns every operation into a no-op, so callers do not need to branch
// on whether state caching is enabled.
type Store struct {
	client *redis.Client
	config StoreConfig
	logger *logging.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// NewStore creates a Store and verifies connectivity. A failed initial
// connection is not fatal: the store starts degraded and recovers once
// Redis becomes reachable.
func NewStore(cfg StoreConfig, logger *logging.Logger) *Store {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.TickTTL <= 0 {
		cfg.TickTTL = DefaultTickTTL
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	s := &Store{
		client:        client,
		config:        cfg,
		logger:        logger.WithComponent("state"),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		s.logger.Warn("Initial Redis connection failed, state store degraded", "error", err)
		return s
	}

	s.healthy = true
	s.lastCheck = time.Now()
	s.logger.Info("State store connected", "addr", cfg.Addr)

	return s
}

// IsHealthy returns whether Redis is currently available
func (s *Store) IsHealthy() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *Store) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failureCount++
	if s.failureCount >= s.maxFailures {
		if s.healthy {
			s.logger.Warn("State store marked unhealthy", "failures", s.failureCount)
		}
		s.healthy = false
	}
}

func (s *Store) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.healthy {
		s.logger.Info("State store recovered")
	}
	s.healthy = true
	s.failureCount = 0
	s.lastCheck = time.Now()
}

// checkHealth pings Redis in the background once the store is unhealthy
// and enough time has passed since the last check
func (s *Store) checkHealth() {
	s.mu.RLock()
	shouldCheck := !s.healthy && time.Since(s.lastCheck) >= s.checkInterval
	s.mu.RUnlock()

	if !shouldCheck {
		return
	}

	s.mu.Lock()
	s.lastCheck = time.Now()
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := s.client.Ping(ctx).Err(); err == nil {
			s.recordSuccess()
		}
	}()
}

// SaveTick stores the latest tick for a symbol with a short TTL
func (s *Store) SaveTick(ctx context.Context, trade models.TradeEvent) error {
	if s == nil {
		return nil
	}
	s.checkHealth()
	if !s.IsHealthy() {
		return nil
	}

	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("failed to marshal tick: %w", err)
	}

	key := fmt.Sprintf(PrefixTick, trade.Symbol)
	if err := s.client.Set(ctx, key, data, s.config.TickTTL).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis set tick failed: %w", err)
	}

	s.recordSuccess()
	return nil
}

// GetTick returns the latest cached tick for a symbol, or nil when absent
func (s *Store) GetTick(ctx context.Context, symbol string) (*models.TradeEvent, error) {
	if s == nil || !s.IsHealthy() {
		return nil, nil
	}

	key := fmt.Sprintf(PrefixTick, symbol)
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		s.recordFailure()
		return nil, fmt.Errorf("redis get tick failed: %w", err)
	}

	trade, err := models.UnmarshalTrade(data)
	if err != nil {
		return nil, err
	}

	s.recordSuccess()
	return &trade, nil
}

// PricePoint is a single chartable price observation
type PricePoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// AddPricePoint appends a price to the symbol's history window. The
// sorted set is scored by timestamp and trimmed to the history limit.
func (s *Store) AddPricePoint(ctx context.Context, symbol string, price float64, timeMs int64) error {
	if s == nil {
		return nil
	}
	s.checkHealth()
	if !s.IsHealthy() {
		return nil
	}

	key := fmt.Sprintf(PrefixHistory, symbol)
	tsSec := timeMs / 1000
	member := strconv.FormatFloat(price, 'f', -1, 64) + ":" + strconv.FormatInt(tsSec, 10)

	if err := s.client.ZAdd(ctx, key, redis.Z{Score: float64(tsSec), Member: member}).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis zadd failed: %w", err)
	}

	s.client.ZRemRangeByRank(ctx, key, 0, int64(-s.config.HistoryLimit-1))
	s.client.Expire(ctx, key, DefaultHistoryTTL)

	s.recordSuccess()
	return nil
}

// GetPriceHistory returns up to limit most recent price points in
// chronological order
func (s *Store) GetPriceHistory(ctx context.Context, symbol string, limit int) ([]PricePoint, error) {
	if s == nil || !s.IsHealthy() {
		return nil, nil
	}

	key := fmt.Sprintf(PrefixHistory, symbol)
	entries, err := s.client.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("redis zrevrange failed: %w", err)
	}

	history := make([]PricePoint, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		member, ok := entries[i].Member.(string)
		if !ok {
			continue
		}
		priceStr, _, _ := strings.Cut(member, ":")
		value, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			continue
		}
		history = append(history, PricePoint{
			Time:  int64(entries[i].Score),
			Value: value,
		})
	}

	s.recordSuccess()
	return history, nil
}

// ShouldSendAlert is a cross-instance deduplication check. It returns
// true when no alert for (symbol, trigger) fired within the dedup TTL,
// and true whenever Redis is unavailable so alerts are never lost to a
// cache outage.
func (s *Store) ShouldSendAlert(ctx context.Context, symbol string, trigger string) bool {
	if s == nil {
		return true
	}
	s.checkHealth()
	if !s.IsHealthy() {
		return true
	}

	key := fmt.Sprintf(PrefixAlert, symbol, trigger)
	ok, err := s.client.SetNX(ctx, key, "1", s.config.DedupTTL).Result()
	if err != nil {
		s.recordFailure()
		return true
	}

	s.recordSuccess()
	return ok
}

// SaveIndicators caches the latest indicator snapshot for a symbol
func (s *Store) SaveIndicators(ctx context.Context, symbol string, indicators interface{}) error {
	if s == nil {
		return nil
	}
	s.checkHealth()
	if !s.IsHealthy() {
		return nil
	}

	data, err := json.Marshal(indicators)
	if err != nil {
		return fmt.Errorf("failed to marshal indicators: %w", err)
	}

	key := fmt.Sprintf(PrefixIndicator, symbol)
	if err := s.client.Set(ctx, key, data, s.config.TickTTL).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis set indicators failed: %w", err)
	}

	s.recordSuccess()
	return nil
}

// GetIndicators returns the cached indicator snapshot for a symbol
func (s *Store) GetIndicators(ctx context.Context, symbol string) (json.RawMessage, error) {
	if s == nil || !s.IsHealthy() {
		return nil, nil
	}

	key := fmt.Sprintf(PrefixIndicator, symbol)
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		s.recordFailure()
		return nil, fmt.Errorf("redis get indicators failed: %w", err)
	}

	s.recordSuccess()
	return data, nil
}

// Stats reports store health for monitoring
type Stats struct {
	Enabled      bool   `json:"enabled"`
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Address      string `json:"address"`
}

// GetStats returns current store statistics
func (s *Store) GetStats() Stats {
	if s == nil {
		return Stats{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Enabled:      true,
		Healthy:      s.healthy,
		FailureCount: s.failureCount,
		Address:      s.config.Addr,
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
