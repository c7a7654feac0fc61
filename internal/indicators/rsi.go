// Package indicators implements the streaming per-symbol detectors that
// drive alert triggers: time-bucketed RSI, time-bucketed volume spikes,
// rolling-window price changes and fixed-level crossings.
//
// All detectors share the same shape: a single Update call per trade tick,
// returning a result and true only when a detection boundary is reached.
// State is per symbol and single-writer; the analyzer owns the instances.
package indicators

import "math"

// RsiResult is produced when a 1-second candle closes with enough history.
type RsiResult struct {
	Symbol     string
	RSI        float64
	Overbought bool
	Oversold   bool
}

// rsiState tracks candle closes for one symbol.
type rsiState struct {
	lastBucket int64
	closes     []float64
}

// RsiBySecond computes RSI over 1-second candle closes instead of raw ticks.
// Calculating on every tick of a high-frequency feed produces noise and
// pinned extremes; bucketing by second keeps the oscillator meaningful.
type RsiBySecond struct {
	period     int
	overbought float64
	oversold   float64
	states     map[string]*rsiState
}

// NewRsiBySecond creates a calculator for the given candle period and
// overbought/oversold thresholds.
func NewRsiBySecond(period int, overbought, oversold float64) *RsiBySecond {
	return &RsiBySecond{
		period:     period,
		overbought: overbought,
		oversold:   oversold,
		states:     make(map[string]*rsiState),
	}
}

// Update feeds one tick. It returns a result only when the tick opens a new
// second and at least period+1 candle closes exist. Ticks inside the current
// second refresh that candle's close. Seconds with no trades are collapsed;
// no synthetic candles are filled in.
func (r *RsiBySecond) Update(symbol string, price float64, eventMs int64) (RsiResult, bool) {
	bucket := eventMs / 1000

	st, ok := r.states[symbol]
	if !ok {
		r.states[symbol] = &rsiState{lastBucket: bucket, closes: []float64{price}}
		return RsiResult{}, false
	}

	if bucket > st.lastBucket {
		// Previous candle's close is already in place; this price opens
		// the new candle.
		st.closes = append(st.closes, price)
		st.lastBucket = bucket
		if len(st.closes) > r.period+1 {
			st.closes = st.closes[1:]
		}
		if len(st.closes) > r.period {
			rsi := calculateRSI(st.closes, r.period)
			return RsiResult{
				Symbol:     symbol,
				RSI:        rsi,
				Overbought: rsi > r.overbought,
				Oversold:   rsi < r.oversold,
			}, true
		}
		return RsiResult{}, false
	}

	// Same second: the candle is still forming.
	st.closes[len(st.closes)-1] = price
	return RsiResult{}, false
}

// Current returns the most recent RSI for a symbol, or false if not enough
// candles have closed yet.
func (r *RsiBySecond) Current(symbol string) (float64, bool) {
	st, ok := r.states[symbol]
	if !ok || len(st.closes) <= r.period {
		return 0, false
	}
	return calculateRSI(st.closes, r.period), true
}

// calculateRSI computes RSI from the last period close-to-close differences
// using simple means of gains and losses.
func calculateRSI(closes []float64, period int) float64 {
	diffs := len(closes) - 1
	if diffs > period {
		closes = closes[len(closes)-period-1:]
		diffs = period
	}

	var gainSum, lossSum float64
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gainSum += change
		} else {
			lossSum += -change
		}
	}

	avgGain := gainSum / float64(diffs)
	avgLoss := lossSum / float64(diffs)

	if avgLoss == 0 {
		if avgGain > 0 {
			return 100.0
		}
		return 50.0
	}
	if avgGain == 0 {
		return 0.0
	}

	rs := avgGain / avgLoss
	return round2(100.0 - (100.0 / (1.0 + rs)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
