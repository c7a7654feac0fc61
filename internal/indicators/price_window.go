package indicators

import "math"

// WhaleResult reports a price move exceeding the threshold inside the
// rolling window.
type WhaleResult struct {
	Symbol        string
	ChangePercent float64
	WindowSeconds int
	IsWhale       bool
}

type pricePoint struct {
	eventMs int64
	price   float64
}

// PriceChangeWindow detects rapid price moves: it compares the current price
// against the oldest price still inside a rolling time window.
type PriceChangeWindow struct {
	windowSeconds int
	threshold     float64
	history       map[string][]pricePoint
}

// NewPriceChangeWindow creates a detector over windowSeconds with a
// percentage threshold (1.0 means 1%).
func NewPriceChangeWindow(windowSeconds int, threshold float64) *PriceChangeWindow {
	return &PriceChangeWindow{
		windowSeconds: windowSeconds,
		threshold:     threshold,
		history:       make(map[string][]pricePoint),
	}
}

// Update appends the tick, prunes entries older than the window, and reports
// a whale move when the change against the oldest retained price reaches the
// threshold. When pruning leaves only the tick itself the change is zero, so
// an expired baseline never alerts.
func (p *PriceChangeWindow) Update(symbol string, price float64, eventMs int64) (WhaleResult, bool) {
	hist := append(p.history[symbol], pricePoint{eventMs: eventMs, price: price})

	cutoff := eventMs - int64(p.windowSeconds)*1000
	start := 0
	for start < len(hist) && hist[start].eventMs < cutoff {
		start++
	}
	hist = hist[start:]
	p.history[symbol] = hist

	oldest := hist[0].price
	changePct := (price - oldest) / oldest * 100.0

	if math.Abs(changePct) >= p.threshold {
		return WhaleResult{
			Symbol:        symbol,
			ChangePercent: round2(changePct),
			WindowSeconds: p.windowSeconds,
			IsWhale:       true,
		}, true
	}
	return WhaleResult{}, false
}
