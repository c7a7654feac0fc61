package indicators

import "sort"

// Cross directions.
const (
	DirectionUp   = "UP"
	DirectionDown = "DOWN"
)

// LevelResult reports a price crossing a configured level.
type LevelResult struct {
	Symbol    string
	Level     int
	Direction string
	Price     float64
}

// LevelCross detects crossings of fixed psychological price levels. The
// level set is shared across symbols; the last observed price is tracked per
// symbol.
type LevelCross struct {
	levels     []int
	lastPrices map[string]float64
}

// NewLevelCross creates a detector for the given levels. The input slice is
// not retained.
func NewLevelCross(levels []int) *LevelCross {
	sorted := make([]int, len(levels))
	copy(sorted, levels)
	sort.Ints(sorted)
	return &LevelCross{
		levels:     sorted,
		lastPrices: make(map[string]float64),
	}
}

// Update checks whether the move from the previous tick's price to this one
// crossed any level. Levels are checked in ascending order and only the
// first crossing is reported, so a single large move yields one alert.
func (l *LevelCross) Update(symbol string, price float64) (LevelResult, bool) {
	last, ok := l.lastPrices[symbol]
	l.lastPrices[symbol] = price
	if !ok {
		return LevelResult{}, false
	}

	for _, level := range l.levels {
		fl := float64(level)
		if last < fl && fl <= price {
			return LevelResult{Symbol: symbol, Level: level, Direction: DirectionUp, Price: price}, true
		}
		if last > fl && fl >= price {
			return LevelResult{Symbol: symbol, Level: level, Direction: DirectionDown, Price: price}, true
		}
	}
	return LevelResult{}, false
}
