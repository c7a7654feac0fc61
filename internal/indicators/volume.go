package indicators

// minCompletedBuckets is how many closed 1-second buckets must exist before
// spike math runs. Below this the rolling average is too thin to compare
// against.
const minCompletedBuckets = 5

// VolumeResult describes the bucket that just closed.
type VolumeResult struct {
	Symbol        string
	CurrentVolume float64
	AverageVolume float64
	Multiplier    float64
	IsSpike       bool
}

// volumeState tracks per-second volume aggregation for one symbol.
type volumeState struct {
	lastBucket int64
	current    float64
	history    []float64
}

// VolumeSpikeBySecond aggregates trade volume into 1-second buckets and
// compares each completed bucket against the rolling average of earlier
// buckets. Individual tick volumes are tiny and meaningless on their own;
// volume per unit time is the signal.
type VolumeSpikeBySecond struct {
	windowSize int
	threshold  float64
	states     map[string]*volumeState
}

// NewVolumeSpikeBySecond creates a detector keeping windowSize completed
// bucket sums per symbol and flagging buckets above threshold times the
// rolling average.
func NewVolumeSpikeBySecond(windowSize int, threshold float64) *VolumeSpikeBySecond {
	return &VolumeSpikeBySecond{
		windowSize: windowSize,
		threshold:  threshold,
		states:     make(map[string]*volumeState),
	}
}

// Update feeds one tick's volume. A result is returned on the tick that
// opens a new second, describing the bucket that just closed, once at least
// minCompletedBuckets buckets have completed.
func (v *VolumeSpikeBySecond) Update(symbol string, volume float64, eventMs int64) (VolumeResult, bool) {
	bucket := eventMs / 1000

	st, ok := v.states[symbol]
	if !ok {
		v.states[symbol] = &volumeState{lastBucket: bucket, current: volume}
		return VolumeResult{}, false
	}

	if bucket <= st.lastBucket {
		st.current += volume
		return VolumeResult{}, false
	}

	// Bucket transition: what accumulated is final.
	completed := st.current
	st.history = append(st.history, completed)
	if len(st.history) > v.windowSize {
		st.history = st.history[1:]
	}
	st.current = volume
	st.lastBucket = bucket

	if len(st.history) < minCompletedBuckets {
		return VolumeResult{}, false
	}

	// Average excludes the bucket being judged.
	prior := st.history[:len(st.history)-1]
	var sum float64
	for _, b := range prior {
		sum += b
	}
	avg := completed
	if len(prior) > 0 {
		avg = sum / float64(len(prior))
	}

	multiplier := 0.0
	if avg > 0 {
		multiplier = round2(completed / avg)
	}

	return VolumeResult{
		Symbol:        symbol,
		CurrentVolume: completed,
		AverageVolume: avg,
		Multiplier:    multiplier,
		IsSpike:       multiplier > v.threshold,
	}, true
}
