package capture

import (
	"math"
	"sync"
)

const (
	// fpsWindowSize is the number of recent timestamps kept for rate stats.
	fpsWindowSize = 120

	// A stream is stable when the FPS stddev stays under 15% of the mean
	// and the mean jitter under 20% of the expected interval.
	fpsStabilityThreshold    = 0.15
	jitterStabilityThreshold = 0.20
)

// FPSStats describes the delivered frame rate, measured on hardware
// timestamps over the most recent window of frames.
type FPSStats struct {
	Frames       int     `json:"frames"`
	FPSMean      float64 `json:"fps_mean"`
	FPSStdDev    float64 `json:"fps_stddev"`
	FPSMin       float64 `json:"fps_min"`
	FPSMax       float64 `json:"fps_max"`
	JitterMean   float64 `json:"jitter_mean"`
	JitterStdDev float64 `json:"jitter_stddev"`
	JitterMax    float64 `json:"jitter_max"`
	IsStable     bool    `json:"is_stable"`
}

// fpsWindow is a fixed ring of nanosecond timestamps.
type fpsWindow struct {
	mu    sync.Mutex
	ts    [fpsWindowSize]int64
	next  int
	count int
}

func (w *fpsWindow) add(ts int64) {
	w.mu.Lock()
	w.ts[w.next] = ts
	w.next = (w.next + 1) % fpsWindowSize
	if w.count < fpsWindowSize {
		w.count++
	}
	w.mu.Unlock()
}

func (w *fpsWindow) reset() {
	w.mu.Lock()
	w.next, w.count = 0, 0
	w.mu.Unlock()
}

func (w *fpsWindow) stats() FPSStats {
	w.mu.Lock()
	ordered := make([]int64, w.count)
	start := (w.next - w.count + fpsWindowSize) % fpsWindowSize
	for i := 0; i < w.count; i++ {
		ordered[i] = w.ts[(start+i)%fpsWindowSize]
	}
	w.mu.Unlock()
	return calculateFPSStats(ordered)
}

// calculateFPSStats computes rate and jitter statistics from ordered
// hardware timestamps in nanoseconds.
func calculateFPSStats(ts []int64) FPSStats {
	n := len(ts)
	if n < 2 {
		return FPSStats{Frames: n}
	}

	span := float64(ts[n-1]-ts[0]) / 1e9
	if span <= 0 {
		return FPSStats{Frames: n}
	}
	// n timestamps delimit n-1 intervals.
	fpsMean := float64(n-1) / span

	intervals := make([]float64, 0, n-1)
	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		iv := float64(ts[i]-ts[i-1]) / 1e9
		intervals = append(intervals, iv)
		if iv > 0 {
			instantaneous = append(instantaneous, 1/iv)
		}
	}
	if len(instantaneous) == 0 {
		return FPSStats{Frames: n, FPSMean: fpsMean}
	}

	fpsMin, fpsMax := instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		fpsMin = math.Min(fpsMin, fps)
		fpsMax = math.Max(fpsMax, fps)
		d := fps - fpsMean
		sumSquares += d * d
	}
	fpsStdDev := math.Sqrt(sumSquares / float64(len(instantaneous)))

	expected := 1 / fpsMean
	var jitterSum, jitterMax float64
	jitters := make([]float64, len(intervals))
	for i, iv := range intervals {
		j := math.Abs(iv - expected)
		jitters[i] = j
		jitterSum += j
		jitterMax = math.Max(jitterMax, j)
	}
	jitterMean := jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		d := j - jitterMean
		jitterSquares += d * d
	}

	return FPSStats{
		Frames:       n,
		FPSMean:      fpsMean,
		FPSStdDev:    fpsStdDev,
		FPSMin:       fpsMin,
		FPSMax:       fpsMax,
		JitterMean:   jitterMean,
		JitterStdDev: math.Sqrt(jitterSquares / float64(len(jitters))),
		JitterMax:    jitterMax,
		IsStable: fpsStdDev < fpsMean*fpsStabilityThreshold &&
			jitterMean < expected*jitterStabilityThreshold,
	}
}
