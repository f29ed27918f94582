package warmup

import (
	"math"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a
	// fraction of mean FPS. 30 FPS mean → stable if stddev < 4.5 FPS.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of
	// the mean inter-frame interval. 30 FPS (33ms) → stable if jitter < 6.6ms.
	jitterStabilityThreshold = 0.20
)

// Stats contains frame rate statistics over a run of frame timestamps
type Stats struct {
	Frames       int           // Number of frames measured
	Span         time.Duration // First to last timestamp
	FPSMean      float64       // Frames per second over the span
	FPSStdDev    float64       // Standard deviation of instantaneous FPS
	FPSMin       float64       // Minimum instantaneous FPS
	FPSMax       float64       // Maximum instantaneous FPS
	IsStable     bool          // stddev < 15% of mean AND jitter < 20% of interval
	JitterMean   float64       // Mean deviation from the mean interval (seconds)
	JitterStdDev float64       // Standard deviation of jitter (seconds)
	JitterMax    float64       // Maximum jitter observed (seconds)
	Gaps         int           // Intervals longer than twice the mean interval
}

// CalculateFPSStats calculates frame rate statistics from capture timestamps
//
// This function:
//  1. Calculates mean FPS from the span between first and last stamp
//  2. Calculates instantaneous FPS for each frame interval
//  3. Finds min/max instantaneous FPS and its standard deviation
//  4. Calculates jitter against the mean interval
//  5. Counts gaps (dropped frames upstream)
//  6. Determines stability (stddev < 15% of mean AND jitter < 20%)
//
// Timestamps must be in capture order. Fewer than three stamps are never
// stable.
func CalculateFPSStats(stamps []time.Time) Stats {
	n := len(stamps)
	if n < 2 {
		return Stats{Frames: n}
	}

	span := stamps[n-1].Sub(stamps[0])
	stats := Stats{Frames: n, Span: span}
	if span <= 0 {
		return stats
	}
	stats.FPSMean = float64(n-1) / span.Seconds()
	expected := 1.0 / stats.FPSMean

	var instant, jitters []float64
	for i := 1; i < n; i++ {
		interval := stamps[i].Sub(stamps[i-1]).Seconds()
		if interval > 0 {
			instant = append(instant, 1.0/interval)
		}
		if interval > 2*expected {
			stats.Gaps++
		}
		jitters = append(jitters, math.Abs(interval-expected))
	}
	if len(instant) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = instant[0], instant[0]
	for _, fps := range instant {
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
	}
	stats.FPSStdDev = stddev(instant, stats.FPSMean)

	stats.JitterMean = mean(jitters)
	stats.JitterStdDev = stddev(jitters, stats.JitterMean)
	for _, j := range jitters {
		stats.JitterMax = math.Max(stats.JitterMax, j)
	}

	fpsStable := stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold
	jitterStable := stats.JitterMean < expected*jitterStabilityThreshold
	stats.IsStable = n >= 3 && fpsStable && jitterStable
	return stats
}

// RateDeviation returns how far the measured rate is from target, as a
// fraction of target. Zero target returns zero.
func RateDeviation(s Stats, target float64) float64 {
	if target <= 0 {
		return 0
	}
	return math.Abs(s.FPSMean-target) / target
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, m float64) float64 {
	var sumSquares float64
	for _, x := range xs {
		d := x - m
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(xs)))
}
