// Package warmup measures the capture frame rate right after streaming
// starts.
package warmup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	ErrStreamClosed    = errors.New("warmup: stream closed during warm-up")
	ErrNotEnoughFrames = errors.New("warmup: not enough frames received")
	ErrUnstable        = errors.New("warmup: frame rate unstable")
)

// Frame is the part of a captured frame the warm-up looks at
type Frame struct {
	Seq   uint32
	Stamp time.Time
}

// Run consumes frames for duration and measures their rate from the capture
// stamps
//
// This function:
//  1. Collects frame stamps until duration elapses or ctx is done
//  2. Calculates FPS statistics over the stamps
//  3. Logs the result
//
// It returns the statistics together with ErrUnstable when the rate is not
// stable, so callers can decide whether to carry on. Fewer than 3 frames,
// a closed stream or a cancelled ctx are errors without statistics.
func Run(ctx context.Context, frames <-chan Frame, duration time.Duration) (Stats, error) {
	slog.Info("warmup: starting capture warm-up", "duration", duration)

	stamps := make([]time.Time, 0, 128)
	var lastSeq uint32

	timer := time.NewTimer(duration)
	defer timer.Stop()

collect:
	for {
		select {
		case <-ctx.Done():
			return Stats{}, fmt.Errorf("warmup: %w", ctx.Err())
		case <-timer.C:
			break collect
		case f, ok := <-frames:
			if !ok {
				return Stats{}, ErrStreamClosed
			}
			if len(stamps) > 0 && f.Seq != lastSeq+1 {
				slog.Debug("warmup: sequence gap", "from", lastSeq, "to", f.Seq)
			}
			lastSeq = f.Seq
			stamps = append(stamps, f.Stamp)
		}
	}

	if len(stamps) < 3 {
		return Stats{}, fmt.Errorf("%w (got %d, need at least 3)", ErrNotEnoughFrames, len(stamps))
	}

	stats := CalculateFPSStats(stamps)

	slog.Info("warmup: capture warm-up complete",
		"frames", stats.Frames,
		"span", stats.Span,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"fps_range", fmt.Sprintf("%.1f-%.1f", stats.FPSMin, stats.FPSMax),
		"jitter_mean", fmt.Sprintf("%.4fs", stats.JitterMean),
		"gaps", stats.Gaps,
		"stable", stats.IsStable,
	)

	if !stats.IsStable {
		return stats, fmt.Errorf("%w (mean=%.2f Hz, stddev=%.2f, jitter=%.4fs)",
			ErrUnstable, stats.FPSMean, stats.FPSStdDev, stats.JitterMean)
	}
	return stats, nil
}
