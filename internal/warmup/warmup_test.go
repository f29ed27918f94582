package warmup

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"
)

// stamps returns n capture stamps at fps with each interval perturbed by up
// to jitter (fraction of the interval)
func stamps(n int, fps, jitter float64, rng *rand.Rand) []time.Time {
	interval := time.Duration(float64(time.Second) / fps)
	out := make([]time.Time, n)
	t := time.Unix(1000, 0)
	for i := range out {
		out[i] = t
		d := float64(interval)
		if jitter > 0 {
			d *= 1 + jitter*(2*rng.Float64()-1)
		}
		t = t.Add(time.Duration(d))
	}
	return out
}

func TestCalculateFPSStats_Regular(t *testing.T) {
	s := CalculateFPSStats(stamps(31, 30, 0, nil))

	if s.Frames != 31 {
		t.Errorf("Frames = %d", s.Frames)
	}
	if math.Abs(s.FPSMean-30) > 0.01 {
		t.Errorf("FPSMean = %.3f, want 30", s.FPSMean)
	}
	if s.FPSStdDev > 0.01 || s.JitterMean > 1e-6 {
		t.Errorf("regular stamps should have no spread: stddev %.4f jitter %.6f", s.FPSStdDev, s.JitterMean)
	}
	if !s.IsStable || s.Gaps != 0 {
		t.Errorf("IsStable = %v, Gaps = %d", s.IsStable, s.Gaps)
	}
}

// TestCalculateFPSStats_StabilityIsMonotonic checks that once jitter makes a
// stream unstable, more jitter never makes it stable again.
func TestCalculateFPSStats_StabilityIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	levels := []float64{0, 0.02, 0.05, 0.3, 0.6, 0.9}

	wasStable := true
	for _, j := range levels {
		s := CalculateFPSStats(stamps(200, 25, j, rng))
		t.Logf("jitter %.0f%% → stable=%v (stddev %.2f, jitter %.4fs)", j*100, s.IsStable, s.FPSStdDev, s.JitterMean)
		if !wasStable && s.IsStable {
			t.Errorf("jitter %.0f%% is stable after a less jittery run was not", j*100)
		}
		wasStable = s.IsStable
	}
	if !CalculateFPSStats(stamps(200, 25, 0.02, rand.New(rand.NewSource(3)))).IsStable {
		t.Error("2% jitter should be stable")
	}
	if CalculateFPSStats(stamps(200, 25, 0.9, rand.New(rand.NewSource(3)))).IsStable {
		t.Error("90% jitter should be unstable")
	}
}

func TestCalculateFPSStats_Gaps(t *testing.T) {
	in := stamps(20, 10, 0, nil)
	// drop frames 10..12: one interval of 400ms
	in = append(in[:10], in[13:]...)

	s := CalculateFPSStats(in)
	if s.Gaps != 1 {
		t.Errorf("Gaps = %d, want 1", s.Gaps)
	}
	if s.FPSMax < s.FPSMin {
		t.Errorf("FPSMax %.2f < FPSMin %.2f", s.FPSMax, s.FPSMin)
	}
}

func TestCalculateFPSStats_EdgeCases(t *testing.T) {
	now := time.Unix(5, 0)
	tests := []struct {
		name   string
		stamps []time.Time
	}{
		{"no frames", nil},
		{"one frame", []time.Time{now}},
		{"two frames", []time.Time{now, now.Add(time.Second)}},
		{"same stamp", []time.Time{now, now, now}},
		{"backwards", []time.Time{now, now.Add(-time.Second), now.Add(-2 * time.Second)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := CalculateFPSStats(tt.stamps)
			if s.IsStable {
				t.Error("expected unstable")
			}
			if s.Frames != len(tt.stamps) {
				t.Errorf("Frames = %d", s.Frames)
			}
			if math.IsNaN(s.FPSMean) || math.IsInf(s.FPSMean, 0) {
				t.Errorf("FPSMean = %v", s.FPSMean)
			}
		})
	}
}

func TestRateDeviation(t *testing.T) {
	s := Stats{FPSMean: 27}
	if got := RateDeviation(s, 30); math.Abs(got-0.1) > 1e-9 {
		t.Errorf("RateDeviation = %v, want 0.1", got)
	}
	if got := RateDeviation(s, 0); got != 0 {
		t.Errorf("RateDeviation with no target = %v", got)
	}
}

func feed(in []time.Time) chan Frame {
	ch := make(chan Frame, len(in))
	for i, st := range in {
		ch <- Frame{Seq: uint32(i), Stamp: st}
	}
	return ch
}

func TestRun(t *testing.T) {
	t.Run("stable", func(t *testing.T) {
		s, err := Run(context.Background(), feed(stamps(10, 30, 0, nil)), 20*time.Millisecond)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if s.Frames != 10 || !s.IsStable {
			t.Errorf("stats = %+v", s)
		}
	})

	t.Run("unstable", func(t *testing.T) {
		now := time.Unix(0, 0)
		in := []time.Time{now, now.Add(10 * time.Millisecond), now.Add(200 * time.Millisecond), now.Add(210 * time.Millisecond)}
		s, err := Run(context.Background(), feed(in), 20*time.Millisecond)
		if !errors.Is(err, ErrUnstable) {
			t.Fatalf("expected ErrUnstable, got %v", err)
		}
		if s.Frames != 4 {
			t.Errorf("stats should be returned with ErrUnstable: %+v", s)
		}
	})

	t.Run("not enough frames", func(t *testing.T) {
		_, err := Run(context.Background(), feed(stamps(2, 30, 0, nil)), 20*time.Millisecond)
		if !errors.Is(err, ErrNotEnoughFrames) {
			t.Errorf("expected ErrNotEnoughFrames, got %v", err)
		}
	})

	t.Run("closed", func(t *testing.T) {
		ch := feed(stamps(3, 30, 0, nil))
		close(ch)
		_, err := Run(context.Background(), ch, time.Second)
		if !errors.Is(err, ErrStreamClosed) {
			t.Errorf("expected ErrStreamClosed, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Run(ctx, make(chan Frame), time.Second)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
