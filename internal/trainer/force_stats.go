package trainer

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ForceStats summarizes the peak force of counted half-reps, in kg.
type ForceStats struct {
	UpwardCount   int
	AverageUpward float64
	MaxUpward     float64

	DownwardCount   int
	AverageDownward float64
	MaxDownward     float64
}

// forceTracker records the peak total cable force between two half-rep
// notifications and assigns it to the direction of the half-rep that closes
// the interval.
type forceTracker struct {
	peak     float64
	upward   []float64
	downward []float64
}

func (t *forceTracker) reset() {
	t.peak = 0
	t.upward = t.upward[:0]
	t.downward = t.downward[:0]
}

func (t *forceTracker) observe(totalKg float64) {
	if totalKg > t.peak {
		t.peak = totalKg
	}
}

func (t *forceTracker) closeHalfRep(upward, counted bool) {
	peak := t.peak
	t.peak = 0
	if !counted {
		return
	}
	if upward {
		t.upward = append(t.upward, peak)
	} else {
		t.downward = append(t.downward, peak)
	}
}

func (t *forceTracker) stats() ForceStats {
	s := ForceStats{
		UpwardCount:   len(t.upward),
		DownwardCount: len(t.downward),
	}
	if len(t.upward) > 0 {
		s.AverageUpward = stat.Mean(t.upward, nil)
		s.MaxUpward = floats.Max(t.upward)
	}
	if len(t.downward) > 0 {
		s.AverageDownward = stat.Mean(t.downward, nil)
		s.MaxDownward = floats.Max(t.downward)
	}
	return s
}
