package trainer

import (
	"math"
	"time"
)

// bottomHold detects both cables resting at the bottom for a hold duration.
type bottomHold struct {
	hold   time.Duration
	since  time.Time
	active bool
}

// update feeds one reading. It returns the countdown to publish and whether
// the hold just expired. Expiry resets the hold, so it fires once.
func (h *bottomHold) update(atBottom bool, now time.Time) (Countdown, bool) {
	if !atBottom {
		h.reset()
		return Countdown{}, false
	}
	if !h.active {
		h.active = true
		h.since = now
	}
	elapsed := now.Sub(h.since)
	countdown := Countdown{Seconds: ceilSeconds(h.hold - elapsed), Active: true}
	if elapsed >= h.hold {
		h.reset()
		return countdown, true
	}
	return countdown, false
}

func (h *bottomHold) reset() {
	h.active = false
	h.since = time.Time{}
}

// ceilSeconds rounds a remaining duration up to whole seconds, never below 0.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
