package trainer

import "github.com/lowaak/cable-trainer/internal/protocol"

// MachineState is the live state of both cables.
type MachineState struct {
	ForceLeftKg   float64
	ForceRightKg  float64
	PositionLeft  float64 // normalized 0..1
	PositionRight float64 // normalized 0..1
}

// TotalForceKg is the combined load of both cables.
func (s MachineState) TotalForceKg() float64 {
	return s.ForceLeftKg + s.ForceRightKg
}

// positionFilter rejects raw position spikes and normalizes readings. It keeps
// the last accepted raw value per channel.
type positionFilter struct {
	spikeMax  uint16
	divisor   float64
	lastLeft  uint16
	lastRight uint16
}

func newPositionFilter(spikeMax uint16, divisor float64) *positionFilter {
	return &positionFilter{spikeMax: spikeMax, divisor: divisor}
}

// apply returns the machine state for a frame together with the raw positions
// that were used after spike rejection.
func (f *positionFilter) apply(frame protocol.TelemetryFrame) (state MachineState, rawLeft, rawRight uint16) {
	if frame.PositionLeftRaw <= f.spikeMax {
		f.lastLeft = frame.PositionLeftRaw
	}
	if frame.PositionRightRaw <= f.spikeMax {
		f.lastRight = frame.PositionRightRaw
	}
	return MachineState{
		ForceLeftKg:   frame.ForceLeftKg,
		ForceRightKg:  frame.ForceRightKg,
		PositionLeft:  f.normalize(f.lastLeft),
		PositionRight: f.normalize(f.lastRight),
	}, f.lastLeft, f.lastRight
}

func (f *positionFilter) normalize(raw uint16) float64 {
	v := float64(raw) / f.divisor
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
