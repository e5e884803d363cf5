package trainer

import (
	"time"

	"github.com/google/uuid"
)

// WorkoutPhase is the phase of an active workout.
type WorkoutPhase int

const (
	PhaseCalibrating WorkoutPhase = iota
	PhaseCounting
	// PhaseStopped is terminal. It is published once when the rep target is
	// reached, right before the session returns to NoWorkout.
	PhaseStopped
)

func (p WorkoutPhase) String() string {
	switch p {
	case PhaseCalibrating:
		return "Calibrating"
	case PhaseCounting:
		return "Counting"
	case PhaseStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// WorkoutState is either NoWorkout or ActiveWorkout.
type WorkoutState interface {
	isWorkoutState()
}

// NoWorkout means no workout is running on the peer.
type NoWorkout struct{}

func (NoWorkout) isWorkoutState() {}

// Countdown is a seconds countdown shown while a hold gesture is in progress.
// The zero value means no countdown.
type Countdown struct {
	Seconds int
	Active  bool
}

// ActiveWorkout is a snapshot of a running workout.
type ActiveWorkout struct {
	ID        uuid.UUID
	StartedAt time.Time
	Elapsed   time.Duration
	Config    WorkoutConfig

	Phase                    WorkoutPhase
	CalibrationRepsCompleted int
	UpwardReps               int
	DownwardReps             int
	HalfRepCount             int

	AutoStopCountdown Countdown
	Forces            ForceStats
}

func (ActiveWorkout) isWorkoutState() {}

func newActiveWorkout(cfg WorkoutConfig, now time.Time) ActiveWorkout {
	return ActiveWorkout{
		ID:        uuid.New(),
		StartedAt: now,
		Config:    cfg,
		Phase:     PhaseCalibrating,
	}
}

// halfRep describes how one half-rep notification was interpreted.
type halfRep struct {
	Upward        bool
	Counted       bool
	TargetReached bool
}

// onHalfRep applies one half-rep notification. Odd notifications complete an
// upward movement, even ones a downward movement.
func (w ActiveWorkout) onHalfRep() (ActiveWorkout, halfRep) {
	if w.Phase == PhaseStopped {
		return w, halfRep{}
	}

	w.HalfRepCount++
	rep := halfRep{Upward: w.HalfRepCount%2 == 1}

	if w.Phase == PhaseCalibrating {
		if !rep.Upward {
			w.CalibrationRepsCompleted++
			if w.CalibrationRepsCompleted >= CalibrationReps {
				w.Phase = PhaseCounting
			}
		}
		return w, rep
	}

	rep.Counted = true
	if rep.Upward {
		w.UpwardReps++
	} else {
		w.DownwardReps++
	}

	target := w.Config.TargetReps
	if target > 0 {
		if w.Config.StopOnTopRep {
			rep.TargetReached = rep.Upward && w.UpwardReps >= target
		} else {
			rep.TargetReached = !rep.Upward && w.DownwardReps >= target
		}
	}
	if rep.TargetReached {
		w.Phase = PhaseStopped
	}
	return w, rep
}

// RemainingReps returns the reps left to the target, or -1 when unlimited.
func (w ActiveWorkout) RemainingReps() int {
	target := w.Config.TargetReps
	if target <= 0 {
		return -1
	}
	done := w.DownwardReps
	if w.Config.StopOnTopRep {
		done = w.UpwardReps
	}
	return max(target-done, 0)
}
