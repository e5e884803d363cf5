package trainer

import (
	"time"

	"github.com/lowaak/cable-trainer/internal/protocol"
)

// Workout state machine constants
const (
	// CalibrationReps full reps are performed before reps are counted
	CalibrationReps = 3
	// MaxTargetReps is the largest rep target accepted from configuration
	MaxTargetReps = 200
)

// Defaults for SessionSettings
const (
	DefaultPollInterval        = 100 * time.Millisecond
	DefaultTickInterval        = 100 * time.Millisecond
	DefaultPrepareValidity     = 10 * time.Second
	DefaultPrepareThrottle     = 1 * time.Second
	DefaultPrepareFrameGap     = 50 * time.Millisecond
	DefaultPositionSpikeMax    = 50000
	DefaultPositionDivisor     = 2000.0
	DefaultBottomThreshold     = 0.05
	DefaultAutoStopHold        = 5 * time.Second
	DefaultPositionLogInterval = 1 * time.Second
	DefaultNotifyBuffer        = 32
)

// Defaults for AutoStartSettings
const (
	DefaultLiftThreshold     = 0.10
	DefaultHoldEpsilon       = 0.025
	DefaultAutoStartHold     = 4 * time.Second
	DefaultCountdownWindow   = 3 * time.Second
	DefaultAutoStartDebounce = 5 * time.Second
	DefaultAutoStartTick     = 100 * time.Millisecond
)

// SessionSettings tunes a DeviceSession. The zero value of a field selects its
// default (see withDefaults).
type SessionSettings struct {
	PollInterval        time.Duration
	TickInterval        time.Duration
	PrepareValidity     time.Duration
	PrepareThrottle     time.Duration
	PrepareFrameGap     time.Duration
	PositionSpikeMax    uint16
	PositionDivisor     float64
	BottomThreshold     float64
	AutoStopHold        time.Duration
	PositionLogInterval time.Duration
	NotifyBuffer        int

	// Now is the session clock. Tests inject a fake one.
	Now func() time.Time
}

func DefaultSessionSettings() SessionSettings {
	return SessionSettings{}.withDefaults()
}

func (s SessionSettings) withDefaults() SessionSettings {
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.TickInterval <= 0 {
		s.TickInterval = DefaultTickInterval
	}
	if s.PrepareValidity <= 0 {
		s.PrepareValidity = DefaultPrepareValidity
	}
	if s.PrepareThrottle <= 0 {
		s.PrepareThrottle = DefaultPrepareThrottle
	}
	if s.PrepareFrameGap < 0 {
		s.PrepareFrameGap = 0
	} else if s.PrepareFrameGap == 0 {
		s.PrepareFrameGap = DefaultPrepareFrameGap
	}
	if s.PositionSpikeMax == 0 {
		s.PositionSpikeMax = DefaultPositionSpikeMax
	}
	if s.PositionDivisor <= 0 {
		s.PositionDivisor = DefaultPositionDivisor
	}
	if s.BottomThreshold <= 0 {
		s.BottomThreshold = DefaultBottomThreshold
	}
	if s.AutoStopHold <= 0 {
		s.AutoStopHold = DefaultAutoStopHold
	}
	if s.PositionLogInterval <= 0 {
		s.PositionLogInterval = DefaultPositionLogInterval
	}
	if s.NotifyBuffer <= 0 {
		s.NotifyBuffer = DefaultNotifyBuffer
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// AutoStartSettings tunes an AutoStartDetector. Zero fields select defaults.
type AutoStartSettings struct {
	LiftThreshold   float64
	HoldEpsilon     float64
	Hold            time.Duration
	CountdownWindow time.Duration
	Debounce        time.Duration
	TickInterval    time.Duration

	Now func() time.Time
}

func DefaultAutoStartSettings() AutoStartSettings {
	return AutoStartSettings{}.withDefaults()
}

func (s AutoStartSettings) withDefaults() AutoStartSettings {
	if s.LiftThreshold <= 0 {
		s.LiftThreshold = DefaultLiftThreshold
	}
	if s.HoldEpsilon <= 0 {
		s.HoldEpsilon = DefaultHoldEpsilon
	}
	if s.Hold <= 0 {
		s.Hold = DefaultAutoStartHold
	}
	if s.CountdownWindow <= 0 || s.CountdownWindow > s.Hold {
		s.CountdownWindow = min(DefaultCountdownWindow, s.Hold)
	}
	if s.Debounce <= 0 {
		s.Debounce = DefaultAutoStartDebounce
	}
	if s.TickInterval <= 0 {
		s.TickInterval = DefaultAutoStartTick
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// Settings configures a Manager.
type Settings struct {
	NamePrefix string
	Session    SessionSettings
	AutoStart  AutoStartSettings
	// Workout is the initial configuration used by auto start.
	Workout WorkoutConfig
}

// WorkoutConfig selects how a workout is started.
type WorkoutConfig struct {
	Difficulty     protocol.EchoDifficulty `yaml:"difficulty"`
	EccentricRatio float64                 `yaml:"eccentric_ratio"`
	// TargetReps of 0 means unlimited.
	TargetReps   int  `yaml:"target_reps"`
	StopOnTopRep bool `yaml:"stop_on_top_rep"`
}

// DefaultWorkoutConfig is an unlimited HARDEST workout with a 100% eccentric.
func DefaultWorkoutConfig() WorkoutConfig {
	return WorkoutConfig{
		Difficulty:     protocol.Hardest,
		EccentricRatio: 1.0,
	}
}
