package trainer

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/lowaak/cable-trainer/internal/events"
)

// AutoStartTarget is the session an AutoStartDetector starts workouts on.
type AutoStartTarget interface {
	Prepare()
	Start(cfg WorkoutConfig) error
	IsWorkoutActive() bool
}

type AutoStartEventKind int

const (
	// AutoStartCountdownStarted fires once when a hold enters the countdown window
	AutoStartCountdownStarted AutoStartEventKind = iota
	// AutoStartCountdownTick fires when the countdown seconds change
	AutoStartCountdownTick
	// AutoStartCountdownCancelled fires when a hold in the countdown window breaks
	AutoStartCountdownCancelled
	// AutoStartTriggered fires when a workout is started
	AutoStartTriggered
)

func (k AutoStartEventKind) String() string {
	switch k {
	case AutoStartCountdownStarted:
		return "CountdownStarted"
	case AutoStartCountdownTick:
		return "CountdownTick"
	case AutoStartCountdownCancelled:
		return "CountdownCancelled"
	case AutoStartTriggered:
		return "Triggered"
	default:
		return "Unknown"
	}
}

type AutoStartEvent struct {
	Kind        AutoStartEventKind
	SecondsLeft int
}

// autoStartAction is the work an evaluation asks for. It runs outside the
// detector lock.
type autoStartAction struct {
	prepare bool
	trigger bool
	events  []AutoStartEvent
}

// AutoStartDetector starts a workout when the user lifts the handles and
// holds them still. It only acts while no workout is active on the target.
type AutoStartDetector struct {
	target   AutoStartTarget
	config   func() WorkoutConfig
	logger   *log.Logger
	settings AutoStartSettings

	countdownEvent *events.ChannelEvent[Countdown]
	event          *events.CallbackEvent[AutoStartEvent]

	mu                 sync.Mutex
	holding            bool
	holdSince          time.Time
	baselineLeft       float64
	baselineRight      float64
	countdownAnnounced bool
	countdown          Countdown
	triggered          bool
	lastTriggerAt      time.Time
}

// NewAutoStartDetector creates a detector. config returns the workout
// configuration to start with and is read at trigger time.
func NewAutoStartDetector(target AutoStartTarget, config func() WorkoutConfig, logger *log.Logger, settings AutoStartSettings) *AutoStartDetector {
	if target == nil {
		panic("AutoStartDetector: target cannot be nil")
	}
	if config == nil {
		panic("AutoStartDetector: config cannot be nil")
	}
	if logger == nil {
		panic("AutoStartDetector: logger cannot be nil")
	}
	d := &AutoStartDetector{
		target:         target,
		config:         config,
		logger:         logger,
		settings:       settings.withDefaults(),
		countdownEvent: events.NewChannelEvent[Countdown](true),
		event:          events.NewCallbackEvent[AutoStartEvent](false),
	}
	d.countdownEvent.Notify(Countdown{})
	return d
}

// ListenToCountdown registers ch for countdown changes.
func (d *AutoStartDetector) ListenToCountdown(ch chan Countdown) func() {
	return d.countdownEvent.ListenLatest(ch)
}

// ListenToEvents registers callback for countdown and trigger events. It runs
// on the detector goroutine and must not block.
func (d *AutoStartDetector) ListenToEvents(callback func(AutoStartEvent)) func() {
	return d.event.Listen(callback)
}

// Countdown returns the current countdown.
func (d *AutoStartDetector) Countdown() Countdown {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.countdown
}

// OnTelemetry evaluates one machine state update.
func (d *AutoStartDetector) OnTelemetry(state MachineState) {
	now := d.settings.Now()
	active := d.target.IsWorkoutActive()
	d.mu.Lock()
	action := d.evaluate(state, active, now)
	d.mu.Unlock()
	d.perform(action)
}

// Tick advances the countdown without new telemetry so it keeps moving and
// triggers on time when readings are sparse.
func (d *AutoStartDetector) Tick() {
	now := d.settings.Now()
	active := d.target.IsWorkoutActive()
	d.mu.Lock()
	var action autoStartAction
	if active {
		action = d.resetHold()
	} else {
		action = d.advance(now)
	}
	d.mu.Unlock()
	d.perform(action)
}

// Run feeds the detector from telemetry and ticks while holding, until ctx
// ends.
func (d *AutoStartDetector) Run(ctx context.Context, telemetry <-chan MachineState) {
	ticker := time.NewTicker(d.settings.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case state := <-telemetry:
			d.OnTelemetry(state)
		case <-ticker.C:
			d.mu.Lock()
			holding := d.holding
			d.mu.Unlock()
			if holding {
				d.Tick()
			}
		}
	}
}

// evaluate runs the hold gesture logic. Caller holds mu.
func (d *AutoStartDetector) evaluate(state MachineState, workoutActive bool, now time.Time) autoStartAction {
	if workoutActive {
		return d.resetHold()
	}

	liftedLeft := state.PositionLeft >= d.settings.LiftThreshold
	liftedRight := state.PositionRight >= d.settings.LiftThreshold
	if !liftedLeft && !liftedRight {
		return d.resetHold()
	}

	if !d.holding {
		d.beginHold(state, now)
		return autoStartAction{prepare: true}
	}

	withinLeft := math.Abs(state.PositionLeft-d.baselineLeft) <= d.settings.HoldEpsilon
	withinRight := math.Abs(state.PositionRight-d.baselineRight) <= d.settings.HoldEpsilon
	if (liftedLeft && !withinLeft) || (liftedRight && !withinRight) {
		action := autoStartAction{prepare: true}
		if d.countdownAnnounced {
			action.events = append(action.events, AutoStartEvent{Kind: AutoStartCountdownCancelled})
		}
		d.beginHold(state, now)
		return action
	}

	return d.advance(now)
}

// advance updates the countdown of a valid hold and triggers once the hold
// duration has elapsed. Caller holds mu.
func (d *AutoStartDetector) advance(now time.Time) autoStartAction {
	var action autoStartAction
	if !d.holding {
		return action
	}

	elapsed := now.Sub(d.holdSince)
	remaining := d.settings.Hold - elapsed
	if elapsed >= d.settings.Hold-d.settings.CountdownWindow {
		seconds := ceilSeconds(remaining)
		if !d.countdownAnnounced {
			d.countdownAnnounced = true
			action.events = append(action.events, AutoStartEvent{Kind: AutoStartCountdownStarted, SecondsLeft: seconds})
		} else if seconds != d.countdown.Seconds && seconds > 0 {
			action.events = append(action.events, AutoStartEvent{Kind: AutoStartCountdownTick, SecondsLeft: seconds})
		}
		d.setCountdown(Countdown{Seconds: seconds, Active: true})
	}

	if elapsed < d.settings.Hold {
		return action
	}
	if d.triggered && now.Sub(d.lastTriggerAt) <= d.settings.Debounce {
		return action
	}

	d.triggered = true
	d.lastTriggerAt = now
	action.trigger = true
	action.events = append(action.events, AutoStartEvent{Kind: AutoStartTriggered})
	d.clearHold()
	return action
}

// resetHold abandons any hold in progress. Caller holds mu.
func (d *AutoStartDetector) resetHold() autoStartAction {
	var action autoStartAction
	if d.holding && d.countdownAnnounced {
		action.events = append(action.events, AutoStartEvent{Kind: AutoStartCountdownCancelled})
	}
	d.clearHold()
	return action
}

func (d *AutoStartDetector) beginHold(state MachineState, now time.Time) {
	d.holding = true
	d.holdSince = now
	d.baselineLeft = state.PositionLeft
	d.baselineRight = state.PositionRight
	d.countdownAnnounced = false
	d.setCountdown(Countdown{})
}

func (d *AutoStartDetector) clearHold() {
	d.holding = false
	d.holdSince = time.Time{}
	d.baselineLeft = 0
	d.baselineRight = 0
	d.countdownAnnounced = false
	d.setCountdown(Countdown{})
}

func (d *AutoStartDetector) setCountdown(c Countdown) {
	if c == d.countdown {
		return
	}
	d.countdown = c
	d.countdownEvent.Notify(c)
}

func (d *AutoStartDetector) perform(action autoStartAction) {
	if action.prepare {
		d.target.Prepare()
	}
	for _, e := range action.events {
		d.event.Notify(e)
	}
	if action.trigger {
		cfg := d.config()
		d.logger.Printf("AutoStartDetector: Hold detected, starting %s workout", cfg.Difficulty)
		if err := d.target.Start(cfg); err != nil {
			d.logger.Printf("AutoStartDetector: Auto start failed: %v", err)
		}
	}
}
