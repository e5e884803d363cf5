package trainer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/cable-trainer/internal/events"
	"github.com/lowaak/cable-trainer/internal/go_func_utils"
	"github.com/lowaak/cable-trainer/internal/protocol"
	"golang.org/x/time/rate"
)

// Peripheral is the per-peer transport a DeviceSession drives. bt.BTDevice
// satisfies it.
type Peripheral interface {
	GetAddressString() string
	ReadCharacteristic(serviceUuid string, characteristicUuid string) ([]byte, error)
	WriteCharacteristic(serviceUuid string, characteristicUuid string, data []byte) error
	EnableNotifications(serviceUuid string, characteristicUuid string, callbackFunc func(buf []byte)) error
	DisableNotifications(serviceUuid string, characteristicUuid string) error
}

// workoutTasks are the goroutines that live only while a workout is active.
type workoutTasks struct {
	cancel       context.CancelFunc
	tickerDone   chan struct{}
	consumerDone chan struct{}
}

// DeviceSession owns one peer: its telemetry poll loop, its command channel
// and the active workout. State is published through channel events and is
// mutated only under mu. No lock is held across transport I/O.
type DeviceSession struct {
	peripheral Peripheral
	logger     *log.Logger
	settings   SessionSettings
	ctx        context.Context
	prefix     string

	telemetryEvent *events.ChannelEvent[MachineState]
	workoutEvent   *events.ChannelEvent[WorkoutState]

	pollOnce sync.Once
	wg       sync.WaitGroup

	// control serializes workout start and stop, so at most one set of
	// workout goroutines and one half-rep subscription exist at a time.
	control chan struct{}

	mu                 sync.Mutex
	filter             *positionFilter
	workout            ActiveWorkout
	active             bool
	generation         uint64
	tasks              *workoutTasks
	forces             forceTracker
	hold               bottomHold
	lastPreparedAt     time.Time
	lastPrepareAttempt time.Time

	readErrorLog rate.Sometimes
	decodeLog    rate.Sometimes
	positionLog  rate.Sometimes
}

func newDeviceSession(ctx context.Context, peripheral Peripheral, logger *log.Logger, settings SessionSettings) *DeviceSession {
	if peripheral == nil {
		panic("DeviceSession: peripheral cannot be nil")
	}
	if logger == nil {
		panic("DeviceSession: logger cannot be nil")
	}
	settings = settings.withDefaults()
	s := &DeviceSession{
		peripheral:     peripheral,
		logger:         logger,
		settings:       settings,
		ctx:            ctx,
		prefix:         fmt.Sprintf("DeviceSession[%s]", peripheral.GetAddressString()),
		control:        make(chan struct{}, 1),
		telemetryEvent: events.NewChannelEvent[MachineState](true),
		workoutEvent:   events.NewChannelEvent[WorkoutState](true),
		filter:         newPositionFilter(settings.PositionSpikeMax, settings.PositionDivisor),
		hold:           bottomHold{hold: settings.AutoStopHold},
		readErrorLog:   rate.Sometimes{Interval: settings.PositionLogInterval},
		decodeLog:      rate.Sometimes{Interval: settings.PositionLogInterval},
		positionLog:    rate.Sometimes{Interval: settings.PositionLogInterval},
	}
	s.workoutEvent.Notify(NoWorkout{})
	return s
}

func (s *DeviceSession) Address() string {
	return s.peripheral.GetAddressString()
}

// ListenToTelemetry registers ch for machine state updates and makes sure the
// poll loop is running. The newest state always reaches ch.
func (s *DeviceSession) ListenToTelemetry(ch chan MachineState) func() {
	s.ensurePolling()
	return s.telemetryEvent.ListenLatest(ch)
}

// ListenToWorkout registers ch for workout state updates. The current state is
// delivered right away.
func (s *DeviceSession) ListenToWorkout(ch chan WorkoutState) func() {
	return s.workoutEvent.ListenLatest(ch)
}

// Telemetry returns the last machine state, if any was decoded yet.
func (s *DeviceSession) Telemetry() (MachineState, bool) {
	return s.telemetryEvent.Latest()
}

// Workout returns the current workout state.
func (s *DeviceSession) Workout() WorkoutState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return NoWorkout{}
	}
	return s.workout
}

func (s *DeviceSession) IsWorkoutActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Prepare sends init and preset unless they were sent successfully within the
// validity window. Attempts are throttled and failures are only logged.
func (s *DeviceSession) Prepare() {
	now := s.settings.Now()
	s.mu.Lock()
	if now.Sub(s.lastPreparedAt) < s.settings.PrepareValidity ||
		now.Sub(s.lastPrepareAttempt) < s.settings.PrepareThrottle {
		s.mu.Unlock()
		return
	}
	s.lastPrepareAttempt = now
	s.mu.Unlock()

	if err := s.sendInitPreset(); err != nil {
		s.logger.Printf("%s: Prepare failed, will retry on next call: %v", s.prefix, err)
		return
	}
	s.mu.Lock()
	s.lastPreparedAt = now
	s.mu.Unlock()
	s.logger.Printf("%s: Prepared", s.prefix)
}

// Start starts an echo workout. Init and preset are resent only when the
// last prepare is older than the validity window. Any running workout is
// replaced.
func (s *DeviceSession) Start(cfg WorkoutConfig) error {
	s.ensurePolling()

	s.control <- struct{}{}
	defer s.releaseControl()

	now := s.settings.Now()
	s.mu.Lock()
	needPrepare := now.Sub(s.lastPreparedAt) >= s.settings.PrepareValidity
	s.mu.Unlock()

	if needPrepare {
		if err := s.sendInitPreset(); err != nil {
			return fmt.Errorf("failed to prepare device: %w", err)
		}
		s.mu.Lock()
		s.lastPreparedAt = now
		s.mu.Unlock()
	}

	frame, err := protocol.EncodeEchoControl(
		cfg.Difficulty,
		protocol.TargetRepsByte(cfg.TargetReps),
		protocol.EccentricPercent(cfg.EccentricRatio),
	)
	if err != nil {
		return fmt.Errorf("failed to encode echo frame: %w", err)
	}
	if err := s.writeControl(frame); err != nil {
		return fmt.Errorf("failed to send echo frame: %w", err)
	}

	if s.endWorkout(false) {
		s.disableHalfReps()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	tasks := &workoutTasks{
		cancel:       cancel,
		tickerDone:   make(chan struct{}),
		consumerDone: make(chan struct{}),
	}
	notifications := make(chan struct{}, s.settings.NotifyBuffer)

	s.mu.Lock()
	s.generation++
	generation := s.generation
	s.workout = newActiveWorkout(cfg, s.settings.Now())
	workoutID := s.workout.ID
	s.active = true
	s.tasks = tasks
	s.forces.reset()
	s.hold.reset()
	s.workoutEvent.Notify(s.workout)
	s.mu.Unlock()

	s.logger.Printf("%s: Workout %s started (%s, eccentric %.2f, reps %d, stop on top %v)",
		s.prefix, workoutID, cfg.Difficulty, cfg.EccentricRatio, cfg.TargetReps, cfg.StopOnTopRep)

	s.wg.Add(2)
	go_func_utils.SafeGo(s.logger, s.prefix+".ticker", func() {
		defer s.wg.Done()
		defer close(tasks.tickerDone)
		s.runElapsedTicker(ctx, generation)
	})
	go_func_utils.SafeGo(s.logger, s.prefix+".halfReps", func() {
		defer s.wg.Done()
		defer close(tasks.consumerDone)
		s.consumeHalfReps(ctx, generation, notifications)
	})

	stream := protocol.DataStreamRepNotify
	err = s.peripheral.EnableNotifications(stream.ServiceUUID, stream.CharacteristicUUID, func(buf []byte) {
		select {
		case notifications <- struct{}{}:
		default:
			s.logger.Printf("%s: Half-rep notification dropped, consumer is behind", s.prefix)
		}
	})
	if err != nil {
		// The workout keeps running; auto stop on hold still ends it
		s.logger.Printf("%s: Failed to subscribe to half-rep notifications: %v", s.prefix, err)
	}
	return nil
}

// Stop sends the stop frame best effort and ends the workout. Telemetry
// polling keeps running.
func (s *DeviceSession) Stop() {
	s.control <- struct{}{}
	defer s.releaseControl()
	s.stop(false)
}

func (s *DeviceSession) releaseControl() {
	<-s.control
}

// stopGeneration stops the workout only if it is still the one identified by
// generation. It gives up when ctx ends first: the half-rep consumer is
// cancelled by whoever holds control and replaces or ends its workout.
func (s *DeviceSession) stopGeneration(ctx context.Context, generation uint64, fromConsumer bool) {
	select {
	case s.control <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer s.releaseControl()

	s.mu.Lock()
	current := s.active && s.generation == generation
	s.mu.Unlock()
	if current {
		s.stop(fromConsumer)
	}
}

// stop requires control.
func (s *DeviceSession) stop(fromConsumer bool) {
	if err := s.writeControl(protocol.EncodeInit()); err != nil {
		s.logger.Printf("%s: Stop frame not delivered: %v", s.prefix, err)
	}
	if s.endWorkout(fromConsumer) {
		s.disableHalfReps()
	}
}

func (s *DeviceSession) disableHalfReps() {
	stream := protocol.DataStreamRepNotify
	if err := s.peripheral.DisableNotifications(stream.ServiceUUID, stream.CharacteristicUUID); err != nil {
		s.logger.Printf("%s: Failed to disable half-rep notifications: %v", s.prefix, err)
	}
}

// endWorkout clears the active workout and cancels its goroutines. It waits
// for them to exit, except for the half-rep consumer when called from it.
// It reports whether a workout was active.
func (s *DeviceSession) endWorkout(fromConsumer bool) bool {
	s.mu.Lock()
	wasActive := s.active
	tasks := s.tasks
	s.tasks = nil
	if wasActive {
		s.logger.Printf("%s: Workout %s ended after %v (up %d, down %d)",
			s.prefix, s.workout.ID, s.workout.Elapsed.Round(time.Millisecond), s.workout.UpwardReps, s.workout.DownwardReps)
		s.active = false
		s.generation++
		s.hold.reset()
		s.workoutEvent.Notify(NoWorkout{})
	}
	s.mu.Unlock()

	if tasks != nil {
		tasks.cancel()
		<-tasks.tickerDone
		if !fromConsumer {
			<-tasks.consumerDone
		}
	}
	return wasActive
}

func (s *DeviceSession) runElapsedTicker(ctx context.Context, generation uint64) {
	ticker := time.NewTicker(s.settings.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.settings.Now()
			s.mu.Lock()
			if s.active && s.generation == generation {
				s.workout.Elapsed = now.Sub(s.workout.StartedAt)
				s.workoutEvent.Notify(s.workout)
			}
			s.mu.Unlock()
		}
	}
}

func (s *DeviceSession) consumeHalfReps(ctx context.Context, generation uint64, notifications <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-notifications:
			if s.handleHalfRep(generation) {
				s.logger.Printf("%s: Rep target reached, stopping", s.prefix)
				s.stopGeneration(ctx, generation, true)
				return
			}
		}
	}
}

// handleHalfRep advances the workout state machine and reports whether the
// rep target was reached.
func (s *DeviceSession) handleHalfRep(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.generation != generation {
		return false
	}
	next, rep := s.workout.onHalfRep()
	if next.HalfRepCount == s.workout.HalfRepCount {
		return false
	}
	s.forces.closeHalfRep(rep.Upward, rep.Counted)
	next.Forces = s.forces.stats()
	s.workout = next
	s.workoutEvent.Notify(s.workout)
	return rep.TargetReached
}

func (s *DeviceSession) ensurePolling() {
	s.pollOnce.Do(func() {
		s.logger.Printf("%s: Starting telemetry poll every %v", s.prefix, s.settings.PollInterval)
		s.wg.Add(1)
		go_func_utils.SafeGo(s.logger, s.prefix+".poll", func() {
			defer s.wg.Done()
			s.runPoll()
		})
	})
}

// runPoll reads the monitor characteristic until the session context ends.
// The delay starts after each read completes, so reads never overlap.
func (s *DeviceSession) runPoll() {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}
		s.pollTelemetry()
		timer.Reset(s.settings.PollInterval)
	}
}

func (s *DeviceSession) pollTelemetry() {
	stream := protocol.DataStreamMonitor
	buf, err := s.peripheral.ReadCharacteristic(stream.ServiceUUID, stream.CharacteristicUUID)
	if err != nil {
		s.readErrorLog.Do(func() {
			s.logger.Printf("%s: Telemetry read failed: %v", s.prefix, err)
		})
		return
	}
	s.handleTelemetry(buf)
}

// handleTelemetry decodes a monitor frame, publishes machine state and runs
// the auto stop on hold check.
func (s *DeviceSession) handleTelemetry(buf []byte) {
	frame, err := protocol.DecodeTelemetry(buf)
	if err != nil {
		s.decodeLog.Do(func() {
			s.logger.Printf("%s: Skipping telemetry: %v", s.prefix, err)
		})
		return
	}

	now := s.settings.Now()
	s.mu.Lock()
	state, rawLeft, rawRight := s.filter.apply(frame)
	s.telemetryEvent.Notify(state)

	autoStop := false
	generation := s.generation
	if s.active {
		s.forces.observe(state.TotalForceKg())
		atBottom := state.PositionLeft <= s.settings.BottomThreshold &&
			state.PositionRight <= s.settings.BottomThreshold
		countdown, expired := s.hold.update(atBottom, now)
		if countdown != s.workout.AutoStopCountdown {
			s.workout.AutoStopCountdown = countdown
			s.workoutEvent.Notify(s.workout)
		}
		autoStop = expired
	}
	s.mu.Unlock()

	s.positionLog.Do(func() {
		s.logger.Printf("%s: pos raw R=%d L=%d | norm R=%.3f L=%.3f", s.prefix, rawRight, rawLeft, state.PositionRight, state.PositionLeft)
	})

	if autoStop {
		s.logger.Printf("%s: Cables held at bottom for %v, stopping", s.prefix, s.settings.AutoStopHold)
		s.stopGeneration(s.ctx, generation, false)
	}
}

func (s *DeviceSession) sendInitPreset() error {
	if err := s.writeControl(protocol.EncodeInit()); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if s.settings.PrepareFrameGap > 0 {
		time.Sleep(s.settings.PrepareFrameGap)
	}
	if err := s.writeControl(protocol.EncodePreset()); err != nil {
		return fmt.Errorf("preset: %w", err)
	}
	return nil
}

func (s *DeviceSession) writeControl(frame []byte) error {
	stream := protocol.DataStreamControl
	return s.peripheral.WriteCharacteristic(stream.ServiceUUID, stream.CharacteristicUUID, frame)
}

// wait blocks until every session goroutine has exited. The session context
// must already be cancelled.
func (s *DeviceSession) wait() {
	s.wg.Wait()
}
