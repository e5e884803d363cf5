package console

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lowaak/cable-trainer/internal/go_func_utils"
	"github.com/lowaak/cable-trainer/internal/trainer"
)

// ViewImpl is the framework-specific part of the console.
type ViewImpl interface {
	// Initialize creates the widgets. controller handles their events.
	Initialize(controller *Controller)

	SetupKeyboardHandlers(controller *Controller)

	// Run starts the UI and blocks until it exits.
	Run() error
	Stop()
	Draw() error

	GetLogViewHeight() int
	ClearLogView()
	WriteLogLine(line string) error

	SetPeerList(items []string, active int)
	SetConfigText(text string)
	SetTelemetryText(text string)
	SetWorkoutText(text string)
}

// BaseView connects Model streams to a ViewImpl.
type BaseView struct {
	impl       ViewImpl
	model      *Model
	controller *Controller
	autoStart  bool
	logger     *log.Logger

	mu        sync.Mutex
	workout   trainer.WorkoutState
	countdown trainer.Countdown

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type NewBaseViewArg struct {
	Impl       ViewImpl
	Model      *Model
	Controller *Controller
	AutoStart  bool
	Logger     *log.Logger
}

func NewBaseView(args NewBaseViewArg) *BaseView {
	if args.Logger == nil {
		panic("BaseView: logger cannot be nil")
	}
	if args.Impl == nil {
		panic("BaseView: impl cannot be nil")
	}
	if args.Model == nil {
		panic("BaseView: model cannot be nil")
	}
	if args.Controller == nil {
		panic("BaseView: controller cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	v := &BaseView{
		impl:       args.Impl,
		model:      args.Model,
		controller: args.Controller,
		autoStart:  args.AutoStart,
		logger:     args.Logger,
		workout:    trainer.NoWorkout{},
		ctx:        ctx,
		cancel:     cancel,
	}

	args.Impl.Initialize(args.Controller)
	args.Impl.SetupKeyboardHandlers(args.Controller)

	v.wg.Add(1)
	go_func_utils.SafeGo(v.logger, "BaseView.logResize", v.monitorLogResize)
	v.updateLogDisplay()

	v.setupEventListeners()
	return v
}

// listen runs handle for every value from ch until the view shuts down.
func listen[T any](v *BaseView, name string, ch <-chan T, unregister func(), handle func(T)) {
	v.wg.Add(1)
	go_func_utils.SafeGo(v.logger, "BaseView."+name, func() {
		defer v.wg.Done()
		defer unregister()
		for {
			select {
			case <-v.ctx.Done():
				return
			case value := <-ch:
				handle(value)
				v.draw()
			}
		}
	})
}

func (v *BaseView) setupEventListeners() {
	logChan := make(chan string, 1)
	listen(v, "log", logChan, v.model.ListenToLog(logChan), func(string) {
		v.updateLogDisplay()
	})

	peersChan := make(chan []PeerModel, 1)
	listen(v, "peers", peersChan, v.model.ListenToPeers(peersChan), func([]PeerModel) {
		v.updatePeers()
	})

	activeChan := make(chan string, 1)
	listen(v, "activePeer", activeChan, v.model.ListenToActivePeer(activeChan), func(string) {
		v.updatePeers()
	})

	configChan := make(chan trainer.WorkoutConfig, 1)
	listen(v, "config", configChan, v.model.ListenToConfig(configChan), func(cfg trainer.WorkoutConfig) {
		v.impl.SetConfigText(formatConfig(cfg, v.autoStart))
	})

	telemetryChan := make(chan trainer.MachineState, 1)
	v.impl.SetTelemetryText(formatTelemetry(trainer.MachineState{}, false))
	listen(v, "telemetry", telemetryChan, v.model.ListenToTelemetry(telemetryChan), func(state trainer.MachineState) {
		v.impl.SetTelemetryText(formatTelemetry(state, true))
	})

	workoutChan := make(chan trainer.WorkoutState, 1)
	listen(v, "workout", workoutChan, v.model.ListenToWorkout(workoutChan), func(state trainer.WorkoutState) {
		v.mu.Lock()
		v.workout = state
		text := formatWorkout(v.workout, v.countdown)
		v.mu.Unlock()
		v.impl.SetWorkoutText(text)
	})

	countdownChan := make(chan trainer.Countdown, 1)
	listen(v, "countdown", countdownChan, v.model.ListenToCountdown(countdownChan), func(c trainer.Countdown) {
		v.mu.Lock()
		v.countdown = c
		text := formatWorkout(v.workout, v.countdown)
		v.mu.Unlock()
		v.impl.SetWorkoutText(text)
	})

	closeChan := make(chan struct{}, 1)
	unregisterClose := v.model.ListenToCloseApplication(closeChan)
	v.wg.Add(1)
	go_func_utils.SafeGo(v.logger, "BaseView.close", func() {
		defer v.wg.Done()
		defer unregisterClose()
		select {
		case <-v.ctx.Done():
		case <-closeChan:
			v.impl.Stop()
		}
	})
}

func (v *BaseView) updatePeers() {
	peers := v.model.Peers()
	active := v.model.ActivePeer()
	items := make([]string, len(peers))
	activeIndex := -1
	for i, p := range peers {
		items[i] = formatPeer(p)
		if p.Address == active {
			activeIndex = i
		}
	}
	v.impl.SetPeerList(items, activeIndex)
}

func (v *BaseView) updateLogDisplay() {
	height := v.impl.GetLogViewHeight()
	if height <= 0 {
		return
	}
	v.impl.ClearLogView()
	for _, line := range v.model.GetLogTail(height) {
		if err := v.impl.WriteLogLine(line); err != nil {
			v.logger.Printf("BaseView: Error writing to log view: %v", err)
		}
	}
}

func (v *BaseView) monitorLogResize() {
	defer v.wg.Done()
	var lastHeight int
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-v.ctx.Done():
			return
		case <-ticker.C:
			height := v.impl.GetLogViewHeight()
			if height != lastHeight && height > 0 {
				lastHeight = height
				v.updateLogDisplay()
				v.draw()
			}
		}
	}
}

func (v *BaseView) draw() {
	if err := v.impl.Draw(); err != nil {
		v.logger.Printf("BaseView: Error drawing: %v", err)
	}
}

// Run starts the UI and blocks until it exits.
func (v *BaseView) Run() error {
	return v.impl.Run()
}

func (v *BaseView) Shutdown() {
	v.logger.Println("BaseView: Shutting down")
	v.cancel()
	v.wg.Wait()
	v.logger.Println("BaseView: Shutdown complete")
}
