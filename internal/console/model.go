package console

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/lowaak/cable-trainer/internal/bt"
	"github.com/lowaak/cable-trainer/internal/events"
	"github.com/lowaak/cable-trainer/internal/go_func_utils"
	"github.com/lowaak/cable-trainer/internal/trainer"
)

// Trainer is the command surface the console drives. *trainer.Manager
// implements it.
type Trainer interface {
	StartDiscovery()
	StopDiscovery() error
	IsDiscovering() bool
	ListenToDiscoveredPeers(ch chan<- []bt.BTDevice) func()
	ListenToConnectedPeers(ch chan<- []bt.BTDevice) func()
	Connect(address string) error
	Disconnect(address string) error
	ListenToTelemetry(address string, ch chan trainer.MachineState) (func(), error)
	ListenToWorkout(address string, ch chan trainer.WorkoutState) (func(), error)
	Start(address string, cfg trainer.WorkoutConfig) error
	Stop(address string)
	EnableAutoStart(address string) (*trainer.AutoStartDetector, error)
	DisableAutoStart(address string)
	SetWorkoutConfig(cfg trainer.WorkoutConfig)
	WorkoutConfig() trainer.WorkoutConfig
	PreferredPeer() string
}

var _ Trainer = (*trainer.Manager)(nil)

type PeerModel struct {
	Name      string
	Address   string
	RSSI      int16
	Connected bool
}

const maxLogLines = 1000

// follower forwards one peer's streams into the model.
type follower struct {
	address string
	cancel  context.CancelFunc
	done    chan struct{}
}

func (f *follower) stop() {
	f.cancel()
	<-f.done
}

// Model holds what the console renders. It follows at most one peer at a
// time and republishes that peer's telemetry, workout and countdown streams.
type Model struct {
	manager   Trainer
	logger    *log.Logger
	autoStart bool

	peersEvent      *events.ChannelEvent[[]PeerModel]
	activePeerEvent *events.ChannelEvent[string]
	telemetryEvent  *events.ChannelEvent[trainer.MachineState]
	workoutEvent    *events.ChannelEvent[trainer.WorkoutState]
	countdownEvent  *events.ChannelEvent[trainer.Countdown]
	configEvent     *events.ChannelEvent[trainer.WorkoutConfig]
	logEvent        *events.ChannelEvent[string]
	closeEvent      *events.ChannelEvent[struct{}]

	mu         sync.RWMutex
	discovered []bt.BTDevice
	peers      []PeerModel
	activePeer string
	follower   *follower

	logMu    sync.RWMutex
	logLines []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewModel creates a Model. logChan carries the lines shown in the log pane.
// With autoStart set, following a peer also enables its auto-start detector.
func NewModel(manager Trainer, logger *log.Logger, logChan <-chan string, autoStart bool) *Model {
	if manager == nil {
		panic("Model: manager cannot be nil")
	}
	if logger == nil {
		panic("Model: logger cannot be nil")
	}
	if logChan == nil {
		panic("Model: logChan cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Model{
		manager:         manager,
		logger:          logger,
		autoStart:       autoStart,
		peersEvent:      events.NewChannelEvent[[]PeerModel](true),
		activePeerEvent: events.NewChannelEvent[string](true),
		telemetryEvent:  events.NewChannelEvent[trainer.MachineState](true),
		workoutEvent:    events.NewChannelEvent[trainer.WorkoutState](true),
		countdownEvent:  events.NewChannelEvent[trainer.Countdown](true),
		configEvent:     events.NewChannelEvent[trainer.WorkoutConfig](true),
		logEvent:        events.NewChannelEvent[string](false),
		closeEvent:      events.NewChannelEvent[struct{}](false),
		logLines:        make([]string, 0, maxLogLines),
		ctx:             ctx,
		cancel:          cancel,
	}
	m.peersEvent.Notify([]PeerModel{})
	m.activePeerEvent.Notify("")
	m.workoutEvent.Notify(trainer.NoWorkout{})
	m.countdownEvent.Notify(trainer.Countdown{})
	m.configEvent.Notify(manager.WorkoutConfig())

	m.wg.Add(2)
	go_func_utils.SafeGo(logger, "Model.peers", func() {
		defer m.wg.Done()
		m.listenToPeers(ctx)
	})
	go_func_utils.SafeGo(logger, "Model.log", func() {
		defer m.wg.Done()
		m.readFromLogChannel(ctx, logChan)
	})
	return m
}

// Shutdown stops following and waits for every goroutine.
func (m *Model) Shutdown() {
	m.logger.Println("Model: Shutting down")
	m.cancel()
	m.wg.Wait()
	m.logger.Println("Model: Shutdown complete")
}

func (m *Model) ListenToPeers(ch chan []PeerModel) func() {
	return m.peersEvent.ListenLatest(ch)
}

func (m *Model) ListenToActivePeer(ch chan string) func() {
	return m.activePeerEvent.ListenLatest(ch)
}

func (m *Model) ListenToTelemetry(ch chan trainer.MachineState) func() {
	return m.telemetryEvent.ListenLatest(ch)
}

func (m *Model) ListenToWorkout(ch chan trainer.WorkoutState) func() {
	return m.workoutEvent.ListenLatest(ch)
}

func (m *Model) ListenToCountdown(ch chan trainer.Countdown) func() {
	return m.countdownEvent.ListenLatest(ch)
}

func (m *Model) ListenToConfig(ch chan trainer.WorkoutConfig) func() {
	return m.configEvent.ListenLatest(ch)
}

// ListenToLog registers ch for new log lines. Lines are dropped when ch is
// full; GetLogTail always has them.
func (m *Model) ListenToLog(ch chan<- string) func() {
	return m.logEvent.Listen(ch)
}

func (m *Model) ListenToCloseApplication(ch chan<- struct{}) func() {
	return m.closeEvent.Listen(ch)
}

func (m *Model) RequestCloseApplication() {
	m.closeEvent.Notify(struct{}{})
}

// Peers returns the discovered peers sorted by address.
func (m *Model) Peers() []PeerModel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PeerModel(nil), m.peers...)
}

func (m *Model) ActivePeer() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activePeer
}

func (m *Model) Workout() trainer.WorkoutState {
	state, _ := m.workoutEvent.Latest()
	return state
}

func (m *Model) Telemetry() (trainer.MachineState, bool) {
	return m.telemetryEvent.Latest()
}

func (m *Model) Config() trainer.WorkoutConfig {
	cfg, _ := m.configEvent.Latest()
	return cfg
}

// SetConfig hands cfg to the manager and publishes the normalized result.
func (m *Model) SetConfig(cfg trainer.WorkoutConfig) {
	m.manager.SetWorkoutConfig(cfg)
	m.configEvent.Notify(m.manager.WorkoutConfig())
}

// Follow makes address the active peer. Any previously followed peer is
// released first.
func (m *Model) Follow(address string) error {
	telemetry := make(chan trainer.MachineState, 1)
	unlistenTelemetry, err := m.manager.ListenToTelemetry(address, telemetry)
	if err != nil {
		return err
	}
	workout := make(chan trainer.WorkoutState, 1)
	unlistenWorkout, err := m.manager.ListenToWorkout(address, workout)
	if err != nil {
		unlistenTelemetry()
		return err
	}
	var countdown chan trainer.Countdown
	unlistenCountdown := func() {}
	unlistenAutoStart := func() {}
	if m.autoStart {
		detector, err := m.manager.EnableAutoStart(address)
		if err != nil {
			unlistenTelemetry()
			unlistenWorkout()
			return err
		}
		countdown = make(chan trainer.Countdown, 1)
		unlistenCountdown = detector.ListenToCountdown(countdown)
		unlistenAutoStart = detector.ListenToEvents(func(event trainer.AutoStartEvent) {
			m.logAutoStartEvent(address, event)
		})
	}

	ctx, cancel := context.WithCancel(m.ctx)
	f := &follower{address: address, cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	previous := m.follower
	m.follower = f
	m.activePeer = address
	m.mu.Unlock()
	if previous != nil {
		previous.stop()
		if previous.address != address {
			m.releaseAutoStart(previous.address)
		}
	}
	m.activePeerEvent.Notify(address)
	m.logger.Printf("Model: Following %s", address)

	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, "Model.follow["+address+"]", func() {
		defer m.wg.Done()
		defer close(f.done)
		defer unlistenAutoStart()
		defer unlistenCountdown()
		defer unlistenWorkout()
		defer unlistenTelemetry()
		for {
			select {
			case <-ctx.Done():
				return
			case state := <-telemetry:
				m.telemetryEvent.Notify(state)
			case state := <-workout:
				m.workoutEvent.Notify(state)
			case c := <-countdown:
				m.countdownEvent.Notify(c)
			}
		}
	})
	return nil
}

// Unfollow releases the active peer, if any. Nothing from the released peer
// is published afterwards.
func (m *Model) Unfollow() {
	m.mu.Lock()
	f := m.follower
	address := m.activePeer
	m.follower = nil
	m.activePeer = ""
	m.mu.Unlock()
	if f == nil {
		return
	}
	f.stop()
	m.releaseAutoStart(address)
	m.logger.Printf("Model: Released %s", address)
	m.activePeerEvent.Notify("")
	m.workoutEvent.Notify(trainer.NoWorkout{})
	m.countdownEvent.Notify(trainer.Countdown{})
}

func (m *Model) releaseAutoStart(address string) {
	if m.autoStart {
		m.manager.DisableAutoStart(address)
	}
}

// logAutoStartEvent runs on the detector goroutine. Ticks are left to the
// countdown pane.
func (m *Model) logAutoStartEvent(address string, event trainer.AutoStartEvent) {
	switch event.Kind {
	case trainer.AutoStartCountdownStarted:
		m.logger.Printf("Model: Auto start countdown started on %s, %ds left", address, event.SecondsLeft)
	case trainer.AutoStartCountdownCancelled:
		m.logger.Printf("Model: Auto start countdown cancelled on %s", address)
	case trainer.AutoStartTriggered:
		m.logger.Printf("Model: Auto start triggered on %s", address)
	}
}

// listenToPeers tracks discovery and connection changes. A followed peer that
// drops its connection is released and reported in the log.
func (m *Model) listenToPeers(ctx context.Context) {
	discoveredChan := make(chan []bt.BTDevice, 8)
	unlistenDiscovered := m.manager.ListenToDiscoveredPeers(discoveredChan)
	defer unlistenDiscovered()
	connectedChan := make(chan []bt.BTDevice, 8)
	unlistenConnected := m.manager.ListenToConnectedPeers(connectedChan)
	defer unlistenConnected()

	for {
		select {
		case <-ctx.Done():
			return
		case devices := <-discoveredChan:
			m.mu.Lock()
			m.discovered = sortBTDevices(devices)
			m.mu.Unlock()
		case <-connectedChan:
		}

		m.mu.Lock()
		m.peers = convertBTDevicesToPeerModels(m.discovered)
		peers := append([]PeerModel(nil), m.peers...)
		lost := ""
		if m.activePeer != "" {
			for _, p := range peers {
				if p.Address == m.activePeer && !p.Connected {
					lost = p.Address
				}
			}
		}
		m.mu.Unlock()

		m.peersEvent.Notify(peers)
		if lost != "" {
			m.logger.Printf("Model: Connection to %s lost", lost)
			m.Unfollow()
		}
	}
}

func (m *Model) readFromLogChannel(ctx context.Context, logChan <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-logChan:
			if !ok {
				return
			}
			m.logMu.Lock()
			m.logLines = append(m.logLines, line)
			if len(m.logLines) > maxLogLines {
				m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
			}
			m.logMu.Unlock()
			m.logEvent.Notify(line)
		}
	}
}

// GetLogTail returns the last n log lines.
func (m *Model) GetLogTail(n int) []string {
	m.logMu.RLock()
	defer m.logMu.RUnlock()
	if n <= 0 {
		return []string{}
	}
	if n > len(m.logLines) {
		n = len(m.logLines)
	}
	result := make([]string, n)
	copy(result, m.logLines[len(m.logLines)-n:])
	return result
}

func sortBTDevices(devices []bt.BTDevice) []bt.BTDevice {
	sorted := make([]bt.BTDevice, len(devices))
	copy(sorted, devices)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].GetAddressString() < sorted[j].GetAddressString()
	})
	return sorted
}

func convertBTDevicesToPeerModels(devices []bt.BTDevice) []PeerModel {
	peers := make([]PeerModel, 0, len(devices))
	for _, device := range devices {
		rssi, err := device.GetScanRSSI()
		if err != nil {
			rssi = 0
		}
		peers = append(peers, PeerModel{
			Name:      device.GetLocalName(),
			Address:   device.GetAddressString(),
			RSSI:      rssi,
			Connected: device.IsConnected(),
		})
	}
	return peers
}
