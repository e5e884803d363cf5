package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/cable-trainer/internal/bt"
	"github.com/lowaak/cable-trainer/internal/go_func_utils"
	"github.com/lowaak/cable-trainer/internal/protocol"
	"github.com/lowaak/cable-trainer/internal/safe_map"
)

// ErrUnknownPeer is returned for an address that was never discovered.
var ErrUnknownPeer = errors.New("unknown peer")

// ConnectTimeout bounds how long Connect waits for the link to come up.
const ConnectTimeout = 10 * time.Second

type autoStartHandle struct {
	detector *AutoStartDetector
	cancel   func()
	done     chan struct{}
}

// Manager is the command surface used by the presentation layer. It owns one
// DeviceSession per peer, created on first use and kept for the process
// lifetime.
type Manager struct {
	btManager bt.BTManagerInterface
	logger    *log.Logger
	settings  Settings
	prefs     *PreferencesStore

	sessions   *safe_map.SafeMap[string, *DeviceSession]
	autoStarts *safe_map.SafeMap[string, *autoStartHandle]

	configMu sync.RWMutex
	config   WorkoutConfig

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewManager creates a Manager. prefs may be nil; when set, the workout
// configuration and preferred peer are restored from and saved to it.
func NewManager(btManager bt.BTManagerInterface, logger *log.Logger, settings Settings, prefs *PreferencesStore) *Manager {
	if btManager == nil {
		panic("Manager: btManager cannot be nil")
	}
	if logger == nil {
		panic("Manager: logger cannot be nil")
	}
	if settings.NamePrefix == "" {
		settings.NamePrefix = protocol.DefaultNamePrefix
	}
	config := settings.Workout
	if prefs != nil {
		config = prefs.Get().Workout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		btManager:  btManager,
		logger:     logger,
		settings:   settings,
		prefs:      prefs,
		sessions:   safe_map.NewSafeMap[string, *DeviceSession](),
		autoStarts: safe_map.NewSafeMap[string, *autoStartHandle](),
		config:     config.normalized(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (m *Manager) StartDiscovery() {
	m.btManager.StartScan(m.settings.NamePrefix)
}

func (m *Manager) StopDiscovery() error {
	return m.btManager.StopScan()
}

func (m *Manager) IsDiscovering() bool {
	return m.btManager.IsScanning()
}

// ListDiscoveredPeers returns matching peers in discovery order.
func (m *Manager) ListDiscoveredPeers() []bt.BTDevice {
	return m.btManager.GetScanDevices()
}

func (m *Manager) ListenToDiscoveredPeers(ch chan<- []bt.BTDevice) func() {
	return m.btManager.ListenToDeviceList(ch)
}

// ListenToConnectedPeers reports connection changes so callers can surface
// failed or dropped connections.
func (m *Manager) ListenToConnectedPeers(ch chan<- []bt.BTDevice) func() {
	return m.btManager.ListenToConnectedDevices(ch)
}

// Connect connects to a discovered peer and waits for the link.
func (m *Manager) Connect(address string) error {
	device := m.btManager.GetBTDeviceByAddressString(address)
	if device == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, address)
	}
	if device.IsConnected() {
		return nil
	}
	m.logger.Printf("Manager: Connecting to %s (%s)", device.GetLocalName(), address)
	if err := m.btManager.Connect(device); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	if err := device.WaitForConnection(ConnectTimeout); err != nil {
		return err
	}
	if m.prefs != nil {
		m.prefs.SetPreferredPeer(address)
	}
	return nil
}

// Disconnect stops any active workout on the peer and disconnects it.
func (m *Manager) Disconnect(address string) error {
	device := m.btManager.GetBTDeviceByAddressString(address)
	if device == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, address)
	}
	if session, ok := m.sessions.Load(address); ok && session.IsWorkoutActive() {
		session.Stop()
	}
	return m.btManager.Disconnect(device)
}

func (m *Manager) session(address string) (*DeviceSession, error) {
	if session, ok := m.sessions.Load(address); ok {
		return session, nil
	}
	device := m.btManager.GetBTDeviceByAddressString(address)
	if device == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, address)
	}
	session, loaded := m.sessions.LoadOrStore(address, func() *DeviceSession {
		return newDeviceSession(m.ctx, device, m.logger, m.settings.Session)
	})
	if !loaded {
		m.logger.Printf("Manager: Created session for %s", address)
	}
	return session, nil
}

// Session returns the session for a discovered peer, creating it on first use.
func (m *Manager) Session(address string) (*DeviceSession, error) {
	return m.session(address)
}

// ListenToTelemetry registers ch for the peer's machine state and starts
// polling if needed.
func (m *Manager) ListenToTelemetry(address string, ch chan MachineState) (func(), error) {
	session, err := m.session(address)
	if err != nil {
		return nil, err
	}
	return session.ListenToTelemetry(ch), nil
}

func (m *Manager) ListenToWorkout(address string, ch chan WorkoutState) (func(), error) {
	session, err := m.session(address)
	if err != nil {
		return nil, err
	}
	return session.ListenToWorkout(ch), nil
}

// Prepare sends init and preset ahead of a start. Unknown peers are ignored.
func (m *Manager) Prepare(address string) {
	session, err := m.session(address)
	if err != nil {
		m.logger.Printf("Manager: Prepare ignored: %v", err)
		return
	}
	session.Prepare()
}

// Start starts a workout on the peer and remembers cfg as the last selection.
func (m *Manager) Start(address string, cfg WorkoutConfig) error {
	session, err := m.session(address)
	if err != nil {
		return err
	}
	cfg = cfg.normalized()
	m.SetWorkoutConfig(cfg)
	return session.Start(cfg)
}

// Stop stops the workout on the peer. Unknown peers are ignored.
func (m *Manager) Stop(address string) {
	session, ok := m.sessions.Load(address)
	if !ok {
		return
	}
	session.Stop()
}

// EnableAutoStart attaches an AutoStartDetector to the peer. Calling it again
// returns the existing detector.
func (m *Manager) EnableAutoStart(address string) (*AutoStartDetector, error) {
	session, err := m.session(address)
	if err != nil {
		return nil, err
	}
	handle, loaded := m.autoStarts.LoadOrStore(address, func() *autoStartHandle {
		detector := NewAutoStartDetector(session, m.WorkoutConfig, m.logger, m.settings.AutoStart)
		ctx, cancel := context.WithCancel(m.ctx)
		telemetry := make(chan MachineState, 1)
		unlisten := session.ListenToTelemetry(telemetry)
		done := make(chan struct{})
		m.wg.Add(1)
		go_func_utils.SafeGo(m.logger, "AutoStartDetector["+address+"]", func() {
			defer m.wg.Done()
			defer close(done)
			defer unlisten()
			detector.Run(ctx, telemetry)
		})
		return &autoStartHandle{detector: detector, cancel: cancel, done: done}
	})
	if !loaded {
		m.logger.Printf("Manager: Auto start enabled for %s", address)
	}
	return handle.detector, nil
}

// DisableAutoStart detaches the peer's AutoStartDetector and waits for it to
// stop. A later EnableAutoStart creates a fresh detector.
func (m *Manager) DisableAutoStart(address string) {
	handle, ok := m.autoStarts.LoadAndDelete(address)
	if !ok {
		return
	}
	handle.cancel()
	<-handle.done
	m.logger.Printf("Manager: Auto start disabled for %s", address)
}

// SetWorkoutConfig sets the configuration used by auto start.
func (m *Manager) SetWorkoutConfig(cfg WorkoutConfig) {
	cfg = cfg.normalized()
	m.configMu.Lock()
	changed := m.config != cfg
	m.config = cfg
	m.configMu.Unlock()
	if changed && m.prefs != nil {
		m.prefs.SetWorkout(cfg)
	}
}

func (m *Manager) WorkoutConfig() WorkoutConfig {
	m.configMu.RLock()
	defer m.configMu.RUnlock()
	return m.config
}

// PreferredPeer returns the last connected peer address, if known.
func (m *Manager) PreferredPeer() string {
	if m.prefs == nil {
		return ""
	}
	return m.prefs.Get().PreferredPeer
}

// Shutdown stops active workouts and every background goroutine.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.logger.Println("Manager: Shutting down")
		for _, session := range m.sessions.Values() {
			if session.IsWorkoutActive() {
				session.Stop()
			}
		}
		for _, handle := range m.autoStarts.Values() {
			handle.cancel()
		}
		m.cancel()
		for _, session := range m.sessions.Values() {
			session.wait()
		}
		m.wg.Wait()
		m.logger.Println("Manager: Shutdown complete")
	})
}

func (c WorkoutConfig) normalized() WorkoutConfig {
	if c.TargetReps < 0 {
		c.TargetReps = 0
	}
	if _, _, ok := c.Difficulty.Params(); !ok {
		c.Difficulty = protocol.Hardest
	}
	return c
}
