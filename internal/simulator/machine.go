package simulator

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lowaak/cable-trainer/internal/bt"
	"github.com/lowaak/cable-trainer/internal/events"
	"github.com/lowaak/cable-trainer/internal/go_func_utils"
	"github.com/lowaak/cable-trainer/internal/protocol"
)

const maxWrittenFrames = 100

// Raw position reported when a cable is fully extended by the auto rep script.
const defaultTopPositionRaw = 1600

// CableState is the adjustable load and position of both cables.
type CableState struct {
	ForceLeftKg      float64 `json:"forceLeftKg"`
	ForceRightKg     float64 `json:"forceRightKg"`
	PositionLeftRaw  uint16  `json:"positionLeftRaw"`
	PositionRightRaw uint16  `json:"positionRightRaw"`
}

// WrittenFrame records a frame written to the control characteristic
type WrittenFrame struct {
	Timestamp          time.Time `json:"timestamp"`
	CharacteristicUUID string    `json:"characteristicUuid"`
	Data               []byte    `json:"data"`
	DataHex            string    `json:"dataHex"`
	Description        string    `json:"description"`
}

// AutoRepConfig drives the automatic rep script. Every Period the cables move
// between the bottom and TopPositionRaw and one half-rep notification is sent.
type AutoRepConfig struct {
	Period         time.Duration `json:"period"`
	TopPositionRaw uint16        `json:"topPositionRaw"`
	LoadKg         float64       `json:"loadKg"`
}

// MachineSnapshot is the observable state of a simulated machine
type MachineSnapshot struct {
	Address    string        `json:"address"`
	LocalName  string        `json:"localName"`
	Connected  bool          `json:"connected"`
	Subscribed bool          `json:"subscribed"`
	Cable      CableState    `json:"cable"`
	HalfReps   uint32        `json:"halfReps"`
	AutoReps   bool          `json:"autoReps"`
	LastWrite  *WrittenFrame `json:"lastWrite,omitempty"`
	ReadCount  uint64        `json:"readCount"`
	WriteCount uint64        `json:"writeCount"`
}

// Machine is a software Vee machine. It implements bt.BTDevice: telemetry
// reads are answered from the adjustable cable state, control writes are
// recorded and half-rep notifications are sent on demand or by the auto rep
// script.
type Machine struct {
	logger    *log.Logger
	address   string
	localName string

	mu           sync.RWMutex
	state        bt.BTDeviceState
	scanLastSeen time.Time
	cable        CableState
	repCallback  func([]byte)
	halfReps     uint32
	readCount    uint64
	writes       []WrittenFrame
	writeCount   uint64
	readErr      error
	writeErr     error

	autoRepCancel context.CancelFunc
	autoRepWg     sync.WaitGroup

	snapshotEvent *events.ChannelEvent[MachineSnapshot]
}

var _ bt.BTDevice = (*Machine)(nil)

// NewMachine creates a disconnected machine advertising localName. Its
// address is a random UUID, the form CoreBluetooth reports peers in.
func NewMachine(logger *log.Logger, localName string) *Machine {
	if logger == nil {
		panic("Machine: logger cannot be nil")
	}
	return &Machine{
		logger:        logger,
		address:       uuid.NewString(),
		localName:     localName,
		state:         bt.Disconnected,
		scanLastSeen:  time.Unix(0, 0),
		writes:        make([]WrittenFrame, 0, maxWrittenFrames),
		snapshotEvent: events.NewChannelEvent[MachineSnapshot](true),
	}
}

// --- bt.BTDevice ---

func (m *Machine) GetAddressString() string {
	return m.address
}

func (m *Machine) GetScanRSSI() (int16, error) {
	return -55, nil
}

func (m *Machine) GetScanLastSeen() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanLastSeen
}

func (m *Machine) GetLocalName() string {
	return m.localName
}

func (m *Machine) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == bt.Connected
}

func (m *Machine) GetState() bt.BTDeviceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Machine) WaitForConnection(timeout time.Duration) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	timeoutChan := time.After(timeout)
	for {
		if m.IsConnected() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-timeoutChan:
			return fmt.Errorf("timeout after %v waiting for connection to %s", timeout, m.address)
		}
	}
}

func (m *Machine) EnableNotifications(serviceUuid string, characteristicUuid string, callbackFunc func(buf []byte)) error {
	if err := m.checkStream(serviceUuid, characteristicUuid, protocol.ModeNotify); err != nil {
		return err
	}
	m.mu.Lock()
	if m.state != bt.Connected {
		m.mu.Unlock()
		return bt.ErrNotConnected
	}
	if m.repCallback != nil {
		m.mu.Unlock()
		return bt.ErrAlreadySubscribed
	}
	m.repCallback = callbackFunc
	m.mu.Unlock()
	m.logger.Printf("Machine[%s]: Notifications enabled for char=%s", m.localName, characteristicUuid)
	m.publish()
	return nil
}

func (m *Machine) DisableNotifications(serviceUuid string, characteristicUuid string) error {
	if err := m.checkStream(serviceUuid, characteristicUuid, protocol.ModeNotify); err != nil {
		return err
	}
	m.mu.Lock()
	m.repCallback = nil
	m.mu.Unlock()
	m.publish()
	return nil
}

func (m *Machine) ReadCharacteristic(serviceUuid string, characteristicUuid string) ([]byte, error) {
	if err := m.checkStream(serviceUuid, characteristicUuid, protocol.ModeRead); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != bt.Connected {
		return nil, bt.ErrNotConnected
	}
	if m.readErr != nil {
		return nil, m.readErr
	}
	m.readCount++
	return protocol.EncodeTelemetry(protocol.TelemetryFrame{
		ForceLeftKg:      m.cable.ForceLeftKg,
		ForceRightKg:     m.cable.ForceRightKg,
		PositionLeftRaw:  m.cable.PositionLeftRaw,
		PositionRightRaw: m.cable.PositionRightRaw,
	}), nil
}

func (m *Machine) WriteCharacteristic(serviceUuid string, characteristicUuid string, data []byte) error {
	if err := m.checkStream(serviceUuid, characteristicUuid, protocol.ModeWrite); err != nil {
		return err
	}
	m.mu.Lock()
	if m.state != bt.Connected {
		m.mu.Unlock()
		return bt.ErrNotConnected
	}
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return err
	}
	frame := WrittenFrame{
		Timestamp:          time.Now(),
		CharacteristicUUID: characteristicUuid,
		Data:               append([]byte(nil), data...),
		DataHex:            hex.EncodeToString(data),
		Description:        protocol.DescribeFrame(data),
	}
	m.writes = append(m.writes, frame)
	if len(m.writes) > maxWrittenFrames {
		m.writes = m.writes[len(m.writes)-maxWrittenFrames:]
	}
	m.writeCount++
	m.mu.Unlock()

	m.logger.Printf("Machine[%s]: Control write %s (%s)", m.localName, frame.Description, frame.DataHex)
	m.publish()
	return nil
}

// checkStream rejects characteristics the machine does not expose or that do
// not support the requested mode.
func (m *Machine) checkStream(serviceUuid, characteristicUuid string, mode protocol.CharacteristicMode) error {
	stream, ok := protocol.GetStreamByCharacteristic(serviceUuid, characteristicUuid)
	if !ok {
		return fmt.Errorf("characteristic %s not found in service %s", characteristicUuid, serviceUuid)
	}
	if stream.Mode != mode {
		return fmt.Errorf("characteristic %s does not support %s", characteristicUuid, mode)
	}
	return nil
}

// --- simulation controls ---

// SetConnected changes the connection state. Disconnecting drops the
// notification subscription, as a real peer does.
func (m *Machine) SetConnected(connected bool) {
	m.mu.Lock()
	if connected {
		m.state = bt.Connected
	} else {
		m.state = bt.Disconnected
		m.repCallback = nil
	}
	m.mu.Unlock()
	m.logger.Printf("Machine[%s]: State changed to %s", m.localName, m.GetState())
	m.publish()
}

func (m *Machine) SetScanLastSeen(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanLastSeen = t
}

// SetCable replaces the cable state returned by telemetry reads.
func (m *Machine) SetCable(cable CableState) {
	m.mu.Lock()
	m.cable = cable
	m.mu.Unlock()
	m.publish()
}

func (m *Machine) Cable() CableState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cable
}

// FailReads makes telemetry reads return err until called with nil.
func (m *Machine) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// FailWrites makes control writes return err until called with nil.
func (m *Machine) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// TriggerHalfRep sends one rep notification. The payload carries the running
// half-rep counter. It reports whether a subscriber received it.
func (m *Machine) TriggerHalfRep() bool {
	m.mu.Lock()
	m.halfReps++
	callback := m.repCallback
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, m.halfReps)
	m.mu.Unlock()

	m.publish()
	if callback == nil {
		return false
	}
	callback(payload)
	return true
}

// Writes returns the recorded control frames, oldest first.
func (m *Machine) Writes() []WrittenFrame {
	m.mu.RLock()
	defer m.mu.RUnlock()
	writes := make([]WrittenFrame, len(m.writes))
	copy(writes, m.writes)
	return writes
}

// StartAutoReps runs the rep script until StopAutoReps or ctx is done. A
// running script is replaced.
func (m *Machine) StartAutoReps(ctx context.Context, cfg AutoRepConfig) {
	if cfg.Period <= 0 {
		cfg.Period = time.Second
	}
	if cfg.TopPositionRaw == 0 {
		cfg.TopPositionRaw = defaultTopPositionRaw
	}
	m.StopAutoReps()

	scriptCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.autoRepCancel = cancel
	m.mu.Unlock()
	m.logger.Printf("Machine[%s]: Auto reps started (period=%v)", m.localName, cfg.Period)
	m.publish()

	m.autoRepWg.Add(1)
	go_func_utils.SafeGo(m.logger, "Machine.autoReps", func() {
		defer m.autoRepWg.Done()
		ticker := time.NewTicker(cfg.Period)
		defer ticker.Stop()

		up := false
		for {
			select {
			case <-scriptCtx.Done():
				return
			case <-ticker.C:
				up = !up
				position := uint16(0)
				if up {
					position = cfg.TopPositionRaw
				}
				m.SetCable(CableState{
					ForceLeftKg:      cfg.LoadKg,
					ForceRightKg:     cfg.LoadKg,
					PositionLeftRaw:  position,
					PositionRightRaw: position,
				})
				m.TriggerHalfRep()
			}
		}
	})
}

// StopAutoReps stops the rep script and waits for it to exit.
func (m *Machine) StopAutoReps() {
	m.mu.Lock()
	cancel := m.autoRepCancel
	m.autoRepCancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.autoRepWg.Wait()
	m.logger.Printf("Machine[%s]: Auto reps stopped", m.localName)
	m.publish()
}

// Snapshot returns the current observable state.
func (m *Machine) Snapshot() MachineSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := MachineSnapshot{
		Address:    m.address,
		LocalName:  m.localName,
		Connected:  m.state == bt.Connected,
		Subscribed: m.repCallback != nil,
		Cable:      m.cable,
		HalfReps:   m.halfReps,
		AutoReps:   m.autoRepCancel != nil,
		ReadCount:  m.readCount,
		WriteCount: m.writeCount,
	}
	if n := len(m.writes); n > 0 {
		last := m.writes[n-1]
		snapshot.LastWrite = &last
	}
	return snapshot
}

// ListenToSnapshots registers ch for state changes. Telemetry reads do not
// publish; the read counter is carried on the next change.
func (m *Machine) ListenToSnapshots(ch chan MachineSnapshot) func() {
	return m.snapshotEvent.ListenLatest(ch)
}

func (m *Machine) publish() {
	m.snapshotEvent.Notify(m.Snapshot())
}
