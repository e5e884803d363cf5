package simulator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/cable-trainer/internal/bt"
	"github.com/lowaak/cable-trainer/internal/events"
	"github.com/lowaak/cable-trainer/internal/go_func_utils"
)

// Manager is a bt.BTManagerInterface backed by simulated machines. Scanning
// applies the same name prefix filter as the BLE manager.
type Manager struct {
	logger                *log.Logger
	machines              []*Machine
	mu                    sync.RWMutex
	discovered            *bt.DiscoveryList[*Machine]
	scanning              bool
	scanCancel            context.CancelFunc
	scanInterval          time.Duration
	scanDeviceListEvent   *events.ChannelEvent[[]bt.BTDevice]
	connectedDevicesEvent *events.ChannelEvent[[]bt.BTDevice]
	ctx                   context.Context
	cancel                context.CancelFunc
	wg                    sync.WaitGroup
}

var _ bt.BTManagerInterface = (*Manager)(nil)

// NewManager creates a manager advertising machines.
func NewManager(logger *log.Logger, machines ...*Machine) *Manager {
	if logger == nil {
		panic("simulator.Manager: logger cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		logger:                logger,
		machines:              machines,
		discovered:            bt.NewDiscoveryList[*Machine](""),
		scanInterval:          time.Second,
		scanDeviceListEvent:   events.NewChannelEvent[[]bt.BTDevice](true),
		connectedDevicesEvent: events.NewChannelEvent[[]bt.BTDevice](true),
		ctx:                   ctx,
		cancel:                cancel,
	}
}

// Machines returns every simulated machine, advertised or not.
func (m *Manager) Machines() []*Machine {
	return m.machines
}

// Machine returns the simulated machine with address.
func (m *Manager) Machine(address string) (*Machine, bool) {
	for _, machine := range m.machines {
		if machine.GetAddressString() == address {
			return machine, true
		}
	}
	return nil, false
}

func (m *Manager) Enable() error {
	m.logger.Printf("simulator.Manager: Enabled with %d machines", len(m.machines))
	m.connectedDevicesEvent.Notify([]bt.BTDevice{})
	return nil
}

func (m *Manager) GetBTDeviceByAddressString(addressString string) bt.BTDevice {
	m.mu.RLock()
	discovered := m.discovered
	m.mu.RUnlock()
	if machine, ok := discovered.Get(addressString); ok {
		return machine
	}
	return nil
}

// StartScan advertises every machine immediately and again each second until
// StopScan. Machines whose name does not start with namePrefix are ignored.
func (m *Manager) StartScan(namePrefix string) {
	m.mu.Lock()
	if m.scanCancel != nil {
		m.scanCancel()
	}
	if m.discovered.Prefix() != namePrefix {
		m.discovered = bt.NewDiscoveryList[*Machine](namePrefix)
	}
	scanCtx, scanCancel := context.WithCancel(m.ctx)
	m.scanCancel = scanCancel
	m.scanning = true
	m.mu.Unlock()

	m.logger.Printf("simulator.Manager: Starting scan (prefix=%q)", namePrefix)
	m.advertise()

	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, "simulator.Manager.scan", func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.scanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-scanCtx.Done():
				return
			case <-ticker.C:
				m.advertise()
			}
		}
	})
}

func (m *Manager) advertise() {
	m.mu.RLock()
	discovered := m.discovered
	m.mu.RUnlock()

	now := time.Now()
	for _, machine := range m.machines {
		machine.SetScanLastSeen(now)
		_, added, _ := discovered.Observe(machine.GetAddressString(), machine.GetLocalName(), func() *Machine {
			return machine
		})
		if added {
			m.logger.Printf("simulator.Manager: Found device: %s (%s)", machine.GetLocalName(), machine.GetAddressString())
		}
	}
	m.scanDeviceListEvent.Notify(m.GetScanDevices())
}

func (m *Manager) StopScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanCancel != nil {
		m.scanCancel()
		m.scanCancel = nil
	}
	m.scanning = false
	m.logger.Println("simulator.Manager: Scan stopped")
	return nil
}

func (m *Manager) IsScanning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanning
}

func (m *Manager) Connect(device bt.BTDevice) error {
	machine, ok := m.Machine(device.GetAddressString())
	if !ok {
		return fmt.Errorf("unknown device: %s", device.GetAddressString())
	}
	machine.SetConnected(true)
	m.connectedDevicesEvent.Notify(m.GetConnectedDevices())
	m.logger.Printf("simulator.Manager: Connected to %s", machine.GetAddressString())
	return nil
}

func (m *Manager) Disconnect(device bt.BTDevice) error {
	machine, ok := m.Machine(device.GetAddressString())
	if !ok {
		return fmt.Errorf("unknown device: %s", device.GetAddressString())
	}
	machine.StopAutoReps()
	machine.SetConnected(false)
	m.connectedDevicesEvent.Notify(m.GetConnectedDevices())
	m.logger.Printf("simulator.Manager: Disconnected from %s", machine.GetAddressString())
	return nil
}

func (m *Manager) GetConnectedDevices() []bt.BTDevice {
	connected := []bt.BTDevice{}
	for _, machine := range m.machines {
		if machine.IsConnected() {
			connected = append(connected, machine)
		}
	}
	return connected
}

func (m *Manager) GetScanDevices() []bt.BTDevice {
	m.mu.RLock()
	discovered := m.discovered
	m.mu.RUnlock()
	machines := discovered.Devices()
	devices := make([]bt.BTDevice, len(machines))
	for i, machine := range machines {
		devices[i] = machine
	}
	return devices
}

func (m *Manager) ListenToDeviceList(ch chan<- []bt.BTDevice) func() {
	return m.scanDeviceListEvent.Listen(ch)
}

func (m *Manager) ListenToConnectedDevices(ch chan<- []bt.BTDevice) func() {
	return m.connectedDevicesEvent.Listen(ch)
}

func (m *Manager) Shutdown() {
	m.logger.Println("simulator.Manager: Shutting down")
	m.cancel()
	m.wg.Wait()
	for _, machine := range m.machines {
		machine.StopAutoReps()
	}
	m.logger.Println("simulator.Manager: Shutdown complete")
}
