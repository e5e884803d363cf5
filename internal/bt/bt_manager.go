package bt

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/cable-trainer/internal/events"
	"github.com/lowaak/cable-trainer/internal/go_func_utils"
	"golang.org/x/time/rate"

	"tinygo.org/x/bluetooth"
)

// BTManagerInterface is the transport surface the trainer depends on. The BLE
// implementation is BTManager; the simulator provides another.
type BTManagerInterface interface {
	Enable() error
	GetBTDeviceByAddressString(addressString string) BTDevice
	StartScan(namePrefix string)
	StopScan() error
	IsScanning() bool
	Connect(device BTDevice) error
	Disconnect(device BTDevice) error
	GetConnectedDevices() []BTDevice
	GetScanDevices() []BTDevice
	ListenToDeviceList(ch chan<- []BTDevice) func()
	ListenToConnectedDevices(ch chan<- []BTDevice) func()
	Shutdown()
}

var _ BTManagerInterface = (*BTManager)(nil)

type BTManager struct {
	adapter               *bluetooth.Adapter
	logger                *log.Logger
	mu                    sync.RWMutex
	discovered            *DiscoveryList[*btDeviceImpl]
	scanning              bool
	scanContextCancel     context.CancelFunc
	scanDeviceListEvent   *events.ChannelEvent[[]BTDevice]
	connectedDevicesEvent *events.ChannelEvent[[]BTDevice]
	ctx                   context.Context
	cancel                context.CancelFunc
	wg                    sync.WaitGroup
	ignoredLog            rate.Sometimes
}

func NewBTManager(adapter *bluetooth.Adapter, logger *log.Logger) *BTManager {
	if adapter == nil {
		panic("BTManager: adapter cannot be nil")
	}
	if logger == nil {
		panic("BTManager: logger cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BTManager{
		adapter:               adapter,
		logger:                logger,
		discovered:            NewDiscoveryList[*btDeviceImpl](""),
		scanDeviceListEvent:   events.NewChannelEvent[[]BTDevice](true),
		connectedDevicesEvent: events.NewChannelEvent[[]BTDevice](true),
		ctx:                   ctx,
		cancel:                cancel,
		ignoredLog:            rate.Sometimes{Interval: 5 * time.Second},
	}
}

// GetBTDeviceByAddressString returns a discovered device, or nil if not found
func (m *BTManager) GetBTDeviceByAddressString(addressString string) BTDevice {
	m.mu.RLock()
	discovered := m.discovered
	m.mu.RUnlock()
	if device, ok := discovered.Get(addressString); ok {
		return device
	}
	return nil
}

func (m *BTManager) lookup(addressString string) (*btDeviceImpl, error) {
	m.mu.RLock()
	discovered := m.discovered
	m.mu.RUnlock()
	device, ok := discovered.Get(addressString)
	if !ok {
		return nil, fmt.Errorf("no discovered device with address %s", addressString)
	}
	return device, nil
}

func (m *BTManager) Enable() error {
	m.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addressStr := device.Address.String()
		d, err := m.lookup(addressStr)
		if err != nil {
			m.logger.Printf("BTManager: Connection event for unknown device %s", addressStr)
			return
		}
		if connected {
			m.logger.Printf("BTManager: Device connected: %s", addressStr)
			d.setConnectedDevice(&device, Connected)
		} else {
			m.logger.Printf("BTManager: Device disconnected: %s", addressStr)
			d.setConnectedDevice(nil, Disconnected)
		}
		m.emitConnectedDevicesChange()
	})

	if err := m.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w", err)
	}
	return nil
}

// StartScan scans for peers whose advertised name starts with namePrefix.
// Restarting with a different prefix starts a fresh discovery list.
func (m *BTManager) StartScan(namePrefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scanning && m.scanContextCancel != nil {
		m.logger.Printf("BTManager: A scan is already running, restarting it")
		m.scanContextCancel()
		if err := m.adapter.StopScan(); err != nil {
			m.logger.Printf("BTManager: Error stopping previous scan: %v", err)
		}
	}
	if m.discovered.Prefix() != namePrefix {
		m.discovered = NewDiscoveryList[*btDeviceImpl](namePrefix)
	}
	discovered := m.discovered

	m.logger.Printf("BTManager: Starting scan for names with prefix %q", namePrefix)
	m.scanning = true
	scanContext, cancel := context.WithCancel(m.ctx)
	m.scanContextCancel = cancel

	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, "BTManager.scan", func() {
		defer m.wg.Done()
		defer m.logger.Printf("BTManager: Exiting scan loop")

		err := m.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			select {
			case <-scanContext.Done():
				return
			default:
			}

			addressStr := result.Address.String()
			name := result.LocalName()
			d, added, matched := discovered.Observe(addressStr, name, func() *btDeviceImpl {
				return newBtDeviceImpl(m.logger, result.Address)
			})
			if !matched {
				m.ignoredLog.Do(func() {
					m.logger.Printf("BTManager: Ignoring advertisements without prefix %q (latest %q)", namePrefix, name)
				})
				return
			}
			d.setScanResult(&result, time.Now())
			if added {
				m.logger.Printf("BTManager: Found device: %s (%s) [RSSI: %d]", name, addressStr, result.RSSI)
				m.scanDeviceListEvent.Notify(m.GetScanDevices())
			}
		})
		if err != nil {
			m.logger.Printf("BTManager: Scan error: %v", err)
		}
	})

	// Re-emit periodically so RSSI in listeners stays fresh
	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, "BTManager.scanEmitter", func() {
		defer m.wg.Done()
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-scanContext.Done():
				return
			case <-ticker.C:
				m.scanDeviceListEvent.Notify(m.GetScanDevices())
			}
		}
	})
}

func (m *BTManager) StopScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.scanning {
		return nil
	}
	m.scanning = false
	if m.scanContextCancel != nil {
		m.scanContextCancel()
		m.scanContextCancel = nil
	}
	if err := m.adapter.StopScan(); err != nil {
		return fmt.Errorf("failed to stop scan: %w", err)
	}
	return nil
}

func (m *BTManager) IsScanning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanning
}

// Connect connects to a discovered device. The connect handler registered in
// Enable tracks the resulting state.
func (m *BTManager) Connect(device BTDevice) error {
	addressStr := device.GetAddressString()
	d, err := m.lookup(addressStr)
	if err != nil {
		return err
	}
	if d.IsConnected() {
		return nil
	}

	m.logger.Printf("BTManager: Connecting to %s", addressStr)
	d.setState(Connecting)
	connected, err := m.adapter.Connect(d.address, bluetooth.ConnectionParams{})
	if err != nil {
		d.setState(Disconnected)
		return fmt.Errorf("failed to connect to %s: %w", addressStr, err)
	}
	// Some platforms do not invoke the connect handler for outgoing connections
	if !d.IsConnected() {
		d.setConnectedDevice(&connected, Connected)
		m.emitConnectedDevicesChange()
	}
	return nil
}

func (m *BTManager) Disconnect(device BTDevice) error {
	addressStr := device.GetAddressString()
	d, err := m.lookup(addressStr)
	if err != nil {
		return err
	}
	inner := d.getConnectedDevice()
	if inner == nil {
		return nil
	}
	m.logger.Printf("BTManager: Disconnecting from %s", addressStr)
	if err := inner.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from %s: %w", addressStr, err)
	}
	d.setConnectedDevice(nil, Disconnected)
	m.emitConnectedDevicesChange()
	return nil
}

func (m *BTManager) GetConnectedDevices() []BTDevice {
	result := make([]BTDevice, 0)
	for _, d := range m.GetScanDevices() {
		if d.IsConnected() {
			result = append(result, d)
		}
	}
	return result
}

// GetScanDevices returns every discovered device in discovery order.
func (m *BTManager) GetScanDevices() []BTDevice {
	m.mu.RLock()
	discovered := m.discovered
	m.mu.RUnlock()
	devices := discovered.Devices()
	result := make([]BTDevice, 0, len(devices))
	for _, d := range devices {
		result = append(result, d)
	}
	return result
}

func (m *BTManager) ListenToDeviceList(ch chan<- []BTDevice) func() {
	return m.scanDeviceListEvent.Listen(ch)
}

func (m *BTManager) ListenToConnectedDevices(ch chan<- []BTDevice) func() {
	return m.connectedDevicesEvent.Listen(ch)
}

func (m *BTManager) emitConnectedDevicesChange() {
	m.connectedDevicesEvent.Notify(m.GetConnectedDevices())
}

// Shutdown disconnects every device, stops scanning and waits for the scan
// goroutines to finish.
func (m *BTManager) Shutdown() {
	m.logger.Println("BTManager: Shutting down")
	for _, dev := range m.GetConnectedDevices() {
		if err := m.Disconnect(dev); err != nil {
			m.logger.Printf("BTManager: Error disconnecting from %v: %v", dev.GetAddressString(), err)
		}
	}
	if err := m.StopScan(); err != nil {
		m.logger.Printf("BTManager: Error stopping scan: %v", err)
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Println("BTManager: Shutdown complete")
}
