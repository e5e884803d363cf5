package trainer

import (
	"io"
	"log"
	"sync"
	"time"

	"github.com/lowaak/cable-trainer/internal/bt"
	"github.com/lowaak/cable-trainer/internal/protocol"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakePeripheral records control writes, serves a configurable telemetry
// frame and captures the half-rep notification callback.
type fakePeripheral struct {
	mu            sync.Mutex
	address       string
	writes        [][]byte
	writeAttempts int
	writeErr      error
	frame         []byte
	reads         int
	readErr       error
	notify        func([]byte)
	enableErr     error
	enableCalls   int
	disableCalls  int
}

func newFakePeripheral() *fakePeripheral {
	return &fakePeripheral{
		address: "AA:BB:CC:DD:EE:FF",
		frame:   protocol.EncodeTelemetry(protocol.TelemetryFrame{}),
	}
}

func (p *fakePeripheral) GetAddressString() string {
	return p.address
}

func (p *fakePeripheral) ReadCharacteristic(serviceUuid string, characteristicUuid string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	if p.readErr != nil {
		return nil, p.readErr
	}
	return append([]byte(nil), p.frame...), nil
}

func (p *fakePeripheral) WriteCharacteristic(serviceUuid string, characteristicUuid string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeAttempts++
	if p.writeErr != nil {
		return p.writeErr
	}
	p.writes = append(p.writes, append([]byte(nil), data...))
	return nil
}

func (p *fakePeripheral) EnableNotifications(serviceUuid string, characteristicUuid string, callbackFunc func(buf []byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enableErr != nil {
		return p.enableErr
	}
	if p.notify != nil {
		return bt.ErrAlreadySubscribed
	}
	p.notify = callbackFunc
	p.enableCalls++
	return nil
}

func (p *fakePeripheral) DisableNotifications(serviceUuid string, characteristicUuid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notify = nil
	p.disableCalls++
	return nil
}

// halfRep delivers one notification and reports whether a callback was set.
func (p *fakePeripheral) halfRep() bool {
	p.mu.Lock()
	callback := p.notify
	p.mu.Unlock()
	if callback == nil {
		return false
	}
	callback([]byte{1})
	return true
}

func (p *fakePeripheral) setFrame(frame protocol.TelemetryFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frame = protocol.EncodeTelemetry(frame)
}

func (p *fakePeripheral) setReadErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

func (p *fakePeripheral) setWriteErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

func (p *fakePeripheral) readCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

func (p *fakePeripheral) attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeAttempts
}

// descriptions returns the recorded writes as frame descriptions.
func (p *fakePeripheral) descriptions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.writes))
	for i, w := range p.writes {
		out[i] = protocol.DescribeFrame(w)
	}
	return out
}

func (p *fakePeripheral) lastWrite() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.writes) == 0 {
		return nil
	}
	return p.writes[len(p.writes)-1]
}

func (p *fakePeripheral) enabled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enableCalls
}

func (p *fakePeripheral) disabled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disableCalls
}

// fakeTarget is an AutoStartTarget that records calls.
type fakeTarget struct {
	mu         sync.Mutex
	prepares   int
	starts     []WorkoutConfig
	startTimes []time.Time
	clock      *fakeClock
	active     bool
	goesActive bool
	startErr   error
}

func (t *fakeTarget) Prepare() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prepares++
}

func (t *fakeTarget) Start(cfg WorkoutConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.starts = append(t.starts, cfg)
	if t.clock != nil {
		t.startTimes = append(t.startTimes, t.clock.Now())
	}
	if t.startErr != nil {
		return t.startErr
	}
	if t.goesActive {
		t.active = true
	}
	return nil
}

func (t *fakeTarget) IsWorkoutActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *fakeTarget) setActive(active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = active
}

func (t *fakeTarget) startCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.starts)
}

func (t *fakeTarget) prepareCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prepares
}
