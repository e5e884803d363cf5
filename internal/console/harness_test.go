package console

import (
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lowaak/cable-trainer/internal/simulator"
	"github.com/lowaak/cable-trainer/internal/trainer"
	"github.com/stretchr/testify/require"
)

const (
	eventually = 2 * time.Second
	pollEvery  = 2 * time.Millisecond
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type consoleHarness struct {
	machine    *simulator.Machine
	sim        *simulator.Manager
	manager    *trainer.Manager
	model      *Model
	controller *Controller
}

type harnessOptions struct {
	autoStart     bool
	preferredPeer bool
}

func newConsoleHarness(t *testing.T, opts harnessOptions) *consoleHarness {
	t.Helper()
	logs := NewLogWriter(4096)
	logger := log.New(logs, "", 0)

	machine := simulator.NewMachine(testLogger(), "Vee 7A21")
	sim := simulator.NewManager(testLogger(), machine)
	require.NoError(t, sim.Enable())

	prefs := trainer.NewPreferencesStore(
		filepath.Join(t.TempDir(), "preferences.yaml"),
		trainer.Preferences{Workout: trainer.DefaultWorkoutConfig()},
		testLogger(),
	)
	if opts.preferredPeer {
		prefs.SetPreferredPeer(machine.GetAddressString())
	}

	manager := trainer.NewManager(sim, logger, trainer.Settings{
		Session: trainer.SessionSettings{
			PollInterval:    5 * time.Millisecond,
			PrepareFrameGap: -1,
		},
		AutoStart: trainer.AutoStartSettings{
			Hold:            200 * time.Millisecond,
			CountdownWindow: 100 * time.Millisecond,
			TickInterval:    5 * time.Millisecond,
		},
	}, prefs)
	model := NewModel(manager, logger, logs.Lines(), opts.autoStart)
	controller := NewController(model, manager, logger)

	t.Cleanup(func() {
		controller.Shutdown()
		model.Shutdown()
		manager.Shutdown()
		sim.Shutdown()
	})
	return &consoleHarness{
		machine:    machine,
		sim:        sim,
		manager:    manager,
		model:      model,
		controller: controller,
	}
}

// connect discovers the machine and connects it through the controller.
func (h *consoleHarness) connect(t *testing.T) string {
	t.Helper()
	h.manager.StartDiscovery()
	require.Eventually(t, func() bool { return len(h.model.Peers()) == 1 }, eventually, pollEvery)
	h.controller.SelectPeer(0)
	address := h.machine.GetAddressString()
	require.Equal(t, address, h.model.ActivePeer())
	return address
}

func (h *consoleHarness) logged(substr string) bool {
	for _, line := range h.model.GetLogTail(maxLogLines) {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func workoutActive(m *Model) bool {
	_, ok := m.Workout().(trainer.ActiveWorkout)
	return ok
}
