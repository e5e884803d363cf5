package console

import (
	"fmt"
	"testing"
	"time"

	"github.com/lowaak/cable-trainer/internal/protocol"
	"github.com/lowaak/cable-trainer/internal/simulator"
	"github.com/lowaak/cable-trainer/internal/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModel_InitialState(t *testing.T) {
	h := newConsoleHarness(t, harnessOptions{})

	assert.Empty(t, h.model.Peers())
	assert.Equal(t, "", h.model.ActivePeer())
	assert.Equal(t, trainer.NoWorkout{}, h.model.Workout())
	assert.Equal(t, trainer.DefaultWorkoutConfig(), h.model.Config())
	_, ok := h.model.Telemetry()
	assert.False(t, ok)
}

func TestModel_PeersFollowDiscoveryAndConnection(t *testing.T) {
	h := newConsoleHarness(t, harnessOptions{})

	h.manager.StartDiscovery()
	require.Eventually(t, func() bool { return len(h.model.Peers()) == 1 }, eventually, pollEvery)
	peer := h.model.Peers()[0]
	assert.Equal(t, "Vee 7A21", peer.Name)
	assert.Equal(t, h.machine.GetAddressString(), peer.Address)
	assert.False(t, peer.Connected)

	h.controller.SelectPeer(0)
	require.Eventually(t, func() bool { return h.model.Peers()[0].Connected }, eventually, pollEvery)
}

func TestModel_ForwardsTelemetryOfActivePeer(t *testing.T) {
	h := newConsoleHarness(t, harnessOptions{})
	h.connect(t)

	h.machine.SetCable(simulator.CableState{ForceLeftKg: 5, ForceRightKg: 6, PositionLeftRaw: 1000, PositionRightRaw: 2000})
	want := trainer.MachineState{ForceLeftKg: 5, ForceRightKg: 6, PositionLeft: 0.5, PositionRight: 1}
	require.Eventually(t, func() bool {
		state, ok := h.model.Telemetry()
		return ok && state == want
	}, eventually, pollEvery)
}

func TestModel_LostConnectionReleasesPeer(t *testing.T) {
	h := newConsoleHarness(t, harnessOptions{})
	address := h.connect(t)

	require.NoError(t, h.sim.Disconnect(h.machine))
	require.Eventually(t, func() bool { return h.model.ActivePeer() == "" }, eventually, pollEvery)
	require.Eventually(t, func() bool { return h.logged("Connection to " + address + " lost") }, eventually, pollEvery)
	assert.Equal(t, trainer.NoWorkout{}, h.model.Workout())
}

func TestModel_UnfollowStopsForwarding(t *testing.T) {
	h := newConsoleHarness(t, harnessOptions{})
	h.connect(t)

	require.NoError(t, h.manager.Start(h.machine.GetAddressString(), trainer.DefaultWorkoutConfig()))
	require.Eventually(t, func() bool { return workoutActive(h.model) }, eventually, pollEvery)

	h.model.Unfollow()
	assert.Equal(t, "", h.model.ActivePeer())
	assert.Equal(t, trainer.NoWorkout{}, h.model.Workout())
	assert.NotPanics(t, h.model.Unfollow)
}

func TestModel_LogsAutoStartEvents(t *testing.T) {
	h := newConsoleHarness(t, harnessOptions{autoStart: true})
	address := h.connect(t)

	h.machine.SetCable(simulator.CableState{PositionLeftRaw: 1000, PositionRightRaw: 1000})
	require.Eventually(t, func() bool { return h.logged("Auto start countdown started on " + address) }, eventually, pollEvery)
	require.Eventually(t, func() bool { return h.logged("Auto start triggered on " + address) }, eventually, pollEvery)
}

func TestModel_UnfollowDetachesAutoStart(t *testing.T) {
	h := newConsoleHarness(t, harnessOptions{autoStart: true})
	address := h.connect(t)

	h.model.Unfollow()
	require.Eventually(t, func() bool { return h.logged("Auto start disabled for " + address) }, eventually, pollEvery)

	session, err := h.manager.Session(address)
	require.NoError(t, err)
	h.machine.SetCable(simulator.CableState{PositionLeftRaw: 1000, PositionRightRaw: 1000})
	assert.Never(t, session.IsWorkoutActive, 500*time.Millisecond, 10*time.Millisecond)
	assert.False(t, h.logged("Auto start countdown started"))

	require.NoError(t, h.model.Follow(address))
	require.Eventually(t, func() bool { return workoutActive(h.model) }, eventually, pollEvery)
}

func TestModel_FollowUnknownPeer(t *testing.T) {
	h := newConsoleHarness(t, harnessOptions{})

	assert.ErrorIs(t, h.model.Follow("nope"), trainer.ErrUnknownPeer)
	assert.Equal(t, "", h.model.ActivePeer())
}

func TestModel_SetConfigIsNormalized(t *testing.T) {
	h := newConsoleHarness(t, harnessOptions{})

	h.model.SetConfig(trainer.WorkoutConfig{Difficulty: protocol.EchoDifficulty(9), EccentricRatio: 0.8, TargetReps: -2})
	want := trainer.WorkoutConfig{Difficulty: protocol.Hardest, EccentricRatio: 0.8}
	assert.Equal(t, want, h.model.Config())
	assert.Equal(t, want, h.manager.WorkoutConfig())
}

func TestModel_LogTailIsBounded(t *testing.T) {
	h := newConsoleHarness(t, harnessOptions{})
	lines := make(chan string)
	model := NewModel(h.manager, testLogger(), lines, false)
	defer model.Shutdown()

	assert.Empty(t, model.GetLogTail(0))
	for i := 0; i < maxLogLines+5; i++ {
		lines <- fmt.Sprintf("line %d", i)
	}
	require.Eventually(t, func() bool {
		tail := model.GetLogTail(1)
		return len(tail) == 1 && tail[0] == fmt.Sprintf("line %d", maxLogLines+4)
	}, eventually, pollEvery)

	all := model.GetLogTail(maxLogLines * 2)
	assert.Len(t, all, maxLogLines)
	assert.Equal(t, "line 5", all[0])
	assert.Equal(t, []string{"line 1003", "line 1004"}, model.GetLogTail(2))
}

func TestModel_CloseApplication(t *testing.T) {
	h := newConsoleHarness(t, harnessOptions{})

	ch := make(chan struct{}, 1)
	unregister := h.model.ListenToCloseApplication(ch)
	defer unregister()

	h.controller.OnEscapeKey()
	select {
	case <-ch:
	default:
		t.Fatal("close request not delivered")
	}
}

func TestLogWriter_DropsWhenFull(t *testing.T) {
	w := NewLogWriter(1)

	n, err := w.Write([]byte("first\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)

	assert.Equal(t, "first\n", <-w.Lines())
	select {
	case line := <-w.Lines():
		t.Fatalf("unexpected line %q", line)
	default:
	}
}
