package console

import (
	"testing"
	"time"

	"github.com/lowaak/cable-trainer/internal/protocol"
	"github.com/lowaak/cable-trainer/internal/trainer"
	"github.com/stretchr/testify/assert"
)

func TestFormatPeer(t *testing.T) {
	assert.Equal(t, "Vee 7A21 (AA:BB) [RSSI: -55]", formatPeer(PeerModel{Name: "Vee 7A21", Address: "AA:BB", RSSI: -55}))
	assert.Equal(t, "Unknown (AA:BB) [RSSI: 0] [green]connected[white]", formatPeer(PeerModel{Address: "AA:BB", Connected: true}))
}

func TestPositionBar(t *testing.T) {
	assert.Equal(t, "|....................|   0%", positionBar(0))
	assert.Equal(t, "|##########..........|  50%", positionBar(0.5))
	assert.Equal(t, "|####################| 100%", positionBar(1))
	assert.Equal(t, "|....................|", positionBar(-0.2)[:22])
}

func TestFormatTelemetry(t *testing.T) {
	assert.Contains(t, formatTelemetry(trainer.MachineState{}, false), "Waiting for telemetry")

	text := formatTelemetry(trainer.MachineState{ForceLeftKg: 12.5, ForceRightKg: 7.5, PositionLeft: 0.25, PositionRight: 1}, true)
	assert.Contains(t, text, " 12.5[white] kg  |#####...............|  25%")
	assert.Contains(t, text, "  7.5[white] kg  |####################| 100%")
	assert.Contains(t, text, "[yellow]20.0[white] kg")
}

func TestFormatConfig(t *testing.T) {
	text := formatConfig(trainer.WorkoutConfig{Difficulty: protocol.Epic, EccentricRatio: 1.1, TargetReps: 0}, true)
	assert.Contains(t, text, "[yellow]EPIC[white]")
	assert.Contains(t, text, "[yellow]110%[white]")
	assert.Contains(t, text, "[yellow]unlimited[white]")
	assert.Contains(t, text, "[yellow]bottom[white]")
	assert.Contains(t, text, "[green]on[white]")

	text = formatConfig(trainer.WorkoutConfig{Difficulty: protocol.Hard, EccentricRatio: 0.9, TargetReps: 10, StopOnTopRep: true}, false)
	assert.Contains(t, text, "[yellow]10[white]")
	assert.Contains(t, text, "[yellow]top[white]")
	assert.Contains(t, text, "[gray]off[white]")
}

func TestFormatWorkout_NoWorkout(t *testing.T) {
	text := formatWorkout(trainer.NoWorkout{}, trainer.Countdown{})
	assert.Contains(t, text, "No workout")
	assert.NotContains(t, text, "Starting in")

	text = formatWorkout(trainer.NoWorkout{}, trainer.Countdown{Seconds: 2, Active: true})
	assert.Contains(t, text, "Starting in 2...")
}

func TestFormatWorkout_Calibrating(t *testing.T) {
	text := formatWorkout(trainer.ActiveWorkout{
		Config:                   trainer.WorkoutConfig{Difficulty: protocol.Hardest, TargetReps: 8},
		Elapsed:                  75 * time.Second,
		Phase:                    trainer.PhaseCalibrating,
		CalibrationRepsCompleted: 2,
	}, trainer.Countdown{})

	assert.Contains(t, text, "[yellow]HARDEST[white]  [gray]Calibrating[white]")
	assert.Contains(t, text, "01:15")
	assert.Contains(t, text, "Calibration:[white] 2/3")
	assert.Contains(t, text, "Remaining:[white]   8")
	assert.NotContains(t, text, "Peak force")
}

func TestFormatWorkout_Counting(t *testing.T) {
	text := formatWorkout(trainer.ActiveWorkout{
		Config:            trainer.WorkoutConfig{Difficulty: protocol.Hard},
		Phase:             trainer.PhaseCounting,
		UpwardReps:        4,
		DownwardReps:      3,
		AutoStopCountdown: trainer.Countdown{Seconds: 3, Active: true},
		Forces:            trainer.ForceStats{UpwardCount: 4, AverageUpward: 40, MaxUpward: 45.5, DownwardCount: 3, AverageDownward: 30, MaxDownward: 33},
	}, trainer.Countdown{Seconds: 1, Active: true})

	assert.Contains(t, text, "[yellow]4[white] up / [yellow]3[white] down")
	assert.NotContains(t, text, "Remaining", "unlimited workouts have no remaining count")
	assert.NotContains(t, text, "Calibration")
	assert.Contains(t, text, "up     40.0 /  45.5 kg")
	assert.Contains(t, text, "down   30.0 /  33.0 kg")
	assert.Contains(t, text, "Stopping in 3...")
	assert.NotContains(t, text, "Starting in", "the auto-start countdown only shows without a workout")
}

func TestFormatDurationMMSS(t *testing.T) {
	assert.Equal(t, "00:00", formatDurationMMSS(0))
	assert.Equal(t, "02:05", formatDurationMMSS(125*time.Second+900*time.Millisecond))
	assert.Equal(t, "61:01", formatDurationMMSS(61*time.Minute+time.Second))
}
