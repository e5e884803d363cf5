package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/lowaak/cable-trainer/internal/trainer"
)

func formatPeer(p PeerModel) string {
	name := p.Name
	if name == "" {
		name = "Unknown"
	}
	text := fmt.Sprintf("%s (%s) [RSSI: %d]", name, p.Address, p.RSSI)
	if p.Connected {
		text += " [green]connected[white]"
	}
	return text
}

func formatTelemetry(state trainer.MachineState, ok bool) string {
	if !ok {
		return "\n  [gray]Waiting for telemetry...[white]\n"
	}
	var b strings.Builder
	b.WriteString("\n")
	fmt.Fprintf(&b, "  [gray]Left:[white]  [yellow]%5.1f[white] kg  %s\n", state.ForceLeftKg, positionBar(state.PositionLeft))
	fmt.Fprintf(&b, "  [gray]Right:[white] [yellow]%5.1f[white] kg  %s\n", state.ForceRightKg, positionBar(state.PositionRight))
	fmt.Fprintf(&b, "\n  [gray]Total:[white] [yellow]%.1f[white] kg\n", state.TotalForceKg())
	return b.String()
}

const positionBarWidth = 20

// positionBar renders a normalized position as a fixed width gauge.
func positionBar(position float64) string {
	filled := int(position*positionBarWidth + 0.5)
	filled = min(max(filled, 0), positionBarWidth)
	return "|" + strings.Repeat("#", filled) + strings.Repeat(".", positionBarWidth-filled) + fmt.Sprintf("| %3.0f%%", position*100)
}

func formatConfig(cfg trainer.WorkoutConfig, autoStart bool) string {
	reps := "unlimited"
	if cfg.TargetReps > 0 {
		reps = fmt.Sprintf("%d", cfg.TargetReps)
	}
	stopAt := "bottom"
	if cfg.StopOnTopRep {
		stopAt = "top"
	}
	auto := "[gray]off[white]"
	if autoStart {
		auto = "[green]on[white]"
	}
	var b strings.Builder
	b.WriteString("\n")
	fmt.Fprintf(&b, "  [gray]Difficulty:[white] [yellow]%s[white]  ([yellow]h[white]/[yellow]H[white])\n", cfg.Difficulty)
	fmt.Fprintf(&b, "  [gray]Eccentric:[white]  [yellow]%.0f%%[white]  ([yellow]e[white]/[yellow]E[white])\n", cfg.EccentricRatio*100)
	fmt.Fprintf(&b, "  [gray]Reps:[white]       [yellow]%s[white]  ([yellow]-[white]/[yellow]+[white])\n", reps)
	fmt.Fprintf(&b, "  [gray]Stop at:[white]    [yellow]%s[white]  ([yellow]t[white])\n", stopAt)
	fmt.Fprintf(&b, "  [gray]Auto start:[white] %s\n", auto)
	return b.String()
}

func formatWorkout(state trainer.WorkoutState, countdown trainer.Countdown) string {
	active, ok := state.(trainer.ActiveWorkout)
	if !ok {
		text := "\n  [gray]No workout[white]\n\n"
		if countdown.Active {
			text += fmt.Sprintf("  [green]Starting in %d...[white]\n\n", countdown.Seconds)
		}
		text += "  [yellow]Space[white] Start  |  lift both handles and hold still to auto start\n"
		return text
	}

	cfg := active.Config
	var b strings.Builder
	b.WriteString("\n")
	fmt.Fprintf(&b, "  [yellow]%s[white]  [gray]%s[white]\n\n", cfg.Difficulty, active.Phase)
	fmt.Fprintf(&b, "  [gray]Elapsed:[white]     %s\n", formatDurationMMSS(active.Elapsed))
	if active.Phase == trainer.PhaseCalibrating {
		fmt.Fprintf(&b, "  [gray]Calibration:[white] %d/%d\n", active.CalibrationRepsCompleted, trainer.CalibrationReps)
	}
	fmt.Fprintf(&b, "  [gray]Reps:[white]        [yellow]%d[white] up / [yellow]%d[white] down\n", active.UpwardReps, active.DownwardReps)
	if remaining := active.RemainingReps(); remaining >= 0 {
		fmt.Fprintf(&b, "  [gray]Remaining:[white]   %d\n", remaining)
	}

	forces := active.Forces
	if forces.UpwardCount > 0 || forces.DownwardCount > 0 {
		b.WriteString("\n  [gray]Peak force (avg / max):[white]\n")
		fmt.Fprintf(&b, "    up    %5.1f / %5.1f kg\n", forces.AverageUpward, forces.MaxUpward)
		fmt.Fprintf(&b, "    down  %5.1f / %5.1f kg\n", forces.AverageDownward, forces.MaxDownward)
	}

	if active.AutoStopCountdown.Active {
		fmt.Fprintf(&b, "\n  [red]Stopping in %d...[white]\n", active.AutoStopCountdown.Seconds)
	}
	b.WriteString("\n  [yellow]Space[white]/[yellow]X[white] Stop\n")
	return b.String()
}

func formatDurationMMSS(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", totalSeconds/60, totalSeconds%60)
}
