package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Control frame command IDs
const (
	CommandInit   byte   = 0x0A
	CommandPreset byte   = 0x11
	CommandEcho   uint32 = 0x4E
)

// Frame sizes in bytes
const (
	InitFrameSize      = 4
	PresetFrameSize    = 34
	EchoFrameSize      = 32
	TelemetryFrameSize = 16
)

// Echo frame constants
const (
	EchoWarmupReps        uint8   = 3
	EchoConcentricPercent uint16  = 50
	EchoSmoothing         float32 = 0.1
	EchoFloor             float32 = 0.0
	EchoNegativeLimit     float32 = -100.0

	// RepsUnlimited is the target reps value for "just lift" with no rep limit.
	RepsUnlimited uint8 = 0xFF
	// MaxTargetReps is the largest encodable rep target.
	MaxTargetReps = 254

	MaxEccentricRatio   = 1.3
	MaxEccentricPercent = 130
)

// ErrShortFrame is returned when a telemetry buffer is too short to decode.
var ErrShortFrame = errors.New("telemetry frame too short")

// EchoDifficulty selects the gain and cap of the echo control loop.
type EchoDifficulty int

const (
	Hard EchoDifficulty = iota
	Harder
	Hardest
	Epic
)

// AllDifficulties lists the difficulties from easiest to hardest.
var AllDifficulties = []EchoDifficulty{Hard, Harder, Hardest, Epic}

type echoParams struct {
	gain float32
	cap  float32
}

var echoParamsByDifficulty = map[EchoDifficulty]echoParams{
	Hard:    {gain: 1.0, cap: 50.0},
	Harder:  {gain: 1.25, cap: 40.0},
	Hardest: {gain: 1.667, cap: 30.0},
	Epic:    {gain: 3.333, cap: 15.0},
}

func (d EchoDifficulty) String() string {
	switch d {
	case Hard:
		return "HARD"
	case Harder:
		return "HARDER"
	case Hardest:
		return "HARDEST"
	case Epic:
		return "EPIC"
	default:
		return fmt.Sprintf("EchoDifficulty(%d)", int(d))
	}
}

// Params returns the gain and cap written into the echo frame.
func (d EchoDifficulty) Params() (gain float32, cap float32, ok bool) {
	p, ok := echoParamsByDifficulty[d]
	return p.gain, p.cap, ok
}

// ParseDifficulty parses a difficulty name, case insensitive.
func ParseDifficulty(s string) (EchoDifficulty, error) {
	for _, d := range AllDifficulties {
		if strings.EqualFold(strings.TrimSpace(s), d.String()) {
			return d, nil
		}
	}
	return Hard, fmt.Errorf("unknown echo difficulty %q", s)
}

// MarshalText implements encoding.TextMarshaler so difficulties read well in
// YAML preference files.
func (d EchoDifficulty) MarshalText() ([]byte, error) {
	if _, ok := echoParamsByDifficulty[d]; !ok {
		return nil, fmt.Errorf("invalid echo difficulty %d", int(d))
	}
	return []byte(d.String()), nil
}

func (d *EchoDifficulty) UnmarshalText(text []byte) error {
	parsed, err := ParseDifficulty(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// EncodeInit builds the init command. The same frame stops an active echo loop.
func EncodeInit() []byte {
	return []byte{CommandInit, 0x00, 0x00, 0x00}
}

// EncodePreset builds the preset frame sent after init to cut start latency.
func EncodePreset() []byte {
	return []byte{
		CommandPreset, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0xCD, 0xCC, 0xCC, 0x3E, // 0.4f
		0xFF, 0x00, 0x4C, 0xFF, 0x23, 0x8C, 0xFF, 0x8C, 0x8C, 0xFF,
		0x00, 0x4C, 0xFF, 0x23, 0x8C, 0xFF, 0x8C, 0x8C,
	}
}

// EncodeEchoControl builds the 32 byte echo control frame. targetReps is
// RepsUnlimited for no limit. eccentricPercent is clamped to 0..130.
//
// Layout (little endian):
//
//	0x00 u32 command id
//	0x04 u8  warmup reps
//	0x05 u8  target reps
//	0x06 u16 reserved
//	0x08 u16 eccentric %
//	0x0A u16 concentric %
//	0x0C f32 smoothing
//	0x10 f32 gain
//	0x14 f32 cap
//	0x18 f32 floor
//	0x1C f32 negative limit
func EncodeEchoControl(difficulty EchoDifficulty, targetReps uint8, eccentricPercent uint16) ([]byte, error) {
	gain, cap, ok := difficulty.Params()
	if !ok {
		return nil, fmt.Errorf("invalid echo difficulty %d", int(difficulty))
	}
	if eccentricPercent > MaxEccentricPercent {
		eccentricPercent = MaxEccentricPercent
	}

	buf := make([]byte, EchoFrameSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0x00:], CommandEcho)
	buf[0x04] = EchoWarmupReps
	buf[0x05] = targetReps
	le.PutUint16(buf[0x06:], 0)
	le.PutUint16(buf[0x08:], eccentricPercent)
	le.PutUint16(buf[0x0A:], EchoConcentricPercent)
	le.PutUint32(buf[0x0C:], math.Float32bits(EchoSmoothing))
	le.PutUint32(buf[0x10:], math.Float32bits(gain))
	le.PutUint32(buf[0x14:], math.Float32bits(cap))
	le.PutUint32(buf[0x18:], math.Float32bits(EchoFloor))
	le.PutUint32(buf[0x1C:], math.Float32bits(EchoNegativeLimit))
	return buf, nil
}

// EccentricPercent converts an eccentric ratio to the frame's percent field.
// The ratio is clamped to [0, 1.3]; NaN maps to 0.
func EccentricPercent(ratio float64) uint16 {
	if math.IsNaN(ratio) || ratio < 0 {
		ratio = 0
	}
	if ratio > MaxEccentricRatio {
		ratio = MaxEccentricRatio
	}
	pct := int(math.Round(ratio * 100))
	if pct < 0 {
		pct = 0
	}
	if pct > MaxEccentricPercent {
		pct = MaxEccentricPercent
	}
	return uint16(pct)
}

// TargetRepsByte converts a rep target to the frame field. 0 or less means
// unlimited, targets above MaxTargetReps are clamped.
func TargetRepsByte(targetReps int) uint8 {
	if targetReps <= 0 {
		return RepsUnlimited
	}
	if targetReps > MaxTargetReps {
		return MaxTargetReps
	}
	return uint8(targetReps)
}

// TelemetryFrame is a decoded monitor characteristic read.
type TelemetryFrame struct {
	ForceLeftKg      float64
	ForceRightKg     float64
	PositionLeftRaw  uint16
	PositionRightRaw uint16
}

// Monitor frame offsets. The right cable is reported at the lower offsets.
const (
	offsetPositionRight = 4
	offsetLoadRight     = 8
	offsetPositionLeft  = 10
	offsetLoadLeft      = 14
)

// DecodeTelemetry decodes a monitor characteristic read.
func DecodeTelemetry(buf []byte) (TelemetryFrame, error) {
	if len(buf) < TelemetryFrameSize {
		return TelemetryFrame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(buf))
	}
	le := binary.LittleEndian
	return TelemetryFrame{
		ForceRightKg:     float64(le.Uint16(buf[offsetLoadRight:])) / 100.0,
		ForceLeftKg:      float64(le.Uint16(buf[offsetLoadLeft:])) / 100.0,
		PositionRightRaw: le.Uint16(buf[offsetPositionRight:]),
		PositionLeftRaw:  le.Uint16(buf[offsetPositionLeft:]),
	}, nil
}

// EncodeTelemetry builds a monitor frame. Used by the simulator.
func EncodeTelemetry(frame TelemetryFrame) []byte {
	buf := make([]byte, TelemetryFrameSize)
	le := binary.LittleEndian
	le.PutUint16(buf[offsetPositionRight:], frame.PositionRightRaw)
	le.PutUint16(buf[offsetLoadRight:], kgToCentiKg(frame.ForceRightKg))
	le.PutUint16(buf[offsetPositionLeft:], frame.PositionLeftRaw)
	le.PutUint16(buf[offsetLoadLeft:], kgToCentiKg(frame.ForceLeftKg))
	return buf
}

func kgToCentiKg(kg float64) uint16 {
	v := math.Round(kg * 100)
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

// EchoFrame is the decoded form of an echo control frame.
type EchoFrame struct {
	WarmupReps       uint8
	TargetReps       uint8
	EccentricPercent uint16
	Gain             float32
	Cap              float32
}

// DecodeEchoControl parses an echo control frame. Used by the simulator to
// describe written frames.
func DecodeEchoControl(buf []byte) (EchoFrame, error) {
	if len(buf) != EchoFrameSize {
		return EchoFrame{}, fmt.Errorf("echo frame must be %d bytes, got %d", EchoFrameSize, len(buf))
	}
	le := binary.LittleEndian
	if id := le.Uint32(buf); id != CommandEcho {
		return EchoFrame{}, fmt.Errorf("not an echo frame: command 0x%02X", id)
	}
	return EchoFrame{
		WarmupReps:       buf[0x04],
		TargetReps:       buf[0x05],
		EccentricPercent: le.Uint16(buf[0x08:]),
		Gain:             math.Float32frombits(le.Uint32(buf[0x10:])),
		Cap:              math.Float32frombits(le.Uint32(buf[0x14:])),
	}, nil
}

// Difficulty returns the difficulty whose gain and cap match the frame.
func (f EchoFrame) Difficulty() (EchoDifficulty, bool) {
	for _, d := range AllDifficulties {
		gain, cap, _ := d.Params()
		if gain == f.Gain && cap == f.Cap {
			return d, true
		}
	}
	return Hard, false
}

// DescribeFrame returns a short human readable description of a control frame.
func DescribeFrame(buf []byte) string {
	switch {
	case len(buf) == InitFrameSize && buf[0] == CommandInit:
		return "INIT"
	case len(buf) == PresetFrameSize && buf[0] == CommandPreset:
		return "PRESET"
	case len(buf) == EchoFrameSize:
		echo, err := DecodeEchoControl(buf)
		if err != nil {
			break
		}
		difficulty := "?"
		if d, ok := echo.Difficulty(); ok {
			difficulty = d.String()
		}
		reps := "unlimited"
		if echo.TargetReps != RepsUnlimited {
			reps = fmt.Sprintf("%d", echo.TargetReps)
		}
		return fmt.Sprintf("ECHO difficulty=%s reps=%s eccentric=%d%%", difficulty, reps, echo.EccentricPercent)
	}
	return fmt.Sprintf("UNKNOWN % X", buf)
}
