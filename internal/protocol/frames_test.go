package protocol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoFixture(targetReps byte, eccentric byte, gainCap []byte) []byte {
	frame := []byte{
		0x4E, 0x00, 0x00, 0x00, // command id
		0x03, targetReps, 0x00, 0x00, // warmup, target, reserved
		eccentric, 0x00, 0x32, 0x00, // eccentric %, concentric 50
		0xCD, 0xCC, 0xCC, 0x3D, // smoothing 0.1
	}
	frame = append(frame, gainCap...)
	frame = append(frame,
		0x00, 0x00, 0x00, 0x00, // floor 0
		0x00, 0x00, 0xC8, 0xC2, // negative limit -100
	)
	return frame
}

func TestEncodeEchoControl_Fixtures(t *testing.T) {
	tests := []struct {
		difficulty EchoDifficulty
		gainCap    []byte
	}{
		{Hard, []byte{0x00, 0x00, 0x80, 0x3F, 0x00, 0x00, 0x48, 0x42}},
		{Harder, []byte{0x00, 0x00, 0xA0, 0x3F, 0x00, 0x00, 0x20, 0x42}},
		{Hardest, []byte{0x42, 0x60, 0xD5, 0x3F, 0x00, 0x00, 0xF0, 0x41}},
		{Epic, []byte{0xDF, 0x4F, 0x55, 0x40, 0x00, 0x00, 0x70, 0x41}},
	}

	for _, tt := range tests {
		t.Run(tt.difficulty.String(), func(t *testing.T) {
			frame, err := EncodeEchoControl(tt.difficulty, RepsUnlimited, 100)
			require.NoError(t, err)
			require.Len(t, frame, EchoFrameSize)
			assert.Equal(t, echoFixture(0xFF, 100, tt.gainCap), frame)

			decoded, err := DecodeEchoControl(frame)
			require.NoError(t, err)
			d, ok := decoded.Difficulty()
			require.True(t, ok)
			assert.Equal(t, tt.difficulty, d)
			gain, cap, _ := tt.difficulty.Params()
			assert.Equal(t, math.Float32bits(gain), math.Float32bits(decoded.Gain))
			assert.Equal(t, math.Float32bits(cap), math.Float32bits(decoded.Cap))
		})
	}
}

func TestEncodeEchoControl_TargetRepsAndClamp(t *testing.T) {
	frame, err := EncodeEchoControl(Hard, 12, 500)
	require.NoError(t, err)
	assert.Equal(t, byte(12), frame[5])
	assert.Equal(t, []byte{130, 0}, frame[8:10])
}

func TestEncodeEchoControl_InvalidDifficulty(t *testing.T) {
	_, err := EncodeEchoControl(EchoDifficulty(42), RepsUnlimited, 100)
	assert.Error(t, err)
}

func TestEccentricPercent(t *testing.T) {
	assert.Equal(t, uint16(130), EccentricPercent(1.5))
	assert.Equal(t, uint16(0), EccentricPercent(-0.2))
	assert.Equal(t, uint16(60), EccentricPercent(0.6))
	assert.Equal(t, uint16(100), EccentricPercent(1.0))
	assert.Equal(t, uint16(130), EccentricPercent(1.3))
	assert.Equal(t, uint16(0), EccentricPercent(math.NaN()))
}

func TestTargetRepsByte(t *testing.T) {
	assert.Equal(t, RepsUnlimited, TargetRepsByte(0))
	assert.Equal(t, RepsUnlimited, TargetRepsByte(-3))
	assert.Equal(t, uint8(5), TargetRepsByte(5))
	assert.Equal(t, uint8(254), TargetRepsByte(255))
	assert.Equal(t, uint8(254), TargetRepsByte(1000))
}

func TestEncodeInitAndPreset(t *testing.T) {
	assert.Equal(t, []byte{0x0A, 0x00, 0x00, 0x00}, EncodeInit())

	preset := EncodePreset()
	require.Len(t, preset, PresetFrameSize)
	assert.Equal(t, byte(0x11), preset[0])
	assert.Equal(t, []byte{0xCD, 0xCC, 0xCC, 0x3E}, preset[12:16])
	assert.Equal(t, byte(0x8C), preset[33])

	// Callers get their own copy
	preset[0] = 0
	assert.Equal(t, byte(0x11), EncodePreset()[0])
}

func TestDecodeTelemetry(t *testing.T) {
	buf := []byte{
		0x00, 0x00, 0x00, 0x00,
		0xE8, 0x03, // right position 1000
		0x00, 0x00,
		0xC4, 0x09, // right load 25.00 kg
		0xF4, 0x01, // left position 500
		0x00, 0x00,
		0x10, 0x27, // left load 100.00 kg
		0xAA, 0xBB, // trailing bytes are ignored
	}

	frame, err := DecodeTelemetry(buf)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, frame.ForceRightKg, 1e-9)
	assert.InDelta(t, 100.0, frame.ForceLeftKg, 1e-9)
	assert.Equal(t, uint16(1000), frame.PositionRightRaw)
	assert.Equal(t, uint16(500), frame.PositionLeftRaw)
}

func TestDecodeTelemetry_ShortFrame(t *testing.T) {
	_, err := DecodeTelemetry(make([]byte, 15))
	assert.ErrorIs(t, err, ErrShortFrame)

	_, err = DecodeTelemetry(nil)
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestEncodeTelemetry_MatchesDecoder(t *testing.T) {
	in := TelemetryFrame{ForceLeftKg: 12.34, ForceRightKg: 5.5, PositionLeftRaw: 1234, PositionRightRaw: 60000}
	frame, err := DecodeTelemetry(EncodeTelemetry(in))
	require.NoError(t, err)
	assert.InDelta(t, in.ForceLeftKg, frame.ForceLeftKg, 1e-9)
	assert.InDelta(t, in.ForceRightKg, frame.ForceRightKg, 1e-9)
	assert.Equal(t, in.PositionLeftRaw, frame.PositionLeftRaw)
	assert.Equal(t, in.PositionRightRaw, frame.PositionRightRaw)
}

func TestParseDifficulty(t *testing.T) {
	d, err := ParseDifficulty("hardest")
	require.NoError(t, err)
	assert.Equal(t, Hardest, d)

	_, err = ParseDifficulty("medium")
	assert.Error(t, err)

	var fromText EchoDifficulty
	require.NoError(t, fromText.UnmarshalText([]byte("EPIC")))
	assert.Equal(t, Epic, fromText)
	text, err := Harder.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "HARDER", string(text))
}

func TestDescribeFrame(t *testing.T) {
	assert.Equal(t, "INIT", DescribeFrame(EncodeInit()))
	assert.Equal(t, "PRESET", DescribeFrame(EncodePreset()))

	echo, err := EncodeEchoControl(Epic, 8, 75)
	require.NoError(t, err)
	assert.Equal(t, "ECHO difficulty=EPIC reps=8 eccentric=75%", DescribeFrame(echo))

	assert.Contains(t, DescribeFrame([]byte{0x01, 0x02}), "UNKNOWN")
}

func TestDataStreamRegistry(t *testing.T) {
	s, ok := GetStreamByID(StreamMonitor)
	require.True(t, ok)
	assert.Equal(t, CharUUIDMonitor, s.CharacteristicUUID)
	assert.Equal(t, ModeRead, s.Mode)

	s, ok = GetStreamByCharacteristic(ServiceUUIDNordicUART, CharUUIDRepNotify)
	require.True(t, ok)
	assert.Equal(t, StreamRepNotify, s.ID)

	_, ok = GetStreamByID("missing")
	assert.False(t, ok)
}
