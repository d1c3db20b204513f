package frame_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VaXeS13/MP-sub001/internal/terminal/frame"
)

func TestBuildParseRoundTrip(t *testing.T) {
	raw := frame.Build("T1", frame.PadAmount(10000), frame.PadCurrency(985), frame.PadRef("ORDER-42"))

	require.Equal(t, frame.STX, raw[0])
	require.Equal(t, frame.ETX, raw[len(raw)-2])

	parsed, err := frame.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "T1", parsed.Type)
	require.Equal(t, "000000010000"+"985"+"ORDER-42            ", parsed.Payload)
}

func TestParseRejectsMalformedFrames(t *testing.T) {
	good := frame.Build("A0", "00")

	tests := map[string][]byte{
		"too short":   {frame.STX, 'A', frame.ETX},
		"missing STX": append([]byte{'x'}, good[1:]...),
		"missing ETX": func() []byte {
			b := append([]byte(nil), good...)
			b[len(b)-2] = 'x'
			return b
		}(),
		"bad LRC": func() []byte {
			b := append([]byte(nil), good...)
			b[len(b)-1] ^= 0xFF
			return b
		}(),
	}

	for name, raw := range tests {
		_, err := frame.Parse(raw)
		require.ErrorIs(t, err, frame.ErrMalformed, name)
	}
}

func TestLRCIsXOROfAllBytes(t *testing.T) {
	require.Equal(t, byte(0x00), frame.LRC([]byte{0xAA, 0xAA}))
	require.Equal(t, byte(0x03), frame.LRC([]byte{0x01, 0x02}))
}

func TestPadAmount(t *testing.T) {
	require.Equal(t, "000000010000", frame.PadAmount(10000))
	require.Equal(t, "000000000000", frame.PadAmount(0))
}

func TestPadRefTruncatesLongReferences(t *testing.T) {
	ref := frame.PadRef("THIS-REFERENCE-IS-LONGER-THAN-THE-FIELD")
	require.Len(t, ref, frame.RefWidth)
}

func TestParseAmount(t *testing.T) {
	v, err := frame.ParseAmount("000000010000")
	require.NoError(t, err)
	require.Equal(t, int64(10000), v)

	v, err = frame.ParseAmount("000000000000")
	require.NoError(t, err)
	require.Zero(t, v)

	_, err = frame.ParseAmount("00000001000x")
	require.ErrorIs(t, err, frame.ErrMalformed)
}

func TestDeclineReason(t *testing.T) {
	require.Equal(t, "Insufficient funds", frame.DeclineReason("51"))
	require.Equal(t, "Expired card", frame.DeclineReason("54"))
	require.Equal(t, "Incorrect PIN", frame.DeclineReason("55"))
	require.Equal(t, "Transaction declined", frame.DeclineReason("99"))
}
