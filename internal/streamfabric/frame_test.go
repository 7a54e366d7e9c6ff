package streamfabric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellFrame_EncodeDecodeRoundTrip(t *testing.T) {
	frame := encodeShellFrame(frameShellOutput, "sess-1", []byte("hello world"))

	gotType, sessionID, payload, err := decodeShellFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, frameShellOutput, gotType)
	assert.Equal(t, "sess-1", sessionID)
	assert.Equal(t, []byte("hello world"), payload)
}

func TestShellFrame_EmptyPayloadRoundTrips(t *testing.T) {
	frame := encodeShellFrame(frameShellInput, "s", nil)

	gotType, sessionID, payload, err := decodeShellFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, frameShellInput, gotType)
	assert.Equal(t, "s", sessionID)
	assert.Empty(t, payload)
}

func TestShellFrame_DecodeTruncatedHeaderErrors(t *testing.T) {
	_, _, _, err := decodeShellFrame([]byte{1})
	assert.ErrorIs(t, err, errShortFrame)
}

func TestShellFrame_DecodeTruncatedSessionIDErrors(t *testing.T) {
	// Claims a 10-byte session id but supplies none.
	_, _, _, err := decodeShellFrame([]byte{byte(frameShellInput), 10})
	assert.ErrorIs(t, err, errShortFrame)
}

func TestShellFrame_DecodeTruncatedPayloadErrors(t *testing.T) {
	frame := encodeShellFrame(frameShellOutput, "sess-1", []byte("hello world"))
	truncated := frame[:len(frame)-3]

	_, _, _, err := decodeShellFrame(truncated)
	assert.ErrorIs(t, err, errShortFrame)
}
