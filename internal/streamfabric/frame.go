package streamfabric

import (
	"encoding/binary"
	"errors"
)

// Binary shell frames carry raw, uninterpreted bytes (spec.md §4.6: "stdin
// frames may be binary... the fabric must not interpret bytes"). Wire
// shape: [1 byte frameType][1 byte session_id length][session_id bytes]
// [4 bytes big-endian payload length][payload bytes].
type frameType byte

const (
	frameShellInput  frameType = 1
	frameShellOutput frameType = 2
)

var errShortFrame = errors.New("streamfabric: truncated shell frame")

func encodeShellFrame(t frameType, sessionID string, payload []byte) []byte {
	out := make([]byte, 0, 2+len(sessionID)+4+len(payload))
	out = append(out, byte(t), byte(len(sessionID)))
	out = append(out, sessionID...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	out = append(out, lenBuf[:]...)
	out = append(out, payload...)
	return out
}

func decodeShellFrame(raw []byte) (t frameType, sessionID string, payload []byte, err error) {
	if len(raw) < 2 {
		return 0, "", nil, errShortFrame
	}
	t = frameType(raw[0])
	idLen := int(raw[1])
	raw = raw[2:]
	if len(raw) < idLen+4 {
		return 0, "", nil, errShortFrame
	}
	sessionID = string(raw[:idLen])
	raw = raw[idLen:]
	n := binary.BigEndian.Uint32(raw[:4])
	raw = raw[4:]
	if uint32(len(raw)) < n {
		return 0, "", nil, errShortFrame
	}
	return t, sessionID, raw[:n], nil
}
