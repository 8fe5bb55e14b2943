// Package dml implements the DML wire codec: the fixed 8-byte outer frame
// used by every packet on the wire, and the schema-driven serialize/
// deserialize pair that turns DML messages into argument lists and back.
//
// The decode/encode style — explicit little-endian field reads over a byte
// slice, builder functions returning []byte — mirrors the teacher's
// internal/protocol/packets.go, generalized from that repo's fixed set of
// hardcoded packet shapes to this protocol's schema-driven one.
package dml

import (
	"encoding/binary"
	"fmt"

	"midaslauncher/internal/xerrors"
)

// Magic is the fixed two-byte frame marker, 0xF00D little-endian.
const Magic uint16 = 0xF00D

const frameHeaderSize = 8

// ErrControlPacket is returned by Deserialize when the frame it was given
// is a control packet (is_control == 1), which carries no DML sub-header
// and so cannot be resolved against the schema catalog. Callers expecting
// SessionOffer should parse the raw frame with ParseSessionOffer instead.
var ErrControlPacket = fmt.Errorf("dml: control packet has no schema-addressable payload")

// Frame wraps payload in the outer 8-byte header, with length = len(payload)
// — a self-consistent convention useful for round-tripping
// (unframe(frame(x)) == x) in tests. Real traffic does not use this
// convention: Serialize, SerializeControl, and Conn.Recv all agree that
// total_frame_bytes = length + 4 rather than frameHeaderSize + length, a
// quirk of the wire format this package talks. Frame/Unframe exist as a
// convenience pair for tests that don't care about that distinction; don't
// use them to build or parse real frames.
func Frame(isControl, opcode byte, payload []byte) []byte {
	out := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint16(out[0:2], Magic)
	binary.LittleEndian.PutUint16(out[2:4], uint16(len(payload)))
	out[4] = isControl
	out[5] = opcode
	binary.LittleEndian.PutUint16(out[6:8], 0)
	copy(out[frameHeaderSize:], payload)
	return out
}

// Unframe validates the magic and splits a frame into its control fields
// and payload.
func Unframe(raw []byte) (isControl, opcode byte, payload []byte, err error) {
	if len(raw) < frameHeaderSize {
		return 0, 0, nil, fmt.Errorf("dml: frame shorter than header (%d bytes): %w", len(raw), xerrors.BadFrame)
	}
	if binary.LittleEndian.Uint16(raw[0:2]) != Magic {
		return 0, 0, nil, fmt.Errorf("dml: bad magic %#x: %w", binary.LittleEndian.Uint16(raw[0:2]), xerrors.BadFrame)
	}
	length := binary.LittleEndian.Uint16(raw[2:4])
	isControl = raw[4]
	opcode = raw[5]
	if int(length) > len(raw)-frameHeaderSize {
		return 0, 0, nil, fmt.Errorf("dml: length %d exceeds available payload: %w", length, xerrors.BadFrame)
	}
	payload = raw[frameHeaderSize : frameHeaderSize+int(length)]
	return isControl, opcode, payload, nil
}
