package dml

import (
	"encoding/binary"
	"fmt"

	"midaslauncher/internal/xerrors"
)

// SessionOffer is the one control packet (opcode 0) this client parses in
// full. The server sends it as the first message on every connection.
type SessionOffer struct {
	Sid        uint16
	TimeHigh   int32
	TimeLow    int32
	TimeMilli  uint32
	Length     uint32
	Data       []byte
	NullTerm   byte
}

// ParseSessionOffer decodes a raw SessionOffer packet. Note the data slice
// is bounded by the overall packet length, not by the Length field — this
// mirrors the original parser exactly (SessionOffer::new in
// packet_helper/mod.rs), which reads Length as a value but never uses it to
// size the data slice.
func ParseSessionOffer(raw []byte) (*SessionOffer, error) {
	const fixedFields = 2 + 2 + 1 + 1 + 2 + 2 + 4 + 4 + 4 + 4 // through the `length` field
	if len(raw) < fixedFields+1 {
		return nil, fmt.Errorf("dml: session offer too short (%d bytes): %w", len(raw), xerrors.BadFrame)
	}
	if binary.LittleEndian.Uint16(raw[0:2]) != Magic {
		return nil, fmt.Errorf("dml: session offer bad magic: %w", xerrors.BadFrame)
	}

	o := &SessionOffer{
		Sid:       binary.LittleEndian.Uint16(raw[8:10]),
		TimeHigh:  int32(binary.LittleEndian.Uint32(raw[10:14])),
		TimeLow:   int32(binary.LittleEndian.Uint32(raw[14:18])),
		TimeMilli: binary.LittleEndian.Uint32(raw[18:22]),
		Length:    binary.LittleEndian.Uint32(raw[22:26]),
	}
	o.Data = append([]byte(nil), raw[fixedFields:len(raw)-1]...)
	o.NullTerm = raw[len(raw)-1]
	return o, nil
}
