package dml

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"

	"midaslauncher/internal/schema"
	"midaslauncher/internal/xerrors"
)

// Arg is a tagged union over TypeSet, built by one of the constructor
// functions below (Ubyt, Byt, Ushrt, ...). It is the argument
// representation Serialize consumes and Deserialize produces.
type Arg struct {
	typename string
	u64      uint64
	f32      float32
	str      string
	raw      []byte
	isRaw    bool
}

func Ubyt(v uint8) Arg  { return Arg{typename: "UBYT", u64: uint64(v)} }
func Byt(v int8) Arg    { return Arg{typename: "BYT", u64: uint64(uint8(v))} }
func Ushrt(v uint16) Arg { return Arg{typename: "USHRT", u64: uint64(v)} }
func Shrt(v int16) Arg  { return Arg{typename: "SHRT", u64: uint64(uint16(v))} }
func Uint(v uint32) Arg { return Arg{typename: "UINT", u64: uint64(v)} }
func Int(v int32) Arg   { return Arg{typename: "INT", u64: uint64(uint32(v))} }
func Flt(v float32) Arg { return Arg{typename: "FLT", f32: v} }
func Gid(v int64) Arg   { return Arg{typename: "GID", u64: uint64(v)} }
func Str(v string) Arg  { return Arg{typename: "STR", str: v} }
func WStr(v string) Arg { return Arg{typename: "WSTR", str: v} }

// RawStr encodes raw bytes with the STR wire shape (u16 length + bytes),
// for arguments that are not valid UTF-8 — namely the encrypted Rec1 blob.
func RawStr(v []byte) Arg { return Arg{typename: "STR", raw: v, isRaw: true} }

// Uint8, Int8, ... extract a decoded Arg's value. Callers know the field's
// typename from the schema, so they call the matching accessor.
func (a Arg) Uint8() uint8   { return uint8(a.u64) }
func (a Arg) Int8() int8    { return int8(uint8(a.u64)) }
func (a Arg) Uint16() uint16 { return uint16(a.u64) }
func (a Arg) Int16() int16  { return int16(uint16(a.u64)) }
func (a Arg) Uint32() uint32 { return uint32(a.u64) }
func (a Arg) Int32() int32  { return int32(uint32(a.u64)) }
func (a Arg) Float32() float32 { return a.f32 }
func (a Arg) Int64() int64  { return int64(a.u64) }
func (a Arg) String() string { return a.str }
func (a Arg) Bytes() []byte  { return a.raw }

func encodeArg(buf []byte, a Arg) ([]byte, error) {
	switch a.typename {
	case "UBYT":
		return append(buf, uint8(a.u64)), nil
	case "BYT":
		return append(buf, uint8(a.u64)), nil
	case "USHRT":
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(a.u64))
		return append(buf, b[:]...), nil
	case "SHRT":
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(a.u64))
		return append(buf, b[:]...), nil
	case "UINT":
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(a.u64))
		return append(buf, b[:]...), nil
	case "INT":
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(a.u64))
		return append(buf, b[:]...), nil
	case "FLT":
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(a.f32))
		return append(buf, b[:]...), nil
	case "GID":
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], a.u64)
		return append(buf, b[:]...), nil
	case "STR":
		var raw []byte
		if a.isRaw {
			raw = a.raw
		} else {
			raw = []byte(a.str)
		}
		var lb [2]byte
		binary.LittleEndian.PutUint16(lb[:], uint16(len(raw)))
		buf = append(buf, lb[:]...)
		return append(buf, raw...), nil
	case "WSTR":
		units := utf16.Encode([]rune(a.str))
		var lb [2]byte
		binary.LittleEndian.PutUint16(lb[:], uint16(len(units)))
		buf = append(buf, lb[:]...)
		for _, u := range units {
			var ub [2]byte
			binary.LittleEndian.PutUint16(ub[:], u)
			buf = append(buf, ub[:]...)
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("dml: encode %s: %w", a.typename, xerrors.UnsupportedType)
	}
}

// decodeArg reads one field's value starting at data[pos], returning the
// decoded Arg and the new position. stringAsBytes controls whether STR
// fields decode to a raw-bytes Arg (for Rec1, which isn't valid UTF-8) or a
// string Arg.
func decodeArg(data []byte, pos int, typename string, stringAsBytes bool) (Arg, int, error) {
	need := func(n int) error {
		if pos+n > len(data) {
			return fmt.Errorf("dml: field %s needs %d bytes at offset %d, have %d", typename, n, pos, len(data)-pos)
		}
		return nil
	}

	switch typename {
	case "UBYT":
		if err := need(1); err != nil {
			return Arg{}, 0, err
		}
		return Ubyt(data[pos]), pos + 1, nil
	case "BYT":
		if err := need(1); err != nil {
			return Arg{}, 0, err
		}
		return Byt(int8(data[pos])), pos + 1, nil
	case "USHRT":
		if err := need(2); err != nil {
			return Arg{}, 0, err
		}
		return Ushrt(binary.LittleEndian.Uint16(data[pos : pos+2])), pos + 2, nil
	case "SHRT":
		if err := need(2); err != nil {
			return Arg{}, 0, err
		}
		return Shrt(int16(binary.LittleEndian.Uint16(data[pos : pos+2]))), pos + 2, nil
	case "UINT":
		if err := need(4); err != nil {
			return Arg{}, 0, err
		}
		return Uint(binary.LittleEndian.Uint32(data[pos : pos+4])), pos + 4, nil
	case "INT":
		if err := need(4); err != nil {
			return Arg{}, 0, err
		}
		return Int(int32(binary.LittleEndian.Uint32(data[pos : pos+4]))), pos + 4, nil
	case "FLT":
		if err := need(4); err != nil {
			return Arg{}, 0, err
		}
		return Flt(math.Float32frombits(binary.LittleEndian.Uint32(data[pos : pos+4]))), pos + 4, nil
	case "GID":
		if err := need(8); err != nil {
			return Arg{}, 0, err
		}
		return Gid(int64(binary.LittleEndian.Uint64(data[pos : pos+8]))), pos + 8, nil
	case "STR":
		if err := need(2); err != nil {
			return Arg{}, 0, err
		}
		strLen := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if err := need(strLen); err != nil {
			return Arg{}, 0, err
		}
		raw := data[pos : pos+strLen]
		pos += strLen
		if stringAsBytes {
			return RawStr(append([]byte(nil), raw...)), pos, nil
		}
		return Str(string(raw)), pos, nil
	case "WSTR":
		if err := need(2); err != nil {
			return Arg{}, 0, err
		}
		units := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if err := need(units * 2); err != nil {
			return Arg{}, 0, err
		}
		u16s := make([]uint16, units)
		for i := 0; i < units; i++ {
			u16s[i] = binary.LittleEndian.Uint16(data[pos+i*2 : pos+i*2+2])
		}
		pos += units * 2
		return WStr(string(utf16.Decode(u16s))), pos, nil
	default:
		return Arg{}, 0, fmt.Errorf("dml: decode %s: %w", typename, xerrors.UnsupportedType)
	}
}

// Message is a decoded DML message: its name plus its arguments, keyed by
// field name in declaration order.
type Message struct {
	Name string
	Args map[string]Arg
	// Order preserves the declaration order of Args' keys, since Go maps
	// don't.
	Order []string
}

// Get returns the named argument.
func (m *Message) Get(name string) (Arg, bool) {
	a, ok := m.Args[name]
	return a, ok
}

// Serialize builds an on-wire DML frame for a named message. The outer
// length field intentionally does not equal the literal byte count of the
// frame: it reproduces the original encoder's `8 + len(payload)` value,
// which omits the 4-byte DML sub-header's own length from the count. This
// is a known quirk of the reference encoder, not a bug introduced here —
// servers built against the same reference decode it the same (wrong) way.
func Serialize(cat *schema.Catalog, name string, args []Arg) ([]byte, error) {
	svc, ok := cat.ServiceForMessage(name)
	if !ok {
		return nil, fmt.Errorf("dml: message %q: %w", name, xerrors.UnknownMessage)
	}
	idx, _, ok := svc.MessageIndex(name)
	if !ok {
		return nil, fmt.Errorf("dml: message %q not found in service %d: %w", name, svc.ID, xerrors.UnknownMessage)
	}

	var data []byte
	for _, a := range args {
		var err error
		data, err = encodeArg(data, a)
		if err != nil {
			return nil, err
		}
	}
	data = append(data, 0) // trailing NUL

	out := make([]byte, 0, frameHeaderSize+4+len(data))
	var hdr [8]byte
	binary.LittleEndian.PutUint16(hdr[0:2], Magic)
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(frameHeaderSize+len(data)))
	out = append(out, hdr[:]...)

	out = append(out, svc.ID, byte(idx))
	var dmlLen [2]byte
	binary.LittleEndian.PutUint16(dmlLen[:], uint16(3+len(data)))
	out = append(out, dmlLen[:]...)
	out = append(out, data...)

	return out, nil
}

// SerializeControl builds a control-opcode frame (is_control=1) whose
// payload is args encoded in order with no service/message lookup and no
// DML sub-header. Used for the SESSION_ACCEPT reply.
//
// Like Serialize, its stored length field does not equal len(payload): the
// wire's actual framing convention is total_frame_bytes = length + 4 (see
// Conn.Recv), so a header-only control frame with no DML sub-header needs
// length = len(payload) + 4 to make that arithmetic land on the true
// 8 + len(payload) total. Frame/Unframe's length = len(payload) convention
// does not apply here.
func SerializeControl(opcode byte, args []Arg) ([]byte, error) {
	var payload []byte
	for _, a := range args {
		var err error
		payload, err = encodeArg(payload, a)
		if err != nil {
			return nil, err
		}
	}

	out := make([]byte, 0, frameHeaderSize+len(payload))
	var hdr [8]byte
	binary.LittleEndian.PutUint16(hdr[0:2], Magic)
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(payload)+4))
	hdr[4] = 1
	hdr[5] = opcode
	out = append(out, hdr[:]...)
	out = append(out, payload...)
	return out, nil
}

// Deserialize decodes a raw packet against the catalog. raw must already be
// bounded to exactly one frame (as Conn.Recv returns it) — the length field
// is not used here to re-derive payload bounds, since on the real wire it
// measures a quantity 4 bytes short of the true frame size (see
// Conn.Recv's doc comment) and is not a reliable slice bound on its own.
// If is_control == 1, it returns ErrControlPacket; callers that need
// SessionOffer should call ParseSessionOffer directly on the raw bytes
// instead.
func Deserialize(raw []byte, cat *schema.Catalog, stringAsBytes bool) (*Message, error) {
	if len(raw) < frameHeaderSize {
		return nil, fmt.Errorf("dml: frame shorter than header (%d bytes): %w", len(raw), xerrors.BadFrame)
	}
	if binary.LittleEndian.Uint16(raw[0:2]) != Magic {
		return nil, fmt.Errorf("dml: bad magic %#x: %w", binary.LittleEndian.Uint16(raw[0:2]), xerrors.BadFrame)
	}
	if raw[4] == 1 {
		return nil, ErrControlPacket
	}
	if len(raw) < frameHeaderSize+4 {
		return nil, fmt.Errorf("dml: payload too short for DML sub-header: %w", xerrors.BadFrame)
	}
	payload := raw[frameHeaderSize:]

	svcID := payload[0]
	msgType := payload[1]
	// payload[2:4] is dml_length, unused here: raw is already bounded to
	// exactly one frame by the caller.

	svc, ok := cat.Services[svcID]
	if !ok {
		return nil, fmt.Errorf("dml: service %d: %w", svcID, xerrors.UnknownService)
	}
	if int(msgType) < 1 || int(msgType) > len(svc.Messages) {
		return nil, fmt.Errorf("dml: message index %d in service %d: %w", msgType, svcID, xerrors.UnknownMessage)
	}
	schemaMsg := svc.Messages[msgType-1]

	msg := &Message{Name: schemaMsg.Name, Args: make(map[string]Arg, len(schemaMsg.Args))}
	pos := 4
	data := payload
	for _, field := range schemaMsg.Args {
		arg, next, err := decodeArg(data, pos, field.Typename, stringAsBytes)
		if err != nil {
			return nil, fmt.Errorf("dml: %s.%s: %w", schemaMsg.Name, field.Name, err)
		}
		msg.Args[field.Name] = arg
		msg.Order = append(msg.Order, field.Name)
		pos = next
	}

	return msg, nil
}
