// Package manifest parses the patch server's TableList binary: a
// length-prefixed run of schema Values, a version stamp, one more Value, a
// fixed 12-byte sentinel, and then the PatchFile records that actually
// matter to a patch run. The parser follows the same explicit
// byte-offset-walk style as internal/wadarchive and internal/dml, since
// this format shares their flat, no-length-prefix-on-the-whole-record
// shape.
package manifest

import (
	"encoding/binary"
	"fmt"
	"log"
	"strings"

	"midaslauncher/internal/xerrors"
)

// ValueType mirrors the wire tag for a RecordField's value, used only for
// bookkeeping — it doesn't affect how far the parser advances.
type ValueType uint8

const (
	ValueGID  ValueType = 0x0
	ValueINT  ValueType = 0x1
	ValueFLT  ValueType = 0x2
	ValueUINT ValueType = 0x3
	ValueBYT  ValueType = 0x4
	ValueUBYT ValueType = 0x5
	ValueUSHRT ValueType = 0x6
	ValueDBL  ValueType = 0x7
	ValueWSTR ValueType = 0x8
	ValueSTR  ValueType = 0x9
	ValueNone ValueType = 0x10
)

func valueTypeFromByte(b byte) ValueType {
	switch b {
	case 0x0:
		return ValueGID
	case 0x1:
		return ValueINT
	case 0x2:
		return ValueFLT
	case 0x3:
		return ValueUINT
	case 0x4:
		return ValueBYT
	case 0x5:
		return ValueUBYT
	case 0x6:
		return ValueUSHRT
	case 0x7:
		return ValueDBL
	case 0x8:
		return ValueWSTR
	case 0x9:
		return ValueSTR
	default:
		return ValueNone
	}
}

// RecordType tags a Value as a dictionary or a record definition.
type RecordType uint8

const (
	CustomDict   RecordType = 0x1
	CustomRecord RecordType = 0x2
	NoneRecord   RecordType = 0x3
)

func recordTypeFromByte(b byte) RecordType {
	switch b {
	case 0x1:
		return CustomDict
	case 0x2:
		return CustomRecord
	default:
		return NoneRecord
	}
}

// sentinel is the fixed 12-byte value separating the header Values from
// the PatchFile records. Its meaning isn't understood any better here than
// in the reference parser it's ported from — it's skipped as an opaque
// magic constant, logged if it ever doesn't match, never re-derived.
var sentinel = [12]byte{0x02, 0x02, 0x08, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}

// RecordField is one field of a RecordTemplate.
type RecordField struct {
	Length        uint16
	Name          string
	ValueType     ValueType
	DMLFlags      uint8
	IsTargetTable bool
}

// RecordTemplate is the field list inside a Value. It is parsed for
// completeness but, matching the reference parser, never consulted again
// once Value.Size has been used to skip past it — Value.Size, not the sum
// of parsed field lengths, is what TableList actually trusts.
type RecordTemplate struct {
	Fields []RecordField
}

// Value is one schema/dictionary entry preceding the PatchFile records.
type Value struct {
	ProtocolID uint8
	RecordType RecordType
	Size       uint16
	Records    RecordTemplate
}

// PatchFile is one patch manifest entry: a source path on the patch
// server, a target path on disk, and bookkeeping metadata.
type PatchFile struct {
	SrcName        string
	TarName        string
	FileType       uint32
	Size           uint32
	HeaderSize     uint32
	CompressedSize uint32
	CRC            uint32
	HeaderCRC      uint32
}

// TableList is a fully parsed patch manifest.
type TableList struct {
	Length  uint32
	Records []PatchFile
}

func need(data []byte, pos, n int) error {
	if pos < 0 || pos+n > len(data) {
		return fmt.Errorf("manifest: need %d bytes at offset %d, have %d: %w", n, pos, len(data)-pos, xerrors.CorruptManifest)
	}
	return nil
}

func readU8(data []byte, pos int) (byte, error) {
	if err := need(data, pos, 1); err != nil {
		return 0, err
	}
	return data[pos], nil
}

func readU16LE(data []byte, pos int) (uint16, error) {
	if err := need(data, pos, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(data[pos : pos+2]), nil
}

func readU32LE(data []byte, pos int) (uint32, error) {
	if err := need(data, pos, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data[pos : pos+4]), nil
}

func readI32LE(data []byte, pos int) (int32, error) {
	v, err := readU32LE(data, pos)
	return int32(v), err
}

func parseRecordField(data []byte, pos int, isTargetTable bool) (RecordField, error) {
	strLen, err := readU16LE(data, pos)
	if err != nil {
		return RecordField{}, err
	}
	namePos := pos + 2
	if err := need(data, namePos, int(strLen)); err != nil {
		return RecordField{}, err
	}
	name := string(data[namePos : namePos+int(strLen)])

	if isTargetTable {
		return RecordField{Length: strLen, Name: name, ValueType: ValueNone, IsTargetTable: true}, nil
	}

	typePos := namePos + int(strLen)
	valType, err := readU8(data, typePos)
	if err != nil {
		return RecordField{}, err
	}
	flags, err := readU8(data, typePos+1)
	if err != nil {
		return RecordField{}, err
	}
	return RecordField{
		Length:    strLen,
		Name:      name,
		ValueType: valueTypeFromByte(valType),
		DMLFlags:  flags,
	}, nil
}

// parseRecordTemplate reproduces the reference parser's advance-by-off,
// count-by-(length+4) split exactly: for target-table fields the cursor
// only moves length+2 bytes per field while the loop's own byte budget
// shrinks by length+4, so the loop can stop a couple of fields before the
// end of the span it was given. That mismatch is a property of the format
// this is ported from, not a bug to fix here — nothing downstream reads
// RecordTemplate.Fields, so it has no effect beyond this package.
func parseRecordTemplate(data []byte, pos int, totalBytes uint16, isTargetTable bool) (RecordTemplate, error) {
	off := uint16(4)
	if isTargetTable {
		off = 2
	}

	var fields []RecordField
	var consumed uint16
	for consumed < totalBytes {
		field, err := parseRecordField(data, pos, isTargetTable)
		if err != nil {
			return RecordTemplate{}, err
		}
		pos += int(field.Length) + int(off)
		consumed += field.Length + 4
		fields = append(fields, field)
		if pos > len(data) {
			break
		}
	}
	return RecordTemplate{Fields: fields}, nil
}

func parseValue(data []byte, pos int) (Value, error) {
	protocolID, err := readU8(data, pos)
	if err != nil {
		return Value{}, err
	}
	recordTypeByte, err := readU8(data, pos+1)
	if err != nil {
		return Value{}, err
	}
	size, err := readU16LE(data, pos+2)
	if err != nil {
		return Value{}, err
	}
	if size < 2 {
		return Value{}, fmt.Errorf("manifest: value size %d too small: %w", size, xerrors.CorruptManifest)
	}

	recordType := recordTypeFromByte(recordTypeByte)
	template, err := parseRecordTemplate(data, pos+4, size-2, recordType == CustomRecord)
	if err != nil {
		return Value{}, err
	}

	return Value{
		ProtocolID: protocolID,
		RecordType: recordType,
		Size:       size,
		Records:    template,
	}, nil
}

func parsePatchFile(data []byte, pos int) (PatchFile, error) {
	srcLen, err := readU16LE(data, pos)
	if err != nil {
		return PatchFile{}, err
	}
	pos += 2
	if err := need(data, pos, int(srcLen)); err != nil {
		return PatchFile{}, err
	}
	src := string(data[pos : pos+int(srcLen)])
	pos += int(srcLen)

	tarLen, err := readU16LE(data, pos)
	if err != nil {
		return PatchFile{}, err
	}
	pos += 2
	if err := need(data, pos, int(tarLen)); err != nil {
		return PatchFile{}, err
	}
	tar := string(data[pos : pos+int(tarLen)])
	pos += int(tarLen)

	fileType, err := readU32LE(data, pos)
	if err != nil {
		return PatchFile{}, err
	}
	pos += 4
	size, err := readU32LE(data, pos)
	if err != nil {
		return PatchFile{}, err
	}
	pos += 4
	headerSize, err := readU32LE(data, pos)
	if err != nil {
		return PatchFile{}, err
	}
	pos += 4
	compressedSize, err := readU32LE(data, pos)
	if err != nil {
		return PatchFile{}, err
	}
	pos += 4
	crc, err := readU32LE(data, pos)
	if err != nil {
		return PatchFile{}, err
	}
	pos += 4
	headerCRC, err := readU32LE(data, pos)
	if err != nil {
		return PatchFile{}, err
	}

	return PatchFile{
		SrcName:        src,
		TarName:        tar,
		FileType:       fileType,
		Size:           size,
		HeaderSize:     headerSize,
		CompressedSize: compressedSize,
		CRC:            crc,
		HeaderCRC:      headerCRC,
	}, nil
}

// Parse decodes a full TableList from raw manifest bytes.
//
// The trailing walk over PatchFile records carries a toggle that flips
// exactly once, the first time a src_name containing "Bin/" is seen while
// toggle is still false. Before the flip, each record is preceded by a
// fresh header Value that gets parsed and skipped; after the flip, that
// per-record Value disappears from the stream and the two bytes that used
// to be its protocol_id/record_type are reinterpreted as part of the
// PatchFile's own framing instead. This models an actual discontinuity in
// the archive's layout once it crosses into the Bin/ section, not a
// simplification opportunity.
func Parse(data []byte) (*TableList, error) {
	pos := 0

	length, err := readU32LE(data, pos)
	if err != nil {
		return nil, err
	}
	pos += 4

	for i := uint32(0); i < length+1; i++ {
		val, err := parseValue(data, pos)
		if err != nil {
			return nil, err
		}
		pos += int(val.Size)
	}

	if _, err := readI32LE(data, pos); err != nil {
		return nil, err
	}
	pos += 4

	val, err := parseValue(data, pos)
	if err != nil {
		return nil, err
	}
	pos += int(val.Size)

	if err := need(data, pos, 12); err != nil {
		return nil, err
	}
	var got [12]byte
	copy(got[:], data[pos:pos+12])
	if got != sentinel {
		log.Printf("[Manifest] sentinel mismatch at offset %d: got %x, want %x", pos, got, sentinel)
	}
	pos += 12

	var records []PatchFile
	toggle := false
	for pos < len(data) {
		if !toggle {
			val, err := parseValue(data, pos)
			if err != nil {
				return nil, err
			}
			pos += int(val.Size)
		}

		recordTypeByte, err := readU8(data, pos+1)
		if err != nil {
			return nil, err
		}
		recordType := recordTypeFromByte(recordTypeByte)
		pos += 2

		if recordType == CustomDict && toggle {
			pos -= 2
			val, err := parseValue(data, pos)
			if err != nil {
				return nil, err
			}
			pos += int(val.Size)
			pos += 6
		}

		if !toggle {
			pos += 2
		} else {
			pos -= 2
		}

		file, err := parsePatchFile(data, pos)
		if err != nil {
			return nil, err
		}
		if strings.Contains(file.SrcName, "Bin/") && !toggle {
			toggle = true
		}

		pos += len(file.SrcName) + len(file.TarName) + 32
		records = append(records, file)
	}

	return &TableList{Length: length, Records: records}, nil
}
