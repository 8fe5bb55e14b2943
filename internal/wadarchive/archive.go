// Package wadarchive reads KIWAD container files: a magic header followed
// by a flat table of named, optionally zlib-compressed entries.
//
// The decode strategy mirrors icza/mpq's approach to MPQ archives: read
// fixed-width fields one at a time with encoding/binary rather than a
// single reflective struct decode, since the entry table is not naturally
// struct-shaped (the name field is a variable-length, NUL-terminated run
// that follows the fixed part of each record).
package wadarchive

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"midaslauncher/internal/xerrors"
)

// magic is the fixed 5-byte header every archive begins with.
var magic = [5]byte{'K', 'I', 'W', 'A', 'D'}

// Entry describes one record in the archive's file table.
type Entry struct {
	Name     string
	Offset   uint32
	Size     uint32
	ZipSize  uint32
	Zip      uint8
	CRC      uint32
	NameSize uint32
}

// Archive is a parsed, opened KIWAD container. Find and FilesWithSuffix
// read entry payloads lazily from the backing byte slice.
type Archive struct {
	raw     []byte
	Version uint32
	entries []Entry
	byName  map[string]int
}

// Open reads the full archive from disk and parses its header and entry
// table. It does not decompress any entry payload until Find is called.
func Open(path string) (*Archive, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wadarchive: read %s: %w", path, err)
	}
	return parse(raw)
}

func parse(raw []byte) (*Archive, error) {
	if len(raw) < 14 {
		return nil, fmt.Errorf("wadarchive: archive too short: %d bytes", len(raw))
	}
	var hdr [5]byte
	copy(hdr[:], raw[0:5])
	if hdr != magic {
		return nil, fmt.Errorf("wadarchive: bad magic %q: %w", hdr, xerrors.CorruptArchive)
	}

	version := binary.LittleEndian.Uint32(raw[5:9])
	numFiles := binary.LittleEndian.Uint32(raw[9:13])
	// raw[13] is a single pad byte.
	pos := 14

	a := &Archive{
		raw:     raw,
		Version: version,
		entries: make([]Entry, 0, numFiles),
		byName:  make(map[string]int, numFiles),
	}

	for i := uint32(0); i < numFiles; i++ {
		e, next, err := readEntry(raw, pos)
		if err != nil {
			return nil, fmt.Errorf("wadarchive: entry %d: %w", i, err)
		}
		a.byName[e.Name] = len(a.entries)
		a.entries = append(a.entries, e)
		pos = next
	}

	return a, nil
}

func readEntry(raw []byte, pos int) (Entry, int, error) {
	if pos+21 > len(raw) {
		return Entry{}, 0, fmt.Errorf("truncated entry header: %w", xerrors.CorruptArchive)
	}
	e := Entry{
		Offset:   binary.LittleEndian.Uint32(raw[pos : pos+4]),
		Size:     binary.LittleEndian.Uint32(raw[pos+4 : pos+8]),
		ZipSize:  binary.LittleEndian.Uint32(raw[pos+8 : pos+12]),
		Zip:      raw[pos+12],
		CRC:      binary.LittleEndian.Uint32(raw[pos+13 : pos+17]),
		NameSize: binary.LittleEndian.Uint32(raw[pos+17 : pos+21]),
	}
	pos += 21

	if e.NameSize == 0 || pos+int(e.NameSize) > len(raw) {
		return Entry{}, 0, fmt.Errorf("bad name size %d: %w", e.NameSize, xerrors.CorruptArchive)
	}
	// name includes a trailing NUL.
	e.Name = string(raw[pos : pos+int(e.NameSize)-1])
	pos += int(e.NameSize)

	return e, pos, nil
}

// Find returns the decompressed payload of the named entry.
func (a *Archive) Find(name string) ([]byte, error) {
	idx, ok := a.byName[name]
	if !ok {
		return nil, fmt.Errorf("wadarchive: %q not found", name)
	}
	return a.payload(a.entries[idx])
}

// FilesWithSuffix returns the decompressed payload of every entry whose
// name ends in suffix, keyed by entry name. The result is a map, so it
// does not preserve archive order.
func (a *Archive) FilesWithSuffix(suffix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	for _, e := range a.entries {
		if !hasSuffix(e.Name, suffix) {
			continue
		}
		data, err := a.payload(e)
		if err != nil {
			return nil, fmt.Errorf("wadarchive: %s: %w", e.Name, err)
		}
		out[e.Name] = data
	}
	return out, nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func (a *Archive) payload(e Entry) ([]byte, error) {
	if e.Zip == 0 {
		if int(e.Offset)+int(e.Size) > len(a.raw) {
			return nil, fmt.Errorf("entry %q out of bounds: %w", e.Name, xerrors.CorruptArchive)
		}
		out := make([]byte, e.Size)
		copy(out, a.raw[e.Offset:int(e.Offset)+int(e.Size)])
		return out, nil
	}

	if int(e.Offset)+int(e.ZipSize) > len(a.raw) {
		return nil, fmt.Errorf("entry %q compressed span out of bounds: %w", e.Name, xerrors.CorruptArchive)
	}
	compressed := a.raw[e.Offset : int(e.Offset)+int(e.ZipSize)]
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("entry %q: zlib init: %w", e.Name, xerrors.CorruptArchive)
	}
	defer zr.Close()

	buf := &bytes.Buffer{}
	buf.Grow(int(e.Size))
	if _, err := io.Copy(buf, zr); err != nil {
		return nil, fmt.Errorf("entry %q: zlib inflate: %w", e.Name, xerrors.CorruptArchive)
	}
	out := buf.Bytes()
	if uint32(len(out)) != e.Size {
		return nil, fmt.Errorf("entry %q: inflated to %d bytes, expected %d: %w", e.Name, len(out), e.Size, xerrors.CorruptArchive)
	}
	return out, nil
}
