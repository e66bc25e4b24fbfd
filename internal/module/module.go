// Package module parses and serializes the on-disk module container (§6):
// the immutable text/rodata/data/bss_length/entry_point tuple a Virtual
// Machine loads exactly once. It mirrors original_source/module.cpp's
// raw()/fromRaw() pair but drops that revision's extra endianness byte —
// §6's wire table is little-endian throughout and carries no such field.
package module

import (
	"encoding/binary"
	"io"

	"lvm/internal/vmerr"
)

var magic = [4]byte{'l', 'v', 'm', 'e'}

const formatVersion uint64 = 1

// Module is the immutable tuple §3 describes as the VM's input.
type Module struct {
	Version    uint64
	Text       []byte
	Rodata     []byte
	Data       []byte
	BSSLength  uint64
	EntryPoint uint64
}

// Decode reads the §6 wire format from r.
func Decode(r io.Reader) (*Module, error) {
	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, vmerr.Wrap(vmerr.InvalidModule, "reading magic", err)
	}
	if gotMagic != magic {
		return nil, vmerr.New(vmerr.InvalidModule, "bad magic")
	}

	m := &Module{}
	var err error
	if m.Version, err = readU64(r); err != nil {
		return nil, err
	}
	if m.Text, err = readSegment(r); err != nil {
		return nil, err
	}
	if m.Rodata, err = readSegment(r); err != nil {
		return nil, err
	}
	if m.Data, err = readSegment(r); err != nil {
		return nil, err
	}
	if m.BSSLength, err = readU64(r); err != nil {
		return nil, err
	}
	if m.EntryPoint, err = readU64(r); err != nil {
		return nil, err
	}
	return m, nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, vmerr.Wrap(vmerr.InvalidModule, "reading u64 field", err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func readSegment(r io.Reader) ([]byte, error) {
	length, err := readU64(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, vmerr.Wrap(vmerr.InvalidModule, "reading segment body", err)
	}
	return buf, nil
}

// Encode writes m in the §6 wire format. Used by tests and by tooling that
// constructs modules programmatically; the interactive CLI only ever reads.
func Encode(w io.Writer, m *Module) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if err := writeU64(w, m.Version); err != nil {
		return err
	}
	if err := writeSegment(w, m.Text); err != nil {
		return err
	}
	if err := writeSegment(w, m.Rodata); err != nil {
		return err
	}
	if err := writeSegment(w, m.Data); err != nil {
		return err
	}
	if err := writeU64(w, m.BSSLength); err != nil {
		return err
	}
	return writeU64(w, m.EntryPoint)
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeSegment(w io.Writer, data []byte) error {
	if err := writeU64(w, uint64(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// New builds a Module with the current format version, for callers
// constructing one in memory rather than decoding one from disk.
func New(text, rodata, data []byte, bssLength, entryPoint uint64) *Module {
	return &Module{
		Version:    formatVersion,
		Text:       text,
		Rodata:     rodata,
		Data:       data,
		BSSLength:  bssLength,
		EntryPoint: entryPoint,
	}
}
