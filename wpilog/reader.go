package wpilog

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/c360/ntscope/errors"
)

const (
	magic = "WPILOG"
	// Version is the only supported format version (1.0)
	Version = 0x0100

	headerSize = len(magic) + 2 + 4
)

// Control record kinds carried on entry 0.
const (
	ControlStart       = 0
	ControlFinish      = 1
	ControlSetMetadata = 2
)

// Record is one raw log record.
type Record struct {
	Entry     uint32
	Timestamp int64
	Payload   []byte
}

// IsControl reports whether the record is on the control entry.
func (r Record) IsControl() bool {
	return r.Entry == 0
}

// StartData is the payload of a Start control record.
type StartData struct {
	Entry    uint32
	Name     string
	Type     string
	Metadata string
}

// Control decodes a control record. Exactly one of the return values is
// meaningful depending on kind: StartData for Start, the entry id for
// Finish, and entry plus metadata for SetMetadata.
func (r Record) Control() (kind int, start StartData, err error) {
	if len(r.Payload) < 5 {
		return 0, StartData{}, fmt.Errorf("%w: control record of %d bytes", errors.ErrDataTruncated, len(r.Payload))
	}
	kind = int(r.Payload[0])
	p := r.Payload[1:]
	start.Entry = binary.LittleEndian.Uint32(p)
	p = p[4:]

	switch kind {
	case ControlStart:
		if start.Name, p, err = readString(p); err != nil {
			return kind, start, err
		}
		if start.Type, p, err = readString(p); err != nil {
			return kind, start, err
		}
		start.Metadata, _, err = readString(p)
	case ControlFinish:
	case ControlSetMetadata:
		start.Metadata, _, err = readString(p)
	default:
		err = fmt.Errorf("%w: control kind %d", errors.ErrInvalidLog, kind)
	}
	return kind, start, err
}

func readString(p []byte) (string, []byte, error) {
	if len(p) < 4 {
		return "", p, fmt.Errorf("%w: string length", errors.ErrDataTruncated)
	}
	n := binary.LittleEndian.Uint32(p)
	p = p[4:]
	if uint64(len(p)) < uint64(n) {
		return "", p, fmt.Errorf("%w: string of %d bytes", errors.ErrDataTruncated, n)
	}
	return string(p[:n]), p[n:], nil
}

// Reader iterates over the records of an in-memory WPILOG file.
type Reader struct {
	data  []byte
	pos   int
	extra string
}

// NewReader validates the file header.
func NewReader(data []byte) (*Reader, error) {
	if len(data) < headerSize || string(data[:len(magic)]) != magic {
		return nil, errors.WrapInvalid(errors.ErrInvalidLog, "Reader", "NewReader", "check header")
	}
	version := binary.LittleEndian.Uint16(data[len(magic):])
	if version != Version {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: version %#04x", errors.ErrInvalidLog, version),
			"Reader", "NewReader", "check version")
	}

	extraLen := binary.LittleEndian.Uint32(data[len(magic)+2:])
	if uint64(len(data)-headerSize) < uint64(extraLen) {
		return nil, errors.WrapInvalid(errors.ErrDataTruncated, "Reader", "NewReader", "read extra header")
	}
	start := headerSize + int(extraLen)
	return &Reader{
		data:  data,
		pos:   start,
		extra: string(data[headerSize:start]),
	}, nil
}

// ExtraHeader returns the free-form header string.
func (r *Reader) ExtraHeader() string {
	return r.extra
}

// Progress returns the fraction of the file consumed so far.
func (r *Reader) Progress() float64 {
	if len(r.data) == 0 {
		return 1
	}
	return float64(r.pos) / float64(len(r.data))
}

// Next returns the next record, io.EOF after the last one, or an error
// wrapping ErrDataTruncated when the file ends inside a record.
func (r *Reader) Next() (Record, error) {
	if r.pos >= len(r.data) {
		return Record{}, io.EOF
	}

	bits := r.data[r.pos]
	idLen := int(bits&0x3) + 1
	sizeLen := int((bits>>2)&0x3) + 1
	tsLen := int((bits>>4)&0x7) + 1

	headerLen := 1 + idLen + sizeLen + tsLen
	if len(r.data)-r.pos < headerLen {
		return Record{}, fmt.Errorf("%w: record header at offset %d", errors.ErrDataTruncated, r.pos)
	}

	p := r.data[r.pos+1:]
	entry := uint32(readUint(p[:idLen]))
	p = p[idLen:]
	size := readUint(p[:sizeLen])
	p = p[sizeLen:]
	ts := int64(readUint(p[:tsLen]))

	payloadStart := r.pos + headerLen
	if uint64(len(r.data)-payloadStart) < size {
		return Record{}, fmt.Errorf("%w: record payload at offset %d", errors.ErrDataTruncated, r.pos)
	}
	end := payloadStart + int(size)

	rec := Record{Entry: entry, Timestamp: ts, Payload: r.data[payloadStart:end]}
	r.pos = end
	return rec, nil
}

// readUint reads a little-endian unsigned integer of 1 to 8 bytes.
func readUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
