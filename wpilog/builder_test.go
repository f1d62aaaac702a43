package wpilog

import (
	"encoding/binary"
	"math"
)

// logBuilder assembles WPILOG bytes for tests.
type logBuilder struct {
	buf []byte
}

func newLogBuilder(extra string) *logBuilder {
	b := &logBuilder{}
	b.buf = append(b.buf, magic...)
	b.buf = binary.LittleEndian.AppendUint16(b.buf, Version)
	b.buf = binary.LittleEndian.AppendUint32(b.buf, uint32(len(extra)))
	b.buf = append(b.buf, extra...)
	return b
}

// width is the minimal byte count for v, between 1 and limit
func width(v uint64, limit int) int {
	n := 1
	for n < limit && v>>(8*n) != 0 {
		n++
	}
	return n
}

func (b *logBuilder) record(entry uint32, ts int64, payload []byte) *logBuilder {
	idLen := width(uint64(entry), 4)
	sizeLen := width(uint64(len(payload)), 4)
	tsLen := width(uint64(ts), 8)

	b.buf = append(b.buf, byte(idLen-1)|byte(sizeLen-1)<<2|byte(tsLen-1)<<4)
	b.buf = appendUint(b.buf, uint64(entry), idLen)
	b.buf = appendUint(b.buf, uint64(len(payload)), sizeLen)
	b.buf = appendUint(b.buf, uint64(ts), tsLen)
	b.buf = append(b.buf, payload...)
	return b
}

func appendUint(buf []byte, v uint64, n int) []byte {
	for i := 0; i < n; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func (b *logBuilder) start(entry uint32, name, typ, metadata string, ts int64) *logBuilder {
	p := []byte{ControlStart}
	p = binary.LittleEndian.AppendUint32(p, entry)
	p = appendString(p, name)
	p = appendString(p, typ)
	p = appendString(p, metadata)
	return b.record(0, ts, p)
}

func (b *logBuilder) finish(entry uint32, ts int64) *logBuilder {
	p := binary.LittleEndian.AppendUint32([]byte{ControlFinish}, entry)
	return b.record(0, ts, p)
}

func (b *logBuilder) setMetadata(entry uint32, metadata string, ts int64) *logBuilder {
	p := binary.LittleEndian.AppendUint32([]byte{ControlSetMetadata}, entry)
	return b.record(0, ts, appendString(p, metadata))
}

func (b *logBuilder) bytes() []byte {
	return b.buf
}

func doubleBytes(vs ...float64) []byte {
	var out []byte
	for _, v := range vs {
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
	}
	return out
}

func int64Bytes(vs ...int64) []byte {
	var out []byte
	for _, v := range vs {
		out = binary.LittleEndian.AppendUint64(out, uint64(v))
	}
	return out
}

func stringArrayBytes(vs ...string) []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(vs)))
	for _, v := range vs {
		out = appendString(out, v)
	}
	return out
}
