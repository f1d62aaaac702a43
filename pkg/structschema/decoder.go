package structschema

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strconv"
	"sync"

	"github.com/c360/ntscope/errors"
)

// Pattern is a parsed schema for one struct name.
type Pattern struct {
	Name   string
	Schema string
	Fields []Field

	size     int
	resolved bool
}

// Resolved reports whether every nested reference of the pattern is known,
// which makes its byte length known.
func (p *Pattern) Resolved() bool { return p.resolved }

// Size returns the encoded length in bytes, or false while unresolved.
func (p *Pattern) Size() (int, bool) {
	if !p.resolved {
		return 0, false
	}
	return p.size, true
}

// Decoder holds every schema seen so far and decodes raw struct payloads.
// Schemas may arrive in any order; a pattern resolves once all of the
// patterns it references have resolved, and stays resolved.
type Decoder struct {
	mu       sync.RWMutex
	patterns map[string]*Pattern
}

// NewDecoder creates an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{patterns: make(map[string]*Pattern)}
}

// AddSchema parses schema text for name and returns the names of every
// pattern that became resolved as a result, including dependents of name.
// A name that has already been added is ignored. A parse error leaves the
// name unknown so a corrected schema can be added later.
func (d *Decoder) AddSchema(name, schema string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, seen := d.patterns[name]; seen {
		return nil, nil
	}

	fields, err := Parse(schema)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Decoder", "AddSchema", fmt.Sprintf("parse schema %q", name))
	}

	d.patterns[name] = &Pattern{Name: name, Schema: schema, Fields: fields}
	return d.resolveAll(), nil
}

// resolveAll repeats resolution passes until nothing new resolves.
// Callers must hold d.mu.
func (d *Decoder) resolveAll() []string {
	names := make([]string, 0, len(d.patterns))
	for name, p := range d.patterns {
		if !p.resolved {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	var resolved []string
	for progress := true; progress; {
		progress = false
		for _, name := range names {
			p := d.patterns[name]
			if p.resolved || !d.layout(p) {
				continue
			}
			resolved = append(resolved, name)
			progress = true
		}
	}
	return resolved
}

// layout computes field offsets once all references are resolved.
func (d *Decoder) layout(p *Pattern) bool {
	for _, f := range p.Fields {
		if !f.IsStruct() {
			continue
		}
		dep, ok := d.patterns[f.StructName]
		if !ok || !dep.resolved {
			return false
		}
	}

	offset := 0
	unitSize, unitBits, unitOffset := 0, 0, 0
	for i := range p.Fields {
		f := &p.Fields[i]

		if f.IsBitfield() {
			width := f.Primitive.Size()
			joinsOpenUnit := unitSize > 0 && unitBits+f.BitfieldLength <= unitSize*8 &&
				(unitSize == width || f.Primitive == Bool)
			if !joinsOpenUnit {
				unitOffset = offset
				unitSize = width
				unitBits = 0
				offset += width
			}
			f.offset = unitOffset
			f.unitSize = unitSize
			f.bitShift = unitBits
			unitBits += f.BitfieldLength
			continue
		}

		unitSize, unitBits = 0, 0
		if f.IsStruct() {
			f.elemSize = d.patterns[f.StructName].size
		} else {
			f.elemSize = f.Primitive.Size()
		}
		f.offset = offset
		offset += f.elemSize * max(f.ArrayLength, 1)
	}

	p.size = offset
	p.resolved = true
	return true
}

// Pattern returns a copy of the named pattern.
func (d *Decoder) Pattern(name string) (Pattern, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.patterns[name]
	if !ok {
		return Pattern{}, false
	}
	cp := *p
	cp.Fields = slices.Clone(p.Fields)
	return cp, true
}

// Resolved reports whether name is known and decodable.
func (d *Decoder) Resolved(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.patterns[name]
	return ok && p.resolved
}

// Schemas returns the schema text of every pattern added so far.
func (d *Decoder) Schemas() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]string, len(d.patterns))
	for name, p := range d.patterns {
		out[name] = p.Schema
	}
	return out
}

// Decode decodes one struct value. It returns false when the pattern is
// not resolved yet or data is shorter than the pattern.
func (d *Decoder) Decode(name string, data []byte) (map[string]any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.patterns[name]
	if !ok || !p.resolved || len(data) < p.size {
		return nil, false
	}
	return d.decodePattern(p, data), true
}

// DecodeArray decodes a packed array of struct values. Trailing bytes that
// do not fill a whole element are ignored.
func (d *Decoder) DecodeArray(name string, data []byte) ([]any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.patterns[name]
	if !ok || !p.resolved {
		return nil, false
	}
	if p.size == 0 {
		return []any{}, true
	}

	out := make([]any, 0, len(data)/p.size)
	for off := 0; off+p.size <= len(data); off += p.size {
		out = append(out, d.decodePattern(p, data[off:off+p.size]))
	}
	return out, true
}

func (d *Decoder) decodePattern(p *Pattern, data []byte) map[string]any {
	out := make(map[string]any, len(p.Fields))
	for _, f := range p.Fields {
		out[f.Name] = d.decodeField(f, data)
	}
	return out
}

func (d *Decoder) decodeField(f Field, data []byte) any {
	if f.IsBitfield() {
		return decodeBitfield(f, data[f.offset:f.offset+f.unitSize])
	}

	if !f.IsArray() {
		return d.decodeElement(f, data[f.offset:f.offset+f.elemSize])
	}

	raw := data[f.offset : f.offset+f.elemSize*f.ArrayLength]
	if f.Primitive == Char {
		end := len(raw)
		for i, b := range raw {
			if b == 0 {
				end = i
				break
			}
		}
		return string(raw[:end])
	}

	out := make([]any, f.ArrayLength)
	for i := range out {
		out[i] = d.decodeElement(f, raw[i*f.elemSize:(i+1)*f.elemSize])
	}
	return out
}

func (d *Decoder) decodeElement(f Field, b []byte) any {
	if f.IsStruct() {
		return d.decodePattern(d.patterns[f.StructName], b)
	}
	v := decodePrimitive(f.Primitive, b)
	if f.Enum != nil {
		return enumName(f.Enum, v)
	}
	return v
}

func decodePrimitive(p Primitive, b []byte) any {
	switch p {
	case Bool:
		return b[0] != 0
	case Char:
		return string(b[:1])
	case Int8:
		return int64(int8(b[0]))
	case Int16:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case Int32:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case Int64:
		return int64(binary.LittleEndian.Uint64(b))
	case Uint8:
		return int64(b[0])
	case Uint16:
		return int64(binary.LittleEndian.Uint16(b))
	case Uint32:
		return int64(binary.LittleEndian.Uint32(b))
	case Uint64:
		return binary.LittleEndian.Uint64(b)
	case Float32:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		return nil
	}
}

func decodeBitfield(f Field, unit []byte) any {
	var word uint64
	for i := len(unit) - 1; i >= 0; i-- {
		word = word<<8 | uint64(unit[i])
	}

	mask := uint64(1)<<f.BitfieldLength - 1
	if f.BitfieldLength == 64 {
		mask = math.MaxUint64
	}
	v := (word >> f.bitShift) & mask

	var out any
	switch {
	case f.Primitive == Bool:
		return v != 0
	case f.Primitive.IsSigned():
		if f.BitfieldLength < 64 && v&(1<<(f.BitfieldLength-1)) != 0 {
			v |= ^mask
		}
		out = int64(v)
	case f.Primitive == Uint64:
		out = v
	default:
		out = int64(v)
	}

	if f.Enum != nil {
		return enumName(f.Enum, out)
	}
	return out
}

func enumName(values map[int64]string, v any) any {
	var n int64
	switch x := v.(type) {
	case int64:
		n = x
	case uint64:
		n = int64(x)
	default:
		return v
	}
	if name, ok := values[n]; ok {
		return name
	}
	return strconv.FormatInt(n, 10)
}
