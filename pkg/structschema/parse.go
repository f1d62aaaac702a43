package structschema

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/c360/ntscope/errors"
)

// Primitive identifies a fixed-size scalar type in a schema declaration.
type Primitive int

// Primitive types. PrimitiveNone marks a field that references another pattern.
const (
	PrimitiveNone Primitive = iota
	Bool
	Char
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
)

var primitiveNames = map[string]Primitive{
	"bool":    Bool,
	"char":    Char,
	"int8":    Int8,
	"int16":   Int16,
	"int32":   Int32,
	"int64":   Int64,
	"uint8":   Uint8,
	"uint16":  Uint16,
	"uint32":  Uint32,
	"uint64":  Uint64,
	"float":   Float32,
	"float32": Float32,
	"double":  Float64,
	"float64": Float64,
}

// Size returns the encoded width of the primitive in bytes.
func (p Primitive) Size() int {
	switch p {
	case Bool, Char, Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// IsInteger reports whether p is a signed or unsigned integer type.
func (p Primitive) IsInteger() bool {
	return p.IsSigned() || p.IsUnsigned()
}

// IsSigned reports whether p is a signed integer type.
func (p Primitive) IsSigned() bool {
	return p == Int8 || p == Int16 || p == Int32 || p == Int64
}

// IsUnsigned reports whether p is an unsigned integer type.
func (p Primitive) IsUnsigned() bool {
	return p == Uint8 || p == Uint16 || p == Uint32 || p == Uint64
}

// String returns the canonical declaration name of the primitive.
func (p Primitive) String() string {
	switch p {
	case Bool:
		return "bool"
	case Char:
		return "char"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "none"
	}
}

// Field is one declaration of a pattern.
type Field struct {
	Name string
	// TypeName is the declared type, either a primitive name or a pattern name.
	TypeName  string
	Primitive Primitive
	// StructName is set when the field references another pattern.
	StructName     string
	ArrayLength    int
	BitfieldLength int
	Enum           map[int64]string

	offset   int
	elemSize int
	unitSize int
	bitShift int
}

// IsArray reports whether the field is a fixed-length array.
func (f Field) IsArray() bool { return f.ArrayLength > 0 }

// IsStruct reports whether the field references another pattern.
func (f Field) IsStruct() bool { return f.StructName != "" }

// IsBitfield reports whether the field is packed into a bitfield storage unit.
func (f Field) IsBitfield() bool { return f.BitfieldLength > 0 }

// Parse splits schema text into field declarations. Nested pattern
// references are recorded but not checked; resolution happens in the Decoder.
func Parse(schema string) ([]Field, error) {
	var fields []Field
	names := make(map[string]bool)

	for _, decl := range strings.Split(schema, ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" {
			continue
		}

		field, err := parseDeclaration(decl)
		if err != nil {
			return nil, err
		}
		if names[field.Name] {
			return nil, invalidf("duplicate field name %q", field.Name)
		}
		names[field.Name] = true
		fields = append(fields, field)
	}

	return fields, nil
}

func parseDeclaration(decl string) (Field, error) {
	var field Field

	rest := decl
	if strings.HasPrefix(strings.TrimSpace(strings.TrimPrefix(rest, "enum")), "{") {
		open := strings.Index(rest, "{")
		end := strings.Index(rest, "}")
		if open < 0 || end < open {
			return field, invalidf("unterminated enum in %q", decl)
		}
		if prefix := strings.TrimSpace(rest[:open]); prefix != "" && prefix != "enum" {
			return field, invalidf("unexpected %q before enum body", prefix)
		}
		values, err := parseEnum(rest[open+1 : end])
		if err != nil {
			return field, err
		}
		field.Enum = values
		rest = strings.TrimSpace(rest[end+1:])
	}

	split := strings.IndexFunc(rest, unicode.IsSpace)
	if split < 0 {
		return field, invalidf("declaration %q has no field name", decl)
	}
	field.TypeName = rest[:split]
	namePart := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, rest[split:])

	if p, ok := primitiveNames[field.TypeName]; ok {
		field.Primitive = p
	} else if isIdentifier(field.TypeName) {
		field.StructName = field.TypeName
	} else {
		return field, invalidf("bad type name %q", field.TypeName)
	}

	switch {
	case strings.Contains(namePart, "["):
		open := strings.Index(namePart, "[")
		if !strings.HasSuffix(namePart, "]") {
			return field, invalidf("malformed array declaration %q", namePart)
		}
		n, err := strconv.Atoi(namePart[open+1 : len(namePart)-1])
		if err != nil || n <= 0 {
			return field, invalidf("non-integer array length in %q", namePart)
		}
		field.Name = namePart[:open]
		field.ArrayLength = n

	case strings.Contains(namePart, ":"):
		colon := strings.Index(namePart, ":")
		n, err := strconv.Atoi(namePart[colon+1:])
		if err != nil || n <= 0 {
			return field, invalidf("bad bitfield length in %q", namePart)
		}
		if field.Primitive != Bool && !field.Primitive.IsInteger() {
			return field, invalidf("bitfield %q on non-integer type %s", namePart, field.TypeName)
		}
		if n > field.Primitive.Size()*8 {
			return field, invalidf("bitfield %q exceeds %d bits of %s", namePart, field.Primitive.Size()*8, field.TypeName)
		}
		field.Name = namePart[:colon]
		field.BitfieldLength = n

	default:
		field.Name = namePart
	}

	if !isIdentifier(field.Name) {
		return field, invalidf("bad field name %q", field.Name)
	}
	if field.Enum != nil && !field.Primitive.IsInteger() {
		return field, invalidf("enum on non-integer field %q", field.Name)
	}

	return field, nil
}

func parseEnum(body string) (map[int64]string, error) {
	values := make(map[int64]string)
	for _, item := range strings.Split(body, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, raw, ok := strings.Cut(item, "=")
		if !ok {
			return nil, invalidf("enum entry %q has no value", item)
		}
		name = strings.TrimSpace(name)
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || !isIdentifier(name) {
			return nil, invalidf("bad enum entry %q", item)
		}
		values[v] = name
	}
	return values, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errors.ErrSchemaInvalid, fmt.Sprintf(format, args...))
}
