package fieldstore

import (
	"strings"

	"github.com/c360/ntscope/pkg/structschema"
)

// Kind is the closed set of primitive value kinds a field can carry.
type Kind int

// Primitive kinds. Raw-family kinds (raw, rpc, msgpack, protobuf,
// structschema) all carry []byte values.
const (
	KindBoolean Kind = iota + 1
	KindInt
	KindFloat
	KindDouble
	KindString
	KindJSON
	KindRaw
	KindRPC
	KindMsgPack
	KindProtobuf
	KindStructSchema
)

var kindNames = map[Kind]string{
	KindBoolean:      "boolean",
	KindInt:          "int",
	KindFloat:        "float",
	KindDouble:       "double",
	KindString:       "string",
	KindJSON:         "json",
	KindRaw:          "raw",
	KindRPC:          "rpc",
	KindMsgPack:      "msgpack",
	KindProtobuf:     "protobuf",
	KindStructSchema: "structschema",
}

var kindsByName = map[string]Kind{
	"boolean":      KindBoolean,
	"int":          KindInt,
	"int64":        KindInt,
	"float":        KindFloat,
	"double":       KindDouble,
	"string":       KindString,
	"json":         KindJSON,
	"raw":          KindRaw,
	"rpc":          KindRPC,
	"msgpack":      KindMsgPack,
	"protobuf":     KindProtobuf,
	"structschema": KindStructSchema,
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsBinary reports whether values of this kind are []byte.
func (k Kind) IsBinary() bool {
	return k == KindRaw || k == KindRPC || k == KindMsgPack || k == KindProtobuf || k == KindStructSchema
}

// FieldType is the type tag of a field: Primitive, Array or Struct.
// A nil FieldType marks an untyped container.
type FieldType interface {
	String() string
	fieldType()
}

// Primitive is a scalar value type.
type Primitive struct {
	Kind Kind
}

// Array is a homogeneous array whose elements are mirrored into indexed children.
type Array struct {
	Elem FieldType
}

// Struct is a raw struct payload decoded with the named schema pattern.
type Struct struct {
	Name string
}

func (Primitive) fieldType() {}
func (Array) fieldType()     {}
func (Struct) fieldType()    {}

func (p Primitive) String() string { return p.Kind.String() }
func (a Array) String() string     { return a.Elem.String() + "[]" }
func (s Struct) String() string    { return "struct:" + s.Name }

// ParseType converts an NT4 or WPILOG type string into a FieldType.
// An empty string yields nil. Unrecognized names are treated as raw bytes,
// with "proto:" names mapped to protobuf.
func ParseType(s string) FieldType {
	if s == "" {
		return nil
	}
	if elem, ok := strings.CutSuffix(s, "[]"); ok {
		if t := ParseType(elem); t != nil {
			return Array{Elem: t}
		}
		return nil
	}
	if name, ok := strings.CutPrefix(s, "struct:"); ok && name != "" {
		return Struct{Name: name}
	}
	if k, ok := kindsByName[s]; ok {
		return Primitive{Kind: k}
	}
	if strings.HasPrefix(s, "proto:") {
		return Primitive{Kind: KindProtobuf}
	}
	return Primitive{Kind: KindRaw}
}

// TypeString renders t, or "" for nil.
func TypeString(t FieldType) string {
	if t == nil {
		return ""
	}
	return t.String()
}

// structBacked returns the pattern name when t stores raw struct bytes,
// either one struct or a packed array of them.
func structBacked(t FieldType) (name string, isArray bool, ok bool) {
	switch v := t.(type) {
	case Struct:
		return v.Name, false, true
	case Array:
		if s, isStruct := v.Elem.(Struct); isStruct {
			return s.Name, true, true
		}
	}
	return "", false, false
}

// memberType maps a schema field onto the type of its derived child field.
func memberType(f structschema.Field) FieldType {
	if f.IsStruct() {
		if f.IsArray() {
			return Array{Elem: Struct{Name: f.StructName}}
		}
		return Struct{Name: f.StructName}
	}

	var elem FieldType
	switch {
	case f.Enum != nil, f.Primitive == structschema.Char:
		if f.Primitive == structschema.Char && f.IsArray() {
			return Primitive{Kind: KindString}
		}
		elem = Primitive{Kind: KindString}
	case f.Primitive == structschema.Bool:
		elem = Primitive{Kind: KindBoolean}
	case f.Primitive == structschema.Float32:
		elem = Primitive{Kind: KindFloat}
	case f.Primitive == structschema.Float64:
		elem = Primitive{Kind: KindDouble}
	default:
		elem = Primitive{Kind: KindInt}
	}

	if f.IsArray() {
		return Array{Elem: elem}
	}
	return elem
}
