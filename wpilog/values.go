package wpilog

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/c360/ntscope/errors"
	"github.com/c360/ntscope/fieldstore"
)

// FieldType maps a log entry type onto the store type. Logs spell integers
// "int64"; everything the store does not know becomes raw.
func FieldType(logType string) fieldstore.FieldType {
	switch logType {
	case "int64":
		return fieldstore.ParseType("int")
	case "int64[]":
		return fieldstore.ParseType("int[]")
	}
	return fieldstore.ParseType(logType)
}

// DecodeValue converts a record payload into the Go value stored for its
// entry type.
func DecodeValue(logType string, payload []byte) (any, error) {
	switch logType {
	case "boolean":
		if len(payload) < 1 {
			return nil, short(logType, payload)
		}
		return payload[0] != 0, nil
	case "int64", "int":
		if len(payload) < 8 {
			return nil, short(logType, payload)
		}
		return int64(binary.LittleEndian.Uint64(payload)), nil
	case "float":
		if len(payload) < 4 {
			return nil, short(logType, payload)
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(payload)), nil
	case "double":
		if len(payload) < 8 {
			return nil, short(logType, payload)
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(payload)), nil
	case "string", "json":
		return string(payload), nil
	case "boolean[]":
		out := make([]bool, len(payload))
		for i, b := range payload {
			out[i] = b != 0
		}
		return out, nil
	case "int64[]", "int[]":
		return fixedArray(logType, payload, 8, func(b []byte) int64 {
			return int64(binary.LittleEndian.Uint64(b))
		})
	case "float[]":
		return fixedArray(logType, payload, 4, func(b []byte) float32 {
			return math.Float32frombits(binary.LittleEndian.Uint32(b))
		})
	case "double[]":
		return fixedArray(logType, payload, 8, func(b []byte) float64 {
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		})
	case "string[]":
		return stringArray(payload)
	}

	// raw, msgpack, protobuf, struct and schema payloads keep their bytes
	return append([]byte(nil), payload...), nil
}

func fixedArray[T any](logType string, payload []byte, width int, conv func([]byte) T) (any, error) {
	if len(payload)%width != 0 {
		return nil, short(logType, payload)
	}
	out := make([]T, len(payload)/width)
	for i := range out {
		out[i] = conv(payload[i*width:])
	}
	return out, nil
}

func stringArray(payload []byte) (any, error) {
	if len(payload) < 4 {
		return nil, short("string[]", payload)
	}
	n := binary.LittleEndian.Uint32(payload)
	p := payload[4:]
	// every element needs at least its length prefix
	if uint64(n)*4 > uint64(len(p)) {
		return nil, short("string[]", payload)
	}

	out := make([]string, n)
	var err error
	for i := range out {
		if out[i], p, err = readString(p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func short(logType string, payload []byte) error {
	return fmt.Errorf("%w: %d bytes for %s", errors.ErrDataTruncated, len(payload), logType)
}
