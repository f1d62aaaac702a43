package nt4

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/ntscope/errors"
)

// Binary value type indices.
const (
	TypeBoolean      = 0
	TypeDouble       = 1
	TypeInt          = 2
	TypeFloat        = 3
	TypeString       = 4
	TypeRaw          = 5
	TypeBooleanArray = 16
	TypeDoubleArray  = 17
	TypeIntArray     = 18
	TypeFloatArray   = 19
	TypeStringArray  = 20
)

// timeSyncID is the topic id reserved for clock synchronization frames.
const timeSyncID = -1

// TypeIndex maps a topic type string to its binary type index. Anything
// that is not a known primitive travels as raw bytes.
func TypeIndex(typ string) int {
	switch typ {
	case "boolean":
		return TypeBoolean
	case "double":
		return TypeDouble
	case "int":
		return TypeInt
	case "float":
		return TypeFloat
	case "string", "json":
		return TypeString
	case "boolean[]":
		return TypeBooleanArray
	case "double[]":
		return TypeDoubleArray
	case "int[]":
		return TypeIntArray
	case "float[]":
		return TypeFloatArray
	case "string[]":
		return TypeStringArray
	default:
		return TypeRaw
	}
}

// Properties are the free-form topic properties ("persistent", "retained", ...).
type Properties map[string]any

// Topic is a server-announced or locally published topic.
type Topic struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	ID         int64      `json:"id"`
	PubUID     int64      `json:"pubuid,omitempty"`
	Properties Properties `json:"properties"`
}

func (t Topic) clone() Topic {
	t.Properties = cloneProperties(t.Properties)
	return t
}

func cloneProperties(p Properties) Properties {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// SubscriptionOptions tune what the server sends for a subscription.
type SubscriptionOptions struct {
	// Periodic is the sample period in seconds; zero leaves the server default
	Periodic float64 `json:"periodic,omitempty"`
	// All requests every sample rather than only the latest per period
	All bool `json:"all,omitempty"`
	// TopicsOnly requests announcements without values
	TopicsOnly bool `json:"topicsonly,omitempty"`
	// Prefix matches topic names by prefix
	Prefix bool `json:"prefix,omitempty"`
}

// Subscription is a request for announcements and values of matching topics.
type Subscription struct {
	UID     int64               `json:"subuid"`
	Topics  []string            `json:"topics"`
	Options SubscriptionOptions `json:"options"`
}

// Text channel methods.
const (
	methodAnnounce      = "announce"
	methodUnannounce    = "unannounce"
	methodProperties    = "properties"
	methodPublish       = "publish"
	methodUnpublish     = "unpublish"
	methodSetProperties = "setproperties"
	methodSubscribe     = "subscribe"
	methodUnsubscribe   = "unsubscribe"
)

type textMessage struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type announceParams struct {
	Name       string     `json:"name"`
	ID         int64      `json:"id"`
	Type       string     `json:"type"`
	PubUID     *int64     `json:"pubuid,omitempty"`
	Properties Properties `json:"properties"`
}

type unannounceParams struct {
	Name string `json:"name"`
	ID   int64  `json:"id"`
}

// decodeAnnounce unmarshals announce params. name, id and type are
// required.
func decodeAnnounce(raw json.RawMessage) (announceParams, error) {
	var wire struct {
		Name       *string    `json:"name"`
		ID         *int64     `json:"id"`
		Type       *string    `json:"type"`
		PubUID     *int64     `json:"pubuid"`
		Properties Properties `json:"properties"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return announceParams{}, fmt.Errorf("%w: announce: %v", errors.ErrMalformedFrame, err)
	}
	switch {
	case wire.Name == nil:
		return announceParams{}, fmt.Errorf("%w: announce without name", errors.ErrMalformedFrame)
	case wire.ID == nil:
		return announceParams{}, fmt.Errorf("%w: announce without id", errors.ErrMalformedFrame)
	case wire.Type == nil:
		return announceParams{}, fmt.Errorf("%w: announce without type", errors.ErrMalformedFrame)
	}
	return announceParams{
		Name:       *wire.Name,
		ID:         *wire.ID,
		Type:       *wire.Type,
		PubUID:     wire.PubUID,
		Properties: wire.Properties,
	}, nil
}

// decodeUnannounce unmarshals unannounce params. id is required.
func decodeUnannounce(raw json.RawMessage) (unannounceParams, error) {
	var wire struct {
		Name string `json:"name"`
		ID   *int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return unannounceParams{}, fmt.Errorf("%w: unannounce: %v", errors.ErrMalformedFrame, err)
	}
	if wire.ID == nil {
		return unannounceParams{}, fmt.Errorf("%w: unannounce without id", errors.ErrMalformedFrame)
	}
	return unannounceParams{Name: wire.Name, ID: *wire.ID}, nil
}

type propertiesParams struct {
	Name   string     `json:"name"`
	Ack    bool       `json:"ack,omitempty"`
	Update Properties `json:"update"`
}

type publishParams struct {
	Name       string     `json:"name"`
	PubUID     int64      `json:"pubuid"`
	Type       string     `json:"type"`
	Properties Properties `json:"properties"`
}

type unpublishParams struct {
	PubUID int64 `json:"pubuid"`
}

type unsubscribeParams struct {
	SubUID int64 `json:"subuid"`
}

// encodeText renders one outgoing message as a text frame.
func encodeText(method string, params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "nt4", "encodeText", "marshal "+method+" params")
	}
	data, err := json.Marshal([]textMessage{{Method: method, Params: raw}})
	if err != nil {
		return nil, errors.Wrap(err, "nt4", "encodeText", "marshal "+method)
	}
	return data, nil
}

// decodeText splits a text frame into its messages.
func decodeText(data []byte) ([]textMessage, error) {
	var msgs []textMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err)
	}
	return msgs, nil
}

// sample is one decoded binary message.
type sample struct {
	ID        int64
	Timestamp int64
	TypeIndex int
	Value     any
}

// encodeSample renders [id, timestamp, type, value] as one msgpack array.
func encodeSample(s sample) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(4); err != nil {
		return nil, err
	}
	if err := enc.EncodeInt(s.ID); err != nil {
		return nil, err
	}
	if err := enc.EncodeInt(s.Timestamp); err != nil {
		return nil, err
	}
	if err := enc.EncodeInt(int64(s.TypeIndex)); err != nil {
		return nil, err
	}
	if err := enc.Encode(s.Value); err != nil {
		return nil, errors.Wrap(err, "nt4", "encodeSample", "encode value")
	}
	return buf.Bytes(), nil
}

// decodeSamples reads every msgpack array in a binary frame. A value that
// does not match its type index drops that sample only; a broken array
// header, id or timestamp ends the frame since the stream cannot be
// resynced. Every dropped sample contributes one error.
func decodeSamples(data []byte) ([]sample, []error) {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	var (
		out  []sample
		errs []error
	)
	for r.Len() > 0 {
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return out, append(errs, fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err))
		}
		if n != 4 {
			return out, append(errs, fmt.Errorf("%w: array of %d elements", errors.ErrMalformedFrame, n))
		}

		var s sample
		if s.ID, err = dec.DecodeInt64(); err != nil {
			return out, append(errs, fmt.Errorf("%w: id: %v", errors.ErrMalformedFrame, err))
		}
		if s.Timestamp, err = dec.DecodeInt64(); err != nil {
			return out, append(errs, fmt.Errorf("%w: timestamp: %v", errors.ErrMalformedFrame, err))
		}
		if s.TypeIndex, err = dec.DecodeInt(); err != nil {
			return out, append(errs, fmt.Errorf("%w: type: %v", errors.ErrMalformedFrame, err))
		}
		raw, err := dec.DecodeInterface()
		if err != nil {
			return out, append(errs, fmt.Errorf("%w: value: %v", errors.ErrMalformedFrame, err))
		}
		if s.Value, err = normalize(s.TypeIndex, raw); err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, s)
	}
	return out, errs
}

// normalize converts a decoded msgpack value to the canonical Go type of
// its type index.
func normalize(typeIndex int, v any) (any, error) {
	switch typeIndex {
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeDouble:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case TypeInt:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case TypeFloat:
		if f, ok := toFloat64(v); ok {
			return float32(f), nil
		}
	case TypeString:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case TypeRaw:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	case TypeBooleanArray:
		return normalizeArray(v, func(x any) (bool, bool) { b, ok := x.(bool); return b, ok })
	case TypeDoubleArray:
		return normalizeArray(v, toFloat64)
	case TypeIntArray:
		return normalizeArray(v, toInt64)
	case TypeFloatArray:
		return normalizeArray(v, func(x any) (float32, bool) { f, ok := toFloat64(x); return float32(f), ok })
	case TypeStringArray:
		return normalizeArray(v, func(x any) (string, bool) { s, ok := x.(string); return s, ok })
	default:
		return nil, fmt.Errorf("%w: type index %d", errors.ErrUnknownType, typeIndex)
	}
	return nil, fmt.Errorf("%w: %T for type index %d", errors.ErrMalformedFrame, v, typeIndex)
}

func normalizeArray[T any](v any, conv func(any) (T, bool)) (any, error) {
	items, ok := v.([]any)
	if !ok {
		if v == nil {
			return []T{}, nil
		}
		return nil, fmt.Errorf("%w: %T is not an array", errors.ErrMalformedFrame, v)
	}
	out := make([]T, len(items))
	for i, item := range items {
		if out[i], ok = conv(item); !ok {
			return nil, fmt.Errorf("%w: element %d is %T", errors.ErrMalformedFrame, i, item)
		}
	}
	return out, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint:
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	default:
		n, ok := toInt64(v)
		return float64(n), ok
	}
}
