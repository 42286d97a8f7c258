package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// Serializer names accepted in Config.Serializer.
const (
	SerializerJSON    = "json"
	SerializerMsgpack = "msgpack"
)

// Codec converts values to and from the remote store's wire form.
type Codec interface {
	Name() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte) (interface{}, error)
}

// NewCodec returns the codec registered under name. Empty selects JSON.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", SerializerJSON:
		return JSONCodec{}, nil
	case SerializerMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown serializer: %s", name)
	}
}

// JSONCodec encodes values as JSON. Integral numbers decode as int64.
type JSONCodec struct{}

func (JSONCodec) Name() string { return SerializerJSON }

func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return normalizeJSON(v), nil
}

func normalizeJSON(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		for k, item := range t {
			t[k] = normalizeJSON(item)
		}
		return t
	case []interface{}:
		for i, item := range t {
			t[i] = normalizeJSON(item)
		}
		return t
	default:
		return v
	}
}

// MsgpackCodec encodes values with MessagePack. Integers decode as int64.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return SerializerMsgpack }

func (MsgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unmarshal rejects input with bytes left after the first value, otherwise a
// plain string such as "hello" would decode as the fixint 'h'.
func (MsgpackCodec) Unmarshal(data []byte) (interface{}, error) {
	r := bytes.NewReader(data)
	var v interface{}
	if err := msgpack.NewDecoder(r).Decode(&v); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("msgpack: %d trailing bytes after value", r.Len())
	}
	return normalizeMsgpack(v), nil
}

func normalizeMsgpack(v interface{}) interface{} {
	if n, ok := toInt64(v); ok {
		return n
	}
	switch t := v.(type) {
	case map[string]interface{}:
		for k, item := range t {
			t[k] = normalizeMsgpack(item)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = normalizeMsgpack(item)
		}
		return out
	case []interface{}:
		for i, item := range t {
			t[i] = normalizeMsgpack(item)
		}
		return t
	default:
		return v
	}
}

// encodeValue produces the stored form of v. Integers are written as decimal
// text so the store's native counters can operate on them, and byte slices
// are stored as is.
func encodeValue(codec Codec, v interface{}) ([]byte, error) {
	if n, ok := toInt64(v); ok {
		return strconv.AppendInt(nil, n, 10), nil
	}
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	return codec.Marshal(v)
}

// decodeValue reverses encodeValue. Payloads the codec cannot read are
// returned as the raw string rather than failing the read.
func decodeValue(codec Codec, raw []byte) interface{} {
	if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		return n
	}
	v, err := codec.Unmarshal(raw)
	if err != nil {
		return string(raw)
	}
	return v
}
