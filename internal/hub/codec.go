package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Codec converts between wire values and declared Go types.
type Codec interface {
	Decode(raw json.RawMessage, t reflect.Type) (reflect.Value, error)
	Encode(v any) (json.RawMessage, error)
}

type JSONCodec struct{}

func NewJSONCodec() JSONCodec {
	return JSONCodec{}
}

// Decode coerces raw into a fresh value of type t. Absent and null values
// decode to the zero value of t.
func (JSONCodec) Decode(raw json.RawMessage, t reflect.Type) (reflect.Value, error) {
	if t == nil {
		return reflect.Value{}, fmt.Errorf("decode: nil target type")
	}
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return reflect.Zero(t), nil
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("decode %s into %s: %w", raw, t, err)
	}
	return ptr.Elem(), nil
}

func (JSONCodec) Encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func encodeArguments(codec Codec, args []any) ([]json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	raw := make([]json.RawMessage, len(args))
	for i, arg := range args {
		enc, err := codec.Encode(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		if enc == nil {
			enc = json.RawMessage("null")
		}
		raw[i] = enc
	}
	return raw, nil
}

// renderArguments formats arguments for diagnostics: strings unquoted,
// null as empty, every other value as its JSON text.
func renderArguments(args []json.RawMessage) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = renderArgument(arg)
	}
	return strings.Join(parts, ", ")
}

func renderArgument(arg json.RawMessage) string {
	trimmed := bytes.TrimSpace(arg)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}
