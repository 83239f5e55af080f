package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes a Value as standard JSON. Byte buffers are encoded
// as base64 strings prefixed with "base64:" so the JSON wire form stays
// self-describing without a schema.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		if v.bval {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindNumber:
		return json.Marshal(v.nval)
	case KindString:
		return json.Marshal(v.sval)
	case KindBytes:
		return json.Marshal("base64:" + base64.StdEncoding.EncodeToString(v.bytes))
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindObject:
		var buf bytes.Buffer
		buf.WriteByte('{')
		first := true
		for _, k := range v.fields.Keys() {
			fv, _ := v.fields.Get(k)
			if !first {
				buf.WriteByte(',')
			}
			first = false
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := fv.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON decodes standard JSON into a Value, preserving object key
// order as it appears on the wire.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	out, err := decodeJSONValue(dec)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func decodeJSONValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	return decodeJSONToken(dec, tok)
}

func decodeJSONToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case string:
		if rest, ok := trimBase64Prefix(t); ok {
			raw, err := base64.StdEncoding.DecodeString(rest)
			if err == nil {
				return Bytes(raw), nil
			}
		}
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			var items []Value
			for dec.More() {
				item, err := decodeJSONValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return Value{}, err
			}
			return Array(items...), nil
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("value: expected object key, got %v", keyTok)
				}
				fv, err := decodeJSONValue(dec)
				if err != nil {
					return Value{}, err
				}
				obj.Set(key, fv)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return Value{}, err
			}
			return ObjectValue(obj), nil
		}
	}
	return Value{}, fmt.Errorf("value: unexpected token %v", tok)
}

func trimBase64Prefix(s string) (string, bool) {
	const prefix = "base64:"
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return "", false
}
