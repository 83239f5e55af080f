// Package value implements the tagged-variant tree that Document state
// and Patch operations are built from, replacing ad-hoc JSON reflection
// with an explicit, ordered representation.
package value

import (
	"bytes"
	"fmt"
	"math"
)

// Kind tags the concrete shape held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindBytes
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a JSON-compatible tree node plus a raw byte-buffer leaf kind
// the wire formats need for binary payloads embedded in document state.
type Value struct {
	kind   Kind
	bval   bool
	nval   float64
	sval   string
	bytes  []byte
	arr    []Value
	fields *Object
}

// Object is an insertion-ordered string-keyed map. Order is preserved so
// diff output and binary/JSON encoding are deterministic.
type Object struct {
	keys   []string
	values map[string]Value
}

// NewObject returns an empty ordered object.
func NewObject() *Object {
	return &Object{values: make(map[string]Value)}
}

// Set inserts or overwrites key, preserving original insertion order on
// overwrite.
func (o *Object) Set(key string, v Value) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Delete removes key if present.
func (o *Object) Delete(key string) {
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Get returns the value for key and whether it was present.
func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Keys returns keys in insertion order.
func (o *Object) Keys() []string {
	return o.keys
}

// Len returns the number of entries.
func (o *Object) Len() int {
	return len(o.keys)
}

// Clone deep-copies the object.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	c := &Object{
		keys:   append([]string(nil), o.keys...),
		values: make(map[string]Value, len(o.values)),
	}
	for k, v := range o.values {
		c.values[k] = v.Clone()
	}
	return c
}

// Constructors.

func Null() Value { return Value{kind: KindNull} }

func Bool(b bool) Value { return Value{kind: KindBool, bval: b} }

func Number(n float64) Value { return Value{kind: KindNumber, nval: n} }

func String(s string) Value { return Value{kind: KindString, sval: s} }

func Bytes(b []byte) Value {
	return Value{kind: KindBytes, bytes: append([]byte(nil), b...)}
}

func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

func ObjectValue(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, fields: o}
}

// Accessors. None checks the Kind: a mismatched accessor returns its
// type's zero value (String returns a "Value(<kind>)" placeholder), so
// callers are expected to branch on Kind() first, as the Patch Engine
// always does.

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() bool { return v.bval }

func (v Value) Number() float64 { return v.nval }

func (v Value) String() string {
	if v.kind == KindString {
		return v.sval
	}
	return fmt.Sprintf("Value(%s)", v.kind)
}

func (v Value) BytesValue() []byte { return v.bytes }

func (v Value) Array() []Value { return v.arr }

func (v Value) Object() *Object { return v.fields }

// Clone deep-copies a Value tree.
func (v Value) Clone() Value {
	switch v.kind {
	case KindBytes:
		return Bytes(v.bytes)
	case KindArray:
		items := make([]Value, len(v.arr))
		for i, item := range v.arr {
			items[i] = item.Clone()
		}
		return Value{kind: KindArray, arr: items}
	case KindObject:
		return Value{kind: KindObject, fields: v.fields.Clone()}
	default:
		return v
	}
}

// Equal reports strict structural equality. NaN never equals NaN,
// matching spec.md's diff semantics for primitives. Byte buffers compare
// element-wise.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.bval == b.bval
	case KindNumber:
		if math.IsNaN(a.nval) || math.IsNaN(b.nval) {
			return false
		}
		return a.nval == b.nval
	case KindString:
		return a.sval == b.sval
	case KindBytes:
		return bytes.Equal(a.bytes, b.bytes)
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if a.fields.Len() != b.fields.Len() {
			return false
		}
		for _, k := range a.fields.Keys() {
			av, _ := a.fields.Get(k)
			bv, ok := b.fields.Get(k)
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// IsPrivateKey reports whether an object key is private by the `_`-prefix
// convention: mutable server-side, never serialized to clients or store.
func IsPrivateKey(key string) bool {
	return len(key) > 0 && key[0] == '_'
}

// StripPrivate returns a deep clone of v with all object keys beginning
// with `_` removed at every depth.
func StripPrivate(v Value) Value {
	switch v.kind {
	case KindArray:
		items := make([]Value, len(v.arr))
		for i, item := range v.arr {
			items[i] = StripPrivate(item)
		}
		return Value{kind: KindArray, arr: items}
	case KindObject:
		out := NewObject()
		for _, k := range v.fields.Keys() {
			if IsPrivateKey(k) {
				continue
			}
			fv, _ := v.fields.Get(k)
			out.Set(k, StripPrivate(fv))
		}
		return ObjectValue(out)
	default:
		return v.Clone()
	}
}
