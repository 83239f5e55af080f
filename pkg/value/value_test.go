package value

import "testing"

func TestEqualNaN(t *testing.T) {
	nan := Number(nanValue())
	if Equal(nan, nan) {
		t.Fatalf("NaN must never equal NaN")
	}
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}

func TestStripPrivateNested(t *testing.T) {
	obj := NewObject()
	obj.Set("count", Number(1))
	obj.Set("_secret", String("x"))
	inner := NewObject()
	inner.Set("pos", Array(Number(0), Number(0)))
	inner.Set("_hidden", Bool(true))
	obj.Set("entity", ObjectValue(inner))

	out := StripPrivate(ObjectValue(obj))
	o := out.Object()
	if _, ok := o.Get("_secret"); ok {
		t.Fatalf("private key leaked at root")
	}
	entity, ok := o.Get("entity")
	if !ok {
		t.Fatalf("missing entity")
	}
	if _, ok := entity.Object().Get("_hidden"); ok {
		t.Fatalf("private key leaked in nested object")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	obj := NewObject()
	obj.Set("name", String("room1"))
	obj.Set("count", Number(42))
	obj.Set("tags", Array(String("a"), String("b")))
	obj.Set("blob", Bytes([]byte{1, 2, 3}))
	v := ObjectValue(obj)

	data, err := v.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Value
	if err := decoded.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !Equal(v, decoded) {
		t.Fatalf("round trip mismatch: %v vs %v", v, decoded)
	}
}

func TestObjectKeyOrderPreserved(t *testing.T) {
	obj := NewObject()
	obj.Set("z", Number(1))
	obj.Set("a", Number(2))
	obj.Set("m", Number(3))
	keys := obj.Keys()
	want := []string{"z", "a", "m"}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("key order mismatch at %d: got %s want %s", i, keys[i], k)
		}
	}
}
