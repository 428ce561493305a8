package entitymodel

import (
	"testing"
	"time"
)

func TestDecodeBoolAcceptsStoredShapes(t *testing.T) {
	cases := []struct {
		in   any
		want bool
	}{
		{int64(1), true},
		{int64(0), false},
		{"1", true},
		{"0", false},
		{"true", true},
		{"FALSE", false},
		{[]byte("1"), true},
		{float64(2), true},
		{nil, false},
		{true, true},
	}
	for _, tc := range cases {
		got, err := DecodeValue(KindBool, tc.in)
		if err != nil {
			t.Fatalf("decode %#v: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("decode %#v = %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, err := DecodeValue(KindBool, "maybe"); err == nil {
		t.Fatalf("expected error for non-boolean text")
	}
}

func TestEncodeBoolStoresIntegers(t *testing.T) {
	v, err := EncodeValue(KindBool, true)
	if err != nil || v != int64(1) {
		t.Fatalf("encode true = %#v %v", v, err)
	}
	v, _ = EncodeValue(KindBool, false)
	if v != int64(0) {
		t.Fatalf("encode false = %#v", v)
	}
}

func TestJSONColumns(t *testing.T) {
	enc, err := EncodeValue(KindJSON, map[string]any{"a": float64(1)})
	if err != nil || enc != `{"a":1}` {
		t.Fatalf("encode = %#v %v", enc, err)
	}
	dec, err := DecodeValue(KindJSON, enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m := dec.(map[string]any); m["a"] != float64(1) {
		t.Fatalf("decoded %v", m)
	}
	for _, empty := range []any{nil, "", "null", []byte("  ")} {
		v, err := DecodeValue(KindJSON, empty)
		if err != nil || v.(map[string]any) != nil {
			t.Fatalf("decode %#v = %#v %v", empty, v, err)
		}
	}
	if _, err := DecodeValue(KindJSON, "[1,2]"); err == nil {
		t.Fatalf("expected error for non-object json")
	}
	if _, err := DecodeValue(KindJSON, "{broken"); err == nil {
		t.Fatalf("expected error for malformed json")
	}
	if v, _ := EncodeValue(KindJSON, nil); v != nil {
		t.Fatalf("nil map should store NULL, got %#v", v)
	}
}

func TestTimeColumns(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 123, time.FixedZone("x", 3600))
	enc, err := EncodeValue(KindTime, ts)
	if err != nil || enc != "2024-05-06T06:08:09.000000123Z" {
		t.Fatalf("encode = %#v %v", enc, err)
	}
	for _, in := range []any{enc, "2024-05-06 06:08:09.000000123"} {
		dec, err := DecodeValue(KindTime, in)
		if err != nil || !dec.(time.Time).Equal(ts) {
			t.Fatalf("decode %#v = %v %v", in, dec, err)
		}
	}
	dec, err := DecodeValue(KindTime, int64(1700000000))
	if err != nil || dec.(time.Time).Unix() != 1700000000 {
		t.Fatalf("unix seconds: %v %v", dec, err)
	}
	if _, err := DecodeValue(KindTime, "yesterday"); err == nil {
		t.Fatalf("expected parse error")
	}
	if v, _ := EncodeValue(KindTime, time.Time{}); v != nil {
		t.Fatalf("zero time should store NULL, got %#v", v)
	}
}

func TestTextColumns(t *testing.T) {
	if v, _ := DecodeValue(KindText, nil); v.(*string) != nil {
		t.Fatalf("NULL should decode to nil pointer")
	}
	v, _ := DecodeValue(KindText, int64(42))
	if *v.(*string) != "42" {
		t.Fatalf("int text = %v", *v.(*string))
	}
	var missing *string
	if enc, _ := EncodeValue(KindText, missing); enc != nil {
		t.Fatalf("nil pointer should store NULL, got %#v", enc)
	}
	r := Record{"a": "plain", "b": &[]string{"ptr"}[0]}
	if r.Text("a") != "plain" || r.Text("b") != "ptr" || r.TextPtr("c") != nil {
		t.Fatalf("record text accessors: %v", r)
	}
}
