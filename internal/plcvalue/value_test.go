package plcvalue

import (
	"encoding/json"
	"testing"
)

func TestZeroValueIsNull(t *testing.T) {
	var v Value
	if !v.IsNull() {
		t.Fatalf("zero Value should be Null, got %s", v.Type())
	}
}

func TestVariantEqualitySensitivity(t *testing.T) {
	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null==null", Null(), Null(), true},
		{"str==str same", String("a"), String("a"), true},
		{"str==str diff", String("a"), String("b"), false},
		{"int==int same", Integer(7), Integer(7), true},
		{"int==int diff", Integer(7), Integer(8), false},
		{"bool==bool same", Boolean(true), Boolean(true), true},
		{"bool==bool diff", Boolean(true), Boolean(false), false},
		{"str vs int never equal", String("7"), Integer(7), false},
		{"int vs bool never equal", Integer(0), Boolean(false), false},
		{"null vs str never equal", Null(), String(""), false},
		{"null vs int never equal", Null(), Integer(0), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.a.Equal(c.b); got != c.want {
				t.Errorf("Equal() = %v, want %v", got, c.want)
			}
			if got := c.a.NotEqual(c.b); got == c.want {
				t.Errorf("NotEqual() = %v, want %v", got, !c.want)
			}
		})
	}
}

func TestTypedGettersReturnNeutralDefaultOnMismatch(t *testing.T) {
	i := Integer(42)
	if got := i.GetString(); got != "" {
		t.Errorf("GetString on Int variant = %q, want empty", got)
	}
	if got := i.GetBoolean(); got != false {
		t.Errorf("GetBoolean on Int variant = %v, want false", got)
	}
	if got := i.GetInteger(); got != 42 {
		t.Errorf("GetInteger = %v, want 42", got)
	}

	s := String("hi")
	if got := s.GetInteger(); got != 0 {
		t.Errorf("GetInteger on Str variant = %v, want 0", got)
	}
}

func TestSettersRewriteVariant(t *testing.T) {
	var v Value
	v.SetString("x")
	if !v.IsString() || v.GetString() != "x" {
		t.Fatalf("SetString failed: %+v", v)
	}
	v.SetInteger(5)
	if !v.IsInteger() || v.GetInteger() != 5 {
		t.Fatalf("SetInteger failed: %+v", v)
	}
	v.SetBoolean(true)
	if !v.IsBoolean() || v.GetBoolean() != true {
		t.Fatalf("SetBoolean failed: %+v", v)
	}
	v.SetNull()
	if !v.IsNull() {
		t.Fatalf("SetNull failed: %+v", v)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	cases := []Value{Null(), String("hello"), Integer(-13), Boolean(true), Boolean(false)}
	for _, v := range cases {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("Marshal(%+v): %v", v, err)
		}
		var got Value
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if !got.Equal(v) {
			t.Errorf("round trip %+v -> %s -> %+v", v, data, got)
		}
	}
}

func TestJSONDecodePrecedence(t *testing.T) {
	cases := []struct {
		json string
		want Value
	}{
		{`"text"`, String("text")},
		{`true`, Boolean(true)},
		{`false`, Boolean(false)},
		{`42`, Integer(42)},
		{`-7`, Integer(-7)},
		{`null`, Null()},
		{`3.9`, Null()}, // non-integer JSON numbers are not integers, so decode to Null
		{`{"nested":true}`, Null()},
		{`[1,2,3]`, Null()},
	}
	for _, c := range cases {
		var got Value
		if err := json.Unmarshal([]byte(c.json), &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", c.json, err)
		}
		if !got.Equal(c.want) {
			t.Errorf("Unmarshal(%s) = %+v, want %+v", c.json, got, c.want)
		}
	}
}
