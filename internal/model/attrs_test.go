package model

import "testing"

func TestAttrsCloneIndependence(t *testing.T) {
	a := Attrs{"level": 1}
	b := a.Clone()
	b["level"] = 2
	if a["level"] != 1 {
		t.Fatalf("mutating clone affected original: %v", a)
	}
}

func TestAttrsWith(t *testing.T) {
	a := Attrs{"level": 1}
	b := a.With("level", 2)
	if a["level"] != 1 {
		t.Fatalf("With mutated receiver: %v", a)
	}
	if b["level"] != 2 {
		t.Fatalf("With did not set value: %v", b)
	}
}

func TestAttrsEqual(t *testing.T) {
	a := Attrs{"level": 1, "color": "red"}
	b := Attrs{"color": "red", "level": 1}
	if !a.Equal(b) {
		t.Fatal("expected equal attrs to compare equal")
	}
	c := Attrs{"level": 2, "color": "red"}
	if a.Equal(c) {
		t.Fatal("expected differing attrs to compare unequal")
	}
	d := Attrs{"level": 1}
	if a.Equal(d) {
		t.Fatal("expected differing key counts to compare unequal")
	}
}

func TestAttrsEqualNested(t *testing.T) {
	a := Attrs{"meta": map[string]interface{}{"x": 1}}
	b := Attrs{"meta": map[string]interface{}{"x": 1}}
	if !a.Equal(b) {
		t.Fatal("expected nested maps to compare equal")
	}
	c := Attrs{"meta": map[string]interface{}{"x": 2}}
	if a.Equal(c) {
		t.Fatal("expected differing nested maps to compare unequal")
	}
}
