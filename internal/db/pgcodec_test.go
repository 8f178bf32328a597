package db

import (
	"testing"
)

func TestCompositeRoundTrip(t *testing.T) {
	literal := encodeComposite([]string{"alice", "42", ""}, []bool{false, false, true})
	if literal != "(alice,42,)" {
		t.Fatalf("unexpected literal %q", literal)
	}

	attrs, err := parseComposite(literal)
	if err != nil {
		t.Fatalf("parse composite: %v", err)
	}
	if len(attrs) != 3 {
		t.Fatalf("expected 3 attributes, got %d", len(attrs))
	}
	if attrs[0] == nil || *attrs[0] != "alice" {
		t.Fatalf("attr 0 = %v", attrs[0])
	}
	if attrs[1] == nil || *attrs[1] != "42" {
		t.Fatalf("attr 1 = %v", attrs[1])
	}
	if attrs[2] != nil {
		t.Fatalf("attr 2 should be NULL, got %q", *attrs[2])
	}
}

func TestCompositeQuoting(t *testing.T) {
	literal := encodeComposite([]string{`a,b`, `say "hi"`, `back\slash`}, []bool{false, false, false})

	attrs, err := parseComposite(literal)
	if err != nil {
		t.Fatalf("parse composite %q: %v", literal, err)
	}
	want := []string{`a,b`, `say "hi"`, `back\slash`}
	for i, w := range want {
		if attrs[i] == nil || *attrs[i] != w {
			t.Fatalf("attr %d = %v, want %q", i, attrs[i], w)
		}
	}
}

func TestCompositeEmptyStringIsQuoted(t *testing.T) {
	literal := encodeComposite([]string{""}, []bool{false})
	if literal != `("")` {
		t.Fatalf("unexpected literal %q", literal)
	}
	attrs, err := parseComposite(literal)
	if err != nil {
		t.Fatalf("parse composite: %v", err)
	}
	if attrs[0] == nil || *attrs[0] != "" {
		t.Fatalf("quoted empty string must not decode to NULL")
	}
}

func TestArrayRoundTrip(t *testing.T) {
	literal := encodeArray([]string{"a", "b c", ""}, []bool{false, false, true})
	if literal != `{a,"b c",NULL}` {
		t.Fatalf("unexpected literal %q", literal)
	}

	elems, err := parseArray(literal)
	if err != nil {
		t.Fatalf("parse array: %v", err)
	}
	if len(elems) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(elems))
	}
	if elems[0] == nil || *elems[0] != "a" {
		t.Fatalf("elem 0 = %v", elems[0])
	}
	if elems[1] == nil || *elems[1] != "b c" {
		t.Fatalf("elem 1 = %v", elems[1])
	}
	if elems[2] != nil {
		t.Fatalf("elem 2 should be NULL")
	}
}

func TestArrayQuotedNullLiteralIsText(t *testing.T) {
	elems, err := parseArray(`{"NULL",NULL}`)
	if err != nil {
		t.Fatalf("parse array: %v", err)
	}
	if elems[0] == nil || *elems[0] != "NULL" {
		t.Fatalf("quoted NULL must stay text, got %v", elems[0])
	}
	if elems[1] != nil {
		t.Fatalf("bare NULL must decode to nil")
	}
}

func TestArrayOfComposites(t *testing.T) {
	elems, err := parseArray(`{"(1,x)","(2,y)"}`)
	if err != nil {
		t.Fatalf("parse array: %v", err)
	}
	if len(elems) != 2 || *elems[0] != "(1,x)" || *elems[1] != "(2,y)" {
		t.Fatalf("unexpected elements %v", elems)
	}
}

func TestEmptyArray(t *testing.T) {
	elems, err := parseArray("{}")
	if err != nil {
		t.Fatalf("parse array: %v", err)
	}
	if len(elems) != 0 {
		t.Fatalf("expected no elements, got %d", len(elems))
	}
}

func TestMalformedLiterals(t *testing.T) {
	if _, err := parseComposite("alice,42"); err == nil {
		t.Fatal("expected error for missing parens")
	}
	if _, err := parseArray("[1,2]"); err == nil {
		t.Fatal("expected error for missing braces")
	}
	if _, err := parseComposite(`("unterminated)`); err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}
