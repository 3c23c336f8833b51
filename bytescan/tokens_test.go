package bytescan

import (
	"math"
	"testing"
)

func TestMatchesASCII_Bounds(t *testing.T) {
	b := []byte("/Width 10")
	if !matchesASCII(b, 0, "/Width") {
		t.Fatalf("expected match at offset 0")
	}
	if matchesASCII(b, 1, "/Width") {
		t.Fatalf("unexpected match at offset 1")
	}
	if matchesASCII(b, -1, "/Width") {
		t.Fatalf("unexpected match at negative offset")
	}
	if matchesASCII(b, len(b)-3, "/Width") {
		t.Fatalf("unexpected match running past the buffer")
	}
	if !matchesASCII(b, 7, "10") {
		t.Fatalf("expected match at tail")
	}
}

func TestSkipWhitespace_AllClasses(t *testing.T) {
	b := []byte("\x00\t\n\f\r X")
	if got := skipWhitespace(b, 0, len(b)); got != 6 {
		t.Fatalf("expected skip to 6, got %d", got)
	}
	if got := skipWhitespace(b, 0, 3); got != 3 {
		t.Fatalf("expected cap at end 3, got %d", got)
	}
	if got := skipWhitespace(b, 6, len(b)); got != 6 {
		t.Fatalf("expected no movement on non-whitespace, got %d", got)
	}
}

func TestParseDirectPositiveInteger(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int64
		ok   bool
	}{
		{"plain", " 42 ", 42, true},
		{"delimiter terminator", "42>>", 42, true},
		{"name terminator", "42/Height", 42, true},
		{"buffer end terminator", "42", 42, true},
		{"leading zeros", "0042 ", 42, true},
		{"max int64", "9223372036854775807 ", math.MaxInt64, true},
		{"two plain numbers", "7 8 ", 7, true},
		{"no digits", " abc", 0, false},
		{"empty", "", 0, false},
		{"zero", "0 ", 0, false},
		{"bad terminator", "42x", 0, false},
		{"overflow", "9223372036854775808 ", 0, false},
		{"indirect ref", "7 0 R", 0, false},
		{"indirect ref spread", "7 \r\n 0 \t R", 0, false},
		{"indirect ref then name", "7 0 R/Next", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseDirectPositiveInteger([]byte(tc.in), 0, len(tc.in))
			if ok != tc.ok || got != tc.want {
				t.Fatalf("parse %q = (%d, %v), want (%d, %v)", tc.in, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestParseDirectPositiveInteger_WindowEnd(t *testing.T) {
	// Digits beyond end must not participate.
	b := []byte("12345")
	got, ok := parseDirectPositiveInteger(b, 0, 3)
	if !ok || got != 123 {
		t.Fatalf("expected (123, true) within window, got (%d, %v)", got, ok)
	}
	// The ref probe must not look past end either.
	b = []byte("7 0 R")
	if got, ok := parseDirectPositiveInteger(b, 0, 2); !ok || got != 7 {
		t.Fatalf("expected (7, true) with ref outside window, got (%d, %v)", got, ok)
	}
}

func TestFindSequences_WindowBounds(t *testing.T) {
	b := []byte("<< /Subtype /Image >>")
	if got := findLastSequence(b, '<', '<', 10, 0); got != 0 {
		t.Fatalf("expected dict start at 0, got %d", got)
	}
	if got := findLastSequence(b, '<', '<', 10, 1); got != -1 {
		t.Fatalf("expected miss below lower bound, got %d", got)
	}
	if got := findNextSequence(b, '>', '>', 0, len(b)); got != 19 {
		t.Fatalf("expected dict end at 19, got %d", got)
	}
	if got := findNextSequence(b, '>', '>', 0, 19); got != -1 {
		t.Fatalf("expected miss above upper bound, got %d", got)
	}
	if got := findToken(b, "/Image", 0, len(b)); got != 12 {
		t.Fatalf("expected token at 12, got %d", got)
	}
	if got := findToken(b, "/Image", 0, 12); got != -1 {
		t.Fatalf("expected bounded token miss, got %d", got)
	}
}

func TestCheckedPixelMath(t *testing.T) {
	if _, ok := mulPixels(math.MaxInt64, 2); ok {
		t.Fatalf("expected multiply overflow")
	}
	if got, ok := mulPixels(0, math.MaxInt64); !ok || got != 0 {
		t.Fatalf("expected zero product, got (%d, %v)", got, ok)
	}
	if got, ok := mulPixels(100, 100); !ok || got != 10000 {
		t.Fatalf("expected 10000, got (%d, %v)", got, ok)
	}
	if _, ok := addPixels(math.MaxInt64, 1); ok {
		t.Fatalf("expected add overflow")
	}
	if got, ok := addPixels(math.MaxInt64-1, 1); !ok || got != math.MaxInt64 {
		t.Fatalf("expected max int64 sum, got (%d, %v)", got, ok)
	}
}
