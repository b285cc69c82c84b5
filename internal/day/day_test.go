package day

import (
	"errors"
	"testing"
	"time"
)

func TestParse_Valid(t *testing.T) {
	got, err := Parse("2025-08-15")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(expected) {
		t.Errorf("expected %v, got %v", expected, got)
	}
}

func TestParse_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"2025-8-15",
		"20250815",
		"2025/08/15",
		"2025-13-01", // no month 13
		"2025-02-30", // no Feb 30
		" 2025-08-15",
	}
	for _, s := range tests {
		_, err := Parse(s)
		if !errors.Is(err, ErrInvalidDay) {
			t.Errorf("expected ErrInvalidDay for %q, got %v", s, err)
		}
	}
}

func TestOf_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	ts := time.Date(2025, 8, 15, 22, 0, 0, 0, loc) // 03:00 next day UTC
	if got := Of(ts); got != "2025-08-16" {
		t.Errorf("expected 2025-08-16, got %s", got)
	}
}

func TestNewRange_Reversed(t *testing.T) {
	_, err := NewRange("2025-08-20", "2025-08-10")
	if !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}

func TestRange_ContainsInclusive(t *testing.T) {
	r, err := NewRange("2025-08-10", "2025-08-20")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range []string{"2025-08-10", "2025-08-15", "2025-08-20"} {
		if !r.Contains(s) {
			t.Errorf("expected %s within range", s)
		}
	}
	for _, s := range []string{"2025-08-09", "2025-08-21"} {
		if r.Contains(s) {
			t.Errorf("expected %s outside range", s)
		}
	}
}

func TestRange_OpenBounds(t *testing.T) {
	r, err := NewRange("", "2025-08-20")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Contains("1999-01-01") {
		t.Error("open lower bound should accept any earlier day")
	}
	if (Range{}).Contains("2025-08-21") == false {
		t.Error("zero range should accept everything")
	}
}
