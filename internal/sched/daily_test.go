package sched

import (
	"testing"
	"time"
)

func TestNext(t *testing.T) {
	d := NewDaily(0, "UTC")

	// Before midnight: today's occurrence already passed, next is tomorrow.
	after := time.Date(2026, 8, 5, 14, 30, 0, 0, time.UTC)
	next := d.Next(after)
	want := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%s) = %s, want %s", after, next, want)
	}

	// Just before the hour: same day.
	d = NewDaily(23, "UTC")
	next = d.Next(after)
	want = time.Date(2026, 8, 5, 23, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%s) = %s, want %s", after, next, want)
	}

	// Exactly on the occurrence: strictly after means tomorrow.
	at := time.Date(2026, 8, 5, 23, 0, 0, 0, time.UTC)
	next = d.Next(at)
	want = time.Date(2026, 8, 6, 23, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(on occurrence) = %s, want %s", next, want)
	}
}

func TestUnknownTimezoneFallsBack(t *testing.T) {
	d := NewDaily(6, "No/Such_Zone")
	after := time.Date(2026, 8, 5, 3, 0, 0, 0, time.UTC)
	next := d.Next(after)
	want := time.Date(2026, 8, 5, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %s, want UTC fallback %s", next, want)
	}
}
