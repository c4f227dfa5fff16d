package store

import (
	"testing"
	"time"
)

func TestWindowForToday(t *testing.T) {
	now := time.Date(2026, 7, 30, 14, 30, 0, 0, time.UTC)
	start, end := windowFor(PeriodToday, now)
	if start.Hour() != 0 || start.Day() != 30 {
		t.Fatalf("expected start of day 30, got %v", start)
	}
	if end.Day() != 31 {
		t.Fatalf("expected end on day 31, got %v", end)
	}
}

func TestWindowForWeek(t *testing.T) {
	now := time.Date(2026, 7, 30, 14, 30, 0, 0, time.UTC)
	start, end := windowFor(PeriodWeek, now)
	if now.Sub(start) < 7*24*time.Hour {
		t.Fatalf("expected week window to span at least 7 days, got start %v", start)
	}
	if end.Before(now) {
		t.Fatalf("expected window end to cover now, got end %v", end)
	}
}

func TestWindowForYesterday(t *testing.T) {
	now := time.Date(2026, 7, 30, 14, 30, 0, 0, time.UTC)
	start, end := windowFor(PeriodYesterday, now)
	if start.Day() != 29 || end.Day() != 30 {
		t.Fatalf("expected [29,30) window, got [%v,%v)", start, end)
	}
}
